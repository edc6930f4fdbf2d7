// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekey Contributors

package auth

import "strings"

// Password policy constraints.
const MinPasswordLength = 8

// ValidatePassword checks a candidate password against policy and returns
// human-readable violation messages keyed for the given field. An empty
// slice means the password is acceptable.
func ValidatePassword(password, username string) []string {
	var msgs []string
	if len(password) < MinPasswordLength {
		msgs = append(msgs, "This password is too short. It must contain at least 8 characters.")
	}
	if username != "" && strings.EqualFold(password, username) {
		msgs = append(msgs, "The password is too similar to the username.")
	}
	return msgs
}
