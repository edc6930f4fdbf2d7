// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekey Contributors

package auth

import (
	"sort"
	"strings"
)

// FieldErrors maps input field names to human-readable violation messages.
// An empty message list signals a non-message-based rejection of the field.
type FieldErrors map[string][]string

// ValidationError carries structured per-field input errors across the
// service boundary. Transport layers translate it into their own payloads.
type ValidationError struct {
	Fields FieldErrors
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return "validation failed: " + strings.Join(names, ", ")
}
