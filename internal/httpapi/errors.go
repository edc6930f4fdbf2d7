// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekey Contributors

package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gatekey/gatekey/internal/auth"
	"github.com/gatekey/gatekey/pkg/errutil"
)

// detailResponse is the envelope for non-field errors.
type detailResponse struct {
	Detail string `json:"detail"`
}

// fieldErrorResponse is the envelope for per-field validation errors.
type fieldErrorResponse struct {
	Errors auth.FieldErrors `json:"errors"`
}

func writeDetail(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, detailResponse{Detail: detail})
}

func writeFieldErrors(c *gin.Context, status int, fields auth.FieldErrors) {
	c.AbortWithStatusJSON(status, fieldErrorResponse{Errors: fields})
}

func writeUnauthorized(c *gin.Context) {
	writeDetail(c, http.StatusUnauthorized, "authentication required")
}

// internalError logs err and answers with the generic 500 body. Failure
// detail stays in the logs.
func (s *Server) internalError(c *gin.Context, msg string, err error) {
	errutil.LogError(s.logger, msg, err)
	writeDetail(c, http.StatusInternalServerError, "internal server error")
}
