// README: Base handler utilities (JSON envelopes, error mapping, caller and paging helpers).
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"wander/internal/apperr"
	"wander/internal/http/middleware"
	"wander/internal/types"
)

type errorResponse struct {
	Success bool        `json:"success"`
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
}

var kindStatus = map[apperr.Kind]int{
	apperr.KindValidation:   http.StatusBadRequest,
	apperr.KindNotFound:     http.StatusNotFound,
	apperr.KindForbidden:    http.StatusForbidden,
	apperr.KindInvalidState: http.StatusConflict,
	apperr.KindConflict:     http.StatusConflict,
	apperr.KindExpired:      http.StatusGone,
	apperr.KindMismatch:     http.StatusUnprocessableEntity,
	apperr.KindStaleData:    http.StatusConflict,
	apperr.KindSignature:    http.StatusBadRequest,
	apperr.KindUpstream:     http.StatusBadGateway,
	apperr.KindInternal:     http.StatusInternalServerError,
}

// StatusFor maps an error to its HTTP status and kind.
func StatusFor(err error) (int, apperr.Kind) {
	kind := apperr.KindOf(err)
	if status, ok := kindStatus[kind]; ok {
		return status, kind
	}
	return http.StatusInternalServerError, apperr.KindInternal
}

func writeOK(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func writeError(c *gin.Context, status int, kind apperr.Kind, msg string) {
	c.AbortWithStatusJSON(status, errorResponse{Kind: kind, Message: msg})
}

func badRequest(c *gin.Context, msg string) {
	writeError(c, http.StatusBadRequest, apperr.KindValidation, msg)
}

// writeAppError renders a domain error. Unclassified errors never leak their text.
func writeAppError(c *gin.Context, err error) {
	status, kind := StatusFor(err)
	msg := err.Error()
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		msg = "internal error"
	}
	if kind == apperr.KindUpstream {
		msg = ae.Msg
	}
	_ = c.Error(err)
	writeError(c, status, kind, msg)
}

func callerID(c *gin.Context) types.ID {
	return types.ID(middleware.CallerUID(c))
}

func callerRole(c *gin.Context) types.Role {
	return types.Role(middleware.CallerRole(c))
}

// isValidID accepts the uuid and provider ids used across the API.
func isValidID(v string) bool {
	if v == "" || len(v) > 128 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

// pathID reads a path parameter and rejects malformed ids.
func pathID(c *gin.Context, name string) (types.ID, bool) {
	v := c.Param(name)
	if !isValidID(v) {
		badRequest(c, "invalid "+name)
		return "", false
	}
	return types.ID(v), true
}

func paging(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "0"))
	return page, limit
}
