package httpapi

import (
	"errors"
	"net/http"

	"github.com/dmitrijs2005/casesync/internal/common"
	"github.com/dmitrijs2005/casesync/internal/wire"
	"github.com/gin-gonic/gin"
)

// errorKind maps a service error to its HTTP status and the short kind put
// in the status body.
func errorKind(err error) (int, string) {
	switch {
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, common.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, common.ErrFormat):
		return http.StatusBadRequest, "invalid_format"
	case errors.Is(err, common.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, common.ErrAlreadyExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, common.ErrTokenExpired), errors.Is(err, common.ErrRefreshTokenExpired):
		return http.StatusUnauthorized, "token_expired"
	case errors.Is(err, common.ErrorUnauthorized), errors.Is(err, common.ErrInvalidToken):
		return http.StatusUnauthorized, "unauthorized"
	}
	return http.StatusInternalServerError, "internal_error"
}

// fail aborts the request with the status body for err. Internal errors are
// logged and replaced by a generic description.
func (h *Handler) fail(c *gin.Context, err error) {
	code, kind := errorKind(err)
	desc := err.Error()
	if code == http.StatusInternalServerError {
		h.logger.Error(c.Request.Context(), "request failed",
			"method", c.Request.Method, "path", c.FullPath(), "error", err)
		desc = "Internal server error"
	}
	abortStatus(c, code, kind, desc)
}

func abortStatus(c *gin.Context, code int, kind, desc string) {
	c.AbortWithStatusJSON(code, wire.Status{Code: code, Error: kind, Description: desc})
}

func writeStatus(c *gin.Context, code int, desc string) {
	c.JSON(code, wire.Status{Code: code, Description: desc})
}
