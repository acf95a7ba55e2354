package httpapi

import (
	"net/http"
	"strings"

	"github.com/dmitrijs2005/casesync/internal/common"
	"github.com/dmitrijs2005/casesync/internal/server/auth"
	"github.com/gin-gonic/gin"
)

// Keys of the authenticated user in the gin context.
const (
	userIDKey   = "userID"
	userNameKey = "userName"
)

// authenticate requires a valid bearer access token.
func (h *Handler) authenticate(c *gin.Context) {
	token := bearerToken(c.GetHeader(common.AccessTokenHeaderName))
	if token == "" {
		abortStatus(c, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	claims, err := auth.ParseToken(token, h.jwtSecret)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.Set(userIDKey, claims.UserID)
	c.Set(userNameKey, claims.UserName)
	c.Next()
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func userName(c *gin.Context) string {
	return c.GetString(userNameKey)
}
