package httpapi

import (
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/casesync/internal/common"
	"github.com/dmitrijs2005/casesync/internal/server/services"
	"github.com/gin-gonic/gin"
)

type tokenRequest struct {
	GrantType    string `form:"grant_type" json:"grant_type" binding:"required"`
	UserName     string `form:"username" json:"username"`
	Password     string `form:"password" json:"password"`
	RefreshToken string `form:"refresh_token" json:"refresh_token"`
}

// token implements the password and refresh_token grants.
func (h *Handler) token(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBind(&req); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", common.ErrInvalidRequest, err))
		return
	}

	var (
		pair *services.TokenPair
		err  error
	)
	switch req.GrantType {
	case "password":
		pair, err = h.svc.Users.Login(c.Request.Context(), req.UserName, req.Password)
	case "refresh_token":
		pair, err = h.svc.Users.RefreshToken(c.Request.Context(), req.RefreshToken)
	default:
		abortStatus(c, http.StatusBadRequest, "unsupported_grant_type", fmt.Sprintf("grant type %q is not supported", req.GrantType))
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, pair.Wire())
}

type createUserRequest struct {
	UserName string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) createUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", common.ErrInvalidRequest, err))
		return
	}

	u, err := h.svc.Users.CreateUser(c.Request.Context(), req.UserName, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.logger.Info(c.Request.Context(), "user created", "user", u.UserName, "by", userName(c))
	writeStatus(c, http.StatusCreated, "User created")
}
