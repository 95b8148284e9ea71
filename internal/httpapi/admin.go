package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pcmid/clipchan/internal/auth"
)

// AdminHandlers exposes the bootstrap operator login: a single
// username/password account, configured at startup, used solely to grant
// the first user row its admin flag. Every other admin action runs
// through a regular per-user token belonging to an IsAdmin user.
type AdminHandlers struct {
	auth *auth.Auth
}

func NewAdminHandlers(a *auth.Auth) *AdminHandlers {
	return &AdminHandlers{auth: a}
}

// Login handles POST /api/admin/login
func (h *AdminHandlers) Login(c *gin.Context) {
	var body struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": gin.H{"code": "BAD_REQUEST", "message": err.Error()}})
		return
	}

	token, err := h.auth.Authenticate(body.Username, body.Password, c.Request.RemoteAddr)
	if err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, auth.ErrRateLimited) {
			status = http.StatusTooManyRequests
		}
		c.JSON(status, gin.H{"status": "error", "error": gin.H{"code": "UNAUTHENTICATED", "message": err.Error()}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "token": token})
}
