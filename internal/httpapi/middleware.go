package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/pcmid/clipchan/internal/auth"
	"github.com/pcmid/clipchan/internal/model"
	"github.com/pcmid/clipchan/internal/service"
)

const userContextKey = "clipchan_user"

// requireAuth validates the bearer token and loads the user row it names
// into the gin context.
func requireAuth(a *auth.Auth, users *service.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"status": "error",
				"error":  gin.H{"code": "UNAUTHENTICATED", "message": "authentication required"},
			})
			return
		}

		claims, err := a.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"status": "error",
				"error":  gin.H{"code": "UNAUTHENTICATED", "message": "invalid or expired token"},
			})
			return
		}

		userID, err := strconv.ParseInt(claims.Sub, 10, 64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"status": "error",
				"error":  gin.H{"code": "UNAUTHENTICATED", "message": "malformed subject"},
			})
			return
		}

		u, err := users.GetByID(c.Request.Context(), userID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"status": "error",
				"error":  gin.H{"code": "UNAUTHENTICATED", "message": "unknown user"},
			})
			return
		}

		c.Set(userContextKey, u)
		c.Next()
	}
}

// requireAdmin runs after requireAuth and rejects non-admin callers; used
// to gate the clip review endpoint.
func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		u := currentUser(c)
		if u == nil || !u.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"status": "error",
				"error":  gin.H{"code": "FORBIDDEN", "message": "admin privileges required"},
			})
			return
		}
		c.Next()
	}
}

// requireBootstrapAdmin accepts only a token issued by AdminHandlers.Login
// (subject equal to the configured operator username), never a per-user
// token. It gates user-permission grants (spec_full supplemental feature
// 5's admin flag) so the very first admin can be established without
// already holding one.
func requireBootstrapAdmin(a *auth.Auth, operatorUsername string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.Request)
		claims, err := a.ValidateToken(token)
		if err != nil || claims.Sub != operatorUsername {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"status": "error",
				"error":  gin.H{"code": "UNAUTHENTICATED", "message": "operator credentials required"},
			})
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) *model.User {
	v, ok := c.Get(userContextKey)
	if !ok {
		return nil
	}
	u, _ := v.(*model.User)
	return u
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, prefix))
}
