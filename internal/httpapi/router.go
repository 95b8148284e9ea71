// Package httpapi is clipchan's gin-based HTTP surface: thin handlers
// that translate JSON/multipart requests into internal/service calls,
// grounded on internal/radio/handler's gin idioms (gin.H envelopes,
// structured error codes, http.MaxBytesReader size capping) and the
// typed internal/errs taxonomy in place of that package's string-matching
// error classifiers.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pcmid/clipchan/internal/auth"
	"github.com/pcmid/clipchan/internal/service"
)

// Services bundles the aggregator-layer dependencies NewRouter wires into
// gin handlers.
type Services struct {
	Users     *service.UserService
	Clips     *service.ClipService
	Playlists *service.PlaylistService
	Live      *service.LiveService
	Auth      *auth.Auth
	// OperatorUsername is the bootstrap admin account's username, used to
	// scope requireBootstrapAdmin to tokens AdminHandlers.Login issued.
	OperatorUsername string
}

// securityHeaders mirrors internal/radio/server.go's securityHeaders
// net/http middleware as a gin.HandlerFunc.
func securityHeaders(c *gin.Context) {
	h := c.Writer.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-XSS-Protection", "1; mode=block")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
	c.Next()
}

// NewRouter builds the complete gin engine: public health/preview routes,
// QR-login routes, and the authenticated clip/playlist/live API.
func NewRouter(svc Services) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), gin.LoggerWithWriter(gin.DefaultWriter), securityHeaders)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	userH := NewUserHandlers(svc.Users, svc.Auth)
	clipH := NewClipHandlers(svc.Clips)
	playlistH := NewPlaylistHandlers(svc.Playlists)
	liveH := NewLiveHandlers(svc.Live)
	adminH := NewAdminHandlers(svc.Auth)

	r.POST("/api/admin/login", adminH.Login)
	r.POST("/api/login/qrcode", userH.BeginLogin)
	r.POST("/api/login/poll", userH.CompleteLogin)

	// Clip preview is unauthenticated per spec §6 (no Non-goal excludes it;
	// reviewed clips are public-readable media for the live pipeline).
	r.GET("/api/clips/:uuid/preview", clipH.Preview)

	api := r.Group("/api")
	api.Use(requireAuth(svc.Auth, svc.Users))
	{
		api.GET("/me", userH.Me)

		api.POST("/clips", clipH.Upload)
		api.GET("/clips", clipH.List)
		api.GET("/clips/:uuid", clipH.GetByID)
		api.PUT("/clips/:uuid", clipH.Update)
		api.DELETE("/clips/:uuid", clipH.Delete)
		api.POST("/clips/:uuid/review", requireAdmin(), clipH.SetReviewed)

		api.POST("/playlists", playlistH.Create)
		api.GET("/playlists", playlistH.List)
		api.GET("/playlists/:id", playlistH.GetByID)
		api.DELETE("/playlists/:id", playlistH.Delete)
		api.PUT("/playlists/:id/active", playlistH.SetActive)
		api.GET("/playlists/:id/items", playlistH.Items)
		api.POST("/playlists/:id/items", playlistH.AddItem)
		api.DELETE("/playlists/:id/items/:clip_uuid", playlistH.RemoveItem)
		api.PUT("/playlists/:id/items/:item_id/position", playlistH.Reorder)

		api.GET("/live/areas", liveH.ListAreas)
		api.POST("/live/start", liveH.Start)
		api.POST("/live/stop", liveH.Stop)
	}

	r.PUT("/api/users/:id/permissions", requireBootstrapAdmin(svc.Auth, svc.OperatorUsername), userH.SetPermissions)

	return r
}
