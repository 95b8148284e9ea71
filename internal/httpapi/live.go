package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pcmid/clipchan/internal/service"
)

type LiveHandlers struct {
	svc *service.LiveService
}

func NewLiveHandlers(svc *service.LiveService) *LiveHandlers {
	return &LiveHandlers{svc: svc}
}

// ListAreas handles GET /api/live/areas
func (h *LiveHandlers) ListAreas(c *gin.Context) {
	u := currentUser(c)
	areas, err := h.svc.ListAreas(c.Request.Context(), u)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "areas": areas})
}

// Start handles POST /api/live/start {"area_id": N}
func (h *LiveHandlers) Start(c *gin.Context) {
	var body struct {
		AreaID int64 `json:"area_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": gin.H{"code": "BAD_REQUEST", "message": err.Error()}})
		return
	}

	u := currentUser(c)
	if err := h.svc.StartLive(c.Request.Context(), u, body.AreaID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Stop handles POST /api/live/stop
func (h *LiveHandlers) Stop(c *gin.Context) {
	u := currentUser(c)
	if err := h.svc.StopLive(c.Request.Context(), u); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
