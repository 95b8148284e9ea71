package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pcmid/clipchan/internal/model"
	"github.com/pcmid/clipchan/internal/service"
)

type PlaylistHandlers struct {
	svc *service.PlaylistService
}

func NewPlaylistHandlers(svc *service.PlaylistService) *PlaylistHandlers {
	return &PlaylistHandlers{svc: svc}
}

// Create handles POST /api/playlists
func (h *PlaylistHandlers) Create(c *gin.Context) {
	var body struct {
		Name        string `json:"name" binding:"required"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": gin.H{"code": "BAD_REQUEST", "message": err.Error()}})
		return
	}

	u := currentUser(c)
	p := &model.Playlist{Name: body.Name, Description: body.Description, UserID: u.ID}
	if err := h.svc.Create(c.Request.Context(), p); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "ok", "playlist": playlistJSON(p)})
}

// List handles GET /api/playlists
func (h *PlaylistHandlers) List(c *gin.Context) {
	u := currentUser(c)
	playlists, err := h.svc.ListByUser(c.Request.Context(), u.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "playlists": playlistsJSON(playlists)})
}

// GetByID handles GET /api/playlists/:id
func (h *PlaylistHandlers) GetByID(c *gin.Context) {
	id, u, ok := h.playlistParam(c)
	if !ok {
		return
	}
	p, err := h.svc.Get(c.Request.Context(), u.ID, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "playlist": playlistJSON(p)})
}

// Delete handles DELETE /api/playlists/:id
func (h *PlaylistHandlers) Delete(c *gin.Context) {
	id, u, ok := h.playlistParam(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), u.ID, id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// SetActive handles PUT /api/playlists/:id/active {"active": bool}
func (h *PlaylistHandlers) SetActive(c *gin.Context) {
	id, u, ok := h.playlistParam(c)
	if !ok {
		return
	}
	var body struct {
		Active bool `json:"active"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": gin.H{"code": "BAD_REQUEST", "message": err.Error()}})
		return
	}
	if err := h.svc.SetActive(c.Request.Context(), u.ID, id, body.Active); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Items handles GET /api/playlists/:id/items
func (h *PlaylistHandlers) Items(c *gin.Context) {
	id, u, ok := h.playlistParam(c)
	if !ok {
		return
	}
	items, err := h.svc.Items(c.Request.Context(), u.ID, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "items": playlistItemsJSON(items)})
}

// AddItem handles POST /api/playlists/:id/items {"clip_uuid": "..."}
func (h *PlaylistHandlers) AddItem(c *gin.Context) {
	id, u, ok := h.playlistParam(c)
	if !ok {
		return
	}
	var body struct {
		ClipUUID string `json:"clip_uuid" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": gin.H{"code": "BAD_REQUEST", "message": err.Error()}})
		return
	}
	clipUUID, err := uuid.Parse(body.ClipUUID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": gin.H{"code": "BAD_REQUEST", "message": "invalid clip uuid"}})
		return
	}

	item, err := h.svc.AddClip(c.Request.Context(), u.ID, id, clipUUID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "ok", "item": playlistItemJSON(item)})
}

// RemoveItem handles DELETE /api/playlists/:id/items/:clip_uuid
func (h *PlaylistHandlers) RemoveItem(c *gin.Context) {
	id, u, ok := h.playlistParam(c)
	if !ok {
		return
	}
	clipUUID, err := uuid.Parse(c.Param("clip_uuid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": gin.H{"code": "BAD_REQUEST", "message": "invalid clip uuid"}})
		return
	}
	if err := h.svc.RemoveClip(c.Request.Context(), u.ID, id, clipUUID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Reorder handles PUT /api/playlists/:id/items/:item_id/position {"position": N}
func (h *PlaylistHandlers) Reorder(c *gin.Context) {
	id, u, ok := h.playlistParam(c)
	if !ok {
		return
	}
	itemID, err := parseID(c.Param("item_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": gin.H{"code": "BAD_REQUEST", "message": "invalid item id"}})
		return
	}
	var body struct {
		Position int64 `json:"position"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": gin.H{"code": "BAD_REQUEST", "message": err.Error()}})
		return
	}
	if err := h.svc.Reorder(c.Request.Context(), u.ID, id, itemID, body.Position); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// playlistParam parses the :id path parameter and loads the caller,
// writing an error response and returning ok=false on failure.
func (h *PlaylistHandlers) playlistParam(c *gin.Context) (id int64, u *model.User, ok bool) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": gin.H{"code": "BAD_REQUEST", "message": "invalid playlist id"}})
		return 0, nil, false
	}
	return id, currentUser(c), true
}
