package httpapi

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pcmid/clipchan/internal/model"
)

// parseID parses a path parameter into an int64 row id, adapted from
// internal/radio/handler/helpers.go's parseID.
func parseID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func userJSON(u *model.User) gin.H {
	if u == nil {
		return nil
	}
	return gin.H{
		"id":          u.ID,
		"mid":         u.Mid,
		"uname":       u.Uname,
		"is_admin":    u.IsAdmin,
		"can_stream":  u.CanStream,
		"is_disabled": u.IsDisabled,
	}
}

func clipJSON(c *model.Clip) gin.H {
	if c == nil {
		return nil
	}
	return gin.H{
		"id":          c.ID,
		"uuid":        c.UUID.String(),
		"title":       c.Title,
		"vup":         c.Vup,
		"song":        c.Song,
		"upload_time": c.UploadTime,
		"status":      c.Status,
		"user_id":     c.UserID,
	}
}

func clipsJSON(cs []model.Clip) []gin.H {
	out := make([]gin.H, 0, len(cs))
	for i := range cs {
		out = append(out, clipJSON(&cs[i]))
	}
	return out
}

func playlistJSON(p *model.Playlist) gin.H {
	if p == nil {
		return nil
	}
	return gin.H{
		"id":          p.ID,
		"name":        p.Name,
		"description": p.Description,
		"user_id":     p.UserID,
		"is_active":   p.IsActive,
		"created_at":  p.CreatedAt,
		"updated_at":  p.UpdatedAt,
	}
}

func playlistsJSON(ps []model.Playlist) []gin.H {
	out := make([]gin.H, 0, len(ps))
	for i := range ps {
		out = append(out, playlistJSON(&ps[i]))
	}
	return out
}

func playlistItemJSON(it *model.PlaylistItem) gin.H {
	if it == nil {
		return nil
	}
	return gin.H{
		"id":          it.ID,
		"playlist_id": it.PlaylistID,
		"clip_uuid":   it.ClipUUID.String(),
		"position":    it.Position,
		"created_at":  it.CreatedAt,
	}
}

func playlistItemsJSON(items []model.PlaylistItem) []gin.H {
	out := make([]gin.H, 0, len(items))
	for i := range items {
		out = append(out, playlistItemJSON(&items[i]))
	}
	return out
}
