package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pcmid/clipchan/internal/service"
)

// maxUploadSize caps a single clip upload, mirroring the size-capping
// idiom of internal/radio/handler/track.go's Upload handler.
const maxUploadSize = 2 << 30 // 2 GiB

type ClipHandlers struct {
	svc *service.ClipService
}

func NewClipHandlers(svc *service.ClipService) *ClipHandlers {
	return &ClipHandlers{svc: svc}
}

// Upload handles POST /api/clips (multipart form: file, title, vup, song)
func (h *ClipHandlers) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": gin.H{"code": "MISSING_FILE", "message": "file field is required"}})
		return
	}
	defer file.Close()
	if header.Size > maxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"status": "error", "error": gin.H{"code": "FILE_TOO_LARGE", "message": "upload exceeds size limit"}})
		return
	}

	u := currentUser(c)
	title := c.Request.FormValue("title")
	vup := c.Request.FormValue("vup")
	song := c.Request.FormValue("song")

	clip, err := h.svc.Upload(c.Request.Context(), u.ID, title, vup, song, file)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "ok", "clip": clipJSON(clip)})
}

// List handles GET /api/clips
func (h *ClipHandlers) List(c *gin.Context) {
	u := currentUser(c)
	clips, err := h.svc.ListByUser(c.Request.Context(), u.ID, u.IsAdmin)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "clips": clipsJSON(clips)})
}

// GetByID handles GET /api/clips/:uuid
func (h *ClipHandlers) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("uuid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": gin.H{"code": "BAD_REQUEST", "message": "invalid clip uuid"}})
		return
	}
	clip, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "clip": clipJSON(clip)})
}

// Update handles PUT /api/clips/:uuid
func (h *ClipHandlers) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("uuid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": gin.H{"code": "BAD_REQUEST", "message": "invalid clip uuid"}})
		return
	}
	u := currentUser(c)
	clip, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if clip.UserID != u.ID && !u.IsAdmin {
		c.JSON(http.StatusForbidden, gin.H{"status": "error", "error": gin.H{"code": "FORBIDDEN", "message": "not your clip"}})
		return
	}

	var body struct {
		Title string `json:"title"`
		Vup   string `json:"vup"`
		Song  string `json:"song"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": gin.H{"code": "BAD_REQUEST", "message": err.Error()}})
		return
	}
	clip.Title, clip.Vup, clip.Song = body.Title, body.Vup, body.Song

	if err := h.svc.Update(c.Request.Context(), clip, u.IsAdmin); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "clip": clipJSON(clip)})
}

// SetReviewed handles POST /api/clips/:uuid/review (admin-only)
func (h *ClipHandlers) SetReviewed(c *gin.Context) {
	id, err := uuid.Parse(c.Param("uuid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": gin.H{"code": "BAD_REQUEST", "message": "invalid clip uuid"}})
		return
	}
	if err := h.svc.SetReviewed(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Delete handles DELETE /api/clips/:uuid
func (h *ClipHandlers) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("uuid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": gin.H{"code": "BAD_REQUEST", "message": "invalid clip uuid"}})
		return
	}
	u := currentUser(c)
	clip, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if clip.UserID != u.ID && !u.IsAdmin {
		c.JSON(http.StatusForbidden, gin.H{"status": "error", "error": gin.H{"code": "FORBIDDEN", "message": "not your clip"}})
		return
	}
	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Preview handles GET /api/clips/:uuid/preview, serving the stored media
// with HTTP range-read support per spec §6: a Range header produces a
// 206 with Content-Range, its absence a full 200 with Accept-Ranges.
func (h *ClipHandlers) Preview(c *gin.Context) {
	id, err := uuid.Parse(c.Param("uuid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": gin.H{"code": "BAD_REQUEST", "message": "invalid clip uuid"}})
		return
	}

	size, err := h.svc.Size(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	rangeHeader := c.GetHeader("Range")
	if rangeHeader == "" {
		reader, err := h.svc.Open(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		defer reader.Close()
		c.Header("Accept-Ranges", "bytes")
		c.DataFromReader(http.StatusOK, size, "video/mp4", reader, nil)
		return
	}

	start, end, err := parseRange(rangeHeader, size)
	if err != nil {
		c.Header("Content-Range", fmt.Sprintf("bytes */%d", size))
		c.JSON(http.StatusRequestedRangeNotSatisfiable, gin.H{"status": "error", "error": gin.H{"code": "RANGE_NOT_SATISFIABLE", "message": err.Error()}})
		return
	}

	reader, err := h.svc.OpenRange(c.Request.Context(), id, start, end)
	if err != nil {
		writeError(c, err)
		return
	}
	defer reader.Close()

	c.Header("Accept-Ranges", "bytes")
	c.Header("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	c.DataFromReader(http.StatusPartialContent, end-start+1, "video/mp4", reader, nil)
}

// parseRange parses a single-range "bytes=START-[END]" header (spec §6;
// multi-range requests are out of scope).
func parseRange(header string, size int64) (start, end int64, err error) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, fmt.Errorf("unsupported range unit")
	}
	spec := strings.TrimPrefix(header, prefix)
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed range")
	}

	if parts[0] == "" {
		// Suffix range: last N bytes.
		n, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, fmt.Errorf("malformed suffix range")
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, nil
	}

	start, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil || start < 0 || start >= size {
		return 0, 0, fmt.Errorf("range start out of bounds")
	}
	if parts[1] == "" {
		return start, size - 1, nil
	}
	end, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil || end < start {
		return 0, 0, fmt.Errorf("malformed range end")
	}
	if end >= size {
		end = size - 1
	}
	return start, end, nil
}
