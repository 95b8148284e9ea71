package httpapi

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pcmid/clipchan/internal/auth"
	"github.com/pcmid/clipchan/internal/service"
	"github.com/pcmid/clipchan/internal/upstream"
)

// loginWaitTimeout bounds how long CompleteLogin's poll loop will wait for
// the user to scan and confirm the code (spec §4.4's QR login flow).
const loginWaitTimeout = 3 * time.Minute

// qrPending is an in-flight QR login: the unauthenticated Session opened
// by BeginLogin, held until the poll endpoint resolves or expires. Kept
// in-process since only one API instance serves a given login attempt at
// a time (spec_full makes no claim about horizontal scaling of logins).
type qrPending struct {
	session *upstream.Session
	created time.Time
}

type UserHandlers struct {
	users   *service.UserService
	authSvc *auth.Auth

	mu      sync.Mutex
	pending map[string]*qrPending
}

func NewUserHandlers(users *service.UserService, authSvc *auth.Auth) *UserHandlers {
	h := &UserHandlers{
		users:   users,
		authSvc: authSvc,
		pending: make(map[string]*qrPending),
	}
	return h
}

func (h *UserHandlers) stash(key string, sess *upstream.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending[key] = &qrPending{session: sess, created: time.Now()}
	for k, p := range h.pending {
		if time.Since(p.created) > loginWaitTimeout {
			delete(h.pending, k)
		}
	}
}

func (h *UserHandlers) take(key string) *upstream.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.pending[key]
	if !ok {
		return nil
	}
	delete(h.pending, key)
	return p.session
}

// BeginLogin handles POST /api/login/qrcode
func (h *UserHandlers) BeginLogin(c *gin.Context) {
	sess, info, err := h.users.BeginLogin(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	h.stash(info.QrcodeKey, sess)
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"url":        info.URL,
		"qrcode_key": info.QrcodeKey,
	})
}

// CompleteLogin handles POST /api/login/poll, blocking until the QR code
// is confirmed or expires, then issuing a bearer token for the resulting
// user row.
func (h *UserHandlers) CompleteLogin(c *gin.Context) {
	var body struct {
		QrcodeKey string `json:"qrcode_key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": gin.H{"code": "BAD_REQUEST", "message": err.Error()}})
		return
	}

	sess := h.take(body.QrcodeKey)
	if sess == nil {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": gin.H{"code": "NOT_FOUND", "message": "unknown or expired login attempt"}})
		return
	}

	u, err := h.users.CompleteLogin(c.Request.Context(), sess, body.QrcodeKey, loginWaitTimeout)
	if err != nil {
		writeError(c, err)
		return
	}

	token, err := h.authSvc.CreateToken(strconv.FormatInt(u.ID, 10))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"token":  token,
		"user":   userJSON(u),
	})
}

// Me handles GET /api/me
func (h *UserHandlers) Me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "user": userJSON(currentUser(c))})
}

// SetPermissions handles PUT /api/users/:id/permissions (admin-only)
func (h *UserHandlers) SetPermissions(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": gin.H{"code": "BAD_REQUEST", "message": "invalid user id"}})
		return
	}
	var body struct {
		IsAdmin    bool `json:"is_admin"`
		CanStream  bool `json:"can_stream"`
		IsDisabled bool `json:"is_disabled"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": gin.H{"code": "BAD_REQUEST", "message": err.Error()}})
		return
	}
	if err := h.users.SetPermissions(c.Request.Context(), id, body.IsAdmin, body.CanStream, body.IsDisabled); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
