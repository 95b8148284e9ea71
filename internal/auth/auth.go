// Package auth guards clipchan's bootstrap endpoints: a single operator
// account, configured at startup, exchanged for a signed bearer token.
// Per-user identity lives on model.User rows and rides the same token
// format with the row id as subject; this package never looks those up,
// it only mints and verifies tokens.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("token has expired")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRateLimited        = errors.New("too many login attempts, please try again later")
)

// Config holds the operator credentials and token-signing parameters.
type Config struct {
	Username  string
	Password  string
	JWTSecret string
	TokenTTL  time.Duration

	// MaxLoginAttempts failures from one address within LoginWindowSeconds
	// lock that address out until the window lapses.
	MaxLoginAttempts   int
	LoginWindowSeconds int
}

// Claims is the token payload. Sub is the operator username for tokens
// issued by Authenticate, or a user row id for tokens issued after a QR
// login.
type Claims struct {
	Sub string `json:"sub"`
	Iat int64  `json:"iat"`
	Exp int64  `json:"exp"`
}

// encodedHeader is the only token header this package ever produces or
// accepts; comparing it whole rejects algorithm-confusion tokens without
// parsing attacker-controlled JSON.
var encodedHeader = base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))

// failWindow counts failures from one address. The window restarts on
// the first failure after it lapses.
type failWindow struct {
	count int
	since time.Time
}

// Auth authenticates the operator account and mints/verifies tokens.
type Auth struct {
	username string
	hash     []byte
	secret   []byte
	ttl      time.Duration

	maxFails int
	window   time.Duration

	mu    sync.Mutex
	fails map[string]*failWindow
}

// New hashes the configured password immediately; the plaintext is not
// retained.
func New(cfg Config) *Auth {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.MaxLoginAttempts <= 0 {
		cfg.MaxLoginAttempts = 5
	}
	if cfg.LoginWindowSeconds <= 0 {
		cfg.LoginWindowSeconds = 900
	}
	if len(cfg.JWTSecret) < 32 {
		slog.Warn("jwt secret is shorter than 32 bytes, tokens are weakly protected")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
	if err != nil {
		// A nil hash never matches, so the server still starts but the
		// operator login stays closed.
		slog.Error("failed to hash operator password", "error", err)
		hash = nil
	}

	return &Auth{
		username: cfg.Username,
		hash:     hash,
		secret:   []byte(cfg.JWTSecret),
		ttl:      cfg.TokenTTL,
		maxFails: cfg.MaxLoginAttempts,
		window:   time.Duration(cfg.LoginWindowSeconds) * time.Second,
		fails:    make(map[string]*failWindow),
	}
}

// Authenticate checks the operator credentials and returns a signed
// token. remoteAddr feeds the per-address lockout.
func (a *Auth) Authenticate(username, password, remoteAddr string) (string, error) {
	addr := clientIP(remoteAddr)
	if a.lockedOut(addr) {
		slog.Warn("operator login rate-limited", "addr", addr)
		return "", ErrRateLimited
	}

	// Evaluate both factors before answering so a wrong username costs
	// the same as a wrong password.
	nameSum := sha256.Sum256([]byte(username))
	wantSum := sha256.Sum256([]byte(a.username))
	nameOK := hmac.Equal(nameSum[:], wantSum[:])
	passOK := a.hash != nil && bcrypt.CompareHashAndPassword(a.hash, []byte(password)) == nil

	if !nameOK || !passOK {
		a.recordFailure(addr)
		return "", ErrInvalidCredentials
	}

	a.clearFailures(addr)
	return a.CreateToken(username)
}

// CreateToken mints a signed token for subject, expiring after the
// configured TTL.
func (a *Auth) CreateToken(subject string) (string, error) {
	now := time.Now()
	payload, err := json.Marshal(Claims{
		Sub: subject,
		Iat: now.Unix(),
		Exp: now.Add(a.ttl).Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}

	body := encodedHeader + "." + base64.RawURLEncoding.EncodeToString(payload)
	return body + "." + base64.RawURLEncoding.EncodeToString(a.signature(body)), nil
}

// ValidateToken verifies a token's header, signature, and validity
// window, returning its claims.
func (a *Auth) ValidateToken(token string) (*Claims, error) {
	if len(token) > 4096 {
		return nil, ErrInvalidToken
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] != encodedHeader {
		return nil, ErrInvalidToken
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, ErrInvalidToken
	}
	if !hmac.Equal(sig, a.signature(parts[0]+"."+parts[1])) {
		return nil, ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: malformed claims", ErrInvalidToken)
	}

	now := time.Now().Unix()
	if now > claims.Exp {
		return nil, ErrExpiredToken
	}
	// 60s of clock-skew tolerance on the issue time.
	if claims.Iat > now+60 {
		return nil, fmt.Errorf("%w: token issued in the future", ErrInvalidToken)
	}
	if claims.Sub == "" {
		return nil, fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	return &claims, nil
}

func (a *Auth) signature(body string) []byte {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(body))
	return mac.Sum(nil)
}

func (a *Auth) lockedOut(addr string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	w, ok := a.fails[addr]
	if !ok {
		return false
	}
	if time.Since(w.since) > a.window {
		delete(a.fails, addr)
		return false
	}
	return w.count >= a.maxFails
}

func (a *Auth) recordFailure(addr string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	w, ok := a.fails[addr]
	if !ok || time.Since(w.since) > a.window {
		a.fails[addr] = &failWindow{count: 1, since: time.Now()}
		return
	}
	w.count++
}

func (a *Auth) clearFailures(addr string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.fails, addr)
}

// clientIP strips the port from a remote address, handling both
// "1.2.3.4:80" and "[::1]:80".
func clientIP(remoteAddr string) string {
	if strings.HasPrefix(remoteAddr, "[") {
		if i := strings.LastIndex(remoteAddr, "]:"); i != -1 {
			return remoteAddr[1:i]
		}
		return strings.Trim(remoteAddr, "[]")
	}
	if i := strings.LastIndex(remoteAddr, ":"); i != -1 {
		return remoteAddr[:i]
	}
	return remoteAddr
}
