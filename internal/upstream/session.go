// Package upstream implements the client side of a bilibili-like live
// streaming platform: QR-code login, cookie-backed session persistence,
// WBI-signed room requests, and live start/stop. Grounded on
// original_source/bilive/src/{session,live,wbi}.rs.
package upstream

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/pcmid/clipchan/internal/errs"
)

// refreshKeyPEM is bilibili's fixed RSA public key used to encrypt the
// refresh correspond-path challenge. Carried verbatim from
// original_source/bilive/src/session.rs.
const refreshKeyPEM = `-----BEGIN PUBLIC KEY-----
MIGfMA0GCSqGSIb3DQEBAQUAA4GNADCBiQKBgQDLgd2OAkcGVtoE3ThUREbio0Eg
Uc/prcajMKXvkCKFCWhJYJcLkcM2DKKcSeFpD/j6Boy538YXnR6VhcuUJOhH2x71
nzPjfdTcqMz7djHum0qSZA0AyCBDABUqCrfNgCiJ00Ra7GmRj+YCK1NJEuewlb40
JNrRuoEUXpabUzGB8QIDAQAB
-----END PUBLIC KEY-----`

var correspondCSRFRe = regexp.MustCompile(`<div id="1-name">([^<]+)</div>`)

const (
	qrCodeGenerateURL  = "https://passport.bilibili.com/x/passport-login/web/qrcode/generate"
	qrCodePollURL      = "https://passport.bilibili.com/x/passport-login/web/qrcode/poll"
	accountInfoURL     = "https://api.bilibili.com/x/member/web/account"
	cookieInfoURL      = "https://passport.bilibili.com/x/passport-login/web/cookie/info"
	cookieRefreshURL   = "https://passport.bilibili.com/x/passport-login/web/cookie/refresh"
	correspondPathBase = "https://www.bilibili.com/correspond/1/"
)

var cookieDomain, _ = url.Parse("https://bilibili.com")

// defaultHeaders is the browser-style header set sent on every upstream
// request; the API rejects clients that don't look like a web browser.
var defaultHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Accept":          "application/json, text/plain, */*",
	"Accept-Language": "zh-CN,zh;q=0.9,en;q=0.8",
	"Referer":         "https://www.bilibili.com/",
	"Origin":          "https://www.bilibili.com",
}

func applyDefaultHeaders(h http.Header) {
	for k, v := range defaultHeaders {
		h.Set(k, v)
	}
}

// responseEnvelope is the {code, message, data} shape every bilibili-style
// endpoint responds with.
type responseEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// QrCodeInfo is returned by GetQRCode.
type QrCodeInfo struct {
	URL       string `json:"url"`
	QrcodeKey string `json:"qrcode_key"`
}

// LoginInfo is the resolved result of a confirmed QR login.
type LoginInfo struct {
	Code         int    `json:"code"`
	Message      string `json:"message"`
	RefreshToken string `json:"refresh_token"`
	Timestamp    int64  `json:"timestamp"`
	URL          string `json:"url"`
}

// Credentials are the four cookies every authenticated request needs.
type Credentials struct {
	SessData        string `json:"sessdata"`
	BiliJct         string `json:"bili_jct"`
	DedeUserID      string `json:"dede_user_id"`
	DedeUserIDCkMd5 string `json:"dede_user_id_ckmd5"`
}

// Session wraps a cookie-jar-backed HTTP client plus the resolved login
// info for one upstream account.
type Session struct {
	client  *retryablehttp.Client
	jar     *cookiejar.Jar
	limiter *rate.Limiter

	mu        sync.Mutex
	loginInfo *LoginInfo
}

// NewSession builds a fresh, unauthenticated session.
func NewSession() (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = 3
	rc.HTTPClient.Jar = jar
	rc.HTTPClient.Timeout = 30 * time.Second

	return &Session{
		client:  rc,
		jar:     jar,
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}, nil
}

func (s *Session) doJSON(ctx context.Context, method, rawURL string, body url.Values, out *responseEnvelope) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	var reqBody io.Reader
	contentType := ""
	if method == http.MethodPost && body != nil {
		reqBody = bytes.NewBufferString(body.Encode())
		contentType = "application/x-www-form-urlencoded"
	} else if body != nil {
		u, err := url.Parse(rawURL)
		if err != nil {
			return fmt.Errorf("parse url: %w", err)
		}
		u.RawQuery = body.Encode()
		rawURL = u.String()
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	applyDefaultHeaders(req.Header)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// GetQRCode requests a fresh login QR code.
func (s *Session) GetQRCode(ctx context.Context) (*QrCodeInfo, error) {
	var env responseEnvelope
	if err := s.doJSON(ctx, http.MethodGet, qrCodeGenerateURL, nil, &env); err != nil {
		return nil, err
	}
	if env.Code != 0 {
		return nil, &errs.UpstreamError{Code: env.Code, Msg: env.Message}
	}
	var info QrCodeInfo
	if err := json.Unmarshal(env.Data, &info); err != nil {
		return nil, fmt.Errorf("decode qrcode data: %w", err)
	}
	return &info, nil
}

type qrPollData struct {
	Code         int    `json:"code"`
	Message      string `json:"message"`
	URL          string `json:"url"`
	RefreshToken string `json:"refresh_token"`
}

// CheckLogin polls the QR login status once. Returns (nil, nil) when still
// pending a scan or confirmation, a populated LoginInfo on success, and
// ErrQrExpired if the code expired before being scanned.
func (s *Session) CheckLogin(ctx context.Context, qrcodeKey string) (*LoginInfo, error) {
	s.mu.Lock()
	if s.loginInfo != nil {
		info := s.loginInfo
		s.mu.Unlock()
		return info, nil
	}
	s.mu.Unlock()

	var env responseEnvelope
	params := url.Values{"qrcode_key": {qrcodeKey}}
	if err := s.doJSON(ctx, http.MethodGet, qrCodePollURL, params, &env); err != nil {
		return nil, err
	}
	if env.Code != 0 {
		return nil, &errs.UpstreamError{Code: env.Code, Msg: env.Message}
	}

	var data qrPollData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("decode poll data: %w", err)
	}

	switch data.Code {
	case 0:
		info := &LoginInfo{Code: data.Code, Message: data.Message, URL: data.URL, RefreshToken: data.RefreshToken, Timestamp: time.Now().Unix()}
		s.mu.Lock()
		s.loginInfo = info
		s.mu.Unlock()
		return info, nil
	case 86038:
		return nil, errs.ErrQrExpired
	case 86090, 86101:
		return nil, nil
	default:
		return nil, &errs.UpstreamError{Code: data.Code, Msg: data.Message}
	}
}

// WaitForLogin polls CheckLogin every 3 seconds until it resolves,
// expires, or timeout elapses.
func (s *Session) WaitForLogin(ctx context.Context, qrcodeKey string, timeout time.Duration) (*LoginInfo, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for {
		info, err := s.CheckLogin(ctx, qrcodeKey)
		if err != nil {
			return nil, err
		}
		if info != nil {
			return info, nil
		}
		if time.Now().After(deadline) {
			return nil, errs.ErrTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Credentials extracts the four essential cookies from the jar.
func (s *Session) Credentials() (*Credentials, error) {
	cookies := s.jar.Cookies(cookieDomain)
	values := make(map[string]string, len(cookies))
	for _, c := range cookies {
		values[c.Name] = c.Value
	}

	get := func(name string) (string, error) {
		v, ok := values[name]
		if !ok {
			return "", fmt.Errorf("%w: %s cookie not found", errs.ErrSessionInvalid, name)
		}
		return v, nil
	}

	sessData, err := get("SESSDATA")
	if err != nil {
		return nil, err
	}
	biliJct, err := get("bili_jct")
	if err != nil {
		return nil, err
	}
	dedeUserID, err := get("DedeUserID")
	if err != nil {
		return nil, err
	}
	dedeCkMd5, err := get("DedeUserID__ckMd5")
	if err != nil {
		return nil, err
	}

	return &Credentials{
		SessData:        sessData,
		BiliJct:         biliJct,
		DedeUserID:      dedeUserID,
		DedeUserIDCkMd5: dedeCkMd5,
	}, nil
}

// LoginInfoSnapshot returns the currently cached login info, if any.
func (s *Session) LoginInfoSnapshot() *LoginInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loginInfo == nil {
		return nil
	}
	cp := *s.loginInfo
	return &cp
}

// GetAccount fetches the authenticated member's mid/uname.
func (s *Session) GetAccount(ctx context.Context) (mid int64, uname string, err error) {
	var env responseEnvelope
	if err := s.doJSON(ctx, http.MethodGet, accountInfoURL, nil, &env); err != nil {
		return 0, "", err
	}
	if env.Code != 0 {
		return 0, "", &errs.UpstreamError{Code: env.Code, Msg: env.Message}
	}
	var account struct {
		Mid   int64  `json:"mid"`
		Uname string `json:"uname"`
	}
	if err := json.Unmarshal(env.Data, &account); err != nil {
		return 0, "", fmt.Errorf("decode account data: %w", err)
	}
	return account.Mid, account.Uname, nil
}

func correspondPath(ts int64) (string, error) {
	block, _ := pem.Decode([]byte(refreshKeyPEM))
	if block == nil {
		return "", fmt.Errorf("decode refresh key pem")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("parse refresh public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return "", fmt.Errorf("refresh key is not RSA")
	}

	msg := fmt.Sprintf("refresh_%d", ts)
	enc, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, rsaPub, []byte(msg), nil)
	if err != nil {
		return "", fmt.Errorf("rsa-oaep encrypt: %w", err)
	}
	return hex.EncodeToString(enc), nil
}

func (s *Session) getRefreshCSRF(ctx context.Context, path string) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, correspondPathBase+path, nil)
	if err != nil {
		return "", fmt.Errorf("build correspond request: %w", err)
	}
	applyDefaultHeaders(req.Header)
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch correspond path: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read correspond body: %w", err)
	}
	m := correspondCSRFRe.FindSubmatch(body)
	if m == nil {
		return "", fmt.Errorf("extract refresh csrf: no match")
	}
	return string(m[1]), nil
}

// Refresh runs the cookie-refresh protocol: it checks whether bilibili
// thinks the session's cookies need renewing, and if so, solves the
// RSA-OAEP correspond-path challenge to obtain a refresh_csrf token, then
// exchanges it plus the refresh_token for new cookies.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	info := s.loginInfo
	s.mu.Unlock()
	if info == nil {
		return fmt.Errorf("%w: no login info available", errs.ErrSessionInvalid)
	}

	creds, err := s.Credentials()
	if err != nil {
		return err
	}

	var infoEnv responseEnvelope
	if err := s.doJSON(ctx, http.MethodGet, cookieInfoURL, url.Values{"csrf": {creds.BiliJct}}, &infoEnv); err != nil {
		return err
	}
	if infoEnv.Code != 0 {
		return &errs.UpstreamError{Code: infoEnv.Code, Msg: infoEnv.Message}
	}
	var refreshInfo struct {
		Refresh   bool  `json:"refresh"`
		Timestamp int64 `json:"timestamp"`
	}
	if err := json.Unmarshal(infoEnv.Data, &refreshInfo); err != nil {
		return fmt.Errorf("decode refresh info: %w", err)
	}
	if !refreshInfo.Refresh {
		return nil
	}

	path, err := correspondPath(refreshInfo.Timestamp)
	if err != nil {
		return err
	}
	refreshCSRF, err := s.getRefreshCSRF(ctx, path)
	if err != nil {
		return err
	}

	form := url.Values{
		"csrf":          {creds.BiliJct},
		"refresh_csrf":  {refreshCSRF},
		"source":        {"main_web"},
		"refresh_token": {info.RefreshToken},
	}
	var refreshEnv responseEnvelope
	if err := s.doJSON(ctx, http.MethodPost, cookieRefreshURL, form, &refreshEnv); err != nil {
		return err
	}
	if refreshEnv.Code != 0 {
		return &errs.UpstreamError{Code: refreshEnv.Code, Msg: refreshEnv.Message}
	}

	var newToken struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(refreshEnv.Data, &newToken); err != nil {
		return fmt.Errorf("decode refreshed token: %w", err)
	}

	s.mu.Lock()
	if s.loginInfo != nil {
		s.loginInfo.RefreshToken = newToken.RefreshToken
	}
	s.mu.Unlock()
	return nil
}

// persistedSession is the JSON shape stored as model.User.Session.
type persistedSession struct {
	Cookies   []persistedCookie `json:"cookies"`
	LoginInfo *LoginInfo        `json:"login_info"`
}

type persistedCookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Domain  string    `json:"domain"`
	Path    string    `json:"path"`
	Expires time.Time `json:"expires"`
}

// Marshal serializes the session's cookies and login info for storage in
// model.User.Session.
func (s *Session) Marshal() (string, error) {
	cookies := s.jar.Cookies(cookieDomain)
	out := persistedSession{Cookies: make([]persistedCookie, 0, len(cookies))}
	for _, c := range cookies {
		domain, path := c.Domain, c.Path
		if domain == "" {
			domain = cookieDomain.Host
		}
		if path == "" {
			path = "/"
		}
		out.Cookies = append(out.Cookies, persistedCookie{Name: c.Name, Value: c.Value, Domain: domain, Path: path, Expires: c.Expires})
	}
	s.mu.Lock()
	out.LoginInfo = s.loginInfo
	s.mu.Unlock()

	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("marshal session: %w", err)
	}
	return string(data), nil
}

// Unmarshal restores a session previously produced by Marshal.
func Unmarshal(data string) (*Session, error) {
	var in persistedSession
	if err := json.Unmarshal([]byte(data), &in); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}

	s, err := NewSession()
	if err != nil {
		return nil, err
	}

	cookies := make([]*http.Cookie, 0, len(in.Cookies))
	for _, c := range in.Cookies {
		cookies = append(cookies, &http.Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path, Expires: c.Expires})
	}
	s.jar.SetCookies(cookieDomain, cookies)
	s.loginInfo = in.LoginInfo
	return s, nil
}
