// Package wbi implements bilibili's WBI request-signing scheme: a 12-hour
// cached mixin key derived by permuting the concatenated img_key/sub_key
// through a fixed 64-byte index table, used to compute a w_rid signature
// over a sorted, percent-encoded parameter set. Grounded on
// original_source/bilive/src/wbi.rs.
package wbi

import (
	"crypto/md5"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const cacheDuration = 12 * time.Hour

// mixinKeyEncTab is the fixed permutation table used to derive the 32-byte
// mixin key from the 64-byte concatenation of img_key and sub_key.
var mixinKeyEncTab = [64]int{
	46, 47, 18, 2, 53, 8, 23, 32, 15, 50, 10, 31, 58, 3, 45, 35, 27, 43, 5, 49, 33, 9, 42, 19, 29,
	28, 14, 39, 12, 38, 41, 13, 37, 48, 7, 16, 24, 55, 40, 61, 26, 17, 0, 1, 60, 51, 30, 4, 22, 25,
	54, 21, 56, 59, 6, 63, 57, 62, 11, 36, 20, 34, 44, 52,
}

// KeyFetcher fetches the current (img_key, sub_key) pair from the upstream
// nav endpoint. Implemented by the upstream room client.
type KeyFetcher func() (imgKey, subKey string, err error)

// Signer caches a mixin key and signs request parameter sets with it.
type Signer struct {
	mu           sync.Mutex
	fetch        KeyFetcher
	mixinKey     string
	lastModified time.Time
}

func NewSigner(fetch KeyFetcher) *Signer {
	return &Signer{fetch: fetch}
}

// Refresh fetches fresh wbi keys and recomputes the cached mixin key.
func (s *Signer) Refresh() error {
	imgKey, subKey, err := s.fetch()
	if err != nil {
		return fmt.Errorf("fetch wbi keys: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mixinKey = genMixinKey(imgKey + subKey)
	s.lastModified = time.Now()
	return nil
}

func (s *Signer) isExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastModified.IsZero() {
		return true
	}
	return time.Since(s.lastModified) > cacheDuration
}

// Sign computes w_rid for params plus a fresh wts timestamp, refreshing
// the cached mixin key first if it is missing or stale. The returned wts
// is the unix-seconds value hashed into w_rid; callers must send both
// back to the upstream together or the signature will not verify.
func (s *Signer) Sign(params map[string]string) (wRid string, wts int64, err error) {
	if s.isExpired() {
		if err := s.Refresh(); err != nil {
			return "", 0, err
		}
	}
	s.mu.Lock()
	mixinKey := s.mixinKey
	s.mu.Unlock()

	wts = time.Now().Unix()
	withTS := make(map[string]string, len(params)+1)
	for k, v := range params {
		withTS[k] = v
	}
	withTS["wts"] = strconv.FormatInt(wts, 10)

	return calculateWRid(withTS, mixinKey), wts, nil
}

func genMixinKey(rawWbiKey string) string {
	b := []byte(rawWbiKey)
	mixin := make([]byte, 64)
	for i, n := range mixinKeyEncTab {
		if n < len(b) {
			mixin[i] = b[n]
		}
	}
	if len(mixin) > 32 {
		mixin = mixin[:32]
	}
	return string(mixin)
}

func calculateWRid(params map[string]string, mixinKey string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+urlEncode(params[k]))
	}
	stringToHash := strings.Join(parts, "&") + mixinKey

	sum := md5.Sum([]byte(stringToHash))
	return fmt.Sprintf("%x", sum)
}

// urlEncode percent-encodes, as %XX with uppercase hex, every byte outside
// the RFC 3986 unreserved set (ASCII letters, digits, '-', '_', '.', '~'),
// so a space becomes "%20". A literal '+' in the input is also written as
// "%20".
func urlEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '+':
			b.WriteString("%20")
		case (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'),
			c == '-' || c == '_' || c == '.' || c == '~':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}
