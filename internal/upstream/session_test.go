package upstream

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pcmid/clipchan/internal/errs"
)

// TestCorrespondPathIsA1024BitHexDigest is testable scenario D from
// spec.md §8: the RSA-OAEP-SHA256 ciphertext of a 1024-bit key hex-encodes
// to exactly 256 lowercase hex characters, regardless of timestamp.
func TestCorrespondPathIsA1024BitHexDigest(t *testing.T) {
	path, err := correspondPath(1700000000)
	require.NoError(t, err)
	require.Len(t, path, 256)
	require.Regexp(t, `^[0-9a-f]{256}$`, path)
}

func TestCorrespondPathLengthStableAcrossTimestamps(t *testing.T) {
	// RSA-OAEP is randomized, so even the same timestamp produces a
	// different ciphertext on every call and the output cannot be compared
	// across timestamps; this checks that two different timestamps both
	// encrypt without error to a 256-character path.
	a, err := correspondPath(1700000000)
	require.NoError(t, err)
	b, err := correspondPath(1800000000)
	require.NoError(t, err)
	require.Len(t, a, 256)
	require.Len(t, b, 256)
}

// TestSessionMarshalUnmarshalRoundTrip is testable property 4 from
// spec.md §8: deserialize(serialize(S)) must preserve cookies as
// (name, value, domain, path) sets, and login info.
func TestSessionMarshalUnmarshalRoundTrip(t *testing.T) {
	s, err := NewSession()
	require.NoError(t, err)

	expires := time.Now().Add(24 * time.Hour).Truncate(time.Second)
	s.jar.SetCookies(cookieDomain, []*http.Cookie{
		{Name: "SESSDATA", Value: "sess-value", Domain: cookieDomain.Host, Path: "/", Expires: expires},
		{Name: "bili_jct", Value: "jct-value", Domain: cookieDomain.Host, Path: "/", Expires: expires},
		{Name: "DedeUserID", Value: "12345", Domain: cookieDomain.Host, Path: "/", Expires: expires},
		{Name: "DedeUserID__ckMd5", Value: "abcdef", Domain: cookieDomain.Host, Path: "/", Expires: expires},
	})
	s.loginInfo = &LoginInfo{Code: 0, RefreshToken: "rtok", Timestamp: 42}

	data, err := s.Marshal()
	require.NoError(t, err)

	restored, err := Unmarshal(data)
	require.NoError(t, err)

	wantCreds, err := s.Credentials()
	require.NoError(t, err)
	gotCreds, err := restored.Credentials()
	require.NoError(t, err)
	require.Equal(t, wantCreds, gotCreds)

	require.Equal(t, s.loginInfo, restored.loginInfo)
}

func TestCredentialsMissingCookieIsSessionInvalid(t *testing.T) {
	s, err := NewSession()
	require.NoError(t, err)

	// Only three of the four required cookies are present.
	s.jar.SetCookies(cookieDomain, []*http.Cookie{
		{Name: "SESSDATA", Value: "v", Domain: cookieDomain.Host, Path: "/"},
		{Name: "bili_jct", Value: "v", Domain: cookieDomain.Host, Path: "/"},
		{Name: "DedeUserID", Value: "v", Domain: cookieDomain.Host, Path: "/"},
	})

	_, err = s.Credentials()
	require.True(t, errors.Is(err, errs.ErrSessionInvalid))
}
