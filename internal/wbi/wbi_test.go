package wbi

import (
	"crypto/md5"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenMixinKeyLength(t *testing.T) {
	key := genMixinKey("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd")
	require.Len(t, key, 32)
}

func TestCalculateWRidDeterministic(t *testing.T) {
	params := map[string]string{"foo": "bar", "baz": "qux"}
	mixin := "deadbeefdeadbeefdeadbeefdeadbeef"

	first := calculateWRid(params, mixin)
	second := calculateWRid(params, mixin)
	require.Equal(t, first, second, "signing the same params+key twice must be deterministic")
	require.Len(t, first, 32, "w_rid is an md5 hex digest")
}

func TestURLEncodeLeavesAlphanumericUnescaped(t *testing.T) {
	require.Equal(t, "abcXYZ019", urlEncode("abcXYZ019"))
	require.Equal(t, "%2F%3A", urlEncode("/:"))
	require.Equal(t, "%20", urlEncode("+"))
}

func TestCalculateWRidVector(t *testing.T) {
	params := map[string]string{"foo": "one one", "bar": "two"}
	mixin := "0123456789abcdef0123456789abcdef"

	got := calculateWRid(params, mixin)

	canonical := "bar=two&foo=one%20one"
	sum := md5.Sum([]byte(canonical + mixin))
	require.Equal(t, fmt.Sprintf("%x", sum), got)
}

func TestSignerRefreshesWhenExpired(t *testing.T) {
	calls := 0
	s := NewSigner(func() (string, string, error) {
		calls++
		return "imgkey1234567890imgkey1234567890", "subkey1234567890subkey1234567890", nil
	})

	wRid, wts, err := s.Sign(map[string]string{"mid": "1"})
	require.NoError(t, err)
	require.Len(t, wRid, 32)
	require.Positive(t, wts)
	require.Equal(t, 1, calls, "first sign must fetch keys since the cache starts empty")

	_, _, err = s.Sign(map[string]string{"mid": "1"})
	require.NoError(t, err)
	require.Equal(t, 1, calls, "second sign within the cache window must not refetch")
}
