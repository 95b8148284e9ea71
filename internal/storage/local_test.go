package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalPutGetRoundTrip(t *testing.T) {
	l, err := NewLocal(LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)

	ctx := context.Background()
	want := []byte("hello clipchan")
	require.NoError(t, l.Put(ctx, "clip.mp4", bytes.NewReader(want)))

	r, err := l.Get(ctx, "clip.mp4")
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestLocalSize(t *testing.T) {
	l, err := NewLocal(LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)

	ctx := context.Background()
	want := []byte("0123456789")
	require.NoError(t, l.Put(ctx, "clip.mp4", bytes.NewReader(want)))

	size, err := l.Size(ctx, "clip.mp4")
	require.NoError(t, err)
	require.EqualValues(t, len(want), size)
}

// TestLocalGetRangeEquivalence is testable property 6 from spec.md §8:
// get_range(k, s, e) must yield exactly full(k)[s..=e].
func TestLocalGetRangeEquivalence(t *testing.T) {
	l, err := NewLocal(LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)

	ctx := context.Background()
	full := []byte("the quick brown fox jumps over the lazy dog")
	require.NoError(t, l.Put(ctx, "clip.mp4", bytes.NewReader(full)))

	cases := []struct{ start, end int64 }{
		{0, 3},
		{4, 8},
		{0, int64(len(full) - 1)},
		{10, 10},
	}
	for _, c := range cases {
		r, err := l.GetRange(ctx, "clip.mp4", c.start, c.end)
		require.NoError(t, err)
		got, err := io.ReadAll(r)
		r.Close()
		require.NoError(t, err)
		require.Equal(t, full[c.start:c.end+1], got)
	}
}

func TestLocalGetMissingKeyReturnsErrNotFound(t *testing.T) {
	l, err := NewLocal(LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)

	_, err = l.Get(context.Background(), "missing.mp4")
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestLocalDeleteIsIdempotent(t *testing.T) {
	l, err := NewLocal(LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, l.Put(ctx, "clip.mp4", bytes.NewReader([]byte("x"))))
	require.NoError(t, l.Delete(ctx, "clip.mp4"))
	// deleting an already-absent key is not an error.
	require.NoError(t, l.Delete(ctx, "clip.mp4"))

	_, err = l.Get(ctx, "clip.mp4")
	require.True(t, errors.Is(err, ErrNotFound))
}
