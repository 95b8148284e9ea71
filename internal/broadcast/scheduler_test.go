package broadcast

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pcmid/clipchan/internal/errs"
	"github.com/pcmid/clipchan/internal/model"
	"github.com/pcmid/clipchan/internal/storage"
)

// fakeEngine records the title/push sequence the driver issues, exposing
// it on a channel so tests can wait for progress without sleeping.
type fakeEngine struct {
	mu      sync.Mutex
	events  []string
	eventCh chan string
	stopped bool
	pushErr error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{eventCh: make(chan string, 64)}
}

func (f *fakeEngine) record(ev string) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
	select {
	case f.eventCh <- ev:
	default:
	}
}

func (f *fakeEngine) UpdateTitle(text string) error {
	f.record("title:" + text)
	return nil
}

func (f *fakeEngine) Push(ctx context.Context, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.record("push:" + string(data))
	return f.pushErr
}

func (f *fakeEngine) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeEngine) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

// fakePlaylists serves a fixed set of active playlists and their clips.
type fakePlaylists struct {
	playlists []model.Playlist
	clips     map[int64][]model.Clip
}

func (f *fakePlaylists) ActiveByUser(ctx context.Context, userID int64) ([]model.Playlist, error) {
	return f.playlists, nil
}

func (f *fakePlaylists) Items(ctx context.Context, playlistID int64) ([]model.PlaylistItem, error) {
	clips := f.clips[playlistID]
	items := make([]model.PlaylistItem, len(clips))
	for i, c := range clips {
		items[i] = model.PlaylistItem{ID: int64(i + 1), PlaylistID: playlistID, ClipUUID: c.UUID, Position: int64(i)}
	}
	return items, nil
}

func (f *fakePlaylists) ActiveClipAtPosition(ctx context.Context, playlistID, position int64) (*model.Clip, error) {
	clips := f.clips[playlistID]
	if position < 0 || position >= int64(len(clips)) {
		return nil, nil
	}
	c := clips[position]
	return &c, nil
}

// fakeBlob serves clip bytes from an in-memory map.
type fakeBlob struct {
	objects map[string][]byte
}

func (f *fakeBlob) Put(ctx context.Context, key string, src io.Reader) error { return nil }

func (f *fakeBlob) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeBlob) GetRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeBlob) Size(ctx context.Context, key string) (int64, error) {
	return int64(len(f.objects[key])), nil
}

func (f *fakeBlob) Delete(ctx context.Context, key string) error { return nil }

func waitForEvents(t *testing.T, eng *fakeEngine, n int) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-eng.eventCh:
		case <-deadline:
			t.Fatalf("timed out waiting for %d engine events, got %v", n, eng.snapshot())
		}
	}
}

func TestDriverPushesClipsInOrderWithTitles(t *testing.T) {
	c1 := model.Clip{UUID: uuid.New(), Title: "Alpha", Status: model.ClipReviewed}
	c2 := model.Clip{UUID: uuid.New(), Title: "Beta", Status: model.ClipReviewed}

	playlists := &fakePlaylists{
		playlists: []model.Playlist{{ID: 1, UserID: 7, IsActive: true}},
		clips:     map[int64][]model.Clip{1: {c1, c2}},
	}
	blob := &fakeBlob{objects: map[string][]byte{
		c1.UUID.String() + ".mp4": []byte("clip one"),
		c2.UUID.String() + ".mp4": []byte("clip two"),
	}}

	eng := newFakeEngine()
	s := NewScheduler(playlists, blob)
	require.NoError(t, s.Start(context.Background(), 7, eng, 4242))
	require.True(t, s.IsLive(7))

	// One full round is title+push per clip; the driver then loops.
	waitForEvents(t, eng, 4)

	roomID, err := s.Stop(7)
	require.NoError(t, err)
	require.EqualValues(t, 4242, roomID)
	require.False(t, s.IsLive(7))

	events := eng.snapshot()
	require.GreaterOrEqual(t, len(events), 4)
	require.Equal(t, []string{"title:Alpha", "push:clip one", "title:Beta", "push:clip two"}, events[:4])
	require.True(t, eng.stopped)
}

func TestDriverExitsWhenNoActivePlaylists(t *testing.T) {
	playlists := &fakePlaylists{}
	blob := &fakeBlob{objects: map[string][]byte{}}

	eng := newFakeEngine()
	s := NewScheduler(playlists, blob)
	require.NoError(t, s.Start(context.Background(), 7, eng, 99))

	// The driver terminates on its own without touching the engine; the
	// session entry (and the RTMP pipeline it holds) stays registered
	// until an explicit stop.
	select {
	case ev := <-eng.eventCh:
		t.Fatalf("driver with no active playlists must not touch the engine, got %q", ev)
	case <-time.After(200 * time.Millisecond):
	}
	require.True(t, s.IsLive(7))

	roomID, err := s.Stop(7)
	require.NoError(t, err)
	require.EqualValues(t, 99, roomID)
	require.True(t, eng.stopped)
}

func TestDriverTerminatesOnOutboundPipelineError(t *testing.T) {
	c1 := model.Clip{UUID: uuid.New(), Title: "Alpha", Status: model.ClipReviewed}
	c2 := model.Clip{UUID: uuid.New(), Title: "Beta", Status: model.ClipReviewed}

	playlists := &fakePlaylists{
		playlists: []model.Playlist{{ID: 1, UserID: 7, IsActive: true}},
		clips:     map[int64][]model.Clip{1: {c1, c2}},
	}
	blob := &fakeBlob{objects: map[string][]byte{
		c1.UUID.String() + ".mp4": []byte("clip one"),
		c2.UUID.String() + ".mp4": []byte("clip two"),
	}}

	eng := newFakeEngine()
	eng.pushErr = &errs.PipelineError{Outbound: true, Err: fmt.Errorf("rtmp sink gone")}

	s := NewScheduler(playlists, blob)
	require.NoError(t, s.Start(context.Background(), 7, eng, 1))

	// First title + first push, then the outbound failure kills the
	// driver; the second clip must never be attempted.
	waitForEvents(t, eng, 2)
	select {
	case ev := <-eng.eventCh:
		t.Fatalf("driver must terminate after an outbound pipeline error, got %q", ev)
	case <-time.After(200 * time.Millisecond):
	}
	require.Equal(t, []string{"title:Alpha", "push:clip one"}, eng.snapshot())

	// The session entry survives until an explicit stop tears it down.
	require.True(t, s.IsLive(7))
	_, err := s.Stop(7)
	require.NoError(t, err)
}

func TestStartTwiceIsConflict(t *testing.T) {
	playlists := &fakePlaylists{}
	s := NewScheduler(playlists, &fakeBlob{objects: map[string][]byte{}})

	require.NoError(t, s.Start(context.Background(), 7, newFakeEngine(), 1))
	err := s.Start(context.Background(), 7, newFakeEngine(), 1)
	require.True(t, errors.Is(err, errs.ErrConflict))

	_, err = s.Stop(7)
	require.NoError(t, err)
}

func TestStopUnknownUserIsNotFound(t *testing.T) {
	s := NewScheduler(&fakePlaylists{}, &fakeBlob{objects: map[string][]byte{}})
	_, err := s.Stop(12345)
	require.True(t, errors.Is(err, errs.ErrNotFound))
}
