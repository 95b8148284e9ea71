// Package broadcast drives the Live-Push Engine from a user's active
// playlists: the per-user control loop described in spec §4.9. Grounded
// on original_source/src/service/live.rs's start_live/stop_live (a
// DashMap of user id -> (task, streamer, stopped-flag)), adapted to the
// teacher's concurrency idiom (sync.Map plus explicit stop channels, the
// same shape as internal/playlist/scheduler.go's ticker-driven loop).
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pcmid/clipchan/internal/errs"
	"github.com/pcmid/clipchan/internal/model"
	"github.com/pcmid/clipchan/internal/storage"
	"github.com/pcmid/clipchan/internal/upstream"
)

// retrySleep is how long the driver waits after a failed clip lookup or
// blob-store open before moving on to the next position, and between
// rounds in which every active playlist was empty (spec §4.9 driver loop).
const retrySleep = 3 * time.Second

var (
	liveSessionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "clipchan_broadcast_live_sessions",
		Help: "Number of users currently driving a live broadcast.",
	})
	clipsPlayedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clipchan_broadcast_clips_played_total",
		Help: "Clips successfully pushed through the live-push engine.",
	})
)

func init() {
	prometheus.MustRegister(liveSessionsGauge, clipsPlayedTotal)
}

// Engine is the live-push surface the driver loop needs. Satisfied by
// *livepush.Engine; narrowed to an interface so driver behavior is
// testable without a native media pipeline.
type Engine interface {
	UpdateTitle(text string) error
	Push(ctx context.Context, r io.Reader) error
	Stop() error
}

// PlaylistSource is the read-side playlist surface the driver loop
// needs. Satisfied by *repo.PlaylistRepo.
type PlaylistSource interface {
	ActiveByUser(ctx context.Context, userID int64) ([]model.Playlist, error)
	Items(ctx context.Context, playlistID int64) ([]model.PlaylistItem, error)
	ActiveClipAtPosition(ctx context.Context, playlistID, position int64) (*model.Clip, error)
}

// session is one user's live broadcast: the engine instance, the driver
// goroutine's cooperative stop flag, and the resolved room id needed to
// call stop_live on the upstream platform.
type session struct {
	engine   Engine
	roomID   uint64
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// Scheduler owns every active user's driver goroutine, keyed by user id
// in a concurrent map (spec §5: "a concurrent map with per-key shard
// locks" -- sync.Map provides that here).
type Scheduler struct {
	playlists PlaylistSource
	blob      storage.Blob
	sessions  sync.Map // int64 -> *session
}

func NewScheduler(playlists PlaylistSource, blob storage.Blob) *Scheduler {
	return &Scheduler{playlists: playlists, blob: blob}
}

// IsLive reports whether a driver is currently registered for userID.
func (s *Scheduler) IsLive(userID int64) bool {
	_, ok := s.sessions.Load(userID)
	return ok
}

// Start registers engine as userID's live session and spawns its driver
// goroutine. engine must already be started (Engine.Start) by the caller,
// mirroring spec §4.9 step 4-5: the engine is built and started before
// the driver task is spawned.
func (s *Scheduler) Start(ctx context.Context, userID int64, engine Engine, roomID uint64) error {
	if _, loaded := s.sessions.Load(userID); loaded {
		return fmt.Errorf("broadcast: user %d already streaming: %w", userID, errs.ErrConflict)
	}

	sess := &session{
		engine: engine,
		roomID: roomID,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.sessions.Store(userID, sess)
	liveSessionsGauge.Inc()

	go s.drive(ctx, userID, sess)
	return nil
}

// Stop signals userID's driver to exit, stops its engine, and removes the
// session entry. It returns the resolved room id so the caller (the
// service layer) can still call the upstream stop_live RPC after the
// local state is torn down.
func (s *Scheduler) Stop(userID int64) (uint64, error) {
	v, ok := s.sessions.LoadAndDelete(userID)
	if !ok {
		return 0, fmt.Errorf("broadcast: no active session for user %d: %w", userID, errs.ErrNotFound)
	}
	sess := v.(*session)
	sess.stopOnce.Do(func() { close(sess.stopCh) })
	liveSessionsGauge.Dec()

	if err := sess.engine.Stop(); err != nil {
		slog.Error("broadcast: engine stop failed", "user_id", userID, "error", err)
	}
	<-sess.done
	return sess.roomID, nil
}

// drive is the per-user control loop of spec §4.9: round-robin the
// user's active playlists, push each clip in ascending position order,
// and exit (without tearing down the RTMP session) once the user has no
// active playlists. A round in which every active playlist is empty waits
// retrySleep and then polls the playlists again.
func (s *Scheduler) drive(ctx context.Context, userID int64, sess *session) {
	defer close(sess.done)
	logger := slog.With("user_id", userID)

	for {
		select {
		case <-sess.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		playlists, err := s.playlists.ActiveByUser(ctx, userID)
		if err != nil {
			logger.Error("broadcast: failed to list active playlists", "error", err)
			return
		}
		if len(playlists) == 0 {
			logger.Warn("broadcast: no active playlists, driver exiting (RTMP session remains live)")
			return
		}

		anyItems := false
		for _, p := range playlists {
			if !p.IsActive {
				continue
			}
			played, err := s.driveOnce(ctx, sess, userID, &p)
			if err != nil {
				logger.Error("broadcast: outbound pipeline failed, terminating driver", "error", err)
				return
			}
			if played {
				anyItems = true
			}
			select {
			case <-sess.stopCh:
				return
			case <-ctx.Done():
				return
			default:
			}
		}
		if !anyItems {
			// Every active playlist was empty this round; avoid a tight
			// spin loop while still re-polling for newly added items.
			select {
			case <-sess.stopCh:
				return
			case <-ctx.Done():
				return
			case <-time.After(retrySleep):
			}
		}
	}
}

// driveOnce plays every item of one playlist in ascending position
// order. played reports whether the playlist had any items at all, so
// the caller can distinguish "played a full round" from "every playlist
// was empty" without an extra repository round-trip. A non-nil error
// means the outbound pipeline itself failed, which is fatal to the whole
// broadcast; inbound clip failures are logged and skipped.
func (s *Scheduler) driveOnce(ctx context.Context, sess *session, userID int64, p *model.Playlist) (played bool, err error) {
	logger := slog.With("user_id", userID, "playlist_id", p.ID)

	items, err := s.playlists.Items(ctx, p.ID)
	if err != nil {
		logger.Error("broadcast: failed to count playlist items", "error", err)
		return false, nil
	}
	n := int64(len(items))
	if n == 0 {
		logger.Warn("broadcast: playlist has no items")
		return false, nil
	}

	for i := int64(0); i < n; i++ {
		select {
		case <-sess.stopCh:
			return true, nil
		case <-ctx.Done():
			return true, nil
		default:
		}

		clip, err := s.playlists.ActiveClipAtPosition(ctx, p.ID, i)
		if err != nil {
			logger.Warn("broadcast: failed to fetch active clip", "position", i, "error", err)
			sleepOrStop(ctx, sess, retrySleep)
			continue
		}
		if clip == nil {
			sleepOrStop(ctx, sess, retrySleep)
			continue
		}

		key := clip.UUID.String() + ".mp4"
		reader, err := s.blob.Get(ctx, key)
		if err != nil {
			logger.Warn("broadcast: failed to open clip from blob store", "clip_uuid", clip.UUID, "error", err)
			sleepOrStop(ctx, sess, retrySleep)
			continue
		}

		if err := sess.engine.UpdateTitle(clip.Title); err != nil {
			logger.Error("broadcast: failed to update title", "error", err)
		}
		err = sess.engine.Push(ctx, reader)
		reader.Close()
		if err != nil {
			var pe *errs.PipelineError
			if errors.As(err, &pe) && pe.Outbound {
				return true, err
			}
			logger.Warn("broadcast: clip push ended in error, continuing", "clip_uuid", clip.UUID, "error", err)
			continue
		}
		clipsPlayedTotal.Inc()
	}
	return true, nil
}

func sleepOrStop(ctx context.Context, sess *session, d time.Duration) {
	select {
	case <-sess.stopCh:
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// ResolveRoomID fetches the room id bilibili assigned to user.Mid,
// failing with errs.ErrNotFound if the user has no room (spec §4.9 step
// 2: "fail if room_id == 0").
func ResolveRoomID(ctx context.Context, room *upstream.RoomClient, mid int64) (uint64, error) {
	info, err := room.MasterInfo(ctx, mid)
	if err != nil {
		return 0, err
	}
	if info.RoomID == 0 {
		return 0, fmt.Errorf("broadcast: mid %d has no room: %w", mid, errs.ErrNotFound)
	}
	return info.RoomID, nil
}
