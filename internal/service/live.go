package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pcmid/clipchan/internal/broadcast"
	"github.com/pcmid/clipchan/internal/errs"
	"github.com/pcmid/clipchan/internal/livepush"
	"github.com/pcmid/clipchan/internal/model"
	"github.com/pcmid/clipchan/internal/upstream"
)

// sessionErrCodes are upstream response codes that mean the stored
// cookies no longer authenticate: 65530 (csrf token rejected), -101 (not
// logged in), -111 (csrf check failed).
var sessionErrCodes = map[int]bool{65530: true, -101: true, -111: true}

// surfaceUpstream maps session-related upstream failures to
// errs.ErrSessionInvalid after wiping u's stored session, per the
// UpstreamError recovery policy; every other error passes through.
func (s *LiveService) surfaceUpstream(ctx context.Context, u *model.User, err error) error {
	var ue *errs.UpstreamError
	if errors.As(err, &ue) && sessionErrCodes[ue.Code] {
		s.users.InvalidateSession(ctx, u.ID)
		return fmt.Errorf("%w: %v", errs.ErrSessionInvalid, err)
	}
	return err
}

// LiveService ties the upstream Room Client, the Live-Push Engine, and
// the Broadcast Scheduler together behind the start_live/stop_live
// surface spec §4.9 describes. Grounded on
// original_source/src/service/live.rs's LiveService.
type LiveService struct {
	users     *UserService
	scheduler *broadcast.Scheduler
	cfg       livepush.Config
}

func NewLiveService(users *UserService, scheduler *broadcast.Scheduler, cfg livepush.Config) *LiveService {
	return &LiveService{users: users, scheduler: scheduler, cfg: cfg}
}

// roomClientFor resolves a user's authenticated session and builds a
// RoomClient bound to it, refreshing the session first.
func (s *LiveService) roomClientFor(ctx context.Context, u *model.User) (*upstream.RoomClient, *upstream.Session, error) {
	sess, err := s.users.SessionAndRefresh(ctx, u)
	if err != nil {
		return nil, nil, err
	}
	return upstream.NewRoomClient(sess), sess, nil
}

// ListAreas resolves u's authenticated session and returns the upstream
// live-area catalogue (spec_full supplemental feature 1).
func (s *LiveService) ListAreas(ctx context.Context, u *model.User) ([]upstream.LiveArea, error) {
	room, _, err := s.roomClientFor(ctx, u)
	if err != nil {
		return nil, err
	}
	areas, err := room.ListAreas(ctx)
	if err != nil {
		return nil, s.surfaceUpstream(ctx, u, err)
	}
	return areas, nil
}

// StartLive runs spec §4.9's start_live sequence: permission check,
// session refresh, room resolution, the AlreadyLive guard, the upstream
// start-live RPC, Live-Push Engine construction/start, and finally
// registering the driver with the Broadcast Scheduler.
func (s *LiveService) StartLive(ctx context.Context, u *model.User, areaID int64) error {
	if err := s.users.CheckStreamPermissions(u); err != nil {
		return err
	}
	if s.scheduler.IsLive(u.ID) {
		return fmt.Errorf("user %d is already streaming: %w", u.ID, errs.ErrConflict)
	}

	room, _, err := s.roomClientFor(ctx, u)
	if err != nil {
		return err
	}

	roomID, err := broadcast.ResolveRoomID(ctx, room, u.Mid)
	if err != nil {
		return s.surfaceUpstream(ctx, u, err)
	}

	info, err := room.RoomInfo(ctx, roomID)
	if err != nil {
		return s.surfaceUpstream(ctx, u, err)
	}
	if info.LiveStatus == 1 {
		return fmt.Errorf("room %d is already live: %w", roomID, errAlreadyLive)
	}

	start, err := room.StartLive(ctx, roomID, areaID)
	if err != nil {
		return s.surfaceUpstream(ctx, u, err)
	}
	rtmpURL := start.RTMPAddr + start.RTMPCode
	slog.Info("upstream live session opened",
		"user_id", u.ID,
		"room_id", roomID,
		"area_id", areaID,
		"live_key", start.LiveKey,
		"sub_session_key", start.SubSessionKey,
		"isp", start.Isp,
	)

	engine := livepush.New(s.cfg)
	if err := engine.Start(rtmpURL); err != nil {
		return err
	}

	if err := s.scheduler.Start(ctx, u.ID, engine, roomID); err != nil {
		_ = engine.Stop()
		return err
	}
	return nil
}

// StopLive runs spec §4.9's stop_live sequence: stop the local driver
// and engine first, then refresh the session and call the upstream
// stop_live RPC with the resolved room id.
func (s *LiveService) StopLive(ctx context.Context, u *model.User) error {
	roomID, err := s.scheduler.Stop(u.ID)
	if err != nil {
		return err
	}

	room, _, err := s.roomClientFor(ctx, u)
	if err != nil {
		return err
	}
	if err := room.StopLive(ctx, roomID); err != nil {
		return s.surfaceUpstream(ctx, u, err)
	}
	return nil
}

// errAlreadyLive is spec §9's "Open question — start_live with an
// already-live room": the upstream check happens before calling start,
// distinct from a change=0 response to the start call itself (handled as
// an errs.UpstreamError by RoomClient.StartLive).
var errAlreadyLive = fmt.Errorf("live room is already streaming")
