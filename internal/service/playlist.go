// Package service is clipchan's aggregator layer: thin glue between the
// repositories, the ingestion pipeline, the upstream session/room
// clients, and the broadcast scheduler, with no HTTP-framework
// dependency (the gin handlers in internal/httpapi translate to/from
// these types). Grounded on original_source/src/service/{playlist,clip,
// live}.rs.
package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/pcmid/clipchan/internal/model"
	"github.com/pcmid/clipchan/internal/repo"
)

// PlaylistService mediates PlaylistRepo access, owning the ownership
// check every operation needs: a user may only see and mutate their own
// playlists. Grounded on original_source/src/service/playlist.rs.
type PlaylistService struct {
	playlists *repo.PlaylistRepo
}

func NewPlaylistService(playlists *repo.PlaylistRepo) *PlaylistService {
	return &PlaylistService{playlists: playlists}
}

func (s *PlaylistService) Create(ctx context.Context, p *model.Playlist) error {
	return s.playlists.Create(ctx, p)
}

func (s *PlaylistService) ListByUser(ctx context.Context, userID int64) ([]model.Playlist, error) {
	return s.playlists.ListByUser(ctx, userID)
}

func (s *PlaylistService) Get(ctx context.Context, userID, id int64) (*model.Playlist, error) {
	return s.playlists.Get(ctx, userID, id)
}

func (s *PlaylistService) Delete(ctx context.Context, userID, id int64) error {
	if _, err := s.playlists.Get(ctx, userID, id); err != nil {
		return err
	}
	return s.playlists.Delete(ctx, id)
}

// SetActive idempotently toggles a playlist's active flag (spec_full
// supplemental feature 4: re-setting the current state leaves the flag
// unchanged, handled one layer down in PlaylistRepo.SetActive).
func (s *PlaylistService) SetActive(ctx context.Context, userID, id int64, active bool) error {
	if _, err := s.playlists.Get(ctx, userID, id); err != nil {
		return err
	}
	return s.playlists.SetActive(ctx, id, active)
}

func (s *PlaylistService) Items(ctx context.Context, userID, id int64) ([]model.PlaylistItem, error) {
	if _, err := s.playlists.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.playlists.Items(ctx, id)
}

// AddClip appends clipUUID to the playlist, idempotently (testable
// property 2).
func (s *PlaylistService) AddClip(ctx context.Context, userID, playlistID int64, clipUUID uuid.UUID) (*model.PlaylistItem, error) {
	if _, err := s.playlists.Get(ctx, userID, playlistID); err != nil {
		return nil, err
	}
	return s.playlists.AddItem(ctx, playlistID, clipUUID)
}

func (s *PlaylistService) RemoveClip(ctx context.Context, userID, playlistID int64, clipUUID uuid.UUID) error {
	if _, err := s.playlists.Get(ctx, userID, playlistID); err != nil {
		return err
	}
	return s.playlists.RemoveItem(ctx, playlistID, clipUUID)
}

// Reorder checks playlist ownership and delegates to
// PlaylistRepo.ReorderItem, which validates 0 <= newPosition < item count
// (spec §4.3) and reports an out-of-range position as errs.ErrConflict.
func (s *PlaylistService) Reorder(ctx context.Context, userID, playlistID, itemID, newPosition int64) error {
	if _, err := s.playlists.Get(ctx, userID, playlistID); err != nil {
		return err
	}
	return s.playlists.ReorderItem(ctx, playlistID, itemID, newPosition)
}

// ActivePlaylists returns userID's active playlists. The broadcast
// scheduler does not call it; its driver loop reads
// PlaylistRepo.ActiveByUser directly.
func (s *PlaylistService) ActivePlaylists(ctx context.Context, userID int64) ([]model.Playlist, error) {
	return s.playlists.ActiveByUser(ctx, userID)
}
