package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pcmid/clipchan/internal/errs"
	"github.com/pcmid/clipchan/internal/model"
)

// PlaylistRepo maintains the position-density invariant
// ({0,...,n-1}, no gaps, no duplicates) across append, remove, and
// reorder. Grounded on original_source/src/data/playlist.rs's
// remove_playlist_item_and_reorder and reorder_playlist_item; the
// playlist_item(playlist_id, position) unique constraint in
// migrations/00001_init.sql is DEFERRABLE so the per-row renumbering
// loop below doesn't trip a premature violation mid-transaction.
type PlaylistRepo struct {
	db *DB
}

func NewPlaylistRepo(db *DB) *PlaylistRepo { return &PlaylistRepo{db: db} }

func (r *PlaylistRepo) Create(ctx context.Context, p *model.Playlist) error {
	const q = `INSERT INTO playlist (name, description, user_id, is_active)
		VALUES ($1, $2, $3, $4) RETURNING id, created_at, updated_at`
	return r.db.QueryRow(ctx, q, p.Name, p.Description, p.UserID, p.IsActive).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

func (r *PlaylistRepo) Get(ctx context.Context, userID, id int64) (*model.Playlist, error) {
	const q = `SELECT id, name, description, user_id, is_active, created_at, updated_at
		FROM playlist WHERE id = $1 AND user_id = $2`
	return scanPlaylist(r.db.QueryRow(ctx, q, id, userID))
}

func (r *PlaylistRepo) ListByUser(ctx context.Context, userID int64) ([]model.Playlist, error) {
	const q = `SELECT id, name, description, user_id, is_active, created_at, updated_at
		FROM playlist WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list playlists: %w", err)
	}
	defer rows.Close()

	var out []model.Playlist
	for rows.Next() {
		p, err := scanPlaylist(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// ActiveByUser returns every playlist the user has toggled on, the
// scheduler's round-robin feed, newest first.
func (r *PlaylistRepo) ActiveByUser(ctx context.Context, userID int64) ([]model.Playlist, error) {
	const q = `SELECT id, name, description, user_id, is_active, created_at, updated_at
		FROM playlist WHERE user_id = $1 AND is_active = true ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list active playlists: %w", err)
	}
	defer rows.Close()

	var out []model.Playlist
	for rows.Next() {
		p, err := scanPlaylist(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// SetActive idempotently sets a playlist's active flag; setting it to its
// current value leaves the flag unchanged (updated_at is still bumped),
// matching the original service's idempotent active-playlist toggling.
func (r *PlaylistRepo) SetActive(ctx context.Context, id int64, active bool) error {
	const q = `UPDATE playlist SET is_active = $1, updated_at = now() WHERE id = $2`
	tag, err := r.db.Exec(ctx, q, active, id)
	if err != nil {
		return fmt.Errorf("set playlist active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *PlaylistRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM playlist WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete playlist: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *PlaylistRepo) Items(ctx context.Context, playlistID int64) ([]model.PlaylistItem, error) {
	const q = `SELECT id, playlist_id, clip_uuid, position, created_at
		FROM playlist_item WHERE playlist_id = $1 ORDER BY position ASC`
	rows, err := r.db.Query(ctx, q, playlistID)
	if err != nil {
		return nil, fmt.Errorf("list playlist items: %w", err)
	}
	defer rows.Close()

	var out []model.PlaylistItem
	for rows.Next() {
		it, err := scanPlaylistItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *it)
	}
	return out, rows.Err()
}

// AddItem appends clipUUID at the end of the playlist. Adding a clip
// already present is idempotent: it returns the existing item untouched,
// matching add_to_playlist's idempotent insert.
func (r *PlaylistRepo) AddItem(ctx context.Context, playlistID int64, clipUUID uuid.UUID) (*model.PlaylistItem, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin add item: %w", err)
	}
	defer tx.Rollback(ctx)

	existing, err := scanPlaylistItem(tx.QueryRow(ctx,
		`SELECT id, playlist_id, clip_uuid, position, created_at FROM playlist_item WHERE playlist_id = $1 AND clip_uuid = $2`,
		playlistID, clipUUID))
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	var maxPosition *int64
	if err := tx.QueryRow(ctx, `SELECT MAX(position) FROM playlist_item WHERE playlist_id = $1`, playlistID).Scan(&maxPosition); err != nil {
		return nil, fmt.Errorf("get max position: %w", err)
	}
	next := int64(0)
	if maxPosition != nil {
		next = *maxPosition + 1
	}

	item := &model.PlaylistItem{PlaylistID: playlistID, ClipUUID: clipUUID, Position: next}
	const insertQ = `INSERT INTO playlist_item (playlist_id, clip_uuid, position) VALUES ($1, $2, $3) RETURNING id, created_at`
	if err := tx.QueryRow(ctx, insertQ, playlistID, clipUUID, next).Scan(&item.ID, &item.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert playlist item: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit add item: %w", err)
	}
	return item, nil
}

// RemoveItem deletes clipUUID from the playlist and closes the gap left
// behind by shifting every later item down by one position.
func (r *PlaylistRepo) RemoveItem(ctx context.Context, playlistID int64, clipUUID uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin remove item: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM playlist_item WHERE playlist_id = $1 AND clip_uuid = $2`, playlistID, clipUUID)
	if err != nil {
		return fmt.Errorf("delete playlist item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	if err := renumberPlaylist(ctx, tx, playlistID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ReorderItem moves itemID to newPosition and shifts by one, toward the
// old position, every item between the old position (exclusive) and
// newPosition (inclusive), keeping the sequence dense.
func (r *PlaylistRepo) ReorderItem(ctx context.Context, playlistID, itemID, newPosition int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reorder item: %w", err)
	}
	defer tx.Rollback(ctx)

	items, err := queryPlaylistItemsTx(ctx, tx, playlistID)
	if err != nil {
		return err
	}
	if newPosition < 0 || newPosition >= int64(len(items)) {
		return fmt.Errorf("reorder playlist item: %w", errs.ErrConflict)
	}

	var current *model.PlaylistItem
	for i := range items {
		if items[i].ID == itemID {
			current = &items[i]
			break
		}
	}
	if current == nil {
		return errs.ErrNotFound
	}
	if current.PlaylistID != playlistID {
		return fmt.Errorf("reorder playlist item: %w", errs.ErrForbidden)
	}

	oldPosition := current.Position
	if oldPosition == newPosition {
		return tx.Commit(ctx)
	}

	for _, it := range items {
		switch {
		case it.ID == itemID:
			if err := updateItemPosition(ctx, tx, it.ID, newPosition); err != nil {
				return err
			}
		case oldPosition < newPosition && it.Position > oldPosition && it.Position <= newPosition:
			if err := updateItemPosition(ctx, tx, it.ID, it.Position-1); err != nil {
				return err
			}
		case oldPosition > newPosition && it.Position >= newPosition && it.Position < oldPosition:
			if err := updateItemPosition(ctx, tx, it.ID, it.Position+1); err != nil {
				return err
			}
		}
	}

	return tx.Commit(ctx)
}

// ActiveClipAtPosition returns the clip at position within playlistID, or
// nil if the playlist is not active. Mirrors get_active_clip_by_position's
// "not active means nothing plays" short circuit.
func (r *PlaylistRepo) ActiveClipAtPosition(ctx context.Context, playlistID, position int64) (*model.Clip, error) {
	const q = `SELECT c.id, c.uuid, c.title, c.vup, c.song, c.upload_time, c.status, c.user_id
		FROM playlist_item pi
		JOIN clip c ON c.uuid = pi.clip_uuid
		JOIN playlist p ON p.id = pi.playlist_id
		WHERE pi.playlist_id = $1 AND pi.position = $2 AND p.is_active = true`
	clip, err := scanClip(r.db.QueryRow(ctx, q, playlistID, position))
	if errors.Is(err, errs.ErrNotFound) {
		return nil, nil
	}
	return clip, err
}

func renumberPlaylist(ctx context.Context, tx pgx.Tx, playlistID int64) error {
	items, err := queryPlaylistItemsTx(ctx, tx, playlistID)
	if err != nil {
		return err
	}
	for i, it := range items {
		if it.Position != int64(i) {
			if err := updateItemPosition(ctx, tx, it.ID, int64(i)); err != nil {
				return err
			}
		}
	}
	return nil
}

func queryPlaylistItemsTx(ctx context.Context, tx pgx.Tx, playlistID int64) ([]model.PlaylistItem, error) {
	rows, err := tx.Query(ctx, `SELECT id, playlist_id, clip_uuid, position, created_at
		FROM playlist_item WHERE playlist_id = $1 ORDER BY position ASC`, playlistID)
	if err != nil {
		return nil, fmt.Errorf("list playlist items for reorder: %w", err)
	}
	defer rows.Close()

	var out []model.PlaylistItem
	for rows.Next() {
		it, err := scanPlaylistItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *it)
	}
	return out, rows.Err()
}

func updateItemPosition(ctx context.Context, tx pgx.Tx, itemID, position int64) error {
	if _, err := tx.Exec(ctx, `UPDATE playlist_item SET position = $1 WHERE id = $2`, position, itemID); err != nil {
		return fmt.Errorf("update playlist item position: %w", err)
	}
	return nil
}

func scanPlaylist(row pgx.Row) (*model.Playlist, error) {
	var p model.Playlist
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.UserID, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan playlist: %w", err)
	}
	return &p, nil
}

func scanPlaylistItem(row pgx.Row) (*model.PlaylistItem, error) {
	var it model.PlaylistItem
	err := row.Scan(&it.ID, &it.PlaylistID, &it.ClipUUID, &it.Position, &it.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan playlist item: %w", err)
	}
	return &it, nil
}
