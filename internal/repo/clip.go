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

// ClipRepo persists clips and enforces the review-lock edit rule.
// Grounded on original_source/src/data/clip.rs; delete_clip_with_playlist_items's
// cascade-and-renumber is shared with PlaylistRepo's RemoveItem logic.
type ClipRepo struct {
	db *DB
}

func NewClipRepo(db *DB) *ClipRepo { return &ClipRepo{db: db} }

func (r *ClipRepo) Create(ctx context.Context, c *model.Clip) error {
	const q = `INSERT INTO clip (uuid, title, vup, song, upload_time, status, user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	return r.db.QueryRow(ctx, q, c.UUID, c.Title, c.Vup, c.Song, c.UploadTime, c.Status, c.UserID).Scan(&c.ID)
}

// Update persists c's mutable fields. Non-admin edits to a reviewed clip
// are rejected with errs.ErrForbidden; bilibili-review is a one-way gate.
func (r *ClipRepo) Update(ctx context.Context, c *model.Clip, isAdmin bool) error {
	existing, err := r.GetByUUID(ctx, c.UUID)
	if err != nil {
		return err
	}
	if existing.Status == model.ClipReviewed && !isAdmin {
		return fmt.Errorf("update clip %s: %w", c.UUID, errs.ErrForbidden)
	}

	const q = `UPDATE clip SET title = $1, vup = $2, song = $3, status = $4 WHERE uuid = $5`
	tag, err := r.db.Exec(ctx, q, c.Title, c.Vup, c.Song, c.Status, c.UUID)
	if err != nil {
		return fmt.Errorf("update clip: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// SetReviewed transitions a clip out of Reviewing. It refuses to mark a
// clip reviewed before it has actually been queued for review.
func (r *ClipRepo) SetReviewed(ctx context.Context, id uuid.UUID) error {
	return r.TransitionStatus(ctx, id, model.ClipReviewing, model.ClipReviewed)
}

// TransitionStatus moves a clip from one lifecycle state to another,
// enforcing status monotonicity (spec testable property 3: no edge may
// enter Pending, and every transition must originate from the expected
// prior state). Used by the Ingestion Pipeline to drive
// Pending->Processing->{Reviewing,Failed}.
func (r *ClipRepo) TransitionStatus(ctx context.Context, id uuid.UUID, from, to model.ClipStatus) error {
	if to == model.ClipPending {
		return fmt.Errorf("clip %s: no transition may enter status %s: %w", id, to, errs.ErrConflict)
	}
	const q = `UPDATE clip SET status = $1 WHERE uuid = $2 AND status = $3`
	tag, err := r.db.Exec(ctx, q, to, id, from)
	if err != nil {
		return fmt.Errorf("transition clip %s status %s->%s: %w", id, from, to, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("clip %s is not in status %s: %w", id, from, errs.ErrConflict)
	}
	return nil
}

// RecoverStuckProcessing demotes every clip still Processing back to
// Failed. The in-memory job queue does not survive a restart (spec §9,
// "a recovery pass at startup that demotes Processing -> Failed is a
// recommended addition"); call this once during startup before the
// ingestion workers begin consuming new jobs.
func (r *ClipRepo) RecoverStuckProcessing(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `UPDATE clip SET status = $1 WHERE status = $2`, model.ClipFailed, model.ClipProcessing)
	if err != nil {
		return 0, fmt.Errorf("recover stuck processing clips: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *ClipRepo) GetByUUID(ctx context.Context, id uuid.UUID) (*model.Clip, error) {
	const q = `SELECT id, uuid, title, vup, song, upload_time, status, user_id FROM clip WHERE uuid = $1`
	row := r.db.QueryRow(ctx, q, id)
	return scanClip(row)
}

// ListByUser returns the caller's own clips, or every clip when isAdmin,
// matching list_clips_by_user / list_all_clips's admin-sees-all split.
func (r *ClipRepo) ListByUser(ctx context.Context, userID int64, isAdmin bool) ([]model.Clip, error) {
	var rows pgx.Rows
	var err error
	if isAdmin {
		rows, err = r.db.Query(ctx, `SELECT id, uuid, title, vup, song, upload_time, status, user_id FROM clip ORDER BY upload_time DESC`)
	} else {
		rows, err = r.db.Query(ctx, `SELECT id, uuid, title, vup, song, upload_time, status, user_id FROM clip WHERE user_id = $1 ORDER BY upload_time DESC`, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("list clips: %w", err)
	}
	defer rows.Close()

	var clips []model.Clip
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, err
		}
		clips = append(clips, *c)
	}
	return clips, rows.Err()
}

// Delete removes a clip and renumbers the playlists it was a member of,
// all inside one transaction so no playlist is ever left with a gap.
func (r *ClipRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete clip: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `SELECT DISTINCT playlist_id FROM playlist_item WHERE clip_uuid = $1`, id)
	if err != nil {
		return fmt.Errorf("list affected playlists: %w", err)
	}
	var playlistIDs []int64
	for rows.Next() {
		var pid int64
		if err := rows.Scan(&pid); err != nil {
			rows.Close()
			return err
		}
		playlistIDs = append(playlistIDs, pid)
	}
	rows.Close()

	if _, err := tx.Exec(ctx, `DELETE FROM playlist_item WHERE clip_uuid = $1`, id); err != nil {
		return fmt.Errorf("delete playlist items for clip: %w", err)
	}
	for _, pid := range playlistIDs {
		if err := renumberPlaylist(ctx, tx, pid); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM clip WHERE uuid = $1`, id); err != nil {
		return fmt.Errorf("delete clip: %w", err)
	}
	return tx.Commit(ctx)
}

func scanClip(row pgx.Row) (*model.Clip, error) {
	var c model.Clip
	err := row.Scan(&c.ID, &c.UUID, &c.Title, &c.Vup, &c.Song, &c.UploadTime, &c.Status, &c.UserID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan clip: %w", err)
	}
	return &c, nil
}
