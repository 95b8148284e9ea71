package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pcmid/clipchan/internal/errs"
	"github.com/pcmid/clipchan/internal/model"
)

// UserRepo keys accounts by upstream mid and stores their serialized
// upstream.Session alongside the local admin flag.
type UserRepo struct {
	db *DB
}

func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

// Upsert creates the account on first login, otherwise refreshes its
// display name and session blob. Permission flags (is_admin, can_stream,
// is_disabled) are left untouched on conflict; they're mutated only
// through SetPermissions.
func (r *UserRepo) Upsert(ctx context.Context, u *model.User) error {
	const q = `INSERT INTO "user" (mid, uname, session, is_admin)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (mid) DO UPDATE SET uname = $2, session = $3, updated_at = now()
		RETURNING id, is_admin, can_stream, is_disabled, created_at, updated_at`
	return r.db.QueryRow(ctx, q, u.Mid, u.Uname, u.Session, u.IsAdmin).
		Scan(&u.ID, &u.IsAdmin, &u.CanStream, &u.IsDisabled, &u.CreatedAt, &u.UpdatedAt)
}

func (r *UserRepo) GetByMid(ctx context.Context, mid int64) (*model.User, error) {
	const q = `SELECT id, mid, uname, session, is_admin, can_stream, is_disabled, created_at, updated_at FROM "user" WHERE mid = $1`
	return scanUser(r.db.QueryRow(ctx, q, mid))
}

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*model.User, error) {
	const q = `SELECT id, mid, uname, session, is_admin, can_stream, is_disabled, created_at, updated_at FROM "user" WHERE id = $1`
	return scanUser(r.db.QueryRow(ctx, q, id))
}

// UpdateSession persists a freshly refreshed session blob without
// touching any other field.
func (r *UserRepo) UpdateSession(ctx context.Context, id int64, session string) error {
	tag, err := r.db.Exec(ctx, `UPDATE "user" SET session = $1, updated_at = now() WHERE id = $2`, session, id)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ClearSession wipes a user's stored session blob, forcing re-login on
// the next authenticated call. Used when SessionInvalid surfaces.
func (r *UserRepo) ClearSession(ctx context.Context, id int64) error {
	return r.UpdateSession(ctx, id, "")
}

// SetPermissions is the admin-only mutation of a user's is_admin,
// can_stream, and is_disabled flags.
func (r *UserRepo) SetPermissions(ctx context.Context, id int64, isAdmin, canStream, isDisabled bool) error {
	const q = `UPDATE "user" SET is_admin = $1, can_stream = $2, is_disabled = $3, updated_at = now() WHERE id = $4`
	tag, err := r.db.Exec(ctx, q, isAdmin, canStream, isDisabled, id)
	if err != nil {
		return fmt.Errorf("set user permissions: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Mid, &u.Uname, &u.Session, &u.IsAdmin, &u.CanStream, &u.IsDisabled, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}
