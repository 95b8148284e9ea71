package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pcmid/clipchan/internal/errs"
	"github.com/pcmid/clipchan/internal/model"
	"github.com/pcmid/clipchan/internal/repo"
	"github.com/pcmid/clipchan/internal/upstream"
)

// UserService owns the QR-login flow and the per-request session
// refresh that every authenticated upstream call needs first. Grounded
// on original_source/src/service/user.rs.
type UserService struct {
	users *repo.UserRepo
}

func NewUserService(users *repo.UserRepo) *UserService {
	return &UserService{users: users}
}

// BeginLogin opens a fresh, unauthenticated upstream.Session and returns
// its QR code. The caller is responsible for holding the Session (it is
// not yet associated with any user row) until WaitForLogin resolves it.
func (s *UserService) BeginLogin(ctx context.Context) (*upstream.Session, *upstream.QrCodeInfo, error) {
	sess, err := upstream.NewSession()
	if err != nil {
		return nil, nil, err
	}
	info, err := sess.GetQRCode(ctx)
	if err != nil {
		return nil, nil, err
	}
	return sess, info, nil
}

// CompleteLogin waits for the QR code to be confirmed, fetches the
// account's mid/uname, and upserts the user row with the session blob
// (spec §3: "Created on first successful login; mutated on login
// refresh").
func (s *UserService) CompleteLogin(ctx context.Context, sess *upstream.Session, qrcodeKey string, timeout time.Duration) (*model.User, error) {
	if _, err := sess.WaitForLogin(ctx, qrcodeKey, timeout); err != nil {
		return nil, err
	}

	mid, uname, err := sess.GetAccount(ctx)
	if err != nil {
		return nil, err
	}
	blob, err := sess.Marshal()
	if err != nil {
		return nil, err
	}

	u := &model.User{Mid: mid, Uname: uname, Session: blob}
	if err := s.users.Upsert(ctx, u); err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return u, nil
}

// SessionFor restores the upstream.Session stored on u.Session. It fails
// with errs.ErrSessionInvalid if the user has never logged in (empty
// session blob).
func (s *UserService) SessionFor(u *model.User) (*upstream.Session, error) {
	if u.Session == "" {
		return nil, fmt.Errorf("user %d has no session: %w", u.ID, errs.ErrSessionInvalid)
	}
	return upstream.Unmarshal(u.Session)
}

// SessionAndRefresh restores u's session and runs the refresh protocol
// (spec §4.4). A refresh failure clears the stored session and surfaces
// errs.ErrSessionInvalid, per spec §7's SessionInvalid recovery policy.
func (s *UserService) SessionAndRefresh(ctx context.Context, u *model.User) (*upstream.Session, error) {
	sess, err := s.SessionFor(u)
	if err != nil {
		return nil, err
	}
	if err := sess.Refresh(ctx); err != nil {
		if clearErr := s.users.ClearSession(ctx, u.ID); clearErr != nil {
			slog.Error("failed to clear session after refresh failure", "user_id", u.ID, "error", clearErr)
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrSessionInvalid, err)
	}
	if blob, err := sess.Marshal(); err == nil {
		_ = s.users.UpdateSession(ctx, u.ID, blob)
	}
	return sess, nil
}

// InvalidateSession wipes u's stored session blob so the next
// authenticated call forces a fresh QR login.
func (s *UserService) InvalidateSession(ctx context.Context, userID int64) {
	if err := s.users.ClearSession(ctx, userID); err != nil {
		slog.Error("failed to clear invalid session", "user_id", userID, "error", err)
	}
}

func (s *UserService) GetByID(ctx context.Context, id int64) (*model.User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *UserService) GetByMid(ctx context.Context, mid int64) (*model.User, error) {
	return s.users.GetByMid(ctx, mid)
}

// CheckStreamPermissions enforces spec §4.9 step 1: the user must be
// able_to_stream and not disabled.
func (s *UserService) CheckStreamPermissions(u *model.User) error {
	if u.IsDisabled {
		return fmt.Errorf("user %d is disabled: %w", u.ID, errs.ErrForbidden)
	}
	if !u.CanStream {
		return fmt.Errorf("user %d lacks stream permission: %w", u.ID, errs.ErrForbidden)
	}
	return nil
}

// SetPermissions is the admin-only mutation of a user's flags.
func (s *UserService) SetPermissions(ctx context.Context, id int64, isAdmin, canStream, isDisabled bool) error {
	return s.users.SetPermissions(ctx, id, isAdmin, canStream, isDisabled)
}
