// Package model holds the persistent data types shared across clipchan's
// repository, service, and pipeline layers.
package model

import (
	"time"

	"github.com/google/uuid"
)

// ClipStatus is the lifecycle state of an uploaded clip.
type ClipStatus string

const (
	ClipPending    ClipStatus = "pending"
	ClipProcessing ClipStatus = "processing"
	ClipFailed     ClipStatus = "failed"
	ClipReviewing  ClipStatus = "reviewing"
	ClipReviewed   ClipStatus = "reviewed"
)

// User is a local account bound to an upstream (bilibili-like) identity.
type User struct {
	ID         int64
	Mid        int64
	Uname      string
	Session    string // serialized UpstreamSession
	IsAdmin    bool
	CanStream  bool
	IsDisabled bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Clip is an uploaded video/audio fragment awaiting review and playback.
type Clip struct {
	ID         int64
	UUID       uuid.UUID
	Title      string
	Vup        string
	Song       string
	UploadTime time.Time
	Status     ClipStatus
	UserID     int64
}

// Playlist groups clips for round-robin playback while live.
type Playlist struct {
	ID          int64
	Name        string
	Description string
	UserID      int64
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PlaylistItem pins a clip at a zero-based, gap-free position within a
// playlist. The {0,...,n-1} contiguity is enforced by the repository on
// every append, remove, and reorder.
type PlaylistItem struct {
	ID         int64
	PlaylistID int64
	ClipUUID   uuid.UUID
	Position   int64
	CreatedAt  time.Time
}

// ProcessJob describes a unit of ingestion work: an uploaded clip that
// still needs loudness analysis, normalization, and storage.
type ProcessJob struct {
	Clip      Clip
	InputPath string
}
