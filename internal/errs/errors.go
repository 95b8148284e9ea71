// Package errs defines clipchan's error taxonomy. Each kind carries its own
// recovery policy in the callers that handle it (scheduler, ingestion
// pipeline, upstream session) rather than in this package.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
	ErrConflict  = errors.New("conflict")
)

// StorageError wraps a failure from the blob store. When the scheduler
// cannot open a clip from the blob store it sleeps and moves on to the
// next clip; a storage failure never aborts a driver outright.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// UpstreamError represents a non-zero `code` response from the upstream
// (bilibili-like) API. Msg is the upstream-supplied human message.
type UpstreamError struct {
	Code int
	Msg  string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error %d: %s", e.Code, e.Msg)
}

// SessionInvalid means the stored UpstreamSession's cookies no longer
// authenticate; the caller must prompt for a fresh QR login.
var ErrSessionInvalid = errors.New("upstream session invalid")

// ErrQrExpired is returned when a QR login poll reports the code expired
// before being scanned.
var ErrQrExpired = errors.New("qr login code expired")

// ErrTimeout is returned when a QR login poll loop exceeds its deadline
// without resolving to confirmed or expired.
var ErrTimeout = errors.New("operation timed out")

// ErrWbiExpired means the cached mixin key is older than its validity
// window and must be refreshed from nav before signing again.
var ErrWbiExpired = errors.New("wbi mixin key expired")

// PipelineError wraps a failure from the live-push media pipeline.
// Outbound is true for failures in the encode/mux/RTMP-sink half, which
// are fatal to the whole broadcast session; Outbound false scopes the
// failure to the current inbound clip only, and playback can continue
// with the next clip.
type PipelineError struct {
	Outbound bool
	Err      error
}

func (e *PipelineError) Error() string {
	scope := "inbound"
	if e.Outbound {
		scope = "outbound"
	}
	return fmt.Sprintf("pipeline (%s): %v", scope, e.Err)
}
func (e *PipelineError) Unwrap() error { return e.Err }

// JobFailed wraps an ingestion job failure (ffmpeg analyze/normalize, or
// the subsequent store), tagged with the clip UUID for log correlation.
type JobFailed struct {
	ClipUUID string
	Err      error
}

func (e *JobFailed) Error() string {
	return fmt.Sprintf("job failed for clip %s: %v", e.ClipUUID, e.Err)
}
func (e *JobFailed) Unwrap() error { return e.Err }
