package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/pcmid/clipchan/internal/errs"
	"github.com/pcmid/clipchan/internal/ingest"
	"github.com/pcmid/clipchan/internal/model"
	"github.com/pcmid/clipchan/internal/repo"
	"github.com/pcmid/clipchan/internal/storage"
)

// ClipService owns the upload-to-review lifecycle: staging an upload to
// a temp file, creating the clip row, and enqueueing it on the
// Ingestion Pipeline. Grounded on
// original_source/src/service/clip.rs's save_clip_to_tmp/create_clip.
type ClipService struct {
	clips    *repo.ClipRepo
	blob     storage.Blob
	pipeline *ingest.Pipeline
	tmpDir   string
}

func NewClipService(clips *repo.ClipRepo, blob storage.Blob, pipeline *ingest.Pipeline, tmpDir string) *ClipService {
	return &ClipService{clips: clips, blob: blob, pipeline: pipeline, tmpDir: tmpDir}
}

// Upload stages src to a UUID-named temp file under tmpDir, creates the
// clip row in Pending status, and enqueues a ProcessJob (spec_full
// supplemental feature 7). It returns the created clip.
func (s *ClipService) Upload(ctx context.Context, userID int64, title, vup, song string, src io.Reader) (*model.Clip, error) {
	id := uuid.New()
	tmpPath := filepath.Join(s.tmpDir, id.String()+".upload")

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, &errs.StorageError{Op: "create temp upload file", Err: err}
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, &errs.StorageError{Op: "stage upload", Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, &errs.StorageError{Op: "close staged upload", Err: err}
	}

	clip := &model.Clip{
		UUID:       id,
		Title:      title,
		Vup:        vup,
		Song:       song,
		UploadTime: time.Now(),
		Status:     model.ClipPending,
		UserID:     userID,
	}
	if err := s.clips.Create(ctx, clip); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("create clip: %w", err)
	}

	job := model.ProcessJob{Clip: *clip, InputPath: tmpPath}
	if err := s.pipeline.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue process job: %w", err)
	}
	return clip, nil
}

// ListByUser lists the caller's own clips, or every clip when isAdmin
// (spec_full supplemental feature 5).
func (s *ClipService) ListByUser(ctx context.Context, userID int64, isAdmin bool) ([]model.Clip, error) {
	return s.clips.ListByUser(ctx, userID, isAdmin)
}

func (s *ClipService) Get(ctx context.Context, id uuid.UUID) (*model.Clip, error) {
	return s.clips.GetByUUID(ctx, id)
}

// Update edits a clip's metadata, refusing non-admin edits to a Reviewed
// clip (spec_full supplemental feature 6, enforced by ClipRepo.Update).
func (s *ClipService) Update(ctx context.Context, c *model.Clip, isAdmin bool) error {
	return s.clips.Update(ctx, c, isAdmin)
}

// SetReviewed transitions a clip Reviewing->Reviewed; only an admin may
// call this (enforced by the handler layer's auth middleware, since the
// repository itself does not know about caller identity here).
func (s *ClipService) SetReviewed(ctx context.Context, id uuid.UUID) error {
	return s.clips.SetReviewed(ctx, id)
}

// Delete removes the clip's row (cascading playlist-item renumbering,
// spec §4.2) and its blob.
func (s *ClipService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.clips.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.blob.Delete(ctx, id.String()+".mp4"); err != nil {
		return &errs.StorageError{Op: "delete", Err: err}
	}
	return nil
}

// OpenRange opens a byte range of a clip's stored media for the
// HTTP range-read preview endpoint (spec §6).
func (s *ClipService) OpenRange(ctx context.Context, id uuid.UUID, start, end int64) (io.ReadCloser, error) {
	return s.blob.GetRange(ctx, id.String()+".mp4", start, end)
}

// Size returns the stored clip's byte length.
func (s *ClipService) Size(ctx context.Context, id uuid.UUID) (int64, error) {
	return s.blob.Size(ctx, id.String()+".mp4")
}

// Open opens the full stored clip for sequential reading.
func (s *ClipService) Open(ctx context.Context, id uuid.UUID) (io.ReadCloser, error) {
	return s.blob.Get(ctx, id.String()+".mp4")
}
