// Package ingest runs clipchan's asynchronous transcoding pipeline: a
// bounded in-memory job queue drained by a fixed worker pool that
// loudness-analyzes and normalizes each uploaded clip before handing the
// result to the blob store. Grounded on
// original_source/src/service/clip.rs's process_clip (apalis
// MemoryStorage queue, tokio::process::Command transcode) and adapted to
// the teacher's worker-pool idiom via golang.org/x/sync/errgroup.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/pcmid/clipchan/internal/errs"
	"github.com/pcmid/clipchan/internal/ffmpeg"
	"github.com/pcmid/clipchan/internal/model"
	"github.com/pcmid/clipchan/internal/repo"
	"github.com/pcmid/clipchan/internal/storage"
)

// DefaultConcurrency is the worker pool size when Pipeline isn't given
// an explicit one, matching spec §4.7's "default 2".
const DefaultConcurrency = 2

var (
	jobsProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clipchan_ingest_jobs_total",
		Help: "Ingestion jobs completed, by terminal clip status.",
	}, []string{"status"})
	queueDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "clipchan_ingest_queue_depth",
		Help: "Number of process jobs currently buffered in the ingestion queue.",
	})
)

func init() {
	prometheus.MustRegister(jobsProcessedTotal, queueDepthGauge)
}

// Pipeline consumes model.ProcessJob values enqueued by the clip upload
// path, running the two-pass ffmpeg loudnorm transcode (spec §4.7.2-3)
// and driving each clip's status transitions.
type Pipeline struct {
	clips       *repo.ClipRepo
	blob        storage.Blob
	transcoder  *ffmpeg.Transcoder
	jobs        chan model.ProcessJob
	concurrency int
}

// New constructs a Pipeline with a bounded job channel. concurrency <= 0
// falls back to DefaultConcurrency; queueDepth <= 0 falls back to 64.
func New(clips *repo.ClipRepo, blob storage.Blob, transcoder *ffmpeg.Transcoder, concurrency, queueDepth int) *Pipeline {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if queueDepth <= 0 {
		queueDepth = 64
	}
	return &Pipeline{
		clips:       clips,
		blob:        blob,
		transcoder:  transcoder,
		jobs:        make(chan model.ProcessJob, queueDepth),
		concurrency: concurrency,
	}
}

// Enqueue submits a job for asynchronous processing. It blocks if the
// bounded queue is full; callers on a request path should pass a
// request-scoped context so a full queue surfaces as a timeout rather
// than an indefinite stall.
func (p *Pipeline) Enqueue(ctx context.Context, job model.ProcessJob) error {
	select {
	case p.jobs <- job:
		queueDepthGauge.Set(float64(len(p.jobs)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the worker pool and blocks until ctx is cancelled and every
// in-flight job has drained. Intended to be run in its own goroutine from
// main.
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.concurrency; i++ {
		workerID := i
		g.Go(func() error {
			p.worker(ctx, workerID)
			return nil
		})
	}
	<-ctx.Done()
	close(p.jobs)
	return g.Wait()
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	slog.Info("ingestion worker started", "worker", id)
	for {
		select {
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			queueDepthGauge.Set(float64(len(p.jobs)))
			p.process(ctx, job)
		case <-ctx.Done():
			return
		}
	}
}

// process runs one job's full lifecycle, per spec §4.7:
// Pending->Processing, analyze, normalize, store, Processing->Reviewing,
// or Processing->Failed on any failure along the way.
func (p *Pipeline) process(ctx context.Context, job model.ProcessJob) {
	clipUUID := job.Clip.UUID
	logger := slog.With("clip_uuid", clipUUID.String())

	if err := p.clips.TransitionStatus(ctx, clipUUID, model.ClipPending, model.ClipProcessing); err != nil {
		logger.Error("ingest: cannot start processing", "error", err)
		return
	}

	if err := p.transcode(ctx, job.InputPath); err != nil {
		p.fail(ctx, clipUUID, job.InputPath, &errs.JobFailed{ClipUUID: clipUUID.String(), Err: err})
		return
	}

	blobKey := clipUUID.String() + ".mp4"
	if err := p.store(ctx, blobKey, job.InputPath); err != nil {
		p.fail(ctx, clipUUID, job.InputPath, &errs.JobFailed{ClipUUID: clipUUID.String(), Err: err})
		return
	}
	if err := os.Remove(job.InputPath); err != nil && !os.IsNotExist(err) {
		logger.Warn("ingest: failed to clean up staged upload", "path", job.InputPath, "error", err)
	}

	if err := p.clips.TransitionStatus(ctx, clipUUID, model.ClipProcessing, model.ClipReviewing); err != nil {
		logger.Error("ingest: cannot mark reviewing after successful store", "error", err)
		return
	}
	jobsProcessedTotal.WithLabelValues(string(model.ClipReviewing)).Inc()
	logger.Info("ingest: clip ready for review")
}

// transcode runs loudness analysis then the linear-normalize pass,
// atomically replacing inputPath's contents with the normalized output
// (spec §4.7.4: "atomically rename output -> input").
func (p *Pipeline) transcode(ctx context.Context, inputPath string) error {
	stats, err := p.transcoder.AnalyzeLoudness(ctx, inputPath)
	if err != nil {
		return fmt.Errorf("loudness analysis: %w", err)
	}

	outputPath := inputPath + ".normalized.mp4"
	defer os.Remove(outputPath)

	if err := p.transcoder.Normalize(ctx, inputPath, outputPath, stats); err != nil {
		return fmt.Errorf("normalize: %w", err)
	}
	if err := os.Rename(outputPath, inputPath); err != nil {
		return fmt.Errorf("replace input with normalized output: %w", err)
	}
	return nil
}

func (p *Pipeline) store(ctx context.Context, key, inputPath string) error {
	f, err := os.Open(inputPath)
	if err != nil {
		return &errs.StorageError{Op: "open normalized clip", Err: err}
	}
	defer f.Close()

	if err := p.blob.Put(ctx, key, f); err != nil {
		return &errs.StorageError{Op: "put", Err: err}
	}
	return nil
}

// fail records jobErr, transitions the clip to Failed, and best-effort
// removes the temp input file; failure to remove it is logged, never
// propagated.
func (p *Pipeline) fail(ctx context.Context, clipUUID uuid.UUID, inputPath string, jobErr error) {
	slog.Error("ingest: job failed", "error", jobErr)
	if err := p.clips.TransitionStatus(ctx, clipUUID, model.ClipProcessing, model.ClipFailed); err != nil {
		slog.Error("ingest: failed to record Failed status", "clip_uuid", clipUUID.String(), "error", err)
	} else {
		jobsProcessedTotal.WithLabelValues(string(model.ClipFailed)).Inc()
	}
	if err := os.Remove(inputPath); err != nil && !os.IsNotExist(err) {
		slog.Warn("ingest: failed to clean up temp artifact", "path", inputPath, "error", err)
	}
}
