package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// LocalConfig configures the local-filesystem blob backend.
type LocalConfig struct {
	Path string
}

// Local is a filesystem-backed Blob store. Writes land in a temp file in
// the same directory and are renamed into place, the atomic-publish idiom
// used by the teacher's playlist store (internal/playlist/store.go).
type Local struct {
	root string
}

func NewLocal(cfg LocalConfig) (*Local, error) {
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory %s: %w", cfg.Path, err)
	}
	slog.Debug("initialized local blob storage", "path", cfg.Path)
	return &Local{root: cfg.Path}, nil
}

func (l *Local) path(key string) string {
	return filepath.Join(l.root, filepath.Clean(string(filepath.Separator)+key))
}

func (l *Local) Put(ctx context.Context, key string, src io.Reader) error {
	dest := l.path(key)
	tmp, err := os.CreateTemp(l.root, ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("publish object %s: %w", key, err)
	}
	return nil
}

func (l *Local) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(l.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open object %s: %w", key, err)
	}
	return f, nil
}

func (l *Local) GetRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error) {
	f, err := os.Open(l.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open object %s: %w", key, err)
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek object %s: %w", key, err)
	}
	length := end - start + 1
	return &rangeReadCloser{Reader: io.LimitReader(f, length), closer: f}, nil
}

func (l *Local) Size(ctx context.Context, key string) (int64, error) {
	info, err := os.Stat(l.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("stat object %s: %w", key, err)
	}
	return info.Size(), nil
}

func (l *Local) Delete(ctx context.Context, key string) error {
	if err := os.Remove(l.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

type rangeReadCloser struct {
	io.Reader
	closer io.Closer
}

func (r *rangeReadCloser) Close() error { return r.closer.Close() }
