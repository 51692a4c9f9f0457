package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// dualStore keeps blobs on local disk for fast reads and mirrors them to
// MinIO for durability. Reads prefer local and fall back to remote; deletes
// and age-based cleanup hit both sides.
type dualStore struct {
	local  *localStore
	remote *minioStore
}

func NewDualStore(local *localStore, remote *minioStore) *dualStore {
	return &dualStore{local: local, remote: remote}
}

func (s *dualStore) Save(ctx context.Context, reader io.Reader, name string, size int64) (int64, error) {
	written, err := s.local.Save(ctx, reader, name, size)
	if err != nil {
		return 0, err
	}

	rc, localSize, err := s.local.Open(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("reopen for mirror: %w", err)
	}
	defer rc.Close()

	if _, err := s.remote.Save(ctx, rc, name, localSize); err != nil {
		slog.Warn("dualStore: mirror to remote failed, blob saved only locally",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
	}

	return written, nil
}

func (s *dualStore) Open(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	rc, size, err := s.local.Open(ctx, name)
	if err == nil {
		return rc, size, nil
	}
	if !errors.Is(err, ErrBlobNotFound) {
		return nil, 0, err
	}

	return s.remote.Open(ctx, name)
}

func (s *dualStore) Delete(ctx context.Context, name string) error {
	var firstErr error

	if err := s.local.Delete(ctx, name); err != nil {
		firstErr = err
	}
	if err := s.remote.Delete(ctx, name); err != nil && firstErr == nil {
		firstErr = err
	}

	return firstErr
}

func (s *dualStore) CleanupOlderThan(ctx context.Context, maxAge time.Duration) error {
	eg, eCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return s.local.CleanupOlderThan(eCtx, maxAge)
	})
	eg.Go(func() error {
		return s.remote.CleanupOlderThan(eCtx, maxAge)
	})

	return eg.Wait()
}
