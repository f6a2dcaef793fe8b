package main

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"

	"mediarelay/models"
)

const hashChunkSize = 1024 * 1024

type catalog interface {
	PathExists(ctx context.Context, kind models.MediaKind, path string) (bool, error)
	UpsertFile(ctx context.Context, item models.MediaItem) (int64, error)
}

// scanner hashes media files and records them in the catalog.
type scanner struct {
	fs           afero.Fs
	catalog      catalog
	workers      int
	skipExisting bool
}

type scanStats struct {
	Added   int64
	Skipped int64
	Failed  int64
}

func (s scanStats) String() string {
	return fmt.Sprintf("added=%d skipped=%d failed=%d", s.Added, s.Skipped, s.Failed)
}

type counters struct {
	added, skipped, failed atomic.Int64
}

// Scan walks root and upserts every regular file as kind. Per-file failures are
// logged and counted; only walk errors and cancellation abort the scan.
func (s *scanner) Scan(ctx context.Context, kind models.MediaKind, root string) (scanStats, error) {
	if !kind.IsLocal() {
		return scanStats{}, fmt.Errorf("%s items cannot be scanned from disk", kind)
	}

	var files []string
	err := afero.Walk(s.fs, root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return scanStats{}, fmt.Errorf("walk %s: %w", root, err)
	}

	workers := s.workers
	if workers < 1 {
		workers = 1
	}

	var c counters
	p := pool.New().WithMaxGoroutines(workers).WithContext(ctx)
	for _, path := range files {
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			skipped, err := s.process(ctx, kind, path)
			switch {
			case err != nil:
				c.failed.Add(1)
				log.Printf("[addmedia] error: %s: %v", path, err)
			case skipped:
				c.skipped.Add(1)
			default:
				c.added.Add(1)
			}
			return nil
		})
	}
	err = p.Wait()

	stats := scanStats{Added: c.added.Load(), Skipped: c.skipped.Load(), Failed: c.failed.Load()}
	if err == nil {
		err = ctx.Err()
	}
	return stats, err
}

func (s *scanner) process(ctx context.Context, kind models.MediaKind, path string) (bool, error) {
	if s.skipExisting {
		exists, err := s.catalog.PathExists(ctx, kind, path)
		if err != nil {
			return false, err
		}
		if exists {
			log.Printf("[addmedia] skipping existing: %s", path)
			return true, nil
		}
	}

	sum, size, err := hashFile(s.fs, path)
	if err != nil {
		return false, err
	}

	id, err := s.catalog.UpsertFile(ctx, models.MediaItem{
		Kind:     kind,
		Title:    strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Path:     path,
		FileSize: size,
		MD5Hex:   sum,
	})
	if err != nil {
		return false, err
	}
	log.Printf("[addmedia] %s %s id=%d", kind, path, id)
	return false, nil
}

func hashFile(fsys afero.Fs, path string) (string, int64, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := md5.New()
	size, err := io.CopyBuffer(h, f, make([]byte, hashChunkSize))
	if err != nil {
		return "", 0, fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}
