// Package intake manages the directory inbox that the capture rig drops
// front images into.
//
// DirSource lists pending images, turns them into CAPTURED scan jobs keyed by
// file name, and empties the inbox when destructive recovery asks for a clean
// slate. With a capture directory configured, ingested images are moved out
// of the inbox so a purge only touches images no job refers to.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"cardmint/internal/fileutil"
	"cardmint/internal/logging"
	"cardmint/internal/queue"
)

var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".tif":  {},
	".tiff": {},
	".webp": {},
}

// JobCreator is the part of the store Ingest needs.
type JobCreator interface {
	Create(ctx context.Context, input queue.NewJob) (*queue.ScanJob, error)
}

// DirSource is an intake inbox backed by a local directory.
type DirSource struct {
	dir        string
	captureDir string
	logger     *slog.Logger
}

// Option configures a DirSource.
type Option func(*DirSource)

// WithCaptureDir moves ingested images into dir.
func WithCaptureDir(dir string) Option {
	return func(d *DirSource) {
		d.captureDir = strings.TrimSpace(dir)
	}
}

// NewDirSource returns a source rooted at dir.
func NewDirSource(dir string, logger *slog.Logger, opts ...Option) *DirSource {
	d := &DirSource{
		dir:    strings.TrimSpace(dir),
		logger: logging.NewComponentLogger(logger, "intake"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Dir returns the inbox directory.
func (d *DirSource) Dir() string { return d.dir }

// Pending lists image files in the inbox ordered by modification time.
// A missing inbox is empty.
func (d *DirSource) Pending(ctx context.Context) ([]string, error) {
	if d.dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	type pending struct {
		path    string
		modNano int64
	}
	files := make([]pending, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if _, ok := imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))]; !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, pending{path: filepath.Join(d.dir, entry.Name()), modNano: info.ModTime().UnixNano()})
	}
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].modNano == files[j].modNano {
			return files[i].path < files[j].path
		}
		return files[i].modNano < files[j].modNano
	})

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}

// Ingest creates a CAPTURED job for every pending image not yet known to the
// store. The file name is the capture uid, so repeated scans are harmless.
func (d *DirSource) Ingest(ctx context.Context, store JobCreator, sessionID string) ([]*queue.ScanJob, error) {
	paths, err := d.Pending(ctx)
	if err != nil {
		return nil, err
	}
	created := make([]*queue.ScanJob, 0, len(paths))
	for _, path := range paths {
		dest := path
		if d.captureDir != "" {
			dest = filepath.Join(d.captureDir, filepath.Base(path))
		}
		job, err := store.Create(ctx, queue.NewJob{
			ID:           uuid.NewString(),
			CaptureUID:   captureUID(path),
			SessionID:    sessionID,
			Status:       queue.StatusCaptured,
			RawImagePath: dest,
		})
		if errors.Is(err, queue.ErrDuplicate) {
			continue
		}
		if err != nil {
			return created, err
		}
		if dest != path {
			if err := fileutil.MoveFile(path, dest); err != nil {
				logging.ErrorWithContext(d.logger, "failed to move intake image", "intake_move_failed",
					logging.String(logging.FieldJobID, job.ID),
					logging.String("path", path),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check capture directory permissions"),
				)
				return created, fmt.Errorf("move %s: %w", filepath.Base(path), err)
			}
		}
		d.logger.Info("intake image queued",
			logging.String(logging.FieldJobID, job.ID),
			logging.String("path", dest),
			logging.String(logging.FieldEventType, "intake_queued"),
		)
		created = append(created, job)
	}
	return created, nil
}

// Purge removes every entry in the inbox and reports how many were removed.
// Removal continues past individual failures; the first error is returned.
func (d *DirSource) Purge(ctx context.Context) (int, error) {
	if d.dir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	var firstErr error
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		path := filepath.Join(d.dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			logging.WarnWithContext(d.logger, "failed to purge intake entry", "intake_purge_failed",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check intake_dir permissions"),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		removed++
	}
	if removed > 0 {
		d.logger.Info("intake purged",
			logging.Int("removed", removed),
			logging.String(logging.FieldEventType, "intake_purged"),
		)
	}
	return removed, firstErr
}

func captureUID(path string) string {
	return "intake:" + filepath.Base(path)
}
