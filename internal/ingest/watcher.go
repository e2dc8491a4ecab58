// Package ingest is the folder transport: photos dropped under a watched root
// are turned into photo arrivals for the album buffer.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-ingest/internal/entity"
	"github.com/joseph-ayodele/receipts-ingest/internal/metrics"
	"github.com/joseph-ayodele/receipts-ingest/internal/photo"
)

// Acceptor is the album buffer as seen by the watcher.
type Acceptor interface {
	Accept(asset entity.PhotoAsset) (uuid.UUID, error)
}

type WatchConfig struct {
	Roots       []string      // directories to watch (recursive)
	InitialScan bool          // if true, walk roots and accept existing files
	Debounce    time.Duration // coalesce rapid create/write bursts
	MaxBytes    int64
}

type Watcher struct {
	cfg    WatchConfig
	album  Acceptor
	logger *slog.Logger

	seen map[string]struct{} // paths already accepted
}

func NewWatcher(cfg WatchConfig, album Acceptor, logger *slog.Logger) (*Watcher, error) {
	if len(cfg.Roots) == 0 {
		return nil, errors.New("no roots provided")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{cfg: cfg, album: album, logger: logger, seen: map[string]struct{}{}}, nil
}

// Run watches until ctx is cancelled. It returns an error only when the
// watcher cannot be set up.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	var initial []string
	for _, root := range w.cfg.Roots {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return fmt.Errorf("create watch root %s: %w", root, err)
		}
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				if path != root && IsHidden(path) {
					return filepath.SkipDir
				}
				return fw.Add(path)
			}
			if w.cfg.InitialScan {
				initial = append(initial, path)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("watch root %s: %w", root, err)
		}
	}
	w.logger.Info("watcher.started", "roots", w.cfg.Roots, "initial", len(initial))
	w.flush(initial)

	var (
		timer   *time.Timer
		fire    <-chan time.Time
		pending = map[string]struct{}{}
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			w.logger.Info("watcher.stopped", "dropped", len(pending))
			return nil

		case e, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if e.Op&fsnotify.Create != 0 {
				if st, err := os.Stat(e.Name); err == nil && st.IsDir() && !IsHidden(e.Name) {
					if err := fw.Add(e.Name); err != nil {
						w.logger.Warn("watcher.add_dir_failed", "path", e.Name, "error", err)
					}
					continue
				}
			}
			if e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			pending[e.Name] = struct{}{}
			if w.cfg.Debounce <= 0 {
				w.flush(drain(pending))
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.cfg.Debounce)
			} else {
				timer.Reset(w.cfg.Debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.flush(drain(pending))

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher.error", "error", err)
		}
	}
}

func drain(pending map[string]struct{}) []string {
	out := make([]string, 0, len(pending))
	for p := range pending {
		out = append(out, p)
		delete(pending, p)
	}
	return out
}

// flush accepts paths oldest first so a folder's photos reach the buffer in
// the order they were written.
func (w *Watcher) flush(paths []string) {
	type file struct {
		path string
		mod  time.Time
	}
	files := make([]file, 0, len(paths))
	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil || st.IsDir() {
			continue
		}
		files = append(files, file{p, st.ModTime()})
	}
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].mod.Equal(files[j].mod) {
			return files[i].path < files[j].path
		}
		return files[i].mod.Before(files[j].mod)
	})
	for _, f := range files {
		w.accept(f.path)
	}
}

func (w *Watcher) accept(path string) {
	if _, dup := w.seen[path]; dup {
		return
	}
	var user, group string
	ok := false
	for _, root := range w.cfg.Roots {
		if user, group, ok = Locate(root, path); ok {
			break
		}
	}
	if !ok {
		w.logger.Debug("watcher.ignored", "path", path)
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn("watcher.read_failed", "path", path, "error", err)
		return
	}
	info, err := photo.Inspect(data, w.cfg.MaxBytes)
	if err != nil {
		metrics.PhotosAccepted.WithLabelValues("rejected").Inc()
		// not marked seen: a file still being written gets another try on its next event
		w.logger.Warn("watcher.photo_rejected", "path", path, "user", user, "error", err)
		return
	}

	id, err := w.album.Accept(entity.PhotoAsset{
		ID:         uuid.New(),
		Submitter:  user,
		GroupKey:   group,
		Data:       data,
		MimeType:   info.MimeType,
		Filename:   filepath.Base(path),
		ReceivedAt: time.Now(),
	})
	if err != nil {
		w.logger.Warn("watcher.accept_failed", "path", path, "error", err)
		return
	}
	w.seen[path] = struct{}{}
	w.logger.Info("watcher.accepted", "path", path, "user", user, "group_key", group, "submission_id", id)
}
