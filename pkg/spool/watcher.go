// Package spool watches the directory where the
// configuration-management report hook drops completed-run records and
// feeds each record to a handler. Processed files are moved to an
// archive directory so a crash never loses or double-drops a record
// silently.
package spool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/nodesync/nodesync/pkg/report"
)

// Handler processes one parsed run record. Errors are logged; the file
// is archived either way so a poison record cannot wedge the spool.
type Handler func(ctx context.Context, run *report.Run) error

// Watcher tails a spool directory for run records.
type Watcher struct {
	dir        string
	archiveDir string
	debounce   time.Duration
	handler    Handler
	logger     zerolog.Logger

	watcher *fsnotify.Watcher
	mu      sync.Mutex
	pending map[string]struct{}
}

// NewWatcher creates a spool watcher. archiveDir defaults to a
// "processed" subdirectory of the spool.
func NewWatcher(dir, archiveDir string, debounce time.Duration, handler Handler, logger zerolog.Logger) *Watcher {
	if archiveDir == "" {
		archiveDir = filepath.Join(dir, "processed")
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Watcher{
		dir:        dir,
		archiveDir: archiveDir,
		debounce:   debounce,
		handler:    handler,
		logger:     logger.With().Str("component", "spool").Logger(),
		pending:    make(map[string]struct{}),
	}
}

// ProcessExisting handles records already sitting in the spool, oldest
// first. Called once at startup before watching begins.
func (w *Watcher) ProcessExisting(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("read spool directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !isRunRecord(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.processFile(ctx, filepath.Join(w.dir, name))
	}
	return nil
}

// Watch blocks, processing run records as they appear, until the
// context is cancelled.
func (w *Watcher) Watch(ctx context.Context) error {
	if err := os.MkdirAll(w.archiveDir, 0o755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create spool watcher: %w", err)
	}
	w.watcher = watcher
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch spool directory: %w", err)
	}

	if err := w.ProcessExisting(ctx); err != nil {
		w.logger.Warn().Err(err).Msg("spool backlog scan failed")
	}

	w.logger.Info().Str("dir", w.dir).Msg("watching spool directory")

	var flushTimer *time.Timer
	flush := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !isRunRecord(event.Name) {
				continue
			}
			w.mu.Lock()
			w.pending[event.Name] = struct{}{}
			w.mu.Unlock()

			// Debounce so a record being written in several chunks is
			// processed once, after it settles.
			if flushTimer != nil {
				flushTimer.Stop()
			}
			flushTimer = time.AfterFunc(w.debounce, func() {
				select {
				case flush <- struct{}{}:
				default:
				}
			})

		case <-flush:
			w.mu.Lock()
			paths := make([]string, 0, len(w.pending))
			for p := range w.pending {
				paths = append(paths, p)
			}
			w.pending = make(map[string]struct{})
			w.mu.Unlock()

			sort.Strings(paths)
			for _, p := range paths {
				w.processFile(ctx, p)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("spool watcher error")
		}
	}
}

// processFile parses, handles and archives one record file.
func (w *Watcher) processFile(ctx context.Context, path string) {
	logger := w.logger.With().Str("file", path).Logger()

	run, err := report.ParseFile(path)
	if err != nil {
		logger.Error().Err(err).Msg("run record unparseable")
		w.archive(path, logger)
		return
	}

	if err := w.handler(ctx, run); err != nil {
		logger.Error().Err(err).Str("hostname", run.Host).Msg("run record processing failed")
	}
	w.archive(path, logger)
}

func (w *Watcher) archive(path string, logger zerolog.Logger) {
	if err := os.MkdirAll(w.archiveDir, 0o755); err != nil {
		logger.Error().Err(err).Msg("archive directory unavailable")
		return
	}
	dest := filepath.Join(w.archiveDir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		logger.Error().Err(err).Msg("run record not archived")
		return
	}
	logger.Debug().Str("archived", dest).Msg("run record archived")
}

func isRunRecord(name string) bool {
	return strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}
