package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay coalesces the bursts of events editors produce on save.
const debounceDelay = 100 * time.Millisecond

// Watch re-loads path whenever it changes and passes the parsed catalog to
// apply. Parse and apply failures are logged; the watch continues. It
// blocks until ctx is done.
func (s *Seeder) Watch(ctx context.Context, path string, apply func(context.Context, *File) error) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve catalog path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors often replace the file instead of
	// writing it.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", filepath.Dir(abs), err)
	}
	s.logger.Info("watching catalog", map[string]interface{}{"path": abs})

	changed := make(chan struct{}, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceDelay, func() {
				select {
				case changed <- struct{}{}:
				default:
				}
			})

		case <-changed:
			f, err := Load(abs)
			if err != nil {
				s.logger.Warn("ignoring invalid catalog", map[string]interface{}{"path": abs, "error": err.Error()})
				continue
			}
			if err := apply(ctx, f); err != nil {
				s.logger.Error("failed to apply catalog", map[string]interface{}{"path": abs, "error": err.Error()})
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("catalog watcher error", map[string]interface{}{"error": err.Error()})
		}
	}
}

// Reseed seeds f and drops every cached agent runtime so teams and
// sub-agent links are rebuilt on next load. It is the default apply func
// for Watch.
func (s *Seeder) Reseed(ctx context.Context, f *File) error {
	if _, err := s.Seed(ctx, f); err != nil {
		return err
	}
	s.loader.Purge()
	return nil
}
