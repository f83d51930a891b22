package roster

import (
	"context"
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/foremanhq/foreman/internal/logging"
)

// Watch re-reads the roster file whenever it changes and applies the
// active flags onto the live roster. It blocks until ctx is cancelled.
// Editors that replace the file (rename+create) are handled by re-adding
// the watch path.
func (r *Roster) Watch(ctx context.Context, path string, log *logging.Logger) error {
	if path == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create roster watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(path); err != nil {
		return fmt.Errorf("watch roster %s: %w", path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if ev.Op&fsnotify.Rename != 0 {
				// Atomic save: the watched inode is gone, re-add the path.
				_ = w.Add(path)
			}
			if err := r.reload(path); err != nil {
				log.Warn().Err(err).Str("path", path).Msg("roster reload failed")
				continue
			}
			log.Info().Str("path", path).Int("active", len(r.Active())).Msg("roster reloaded")
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("roster watcher error")
		}
	}
}

func (r *Roster) reload(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read roster %s: %w", path, err)
	}
	var rf rosterFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return fmt.Errorf("parse roster %s: %w", path, err)
	}
	r.applyActiveFlags(rf.Agents)
	return nil
}
