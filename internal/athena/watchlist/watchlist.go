// Package watchlist loads the violation vehicle list from a YAML file and
// reloads it whenever the file changes.
package watchlist

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"k8s.io/utils/clock"
	"sigs.k8s.io/yaml"

	"github.com/autopeer-io/athena/internal/athena/core/model"
	"github.com/autopeer-io/athena/pkg/log"
)

// File is the on-disk format:
//
//	violations:
//	- plate: KA01AB1234
//	  violation_type: UNPAID_FINE
//	  severity: HIGH
type File struct {
	Violations []*model.ViolationVehicle `json:"violations"`
}

// Loader replaces the active violation list. It returns how many entries
// were accepted; an error reports the rejected ones.
type Loader interface {
	LoadViolations(list []*model.ViolationVehicle) (int, error)
}

// Watcher keeps the loader in sync with the file.
type Watcher struct {
	log      log.Logger
	path     string
	debounce time.Duration
	loader   Loader
	clock    clock.Clock
}

func New(path string, debounce time.Duration, loader Loader, clk clock.Clock, logger log.Logger) *Watcher {
	return &Watcher{
		log:      logger.WithName("watchlist"),
		path:     filepath.Clean(path),
		debounce: debounce,
		loader:   loader,
		clock:    clk,
	}
}

// Load reads and parses a watchlist file.
func Load(path string) ([]*model.ViolationVehicle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read watchlist: %w", err)
	}
	// Truncated mid-write. An intentionally empty list is "violations: []".
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("watchlist %s is empty", path)
	}

	var f File
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("parse watchlist %s: %w", path, err)
	}
	return f.Violations, nil
}

// Reload loads the file into the loader. A file that cannot be read or
// parsed leaves the active list untouched. Rejected entries are logged but
// do not fail the reload.
func (w *Watcher) Reload() error {
	list, err := Load(w.path)
	if err != nil {
		return err
	}

	n, err := w.loader.LoadViolations(list)
	if err != nil {
		w.log.Warn("Some watchlist entries were rejected", "file", w.path, "loaded", n, "error", err)
	}
	return nil
}

// Start loads the file once, failing if that is impossible, then reloads it
// on every change until ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.Reload(); err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer fsw.Close()

	// Watch the directory: editors and ConfigMap mounts replace the file
	// instead of writing it in place.
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.log.Info("Watching violation watchlist", "file", w.path)

	var (
		timer clock.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path || ev.Op == fsnotify.Chmod {
				continue
			}
			if timer == nil {
				timer = w.clock.NewTimer(w.debounce)
			} else {
				timer.Stop()
				timer.Reset(w.debounce)
			}
			fire = timer.C()

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Error(err, "File watcher error", "file", w.path)

		case <-fire:
			fire = nil
			if err := w.Reload(); err != nil {
				w.log.Error(err, "Watchlist reload failed, keeping the previous list", "file", w.path)
			}

		case <-ctx.Done():
			return nil
		}
	}
}
