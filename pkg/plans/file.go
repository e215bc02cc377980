package plans

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// File is the on-disk representation of plan overrides
type File struct {
	Plans  map[string]Limits `yaml:"plans"`
	Prices map[string]string `yaml:"prices"`
}

// LoadFile reads a YAML plan file and overlays it on the built-in defaults
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML plan overrides
func Parse(data []byte) (*Table, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse plan file: %w", err)
	}

	plans := make(map[Name]Limits, len(f.Plans))
	for raw, limits := range f.Plans {
		name, ok := ParseName(raw)
		if !ok {
			return nil, fmt.Errorf("unknown plan %q in plan file", raw)
		}
		plans[name] = limits
	}

	prices := make(map[string]Name, len(f.Prices))
	for priceID, raw := range f.Prices {
		name, ok := ParseName(raw)
		if !ok {
			return nil, fmt.Errorf("price %q bound to unknown plan %q", priceID, raw)
		}
		prices[priceID] = name
	}

	return NewTable(plans, prices), nil
}

// Watcher reloads a plan file into a Table whenever the file changes
type Watcher struct {
	path     string
	table    *Table
	logger   logrus.FieldLogger
	onReload func()
}

// NewWatcher creates a watcher. onReload may be nil.
func NewWatcher(path string, table *Table, logger logrus.FieldLogger, onReload func()) *Watcher {
	return &Watcher{
		path:     filepath.Clean(path),
		table:    table,
		logger:   logger.WithField("plan_file", path),
		onReload: onReload,
	}
}

// Reload re-reads the file and swaps it into the table.
// A parse failure keeps the previous table.
func (w *Watcher) Reload() error {
	next, err := LoadFile(w.path)
	if err != nil {
		return err
	}
	w.table.Replace(next)
	if w.onReload != nil {
		w.onReload()
	}
	w.logger.Info("Plan table reloaded")
	return nil
}

// Run watches the file's directory until ctx is cancelled.
// Editors commonly replace files by rename, so the directory is watched
// rather than the file itself.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch plan directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := w.Reload(); err != nil {
				w.logger.WithError(err).Warn("Failed to reload plan table, keeping previous")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("Plan watcher error")
		}
	}
}
