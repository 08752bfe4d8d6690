package definition

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"example.com/treefleet/internal/behavior"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Entry is a loaded definition and where it came from.
type Entry struct {
	Path   string
	Doc    Document
	Tree   *behavior.Tree
	Loaded time.Time
}

// Library holds the definitions found in one directory, keyed by tree name.
type Library struct {
	// Debounce is how long Watch waits for file events to settle before
	// reloading.
	Debounce time.Duration

	dir      string
	registry *behavior.Registry
	opts     []behavior.Option
	logger   zerolog.Logger

	mu      sync.RWMutex
	entries map[string]*Entry
}

func NewLibrary(dir string, r *behavior.Registry, logger zerolog.Logger, opts ...behavior.Option) *Library {
	return &Library{
		Debounce: 500 * time.Millisecond,
		dir:      dir,
		registry: r,
		opts:     opts,
		logger:   logger.With().Str("component", "definitions").Logger(),
		entries:  make(map[string]*Entry),
	}
}

func (l *Library) Dir() string { return l.dir }

// Load reads every *.yaml and *.yml file in the directory. Files that fail
// to parse or build are skipped and reported in the returned error; the
// rest replace the current set.
func (l *Library) Load() error {
	files, err := definitionFiles(l.dir)
	if err != nil {
		return err
	}

	entries := make(map[string]*Entry, len(files))
	var errs []error
	for _, path := range files {
		doc, err := ParseFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if prev, ok := entries[doc.Name]; ok {
			errs = append(errs, fmt.Errorf("%s: tree %q already defined in %s", path, doc.Name, prev.Path))
			continue
		}
		tree, err := Build(doc, l.registry, l.opts...)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		entries[doc.Name] = &Entry{Path: path, Doc: doc, Tree: tree, Loaded: time.Now()}
	}

	l.mu.Lock()
	l.entries = entries
	l.mu.Unlock()

	l.logger.Info().
		Int("loaded", len(entries)).
		Int("failed", len(errs)).
		Str("dir", l.dir).
		Msg("definitions loaded")
	return errors.Join(errs...)
}

// Get returns the definition tree with the given name.
func (l *Library) Get(name string) (*behavior.Tree, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[name]
	if !ok {
		return nil, false
	}
	return e.Tree, true
}

func (l *Library) Entry(name string) (*Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[name]
	return e, ok
}

// Names returns the loaded tree names in sorted order.
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.entries))
	for name := range l.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Watch reloads the library whenever a definition file in the directory is
// written, created, removed or renamed. onReload, if set, runs after every
// reload with the resulting names. Watch returns once the watcher is
// running; it stops when ctx is done.
func (l *Library) Watch(ctx context.Context, onReload func(names []string, err error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(l.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", l.dir, err)
	}

	go l.processEvents(ctx, watcher, onReload)

	l.logger.Info().Str("dir", l.dir).Msg("watching definitions")
	return nil
}

func (l *Library) processEvents(ctx context.Context, watcher *fsnotify.Watcher, onReload func([]string, error)) {
	defer watcher.Close()

	var reloadTimer *time.Timer
	defer func() {
		if reloadTimer != nil {
			reloadTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !isDefinitionFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			l.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("definition file changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(l.Debounce, func() {
				err := l.Load()
				if err != nil {
					l.logger.Error().Err(err).Msg("reload definitions")
				}
				if onReload != nil {
					onReload(l.Names(), err)
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("watcher error")
		}
	}
}

func definitionFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read definitions dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !isDefinitionFile(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func isDefinitionFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
