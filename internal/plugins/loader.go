package plugins

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Loader discovers script plugins in a directory and keeps the
// registry in sync with it: new or changed scripts are (re)registered,
// deleted scripts are unregistered.
type Loader struct {
	dir      string
	registry *Registry
	logger   *log.Logger

	watcher *fsnotify.Watcher
	// byPath maps script path to registered plugin id, so deletions can
	// be routed to the right unregister.
	byPath map[string]string
}

// NewLoader creates a loader over dir.
func NewLoader(dir string, registry *Registry, logger *log.Logger) *Loader {
	return &Loader{
		dir:      dir,
		registry: registry,
		logger:   logger,
		byPath:   make(map[string]string),
	}
}

// LoadAll scans the directory once and registers every plugin script.
func (l *Loader) LoadAll(ctx context.Context) error {
	entries, err := os.ReadDir(l.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, e := range entries {
		if e.IsDir() || !isPluginScript(e.Name()) {
			continue
		}
		l.load(ctx, filepath.Join(l.dir, e.Name()))
	}
	return nil
}

// Watch starts watching the directory and reloading on changes. It
// returns once the watcher is installed; events are handled on a
// background goroutine until ctx is cancelled.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(l.dir); err != nil {
		watcher.Close()
		return err
	}
	l.watcher = watcher

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				l.handleEvent(ctx, event)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Printf("plugin watcher: %v", err)
			}
		}
	}()
	return nil
}

func (l *Loader) handleEvent(ctx context.Context, event fsnotify.Event) {
	if !isPluginScript(event.Name) {
		return
	}

	switch {
	case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
		l.logger.Printf("plugin script changed, reloading: %s", event.Name)
		l.load(ctx, event.Name)
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		if id, ok := l.byPath[event.Name]; ok {
			l.registry.Unregister(id)
			delete(l.byPath, event.Name)
		}
	}
}

func (l *Loader) load(ctx context.Context, path string) {
	plugin := NewShellPlugin(path, l.logger)
	if err := plugin.Initialise(ctx); err != nil {
		l.logger.Printf("loading plugin %s: %v", path, err)
		return
	}
	l.registry.Register(plugin)
	l.byPath[path] = plugin.Metadata().ID
}

func isPluginScript(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".sh", ".ps1":
		return true
	}
	return false
}
