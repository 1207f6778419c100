package roles

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Reloader is a RoleMapper backed by a YAML file. Watch swaps in a freshly
// compiled Mapper whenever the file changes; a file that fails to parse keeps
// the previous mapping in place.
type Reloader struct {
	path     string
	current  atomic.Pointer[Mapper]
	logger   *observability.Logger
	onReload func(err error)

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// NewReloader loads the mapping file once. The initial load must succeed.
func NewReloader(path string, logger *observability.Logger) (*Reloader, error) {
	if logger == nil {
		logger = observability.Discard()
	}
	r := &Reloader{
		path:   filepath.Clean(path),
		logger: logger.WithField("role_mapping", path),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// OnReload registers a callback invoked after every reload attempt
func (r *Reloader) OnReload(fn func(err error)) {
	r.onReload = fn
}

// Current returns the mapper in effect
func (r *Reloader) Current() *Mapper {
	return r.current.Load()
}

// Reload re-reads the mapping file
func (r *Reloader) Reload() error {
	table, err := LoadTable(r.path)
	if err == nil {
		var m *Mapper
		if m, err = NewMapper(table); err == nil {
			r.current.Store(m)
		}
	}
	if r.onReload != nil {
		r.onReload(err)
	}
	return err
}

// Watch reloads the mapping whenever the file changes until ctx is done.
// The parent directory is watched so editors that replace the file by rename
// are picked up.
func (r *Reloader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(r.path), err)
	}

	r.mu.Lock()
	r.watcher = watcher
	r.mu.Unlock()

	go r.loop(ctx, watcher)
	return nil
}

func (r *Reloader) loop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()
	defer observability.RecoverPanic(r.logger, "role mapping watcher")
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != r.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := r.Reload(); err != nil {
				r.logger.WithError(err).Warn("Role mapping reload failed, keeping previous mapping")
				continue
			}
			r.logger.Infof("Role mapping reloaded (%d entries, %d patterns)",
				len(r.Current().table.Entries), len(r.Current().table.Patterns))
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger.WithError(err).Warn("Role mapping watcher error")
		}
	}
}

// Close stops watching
func (r *Reloader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watcher == nil {
		return nil
	}
	err := r.watcher.Close()
	r.watcher = nil
	return err
}

// MapOne implements RoleMapper
func (r *Reloader) MapOne(providerRole string) (Role, bool) {
	return r.Current().MapOne(providerRole)
}

// MapMany implements RoleMapper
func (r *Reloader) MapMany(providerRoles []string) Set {
	return r.Current().MapMany(providerRoles)
}

// Unmapped implements RoleMapper
func (r *Reloader) Unmapped(providerRoles []string) []string {
	return r.Current().Unmapped(providerRoles)
}
