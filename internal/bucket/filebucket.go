package bucket

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// File is a Bucket persisted as a single JSON object on disk, watched
// with fsnotify so a rewrite of the file (for instance by another
// process sharing the same bucket path) is picked up and surfaced to
// OnReset —
// a debounced-write-reaction pattern, the same shape a file watcher
// uses against any shared on-disk store.
type File struct {
	mu      sync.RWMutex
	path    string
	values  map[string]string
	watcher *fsnotify.Watcher

	// OnReset, if set, is called (off the watcher goroutine) after a
	// write to path has been reloaded into memory. Writes are not told
	// apart by origin: the bucket's own SetItem/RemoveItem/Clear also
	// write path and so also trigger OnReset.
	OnReset func()

	debounceDelay time.Duration
	debounceTimer *time.Timer
	closeOnce     sync.Once
	done          chan struct{}
}

// NewFile loads (or creates) a JSON-backed Bucket at path and starts
// watching it for external changes.
func NewFile(path string) (*File, error) {
	f := &File{
		path:          path,
		values:        make(map[string]string),
		debounceDelay: 200 * time.Millisecond,
		done:          make(chan struct{}),
	}
	if err := f.load(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("bucket: create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("bucket: watch %s: %w", filepath.Dir(path), err)
	}
	f.watcher = watcher
	go f.watch()
	return f, nil
}

func (f *File) load() error {
	data, err := os.ReadFile(f.path) // #nosec G304 -- caller-controlled bucket path
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("bucket: read %s: %w", f.path, err)
	}
	var values map[string]string
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("bucket: parse %s: %w", f.path, err)
	}
	f.mu.Lock()
	f.values = values
	f.mu.Unlock()
	return nil
}

func (f *File) save() error {
	f.mu.RLock()
	data, err := json.MarshalIndent(f.values, "", "  ")
	f.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("bucket: marshal %s: %w", f.path, err)
	}
	return os.WriteFile(f.path, data, 0o600)
}

func (f *File) watch() {
	basename := filepath.Base(f.path)
	for {
		select {
		case <-f.done:
			return
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != basename {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			f.scheduleReload()
		case _, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (f *File) scheduleReload() {
	f.mu.Lock()
	if f.debounceTimer != nil {
		f.debounceTimer.Stop()
	}
	f.debounceTimer = time.AfterFunc(f.debounceDelay, func() {
		if err := f.load(); err == nil && f.OnReset != nil {
			f.OnReset()
		}
	})
	f.mu.Unlock()
}

// Close stops the background watcher goroutine.
func (f *File) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	if f.watcher != nil {
		return f.watcher.Close()
	}
	return nil
}

func (f *File) GetItem(ctx context.Context, key string) (string, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *File) SetItem(ctx context.Context, key, value string) error {
	f.mu.Lock()
	f.values[key] = value
	f.mu.Unlock()
	return f.save()
}

func (f *File) RemoveItem(ctx context.Context, key string) error {
	f.mu.Lock()
	delete(f.values, key)
	f.mu.Unlock()
	return f.save()
}

func (f *File) Clear(ctx context.Context) error {
	f.mu.Lock()
	f.values = make(map[string]string)
	f.mu.Unlock()
	return f.save()
}

func (f *File) GetKeys(ctx context.Context) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	keys := make([]string, 0, len(f.values))
	for k := range f.values {
		keys = append(keys, k)
	}
	return keys, nil
}

var _ Bucket = (*File)(nil)
