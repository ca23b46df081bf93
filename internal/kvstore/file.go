package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const (
	// StateFileName is the name of the JSON document holding all keys
	StateFileName = "state.json"

	lockRetryDelay = 50 * time.Millisecond
)

// fileStore implements Store on a single JSON document in a data directory.
// The in-process mutex orders goroutines; the flock orders processes.
type fileStore struct {
	mu       sync.Mutex
	dir      string
	filePath string
	lock     *flock.Flock
}

// NewFileStore creates a file-backed Store rooted at dir. The directory is created
// on first write.
func NewFileStore(dir string) Store {
	filePath := filepath.Join(dir, StateFileName)
	return &fileStore{
		dir:      dir,
		filePath: filePath,
		lock:     flock.New(filePath + ".lock"),
	}
}

func (f *fileStore) Get(ctx context.Context, key string) (string, error) {
	var (
		value string
		found bool
	)
	err := f.withLock(ctx, func() error {
		values, err := f.load()
		if err != nil {
			return err
		}
		value, found = values[key]
		return nil
	})
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrNotFound
	}
	return value, nil
}

func (f *fileStore) Set(ctx context.Context, key, value string) error {
	return f.withLock(ctx, func() error {
		values, err := f.load()
		if err != nil {
			return err
		}
		values[key] = value
		return f.save(values)
	})
}

func (f *fileStore) Delete(ctx context.Context, key string) error {
	return f.withLock(ctx, func() error {
		values, err := f.load()
		if err != nil {
			return err
		}
		if _, ok := values[key]; !ok {
			return nil
		}
		delete(values, key)
		return f.save(values)
	})
}

func (f *fileStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	return f.withLock(ctx, func() error {
		values, err := f.load()
		if err != nil {
			return err
		}
		current, found := values[key]
		next, err := fn(current, found)
		if err != nil {
			return err
		}
		values[key] = next
		return f.save(values)
	})
}

func (f *fileStore) withLock(ctx context.Context, fn func() error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.dir, 0750); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	locked, err := f.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("failed to lock state file: %w", err)
	}
	if !locked {
		return fmt.Errorf("failed to lock state file: %s", f.lock.Path())
	}
	defer func() { _ = f.lock.Unlock() }()

	return fn()
}

func (f *fileStore) load() (map[string]string, error) {
	// #nosec G304 -- filePath is built from the configured data directory
	data, err := os.ReadFile(f.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	values := make(map[string]string)
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state file: %w", err)
	}
	return values, nil
}

func (f *fileStore) save(values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	// Write to temporary file first for atomic operation
	tempPath := f.filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary state file: %w", err)
	}

	if err := os.Rename(tempPath, f.filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename state file: %w", err)
	}

	return nil
}
