package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/steveyegge/rdscout/internal/types"
)

// Locker serializes runs per key. Keys look like "discover:<scope>" or
// "changes:<scope>", so discovery and change detection on the same scope
// never block each other while two runs of the same kind always do.
//
// When wait is false and the key is held, Acquire returns types.ErrScopeBusy.
// When wait is true it blocks until the lock is free or ctx is done.
type Locker interface {
	Acquire(ctx context.Context, key string, wait bool) (release func(), err error)
}

// DiscoveryLockKey returns the lock key for full discovery runs on a scope
func DiscoveryLockKey(scope string) string {
	return "discover:" + scope
}

// ChangesLockKey returns the lock key for change-detection runs on a scope
func ChangesLockKey(scope string) string {
	return "changes:" + scope
}

// MemoryLocker is an in-process keyed lock
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewMemoryLocker creates an empty in-process locker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{slots: make(map[string]chan struct{})}
}

func (l *MemoryLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

// Acquire implements Locker
func (l *MemoryLocker) Acquire(ctx context.Context, key string, wait bool) (func(), error) {
	ch := l.slot(key)
	if !wait {
		select {
		case ch <- struct{}{}:
		default:
			return nil, fmt.Errorf("%s: %w", key, types.ErrScopeBusy)
		}
	} else {
		select {
		case ch <- struct{}{}:
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for lock %s: %w", key, ctx.Err())
		}
	}

	var once sync.Once
	return func() { once.Do(func() { <-ch }) }, nil
}

// ScopeLock is the lock file format used by FileLocker
type ScopeLock struct {
	Key       string    `json:"key"`
	Holder    string    `json:"holder"`
	Token     string    `json:"token"` // Unique per acquisition
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
}

// FileLocker serializes runs across processes with one lock file per key.
// A lock whose holder process is gone is treated as stale and taken over.
//
// Lock files are written to a temporary file and hard-linked into place, so
// a lock file is never visible half-written.
type FileLocker struct {
	Dir          string
	Holder       string
	PollInterval time.Duration
}

// NewFileLocker creates a lock-file locker rooted at dir
func NewFileLocker(dir, holder string) (*FileLocker, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	if holder == "" {
		holder = "rdscout"
	}
	return &FileLocker{Dir: dir, Holder: holder, PollInterval: 500 * time.Millisecond}, nil
}

// LockPath returns the lock file path for a key
func (l *FileLocker) LockPath(key string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, key)
	return filepath.Join(l.Dir, safe+".lock")
}

// Acquire implements Locker. The returned release only removes the lock
// file while it still carries this acquisition's token.
func (l *FileLocker) Acquire(ctx context.Context, key string, wait bool) (func(), error) {
	lockPath := l.LockPath(key)
	for {
		token, err := l.tryCreate(lockPath, key)
		if err == nil {
			var once sync.Once
			return func() { once.Do(func() { _ = releaseOwnLockFile(lockPath, token) }) }, nil
		}
		if !errors.Is(err, types.ErrScopeBusy) {
			return nil, err
		}
		if !wait {
			return nil, err
		}
		select {
		case <-time.After(l.PollInterval):
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for lock %s: %w", key, ctx.Err())
		}
	}
}

func (l *FileLocker) tryCreate(lockPath, key string) (string, error) {
	// Check for existing lock
	if data, err := os.ReadFile(lockPath); err == nil {
		var existing ScopeLock
		if json.Unmarshal(data, &existing) == nil && isProcessAlive(existing.PID, existing.Hostname) {
			return "", fmt.Errorf("%s held by %s (PID %d on %s, started %s): %w",
				key, existing.Holder, existing.PID, existing.Hostname,
				existing.StartedAt.Format(time.RFC3339), types.ErrScopeBusy)
		}
		if err := removeStaleLockFile(lockPath, data); err != nil {
			return "", fmt.Errorf("%s: %w", key, err)
		}
	}

	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}

	token := uuid.New().String()
	data, err := json.MarshalIndent(ScopeLock{
		Key:       key,
		Holder:    l.Holder,
		Token:     token,
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now(),
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal lock: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(lockPath), ".lock-*")
	if err != nil {
		return "", fmt.Errorf("failed to create lock file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write lock file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write lock file: %w", err)
	}

	// Link fails if the path exists, so two racing processes cannot both win
	if err := os.Link(tmpPath, lockPath); err != nil {
		if os.IsExist(err) {
			return "", fmt.Errorf("%s: %w", key, types.ErrScopeBusy)
		}
		return "", fmt.Errorf("failed to create lock file: %w", err)
	}
	return token, nil
}

// removeStaleLockFile moves the lock file aside and deletes it only if it
// still holds the stale content that was read. If another process replaced
// it in the meantime, its lock is put back and ErrScopeBusy is returned.
func removeStaleLockFile(lockPath string, stale []byte) error {
	aside := fmt.Sprintf("%s.%s.stale", lockPath, uuid.New().String())
	if err := os.Rename(lockPath, aside); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to remove stale lock file: %w", err)
	}
	defer os.Remove(aside)

	current, err := os.ReadFile(aside)
	if err != nil {
		return fmt.Errorf("failed to read stale lock file: %w", err)
	}
	if bytes.Equal(current, stale) {
		return nil
	}
	_ = os.Link(aside, lockPath)
	return types.ErrScopeBusy
}

func releaseOwnLockFile(lockPath, token string) error {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read lock file: %w", err)
	}
	var lock ScopeLock
	if json.Unmarshal(data, &lock) != nil || lock.Token != token {
		return nil
	}
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// isProcessAlive checks if a process with the given PID exists on the given hostname.
// Remote or unverifiable holders are assumed alive.
func isProcessAlive(pid int, hostname string) bool {
	currentHost, err := os.Hostname()
	if err != nil {
		return true
	}

	if !strings.EqualFold(hostname, currentHost) {
		return true
	}

	if pid <= 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Signal 0 probes for existence
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}

	// EPERM: exists but owned by someone else
	if errors.Is(err, syscall.EPERM) {
		return true
	}

	return false
}
