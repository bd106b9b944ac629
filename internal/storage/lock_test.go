package storage

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/steveyegge/rdscout/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker_RejectsSecondHolder(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	release, err := locker.Acquire(ctx, DiscoveryLockKey("claim-1"), false)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, DiscoveryLockKey("claim-1"), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrScopeBusy)

	// Different kind on the same scope is independent
	releaseChanges, err := locker.Acquire(ctx, ChangesLockKey("claim-1"), false)
	require.NoError(t, err)
	releaseChanges()

	release()
	release() // idempotent

	release, err = locker.Acquire(ctx, DiscoveryLockKey("claim-1"), false)
	require.NoError(t, err)
	release()
}

func TestMemoryLocker_WaitBlocksUntilRelease(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "k", false)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r, err := locker.Acquire(ctx, "k", true)
		if err == nil {
			close(acquired)
			r()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("waiter acquired lock while it was held")
	case <-time.After(50 * time.Millisecond):
	}

	release()

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never acquired lock")
	}
}

func TestMemoryLocker_WaitHonorsContext(t *testing.T) {
	locker := NewMemoryLocker()
	release, err := locker.Acquire(context.Background(), "k", false)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, "k", true)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFileLocker_AcquireRelease(t *testing.T) {
	locker, err := NewFileLocker(t.TempDir(), "test")
	require.NoError(t, err)
	ctx := context.Background()
	key := DiscoveryLockKey("acme/claim 2024")

	release, err := locker.Acquire(ctx, key, false)
	require.NoError(t, err)

	path := locker.LockPath(key)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var lock ScopeLock
	require.NoError(t, json.Unmarshal(data, &lock))
	assert.Equal(t, key, lock.Key)
	assert.Equal(t, os.Getpid(), lock.PID)
	assert.NotEmpty(t, lock.Token)

	_, err = locker.Acquire(ctx, key, false)
	assert.ErrorIs(t, err, types.ErrScopeBusy)

	release()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestFileLocker_TakesOverStaleLock(t *testing.T) {
	locker, err := NewFileLocker(t.TempDir(), "test")
	require.NoError(t, err)
	key := DiscoveryLockKey("claim-1")

	hostname, err := os.Hostname()
	require.NoError(t, err)

	// PID 0 on this host is never a live holder
	stale, err := json.Marshal(ScopeLock{Key: key, Holder: "crashed", PID: 0, Hostname: hostname})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(locker.LockPath(key), stale, 0644))

	release, err := locker.Acquire(context.Background(), key, false)
	require.NoError(t, err)
	release()
}

func TestFileLocker_RemoteHolderAssumedAlive(t *testing.T) {
	locker, err := NewFileLocker(t.TempDir(), "test")
	require.NoError(t, err)
	key := ChangesLockKey("claim-1")

	remote, err := json.Marshal(ScopeLock{Key: key, Holder: "other", PID: 42, Hostname: "some-other-host.invalid"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(locker.LockPath(key), remote, 0644))

	_, err = locker.Acquire(context.Background(), key, false)
	assert.ErrorIs(t, err, types.ErrScopeBusy)
}

func TestFileLocker_LeavesNoTemporaryFiles(t *testing.T) {
	dir := t.TempDir()
	locker, err := NewFileLocker(dir, "test")
	require.NoError(t, err)

	release, err := locker.Acquire(context.Background(), DiscoveryLockKey("acme"), false)
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "discover_acme.lock", entries[0].Name())

	release()
	entries, err = os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFileLocker_ReleaseLeavesOtherHoldersLock(t *testing.T) {
	locker, err := NewFileLocker(t.TempDir(), "test")
	require.NoError(t, err)
	key := DiscoveryLockKey("acme")

	release, err := locker.Acquire(context.Background(), key, false)
	require.NoError(t, err)

	// Another holder took the lock over in the meantime
	hostname, err := os.Hostname()
	require.NoError(t, err)
	other, err := json.Marshal(ScopeLock{Key: key, Holder: "other", Token: "other-token", PID: os.Getpid(), Hostname: hostname})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(locker.LockPath(key), other, 0644))

	release()
	data, err := os.ReadFile(locker.LockPath(key))
	require.NoError(t, err)
	assert.Equal(t, other, data)
}

func TestFileLocker_ConcurrentAcquireHasSingleHolder(t *testing.T) {
	locker, err := NewFileLocker(t.TempDir(), "test")
	require.NoError(t, err)
	key := DiscoveryLockKey("acme")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		holders int
		maxSeen int
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				release, err := locker.Acquire(context.Background(), key, false)
				if err != nil {
					assert.ErrorIs(t, err, types.ErrScopeBusy)
					continue
				}
				mu.Lock()
				holders++
				if holders > maxSeen {
					maxSeen = holders
				}
				mu.Unlock()

				mu.Lock()
				holders--
				mu.Unlock()
				release()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestLockPathSanitizesKey(t *testing.T) {
	locker := &FileLocker{Dir: "/locks"}
	assert.Equal(t, "/locks/discover_acme_claim.lock", locker.LockPath("discover:acme/claim"))
}
