package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"castlight/internal/logging"
	"castlight/internal/store"
)

// LockStore is the slice of the store that holds the single-run lock.
type LockStore interface {
	GetSyncLock(ctx context.Context) (*store.SyncLock, error)
	InsertSyncLock(ctx context.Context, l store.SyncLock) error
	DeleteSyncLock(ctx context.Context, owner string) error
}

// runLock guards the database against concurrent sync runs. The lock is a
// durable row, so a crashed run leaves it behind; acquisition reclaims a
// lock whose holder pid is gone.
type runLock struct {
	store LockStore
	log   *zap.Logger

	owner string
	// alive probes whether a pid still runs. Injectable for tests.
	alive func(pid int) bool
}

func newRunLock(ls LockStore) *runLock {
	return &runLock{
		store: ls,
		log:   logging.Get(logging.CategorySync),
		alive: pidAlive,
	}
}

// Acquire takes the lock for this process. A live holder yields
// store.ErrLockHeld; a dead holder's lock is reclaimed with a warning.
func (l *runLock) Acquire(ctx context.Context, shardIDs []uint32) error {
	existing, err := l.store.GetSyncLock(ctx)
	if err != nil {
		return err
	}
	if existing != nil {
		if l.alive(existing.Pid) {
			return fmt.Errorf("%w: pid %d since %s",
				store.ErrLockHeld, existing.Pid, existing.StartedAt.Format(time.RFC3339))
		}
		l.log.Warn("reclaiming stale sync lock",
			zap.Int("pid", existing.Pid),
			zap.String("owner", existing.Owner),
			zap.Time("started_at", existing.StartedAt))
		if err := l.store.DeleteSyncLock(ctx, existing.Owner); err != nil {
			return fmt.Errorf("reclaiming stale lock: %w", err)
		}
	}

	lock := store.SyncLock{
		Owner:        uuid.NewString(),
		Pid:          os.Getpid(),
		TargetShards: formatShards(shardIDs),
		StartedAt:    time.Now().UTC(),
	}
	if err := l.store.InsertSyncLock(ctx, lock); err != nil {
		return err
	}
	l.owner = lock.Owner
	return nil
}

// Release drops the lock if this process holds it.
func (l *runLock) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	err := l.store.DeleteSyncLock(ctx, l.owner)
	l.owner = ""
	return err
}

func formatShards(ids []uint32) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	return strings.Join(parts, ",")
}

// pidAlive probes a pid with signal 0.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	// EPERM means the process exists but belongs to someone else
	return err == nil || errors.Is(err, syscall.EPERM)
}
