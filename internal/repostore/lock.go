package repostore

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 250 * time.Millisecond

// withLock runs fn while holding the advisory lock at path. Shared locks are
// taken by readers of a tree, exclusive locks by anything that mutates it.
func withLock(ctx context.Context, path string, shared bool, fn func() error) error {
	fl := flock.New(path)

	var (
		locked bool
		err    error
	)
	if shared {
		locked, err = fl.TryRLockContext(ctx, lockRetryDelay)
	} else {
		locked, err = fl.TryLockContext(ctx, lockRetryDelay)
	}
	if err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	if !locked {
		return fmt.Errorf("lock %s: %w", path, ctx.Err())
	}
	defer fl.Unlock()

	return fn()
}
