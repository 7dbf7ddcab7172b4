package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

var ErrJobLockHeld = errors.New("scheduler_job_lock_held")

// JobLocker keeps a job single-runner across scheduler replicas.
type JobLocker interface {
	Obtain(ctx context.Context, job string, ttl time.Duration) (release func(context.Context) error, err error)
}

type redisJobLocker struct {
	client *redislock.Client
}

// NewJobLocker returns nil when Redis is not configured. Jobs still run
// without it because every reminder and repair claim is idempotent in the
// database.
func NewJobLocker(client *redis.Client) JobLocker {
	if client == nil {
		return nil
	}
	return &redisJobLocker{client: redislock.New(client)}
}

func (l *redisJobLocker) Obtain(ctx context.Context, job string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := l.client.Obtain(ctx, jobLockKey(job), ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrJobLockHeld
	}
	if err != nil {
		return nil, err
	}
	return lock.Release, nil
}

func jobLockKey(job string) string {
	return fmt.Sprintf("opname:scheduler:job:%s", job)
}
