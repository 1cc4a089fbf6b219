// Package lock implements a Redis mutual-exclusion lock with owner tokens.
// Contention is a normal outcome: Acquire returns a nil lock, not an error.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "lock:"

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// extendScript adds ARGV[2] milliseconds to the remaining TTL; the key never
// loses its expiry in between.
var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	local ttl = redis.call("pttl", KEYS[1])
	if ttl < 0 then
		ttl = 0
	end
	return redis.call("pexpire", KEYS[1], ttl + tonumber(ARGV[2]))
end
return 0
`)

type Options struct {
	TTL        time.Duration
	RetryCount int
	RetryDelay time.Duration
}

func DefaultOptions() Options {
	return Options{
		TTL:        30 * time.Second,
		RetryCount: 0,
		RetryDelay: 200 * time.Millisecond,
	}
}

// Lock is a held lock. Token proves ownership for Release and Extend.
type Lock struct {
	Resource   string
	Token      string
	AcquiredAt time.Time
	TTL        time.Duration
}

func (l *Lock) key() string {
	return keyPrefix + l.Resource
}

type Manager struct {
	client redis.UniversalClient
	log    *logrus.Logger
}

func NewManager(client redis.UniversalClient, log *logrus.Logger) *Manager {
	return &Manager{
		client: client,
		log:    log,
	}
}

// Acquire tries SET NX PX up to RetryCount+1 times. It returns (nil, nil)
// when the lock stays held by someone else; the error is set only if ctx ends.
func (m *Manager) Acquire(ctx context.Context, resource string, opts Options) (*Lock, error) {
	if opts.TTL <= 0 {
		opts.TTL = DefaultOptions().TTL
	}

	for attempt := 0; attempt <= opts.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(opts.RetryDelay):
			}
		}

		token := uuid.NewString()
		ok, err := m.client.SetNX(ctx, keyPrefix+resource, token, opts.TTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			m.log.WithFields(logrus.Fields{
				"resource": resource,
				"attempt":  attempt + 1,
				"error":    err,
			}).Warn("Lock acquire failed")
			continue
		}
		if ok {
			return &Lock{
				Resource:   resource,
				Token:      token,
				AcquiredAt: time.Now(),
				TTL:        opts.TTL,
			}, nil
		}
	}

	m.log.WithField("resource", resource).Debug("Lock held by another owner")
	return nil, nil
}

// Release deletes the lock only if it is still owned by l.
func (m *Manager) Release(ctx context.Context, l *Lock) (bool, error) {
	if l == nil {
		return false, nil
	}
	n, err := releaseScript.Run(ctx, m.client, []string{l.key()}, l.Token).Int64()
	if err != nil {
		return false, fmt.Errorf("release lock %s: %w", l.Resource, err)
	}
	return n == 1, nil
}

// Extend adds additional to the remaining TTL if l still owns the lock.
func (m *Manager) Extend(ctx context.Context, l *Lock, additional time.Duration) (bool, error) {
	if l == nil {
		return false, nil
	}
	n, err := extendScript.Run(ctx, m.client, []string{l.key()}, l.Token, additional.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("extend lock %s: %w", l.Resource, err)
	}
	return n == 1, nil
}

// WithLock runs fn while holding resource. ran is false when the lock was
// not acquired. The lock is extended periodically while fn runs and fn's
// context is cancelled if ownership is lost.
func (m *Manager) WithLock(ctx context.Context, resource string, opts Options, fn func(ctx context.Context) error) (ran bool, err error) {
	l, err := m.Acquire(ctx, resource, opts)
	if err != nil {
		return false, err
	}
	if l == nil {
		return false, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go m.keepAlive(runCtx, cancel, l, done)

	defer func() {
		cancel()
		<-done
		releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer releaseCancel()
		if released, relErr := m.Release(releaseCtx, l); relErr != nil {
			m.log.WithFields(logrus.Fields{"resource": resource, "error": relErr}).Error("Lock release failed")
		} else if !released {
			m.log.WithField("resource", resource).Warn("Lock expired before release")
		}
	}()

	return true, fn(runCtx)
}

func (m *Manager) keepAlive(ctx context.Context, lost context.CancelFunc, l *Lock, done chan<- struct{}) {
	defer close(done)

	interval := l.TTL / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := m.Extend(ctx, l, interval)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				m.log.WithFields(logrus.Fields{"resource": l.Resource, "error": err}).Warn("Lock extend failed")
				continue
			}
			if !ok {
				m.log.WithField("resource", l.Resource).Error("Lock lost while running")
				lost()
				return
			}
		}
	}
}
