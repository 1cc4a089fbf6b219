package scheduler

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"ledgerindexer/internal/lock"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocker(t *testing.T) *lock.Manager {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return lock.NewManager(client, quietLogger())
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestRunOnce_SkipsWhenHeldElsewhere(t *testing.T) {
	locker := newLocker(t)
	opts := lock.Options{TTL: time.Minute}

	started := make(chan struct{})
	release := make(chan struct{})
	var runs atomic.Int32

	job := Job{Name: "reconcile", Run: func(ctx context.Context) error {
		runs.Add(1)
		close(started)
		<-release
		return nil
	}}

	first := New(locker, opts, quietLogger(), job)
	second := New(locker, opts, quietLogger(), Job{Name: "reconcile", Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}})

	done := make(chan bool)
	go func() {
		ran, err := first.RunOnce(context.Background(), "reconcile")
		assert.NoError(t, err)
		done <- ran
	}()
	<-started

	ran, err := second.RunOnce(context.Background(), "reconcile")
	require.NoError(t, err)
	assert.False(t, ran)

	close(release)
	assert.True(t, <-done)
	assert.EqualValues(t, 1, runs.Load())

	// lock released: the other instance can run now
	ran, err = second.RunOnce(context.Background(), "reconcile")
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestRunOnce_ReturnsJobError(t *testing.T) {
	boom := errors.New("boom")
	s := New(newLocker(t), lock.Options{TTL: time.Minute}, quietLogger(),
		Job{Name: "burns", Run: func(context.Context) error { return boom }})

	ran, err := s.RunOnce(context.Background(), "burns")
	assert.True(t, ran)
	assert.ErrorIs(t, err, boom)
}

func TestRunOnce_UnknownJob(t *testing.T) {
	s := New(newLocker(t), lock.DefaultOptions(), quietLogger())
	_, err := s.RunOnce(context.Background(), "nope")
	assert.Error(t, err)
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	var runs atomic.Int32
	s := New(newLocker(t), lock.Options{TTL: time.Minute}, quietLogger(),
		Job{Name: "mirror_repair", Interval: 10 * time.Millisecond, Run: func(context.Context) error {
			runs.Add(1)
			return nil
		}},
		Job{Name: "manual_only", Run: func(context.Context) error {
			t.Error("job without interval must not be scheduled")
			return nil
		}},
	)
	assert.Equal(t, []string{"mirror_repair", "manual_only"}, s.Jobs())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-errCh)
}
