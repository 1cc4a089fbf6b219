// Package scheduler runs periodic jobs under a distributed lock, so that
// only one instance runs a given job at a time.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"ledgerindexer/internal/lock"
	"ledgerindexer/internal/metrics"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Locker interface {
	WithLock(ctx context.Context, resource string, opts lock.Options, fn func(ctx context.Context) error) (bool, error)
}

type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type Scheduler struct {
	locker   Locker
	lockOpts lock.Options
	jobs     map[string]Job
	order    []string
	log      *logrus.Logger
}

func New(locker Locker, lockOpts lock.Options, log *logrus.Logger, jobs ...Job) *Scheduler {
	s := &Scheduler{
		locker:   locker,
		lockOpts: lockOpts,
		jobs:     make(map[string]Job, len(jobs)),
		log:      log,
	}
	for _, job := range jobs {
		if _, dup := s.jobs[job.Name]; !dup {
			s.order = append(s.order, job.Name)
		}
		s.jobs[job.Name] = job
	}
	return s
}

func (s *Scheduler) Jobs() []string {
	return append([]string(nil), s.order...)
}

// Run starts every job on its own ticker and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, name := range s.order {
		job := s.jobs[name]
		if job.Interval <= 0 {
			s.log.WithField("job", job.Name).Warn("Job has no interval, not scheduled")
			continue
		}
		g.Go(func() error {
			s.loop(ctx, job)
			return nil
		})
	}

	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	s.log.WithFields(logrus.Fields{
		"job":      job.Name,
		"interval": job.Interval.String(),
	}).Info("Job scheduled")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.execute(ctx, job); err != nil && ctx.Err() == nil {
				s.log.WithFields(logrus.Fields{
					"job":   job.Name,
					"error": err,
				}).Error("Job failed")
			}
		}
	}
}

// RunOnce runs the named job now. ran is false when another instance holds
// the job's lock.
func (s *Scheduler) RunOnce(ctx context.Context, name string) (bool, error) {
	job, ok := s.jobs[name]
	if !ok {
		return false, fmt.Errorf("unknown job %q", name)
	}
	return s.execute(ctx, job)
}

func (s *Scheduler) execute(ctx context.Context, job Job) (bool, error) {
	started := time.Now()
	ran, err := s.locker.WithLock(ctx, "job:"+job.Name, s.lockOpts, job.Run)

	entry := s.log.WithFields(logrus.Fields{
		"job":      job.Name,
		"duration": time.Since(started).String(),
	})
	switch {
	case err != nil:
		metrics.JobRuns.WithLabelValues(job.Name, "error").Inc()
		return ran, err
	case !ran:
		metrics.JobRuns.WithLabelValues(job.Name, "skipped").Inc()
		entry.Debug("Job skipped, lock held elsewhere")
	default:
		metrics.JobRuns.WithLabelValues(job.Name, "ok").Inc()
		entry.Info("Job completed")
	}
	return ran, nil
}
