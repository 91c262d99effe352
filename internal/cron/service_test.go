package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/ledgermatch-backend/pkg/lock"
	"github.com/angelmondragon/ledgermatch-backend/pkg/logger"
	"github.com/angelmondragon/ledgermatch-backend/pkg/metrics"
)

type countingJob struct {
	name    string
	outcome Outcome
	err     error
	runs    int
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run(context.Context) (Outcome, error) {
	j.runs++
	return j.outcome, j.err
}

func newTestService(t *testing.T, locker lock.Locker, jobs ...Job) *Service {
	t.Helper()
	registry := NewRegistry()
	for _, job := range jobs {
		if err := registry.Register(job); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	cycleLock, err := NewLockerLock(locker, "cron:cycle:test", time.Minute)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	service, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: registry,
		Lock:     cycleLock,
		Metrics:  metrics.NewSchedulerMetrics(prometheus.NewRegistry()),
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	return service
}

func TestRunOnceRunsEveryJobEvenOnFailure(t *testing.T) {
	watchdog := &countingJob{name: "stale-upload-watchdog", err: errors.New("db down")}
	recompute := &countingJob{name: "scheduled-recompute", outcome: Outcome{"transitioned": 2}}
	service := newTestService(t, lock.NewLocalLocker(lock.Options{}), watchdog, recompute)

	ran, err := service.RunOnce(context.Background())
	if !ran {
		t.Fatal("expected the cycle to run")
	}
	if err == nil {
		t.Fatal("expected the watchdog error to surface")
	}
	if watchdog.runs != 1 || recompute.runs != 1 {
		t.Fatalf("expected one run each, got watchdog=%d recompute=%d", watchdog.runs, recompute.runs)
	}
}

func TestRunOnceSelectsNamedJobs(t *testing.T) {
	watchdog := &countingJob{name: "stale-upload-watchdog"}
	recompute := &countingJob{name: "scheduled-recompute"}
	service := newTestService(t, lock.NewLocalLocker(lock.Options{}), watchdog, recompute)

	if _, err := service.RunOnce(context.Background(), "scheduled-recompute"); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if watchdog.runs != 0 || recompute.runs != 1 {
		t.Fatalf("unexpected runs watchdog=%d recompute=%d", watchdog.runs, recompute.runs)
	}
	if _, err := service.RunOnce(context.Background(), "nightly-export"); err == nil {
		t.Fatal("expected unknown job error")
	}
}

func TestRunOnceSkipsWhileAnotherWorkerHoldsTheLock(t *testing.T) {
	locker := lock.NewLocalLocker(lock.Options{})
	job := &countingJob{name: "stale-upload-watchdog"}
	service := newTestService(t, locker, job)

	release, err := locker.Obtain(context.Background(), "cron:cycle:test", time.Minute)
	if err != nil {
		t.Fatalf("obtain: %v", err)
	}
	ran, err := service.RunOnce(context.Background())
	if err != nil || ran {
		t.Fatalf("expected skipped cycle, ran=%v err=%v", ran, err)
	}
	if job.runs != 0 {
		t.Fatalf("job ran without the lock")
	}

	_ = release(context.Background())
	if ran, err := service.RunOnce(context.Background()); err != nil || !ran {
		t.Fatalf("expected cycle after release, ran=%v err=%v", ran, err)
	}
}
