// Package jobqueue runs queued import jobs one at a time, reporting
// per-item outcomes and whole-job progress back through the job
// repository.
package jobqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mre-backend/internal/catalog"
	"mre-backend/internal/components/chrono"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/jobqueue")

const defaultPollInterval = time.Second

// ItemExecutor performs the actual import of one job item. The counts
// it returns are recorded verbatim on the item.
type ItemExecutor interface {
	ExecuteItem(ctx context.Context, item catalog.ImportJobItem) (map[string]int64, error)
}

// ItemExecutorFunc adapts a function to ItemExecutor.
type ItemExecutorFunc func(ctx context.Context, item catalog.ImportJobItem) (map[string]int64, error)

func (f ItemExecutorFunc) ExecuteItem(ctx context.Context, item catalog.ImportJobItem) (map[string]int64, error) {
	return f(ctx, item)
}

// Target names one unit of work to enqueue.
type Target struct {
	Type catalog.JobTargetType
	Ref  string
}

type Scheduler struct {
	repo  catalog.ImportJobRepository
	exec  ItemExecutor
	clock chrono.API

	interval time.Duration

	mu       sync.Mutex
	running  bool
	inFlight bool
	stop     chan struct{}
	done     chan struct{}
}

func NewScheduler(repo catalog.ImportJobRepository, exec ItemExecutor, clock chrono.API) *Scheduler {
	return &Scheduler{
		repo:     repo,
		exec:     exec,
		clock:    clock,
		interval: defaultPollInterval,
	}
}

// SetPollInterval must be called before Start.
func (s *Scheduler) SetPollInterval(d time.Duration) {
	s.interval = d
}

// Enqueue creates a queued job with one item per target.
func (s *Scheduler) Enqueue(ctx context.Context, targets []Target) (catalog.ImportJob, error) {
	ctx, span := tracer.Start(ctx, "Enqueue")
	defer span.End()

	job := catalog.ImportJob{
		ID:        uuid.NewString(),
		State:     catalog.JobQueued,
		CreatedAt: s.clock.Now(),
	}
	items := make([]catalog.ImportJobItem, 0, len(targets))
	for _, target := range targets {
		items = append(items, catalog.ImportJobItem{
			ID:         uuid.NewString(),
			JobID:      job.ID,
			TargetType: target.Type,
			TargetRef:  target.Ref,
			State:      catalog.JobQueued,
		})
	}

	job, err := s.repo.CreateJob(ctx, job, items)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create job")
		return catalog.ImportJob{}, err
	}
	slog.InfoContext(ctx, "queued import job", "job", job.ID, "items", len(items))
	return job, nil
}

// Start begins polling for queued jobs. Calling Start on a running
// scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go s.loop(ctx, s.stop, s.done)
}

// Stop suppresses future ticks and waits for the loop to exit. A tick
// already in flight runs to completion. Calling Stop on a stopped
// scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
}

func (s *Scheduler) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.Tick(ctx)
		}
	}
}

// Tick claims at most one queued job and runs it to completion. A
// tick that arrives while another is in flight returns immediately.
func (s *Scheduler) Tick(ctx context.Context) {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return
	}
	s.inFlight = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	job, items, err := s.repo.TakeNextQueuedJob(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to claim queued job", "err", err)
		return
	}
	if job == nil {
		return
	}

	s.runJob(ctx, *job, items)
}

func (s *Scheduler) runJob(ctx context.Context, job catalog.ImportJob, items []catalog.ImportJobItem) {
	ctx, span := tracer.Start(ctx, "runJob")
	defer span.End()

	slog.InfoContext(ctx, "running import job", "job", job.ID, "items", len(items))

	for i, item := range items {
		item.State = catalog.JobRunning
		if err := s.repo.UpdateJobItem(ctx, item); err != nil {
			s.failJob(ctx, job, fmt.Sprintf("item %s: %v", item.ID, err))
			return
		}

		counts, err := s.exec.ExecuteItem(ctx, item)
		item.Counts = counts
		if err != nil {
			item.State = catalog.JobFailed
			item.Error = err.Error()
			if uerr := s.repo.UpdateJobItem(ctx, item); uerr != nil {
				slog.ErrorContext(ctx, "failed to record item failure",
					"job", job.ID, "item", item.ID, "err", uerr)
			}
			s.failJob(ctx, job, fmt.Sprintf("item %s (%s): %v", item.ID, item.TargetRef, err))
			return
		}

		item.State = catalog.JobSucceeded
		if err := s.repo.UpdateJobItem(ctx, item); err != nil {
			s.failJob(ctx, job, fmt.Sprintf("item %s: %v", item.ID, err))
			return
		}

		progress := (i + 1) * 100 / len(items)
		if err := s.repo.UpdateJobProgress(ctx, job.ID, progress); err != nil {
			slog.WarnContext(ctx, "failed to update job progress",
				"job", job.ID, "err", err)
		}
	}

	if err := s.repo.MarkJobSucceeded(ctx, job.ID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to mark job succeeded")
		slog.ErrorContext(ctx, "failed to mark job succeeded", "job", job.ID, "err", err)
		return
	}
	slog.InfoContext(ctx, "import job succeeded", "job", job.ID)
}

func (s *Scheduler) failJob(ctx context.Context, job catalog.ImportJob, message string) {
	slog.ErrorContext(ctx, "import job failed", "job", job.ID, "err", message)
	if err := s.repo.MarkJobFailed(ctx, job.ID, message); err != nil {
		slog.ErrorContext(ctx, "failed to mark job failed", "job", job.ID, "err", err)
	}
}
