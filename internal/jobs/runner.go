// Package jobs runs background title generation for freshly created notes.
// Jobs are fire-and-forget: the request that schedules one never waits for it
// and never learns how it ended.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"notecrm/api/internal/push"
	"notecrm/api/internal/titlegen"
)

// TitleJob is the unit of work scheduled after a note is created.
type TitleJob struct {
	NoteID  string
	Content string
	UserID  string
}

type Persister interface {
	PersistTitle(ctx context.Context, noteID, title string) error
}

type Publisher interface {
	Publish(userID string, event push.Event) bool
}

// PersistenceError wraps a failed title update.
type PersistenceError struct {
	NoteID string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist title for note %s: %v", e.NoteID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

var errEmptyTitle = errors.New("generated title is empty after cleanup")

type RunnerConfig struct {
	// MaxConcurrent bounds generator calls in flight. Zero means 4.
	MaxConcurrent int
	// Timeout caps one job's generate and persist steps. Zero means 20s.
	Timeout time.Duration
	Clock   clock.Clock
	Logger  zerolog.Logger
}

// Runner executes TitleJobs on their own goroutines.
type Runner struct {
	generator titlegen.Generator
	persister Persister
	publisher Publisher
	slots     *semaphore.Weighted
	timeout   time.Duration
	clock     clock.Clock
	logger    zerolog.Logger

	// waitCtx gates slot acquisition; jobCtx parents running jobs.
	waitCtx   context.Context
	stopWait  context.CancelFunc
	jobCtx    context.Context
	abortJobs context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewRunner(generator titlegen.Generator, persister Persister, publisher Publisher, cfg RunnerConfig) *Runner {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	waitCtx, stopWait := context.WithCancel(context.Background())
	jobCtx, abortJobs := context.WithCancel(context.Background())
	return &Runner{
		generator: generator,
		persister: persister,
		publisher: publisher,
		slots:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		timeout:   cfg.Timeout,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		waitCtx:   waitCtx,
		stopWait:  stopWait,
		jobCtx:    jobCtx,
		abortJobs: abortJobs,
	}
}

// Schedule starts job in the background and returns immediately.
func (r *Runner) Schedule(job TitleJob) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Warn().Str("note_id", job.NoteID).Msg("runner shut down, dropping title job")
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error().
					Str("note_id", job.NoteID).
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("title job panicked")
			}
		}()

		if !r.acquireSlot(job) {
			return
		}
		defer r.slots.Release(1)

		if err := r.run(job); err != nil {
			r.logger.Warn().Err(err).Str("note_id", job.NoteID).Str("user_id", job.UserID).Msg("title job failed")
		}
	}()
}

// acquireSlot takes a free slot without consulting waitCtx, so a job that
// finds one is never dropped by Shutdown. Only jobs that have to queue for a
// busy slot can be cancelled.
func (r *Runner) acquireSlot(job TitleJob) bool {
	if r.slots.TryAcquire(1) {
		return true
	}
	if err := r.slots.Acquire(r.waitCtx, 1); err != nil {
		r.logger.Warn().Err(err).Str("note_id", job.NoteID).Msg("title job cancelled before start")
		return false
	}
	return true
}

func (r *Runner) run(job TitleJob) error {
	ctx, cancel := context.WithTimeout(r.jobCtx, r.timeout)
	defer cancel()

	started := r.clock.Now()
	raw, err := r.generator.Generate(ctx, job.Content)
	if err != nil {
		return err
	}
	title := titlegen.Clean(raw)
	if title == "" {
		return &titlegen.GenerationError{Reason: "empty title", Err: errEmptyTitle}
	}

	if err := r.persister.PersistTitle(ctx, job.NoteID, title); err != nil {
		return &PersistenceError{NoteID: job.NoteID, Err: err}
	}

	delivered := r.publisher.Publish(job.UserID, push.NewTitleUpdate(job.NoteID, title, job.UserID, r.clock.Now()))
	r.logger.Info().
		Str("note_id", job.NoteID).
		Str("user_id", job.UserID).
		Bool("delivered", delivered).
		Dur("elapsed", r.clock.Now().Sub(started)).
		Msg("generated note title")
	return nil
}

// Shutdown stops accepting jobs, cancels jobs still waiting for a slot and
// waits for running ones until ctx expires.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.stopWait()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.abortJobs()
		return nil
	case <-ctx.Done():
		r.abortJobs()
		return ctx.Err()
	}
}
