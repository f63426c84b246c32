// Package guard admits batch load and purge operations, making sure at most
// one job per (target, kind) is in progress, and drives admitted jobs to a
// terminal state through the Work Executor.
package guard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/open-oni/oni-admin/internal/apperr"
	"github.com/open-oni/oni-admin/internal/batch"
	"github.com/open-oni/oni-admin/internal/history"
	"github.com/open-oni/oni-admin/internal/jobs"
	"github.com/open-oni/oni-admin/internal/lock"
	"github.com/open-oni/oni-admin/internal/logger"
	"github.com/open-oni/oni-admin/internal/manage"
)

// Reported when no job can be found after an attempt.
const (
	StatusAttemptFailed = "Attempt failed"
	JobIDNone           = "N/A"
)

// Terminal status writes are retried this many times, backing off from
// Options.FinishBackoff up to maxFinishBackoff.
const (
	finishAttempts       = 6
	defaultFinishBackoff = 250 * time.Millisecond
	maxFinishBackoff     = 5 * time.Second
)

// Retry hints returned with Conflict.
const (
	LoadRetryAfter  = 120 * time.Second
	PurgeRetryAfter = 30 * time.Second
)

// Executor performs the actual load or purge work.
type Executor interface {
	Execute(ctx context.Context, w manage.Work, out io.Writer) error
}

// Store is the subset of the job store the guard needs.
type Store interface {
	Admit(ctx context.Context, kind jobs.Kind, target string) (*jobs.Job, error)
	UpdateStatus(ctx context.Context, id string, to jobs.Status, info *string) (*jobs.Job, error)
	Latest(ctx context.Context, target string, kind jobs.Kind) (*jobs.Job, error)
}

// Options configures a Guard. Store, Executor and Locator are required.
type Options struct {
	Store    Store
	Executor Executor
	Locator  *batch.Locator
	// Locker serialises admission per key; defaults to an in-process mutex.
	Locker lock.Locker
	Logs   *jobs.LogStore
	// History may be nil.
	History *history.Store
	// Notify, if set, is called with every job transition.
	Notify func(jobs.Job)
	// Settle bounds how long a submission waits for the executor before
	// reporting. Zero waits for completion.
	Settle time.Duration
	// FinishBackoff is the first delay between attempts to record a
	// terminal status. Defaults to 250ms.
	FinishBackoff time.Duration
}

// Guard is the Submission Guard.
type Guard struct {
	store    Store
	executor Executor
	locator  *batch.Locator
	locker   lock.Locker
	logs     *jobs.LogStore
	history  *history.Store
	notify   func(jobs.Job)
	settle   time.Duration
	backoff  time.Duration

	wg sync.WaitGroup
}

// Result is reported for an admitted submission.
type Result struct {
	Info   string `json:"info"`
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// New creates a Guard.
func New(opts Options) *Guard {
	g := &Guard{
		store:    opts.Store,
		executor: opts.Executor,
		locator:  opts.Locator,
		locker:   opts.Locker,
		logs:     opts.Logs,
		history:  opts.History,
		notify:   opts.Notify,
		settle:   opts.Settle,
		backoff:  opts.FinishBackoff,
	}
	if g.backoff <= 0 {
		g.backoff = defaultFinishBackoff
	}
	if g.locker == nil {
		g.locker = lock.NewKeyedMutex()
	}
	return g
}

// Load submits a load of the batch at batchPath.
func (g *Guard) Load(ctx context.Context, batchPath string) (*Result, error) {
	name := batch.NameFromPath(batchPath)
	if !batch.ValidName(name) {
		g.rejected(jobs.KindLoadBatch, name, "invalid batch name")
		return nil, apperr.InvalidInput("Invalid batch name: %s", name)
	}

	dir, ok := g.locator.Resolve(batchPath)
	if !ok {
		g.rejected(jobs.KindLoadBatch, name, "batch path not found")
		return nil, apperr.NotFound("Batch path not found: %s", batchPath)
	}

	return g.submit(ctx, jobs.KindLoadBatch, name, dir)
}

// Purge submits a purge of the named batch.
func (g *Guard) Purge(ctx context.Context, batchName string) (*Result, error) {
	if !batch.ValidName(batchName) {
		g.rejected(jobs.KindPurgeBatch, batchName, "invalid batch name")
		return nil, apperr.InvalidInput("Invalid batch name: %s", batchName)
	}
	return g.submit(ctx, jobs.KindPurgeBatch, batchName, "")
}

// Wait blocks until every dispatched executor has finished.
func (g *Guard) Wait() {
	g.wg.Wait()
}

func (g *Guard) submit(ctx context.Context, kind jobs.Kind, target, path string) (*Result, error) {
	job, err := g.admit(ctx, kind, target)
	if err != nil {
		return nil, err
	}

	done := make(chan error, 1)
	g.wg.Add(1)
	go g.run(context.WithoutCancel(ctx), job, path, done)

	if settled, execErr := g.await(ctx, done); settled {
		if err := classify(target, execErr); err != nil {
			return nil, err
		}
	}

	latest, err := g.store.Latest(context.WithoutCancel(ctx), target, kind)
	if err != nil {
		return nil, apperr.Internal(err, err.Error())
	}
	if latest == nil {
		return &Result{Info: target, JobID: JobIDNone, Status: StatusAttemptFailed}, nil
	}
	return &Result{Info: latest.Info, JobID: latest.ID, Status: latest.Status.Label()}, nil
}

// admit claims the (target, kind) slot and returns the In Progress job.
func (g *Guard) admit(ctx context.Context, kind jobs.Kind, target string) (*jobs.Job, error) {
	unlock, err := g.locker.Lock(ctx, kind.Code()+":"+target)
	if err != nil {
		return nil, apperr.Internal(err, fmt.Sprintf("failed to acquire admission lock: %v", err))
	}
	defer unlock()

	job, err := g.store.Admit(ctx, kind, target)
	if err != nil {
		var conflict *jobs.ConflictError
		if errors.As(err, &conflict) {
			existingID := ""
			if conflict.Existing != nil {
				existingID = conflict.Existing.ID
			}
			logger.Warnf("Guard", "admit", "%s of %s rejected, job %s in progress", kind.Label(), target, existingID)
			g.record(history.Event{
				Type:   history.TypeConflict,
				JobID:  existingID,
				Kind:   kind.Code(),
				Target: target,
			})
			return nil, apperr.Conflict(existingID, retryAfter(kind), "%s is already in progress for %s", kind.Label(), target)
		}
		logger.Error("Guard", "admit", err)
		return nil, apperr.Internal(err, err.Error())
	}

	logger.WithJob(job.ID, kind.Code(), target).Info("job admitted")
	g.record(history.Event{
		Type:   history.TypeSubmitted,
		Status: job.Status.Label(),
		JobID:  job.ID,
		Kind:   kind.Code(),
		Target: target,
	})
	g.publish(job)
	return job, nil
}

// run executes the job and records its terminal state before signalling done.
func (g *Guard) run(ctx context.Context, job *jobs.Job, path string, done chan<- error) {
	defer g.wg.Done()
	entry := logger.WithJob(job.ID, job.Kind.Code(), job.Target)

	var out io.Writer = io.Discard
	var lw *jobs.LineWriter
	if g.logs != nil {
		lw = g.logs.Writer(job.ID)
		out = lw
	}

	execErr := g.executor.Execute(ctx, manage.Work{
		JobID:  job.ID,
		Kind:   job.Kind,
		Target: job.Target,
		Path:   path,
	}, out)
	if lw != nil {
		if err := lw.Flush(); err != nil {
			entry.WithError(err).Warn("failed to flush job output")
		}
	}

	to := jobs.StatusCompleted
	var info *string
	if execErr != nil {
		to = jobs.StatusFailed
		msg := execErr.Error()
		info = &msg
	}

	finished, err := g.finish(ctx, job, to, info)
	if err != nil {
		entry.WithError(err).Errorf("failed to record %s, job stays In Progress until recovery", to.Label())
		msg := fmt.Sprintf("failed to record %s: %v", to.Label(), err)
		if g.logs != nil {
			if logErr := g.logs.AppendLog(job.ID, msg); logErr != nil {
				entry.WithError(logErr).Warn("failed to append to job output")
			}
		}
		g.record(history.Event{
			Type:    history.TypeUnrecorded,
			Status:  to.Label(),
			JobID:   job.ID,
			Kind:    job.Kind.Code(),
			Target:  job.Target,
			Message: msg,
		})
	} else {
		if execErr != nil {
			entry.WithError(execErr).Warn("job failed")
		} else {
			entry.Info("job completed")
		}
		g.record(history.Event{
			Type:    history.TypeFinished,
			Status:  finished.Status.Label(),
			JobID:   finished.ID,
			Kind:    finished.Kind.Code(),
			Target:  finished.Target,
			Message: finished.Info,
		})
		g.publish(finished)
	}

	done <- execErr
}

// finish records the terminal status, retrying transient store failures
// with exponential backoff. A transition the store rejects is not retried.
func (g *Guard) finish(ctx context.Context, job *jobs.Job, to jobs.Status, info *string) (*jobs.Job, error) {
	delay := g.backoff
	var err error
	for attempt := 1; attempt <= finishAttempts; attempt++ {
		var finished *jobs.Job
		finished, err = g.store.UpdateStatus(ctx, job.ID, to, info)
		if err == nil {
			return finished, nil
		}
		if errors.Is(err, jobs.ErrInvalidTransition) || errors.Is(err, jobs.ErrNotFound) {
			return nil, err
		}
		if attempt == finishAttempts {
			break
		}
		logger.WithJob(job.ID, job.Kind.Code(), job.Target).WithError(err).
			Warnf("recording %s failed (attempt %d/%d), retrying in %s", to.Label(), attempt, finishAttempts, delay)
		time.Sleep(delay)
		delay = min(delay*2, maxFinishBackoff)
	}
	return nil, fmt.Errorf("gave up after %d attempts: %w", finishAttempts, err)
}

// await waits for the executor according to the settle policy. settled is
// false when the wait ended before the executor did.
func (g *Guard) await(ctx context.Context, done <-chan error) (settled bool, err error) {
	var timeout <-chan time.Time
	if g.settle > 0 {
		timer := time.NewTimer(g.settle)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case err := <-done:
		return true, err
	case <-timeout:
		return false, nil
	case <-ctx.Done():
		return false, nil
	}
}

// classify maps an executor failure to the error reported to the caller.
func classify(target string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, manage.ErrAlreadyLoaded):
		return apperr.Unprocessable(err, "Batch already loaded: %s", target)
	case errors.Is(err, manage.ErrBatchNotFound):
		return apperr.NotFound("Batch does not exist: %s", target)
	default:
		return apperr.Internal(err, err.Error())
	}
}

func retryAfter(kind jobs.Kind) time.Duration {
	if kind == jobs.KindPurgeBatch {
		return PurgeRetryAfter
	}
	return LoadRetryAfter
}

func (g *Guard) rejected(kind jobs.Kind, target, reason string) {
	logger.Warnf("Guard", "submit", "%s of %q rejected: %s", kind.Label(), target, reason)
	g.record(history.Event{
		Type:    history.TypeRejected,
		Kind:    kind.Code(),
		Target:  target,
		Message: reason,
	})
}

func (g *Guard) record(evt history.Event) {
	if err := g.history.Append(evt); err != nil {
		logger.Error("Guard", "record", err)
	}
}

func (g *Guard) publish(job *jobs.Job) {
	if g.notify != nil {
		g.notify(*job)
	}
}
