package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/seowatch/seowatch-backend/internal/models"
	"github.com/seowatch/seowatch-backend/internal/pkg/metrics"
	"github.com/seowatch/seowatch-backend/internal/repository"
)

// ResultFunc observes terminal job transitions (delivered or dead), for the
// live dashboard feed.
type ResultFunc func(job *models.NotificationJob)

// Dispatcher runs the delivery worker pool. Workers claim ready jobs from the
// durable queue (highest severity first), send over the job's channel with a
// bounded timeout, and either complete, requeue with backoff, or dead-letter.
type Dispatcher struct {
	repo        repository.NotificationRepository
	registry    *Registry
	backoff     Backoff
	maxAttempts int
	workers     int
	sendTimeout time.Duration
	poll        time.Duration
	log         *slog.Logger
	onResult    ResultFunc

	mu       sync.Mutex
	limiters map[models.Channel]*rate.Limiter
	ratePerS float64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

type DispatcherOptions struct {
	Workers     int
	MaxAttempts int
	SendTimeout time.Duration
	Backoff     Backoff
	// ChannelRatePerSec throttles outbound sends per channel. Zero disables
	// throttling.
	ChannelRatePerSec float64
	// PollInterval is the idle wait between claim attempts when the queue is
	// drained.
	PollInterval time.Duration
	OnResult     ResultFunc
}

func NewDispatcher(repo repository.NotificationRepository, registry *Registry, opts DispatcherOptions, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &Dispatcher{
		repo:        repo,
		registry:    registry,
		backoff:     opts.Backoff,
		maxAttempts: opts.MaxAttempts,
		workers:     opts.Workers,
		sendTimeout: opts.SendTimeout,
		poll:        opts.PollInterval,
		log:         log,
		onResult:    opts.OnResult,
		limiters:    make(map[models.Channel]*rate.Limiter),
		ratePerS:    opts.ChannelRatePerSec,
		stopCh:      make(chan struct{}),
	}
}

// Start launches the worker pool. Workers stop pulling new jobs when ctx is
// cancelled or Stop is called; a send already in flight runs to completion
// inside its own timeout.
func (d *Dispatcher) Start(ctx context.Context) {
	d.log.Info("Starting dispatcher", "workers", d.workers, "max_attempts", d.maxAttempts)

	// Anything still in_flight predates this process: its worker is gone and
	// no outcome is coming. Requeue before workers start claiming.
	if n, err := d.repo.ReclaimStaleJobs(context.WithoutCancel(ctx), time.Now().UTC()); err != nil {
		d.log.Error("reclaim of orphaned jobs failed", "error", err)
	} else if n > 0 {
		d.log.Warn("requeued orphaned in-flight jobs", "count", n)
	}

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
	d.wg.Add(1)
	go d.monitorQueueDepth(ctx)
}

// Stop signals workers to finish and waits for in-flight sends.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	d.wg.Wait()
	d.log.Info("Dispatcher stopped")
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		default:
		}

		job, err := d.repo.ClaimNextJob(ctx, time.Now().UTC())
		if err != nil {
			d.log.Error("claim failed", "worker", id, "error", err)
			d.sleep(ctx, d.poll)
			continue
		}
		if job == nil {
			d.sleep(ctx, d.poll)
			continue
		}
		d.process(ctx, job)
	}
}

func (d *Dispatcher) process(ctx context.Context, job *models.NotificationJob) {
	attempt := job.AttemptCount + 1

	// Once a job is claimed its bookkeeping must land even if shutdown races
	// the attempt; a write aborted by ctx would strand the job in_flight.
	persist := context.WithoutCancel(ctx)

	sender, err := d.registry.For(job.Channel)
	if err != nil {
		d.finish(persist, job, attempt, models.SendPermanentFailure, err)
		return
	}

	if lim := d.limiter(job.Channel); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			// Shutdown while throttled: put the job back untouched.
			if reqErr := d.repo.RequeueJob(persist, job.ID, job.AttemptCount, time.Now().UTC()); reqErr != nil {
				d.log.Error("requeue on shutdown failed", "job_id", job.ID, "error", reqErr)
			}
			return
		}
	}

	// The send gets its own bounded context so shutdown doesn't abort a
	// delivery that is already on the wire.
	sendCtx, cancel := context.WithTimeout(persist, d.sendTimeout)
	start := time.Now()
	outcome, sendErr := sender.Send(sendCtx, job)
	cancel()

	metrics.DeliveryDurationSeconds.WithLabelValues(string(job.Channel)).Observe(time.Since(start).Seconds())
	d.finish(persist, job, attempt, outcome, sendErr)
}

// finish records the attempt and moves the job to its next state.
func (d *Dispatcher) finish(ctx context.Context, job *models.NotificationJob, attempt int, outcome models.SendOutcome, sendErr error) {
	detail := ""
	if sendErr != nil {
		detail = sendErr.Error()
	}
	if err := d.repo.AppendAttempt(ctx, &models.DeliveryAttempt{
		JobID:       job.ID,
		Attempt:     attempt,
		Channel:     job.Channel,
		Outcome:     outcome,
		ErrorDetail: detail,
	}); err != nil {
		d.log.Error("append attempt failed", "job_id", job.ID, "error", err)
	}
	metrics.DeliveryAttemptsTotal.WithLabelValues(string(job.Channel), string(outcome)).Inc()

	switch outcome {
	case models.SendSuccess:
		if err := d.repo.MarkDelivered(ctx, job.ID); err != nil {
			d.log.Error("mark delivered failed", "job_id", job.ID, "error", err)
			return
		}
		d.log.Info("notification delivered", "job_id", job.ID, "channel", job.Channel, "attempt", attempt)
		d.report(job, models.JobStatusDelivered)

	case models.SendPermanentFailure:
		if err := d.repo.MarkDead(ctx, job.ID, attempt); err != nil {
			d.log.Error("mark dead failed", "job_id", job.ID, "error", err)
			return
		}
		metrics.JobsDeadTotal.WithLabelValues("permanent_failure").Inc()
		d.log.Warn("notification dead-lettered", "job_id", job.ID, "channel", job.Channel, "reason", detail)
		d.report(job, models.JobStatusDead)

	case models.SendTransientFailure:
		if attempt >= d.maxAttempts {
			if err := d.repo.MarkDead(ctx, job.ID, attempt); err != nil {
				d.log.Error("mark dead failed", "job_id", job.ID, "error", err)
				return
			}
			metrics.JobsDeadTotal.WithLabelValues("max_attempts").Inc()
			d.log.Warn("notification exhausted retries", "job_id", job.ID, "channel", job.Channel, "attempts", attempt)
			d.report(job, models.JobStatusDead)
			return
		}
		delay := d.backoff.Delay(attempt)
		next := time.Now().UTC().Add(delay)
		if err := d.repo.RequeueJob(ctx, job.ID, attempt, next); err != nil {
			d.log.Error("requeue failed", "job_id", job.ID, "error", err)
			return
		}
		d.log.Info("notification retry scheduled", "job_id", job.ID, "channel", job.Channel,
			"attempt", attempt, "next_attempt_in", delay)
	}
}

func (d *Dispatcher) report(job *models.NotificationJob, status models.JobStatus) {
	if d.onResult == nil {
		return
	}
	cp := *job
	cp.Status = status
	d.onResult(&cp)
}

func (d *Dispatcher) limiter(ch models.Channel) *rate.Limiter {
	if d.ratePerS <= 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	lim, ok := d.limiters[ch]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(d.ratePerS), 1)
		d.limiters[ch] = lim
	}
	return lim
}

func (d *Dispatcher) monitorQueueDepth(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			if n, err := d.repo.CountByStatus(ctx, models.JobStatusQueued); err == nil {
				metrics.QueueDepth.Set(float64(n))
			}
			// A healthy attempt finishes within the send timeout; anything
			// in_flight for much longer lost its worker.
			cutoff := time.Now().UTC().Add(-2 * d.sendTimeout)
			if n, err := d.repo.ReclaimStaleJobs(ctx, cutoff); err == nil && n > 0 {
				d.log.Warn("requeued stale in-flight jobs", "count", n)
			}
		}
	}
}

func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-d.stopCh:
	case <-t.C:
	}
}
