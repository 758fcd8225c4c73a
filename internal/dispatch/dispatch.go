// Package dispatch moves remote side effects of an evaluation cycle
// (notification delivery, trigger mirroring) onto a background worker.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ticker-alerts/internal/alerting"
	"ticker-alerts/internal/metrics"
	"ticker-alerts/internal/storage"
)

var (
	// ErrQueueFull is returned by Submit when the buffer is exhausted.
	ErrQueueFull = errors.New("dispatch: queue full")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("dispatch: queue closed")
)

// Job is one unit of background work.
type Job func(ctx context.Context) error

// Options tune a queue.
type Options struct {
	Name       string
	Size       int
	JobTimeout time.Duration
}

// Queue runs submitted jobs in order on a single goroutine. Submit never blocks.
type Queue struct {
	opts   Options
	jobs   chan Job
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewQueue starts the worker.
func NewQueue(opts Options, logger zerolog.Logger) *Queue {
	if opts.Size <= 0 {
		opts.Size = 256
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 10 * time.Second
	}
	if opts.Name == "" {
		opts.Name = "dispatch"
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		opts:   opts,
		jobs:   make(chan Job, opts.Size),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With().Str("component", "dispatch").Str("queue", opts.Name).Logger(),
	}
	go q.work()
	return q
}

// Submit enqueues a job.
func (q *Queue) Submit(job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		metrics.DispatchDropped.WithLabelValues(q.opts.Name).Inc()
		return ErrClosed
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		metrics.DispatchDropped.WithLabelValues(q.opts.Name).Inc()
		return ErrQueueFull
	}
}

// Close stops accepting jobs and waits for the backlog to drain. When ctx
// expires first the running job is cancelled and the rest are discarded.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		q.cancel()
		<-q.done
		return ctx.Err()
	}
}

func (q *Queue) work() {
	defer close(q.done)
	for job := range q.jobs {
		if q.ctx.Err() != nil {
			continue
		}
		jctx, cancel := context.WithTimeout(q.ctx, q.opts.JobTimeout)
		if err := job(jctx); err != nil {
			q.logger.Warn().Err(err).Msg("background job failed")
		}
		cancel()
	}
}

// Notifier delivers through next on the queue. Delivery failures are
// logged with the full alert text.
type Notifier struct {
	q    *Queue
	next alerting.Notifier
}

// NewNotifier wraps next.
func NewNotifier(q *Queue, next alerting.Notifier) *Notifier {
	return &Notifier{q: q, next: next}
}

// Notify implements alerting.Notifier; it only reports enqueue failures.
func (n *Notifier) Notify(_ context.Context, note alerting.Notification) error {
	return n.q.Submit(func(ctx context.Context) error {
		if err := n.next.Notify(ctx, note); err != nil {
			n.q.logger.Warn().Err(err).Str("kind", string(note.Kind)).Msg(note.Title() + ": " + note.Text())
		}
		return nil
	})
}

// Sink mirrors trigger records through next on the queue.
type Sink struct {
	q    *Queue
	next storage.TriggerSink
}

// NewSink wraps next.
func NewSink(q *Queue, next storage.TriggerSink) *Sink {
	return &Sink{q: q, next: next}
}

// InsertTrigger implements storage.TriggerSink; it only reports enqueue failures.
func (s *Sink) InsertTrigger(_ context.Context, rec storage.TriggerRecord) error {
	return s.q.Submit(func(ctx context.Context) error {
		if err := s.next.InsertTrigger(ctx, rec); err != nil {
			metrics.PersistFailures.WithLabelValues("database").Inc()
			return err
		}
		return nil
	})
}

var (
	_ alerting.Notifier   = (*Notifier)(nil)
	_ storage.TriggerSink = (*Sink)(nil)
)
