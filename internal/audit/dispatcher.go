package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/KromaEnergia/contract-engine/internal/metrics"
)

type Options struct {
	QueueSize      int
	// EnqueueTimeout bounds how long Emit waits for room in a full queue
	// before the event is dropped.
	EnqueueTimeout time.Duration
	Retries        int
	Backoff        time.Duration
	Timeout        time.Duration
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
}

// Dispatcher queues events in memory and delivers them to every sink from a
// single goroutine started with Run.
type Dispatcher struct {
	opts  Options
	queue chan Event
	sinks []Sink
	done  chan struct{}
}

func NewDispatcher(opts Options, sinks ...Sink) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.EnqueueTimeout <= 0 {
		opts.EnqueueTimeout = 250 * time.Millisecond
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 100 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{
		opts:  opts,
		queue: make(chan Event, opts.QueueSize),
		sinks: sinks,
		done:  make(chan struct{}),
	}
}

// Emit queues events for delivery. When the queue is full it waits up to
// EnqueueTimeout for room, or until ctx is done, and then drops the event.
func (d *Dispatcher) Emit(ctx context.Context, events ...Event) {
	for _, ev := range events {
		select {
		case d.queue <- ev:
			continue
		default:
		}
		if !d.enqueueWait(ctx, ev) {
			d.opts.Metrics.AuditDropped("queue_full")
			d.opts.Logger.Warn("audit queue full, event dropped",
				"entity_type", ev.EntityType, "entity_id", ev.EntityID, "action", ev.Action)
		}
	}
}

func (d *Dispatcher) enqueueWait(ctx context.Context, ev Event) bool {
	timer := time.NewTimer(d.opts.EnqueueTimeout)
	defer timer.Stop()
	select {
	case d.queue <- ev:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Run delivers events until ctx is cancelled, then drains what is queued.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-d.queue:
					d.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

// Done is closed once Run has returned.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

func (d *Dispatcher) deliver(ev Event) {
	for _, s := range d.sinks {
		var err error
		for attempt := 0; attempt <= d.opts.Retries; attempt++ {
			if attempt > 0 {
				time.Sleep(d.opts.Backoff * time.Duration(attempt))
			}
			ctx, cancel := context.WithTimeout(context.Background(), d.opts.Timeout)
			err = s.Write(ctx, ev)
			cancel()
			if err == nil {
				break
			}
		}
		if err != nil {
			d.opts.Metrics.AuditDropped("sink_error")
			d.opts.Logger.Error("audit delivery failed",
				"entity_type", ev.EntityType, "entity_id", ev.EntityID, "action", ev.Action, "err", err)
		}
	}
}
