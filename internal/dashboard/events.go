package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"logdash/internal/analysis"
	"logdash/internal/connectors/events"
)

const (
	eventTimeout   = 5 * time.Second
	eventQueueSize = 256
)

// RecorderOptions tunes the event queue.
type RecorderOptions struct {
	QueueSize int
	// OnDrop is called with the event type when the queue is full.
	OnDrop func(eventType string)
}

// EventRecorder turns fetch and upload failures into events on a sink.
// Events are queued and written by a single worker, so a slow sink never
// holds up a fetch. Sink errors are logged and never reach the caller.
type EventRecorder struct {
	sink   events.Sink
	logger *zap.Logger
	onDrop func(string)

	queue     chan events.Event
	stop      chan struct{}
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func NewEventRecorder(sink events.Sink, opts RecorderOptions, logger *zap.Logger) *EventRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = eventQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &EventRecorder{
		sink:   sink,
		logger: logger.Named("events"),
		onDrop: opts.OnDrop,
		queue:  make(chan events.Event, opts.QueueSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	if sink == nil {
		close(r.done)
		return r
	}
	go r.run()
	return r
}

// ObserveFetch records failed positions only.
func (r *EventRecorder) ObserveFetch(_ context.Context, batchID uuid.UUID, index int, ep analysis.Endpoint, res analysis.Result, elapsed time.Duration) {
	if !res.Failed() {
		return
	}
	r.record(events.Event{
		Type:       events.TypeFetchFailed,
		BatchID:    batchID.String(),
		Position:   index,
		Endpoint:   ep.Path,
		Cause:      string(res.Cause),
		Reason:     res.Reason,
		DurationMS: elapsed.Milliseconds(),
	})
}

func (r *EventRecorder) UploadFailed(_ context.Context, filename string, err error) {
	r.record(events.Event{
		Type:     events.TypeUploadFailed,
		Position: -1,
		Endpoint: filename,
		Cause:    string(analysis.CauseOf(err)),
		Reason:   err.Error(),
	})
}

func (r *EventRecorder) BatchPublished(batch analysis.Batch) {
	r.record(events.Event{
		Type:       events.TypeBatchDone,
		BatchID:    batch.ID.String(),
		Position:   batch.Len(),
		DurationMS: batch.FinishedAt.Sub(batch.StartedAt).Milliseconds(),
	})
}

// Hooks returns service hooks backed by this recorder.
func (r *EventRecorder) Hooks() Hooks {
	return Hooks{
		UploadFailed:   r.UploadFailed,
		BatchPublished: r.BatchPublished,
	}
}

// Close stops accepting events and flushes the queue. Writes still pending
// after eventTimeout are abandoned.
func (r *EventRecorder) Close() {
	r.closeOnce.Do(func() {
		close(r.stop)
		timer := time.NewTimer(eventTimeout)
		defer timer.Stop()
		select {
		case <-r.done:
		case <-timer.C:
			r.logger.Warn("event flush timed out", zap.Int("pending", len(r.queue)))
		}
		r.cancel()
		<-r.done
	})
}

func (r *EventRecorder) record(ev events.Event) {
	if r.sink == nil {
		return
	}
	select {
	case <-r.stop:
		return
	default:
	}
	select {
	case r.queue <- ev:
	default:
		r.logger.Warn("event dropped", zap.String("type", ev.Type), zap.String("endpoint", ev.Endpoint))
		if r.onDrop != nil {
			r.onDrop(ev.Type)
		}
	}
}

func (r *EventRecorder) run() {
	defer close(r.done)
	for {
		select {
		case ev := <-r.queue:
			r.write(ev)
		case <-r.stop:
			for {
				select {
				case ev := <-r.queue:
					r.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (r *EventRecorder) write(ev events.Event) {
	ctx, cancel := context.WithTimeout(r.ctx, eventTimeout)
	defer cancel()
	if err := r.sink.Record(ctx, ev); err != nil {
		r.logger.Warn("event not recorded", zap.String("type", ev.Type), zap.Error(err))
	}
}
