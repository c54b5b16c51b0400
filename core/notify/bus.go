/*
Package notify dispatches write notifications.

A write is followed by a notification in its own transaction: the handlers
registered for the entity run within that transaction, after the write has
been committed. Once the notification transaction has committed as well, the
event is queued for the asynchronous sinks, for example a Kafka topic or an
SQS queue. Sinks are served by a fixed pool of workers.

Notification failures never fail the write. They are logged and counted.
*/
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/basebone/core/logger"
	"github.com/relabs-tech/basebone/core/metrics"
	"github.com/relabs-tech/basebone/core/storage"
)

// AnyEntity registers a handler for the writes of all entities
const AnyEntity = "*"

// Event describes a committed write
type Event struct {
	Entity  string                 `json:"entity"`
	ID      uuid.UUID              `json:"id"`
	Created bool                   `json:"created"`
	Payload map[string]interface{} `json:"payload,omitempty"`
	Time    time.Time              `json:"time"`
}

// Handler handles an event within the notification transaction
type Handler func(ctx context.Context, tx storage.Tx, event Event) error

// Sink delivers events asynchronously
type Sink interface {
	Deliver(ctx context.Context, event Event) error
	Close() error
}

type job struct {
	loggerData []byte
	event      Event
}

// Bus dispatches events to handlers and sinks
type Bus struct {
	handlers map[string][]Handler
	sinks    []Sink
	metrics  *metrics.Metrics
	queue    chan job
	wg       sync.WaitGroup
	mutex    sync.RWMutex
	closed   bool
}

// Options configure a bus
type Options struct {
	// Concurrency is the number of sink workers, default 4
	Concurrency int
	// QueueSize is the capacity of the sink queue, default 100
	QueueSize int
	Metrics   *metrics.Metrics
}

// NewBus creates a bus and starts its sink workers
func NewBus(o Options, sinks ...Sink) *Bus {
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 100
	}
	b := &Bus{
		handlers: map[string][]Handler{},
		sinks:    sinks,
		metrics:  o.Metrics,
		queue:    make(chan job, o.QueueSize),
	}
	b.wg.Add(o.Concurrency)
	for i := 0; i < o.Concurrency; i++ {
		go b.worker()
	}
	return b
}

// Handle registers a handler for the writes of an entity, or of all entities with
// AnyEntity. Handlers must be registered before requests are served.
func (b *Bus) Handle(entity string, handler Handler) {
	logger.Default().Debugf("install notification handler for %s", entity)
	b.handlers[entity] = append(b.handlers[entity], handler)
}

// Dispatch runs the handlers of the event's entity within tx. The first failing
// handler aborts the dispatch. A panicking handler counts as failed.
func (b *Bus) Dispatch(ctx context.Context, tx storage.Tx, event Event) error {
	for _, key := range []string{event.Entity, AnyEntity} {
		for _, handler := range b.handlers[key] {
			if err := callWithPanicEnvelope(ctx, tx, handler, event); err != nil {
				return err
			}
		}
	}
	return nil
}

func callWithPanicEnvelope(ctx context.Context, tx storage.Tx, handler Handler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovered from panic: %s", r)
		}
	}()
	err = handler(ctx, tx, event)
	return
}

// Notify runs the notification transaction for a committed write and queues the
// event for the sinks. Errors are logged and counted, never returned.
func (b *Bus) Notify(ctx context.Context, store storage.Store, event Event) {
	rlog := logger.FromContext(ctx)
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	err := storage.WithTx(ctx, store, func(tx storage.Tx) error {
		return b.Dispatch(ctx, tx, event)
	})
	if err != nil {
		rlog.WithError(err).Errorf("Error 4830: notification for %s %s failed", event.Entity, event.ID)
		b.metrics.IncNotificationFailure("handler")
		return
	}
	b.Enqueue(ctx, event)
}

// Enqueue queues the event for the sinks. It blocks while the queue is full, unless
// the context is done.
func (b *Bus) Enqueue(ctx context.Context, event Event) {
	if len(b.sinks) == 0 {
		return
	}
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	if b.closed {
		logger.FromContext(ctx).Errorf("Error 4831: bus is closed, drop notification for %s %s", event.Entity, event.ID)
		b.metrics.IncNotificationFailure("sink")
		return
	}
	select {
	case b.queue <- job{loggerData: logger.SerializeLoggerContext(ctx), event: event}:
	case <-ctx.Done():
		logger.FromContext(ctx).Errorf("Error 4832: drop notification for %s %s: %s", event.Entity, event.ID, ctx.Err())
		b.metrics.IncNotificationFailure("sink")
	}
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for j := range b.queue {
		ctx := logger.ContextWithLoggerFromData(context.Background(), j.loggerData)
		for _, sink := range b.sinks {
			if err := deliver(ctx, sink, j.event); err != nil {
				logger.FromContext(ctx).WithError(err).Errorf("Error 4833: cannot deliver notification for %s %s",
					j.event.Entity, j.event.ID)
				b.metrics.IncNotificationFailure("sink")
			}
		}
	}
}

func deliver(ctx context.Context, sink Sink, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovered from panic: %s", r)
		}
	}()
	return sink.Deliver(ctx, event)
}

// Close drains the queue, stops the workers and closes the sinks
func (b *Bus) Close() error {
	b.mutex.Lock()
	if b.closed {
		b.mutex.Unlock()
		return nil
	}
	b.closed = true
	close(b.queue)
	b.mutex.Unlock()

	b.wg.Wait()
	var firstErr error
	for _, sink := range b.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
