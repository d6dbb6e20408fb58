package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benvon/crm-ratelimit/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// DefaultAsyncBuffer is how many events may wait for the broker.
const DefaultAsyncBuffer = 1024

const asyncPublishTimeout = 2 * time.Second

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("publisher closed")

var eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "crm",
	Subsystem: "ratelimit",
	Name:      "events_dropped_total",
	Help:      "Throttle events dropped because the publish buffer was full or the broker failed.",
})

// AsyncPublisher decouples request handling from the broker: Publish only
// enqueues, and a single goroutine forwards events. When the buffer is full
// events are dropped rather than slowing down the denied request.
type AsyncPublisher struct {
	next EventPublisher
	log  *zap.Logger

	events    chan *models.ThrottleEvent
	done      chan struct{}
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewAsyncPublisher starts forwarding to next. buffer <= 0 uses DefaultAsyncBuffer.
func NewAsyncPublisher(next EventPublisher, buffer int, log *zap.Logger) *AsyncPublisher {
	if buffer <= 0 {
		buffer = DefaultAsyncBuffer
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &AsyncPublisher{
		next:   next,
		log:    log,
		events: make(chan *models.ThrottleEvent, buffer),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *AsyncPublisher) run() {
	defer close(p.done)
	for event := range p.events {
		ctx, cancel := context.WithTimeout(context.Background(), asyncPublishTimeout)
		err := p.next.Publish(ctx, event)
		cancel()
		if err != nil {
			eventsDropped.Inc()
			p.log.Warn("throttle_event_publish_failed",
				zap.Error(err),
				zap.String("event_id", event.ID.String()),
			)
		}
	}
}

// Publish implements EventPublisher. It never blocks.
func (p *AsyncPublisher) Publish(_ context.Context, event *models.ThrottleEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}
	select {
	case p.events <- event:
	default:
		eventsDropped.Inc()
		p.log.Debug("throttle_event_dropped_buffer_full", zap.String("event_id", event.ID.String()))
	}
	return nil
}

// HealthCheck implements EventPublisher.
func (p *AsyncPublisher) HealthCheck(ctx context.Context) error {
	return p.next.HealthCheck(ctx)
}

// Close stops accepting events, drains the buffer and closes next.
func (p *AsyncPublisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.events)
		p.mu.Unlock()
		<-p.done
		err = p.next.Close()
	})
	return err
}
