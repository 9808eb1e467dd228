// Package events delivers job lifecycle notifications. Delivery is best effort:
// a slow or absent broker never delays or fails a job.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/fetch-service/internal/domain"
)

// ErrDropped is returned when an event could not be queued for delivery
var ErrDropped = errors.New("event dropped")

// Publisher accepts lifecycle events
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// Noop discards every event
type Noop struct{}

func (Noop) Publish(context.Context, domain.Event) error { return nil }

// MessagePublisher is the broker side, satisfied by *rabbitmq.Client
type MessagePublisher interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// BrokerPublisher buffers events and forwards them to a message broker from a
// single goroutine. Events are routed by their type.
type BrokerPublisher struct {
	client         MessagePublisher
	logger         *slog.Logger
	publishTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	buf    chan domain.Event
	done   chan struct{}
}

// NewBrokerPublisher starts the delivery goroutine
func NewBrokerPublisher(client MessagePublisher, logger *slog.Logger, bufferSize int) *BrokerPublisher {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	p := &BrokerPublisher{
		client:         client,
		logger:         logger,
		publishTimeout: 10 * time.Second,
		buf:            make(chan domain.Event, bufferSize),
		done:           make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish queues ev without blocking. A full buffer drops the event.
func (p *BrokerPublisher) Publish(_ context.Context, ev domain.Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrDropped
	}

	select {
	case p.buf <- ev:
		return nil
	default:
		p.logger.Warn("Event buffer full, dropping event",
			slog.String("type", string(ev.Type)),
			slog.String("job_id", ev.JobID),
		)
		return ErrDropped
	}
}

// Close stops accepting events and waits for queued ones to be delivered
func (p *BrokerPublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.buf)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *BrokerPublisher) run() {
	defer close(p.done)

	for ev := range p.buf {
		body, err := json.Marshal(ev)
		if err != nil {
			p.logger.Error("Failed to encode event",
				slog.String("job_id", ev.JobID),
				slog.Any("error", err),
			)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), p.publishTimeout)
		err = p.client.PublishWithRetry(ctx, string(ev.Type), body, "application/json")
		cancel()
		if err != nil {
			p.logger.Warn("Failed to deliver event",
				slog.String("type", string(ev.Type)),
				slog.String("job_id", ev.JobID),
				slog.Any("error", err),
			)
		}
	}
}
