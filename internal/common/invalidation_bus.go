package common

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"cashflow-suite/settings/internal/logging"
	"cashflow-suite/settings/internal/metrics"
)

// InvalidationEvent announces that one stored configuration changed.
type InvalidationEvent struct {
	Family     string    `json:"family"`
	ProviderID string    `json:"provider_id"`
	OwnerScope string    `json:"owner_scope"`
	Operation  string    `json:"operation"`
	At         time.Time `json:"at"`
}

// InvalidationHandler reacts to an invalidation. Handlers run synchronously on
// the publishing goroutine for local events and must not block.
type InvalidationHandler func(InvalidationEvent)

// InvalidationBus fans configuration changes out to dependent caches.
type InvalidationBus interface {
	Publish(ctx context.Context, event InvalidationEvent) error
	Subscribe(handler InvalidationHandler) (unsubscribe func())
	Close() error
}

// LocalInvalidationBus delivers events to subscribers in the same process.
type LocalInvalidationBus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]InvalidationHandler
}

var _ InvalidationBus = (*LocalInvalidationBus)(nil)

func NewLocalInvalidationBus() *LocalInvalidationBus {
	return &LocalInvalidationBus{handlers: map[int]InvalidationHandler{}}
}

// Publish delivers event to every subscriber before returning.
func (b *LocalInvalidationBus) Publish(_ context.Context, event InvalidationEvent) error {
	b.dispatch(event)
	return nil
}

func (b *LocalInvalidationBus) dispatch(event InvalidationEvent) {
	b.mu.RLock()
	handlers := make([]InvalidationHandler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

func (b *LocalInvalidationBus) Subscribe(handler InvalidationHandler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

func (b *LocalInvalidationBus) Close() error {
	return nil
}

type busMessage struct {
	InstanceID string            `json:"instance_id"`
	Event      InvalidationEvent `json:"event"`
}

// RedisInvalidationBus delivers events locally and to every other instance
// through a Redis pub/sub channel. Messages published by this instance are
// ignored on receipt since they were already dispatched locally.
type RedisInvalidationBus struct {
	*LocalInvalidationBus
	client     *redis.Client
	channel    string
	instanceID string
	metrics    *metrics.MetricsRegistry

	cancel context.CancelFunc
	done   chan struct{}
}

var _ InvalidationBus = (*RedisInvalidationBus)(nil)

func NewRedisInvalidationBus(client *redis.Client, channel string, m *metrics.MetricsRegistry) *RedisInvalidationBus {
	return &RedisInvalidationBus{
		LocalInvalidationBus: NewLocalInvalidationBus(),
		client:               client,
		channel:              channel,
		instanceID:           uuid.NewString(),
		metrics:              m,
	}
}

// Start subscribes to the channel and dispatches remote events until Close.
func (b *RedisInvalidationBus) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	sub := b.client.Subscribe(ctx, b.channel)

	// Wait for the subscription confirmation so no event published after
	// Start returns is missed.
	if _, err := sub.Receive(ctx); err != nil {
		cancel()
		sub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	b.cancel = cancel
	b.done = make(chan struct{})

	go func() {
		defer close(b.done)
		defer sub.Close()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				b.handleMessage(msg.Payload)
			}
		}
	}()

	logging.Info("Invalidation bus subscribed", "channel", b.channel, "instance_id", b.instanceID)
	return nil
}

func (b *RedisInvalidationBus) handleMessage(payload string) {
	var msg busMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		logging.Warn("Invalidation bus: dropping malformed message", "error", err)
		return
	}
	if msg.InstanceID == b.instanceID {
		return
	}
	if b.metrics != nil {
		b.metrics.InvalidationsTotal.WithLabelValues("remote").Inc()
	}
	b.dispatch(msg.Event)
}

// Publish dispatches locally first, then broadcasts. A broadcast failure is
// returned but local subscribers have already been invalidated.
func (b *RedisInvalidationBus) Publish(ctx context.Context, event InvalidationEvent) error {
	b.dispatch(event)

	payload, err := json.Marshal(busMessage{InstanceID: b.instanceID, Event: event})
	if err != nil {
		return fmt.Errorf("failed to encode invalidation: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}
	return nil
}

// Close stops the subscriber goroutine.
func (b *RedisInvalidationBus) Close() error {
	if b.cancel != nil {
		b.cancel()
		<-b.done
	}
	return nil
}
