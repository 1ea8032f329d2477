// Package bus provides event bus implementations for the claim analysis
// pipeline.
package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sinavika/fraudwatch/internal/domain"
)

// ChannelBus is the in-process bus for single-node deployments. Claim
// submission events, analysis results, and alerts all flow through it when
// no NATS server is configured.
//
// Delivery is best-effort: a subscriber whose buffer is full misses the
// message rather than stalling claim submission. Dropped counts are exposed
// through ChannelStats so operators can size the buffer.
type ChannelBus struct {
	mu     sync.RWMutex
	buffer int
	subs   map[string][]*channelSubscription
	closed bool

	published atomic.Int64
	dropped   atomic.Int64
}

type channelSubscription struct {
	id       string
	tenantID string
	topic    string
	inbox    chan *domain.Message
	cancel   context.CancelFunc
}

// WildcardTenant subscribes across all tenants. On NATS this maps onto the
// native single-token subject wildcard; the channel bus implements the same
// semantics so global workers behave identically on both tiers.
const WildcardTenant = "*"

// ChannelStats reports delivery counters since the bus was created.
type ChannelStats struct {
	Published int64
	Dropped   int64
	Topics    int
}

// NewChannelBus creates an in-process event bus. bufferSize is the per
// subscriber inbox depth.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		buffer: bufferSize,
		subs:   make(map[string][]*channelSubscription),
	}
}

// Publish delivers a message to every subscriber of the tenant's topic.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus is closed")
	}
	targets := b.subs[tenantID+":"+topic]
	// Wildcard subscribers receive every tenant's traffic on the topic.
	if tenantID != WildcardTenant {
		targets = append(targets[:len(targets):len(targets)], b.subs[WildcardTenant+":"+topic]...)
	}
	b.mu.RUnlock()

	msg := &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}

	b.published.Add(1)
	for _, sub := range targets {
		select {
		case sub.inbox <- msg:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers a handler for a tenant's topic. The handler runs on a
// dedicated goroutine until Unsubscribe or Close.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		id:       uuid.New().String(),
		tenantID: tenantID,
		topic:    topic,
		inbox:    make(chan *domain.Message, b.buffer),
		cancel:   cancel,
	}

	go func() {
		for {
			select {
			case <-subCtx.Done():
				return
			case msg := <-sub.inbox:
				if msg != nil {
					_ = handler(subCtx, msg)
				}
			}
		}
	}()

	key := tenantID + ":" + topic
	b.subs[key] = append(b.subs[key], sub)
	return sub, nil
}

// Ping reports whether the bus accepts traffic.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Close cancels all subscriptions. Further publishes fail.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.cancel()
			close(sub.inbox)
		}
	}
	b.subs = make(map[string][]*channelSubscription)
	return nil
}

// Stats returns delivery counters.
func (b *ChannelBus) Stats() ChannelStats {
	b.mu.RLock()
	topics := len(b.subs)
	b.mu.RUnlock()
	return ChannelStats{
		Published: b.published.Load(),
		Dropped:   b.dropped.Load(),
		Topics:    topics,
	}
}

// Unsubscribe stops the delivery goroutine.
func (s *channelSubscription) Unsubscribe() error {
	s.cancel()
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}
