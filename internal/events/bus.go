package events

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

const recentBufferSize = 100

// Bus is an in-process publish/subscribe event bus. Events are dispatched
// from a single goroutine so handlers observe them in publish order.
type Bus struct {
	logger hclog.Logger

	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	eventChannel  chan Event
	running       bool
	stopCh        chan struct{}
	wg            sync.WaitGroup

	recentEvents []Event
	totalEvents  int64
}

// NewBus creates a new event bus with the given channel buffer size.
func NewBus(bufferSize int, logger hclog.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &Bus{
		logger:        logger,
		subscriptions: make(map[string]*Subscription),
		eventChannel:  make(chan Event, bufferSize),
		recentEvents:  make([]Event, 0, recentBufferSize),
		stopCh:        make(chan struct{}),
	}
}

// Start begins event dispatch.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return fmt.Errorf("event bus is already running")
	}
	b.running = true
	b.stopCh = make(chan struct{})

	b.wg.Add(1)
	go b.processEvents(ctx)

	b.logger.Info("event bus started", "buffer_size", cap(b.eventChannel))
	return nil
}

// Stop shuts the bus down, waiting for in-flight dispatch to drain.
func (b *Bus) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	b.mu.Unlock()

	close(b.stopCh)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("event bus stopped")
		return nil
	case <-ctx.Done():
		b.logger.Warn("event bus stop timed out")
		return ctx.Err()
	}
}

// PublishAsync publishes an event without blocking. If the channel is full
// the event is dropped; progress events are advisory and a stale update is
// preferable to stalling the pipeline.
func (b *Bus) PublishAsync(event Event) error {
	b.mu.RLock()
	if !b.running {
		b.mu.RUnlock()
		return fmt.Errorf("event bus is not running")
	}
	b.mu.RUnlock()

	if event.ID == "" {
		event.ID = generateEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Type == "" {
		return fmt.Errorf("event type is required")
	}

	select {
	case b.eventChannel <- event:
		return nil
	default:
		b.logger.Warn("event channel full, dropping event", "event_type", event.Type, "event_id", event.ID)
		return fmt.Errorf("event channel full")
	}
}

// Subscribe registers a handler for events matching the filter.
func (b *Bus) Subscribe(filter EventFilter, handler EventHandler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		ID:      "sub-" + randomHex(8),
		Filter:  filter,
		Handler: handler,
		Created: time.Now(),
	}
	b.subscriptions[sub.ID] = sub

	b.logger.Debug("subscription created", "subscription_id", sub.ID, "types", filter.Types)
	return sub
}

// Unsubscribe removes a subscription.
func (b *Bus) Unsubscribe(subscriptionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscriptions[subscriptionID]; !ok {
		return fmt.Errorf("subscription not found: %s", subscriptionID)
	}
	delete(b.subscriptions, subscriptionID)
	return nil
}

// RecentEvents returns a copy of the most recent events, newest last.
func (b *Bus) RecentEvents() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Event, len(b.recentEvents))
	copy(out, b.recentEvents)
	return out
}

// Health reports whether the bus is running and keeping up.
func (b *Bus) Health() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.running {
		return fmt.Errorf("event bus is not running")
	}
	usage := float64(len(b.eventChannel)) / float64(cap(b.eventChannel))
	if usage > 0.9 {
		return fmt.Errorf("event channel is %d%% full", int(usage*100))
	}
	return nil
}

func (b *Bus) processEvents(ctx context.Context) {
	defer b.wg.Done()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ctx.Done():
			return
		case event := <-b.eventChannel:
			b.handleEvent(event)
		}
	}
}

func (b *Bus) handleEvent(event Event) {
	b.mu.Lock()
	b.recentEvents = append(b.recentEvents, event)
	if len(b.recentEvents) > recentBufferSize {
		b.recentEvents = b.recentEvents[1:]
	}
	b.totalEvents++

	var matching []*Subscription
	for _, sub := range b.subscriptions {
		if MatchesFilter(event, sub.Filter) {
			matching = append(matching, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range matching {
		b.notifySubscriber(sub, event)
	}
}

func (b *Bus) notifySubscriber(sub *Subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("panic in event handler", "subscription_id", sub.ID, "error", r, "event_id", event.ID)
		}
	}()

	if err := sub.Handler(event); err != nil {
		b.logger.Error("event handler error", "subscription_id", sub.ID, "error", err, "event_id", event.ID)
		return
	}

	b.mu.Lock()
	sub.TriggerCount++
	b.mu.Unlock()
}

func generateEventID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixNano(), randomHex(8))
}

func randomHex(n int) string {
	buf := make([]byte, n)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}
