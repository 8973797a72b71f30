package pipeline

import (
	"sync"

	"trafficeye/internal/sink"
)

// EventBus provides pub/sub for violation events.
// It implements sink.Publisher so the sink can publish straight into it.
type EventBus struct {
	subscribers map[*eventSubscription]bool
	mu          sync.RWMutex
}

type eventSubscription struct {
	cameraFilter string // Empty string means receive all cameras
	channel      chan *sink.Event
	handler      EventHandler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[*eventSubscription]bool),
	}
}

func (b *EventBus) add(sub *eventSubscription) {
	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()
}

// remove deletes sub and closes its channel
func (b *EventBus) remove(sub *eventSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	if sub.channel != nil {
		close(sub.channel)
	}
}

// Subscribe registers a handler for events from all cameras.
// Returns an unsubscribe function
func (b *EventBus) Subscribe(handler EventHandler) func() {
	return b.SubscribeCamera("", handler)
}

// SubscribeCamera registers a handler for events from one camera
func (b *EventBus) SubscribeCamera(cameraID string, handler EventHandler) func() {
	sub := &eventSubscription{cameraFilter: cameraID, handler: handler}
	b.add(sub)
	return func() { b.remove(sub) }
}

// SubscribeChannel returns a buffered channel that receives every event.
// The channel is closed on unsubscribe.
func (b *EventBus) SubscribeChannel(bufferSize int) (<-chan *sink.Event, func()) {
	return b.SubscribeCameraChannel("", bufferSize)
}

// SubscribeCameraChannel returns a channel that receives events for one camera
func (b *EventBus) SubscribeCameraChannel(cameraID string, bufferSize int) (<-chan *sink.Event, func()) {
	if bufferSize <= 0 {
		bufferSize = 10
	}
	sub := &eventSubscription{
		cameraFilter: cameraID,
		channel:      make(chan *sink.Event, bufferSize),
	}
	b.add(sub)
	return sub.channel, func() { b.remove(sub) }
}

// Publish sends an event to all matching subscribers. Handlers run
// synchronously so events arrive in frame order; channel subscribers
// that are full miss the event.
func (b *EventBus) Publish(event *sink.Event) {
	if event == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if sub.cameraFilter != "" && sub.cameraFilter != event.CameraID {
			continue
		}
		if sub.handler != nil {
			sub.handler.OnViolation(event)
		} else if sub.channel != nil {
			select {
			case sub.channel <- event:
			default:
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close unsubscribes all subscribers and closes channels
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub.channel != nil {
			close(sub.channel)
		}
		delete(b.subscribers, sub)
	}
}

var _ sink.Publisher = (*EventBus)(nil)
