package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventSignalGenerated EventType = "SIGNAL_GENERATED"
	EventSignalPartial   EventType = "SIGNAL_PARTIAL"
	EventSignalClosed    EventType = "SIGNAL_CLOSED"
	EventUniverseUpdated EventType = "UNIVERSE_UPDATED"
	EventEngineStarted   EventType = "ENGINE_STARTED"
	EventEngineStopped   EventType = "ENGINE_STOPPED"
	EventError           EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Subscribers run in their own
// goroutines so a slow notifier cannot stall the publisher.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}

	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishSignalGenerated publishes a signal creation event
func (eb *EventBus) PublishSignalGenerated(signalID, symbol, direction, priority string, entry, score float64) {
	eb.Publish(Event{
		Type: EventSignalGenerated,
		Data: map[string]interface{}{
			"signal_id": signalID,
			"symbol":    symbol,
			"direction": direction,
			"priority":  priority,
			"entry":     entry,
			"score":     score,
		},
	})
}

// PublishSignalClosed publishes a full closure event
func (eb *EventBus) PublishSignalClosed(signalID, symbol, reason string, pnlPercent float64) {
	eb.Publish(Event{
		Type: EventSignalClosed,
		Data: map[string]interface{}{
			"signal_id":   signalID,
			"symbol":      symbol,
			"exit_reason": reason,
			"pnl_percent": pnlPercent,
		},
	})
}

// PublishSignalPartial publishes a TP1 partial fill event
func (eb *EventBus) PublishSignalPartial(signalID, symbol string, fillPrice, tp1PnL float64) {
	eb.Publish(Event{
		Type: EventSignalPartial,
		Data: map[string]interface{}{
			"signal_id":  signalID,
			"symbol":     symbol,
			"fill_price": fillPrice,
			"tp1_pnl":    tp1PnL,
		},
	})
}

// PublishUniverseUpdated publishes the result of a universe rescan
func (eb *EventBus) PublishUniverseUpdated(symbols []string) {
	eb.Publish(Event{
		Type: EventUniverseUpdated,
		Data: map[string]interface{}{
			"count":   len(symbols),
			"symbols": symbols,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string) {
	eb.Publish(Event{
		Type: EventError,
		Data: map[string]interface{}{
			"source":  source,
			"message": message,
		},
	})
}
