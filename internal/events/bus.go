package events

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// anyType keys subscriptions registered through SubscribeAll
const anyType EventType = "*"

type subscription struct {
	id      SubscriptionID
	handler EventHandler
}

// BusStats is a snapshot of bus throughput
type BusStats struct {
	Published int64
	Delivered int64
	Dropped   int64
	Queued    int
}

// DefaultEventBus dispatches events on a single goroutine in publication order.
// Publish never blocks the caller: when the queue is full the event is dropped
// and counted, so a slow subscriber cannot stall the detection worker.
type DefaultEventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType]map[SubscriptionID]EventHandler
	nextSubID   SubscriptionID

	queue    chan Event
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64

	logger *zap.Logger
}

// NewEventBus creates a bus whose queue holds bufferSize pending events. A nil
// logger disables bus diagnostics.
func NewEventBus(bufferSize int, logger *zap.Logger) *DefaultEventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize < 1 {
		bufferSize = 1
	}

	bus := &DefaultEventBus{
		subscribers: make(map[EventType]map[SubscriptionID]EventHandler),
		queue:       make(chan Event, bufferSize),
		stopCh:      make(chan struct{}),
		logger:      logger,
	}

	bus.wg.Add(1)
	go bus.processEvents()

	return bus
}

// Subscribe registers a handler for one event type
func (eb *DefaultEventBus) Subscribe(eventType EventType, handler EventHandler) SubscriptionID {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.nextSubID++
	id := eb.nextSubID

	subs, ok := eb.subscribers[eventType]
	if !ok {
		subs = make(map[SubscriptionID]EventHandler)
		eb.subscribers[eventType] = subs
	}
	subs[id] = handler
	return id
}

// SubscribeAll registers a handler that receives every event type
func (eb *DefaultEventBus) SubscribeAll(handler EventHandler) SubscriptionID {
	return eb.Subscribe(anyType, handler)
}

// Unsubscribe removes a subscription by ID. Unknown IDs are ignored.
func (eb *DefaultEventBus) Unsubscribe(id SubscriptionID) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for eventType, subs := range eb.subscribers {
		if _, ok := subs[id]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(eb.subscribers, eventType)
			}
			return
		}
	}
}

// Publish queues an event for dispatch. Events published after Stop, or while
// the queue is full, are dropped.
func (eb *DefaultEventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case <-eb.stopCh:
		eb.dropped.Add(1)
		eb.logger.Debug("Dropped event (bus stopped)", zap.String("type", string(event.Type)))
		return
	default:
	}

	select {
	case eb.queue <- event:
		eb.published.Add(1)
	default:
		if n := eb.dropped.Add(1); n == 1 || n%100 == 0 {
			eb.logger.Warn("Event queue full, dropping events",
				zap.String("type", string(event.Type)),
				zap.Int64("dropped", n))
		}
	}
}

// Stop drains queued events and stops the dispatcher. Safe to call more than once.
func (eb *DefaultEventBus) Stop() {
	eb.stopOnce.Do(func() {
		close(eb.stopCh)
	})
	eb.wg.Wait()
}

func (eb *DefaultEventBus) processEvents() {
	defer eb.wg.Done()

	for {
		select {
		case event := <-eb.queue:
			eb.dispatch(event)

		case <-eb.stopCh:
			for {
				select {
				case event := <-eb.queue:
					eb.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

// dispatch calls type subscribers then wildcard subscribers, each group in
// subscription order. Handlers run without the lock held.
func (eb *DefaultEventBus) dispatch(event Event) {
	eb.mu.RLock()
	handlers := collect(eb.subscribers[event.Type])
	handlers = append(handlers, collect(eb.subscribers[anyType])...)
	eb.mu.RUnlock()

	for _, h := range handlers {
		eb.safeHandlerCall(h, event)
	}
	eb.delivered.Add(1)
}

func collect(subs map[SubscriptionID]EventHandler) []EventHandler {
	if len(subs) == 0 {
		return nil
	}
	ordered := make([]subscription, 0, len(subs))
	for id, h := range subs {
		ordered = append(ordered, subscription{id: id, handler: h})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].id < ordered[j].id })

	handlers := make([]EventHandler, len(ordered))
	for i, s := range ordered {
		handlers[i] = s.handler
	}
	return handlers
}

func (eb *DefaultEventBus) safeHandlerCall(handler EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("Handler panic", zap.String("type", string(event.Type)), zap.Any("panic", r))
		}
	}()

	handler(event)
}

// SubscriberCount returns the number of handlers registered for an event type,
// not counting wildcard subscribers
func (eb *DefaultEventBus) SubscriberCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	return len(eb.subscribers[eventType])
}

// Stats returns publish, delivery and drop counters
func (eb *DefaultEventBus) Stats() BusStats {
	return BusStats{
		Published: eb.published.Load(),
		Delivered: eb.delivered.Load(),
		Dropped:   eb.dropped.Load(),
		Queued:    len(eb.queue),
	}
}
