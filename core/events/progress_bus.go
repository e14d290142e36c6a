// Package events delivers deliberation progress to interested subscribers
// without coupling the engine to any UI or transport.
package events

import (
	"sync"
	"time"

	"github.com/adalundhe/quorum/core/consensus"
)

// EventType identifies a progress event kind.
type EventType string

const (
	EventStageStatus  EventType = "stage_status"
	EventRoundStarted EventType = "round_started"
)

// ProgressEvent is one notification from the engine.
type ProgressEvent struct {
	Type      EventType
	Stage     consensus.Stage
	Status    consensus.StageStatus
	Round     int
	Timestamp time.Time
}

// Subscriber receives progress events. An empty Types slice subscribes to
// everything. OnEvent errors are ignored; a subscriber cannot stall the bus.
type Subscriber interface {
	ID() string
	Types() []EventType
	OnEvent(event *ProgressEvent)
}

// ProgressBus fans progress events out to subscribers through a buffered
// channel. Publishing never blocks; events are dropped when the buffer is
// full.
type ProgressBus struct {
	subscribers map[EventType][]Subscriber
	wildcard    []Subscriber
	buffer      chan *ProgressEvent

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

func NewProgressBus(bufferSize int) *ProgressBus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &ProgressBus{
		subscribers: make(map[EventType][]Subscriber),
		buffer:      make(chan *ProgressEvent, bufferSize),
		done:        make(chan struct{}),
	}
}

// Start launches the dispatch goroutine.
func (b *ProgressBus) Start() {
	b.wg.Add(1)
	go b.dispatch()
}

// Publish enqueues an event. Non-blocking; drops when the buffer is full.
func (b *ProgressBus) Publish(event *ProgressEvent) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.buffer <- event:
	default:
	}
}

// Subscribe registers a subscriber for its declared event types.
func (b *ProgressBus) Subscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	types := sub.Types()
	if len(types) == 0 {
		b.wildcard = append(b.wildcard, sub)
		return
	}
	for _, t := range types {
		b.subscribers[t] = append(b.subscribers[t], sub)
	}
}

// Unsubscribe removes a subscriber everywhere it is registered.
func (b *ProgressBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.wildcard = dropSubscriber(b.wildcard, id)
	for t, subs := range b.subscribers {
		b.subscribers[t] = dropSubscriber(subs, id)
	}
}

func dropSubscriber(subs []Subscriber, id string) []Subscriber {
	kept := make([]Subscriber, 0, len(subs))
	for _, sub := range subs {
		if sub.ID() != id {
			kept = append(kept, sub)
		}
	}
	return kept
}

func (b *ProgressBus) dispatch() {
	defer b.wg.Done()
	for {
		select {
		case event := <-b.buffer:
			b.deliver(event)
		case <-b.done:
			return
		}
	}
}

func (b *ProgressBus) deliver(event *ProgressEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.wildcard {
		sub.OnEvent(event)
	}
	for _, sub := range b.subscribers[event.Type] {
		sub.OnEvent(event)
	}
}

// Close stops the dispatch goroutine. Later publishes are ignored.
func (b *ProgressBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	close(b.done)
	b.wg.Wait()
}

// BusObserver adapts the bus to the engine's observer interface.
type BusObserver struct {
	bus *ProgressBus
}

func NewBusObserver(bus *ProgressBus) *BusObserver {
	return &BusObserver{bus: bus}
}

func (o *BusObserver) StageChanged(stage consensus.Stage, status consensus.StageStatus) {
	o.bus.Publish(&ProgressEvent{Type: EventStageStatus, Stage: stage, Status: status})
}

func (o *BusObserver) RoundStarted(round int) {
	o.bus.Publish(&ProgressEvent{Type: EventRoundStarted, Round: round})
}
