package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/quorum/core/consensus"
)

type capture struct {
	id    string
	types []EventType

	mu     sync.Mutex
	events []*ProgressEvent
}

func (c *capture) ID() string         { return c.id }
func (c *capture) Types() []EventType { return c.types }

func (c *capture) OnEvent(event *ProgressEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func TestBusDeliversToTypedSubscriber(t *testing.T) {
	bus := NewProgressBus(16)
	bus.Start()
	defer bus.Close()

	rounds := &capture{id: "rounds", types: []EventType{EventRoundStarted}}
	bus.Subscribe(rounds)

	bus.Publish(&ProgressEvent{Type: EventRoundStarted, Round: 1})
	bus.Publish(&ProgressEvent{Type: EventStageStatus, Stage: consensus.StageGenerator, Status: consensus.StatusRunning})

	waitFor(t, func() bool { return rounds.count() == 1 })
	rounds.mu.Lock()
	defer rounds.mu.Unlock()
	assert.Equal(t, 1, rounds.events[0].Round)
	assert.False(t, rounds.events[0].Timestamp.IsZero())
}

func TestBusWildcardSubscriber(t *testing.T) {
	bus := NewProgressBus(16)
	bus.Start()
	defer bus.Close()

	all := &capture{id: "all"}
	bus.Subscribe(all)

	bus.Publish(&ProgressEvent{Type: EventRoundStarted, Round: 1})
	bus.Publish(&ProgressEvent{Type: EventStageStatus, Stage: consensus.StageRefiner, Status: consensus.StatusCompleted})

	waitFor(t, func() bool { return all.count() == 2 })
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewProgressBus(16)
	bus.Start()
	defer bus.Close()

	sub := &capture{id: "gone"}
	bus.Subscribe(sub)
	bus.Unsubscribe("gone")

	bus.Publish(&ProgressEvent{Type: EventRoundStarted, Round: 1})
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, sub.count())
}

func TestBusPublishAfterCloseIsIgnored(t *testing.T) {
	bus := NewProgressBus(16)
	bus.Start()
	bus.Close()

	require.NotPanics(t, func() {
		bus.Publish(&ProgressEvent{Type: EventRoundStarted, Round: 1})
	})
}

func TestBusObserverPublishes(t *testing.T) {
	bus := NewProgressBus(16)
	bus.Start()
	defer bus.Close()

	all := &capture{id: "all"}
	bus.Subscribe(all)

	obs := NewBusObserver(bus)
	obs.RoundStarted(2)
	obs.StageChanged(consensus.StageValidator, consensus.StatusRunning)

	waitFor(t, func() bool { return all.count() == 2 })
	all.mu.Lock()
	defer all.mu.Unlock()
	assert.Equal(t, EventRoundStarted, all.events[0].Type)
	assert.Equal(t, consensus.StageValidator, all.events[1].Stage)
}
