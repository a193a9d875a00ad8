// Package eventbus is the Event Bus (§4.I): a process-local publish/
// subscribe registry, user id → set of in-memory push queues, each
// buffered at 4096 events (not unbounded).
//
// Grounded on the reference's websocket.Manager client registry, but
// corrected to the spec's contract: registration is keyed to support
// multiple concurrent queues per user (multi-tab), the registry itself
// carries no transport concerns (no gorilla/websocket here — that lives
// in gateway), and it is a plain struct the caller constructs, not a
// package-level singleton, so tests can "instantiate fresh bus... " (§9).
package eventbus

import (
	"sync"

	"github.com/google/uuid"
)

// Kind is the closed set of event variants from §4.I.
type Kind string

const (
	VillageUpdated        Kind = "village_updated"
	ResourcesUpdated       Kind = "resources_updated"
	BuildingComplete       Kind = "building_complete"
	ArmyArrived            Kind = "army_arrived"
	AttackIncoming         Kind = "attack_incoming"
	TroopTrainingComplete  Kind = "troop_training_complete"
	TroopsStarved          Kind = "troops_starved"
	TradeOrderExpired      Kind = "trade_order_expired"
	Connected              Kind = "connected"
)

// Event is a tagged object: {type, data}.
type Event struct {
	Type Kind `json:"type"`
	Data any  `json:"data"`
}

// Queue is one registered receiver, buffered at 4096 events (see
// newQueue). Publish never blocks on it: a send that would block
// unregisters and closes the queue instead. The gateway's outbound pump
// drains it.
type Queue struct {
	ch chan Event
}

func newQueue() *Queue {
	// A generous but finite buffer stands in for "unbounded": an
	// in-memory channel cannot truly be unbounded, and a disconnected
	// reader that never drains must not grow memory without limit.
	// Publish unregisters and closes the queue the moment a send to it
	// would block, and the gateway then tears down the connection, per
	// §4.I "sending to a disconnected receiver must not deadlock".
	return &Queue{ch: make(chan Event, 4096)}
}

// Receive returns the channel to range over for events.
func (q *Queue) Receive() <-chan Event { return q.ch }

// Bus is the registry. Zero value is not usable; use New.
type Bus struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]map[*Queue]struct{}
}

func New() *Bus {
	return &Bus{subs: make(map[uuid.UUID]map[*Queue]struct{})}
}

// Register returns a new receive-queue for userID. Multiple concurrent
// queues per user are allowed.
func (b *Bus) Register(userID uuid.UUID) *Queue {
	q := newQueue()
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[userID]
	if !ok {
		set = make(map[*Queue]struct{})
		b.subs[userID] = set
	}
	set[q] = struct{}{}
	return q
}

// Unregister removes q from userID's queue set and closes it.
func (b *Bus) Unregister(userID uuid.UUID, q *Queue) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[userID]; ok {
		if _, present := set[q]; present {
			delete(set, q)
			close(q.ch)
		}
		if len(set) == 0 {
			delete(b.subs, userID)
		}
	}
}

// Publish sends event to every queue registered for userID. A queue whose
// buffer is full is assumed to belong to a stalled/disconnected session:
// it is unregistered and closed rather than blocking the publisher or
// dropping silently into an unbounded queue.
func (b *Bus) Publish(userID uuid.UUID, event Event) {
	b.mu.RLock()
	set := b.subs[userID]
	queues := make([]*Queue, 0, len(set))
	for q := range set {
		queues = append(queues, q)
	}
	b.mu.RUnlock()

	for _, q := range queues {
		select {
		case q.ch <- event:
		default:
			b.Unregister(userID, q)
		}
	}
}

// Broadcast sends event to every registered queue, for server-wide events.
func (b *Bus) Broadcast(event Event) {
	b.mu.RLock()
	allQueues := make([]*Queue, 0)
	for _, set := range b.subs {
		for q := range set {
			allQueues = append(allQueues, q)
		}
	}
	b.mu.RUnlock()

	for _, q := range allQueues {
		select {
		case q.ch <- event:
		default:
		}
	}
}

// ConnectedUserCount reports how many distinct users have at least one
// registered queue. Nothing in this module calls it.
func (b *Bus) ConnectedUserCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
