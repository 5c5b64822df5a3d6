package events

import (
	"log"
	"sync"
)

// Event is one bus message. Type follows the market taxonomy (offer,
// offer_response, order_transition, milestone_transition, spec_transition,
// competition_transition, escrow_transition).
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Listener receives events for one topic subscription.
type Listener func(Event)

// AllListener receives every event on the bus together with its topic.
type AllListener func(topic string, ev Event)

// TopicAll subscribes to every topic. The firehose stream uses it; Emit
// never publishes to it directly.
const TopicAll = "*"

// Bus is the in-process topic-keyed pub/sub feeding the SSE streams and the
// websocket firehose. Delivery is synchronous to the emitter and best
// effort: a panicking listener is isolated and logged, never propagated.
// The bus holds no durable state; it is rebuilt on process restart.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	topics map[string]map[int]Listener
	all    map[int]AllListener
}

func NewBus() *Bus {
	return &Bus{topics: make(map[string]map[int]Listener), all: make(map[int]AllListener)}
}

// Subscribe registers fn on topic and returns an unsubscribe handle. The
// handle is idempotent.
func (b *Bus) Subscribe(topic string, fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.topics[topic] == nil {
		b.topics[topic] = make(map[int]Listener)
	}
	id := b.nextID
	b.nextID++
	b.topics[topic][id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.topics[topic]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.topics, topic)
			}
		}
	}
}

// SubscribeAll registers fn on the wildcard topic; it sees every event with
// its topic. Returns an idempotent unsubscribe handle.
func (b *Bus) SubscribeAll(fn AllListener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.all[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.all, id)
	}
}

// Emit delivers ev to every listener on topic plus the wildcard listeners,
// in no guaranteed order. Listener failures do not affect other listeners or
// the caller.
func (b *Bus) Emit(topic string, ev Event) {
	b.mu.RLock()
	listeners := make([]Listener, 0, len(b.topics[topic])+len(b.all))
	for _, fn := range b.topics[topic] {
		listeners = append(listeners, fn)
	}
	for _, fn := range b.all {
		fn := fn
		listeners = append(listeners, func(ev Event) { fn(topic, ev) })
	}
	b.mu.RUnlock()

	for _, fn := range listeners {
		deliver(topic, fn, ev)
	}
}

func deliver(topic string, fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[EventBus] listener panic on %s: %v", topic, r)
		}
	}()
	fn(ev)
}

// SubscriberCount reports active listeners on a topic (used by tests and the
// health endpoint).
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if topic == TopicAll {
		return len(b.all)
	}
	return len(b.topics[topic])
}
