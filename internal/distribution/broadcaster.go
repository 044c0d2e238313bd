package distribution

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/devlongs/mev-searcher/internal/metrics"
	"github.com/devlongs/mev-searcher/pkg/types"
)

// DefaultQueueSize is how many undelivered lists a sink may fall behind by
// before it is dropped
const DefaultQueueSize = 16

// Sink receives every published candidate list as a JSON array
type Sink interface {
	ID() string
	Send(result json.RawMessage) error
}

// queued is a registered sink and its outbound queue. The queue is closed
// exactly once, under the broadcaster lock, when the sink is removed.
type queued struct {
	sink  Sink
	queue chan json.RawMessage
}

// Broadcaster fans candidate lists out to the registered sinks. Each sink is
// written by its own goroutine so a slow peer never delays the others.
type Broadcaster struct {
	queueSize int

	mu    sync.Mutex
	sinks map[string]*queued
}

// NewBroadcaster creates an empty broadcaster with DefaultQueueSize queues
func NewBroadcaster() *Broadcaster {
	return NewBroadcasterSize(DefaultQueueSize)
}

// NewBroadcasterSize creates an empty broadcaster whose sinks may each
// buffer up to queueSize lists
func NewBroadcasterSize(queueSize int) *Broadcaster {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Broadcaster{queueSize: queueSize, sinks: make(map[string]*queued)}
}

// Add registers a sink, replacing any sink with the same id
func (b *Broadcaster) Add(s Sink) {
	q := &queued{sink: s, queue: make(chan json.RawMessage, b.queueSize)}

	b.mu.Lock()
	if old, ok := b.sinks[s.ID()]; ok {
		close(old.queue)
	}
	b.sinks[s.ID()] = q
	n := len(b.sinks)
	b.mu.Unlock()

	metrics.Subscribers.Set(float64(n))
	go b.drain(q)
}

// Remove drops the sink with the given id and reports whether it existed
func (b *Broadcaster) Remove(id string) bool {
	b.mu.Lock()
	q, ok := b.sinks[id]
	if ok {
		b.removeLocked(q)
	}
	n := len(b.sinks)
	b.mu.Unlock()

	metrics.Subscribers.Set(float64(n))
	return ok
}

// Len returns the number of registered sinks
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sinks)
}

// Close removes every sink and stops their writers
func (b *Broadcaster) Close() {
	b.mu.Lock()
	for _, q := range b.sinks {
		b.removeLocked(q)
	}
	b.mu.Unlock()

	metrics.Subscribers.Set(0)
}

// Publish queues candidates for every sink and returns how many accepted
// them. It never blocks on a sink: one whose queue is full is dropped.
func (b *Broadcaster) Publish(candidates []types.TradeCandidate) int {
	if candidates == nil {
		candidates = []types.TradeCandidate{}
	}
	payload, err := json.Marshal(candidates)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode candidate list")
		return 0
	}

	b.mu.Lock()
	accepted := 0
	for _, q := range b.sinks {
		select {
		case q.queue <- payload:
			accepted++
		default:
			log.Warn().Str("sink", q.sink.ID()).Int("queue", b.queueSize).Msg("Dropping slow subscriber")
			b.removeLocked(q)
		}
	}
	n := len(b.sinks)
	b.mu.Unlock()

	metrics.Subscribers.Set(float64(n))
	return accepted
}

// drain writes queued lists to one sink until its queue is closed. The sink
// is dropped on the first failed write.
func (b *Broadcaster) drain(q *queued) {
	for payload := range q.queue {
		if err := q.sink.Send(payload); err != nil {
			log.Warn().Err(err).Str("sink", q.sink.ID()).Msg("Dropping subscriber")
			b.drop(q)
			for range q.queue {
			}
			return
		}
	}
}

// drop removes q if it is still the sink registered under its id
func (b *Broadcaster) drop(q *queued) {
	b.mu.Lock()
	if cur, ok := b.sinks[q.sink.ID()]; ok && cur == q {
		b.removeLocked(q)
	}
	n := len(b.sinks)
	b.mu.Unlock()

	metrics.Subscribers.Set(float64(n))
}

func (b *Broadcaster) removeLocked(q *queued) {
	delete(b.sinks, q.sink.ID())
	close(q.queue)
}
