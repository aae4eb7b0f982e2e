package orchestrator

import (
	"sync"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Event names published on the broker.
const (
	EventProgress = "progress"
	EventSummary  = "summary"
)

// Broker fans run events out to server-sent event subscribers.
type Broker struct {
	log zerolog.Logger

	mu          sync.RWMutex
	subscribers map[chan []byte]struct{}
}

// NewBroker creates an empty broker.
func NewBroker(log zerolog.Logger) *Broker {
	return &Broker{
		log:         log,
		subscribers: make(map[chan []byte]struct{}),
	}
}

// Subscribe returns a channel that receives SSE-formatted events.
// The caller must call Unsubscribe when done.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish encodes v and sends it to every subscriber. Subscribers with a full
// buffer miss the event.
func (b *Broker) Publish(event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		b.log.Warn().Err(err).Str("event", event).Msg("failed to encode event")
		return
	}
	msg := FormatSSE(event, data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- msg:
		default:
		}
	}
}

// FormatSSE renders one server-sent event.
func FormatSSE(event string, data []byte) []byte {
	out := make([]byte, 0, len(event)+len(data)+16)
	out = append(out, "event: "...)
	out = append(out, event...)
	out = append(out, "\ndata: "...)
	out = append(out, data...)
	out = append(out, "\n\n"...)
	return out
}
