package emit

import (
	"context"
	"sync"

	"github.com/durableflow/engine/corepkg/id"
)

// BufferedEmitter holds events in memory, grouped by session, and
// forwards them to an inner Emitter on Flush, so events can be held
// back from a slow sink until the owner chooses to deliver them. Flush
// runs only when the owner calls it; the session gate does not use
// this emitter.
type BufferedEmitter struct {
	mu     sync.Mutex
	inner  Emitter
	events map[id.SessionId][]Event
}

// NewBufferedEmitter wraps inner, which receives every buffered event
// on Flush (or NewBufferedEmitter(nil) to just accumulate for
// inspection, e.g. in tests).
func NewBufferedEmitter(inner Emitter) *BufferedEmitter {
	return &BufferedEmitter{inner: inner, events: make(map[id.SessionId][]Event)}
}

func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.SessionId] = append(b.events[event.SessionId], event)
}

func (b *BufferedEmitter) EmitBatch(_ context.Context, events []Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range events {
		b.events[e.SessionId] = append(b.events[e.SessionId], e)
	}
	return nil
}

// History returns a copy of the buffered (not yet flushed) events for
// sessionID.
func (b *BufferedEmitter) History(sessionID id.SessionId) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	events := b.events[sessionID]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// Flush drains every buffered session's events, in session-then-
// emission order, to the inner emitter, then clears the buffer. If
// inner is nil, buffered events are simply dropped.
func (b *BufferedEmitter) Flush(ctx context.Context) error {
	b.mu.Lock()
	pending := b.events
	b.events = make(map[id.SessionId][]Event)
	b.mu.Unlock()

	if b.inner == nil {
		return nil
	}
	for _, events := range pending {
		if err := b.inner.EmitBatch(ctx, events); err != nil {
			return err
		}
	}
	return b.inner.Flush(ctx)
}
