package emit

import "context"

// Emitter receives observability events from the advance core.
// Implementations must be non-blocking and must not panic — a slow or
// failing observability backend must never stall or crash an advance.
type Emitter interface {
	// Emit sends one event. Implementations that need to buffer or
	// fail gracefully should do so internally; Emit itself never
	// returns an error.
	Emit(event Event)

	// EmitBatch sends multiple events in order, in one operation.
	// Returns an error only for catastrophic/configuration failures;
	// a single bad event should be logged internally and skipped.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush blocks until every buffered event has been delivered (or
	// the context expires). Safe to call multiple times.
	Flush(ctx context.Context) error
}
