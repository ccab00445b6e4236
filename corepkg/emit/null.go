package emit

import "context"

// NullEmitter discards every event. It is the default for tests and
// for deployments where observability overhead is unwanted.
type NullEmitter struct{}

// NewNullEmitter returns a NullEmitter.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

func (n *NullEmitter) Emit(Event) {}

func (n *NullEmitter) EmitBatch(context.Context, []Event) error {
	return nil
}

func (n *NullEmitter) Flush(context.Context) error {
	return nil
}
