package audit

import "context"

// Worker consumes audit events from a channel and persists them, keeping
// ingestion goroutines decoupled from audit storage latency.
type Worker struct {
	store Store
	inbox <-chan Event
}

// NewWorker wires a worker to its store and inbox.
func NewWorker(store Store, inbox <-chan Event) *Worker {
	return &Worker{store: store, inbox: inbox}
}

// Run processes events until the inbox closes or the context is cancelled.
// Closing the inbox drains buffered events before returning, so producers
// shut down without losing the tail of a pass.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.inbox:
			if !ok {
				return nil
			}
			if err := w.store.Append(ctx, event); err != nil {
				return err
			}
		}
	}
}
