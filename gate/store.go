package gate

import "context"

// Store is the durable home of approval records. All mutations are
// compare-and-set on the current status so that exactly one terminal
// transition ever wins per id.
type Store interface {
	// Create persists a new pending record and returns its id.
	Create(ctx context.Context, rec ApprovalRecord) (string, error)

	Get(ctx context.Context, id string) (ApprovalRecord, bool, error)

	// Resolve moves a pending record to the given terminal status.
	// Returns ErrNotFound for unknown ids and ErrAlreadyResolved when
	// the record has already left pending. A non-nil committed callback
	// runs inside the store's critical section, after the durable write
	// and before the new state becomes observable to readers; it must
	// not call back into the store.
	Resolve(ctx context.Context, id string, status Status, actor, reason string, committed func(ApprovalRecord)) (ApprovalRecord, error)

	// MarkExecuted flips the executed flag exactly once. Returns
	// ErrAlreadyExecuted on the second and later attempts.
	MarkExecuted(ctx context.Context, id string) error

	ListPending(ctx context.Context) ([]ApprovalRecord, error)

	Close() error
}
