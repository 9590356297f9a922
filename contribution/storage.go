package contribution

import (
	"context"
)

// Storage is a durable, keyed store of contributions.
//
// Expected outcomes are reported through the boolean results and never as errors:
// a conflicting Add, a Remove of an unknown name and an Update of an unknown name all
// return false. Errors are reserved for backend faults (I/O, corruption, reachability)
// and always propagate to the caller.
//
// Implementations return copies, so callers can mutate results freely.
type Storage interface {
	// List returns all persisted contributions. The order is defined by the backend
	// but is stable between calls within one process.
	List(ctx context.Context) ([]*Contribution, error)
	// Get returns the contribution stored under name.
	Get(ctx context.Context, name string) (*Contribution, bool, error)
	// Add persists c if no contribution with the same name exists.
	Add(ctx context.Context, c *Contribution) (*Contribution, bool, error)
	// Remove deletes the contribution with the name of c and reports whether it existed.
	Remove(ctx context.Context, c *Contribution) (bool, error)
	// Update replaces description, content and disabled flag of an existing contribution.
	Update(ctx context.Context, c *Contribution) (*Contribution, bool, error)
}
