package orders

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-order-ledger/internal/apperr"
)

// Store persists orderings. Writes only happen inside a Tx.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	FindByID(ctx context.Context, id string) (*Ordering, error)
	ListAll(ctx context.Context) ([]*Ordering, error)
	ListByMember(ctx context.Context, memberID string) ([]*Ordering, error)
}

// Tx is one unit of work. Rollback after Commit is a no-op, so callers can
// always defer it.
type Tx interface {
	// Insert stores the ordering together with all of its details.
	Insert(ctx context.Context, o *Ordering) error
	// LockByID loads an ordering and holds it until the Tx ends.
	LockByID(ctx context.Context, id string) (*Ordering, error)
	SetStatus(ctx context.Context, id string, s Status) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// inTx runs fn in a fresh Tx and commits if fn succeeds. The Tx is finished
// on every path.
func inTx(ctx context.Context, s Store, fn func(tx Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %v: %w", err, apperr.ErrUnavailable)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %v: %w", err, apperr.ErrUnavailable)
	}
	return nil
}
