// Package inventory owns the authoritative per-product stock counters.
//
// Every implementation serializes Reserve and Release per product id and lets
// operations on different products proceed independently. A reservation
// either decrements the full quantity or leaves stock untouched.
package inventory

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-order-ledger/internal/apperr"
)

type Ledger interface {
	// Reserve takes qty units of productID. It fails with
	// apperr.ErrInsufficientStock when fewer than qty are available and with
	// apperr.ErrNotFound for an unknown product.
	Reserve(ctx context.Context, productID string, qty int) error
	// Release returns qty units of productID to stock.
	Release(ctx context.Context, productID string, qty int) error
	Available(ctx context.Context, productID string) (int, error)
	// Init sets the opening stock of a newly registered product.
	Init(ctx context.Context, productID string, qty int) error
}

func checkQty(productID string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("product %s: quantity %d must be positive: %w", productID, qty, apperr.ErrInvalidInput)
	}
	return nil
}

func insufficient(productID string, want, have int) error {
	return fmt.Errorf("product %s: want %d, have %d: %w", productID, want, have, apperr.ErrInsufficientStock)
}

func unknown(productID string) error {
	return fmt.Errorf("product %s: %w", productID, apperr.ErrNotFound)
}
