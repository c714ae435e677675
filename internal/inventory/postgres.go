package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-order-ledger/internal/apperr"
)

// PGLedger treats products.stock_quantity as the counter. Each mutation
// runs in its own short transaction holding the product row lock.
type PGLedger struct{ DB *pgxpool.Pool }

func (l *PGLedger) Reserve(ctx context.Context, productID string, qty int) error {
	if err := checkQty(productID, qty); err != nil {
		return err
	}
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("reserve begin: %v: %w", err, apperr.ErrUnavailable)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var stock int
	err = tx.QueryRow(ctx, `SELECT stock_quantity FROM products WHERE id=$1 FOR UPDATE`, productID).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return unknown(productID)
	}
	if err != nil {
		return fmt.Errorf("reserve lock %s: %v: %w", productID, err, apperr.ErrUnavailable)
	}
	if stock < qty {
		return insufficient(productID, qty, stock)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE products SET stock_quantity = stock_quantity - $2, updated_at = NOW() WHERE id=$1`,
		productID, qty); err != nil {
		return fmt.Errorf("reserve update %s: %v: %w", productID, err, apperr.ErrUnavailable)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("reserve commit %s: %v: %w", productID, err, apperr.ErrUnavailable)
	}
	return nil
}

func (l *PGLedger) Release(ctx context.Context, productID string, qty int) error {
	if err := checkQty(productID, qty); err != nil {
		return err
	}
	ct, err := l.DB.Exec(ctx,
		`UPDATE products SET stock_quantity = stock_quantity + $2, updated_at = NOW() WHERE id=$1`,
		productID, qty)
	if err != nil {
		return fmt.Errorf("release %s: %v: %w", productID, err, apperr.ErrUnavailable)
	}
	if ct.RowsAffected() != 1 {
		return unknown(productID)
	}
	return nil
}

func (l *PGLedger) Available(ctx context.Context, productID string) (int, error) {
	var stock int
	err := l.DB.QueryRow(ctx, `SELECT stock_quantity FROM products WHERE id=$1`, productID).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, unknown(productID)
	}
	if err != nil {
		return 0, fmt.Errorf("available %s: %v: %w", productID, err, apperr.ErrUnavailable)
	}
	return stock, nil
}

// Init overwrites the stock column of a row the catalog already inserted.
func (l *PGLedger) Init(ctx context.Context, productID string, qty int) error {
	if qty < 0 {
		return fmt.Errorf("product %s: opening stock %d: %w", productID, qty, apperr.ErrInvalidInput)
	}
	ct, err := l.DB.Exec(ctx,
		`UPDATE products SET stock_quantity = $2, updated_at = NOW() WHERE id=$1`, productID, qty)
	if err != nil {
		return fmt.Errorf("init %s: %v: %w", productID, err, apperr.ErrUnavailable)
	}
	if ct.RowsAffected() != 1 {
		return unknown(productID)
	}
	return nil
}
