package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-order-ledger/internal/apperr"
)

type PGStore struct{ DB *pgxpool.Pool }

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const selectOrdering = `SELECT id, member_id, status, created_at FROM orderings`

func (s *PGStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

func (s *PGStore) FindByID(ctx context.Context, id string) (*Ordering, error) {
	return findOne(ctx, s.DB, selectOrdering+` WHERE id=$1`, id)
}

func (s *PGStore) ListAll(ctx context.Context) ([]*Ordering, error) {
	return findMany(ctx, s.DB, selectOrdering+` ORDER BY created_at, id`)
}

func (s *PGStore) ListByMember(ctx context.Context, memberID string) ([]*Ordering, error) {
	return findMany(ctx, s.DB, selectOrdering+` WHERE member_id=$1 ORDER BY created_at, id`, memberID)
}

type pgTx struct {
	tx   pgx.Tx
	done bool
}

// Insert writes the header and every detail in one round trip.
func (t *pgTx) Insert(ctx context.Context, o *Ordering) error {
	b := &pgx.Batch{}
	b.Queue(`INSERT INTO orderings(id, member_id, status, created_at) VALUES ($1,$2,$3,$4)`,
		o.ID, o.MemberID, string(o.Status), o.CreatedAt)
	for _, d := range o.Details {
		b.Queue(`INSERT INTO order_details(id, ordering_id, line_no, product_id, quantity)
		         VALUES ($1,$2,$3,$4,$5)`, d.ID, o.ID, d.LineNo, d.ProductID, d.Quantity)
	}
	if err := t.tx.SendBatch(ctx, b).Close(); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("order %s already exists: %w", o.ID, apperr.ErrInvalidState)
		}
		return fmt.Errorf("insert order %s: %v: %w", o.ID, err, apperr.ErrUnavailable)
	}
	return nil
}

func (t *pgTx) LockByID(ctx context.Context, id string) (*Ordering, error) {
	return findOne(ctx, t.tx, selectOrdering+` WHERE id=$1 FOR UPDATE`, id)
}

func (t *pgTx) SetStatus(ctx context.Context, id string, s Status) error {
	ct, err := t.tx.Exec(ctx, `UPDATE orderings SET status=$2 WHERE id=$1`, id, string(s))
	if err != nil {
		return fmt.Errorf("set status %s: %v: %w", id, err, apperr.ErrUnavailable)
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("order %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	t.done = true
	return t.tx.Commit(ctx)
}

func (t *pgTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback(ctx)
}

func findOne(ctx context.Context, q querier, sql string, id string) (*Ordering, error) {
	var (
		o  Ordering
		st string
	)
	err := q.QueryRow(ctx, sql, id).Scan(&o.ID, &o.MemberID, &st, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load order %s: %v: %w", id, err, apperr.ErrUnavailable)
	}
	o.Status = Status(st)
	if err := loadDetails(ctx, q, []*Ordering{&o}); err != nil {
		return nil, err
	}
	return &o, nil
}

func findMany(ctx context.Context, q querier, sql string, args ...any) ([]*Ordering, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %v: %w", err, apperr.ErrUnavailable)
	}
	defer rows.Close()

	out := []*Ordering{}
	for rows.Next() {
		var (
			o  Ordering
			st string
		)
		if err := rows.Scan(&o.ID, &o.MemberID, &st, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %v: %w", err, apperr.ErrUnavailable)
		}
		o.Status = Status(st)
		out = append(out, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list orders: %v: %w", err, apperr.ErrUnavailable)
	}
	rows.Close()

	if err := loadDetails(ctx, q, out); err != nil {
		return nil, err
	}
	return out, nil
}

// loadDetails attaches details to each ordering, in line order.
func loadDetails(ctx context.Context, q querier, list []*Ordering) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]string, len(list))
	byID := make(map[string]*Ordering, len(list))
	for i, o := range list {
		ids[i] = o.ID
		byID[o.ID] = o
	}

	rows, err := q.Query(ctx, `
		SELECT id, ordering_id, line_no, product_id, quantity
		FROM order_details WHERE ordering_id = ANY($1)
		ORDER BY ordering_id, line_no`, ids)
	if err != nil {
		return fmt.Errorf("load details: %v: %w", err, apperr.ErrUnavailable)
	}
	defer rows.Close()

	for rows.Next() {
		var d OrderDetail
		if err := rows.Scan(&d.ID, &d.OrderID, &d.LineNo, &d.ProductID, &d.Quantity); err != nil {
			return fmt.Errorf("scan detail: %v: %w", err, apperr.ErrUnavailable)
		}
		o := byID[d.OrderID]
		o.Details = append(o.Details, d)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load details: %v: %w", err, apperr.ErrUnavailable)
	}
	return nil
}
