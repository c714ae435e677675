package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-ledger/internal/apperr"
)

func sampleOrder(id, member string) *Ordering {
	return &Ordering{
		ID:        id,
		MemberID:  member,
		Status:    StatusOrdered,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Details:   []OrderDetail{{ID: id + "-1", OrderID: id, LineNo: 1, ProductID: "p", Quantity: 2}},
	}
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, CanTransition(StatusOrdered, StatusCanceled))
	assert.False(t, CanTransition(StatusCanceled, StatusOrdered))
	assert.False(t, CanTransition(StatusCanceled, StatusCanceled))
	assert.False(t, CanTransition(StatusOrdered, StatusOrdered))
}

func TestMemoryTxCommitAndRollback(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Insert(ctx, sampleOrder("o1", "m1")))
	_, err = s.FindByID(ctx, "o1")
	assert.ErrorIs(t, err, apperr.ErrNotFound, "uncommitted writes are invisible")
	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, tx.Rollback(ctx), "rollback after commit is a no-op")

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SetStatus(ctx, "o1", StatusCanceled))
	require.NoError(t, tx.Insert(ctx, sampleOrder("o2", "m1")))
	require.NoError(t, tx.Rollback(ctx))

	o, err := s.FindByID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, StatusOrdered, o.Status)
	_, err = s.FindByID(ctx, "o2")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestMemoryTxSeesItsOwnWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	require.NoError(t, tx.Insert(ctx, sampleOrder("o1", "m1")))
	require.NoError(t, tx.SetStatus(ctx, "o1", StatusCanceled))
	o, err := tx.LockByID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, o.Status)

	_, err = tx.LockByID(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, tx.Insert(ctx, sampleOrder("o1", "m1")), apperr.ErrInvalidState)
}

func TestMemoryTxsAreSerialized(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	first, err := s.Begin(ctx)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = s.Begin(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, first.Rollback(ctx))
	second, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, second.Commit(ctx))
}

func TestInTxFinishesOnError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	boom := errors.New("boom")

	err := inTx(ctx, s, func(tx Tx) error {
		require.NoError(t, tx.Insert(ctx, sampleOrder("o1", "m1")))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, inTx(ctx, s, func(tx Tx) error {
		return tx.Insert(ctx, sampleOrder("o2", "m2"))
	}))
	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "o2", all[0].ID)
}

func TestMemoryListByMemberKeepsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, o := range []*Ordering{sampleOrder("a", "m1"), sampleOrder("b", "m2"), sampleOrder("c", "m1")} {
		require.NoError(t, inTx(ctx, s, func(tx Tx) error { return tx.Insert(ctx, o) }))
	}

	mine, err := s.ListByMember(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "a", mine[0].ID)
	assert.Equal(t, "c", mine[1].ID)

	none, err := s.ListByMember(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}
