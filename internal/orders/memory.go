package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ariefcatur/go-order-ledger/internal/apperr"
)

// MemoryStore runs one Tx at a time. Reads never wait for a Tx; they see the
// last committed state. Everything handed out is a copy.
type MemoryStore struct {
	sem chan struct{}

	mu     sync.RWMutex
	orders map[string]*Ordering
	seq    []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sem:    make(chan struct{}, 1),
		orders: make(map[string]*Ordering),
	}
}

func (s *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &memTx{s: s, status: make(map[string]Status)}, nil
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (*Ordering, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, apperr.ErrNotFound)
	}
	return o.clone(), nil
}

func (s *MemoryStore) ListAll(_ context.Context) ([]*Ordering, error) {
	return s.list(func(*Ordering) bool { return true }), nil
}

func (s *MemoryStore) ListByMember(_ context.Context, memberID string) ([]*Ordering, error) {
	return s.list(func(o *Ordering) bool { return o.MemberID == memberID }), nil
}

func (s *MemoryStore) list(keep func(*Ordering) bool) []*Ordering {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Ordering, 0, len(s.seq))
	for _, id := range s.seq {
		if o := s.orders[id]; keep(o) {
			out = append(out, o.clone())
		}
	}
	return out
}

// memTx stages its writes and applies them on Commit.
type memTx struct {
	s       *MemoryStore
	inserts []*Ordering
	status  map[string]Status
	done    bool
}

func (t *memTx) Insert(_ context.Context, o *Ordering) error {
	if t.done {
		return errTxDone
	}
	t.s.mu.RLock()
	_, exists := t.s.orders[o.ID]
	t.s.mu.RUnlock()
	for _, staged := range t.inserts {
		exists = exists || staged.ID == o.ID
	}
	if exists {
		return fmt.Errorf("order %s already exists: %w", o.ID, apperr.ErrInvalidState)
	}
	t.inserts = append(t.inserts, o.clone())
	return nil
}

func (t *memTx) LockByID(ctx context.Context, id string) (*Ordering, error) {
	if t.done {
		return nil, errTxDone
	}
	for _, o := range t.inserts {
		if o.ID == id {
			return t.staged(o.clone()), nil
		}
	}
	o, err := t.s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return t.staged(o), nil
}

func (t *memTx) staged(o *Ordering) *Ordering {
	if st, ok := t.status[o.ID]; ok {
		o.Status = st
	}
	return o
}

func (t *memTx) SetStatus(ctx context.Context, id string, st Status) error {
	if _, err := t.LockByID(ctx, id); err != nil {
		return err
	}
	t.status[id] = st
	return nil
}

func (t *memTx) Commit(context.Context) error {
	if t.done {
		return errTxDone
	}
	t.s.mu.Lock()
	for _, o := range t.inserts {
		t.s.orders[o.ID] = o
		t.s.seq = append(t.s.seq, o.ID)
	}
	for id, st := range t.status {
		t.s.orders[id].Status = st
	}
	t.s.mu.Unlock()
	t.finish()
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	if !t.done {
		t.finish()
	}
	return nil
}

func (t *memTx) finish() {
	t.done = true
	<-t.s.sem
}

var errTxDone = errors.New("transaction already finished")
