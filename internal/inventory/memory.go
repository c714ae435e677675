package inventory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ariefcatur/go-order-ledger/internal/apperr"
)

type slot struct {
	mu    sync.Mutex
	stock int
}

// MemoryLedger keeps one mutex per product. The registry lock is only held
// to find or create a slot, never across a stock mutation.
type MemoryLedger struct {
	mu    sync.RWMutex
	slots map[string]*slot
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{slots: make(map[string]*slot)}
}

func (l *MemoryLedger) slot(productID string) (*slot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.slots[productID]
	return s, ok
}

func (l *MemoryLedger) Reserve(_ context.Context, productID string, qty int) error {
	if err := checkQty(productID, qty); err != nil {
		return err
	}
	s, ok := l.slot(productID)
	if !ok {
		return unknown(productID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stock < qty {
		return insufficient(productID, qty, s.stock)
	}
	s.stock -= qty
	return nil
}

func (l *MemoryLedger) Release(_ context.Context, productID string, qty int) error {
	if err := checkQty(productID, qty); err != nil {
		return err
	}
	s, ok := l.slot(productID)
	if !ok {
		return unknown(productID)
	}
	s.mu.Lock()
	s.stock += qty
	s.mu.Unlock()
	return nil
}

func (l *MemoryLedger) Available(_ context.Context, productID string) (int, error) {
	s, ok := l.slot(productID)
	if !ok {
		return 0, unknown(productID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stock, nil
}

func (l *MemoryLedger) Init(_ context.Context, productID string, qty int) error {
	if qty < 0 {
		return fmt.Errorf("product %s: opening stock %d: %w", productID, qty, apperr.ErrInvalidInput)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.slots[productID]; ok {
		s.mu.Lock()
		s.stock = qty
		s.mu.Unlock()
		return nil
	}
	l.slots[productID] = &slot{stock: qty}
	return nil
}
