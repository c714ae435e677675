package identity

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-order-ledger/internal/apperr"
)

type MemoryMembers struct {
	mu      sync.RWMutex
	byID    map[string]Member
	byEmail map[string]string
}

func NewMemoryMembers() *MemoryMembers {
	return &MemoryMembers{byID: map[string]Member{}, byEmail: map[string]string{}}
}

// Add registers a member and returns it with a generated id.
func (m *MemoryMembers) Add(email, role string) Member {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byEmail[email]; ok {
		return m.byID[id]
	}
	mem := Member{ID: uuid.NewString(), Email: email, Role: role}
	m.byID[mem.ID] = mem
	m.byEmail[email] = mem.ID
	return mem
}

func (m *MemoryMembers) FindByEmail(_ context.Context, email string) (Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[email]
	if !ok {
		return Member{}, fmt.Errorf("member %s: %w", email, apperr.ErrNotFound)
	}
	return m.byID[id], nil
}

func (m *MemoryMembers) FindByID(_ context.Context, id string) (Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mem, ok := m.byID[id]
	if !ok {
		return Member{}, fmt.Errorf("member %s: %w", id, apperr.ErrNotFound)
	}
	return mem, nil
}
