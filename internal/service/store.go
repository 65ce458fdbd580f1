package service

import (
	"context"
	"sync"

	"github.com/GoMarketProtocol/marketgate/internal/model"
)

// OrderStore persists per-order lifecycle state, keyed by order hash.
// Lookups for unknown hashes return (nil, nil).
type OrderStore interface {
	SaveState(ctx context.Context, state *model.OrderState) error
	GetState(ctx context.Context, orderHash string) (*model.OrderState, error)
}

// SubmissionAudit records every transaction sent to the ledger.
type SubmissionAudit interface {
	Insert(ctx context.Context, rec *model.SubmissionRecord) error
}

// Notifier pushes lifecycle events to stream subscribers.
type Notifier interface {
	Notify(ev model.LifecycleEvent)
}

// MemoryOrderStore is the fallback OrderStore when redis is not configured.
type MemoryOrderStore struct {
	mu     sync.RWMutex
	states map[string]model.OrderState
}

func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{states: make(map[string]model.OrderState)}
}

func (s *MemoryOrderStore) SaveState(_ context.Context, state *model.OrderState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.OrderHash] = *state
	return nil
}

func (s *MemoryOrderStore) GetState(_ context.Context, orderHash string) (*model.OrderState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[orderHash]
	if !ok {
		return nil, nil
	}
	out := state
	return &out, nil
}
