package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-training/cms-oauth/pkg/core"
)

var (
	// ErrStateNotFound is returned when a nonce was never issued, was already consumed, or has expired.
	ErrStateNotFound = errors.New("flow state not found")
	// ErrNilFlowState is returned when attempting to save a nil flow state.
	ErrNilFlowState = errors.New("flow state cannot be nil")
	// ErrEmptyNonce is returned when the nonce string is empty.
	ErrEmptyNonce = errors.New("nonce cannot be empty")
	// ErrStateExpired is returned when saving a flow state whose expiry has already passed.
	ErrStateExpired = errors.New("flow state is already expired")
	// ErrDuplicateNonce is returned when a nonce is saved twice.
	ErrDuplicateNonce = errors.New("nonce already issued")
	// ErrStoreFull is returned when the in-memory store holds its maximum
	// number of live nonces.
	ErrStoreFull = errors.New("too many pending authorizations")
)

const (
	// DefaultMaxFlowStates caps the number of live nonces in a MemoryStore.
	DefaultMaxFlowStates = 10000
	sweepInterval        = time.Minute
)

// MemoryStore implements the core.Store interface using an in-memory map.
// It is safe for concurrent use but only serves a single process.
type MemoryStore struct {
	mu        sync.Mutex
	states    map[string]*core.FlowState
	maxStates int
	lastSweep time.Time
	now       func() time.Time
}

// NewMemoryStore creates a MemoryStore holding at most DefaultMaxFlowStates nonces.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithLimit(DefaultMaxFlowStates)
}

// NewMemoryStoreWithLimit creates a MemoryStore holding at most maxStates
// live nonces. A non-positive maxStates uses DefaultMaxFlowStates.
func NewMemoryStoreWithLimit(maxStates int) *MemoryStore {
	if maxStates <= 0 {
		maxStates = DefaultMaxFlowStates
	}
	return &MemoryStore{
		states:    make(map[string]*core.FlowState),
		maxStates: maxStates,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// SaveFlowState records a freshly issued nonce.
// Expired entries are swept at most once per minute, or right away when the
// store is full. A full store of live nonces rejects the save.
func (m *MemoryStore) SaveFlowState(ctx context.Context, state *core.FlowState) error {
	if state == nil {
		return ErrNilFlowState
	}
	if state.Nonce == "" {
		return ErrEmptyNonce
	}

	now := m.now()
	if state.Expired(now) {
		return ErrStateExpired
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Sub(m.lastSweep) >= sweepInterval || len(m.states) >= m.maxStates {
		m.sweep(now)
	}

	if _, exists := m.states[state.Nonce]; exists {
		return ErrDuplicateNonce
	}
	if len(m.states) >= m.maxStates {
		return ErrStoreFull
	}

	stored := *state
	m.states[state.Nonce] = &stored
	return nil
}

// sweep drops expired entries. Must be called with mu held.
func (m *MemoryStore) sweep(now time.Time) {
	for nonce, s := range m.states {
		if s.Expired(now) {
			delete(m.states, nonce)
		}
	}
	m.lastSweep = now
}

// ConsumeFlowState removes and returns the flow state for nonce.
// It returns ErrStateNotFound if the nonce is unknown or expired.
func (m *MemoryStore) ConsumeFlowState(ctx context.Context, nonce string) (*core.FlowState, error) {
	if nonce == "" {
		return nil, ErrEmptyNonce
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state, exists := m.states[nonce]
	if !exists {
		return nil, ErrStateNotFound
	}
	delete(m.states, nonce)

	if state.Expired(m.now()) {
		return nil, ErrStateNotFound
	}

	return state, nil
}

// Len returns the number of nonces currently held, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}
