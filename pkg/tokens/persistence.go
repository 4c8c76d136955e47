package tokens

import (
	"context"
	"errors"
	"sync"

	"github.com/polisai/taskgate/pkg/domain"
)

// ErrNoTokens is returned by Persistence.Load when nothing has been stored.
var ErrNoTokens = errors.New("no stored tokens")

// Persistence is the durable copy of the token pair.
type Persistence interface {
	// Load returns the stored pair or ErrNoTokens.
	Load(ctx context.Context) (domain.TokenPair, error)

	// Save replaces the stored pair.
	Save(ctx context.Context, pair domain.TokenPair) error

	// Delete removes the stored pair. Deleting an empty store is not an error.
	Delete(ctx context.Context) error
}

// Pinger is implemented by persistence backends that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MemoryPersistence keeps the pair in process memory only.
type MemoryPersistence struct {
	mu   sync.RWMutex
	pair *domain.TokenPair
}

// NewMemoryPersistence creates an empty in-memory persistence.
func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{}
}

// Load returns the stored pair.
func (m *MemoryPersistence) Load(_ context.Context) (domain.TokenPair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.pair == nil {
		return domain.TokenPair{}, ErrNoTokens
	}
	return *m.pair, nil
}

// Save replaces the stored pair.
func (m *MemoryPersistence) Save(_ context.Context, pair domain.TokenPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pair = &pair
	return nil
}

// Delete removes the stored pair.
func (m *MemoryPersistence) Delete(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pair = nil
	return nil
}
