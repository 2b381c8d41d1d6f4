package storage

import (
	"context"
	"sync"
	"time"

	"github.com/hanko-field/storefront/internal/domain"
)

// MemoryOrderLog keeps orders in process memory.
type MemoryOrderLog struct {
	mu     sync.RWMutex
	orders map[string][]domain.PersistedOrder
	ids    map[string]struct{}
}

// NewMemoryOrderLog constructs an empty in-memory order log.
func NewMemoryOrderLog() *MemoryOrderLog {
	return &MemoryOrderLog{
		orders: make(map[string][]domain.PersistedOrder),
		ids:    make(map[string]struct{}),
	}
}

// Append adds order to the scope's log.
func (m *MemoryOrderLog) Append(ctx context.Context, scope string, order domain.PersistedOrder) error {
	scope, err := normalizeScope(scope)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.ids[order.ID]; exists {
		return ErrDuplicateOrder
	}
	order.Items = append([]domain.OrderItem(nil), order.Items...)
	m.orders[scope] = append(m.orders[scope], order)
	m.ids[order.ID] = struct{}{}
	return nil
}

// List returns a copy of the scope's orders in append order.
func (m *MemoryOrderLog) List(ctx context.Context, scope string) ([]domain.PersistedOrder, error) {
	scope, err := normalizeScope(scope)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.PersistedOrder, len(m.orders[scope]))
	copy(out, m.orders[scope])
	return out, nil
}

type memoryEntry struct {
	cart      CachedCart
	expiresAt time.Time
}

// MemoryCartCache is a process-local CartCache with per-entry expiry.
type MemoryCartCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

// NewMemoryCartCache constructs a cache whose entries live for ttl (zero disables expiry).
func NewMemoryCartCache(ttl time.Duration) *MemoryCartCache {
	return &MemoryCartCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

// Put overwrites the scope's cached cart.
func (m *MemoryCartCache) Put(_ context.Context, scope string, cart CachedCart) error {
	scope, err := normalizeScope(scope)
	if err != nil {
		return err
	}
	cart.Primary = cart.Primary.Clone()
	cart.Bonus = cart.Bonus.Clone()
	entry := memoryEntry{cart: cart}
	if m.ttl > 0 {
		entry.expiresAt = m.now().Add(m.ttl)
	}
	m.mu.Lock()
	m.entries[scope] = entry
	m.mu.Unlock()
	return nil
}

// Get returns the cached cart or ErrCacheMiss.
func (m *MemoryCartCache) Get(_ context.Context, scope string) (CachedCart, error) {
	scope, err := normalizeScope(scope)
	if err != nil {
		return CachedCart{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[scope]
	if !ok {
		return CachedCart{}, ErrCacheMiss
	}
	if !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		delete(m.entries, scope)
		return CachedCart{}, ErrCacheMiss
	}
	cart := entry.cart
	cart.Primary = cart.Primary.Clone()
	cart.Bonus = cart.Bonus.Clone()
	return cart, nil
}

// Delete removes the scope's cached cart.
func (m *MemoryCartCache) Delete(_ context.Context, scope string) error {
	scope, err := normalizeScope(scope)
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.entries, scope)
	m.mu.Unlock()
	return nil
}
