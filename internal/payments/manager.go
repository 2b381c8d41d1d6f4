package payments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// Provider names.
const (
	ProviderPayPal    = "paypal"
	ProviderStripe    = "stripe"
	ProviderSimulated = "simulated"
)

// Manager holds the registered Actions and routes to the default one. It satisfies Actions.
type Manager struct {
	providers       map[string]Actions
	defaultProvider string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the provider used when no preference is given.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Actions, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Actions, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{providers: copyMap}
	if _, ok := copyMap[ProviderPayPal]; ok {
		m.defaultProvider = ProviderPayPal
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Resolve returns the preferred provider, falling back to the default and then to the
// only registered provider.
func (m *Manager) Resolve(preferred string) (string, Actions, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if name := strings.TrimSpace(strings.ToLower(preferred)); name != "" {
		if p, ok := m.providers[name]; ok {
			return name, p, nil
		}
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, name)
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for name, p := range m.providers {
			return name, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// Names lists the registered providers.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateOrder delegates to the default provider.
func (m *Manager) CreateOrder(ctx context.Context, req OrderRequest) (any, error) {
	_, p, err := m.Resolve("")
	if err != nil {
		return nil, err
	}
	return p.CreateOrder(ctx, req)
}

// CaptureOrder delegates to the default provider.
func (m *Manager) CaptureOrder(ctx context.Context, orderID string) ([]byte, error) {
	_, p, err := m.Resolve("")
	if err != nil {
		return nil, err
	}
	return p.CaptureOrder(ctx, orderID)
}
