package gateway

import (
	"context"
	"sync"
)

// Connector binds a provider integration to a workspace.
// The gateway only needs enough of it to route an inbound event.
type Connector struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspaceId"`
	Provider    string `json:"provider"`
	IsActive    bool   `json:"isActive"`
}

// ConnectorResolver finds the active connector for an inbound event
type ConnectorResolver interface {
	// Resolve returns the active connector for a provider, or false when
	// no active connector is configured.
	Resolve(ctx context.Context, provider, accountID string) (*Connector, bool)
}

// MemoryConnectorResolver resolves connectors from an in-memory table
type MemoryConnectorResolver struct {
	mu         sync.RWMutex
	byProvider map[string][]*Connector
}

// NewMemoryConnectorResolver creates an empty resolver
func NewMemoryConnectorResolver() *MemoryConnectorResolver {
	return &MemoryConnectorResolver{byProvider: make(map[string][]*Connector)}
}

// Add registers a connector
func (r *MemoryConnectorResolver) Add(c *Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byProvider[c.Provider] = append(r.byProvider[c.Provider], c)
}

// Resolve returns the first active connector for the provider
func (r *MemoryConnectorResolver) Resolve(ctx context.Context, provider, accountID string) (*Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.byProvider[provider] {
		if c.IsActive {
			return c, true
		}
	}
	return nil, false
}
