// Package secrets resolves webhook signing secrets for inbound providers.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Common errors
var (
	ErrSecretNotFound = errors.New("secret not found")
)

// Provider defines the interface for signing-secret resolution.
// The gateway looks up one signing secret per webhook provider.
type Provider interface {
	// Get retrieves a secret by key
	Get(ctx context.Context, key string) (string, error)

	// Name returns the provider name for logging
	Name() string
}

// SigningSecretKey builds the lookup key for a webhook provider's signing secret,
// e.g. SigningSecretKey("stripe") -> "webhook.signing.stripe".
func SigningSecretKey(provider string) string {
	return "webhook.signing." + strings.ToLower(provider)
}

// EndpointSecretKey builds the lookup key for an outbound endpoint's
// signing secret, e.g. "webhook.endpoint.wep_01ABC...".
func EndpointSecretKey(endpointID string) string {
	return "webhook.endpoint." + endpointID
}

// EnvProvider resolves secrets from environment variables.
// Keys are upper-cased with dots replaced by underscores and prefixed,
// e.g. "webhook.signing.stripe" -> "PULSEGATE_WEBHOOK_SIGNING_STRIPE".
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates an environment-backed secrets provider
func NewEnvProvider(prefix string) *EnvProvider {
	if prefix == "" {
		prefix = "PULSEGATE"
	}
	return &EnvProvider{prefix: prefix}
}

// Get retrieves a secret from the environment
func (p *EnvProvider) Get(ctx context.Context, key string) (string, error) {
	envKey := p.prefix + "_" + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
	value, ok := os.LookupEnv(envKey)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %s (env %s)", ErrSecretNotFound, key, envKey)
	}
	return value, nil
}

// Name returns the provider name
func (p *EnvProvider) Name() string {
	return "env"
}

// StaticProvider serves secrets from an in-memory map.
// Used in tests and for config-file-supplied secrets.
type StaticProvider struct {
	mu      sync.RWMutex
	secrets map[string]string
}

// NewStaticProvider creates a provider over a fixed secret map
func NewStaticProvider(secrets map[string]string) *StaticProvider {
	copied := make(map[string]string, len(secrets))
	for k, v := range secrets {
		copied[k] = v
	}
	return &StaticProvider{secrets: copied}
}

// Get retrieves a secret from the map
func (p *StaticProvider) Get(ctx context.Context, key string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	value, ok := p.secrets[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}
	return value, nil
}

// Set stores a secret in the map
func (p *StaticProvider) Set(key, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.secrets[key] = value
}

// Name returns the provider name
func (p *StaticProvider) Name() string {
	return "static"
}

// Chain tries each provider in order, returning the first hit.
// Lets config-file secrets override the environment or vice versa.
type Chain struct {
	providers []Provider
}

// NewChain creates a chained provider
func NewChain(providers ...Provider) *Chain {
	return &Chain{providers: providers}
}

// Get retrieves a secret from the first provider that has it
func (c *Chain) Get(ctx context.Context, key string) (string, error) {
	for _, p := range c.providers {
		value, err := p.Get(ctx, key)
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, ErrSecretNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
}

// Name returns the provider name
func (c *Chain) Name() string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return "chain(" + strings.Join(names, ",") + ")"
}
