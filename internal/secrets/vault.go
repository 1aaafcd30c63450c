// Package secrets reads the bridge's startup secrets from Vault. The
// tenant-scoped labeler credentials live behind the credentials package;
// this one covers the infrastructure endpoints (PG_URL, NATS_URL).
package secrets

import (
	"fmt"

	"github.com/hashicorp/vault/api"
)

// Manager wraps the Vault API client for reading secrets.
type Manager struct {
	client *api.Client
}

// NewManager creates a Vault client pointed at the given address and
// authenticated with the provided token.
func NewManager(address, token string) (*Manager, error) {
	cfg := api.DefaultConfig()
	cfg.Address = address

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault client initialization failed: %w", err)
	}
	client.SetToken(token)

	return &Manager{client: client}, nil
}

// Client exposes the underlying Vault client for consumers that read
// their own paths (the tenant credential store).
func (m *Manager) Client() *api.Client {
	return m.client
}

// GetSecret reads a secret at the given path and returns the raw data map.
// For KV v2 backends the caller must unwrap the nested "data" key.
func (m *Manager) GetSecret(path string) (map[string]interface{}, error) {
	secret, err := m.client.Logical().Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret at %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no data found at %s", path)
	}
	return secret.Data, nil
}

// GetKV2 is a convenience wrapper that reads from a KV v2 backend and
// returns the inner "data" map, unwrapping the v2 envelope automatically.
func (m *Manager) GetKV2(path string) (map[string]interface{}, error) {
	raw, err := m.GetSecret(path)
	if err != nil {
		return nil, err
	}
	data, ok := raw["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected data format at %s", path)
	}
	return data, nil
}
