// Package credentials resolves per-tenant external-labeler credentials.
//
// The credential store itself belongs to the platform; the bridge is a
// read-through consumer. The production implementation reads Vault KV v2
// secrets, one path per tenant, the same way every arc service sources
// its secrets.
package credentials

import (
	"context"
	"fmt"
	"net/url"
	"sort"

	vault "github.com/hashicorp/vault/api"
)

// Credential is the tenant-scoped identity the bridge uses against the
// external labeler.
type Credential struct {
	TenantID   string
	ServiceURL *url.URL
	// DID is the decentralized identifier of the platform's service
	// account on the labeler.
	DID string
	// SigningKey is the raw secp256k1 private scalar as a lowercase hex
	// string, optionally 0x-prefixed. Validation happens in the token
	// minter, not here.
	SigningKey string
	// Handle is a human label; the bridge never uses it.
	Handle string
}

// Store looks up labeler credentials for a tenant.
// Get returns (nil, nil) when the tenant is unconfigured — that is a
// normal condition, not an error. Callers must tolerate repeated
// invocations; no caching is guaranteed.
type Store interface {
	Get(ctx context.Context, tenantID string) (*Credential, error)
	List(ctx context.Context) ([]string, error)
}

// VaultStore reads credentials from a Vault KV v2 mount. Each tenant has
// one secret at <basePath>/tenants/<tenantID> with keys SERVICE_URL,
// DID, SIGNING_KEY and optionally HANDLE.
type VaultStore struct {
	client   *vault.Client
	basePath string
}

// NewVaultStore wraps an authenticated Vault client. basePath is the KV
// v2 data path prefix, e.g. "secret/data/arc/labeler-bridge".
func NewVaultStore(client *vault.Client, basePath string) *VaultStore {
	return &VaultStore{client: client, basePath: basePath}
}

func (s *VaultStore) tenantPath(tenantID string) string {
	return fmt.Sprintf("%s/tenants/%s", s.basePath, tenantID)
}

// Get reads and parses one tenant's credential. A missing secret maps to
// (nil, nil); a present but unparseable secret is an error.
func (s *VaultStore) Get(ctx context.Context, tenantID string) (*Credential, error) {
	secret, err := s.client.Logical().ReadWithContext(ctx, s.tenantPath(tenantID))
	if err != nil {
		return nil, fmt.Errorf("vault read %s: %w", tenantID, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("vault read %s: unexpected KV v2 envelope", tenantID)
	}

	rawURL, _ := data["SERVICE_URL"].(string)
	did, _ := data["DID"].(string)
	signingKey, _ := data["SIGNING_KEY"].(string)
	handle, _ := data["HANDLE"].(string)
	if rawURL == "" || did == "" || signingKey == "" {
		// Partially-provisioned tenant: treat as unconfigured.
		return nil, nil
	}

	serviceURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: invalid SERVICE_URL: %w", tenantID, err)
	}

	return &Credential{
		TenantID:   tenantID,
		ServiceURL: serviceURL,
		DID:        did,
		SigningKey: signingKey,
		Handle:     handle,
	}, nil
}

// List enumerates tenant IDs under the mount's tenants/ folder. Vault KV
// v2 lists via the metadata path rather than the data path.
func (s *VaultStore) List(ctx context.Context) ([]string, error) {
	listPath := metadataPath(s.basePath) + "/tenants"
	secret, err := s.client.Logical().ListWithContext(ctx, listPath)
	if err != nil {
		return nil, fmt.Errorf("vault list tenants: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}
	raw, _ := secret.Data["keys"].([]interface{})
	tenants := make([]string, 0, len(raw))
	for _, k := range raw {
		if id, ok := k.(string); ok && id != "" {
			tenants = append(tenants, id)
		}
	}
	sort.Strings(tenants)
	return tenants, nil
}

// metadataPath rewrites a KV v2 data path ("secret/data/foo") to its
// metadata sibling ("secret/metadata/foo").
func metadataPath(dataPath string) string {
	const marker = "/data/"
	for i := 0; i+len(marker) <= len(dataPath); i++ {
		if dataPath[i:i+len(marker)] == marker {
			return dataPath[:i] + "/metadata/" + dataPath[i+len(marker):]
		}
	}
	return dataPath
}
