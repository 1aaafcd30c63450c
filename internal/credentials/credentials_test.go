package credentials_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	vault "github.com/hashicorp/vault/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-self/apps/labeler-bridge-service/internal/credentials"
)

// fakeVault serves the subset of the Vault HTTP API the store touches:
// KV v2 reads under /v1/<basePath>/tenants/<id> and LIST on the metadata
// sibling.
func fakeVault(t *testing.T, handler http.HandlerFunc) *vault.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := vault.DefaultConfig()
	cfg.Address = srv.URL
	client, err := vault.NewClient(cfg)
	require.NoError(t, err)
	client.SetToken("test-token")
	return client
}

func TestGetParsesCredential(t *testing.T) {
	client := fakeVault(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/secret/data/arc/labeler-bridge/tenants/tenant-1", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"data": {
				"data": {
					"SERVICE_URL": "https://labeler.example.com",
					"DID": "did:plc:platform123",
					"SIGNING_KEY": "0xdeadbeef",
					"HANDLE": "labeler.example.com"
				},
				"metadata": {"version": 1}
			}
		}`))
	})

	store := credentials.NewVaultStore(client, "secret/data/arc/labeler-bridge")
	cred, err := store.Get(context.Background(), "tenant-1")
	require.NoError(t, err)
	require.NotNil(t, cred)

	assert.Equal(t, "tenant-1", cred.TenantID)
	assert.Equal(t, "labeler.example.com", cred.ServiceURL.Hostname())
	assert.Equal(t, "did:plc:platform123", cred.DID)
	assert.Equal(t, "0xdeadbeef", cred.SigningKey)
	assert.Equal(t, "labeler.example.com", cred.Handle)
}

func TestGetMissingSecretIsUnconfigured(t *testing.T) {
	client := fakeVault(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors":[]}`, http.StatusNotFound)
	})

	store := credentials.NewVaultStore(client, "secret/data/arc/labeler-bridge")
	cred, err := store.Get(context.Background(), "tenant-unknown")
	require.NoError(t, err)
	assert.Nil(t, cred)
}

func TestGetPartialSecretIsUnconfigured(t *testing.T) {
	client := fakeVault(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"data": {
				"data": {"SERVICE_URL": "https://labeler.example.com"},
				"metadata": {"version": 1}
			}
		}`))
	})

	store := credentials.NewVaultStore(client, "secret/data/arc/labeler-bridge")
	cred, err := store.Get(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Nil(t, cred, "secret without DID and SIGNING_KEY must read as unconfigured")
}

func TestListUsesMetadataPath(t *testing.T) {
	client := fakeVault(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/secret/metadata/arc/labeler-bridge/tenants", r.URL.Path)
		// The Vault client issues either a literal LIST or GET?list=true
		// depending on version.
		isList := r.Method == "LIST" || (r.Method == http.MethodGet && r.URL.Query().Get("list") == "true")
		assert.True(t, isList, "unexpected list request %s %s", r.Method, r.URL.String())
		_, _ = w.Write([]byte(`{"data": {"keys": ["tenant-b", "tenant-a"]}}`))
	})

	store := credentials.NewVaultStore(client, "secret/data/arc/labeler-bridge")
	tenants, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"tenant-a", "tenant-b"}, tenants)
}
