package auth_test

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiroku-ai/kiroku/internal/auth"
	"github.com/kiroku-ai/kiroku/internal/model"
	"github.com/kiroku-ai/kiroku/internal/storage"
)

// fakeKeyStore satisfies auth.KeyStore with in-memory fixtures.
type fakeKeyStore struct {
	keys       map[string][]model.APIKey
	principals map[string]model.Principal
}

func (f *fakeKeyStore) GetActiveAPIKeysByAgentID(_ context.Context, agentID string) ([]model.APIKey, error) {
	return f.keys[agentID], nil
}

func (f *fakeKeyStore) GetPrincipalByAgentID(_ context.Context, agentID string) (model.Principal, error) {
	p, ok := f.principals[agentID]
	if !ok {
		return model.Principal{}, storage.ErrNotFound
	}
	return p, nil
}

func newFakeStore(t *testing.T, agentID, plaintext string) *fakeKeyStore {
	t.Helper()
	hash, err := auth.HashAPIKey(plaintext)
	require.NoError(t, err)
	return &fakeKeyStore{
		keys: map[string][]model.APIKey{
			agentID: {{ID: uuid.New(), AgentID: agentID, KeyHash: hash}},
		},
		principals: map[string]model.Principal{
			agentID: {ID: uuid.New(), AgentID: agentID, Role: model.RoleAgent},
		},
	}
}

func TestAPIKeyAuthenticator(t *testing.T) {
	store := newFakeStore(t, "builder", "top-secret")
	a := auth.APIKeyAuthenticator{Store: store}

	t.Run("valid key", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/v1/thoughts", nil)
		r.Header.Set("X-API-Key", "builder:top-secret")
		p, err := a.Authenticate(r)
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, "builder", p.AgentID)
	})

	t.Run("wrong key", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/v1/thoughts", nil)
		r.Header.Set("X-API-Key", "builder:wrong")
		p, err := a.Authenticate(r)
		require.Error(t, err)
		assert.Nil(t, p)
	})

	t.Run("unknown agent", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/v1/thoughts", nil)
		r.Header.Set("X-API-Key", "stranger:whatever")
		p, err := a.Authenticate(r)
		require.Error(t, err)
		assert.Nil(t, p)
	})

	t.Run("malformed header", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/v1/thoughts", nil)
		r.Header.Set("X-API-Key", "no-separator")
		p, err := a.Authenticate(r)
		require.Error(t, err)
		assert.Nil(t, p)
	})

	t.Run("no header declines", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/v1/thoughts", nil)
		p, err := a.Authenticate(r)
		require.NoError(t, err)
		assert.Nil(t, p)
	})
}

func TestBearerAuthenticator(t *testing.T) {
	mgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)
	a := auth.BearerAuthenticator{JWT: mgr}

	principal := model.Principal{ID: uuid.New(), AgentID: "builder", Role: model.RoleAgent}
	token, _, err := mgr.IssueToken(principal)
	require.NoError(t, err)

	t.Run("valid token", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/v1/plans", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		p, err := a.Authenticate(r)
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, principal.ID, p.ID)
		assert.Equal(t, "builder", p.AgentID)
		assert.Equal(t, model.RoleAgent, p.Role)
	})

	t.Run("invalid token", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/v1/plans", nil)
		r.Header.Set("Authorization", "Bearer garbage")
		p, err := a.Authenticate(r)
		require.Error(t, err)
		assert.Nil(t, p)
	})

	t.Run("other scheme declines", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/v1/plans", nil)
		r.Header.Set("Authorization", "Signature builder:abc")
		p, err := a.Authenticate(r)
		require.NoError(t, err)
		assert.Nil(t, p)
	})
}

func TestSignatureAuthenticator(t *testing.T) {
	store := newFakeStore(t, "builder", "unused")
	verifier := auth.NewSignatureVerifierWithSecrets(map[string]string{"builder": "hmac-secret"})
	a := auth.SignatureAuthenticator{Verifier: verifier, Store: store}

	body := []byte(`{"content":"signed thought"}`)
	sig, err := verifier.Sign("builder", "POST", "/v1/thoughts", body)
	require.NoError(t, err)

	t.Run("valid signature", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/v1/thoughts", bytes.NewReader(body))
		r.Header.Set("Authorization", "Signature builder:"+sig)
		p, err := a.Authenticate(r)
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, "builder", p.AgentID)

		// Body must still be readable by the handler afterwards.
		remaining, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, body, remaining)
	})

	t.Run("tampered body", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/v1/thoughts", bytes.NewReader([]byte(`{"content":"evil"}`)))
		r.Header.Set("Authorization", "Signature builder:"+sig)
		p, err := a.Authenticate(r)
		require.Error(t, err)
		assert.Nil(t, p)
	})

	t.Run("bearer scheme declines", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/v1/thoughts", bytes.NewReader(body))
		r.Header.Set("Authorization", "Bearer some-jwt")
		p, err := a.Authenticate(r)
		require.NoError(t, err)
		assert.Nil(t, p)
	})
}

func TestChainOrderAndReasons(t *testing.T) {
	store := newFakeStore(t, "builder", "top-secret")
	mgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	chain := auth.NewChain(
		auth.ContextAuthenticator{},
		auth.APIKeyAuthenticator{Store: store},
		auth.BearerAuthenticator{JWT: mgr},
	)

	t.Run("context principal wins", func(t *testing.T) {
		want := model.Principal{ID: uuid.New(), AgentID: "internal", Role: model.RoleAdmin}
		r := httptest.NewRequest("GET", "/v1/plans", nil)
		r = r.WithContext(auth.WithPrincipal(r.Context(), want))
		// A bad API key later in the chain must not matter.
		r.Header.Set("X-API-Key", "builder:wrong")

		p, reasons := chain.Authenticate(r)
		require.NotNil(t, p)
		assert.Equal(t, "internal", p.AgentID)
		assert.Empty(t, reasons)
	})

	t.Run("api key wins over bearer", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/v1/plans", nil)
		r.Header.Set("X-API-Key", "builder:top-secret")
		r.Header.Set("Authorization", "Bearer garbage")

		p, reasons := chain.Authenticate(r)
		require.NotNil(t, p)
		assert.Equal(t, "builder", p.AgentID)
		assert.Empty(t, reasons)
	})

	t.Run("all presented and rejected", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/v1/plans", nil)
		r.Header.Set("X-API-Key", "builder:wrong")
		r.Header.Set("Authorization", "Bearer garbage")

		p, reasons := chain.Authenticate(r)
		assert.Nil(t, p)
		require.Len(t, reasons, 2)
		assert.Contains(t, reasons[0], "api_key")
		assert.Contains(t, reasons[1], "bearer")
	})

	t.Run("nothing presented", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/v1/plans", nil)
		p, reasons := chain.Authenticate(r)
		assert.Nil(t, p)
		require.Len(t, reasons, 1)
		assert.Contains(t, reasons[0], "no credentials")
	})
}
