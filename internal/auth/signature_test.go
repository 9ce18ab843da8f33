package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiroku-ai/kiroku/internal/auth"
)

func TestSignatureSignAndVerify(t *testing.T) {
	v := auth.NewSignatureVerifierWithSecrets(map[string]string{
		"builder": "s3cret",
	})
	require.True(t, v.HasSecrets())

	body := []byte(`{"content":"hello"}`)
	sig, err := v.Sign("builder", "POST", "/v1/thoughts", body)
	require.NoError(t, err)
	assert.NotEmpty(t, sig)

	assert.True(t, v.Verify("builder", sig, "POST", "/v1/thoughts", body))

	// Any component change invalidates the signature.
	assert.False(t, v.Verify("builder", sig, "PUT", "/v1/thoughts", body))
	assert.False(t, v.Verify("builder", sig, "POST", "/v1/plans", body))
	assert.False(t, v.Verify("builder", sig, "POST", "/v1/thoughts", []byte(`{"content":"tampered"}`)))
}

func TestSignatureUnknownAgent(t *testing.T) {
	v := auth.NewSignatureVerifierWithSecrets(map[string]string{"builder": "s3cret"})

	_, err := v.Sign("stranger", "GET", "/v1/plans", nil)
	require.Error(t, err)
	assert.False(t, v.Verify("stranger", "deadbeef", "GET", "/v1/plans", nil))
}

func TestSignatureEmptyBody(t *testing.T) {
	v := auth.NewSignatureVerifierWithSecrets(map[string]string{"builder": "s3cret"})

	sig, err := v.Sign("builder", "GET", "/v1/plans", nil)
	require.NoError(t, err)
	assert.True(t, v.Verify("builder", sig, "GET", "/v1/plans", nil))
	assert.True(t, v.Verify("builder", sig, "GET", "/v1/plans", []byte{}))
}

func TestSignatureVerifierNoSecrets(t *testing.T) {
	v := auth.NewSignatureVerifierWithSecrets(nil)
	assert.False(t, v.HasSecrets())
}
