package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// AgentSecretEnvPrefix is the environment variable prefix for per-agent HMAC
// secrets: KIROKU_AGENT_SECRET_<ID> holds the shared secret for agent <id>
// (the suffix is lowercased to form the agent id).
const AgentSecretEnvPrefix = "KIROKU_AGENT_SECRET_"

// SignatureVerifier verifies HMAC-SHA256 request signatures against
// per-agent shared secrets.
type SignatureVerifier struct {
	secrets map[string]string
}

// NewSignatureVerifier loads agent secrets from the environment.
func NewSignatureVerifier() *SignatureVerifier {
	secrets := make(map[string]string)
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, AgentSecretEnvPrefix) {
			continue
		}
		agentID := strings.ToLower(strings.TrimPrefix(key, AgentSecretEnvPrefix))
		if agentID != "" && value != "" {
			secrets[agentID] = value
		}
	}
	return &SignatureVerifier{secrets: secrets}
}

// NewSignatureVerifierWithSecrets creates a verifier from an explicit secret
// map. Used by tests.
func NewSignatureVerifierWithSecrets(secrets map[string]string) *SignatureVerifier {
	return &SignatureVerifier{secrets: secrets}
}

// HasSecrets reports whether any agent secrets are configured. With no
// secrets the signature authenticator declines every request.
func (v *SignatureVerifier) HasSecrets() bool {
	return len(v.secrets) > 0
}

// Sign computes the hex HMAC-SHA256 signature over method + path + body for
// the given agent. Returns an error if the agent has no configured secret.
func (v *SignatureVerifier) Sign(agentID, method, path string, body []byte) (string, error) {
	secret, ok := v.secrets[agentID]
	if !ok {
		return "", fmt.Errorf("auth: no secret for agent %s", agentID)
	}
	return computeSignature(secret, method, path, body), nil
}

// Verify checks a hex signature over method + path + body for the given
// agent. Unknown agents and bad signatures both return false.
func (v *SignatureVerifier) Verify(agentID, signature, method, path string, body []byte) bool {
	secret, ok := v.secrets[agentID]
	if !ok {
		return false
	}
	expected := computeSignature(secret, method, path, body)
	return hmac.Equal([]byte(signature), []byte(expected))
}

func computeSignature(secret, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(method))
	mac.Write([]byte(path))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
