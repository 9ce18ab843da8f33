package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/kiroku-ai/kiroku/internal/model"
	"github.com/kiroku-ai/kiroku/internal/storage"
)

type contextKey string

const contextKeyPrincipal contextKey = "principal"

// WithPrincipal returns a context carrying a pre-authenticated principal.
// Used by the MCP transport and by tests (internal trust).
func WithPrincipal(ctx context.Context, p model.Principal) context.Context {
	return context.WithValue(ctx, contextKeyPrincipal, p)
}

// PrincipalFromContext extracts the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) *model.Principal {
	if p, ok := ctx.Value(contextKeyPrincipal).(model.Principal); ok {
		return &p
	}
	return nil
}

// Authenticator identifies the calling principal from a request, or declines.
// Returning (nil, nil) means "this method was not presented"; returning
// (nil, err) means the method was presented but failed. Either way the chain
// moves on — only the reasons differ in the logs.
type Authenticator interface {
	Name() string
	Authenticate(r *http.Request) (*model.Principal, error)
}

// Chain tries each authenticator in order and takes the first non-nil
// principal. A single pass per request, no retries. Failure reasons are
// accumulated for logging only; callers surface a single generic 401.
type Chain struct {
	authenticators []Authenticator
}

// NewChain builds an authentication chain in the given order.
func NewChain(authenticators ...Authenticator) *Chain {
	return &Chain{authenticators: authenticators}
}

// Authenticate runs the chain. On failure the returned reasons list one
// entry per authenticator that was presented credentials and rejected them.
func (c *Chain) Authenticate(r *http.Request) (*model.Principal, []string) {
	var reasons []string
	for _, a := range c.authenticators {
		p, err := a.Authenticate(r)
		if p != nil {
			return p, nil
		}
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("%s: %v", a.Name(), err))
		}
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "no credentials presented")
	}
	return nil, reasons
}

// ContextAuthenticator trusts a principal already attached to the request
// context by an internal transport.
type ContextAuthenticator struct{}

func (ContextAuthenticator) Name() string { return "context" }

func (ContextAuthenticator) Authenticate(r *http.Request) (*model.Principal, error) {
	return PrincipalFromContext(r.Context()), nil
}

// KeyStore is the subset of the storage layer the API key authenticator
// needs. Satisfied by *storage.DB.
type KeyStore interface {
	GetActiveAPIKeysByAgentID(ctx context.Context, agentID string) ([]model.APIKey, error)
	GetPrincipalByAgentID(ctx context.Context, agentID string) (model.Principal, error)
}

// APIKeyAuthenticator verifies the X-API-Key header, formatted as
// "<agent_id>:<key>", against stored Argon2id hashes.
type APIKeyAuthenticator struct {
	Store KeyStore
}

func (APIKeyAuthenticator) Name() string { return "api_key" }

func (a APIKeyAuthenticator) Authenticate(r *http.Request) (*model.Principal, error) {
	header := r.Header.Get("X-API-Key")
	if header == "" {
		return nil, nil
	}

	agentID, key, ok := strings.Cut(header, ":")
	if !ok || agentID == "" || key == "" {
		return nil, errors.New("malformed api key header, expected agent_id:key")
	}

	keys, err := a.Store.GetActiveAPIKeysByAgentID(r.Context(), agentID)
	if err != nil {
		return nil, fmt.Errorf("key lookup: %w", err)
	}
	if len(keys) == 0 {
		DummyVerify()
		return nil, errors.New("invalid credentials")
	}

	for _, k := range keys {
		valid, verr := VerifyAPIKey(key, k.KeyHash)
		if verr != nil || !valid {
			continue
		}
		p, err := a.Store.GetPrincipalByAgentID(r.Context(), agentID)
		if err != nil {
			return nil, fmt.Errorf("principal lookup: %w", err)
		}
		return &p, nil
	}
	return nil, errors.New("invalid credentials")
}

// BearerAuthenticator verifies an "Authorization: Bearer <jwt>" header.
// The principal is reconstructed from the validated claims; no DB hit.
type BearerAuthenticator struct {
	JWT *JWTManager
}

func (BearerAuthenticator) Name() string { return "bearer" }

func (a BearerAuthenticator) Authenticate(r *http.Request) (*model.Principal, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, nil
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return nil, nil // someone else's scheme (e.g. Signature)
	}

	claims, err := a.JWT.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	p, err := principalFromClaims(claims)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// SignatureAuthenticator verifies an "Authorization: Signature
// <agent_id>:<hexsig>" header, where the signature is HMAC-SHA256 over
// method + path + body with the agent's shared secret.
type SignatureAuthenticator struct {
	Verifier *SignatureVerifier
	Store    KeyStore
}

func (SignatureAuthenticator) Name() string { return "signature" }

func (a SignatureAuthenticator) Authenticate(r *http.Request) (*model.Principal, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, nil
	}
	scheme, credential, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Signature") {
		return nil, nil
	}

	agentID, sig, ok := strings.Cut(credential, ":")
	if !ok || agentID == "" || sig == "" {
		return nil, errors.New("malformed signature credential, expected agent_id:signature")
	}

	// The body is consumed to compute the signature and restored so the
	// handler can still decode it.
	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	if !a.Verifier.Verify(agentID, sig, r.Method, r.URL.Path, body) {
		return nil, errors.New("invalid signature")
	}

	p, err := a.Store.GetPrincipalByAgentID(r.Context(), agentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errors.New("signing agent has no principal record")
		}
		return nil, fmt.Errorf("principal lookup: %w", err)
	}
	return &p, nil
}

func principalFromClaims(claims *Claims) (*model.Principal, error) {
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("invalid subject: %w", err)
	}
	return &model.Principal{
		ID:      id,
		AgentID: claims.AgentID,
		Role:    claims.Role,
	}, nil
}
