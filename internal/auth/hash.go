package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id cost parameters. Changing these invalidates no stored hashes
// (the salt and parameters are fixed repo-wide), but re-hashing on next use
// is not implemented, so treat them as frozen.
const (
	hashPasses   = 1
	hashMemoryKB = 64 * 1024
	hashLanes    = 4
	hashBytes    = 32
	saltBytes    = 16

	keyEntropyBytes = 32
)

func derive(apiKey string, salt []byte) []byte {
	return argon2.IDKey([]byte(apiKey), salt, hashPasses, hashMemoryKB, hashLanes, hashBytes)
}

// GenerateAPIKey returns a new random plaintext API key with the kiroku
// prefix. The plaintext is shown to the caller once; only the hash is stored.
func GenerateAPIKey() (string, error) {
	raw := make([]byte, keyEntropyBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("auth: generate api key: %w", err)
	}
	return "krk_" + base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashAPIKey hashes an API key with Argon2id and a fresh random salt,
// encoded as "<salt>$<hash>" in base64.
func HashAPIKey(apiKey string) (string, error) {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}
	sum := derive(apiKey, salt)
	return base64.StdEncoding.EncodeToString(salt) + "$" + base64.StdEncoding.EncodeToString(sum), nil
}

// VerifyAPIKey checks an API key against a stored "<salt>$<hash>" value.
func VerifyAPIKey(apiKey, encoded string) (bool, error) {
	saltPart, hashPart, found := strings.Cut(encoded, "$")
	if !found {
		return false, fmt.Errorf("auth: invalid hash format")
	}
	salt, err := base64.StdEncoding.DecodeString(saltPart)
	if err != nil {
		return false, fmt.Errorf("auth: decode salt: %w", err)
	}
	want, err := base64.StdEncoding.DecodeString(hashPart)
	if err != nil {
		return false, fmt.Errorf("auth: decode hash: %w", err)
	}

	got := derive(apiKey, salt)
	return subtle.ConstantTimeCompare(want, got) == 1, nil
}

// DummyVerify burns an Argon2id derivation with the standard cost parameters.
// Call it on auth failure paths where no real hash was checked, so response
// timing does not reveal whether an agent exists.
func DummyVerify() {
	derive("dummy", make([]byte, saltBytes))
}
