// genkey generates an Ed25519 key pair for kiroku JWT signing.
//
// Usage (run from the repo root):
//
//	go run scripts/genkey/main.go [dir]
//
// Writes jwt_private.pem (mode 0600) and jwt_public.pem into dir
// (default data/). Point KIROKU_JWT_PRIVATE_KEY and KIROKU_JWT_PUBLIC_KEY
// at the resulting files.
//
// The server auto-generates ephemeral keys when the paths are unset, but
// those are discarded on every restart, invalidating all issued tokens.
// Persistent keys prevent that.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

func main() {
	dir := "data"
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}
	privPath := filepath.Join(dir, "jwt_private.pem")
	pubPath := filepath.Join(dir, "jwt_public.pem")

	if err := os.MkdirAll(dir, 0700); err != nil {
		fatal("cannot create %s: %v", dir, err)
	}

	// Refuse to overwrite existing keys — prevents accidental invalidation
	// of live tokens.
	for _, path := range []string{privPath, pubPath} {
		if _, err := os.Stat(path); err == nil {
			fatal("%s already exists — delete it first if you want to rotate keys", path)
		}
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		fatal("generate key: %v", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		fatal("marshal private key: %v", err)
	}
	writePEM(privPath, "PRIVATE KEY", privDER)

	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		fatal("marshal public key: %v", err)
	}
	writePEM(pubPath, "PUBLIC KEY", pubDER)

	fmt.Printf("wrote %s\n", privPath)
	fmt.Printf("wrote %s\n", pubPath)
}

func writePEM(path, blockType string, der []byte) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		fatal("create %s: %v", path, err)
	}
	defer f.Close()
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		fatal("write %s: %v", path, err)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
