package identity

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/aspect-build/contract-provider/internal/fsutil"
)

const (
	keyFile  = "identity.key"
	certFile = "identity.crt"
	caFile   = "ca.crt"
)

// dirStore persists an identity across restarts.
type dirStore struct {
	dir string
}

// load returns the stored identity, or nil when the directory holds none.
func (s dirStore) load() (*Identity, error) {
	keyPEM, err := os.ReadFile(filepath.Join(s.dir, keyFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read identity key: %w", err)
	}
	certPEM, err := os.ReadFile(filepath.Join(s.dir, certFile))
	if err != nil {
		return nil, fmt.Errorf("read identity certificate: %w", err)
	}
	caPEM, err := os.ReadFile(filepath.Join(s.dir, caFile))
	if err != nil {
		return nil, fmt.Errorf("read identity CA: %w", err)
	}

	block, _ := pem.Decode(keyPEM)
	if block == nil || block.Type != "PRIVATE KEY" {
		return nil, errors.New("identity key is not a PEM PRIVATE KEY")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse identity key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("identity key has unsupported type %T", parsed)
	}
	return assemble(key, certPEM, caPEM)
}

// save writes key, certificate and CA. The key is written last so a partial
// save is never mistaken for a complete identity.
func (s dirStore) save(id *Identity) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(id.PrivateKey)
	if err != nil {
		return fmt.Errorf("marshal identity key: %w", err)
	}
	// Drop the old key first; load treats a missing key as "no identity".
	if err := os.Remove(filepath.Join(s.dir, keyFile)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove old identity key: %w", err)
	}
	if err := fsutil.WriteFile(filepath.Join(s.dir, caFile), id.CAPEM, 0o644); err != nil {
		return err
	}
	if err := fsutil.WriteFile(filepath.Join(s.dir, certFile), id.CertificatePEM, 0o644); err != nil {
		return err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	return fsutil.WriteFile(filepath.Join(s.dir, keyFile), keyPEM, 0o600)
}
