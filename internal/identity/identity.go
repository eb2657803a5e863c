// Package identity establishes the provider's own identity in the trust zone:
// an ECDSA key, a certificate issued by the zone PKI for it, and the PKI CA
// from which the trust zone id is derived.
package identity

import (
	"crypto/ecdsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/aspect-build/contract-provider/internal/contract"
)

// Organization is the subject organization of every CSR.
const Organization = "WirePact PKI"

// Identity is read-only once built; renewals produce a new value.
type Identity struct {
	PrivateKey     *ecdsa.PrivateKey
	Certificate    *x509.Certificate
	CertificatePEM []byte

	CA    *x509.Certificate
	CAPEM []byte

	// TrustZone is hex(sha256(CA DER)).
	TrustZone string

	chain [][]byte
}

// TLSCertificate returns the identity as an mTLS client certificate.
func (id *Identity) TLSCertificate() *tls.Certificate {
	return &tls.Certificate{
		Certificate: id.chain,
		PrivateKey:  id.PrivateKey,
		Leaf:        id.Certificate,
	}
}

// CertPool returns a pool holding the PKI CA, for verifying peers of the zone.
func (id *Identity) CertPool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(id.CA)
	return pool
}

// NeedsRenewal reports whether less than the given fraction of the
// certificate lifetime remains at now.
func (id *Identity) NeedsRenewal(now time.Time, fraction float64) bool {
	lifetime := id.Certificate.NotAfter.Sub(id.Certificate.NotBefore)
	remaining := id.Certificate.NotAfter.Sub(now)
	return remaining <= time.Duration(float64(lifetime)*fraction)
}

// Expired reports whether the certificate is no longer valid at now.
func (id *Identity) Expired(now time.Time) bool {
	return !now.Before(id.Certificate.NotAfter)
}

// assemble validates the parts of an identity and derives the trust zone.
func assemble(key *ecdsa.PrivateKey, certPEM, caPEM []byte) (*Identity, error) {
	ca, err := parseCertificate(caPEM)
	if err != nil {
		return nil, fmt.Errorf("parse CA: %w", err)
	}
	cert, err := parseCertificate(certPEM)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok || !pub.Equal(&key.PublicKey) {
		return nil, errors.New("certificate does not match the private key")
	}
	if err := cert.CheckSignatureFrom(ca); err != nil {
		return nil, fmt.Errorf("certificate is not issued by the trust zone CA: %w", err)
	}
	zone, err := contract.TrustZoneID(caPEM)
	if err != nil {
		return nil, err
	}
	return &Identity{
		PrivateKey:     key,
		Certificate:    cert,
		CertificatePEM: certPEM,
		CA:             ca,
		CAPEM:          caPEM,
		TrustZone:      zone,
		chain:          certificateBlocks(certPEM),
	}, nil
}

func parseCertificate(data []byte) (*x509.Certificate, error) {
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, errors.New("no CERTIFICATE block")
		}
		if block.Type == "CERTIFICATE" {
			return x509.ParseCertificate(block.Bytes)
		}
	}
}

// certificateBlocks returns the DER of every CERTIFICATE block, leaf first.
func certificateBlocks(data []byte) [][]byte {
	var out [][]byte
	for rest := data; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return out
		}
		if block.Type == "CERTIFICATE" {
			out = append(out, block.Bytes)
		}
	}
}
