package identity

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aspect-build/contract-provider/internal/logx"
)

const (
	DefaultCommonName = "wirepact-contract-provider"
	// DefaultRenewFraction renews once a third of the lifetime remains.
	DefaultRenewFraction = 1.0 / 3
)

// PKI is the part of the trust zone PKI the bootstrapper needs.
type PKI interface {
	GetCA(ctx context.Context) ([]byte, error)
	SignCSR(ctx context.Context, csrPEM []byte) ([]byte, error)
}

// Options configures a Bootstrapper.
type Options struct {
	CommonName string
	// Dir, when set, keeps the identity across restarts.
	Dir string
	// RenewFraction is the remaining-lifetime share below which Current renews.
	RenewFraction float64
	Now           func() time.Time
}

// Bootstrapper obtains and renews the provider identity.
type Bootstrapper struct {
	pki  PKI
	opts Options

	mu      sync.Mutex
	current *Identity
}

func New(pki PKI, opts Options) *Bootstrapper {
	if strings.TrimSpace(opts.CommonName) == "" {
		opts.CommonName = DefaultCommonName
	}
	if opts.RenewFraction <= 0 || opts.RenewFraction >= 1 {
		opts.RenewFraction = DefaultRenewFraction
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Bootstrapper{pki: pki, opts: opts}
}

// Obtain establishes the identity: a stored one from Dir when it is still
// usable under the current CA, otherwise a freshly signed one.
func (b *Bootstrapper) Obtain(ctx context.Context) (*Identity, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.obtainLocked(ctx)
}

func (b *Bootstrapper) obtainLocked(ctx context.Context) (*Identity, error) {
	caPEM, err := b.pki.GetCA(ctx)
	if err != nil {
		return nil, fromRPC("get ca", err)
	}
	if _, err := parseCertificate(caPEM); err != nil {
		return nil, rejected("get ca", fmt.Errorf("parse CA: %w", err))
	}

	if id := b.reuse(caPEM); id != nil {
		b.current = id
		return id, nil
	}

	id, err := b.issue(ctx, caPEM)
	if err != nil {
		return nil, err
	}
	if b.opts.Dir != "" {
		if err := (dirStore{dir: b.opts.Dir}).save(id); err != nil {
			// The identity is usable; only reuse on the next start is lost.
			logx.Warnf("identity: persist to %s: %v", b.opts.Dir, err)
		}
	}
	b.current = id
	logx.Infof("identity: issued cn=%s trust_zone=%s not_after=%s", id.Certificate.Subject.CommonName, id.TrustZone, id.Certificate.NotAfter.Format(time.RFC3339))
	return id, nil
}

func (b *Bootstrapper) reuse(caPEM []byte) *Identity {
	if b.opts.Dir == "" {
		return nil
	}
	id, err := (dirStore{dir: b.opts.Dir}).load()
	switch {
	case err != nil:
		logx.Warnf("identity: stored identity in %s unusable: %v", b.opts.Dir, err)
		return nil
	case id == nil:
		return nil
	}

	fresh, err := parseCertificate(caPEM)
	if err != nil || !fresh.Equal(id.CA) {
		logx.Infof("identity: trust zone CA changed, requesting a new certificate")
		return nil
	}
	if id.Certificate.Subject.CommonName != b.opts.CommonName {
		logx.Infof("identity: stored common name %q differs, requesting a new certificate", id.Certificate.Subject.CommonName)
		return nil
	}
	if id.NeedsRenewal(b.opts.Now(), b.opts.RenewFraction) {
		logx.Infof("identity: stored certificate close to expiry, requesting a new one")
		return nil
	}
	logx.Infof("identity: reusing stored identity from %s not_after=%s", b.opts.Dir, id.Certificate.NotAfter.Format(time.RFC3339))
	return id
}

func (b *Bootstrapper) issue(ctx context.Context, caPEM []byte) (*Identity, error) {
	key, csrPEM, err := newCSR(b.opts.CommonName)
	if err != nil {
		return nil, rejected("create csr", err)
	}
	certPEM, err := b.pki.SignCSR(ctx, csrPEM)
	if err != nil {
		return nil, fromRPC("sign csr", err)
	}
	id, err := assemble(key, certPEM, caPEM)
	if err != nil {
		return nil, rejected("sign csr", err)
	}
	return id, nil
}

// Current returns the active identity, renewing it when it nears expiry. A
// failed renewal keeps serving the old identity until it expires. Renewal
// never switches trust zone CA; a rotated CA fails with ErrCAChanged.
func (b *Bootstrapper) Current(ctx context.Context) (*Identity, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current == nil {
		return b.obtainLocked(ctx)
	}
	now := b.opts.Now()
	if !b.current.NeedsRenewal(now, b.opts.RenewFraction) {
		return b.current, nil
	}

	logx.Infof("identity: renewing certificate not_after=%s", b.current.Certificate.NotAfter.Format(time.RFC3339))
	old := b.current
	caPEM, err := b.pki.GetCA(ctx)
	if err != nil {
		return b.keepOrFail(old, now, fromRPC("get ca", err))
	}
	fresh, err := parseCertificate(caPEM)
	if err != nil {
		return b.keepOrFail(old, now, rejected("get ca", fmt.Errorf("parse CA: %w", err)))
	}
	if !fresh.Equal(old.CA) {
		// Channels built at startup only trust the old CA.
		return b.keepOrFail(old, now, rejected("renew", ErrCAChanged))
	}
	id, err := b.issue(ctx, caPEM)
	if err != nil {
		return b.keepOrFail(old, now, err)
	}
	if b.opts.Dir != "" {
		if err := (dirStore{dir: b.opts.Dir}).save(id); err != nil {
			logx.Warnf("identity: persist to %s: %v", b.opts.Dir, err)
		}
	}
	b.current = id
	return id, nil
}

func (b *Bootstrapper) keepOrFail(old *Identity, now time.Time, err error) (*Identity, error) {
	if old.Expired(now) {
		return nil, err
	}
	logx.Warnf("identity: renewal failed, keeping current certificate: %v", err)
	return old, nil
}

// GetClientCertificate serves the current identity to TLS handshakes.
func (b *Bootstrapper) GetClientCertificate(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
	b.mu.Lock()
	id := b.current
	b.mu.Unlock()
	if id == nil {
		return nil, errors.New("identity not obtained yet")
	}
	return id.TLSCertificate(), nil
}

// newCSR generates an ECDSA P-256 key and a PEM CSR with CN=commonName and
// the PKI organization.
func newCSR(commonName string) (*ecdsa.PrivateKey, []byte, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate key: %w", err)
	}
	tmpl := &x509.CertificateRequest{
		Subject: pkix.Name{CommonName: commonName, Organization: []string{Organization}},
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, tmpl, key)
	if err != nil {
		return nil, nil, fmt.Errorf("create certificate request: %w", err)
	}
	return key, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der}), nil
}
