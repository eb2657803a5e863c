// Package rpc holds the gRPC plumbing shared by the PKI and repository
// clients: address parsing, TLS or plaintext dialing, API key credentials and
// status classification.
package rpc

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/aspect-build/contract-provider/internal/logx"
)

// Target is a parsed service address.
type Target struct {
	// HostPort is the dial address.
	HostPort string
	// Plaintext is true for http:// addresses accepted with --insecure.
	Plaintext bool
}

func (t Target) String() string {
	if t.Plaintext {
		return "http://" + t.HostPort
	}
	return "https://" + t.HostPort
}

// ParseAddress accepts https://host[:port], http://host[:port] (only when
// allowInsecure is set) and bare host:port, which is TLS unless allowInsecure
// is set.
func ParseAddress(addr string, allowInsecure bool) (Target, error) {
	addr = strings.TrimRight(strings.TrimSpace(addr), "/")
	if addr == "" {
		return Target{}, errors.New("address is empty")
	}

	if !strings.Contains(addr, "://") {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return Target{}, fmt.Errorf("address %q: %w", addr, err)
		}
		return Target{HostPort: addr, Plaintext: allowInsecure}, nil
	}

	u, err := url.Parse(addr)
	if err != nil {
		return Target{}, fmt.Errorf("parse address %q: %w", addr, err)
	}
	if u.Host == "" || (u.Path != "" && u.Path != "/") {
		return Target{}, fmt.Errorf("address %q must be scheme://host[:port]", addr)
	}

	var t Target
	switch u.Scheme {
	case "https":
		t.HostPort = withDefaultPort(u, "443")
	case "http":
		if !allowInsecure {
			return Target{}, fmt.Errorf("address %q is not HTTPS; use --insecure to allow plaintext", addr)
		}
		t.HostPort = withDefaultPort(u, "80")
		t.Plaintext = true
	default:
		return Target{}, fmt.Errorf("address %q: unsupported scheme %q", addr, u.Scheme)
	}
	return t, nil
}

func withDefaultPort(u *url.URL, port string) string {
	if u.Port() != "" {
		return u.Host
	}
	return net.JoinHostPort(u.Hostname(), port)
}

// DialOptions configures Dial.
type DialOptions struct {
	// APIKey is sent as "authorization: Bearer <key>" on every call when set.
	APIKey string

	// RootCAs verifies the server; nil uses the system pool.
	RootCAs *x509.CertPool

	// GetClientCertificate supplies the mTLS client certificate. It is called
	// per handshake so a renewed identity is picked up on reconnect.
	GetClientCertificate func(*tls.CertificateRequestInfo) (*tls.Certificate, error)

	// UserAgent is prepended to the grpc-go user agent when set.
	UserAgent string

	// Dialer replaces the network dialer, e.g. with a bufconn listener in tests.
	Dialer func(ctx context.Context, addr string) (net.Conn, error)
}

// Dial creates a client connection to t. The connection is established lazily
// on the first call.
func Dial(t Target, opts DialOptions) (*grpc.ClientConn, error) {
	var dialOpts []grpc.DialOption
	if t.Plaintext {
		logx.Warnf("rpc: communicating over plaintext (%s)", t)
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		tlsCfg := &tls.Config{
			MinVersion:           tls.VersionTLS12,
			RootCAs:              opts.RootCAs,
			GetClientCertificate: opts.GetClientCertificate,
		}
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(credentials.NewTLS(tlsCfg)))
	}
	if opts.APIKey != "" {
		dialOpts = append(dialOpts, grpc.WithPerRPCCredentials(NewAPIKeyCredentials(opts.APIKey, !t.Plaintext)))
	}

	if opts.UserAgent != "" {
		dialOpts = append(dialOpts, grpc.WithUserAgent(opts.UserAgent))
	}

	target := t.HostPort
	if opts.Dialer != nil {
		dialOpts = append(dialOpts, grpc.WithContextDialer(opts.Dialer))
		target = "passthrough:///" + target
	}

	cc, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t, err)
	}
	return cc, nil
}

// apiKeyCredentials attaches a bearer token taken from an oauth2 token source.
type apiKeyCredentials struct {
	source oauth2.TokenSource
	secure bool
}

// NewAPIKeyCredentials returns per-RPC credentials sending key as a bearer
// token. requireTLS=false permits them on plaintext connections.
func NewAPIKeyCredentials(key string, requireTLS bool) credentials.PerRPCCredentials {
	return apiKeyCredentials{
		source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: key, TokenType: "Bearer"}),
		secure: requireTLS,
	}
}

func (c apiKeyCredentials) GetRequestMetadata(ctx context.Context, _ ...string) (map[string]string, error) {
	tok, err := c.source.Token()
	if err != nil {
		return nil, fmt.Errorf("api key token: %w", err)
	}
	return map[string]string{"authorization": tok.Type() + " " + tok.AccessToken}, nil
}

func (c apiKeyCredentials) RequireTransportSecurity() bool { return c.secure }

// Class groups gRPC failures by how callers react to them.
type Class int

const (
	// Unreachable covers transport failures, timeouts and server outages.
	Unreachable Class = iota
	// Unauthorized means credentials were missing or refused.
	Unauthorized
	// Rejected means the server understood and refused the request.
	Rejected
	// Malformed means the response could not be decoded.
	Malformed
)

func (c Class) String() string {
	switch c {
	case Unreachable:
		return "unreachable"
	case Unauthorized:
		return "unauthorized"
	case Rejected:
		return "rejected"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Classify maps an error returned by a gRPC call to a Class.
func Classify(err error) Class {
	st, ok := status.FromError(err)
	if !ok {
		return Unreachable
	}
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return Unauthorized
	case codes.InvalidArgument, codes.FailedPrecondition, codes.NotFound,
		codes.AlreadyExists, codes.OutOfRange, codes.Unimplemented:
		return Rejected
	case codes.Internal, codes.DataLoss:
		// grpc-go reports undecodable responses as Internal.
		return Malformed
	default:
		return Unreachable
	}
}

// APIKeyInterceptor rejects calls whose authorization metadata does not carry
// key as a bearer token. An empty key accepts every call.
func APIKeyInterceptor(key string) grpc.UnaryServerInterceptor {
	want := "Bearer " + key
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if key == "" {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		for _, v := range md.Get("authorization") {
			if subtle.ConstantTimeCompare([]byte(v), []byte(want)) == 1 {
				return handler(ctx, req)
			}
		}
		return nil, status.Error(codes.Unauthenticated, "missing or invalid api key")
	}
}
