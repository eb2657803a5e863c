// Package pki is the client side of the trust zone PKI: it fetches the CA
// certificate and gets certificate signing requests signed.
package pki

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

var errEmptyResponse = errors.New("pki returned an empty certificate")

// Client calls the PKI service.
type Client struct {
	cc     grpc.ClientConnInterface
	client PkiServiceClient
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc, client: NewPkiServiceClient(cc)}
}

// Close closes the underlying connection when the client owns one.
func (c *Client) Close() error {
	if closer, ok := c.cc.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// GetCA returns the PEM-encoded CA certificate of the trust zone.
func (c *Client) GetCA(ctx context.Context) ([]byte, error) {
	reply, err := c.client.GetCA(ctx, &emptypb.Empty{})
	if err != nil {
		return nil, fmt.Errorf("get ca: %w", err)
	}
	if len(reply.GetValue()) == 0 {
		return nil, fmt.Errorf("get ca: %w", errEmptyResponse)
	}
	return reply.GetValue(), nil
}

// SignCSR submits a PEM-encoded CSR and returns the issued certificate PEM.
func (c *Client) SignCSR(ctx context.Context, csrPEM []byte) ([]byte, error) {
	reply, err := c.client.SignCSR(ctx, wrapperspb.Bytes(csrPEM))
	if err != nil {
		return nil, fmt.Errorf("sign csr: %w", err)
	}
	if len(reply.GetValue()) == 0 {
		return nil, fmt.Errorf("sign csr: %w", errEmptyResponse)
	}
	return reply.GetValue(), nil
}
