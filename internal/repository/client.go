// Package repository fetches the contracts of a trust zone from the remote
// contract repository.
package repository

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/aspect-build/contract-provider/internal/contract"
	"github.com/aspect-build/contract-provider/internal/logx"
)

const DefaultConcurrency = 4

// Client fetches contracts over an established connection.
type Client struct {
	cc     grpc.ClientConnInterface
	client ContractRepositoryClient

	// Concurrency bounds parallel GetContract calls.
	Concurrency int
	Now         func() time.Time
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{
		cc:          cc,
		client:      NewContractRepositoryClient(cc),
		Concurrency: DefaultConcurrency,
		Now:         time.Now,
	}
}

// Close closes the underlying connection when the client owns one.
func (c *Client) Close() error {
	if closer, ok := c.cc.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

type listEntry struct {
	id string
}

// FetchContracts lists the contracts of trustZone and retrieves each one. The
// result is all-or-nothing: one bad entry fails the whole fetch.
func (c *Client) FetchContracts(ctx context.Context, trustZone string) (*contract.Set, error) {
	reply, err := c.client.ListContracts(ctx, wrapperspb.String(trustZone))
	if err != nil {
		return nil, fromRPC("", err)
	}
	revision, entries, err := parseList(reply, trustZone)
	if err != nil {
		return nil, err
	}
	logx.Debugf("repository.list trust_zone=%s contracts=%d revision=%q", trustZone, len(entries), revision)

	contracts := make([]contract.Contract, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	limit := c.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	g.SetLimit(limit)
	for i, e := range entries {
		g.Go(func() error {
			ct, err := c.getContract(gctx, e.id, trustZone)
			if err != nil {
				return err
			}
			contracts[i] = ct
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	set, err := contract.NewSet(contracts...)
	if err != nil {
		return nil, &FetchError{Kind: MalformedResponse, Err: err}
	}
	set.Revision = revision
	set.FetchedAt = c.Now()
	return set, nil
}

func (c *Client) getContract(ctx context.Context, id, trustZone string) (contract.Contract, error) {
	req, err := structpb.NewStruct(map[string]any{"id": id, "trustZone": trustZone})
	if err != nil {
		return contract.Contract{}, fmt.Errorf("build request for %s: %w", id, err)
	}
	reply, err := c.client.GetContract(ctx, req)
	if err != nil {
		return contract.Contract{}, fromRPC(id, err)
	}
	return parseContract(reply, id, trustZone)
}

// parseList validates the ListContracts reply.
func parseList(reply *structpb.Struct, trustZone string) (string, []listEntry, error) {
	fields := reply.GetFields()
	revision, err := optionalString(fields, "revision")
	if err != nil {
		return "", nil, malformed("", "list: %v", err)
	}
	list, ok := fields["contracts"]
	if !ok {
		return "", nil, malformed("", "list: missing required field contracts")
	}
	lv, ok := list.GetKind().(*structpb.Value_ListValue)
	if !ok {
		return "", nil, malformed("", "list: contracts is not a list")
	}

	seen := make(map[string]bool, len(lv.ListValue.GetValues()))
	entries := make([]listEntry, 0, len(lv.ListValue.GetValues()))
	for i, v := range lv.ListValue.GetValues() {
		sv, ok := v.GetKind().(*structpb.Value_StructValue)
		if !ok {
			return "", nil, malformed("", "list: entry %d is not an object", i)
		}
		entryFields := sv.StructValue.GetFields()
		id, err := requiredString(entryFields, "id")
		if err != nil {
			return "", nil, malformed("", "list: entry %d: %v", i, err)
		}
		if err := checkTrustZone(entryFields, trustZone); err != nil {
			return "", nil, malformed(id, "list: %v", err)
		}
		if seen[id] {
			return "", nil, &FetchError{Kind: MalformedResponse, Err: &contract.DuplicateIDError{ID: id}}
		}
		seen[id] = true
		entries = append(entries, listEntry{id: id})
	}
	return revision, entries, nil
}

// parseContract validates a GetContract reply for the requested id.
func parseContract(reply *structpb.Struct, id, trustZone string) (contract.Contract, error) {
	fields := reply.GetFields()
	gotID, err := requiredString(fields, "id")
	if err != nil {
		return contract.Contract{}, malformed(id, "%v", err)
	}
	if gotID != id {
		return contract.Contract{}, malformed(id, "response carries id %q", gotID)
	}
	certPEM, err := requiredString(fields, "certificate")
	if err != nil {
		return contract.Contract{}, malformed(id, "%v", err)
	}
	if err := checkTrustZone(fields, trustZone); err != nil {
		return contract.Contract{}, malformed(id, "%v", err)
	}

	ct := contract.Contract{ID: id, TrustZone: trustZone, Certificate: []byte(certPEM)}
	if err := ct.Validate(); err != nil {
		return contract.Contract{}, malformed(id, "%v", err)
	}
	if err := parseCertificates(ct.Certificate); err != nil {
		return contract.Contract{}, malformed(id, "%v", err)
	}
	return ct, nil
}

func parseCertificates(data []byte) error {
	for rest := data; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		if _, err := x509.ParseCertificate(block.Bytes); err != nil {
			return fmt.Errorf("parse certificate: %w", err)
		}
	}
}

func checkTrustZone(fields map[string]*structpb.Value, trustZone string) error {
	zone, err := optionalString(fields, "trustZone")
	if err != nil {
		return err
	}
	if zone != "" && zone != trustZone {
		return fmt.Errorf("belongs to trust zone %s", zone)
	}
	return nil
}

var errNotString = errors.New("is not a string")

func requiredString(fields map[string]*structpb.Value, name string) (string, error) {
	v, ok := fields[name]
	if !ok {
		return "", fmt.Errorf("missing required field %s", name)
	}
	sv, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("field %s %w", name, errNotString)
	}
	if sv.StringValue == "" {
		return "", fmt.Errorf("missing required field %s", name)
	}
	return sv.StringValue, nil
}

func optionalString(fields map[string]*structpb.Value, name string) (string, error) {
	v, ok := fields[name]
	if !ok {
		return "", nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return k.StringValue, nil
	case *structpb.Value_NullValue:
		return "", nil
	default:
		return "", fmt.Errorf("field %s %w", name, errNotString)
	}
}
