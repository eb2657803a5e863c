package repository

import (
	"context"
	"net"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/aspect-build/contract-provider/internal/rpc"
	"github.com/aspect-build/contract-provider/internal/testpki"
)

const zone = "zone-1"

func startRepo(t *testing.T, srv ContractRepositoryServer, apiKey, clientKey string) *Client {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	s := grpc.NewServer(grpc.UnaryInterceptor(rpc.APIKeyInterceptor(apiKey)))
	RegisterContractRepositoryServer(s, srv)
	go func() {
		_ = s.Serve(lis)
	}()
	t.Cleanup(s.Stop)

	cc, err := rpc.Dial(rpc.Target{HostPort: "bufnet:0", Plaintext: true}, rpc.DialOptions{
		APIKey: clientKey,
		Dialer: func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) },
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	c := NewClient(cc)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestFetchContracts(t *testing.T) {
	ca := testpki.MustCA(t, "zone")
	srv := NewServer(zone)
	want := map[string][]byte{}
	for _, id := range []string{"alpha", "beta", "gamma", "delta", "epsilon", "zeta"} {
		cert := ca.MustLeaf(t, id)
		srv.Put(id, cert)
		want[id] = cert
	}
	srv.SetRevision("42")

	c := startRepo(t, srv, "repo-key", "repo-key")
	c.Concurrency = 2
	set, err := c.FetchContracts(context.Background(), zone)
	if err != nil {
		t.Fatalf("FetchContracts: %v", err)
	}
	if diff := cmp.Diff(want, set.Data()); diff != "" {
		t.Fatalf("contracts mismatch (-want +got):\n%s", diff)
	}
	if set.Revision != "42" {
		t.Fatalf("revision = %q", set.Revision)
	}
	if set.FetchedAt.IsZero() {
		t.Fatal("FetchedAt not set")
	}
	for _, ct := range set.Contracts() {
		if ct.TrustZone != zone {
			t.Fatalf("contract %s trust zone = %q", ct.ID, ct.TrustZone)
		}
	}
}

func TestFetchEmptyZone(t *testing.T) {
	c := startRepo(t, NewServer(zone), "", "")
	set, err := c.FetchContracts(context.Background(), zone)
	if err != nil {
		t.Fatalf("FetchContracts: %v", err)
	}
	if set.Len() != 0 {
		t.Fatalf("expected empty set, got %d", set.Len())
	}
}

func TestFetchUnauthorized(t *testing.T) {
	c := startRepo(t, NewServer(zone), "repo-key", "wrong")
	_, err := c.FetchContracts(context.Background(), zone)
	if k, ok := KindOf(err); !ok || k != Unauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestFetchUnreachable(t *testing.T) {
	lis := bufconn.Listen(1024)
	lis.Close()
	cc, err := rpc.Dial(rpc.Target{HostPort: "bufnet:0", Plaintext: true}, rpc.DialOptions{
		Dialer: func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) },
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	c := NewClient(cc)
	defer c.Close()

	_, err = c.FetchContracts(context.Background(), zone)
	if k, ok := KindOf(err); !ok || k != Unreachable {
		t.Fatalf("expected unreachable, got %v", err)
	}
}

// badServer answers with a fixed list and per-id replies.
type badServer struct {
	UnimplementedContractRepositoryServer
	list    map[string]any
	replies map[string]map[string]any
}

func (b *badServer) ListContracts(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error) {
	return structpb.NewStruct(b.list)
}

func (b *badServer) GetContract(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return structpb.NewStruct(b.replies[in.GetFields()["id"].GetStringValue()])
}

func TestFetchRejectsMalformed(t *testing.T) {
	ca := testpki.MustCA(t, "zone")
	good := string(ca.MustLeaf(t, "a"))
	entry := func(ids ...string) map[string]any {
		var list []any
		for _, id := range ids {
			list = append(list, map[string]any{"id": id})
		}
		return map[string]any{"contracts": list}
	}
	ok := map[string]any{"id": "a", "certificate": good}

	cases := map[string]*badServer{
		"missing contracts field": {list: map[string]any{}},
		"entry without id":        {list: map[string]any{"contracts": []any{map[string]any{"trustZone": zone}}}},
		"entry not an object":     {list: map[string]any{"contracts": []any{"a"}}},
		"duplicate id":            {list: entry("a", "a"), replies: map[string]map[string]any{"a": ok}},
		"foreign trust zone in list": {list: map[string]any{"contracts": []any{
			map[string]any{"id": "a", "trustZone": "other"},
		}}, replies: map[string]map[string]any{"a": ok}},
		"missing certificate": {list: entry("a"), replies: map[string]map[string]any{"a": {"id": "a"}}},
		"id mismatch":         {list: entry("a"), replies: map[string]map[string]any{"a": {"id": "b", "certificate": good}}},
		"not pem":             {list: entry("a"), replies: map[string]map[string]any{"a": {"id": "a", "certificate": "hello"}}},
		"unparsable der": {list: entry("a"), replies: map[string]map[string]any{"a": {
			"id": "a", "certificate": "-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n",
		}}},
		"foreign trust zone in contract": {list: entry("a"), replies: map[string]map[string]any{"a": {
			"id": "a", "certificate": good, "trustZone": "other",
		}}},
		"invalid id": {list: entry("a/b"), replies: map[string]map[string]any{"a/b": {"id": "a/b", "certificate": good}}},
		"one bad among good": {list: entry("a", "b"), replies: map[string]map[string]any{
			"a": ok,
			"b": {"id": "b", "certificate": 7},
		}},
	}

	for name, srv := range cases {
		t.Run(name, func(t *testing.T) {
			c := startRepo(t, srv, "", "")
			set, err := c.FetchContracts(context.Background(), zone)
			if set != nil {
				t.Fatalf("expected no set, got %d contracts", set.Len())
			}
			k, ok := KindOf(err)
			if !ok || k != MalformedResponse {
				t.Fatalf("expected malformed response, got %v", err)
			}
		})
	}
}

func TestFetchListedButMissing(t *testing.T) {
	ca := testpki.MustCA(t, "zone")
	srv := NewServer(zone)
	srv.Put("a", ca.MustLeaf(t, "a"))
	srv.SetListHook(func(reply *structpb.Struct) {
		list := reply.Fields["contracts"].GetListValue()
		ghost, _ := structpb.NewValue(map[string]any{"id": "ghost"})
		list.Values = append(list.Values, ghost)
	})
	c := startRepo(t, srv, "", "")
	_, err := c.FetchContracts(context.Background(), zone)
	if err == nil || !strings.Contains(err.Error(), "ghost") {
		t.Fatalf("expected error naming the missing contract, got %v", err)
	}
}
