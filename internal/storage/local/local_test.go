package local

import (
	"context"
	"crypto/x509"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/aspect-build/contract-provider/internal/contract"
	"github.com/aspect-build/contract-provider/internal/storage"
	"github.com/aspect-build/contract-provider/internal/testpki"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "data", "contracts.pem"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func testSet(t *testing.T, ca *testpki.CA, ids ...string) *contract.Set {
	t.Helper()
	var contracts []contract.Contract
	for _, id := range ids {
		contracts = append(contracts, contract.Contract{ID: id, TrustZone: "zone-1", Certificate: ca.MustLeaf(t, id)})
	}
	s, err := contract.NewSet(contracts...)
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	return s
}

func TestReadMissingFileIsEmpty(t *testing.T) {
	s := newTestStorage(t)
	set, err := s.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if set.Len() != 0 {
		t.Fatalf("expected empty set, got %d", set.Len())
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	ca := testpki.MustCA(t, "zone")
	s := newTestStorage(t)
	want := testSet(t, ca, "b", "a", "c")

	if err := s.Write(context.Background(), want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !got.Equal(want) {
		t.Fatalf("round trip mismatch:\n%s", cmp.Diff(want.Data(), got.Data()))
	}
	for _, c := range got.Contracts() {
		if c.TrustZone != "zone-1" {
			t.Fatalf("contract %s lost its trust zone: %q", c.ID, c.TrustZone)
		}
	}

	info, err := os.Stat(s.Path())
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != fileMode {
		t.Fatalf("file mode = %v", info.Mode().Perm())
	}
}

// The bundle must stay loadable as a plain CA bundle.
func TestBundleIsCertPool(t *testing.T) {
	ca := testpki.MustCA(t, "zone")
	s := newTestStorage(t)
	if err := s.Write(context.Background(), testSet(t, ca, "a", "b")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		t.Fatal("expected bundle to load into a cert pool")
	}
	if !strings.HasPrefix(string(data), contractMarker+"a\n") {
		t.Fatalf("expected bundle to start with the first contract marker, got %q", string(data[:20]))
	}
}

func TestWriteIsStable(t *testing.T) {
	ca := testpki.MustCA(t, "zone")
	set := testSet(t, ca, "x", "y")
	if string(Encode(set)) != string(Encode(set)) {
		t.Fatal("encoding is not deterministic")
	}
}

func TestWriteFailureKeepsPreviousFile(t *testing.T) {
	ca := testpki.MustCA(t, "zone")
	old := testSet(t, ca, "a", "b")
	next := testSet(t, ca, "a", "b", "c")

	hooks := map[string]func(){
		"sync fails": func() {
			syncFile = func(f *os.File) error {
				// Simulate a crash after half the payload reached the temp file.
				f.Truncate(10)
				return errors.New("disk on fire")
			}
		},
		"rename fails": func() {
			rename = func(string, string) error { return errors.New("rename interrupted") }
		},
		"temp file not creatable": func() {
			createTemp = func(string, string) (*os.File, error) { return nil, os.ErrPermission }
		},
	}

	for name, inject := range hooks {
		t.Run(name, func(t *testing.T) {
			s := newTestStorage(t)
			if err := s.Write(context.Background(), old); err != nil {
				t.Fatalf("initial Write: %v", err)
			}

			inject()
			t.Cleanup(func() {
				createTemp = os.CreateTemp
				syncFile = (*os.File).Sync
				rename = os.Rename
			})

			err := s.Write(context.Background(), next)
			if err == nil {
				t.Fatal("expected write error")
			}
			if _, ok := storage.KindOf(err); !ok {
				t.Fatalf("expected storage error, got %T", err)
			}

			got, err := s.Read(context.Background())
			if err != nil {
				t.Fatalf("Read after failed write: %v", err)
			}
			if !got.Equal(old) {
				t.Fatalf("previous set changed:\n%s", cmp.Diff(old.Data(), got.Data()))
			}

			entries, _ := os.ReadDir(filepath.Dir(s.Path()))
			if len(entries) != 1 {
				var names []string
				for _, e := range entries {
					names = append(names, e.Name())
				}
				t.Fatalf("expected only the bundle to remain, got %v", names)
			}
		})
	}
}

func TestPermissionDeniedIsForbidden(t *testing.T) {
	createTemp = func(string, string) (*os.File, error) {
		return nil, &os.PathError{Op: "open", Path: "x", Err: os.ErrPermission}
	}
	t.Cleanup(func() { createTemp = os.CreateTemp })

	s := newTestStorage(t)
	err := s.Write(context.Background(), contract.Empty())
	if k, ok := storage.KindOf(err); !ok || k != storage.Forbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestDecodeRejectsCorruptBundle(t *testing.T) {
	ca := testpki.MustCA(t, "zone")
	cert := string(ca.MustLeaf(t, "a"))

	cases := map[string]string{
		"stray content":        "hello\n" + contractMarker + "a\n" + cert,
		"duplicate":            contractMarker + "a\n" + cert + contractMarker + "a\n" + cert,
		"half written":         contractMarker + "a\n" + cert[:len(cert)/2],
		"empty section":        contractMarker + "a\n" + contractMarker + "b\n" + cert,
		"misplaced trust zone": contractMarker + "a\n" + cert + trustZoneMarker + "z\n",
	}
	for name, data := range cases {
		if _, err := Decode([]byte(data)); err == nil {
			t.Fatalf("%s: expected decode error", name)
		}
	}

	set, err := Decode([]byte("\n\n"))
	if err != nil || set.Len() != 0 {
		t.Fatalf("blank file should decode to empty set, got %v, %v", set, err)
	}
}

func TestCorruptBundleIsReplaced(t *testing.T) {
	ca := testpki.MustCA(t, "zone")
	s := newTestStorage(t)
	cert := string(ca.MustLeaf(t, "a"))
	if err := os.WriteFile(s.Path(), []byte(contractMarker+"a\n"+cert[:len(cert)/2]), 0o644); err != nil {
		t.Fatal(err)
	}

	current, err := s.Read(context.Background())
	if err != nil {
		t.Fatalf("Read of a corrupt bundle: %v", err)
	}
	if current.Len() != 0 || len(current.Unreadable) != 1 {
		t.Fatalf("expected an empty set flagged unreadable, got len=%d unreadable=%v", current.Len(), current.Unreadable)
	}

	next := testSet(t, ca, "a")
	if err := s.Write(context.Background(), next); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !got.Equal(next) || len(got.Unreadable) != 0 {
		t.Fatalf("bundle not repaired:\n%s", cmp.Diff(next.Data(), got.Data()))
	}
}
