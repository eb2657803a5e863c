package local

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/aspect-build/contract-provider/internal/contract"
	"github.com/aspect-build/contract-provider/internal/fsutil"
	"github.com/aspect-build/contract-provider/internal/logx"
	"github.com/aspect-build/contract-provider/internal/storage"
)

const (
	DefaultPath = "./data/contracts.pem"

	contractMarker  = "# contract: "
	trustZoneMarker = "# trust-zone: "
	fileMode        = 0o644
)

// internal hooks for failure injection in tests
var (
	createTemp = os.CreateTemp
	syncFile   = (*os.File).Sync
	rename     = os.Rename
)

// Storage keeps the contract set in a single PEM bundle on disk.
type Storage struct {
	path string
}

var _ storage.Storage = (*Storage)(nil)

// New returns a file-backed storage and ensures the parent directory exists.
func New(path string) (*Storage, error) {
	if path == "" {
		path = DefaultPath
	}
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, classify("init", fmt.Errorf("create data directory: %w", err))
	}
	logx.Debugf("storage.local path=%s", path)
	return &Storage{path: path}, nil
}

func (s *Storage) Describe() string { return "file " + s.path }

// Path returns the bundle location.
func (s *Storage) Path() string { return s.path }

// Read parses the bundle. A missing file is an empty set; a bundle that does
// not parse is an empty set with its path in Set.Unreadable.
func (s *Storage) Read(_ context.Context) (*contract.Set, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return contract.Empty(), nil
		}
		return nil, classify("read", err)
	}
	set, err := Decode(data)
	if err != nil {
		logx.Warnf("storage.local bundle=%s does not parse, next write replaces it: %v", s.path, err)
		set = contract.Empty()
		set.Unreadable = []string{s.path}
	}
	return set, nil
}

// Write replaces the bundle atomically: temp file in the same directory,
// fsync, rename over the old file, fsync the directory.
func (s *Storage) Write(_ context.Context, set *contract.Set) error {
	w := fsutil.AtomicWriter{CreateTemp: createTemp, Sync: syncFile, Rename: rename, SyncDir: true}
	if err := w.WriteFile(s.path, Encode(set), fileMode); err != nil {
		return classify("write", err)
	}
	return nil
}

func classify(op string, err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return storage.Errorf(storage.Forbidden, op, err)
	}
	return storage.Errorf(storage.Unreachable, op, err)
}

// Encode renders the set as a PEM bundle, one marked section per contract in id
// order. Consumers can load it as a plain CA bundle.
func Encode(set *contract.Set) []byte {
	var buf bytes.Buffer
	for _, c := range set.Contracts() {
		buf.WriteString(contractMarker + c.ID + "\n")
		if c.TrustZone != "" {
			buf.WriteString(trustZoneMarker + c.TrustZone + "\n")
		}
		buf.Write(c.Certificate)
	}
	return buf.Bytes()
}

// Decode parses a bundle written by Encode.
func Decode(data []byte) (*contract.Set, error) {
	var (
		contracts []contract.Contract
		current   *contract.Contract
		body      bytes.Buffer
		lineNum   int
	)
	flush := func() {
		if current != nil {
			current.Certificate = append([]byte(nil), body.Bytes()...)
			contracts = append(contracts, *current)
		}
		body.Reset()
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, contractMarker):
			flush()
			current = &contract.Contract{ID: strings.TrimSpace(strings.TrimPrefix(line, contractMarker))}
		case strings.HasPrefix(line, trustZoneMarker):
			if current == nil || body.Len() > 0 {
				return nil, fmt.Errorf("line %d: trust zone marker outside a contract header", lineNum)
			}
			current.TrustZone = strings.TrimSpace(strings.TrimPrefix(line, trustZoneMarker))
		default:
			if current == nil {
				if strings.TrimSpace(line) == "" {
					continue
				}
				return nil, fmt.Errorf("line %d: content before first contract marker", lineNum)
			}
			body.WriteString(line)
			body.WriteByte('\n')
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan bundle: %w", err)
	}
	flush()

	return contract.NewSet(contracts...)
}
