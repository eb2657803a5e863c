package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/aspect-build/contract-provider/internal/contract"
	"github.com/aspect-build/contract-provider/internal/testpki"
)

func sampleSet(t *testing.T) storedSet {
	t.Helper()
	ca := testpki.MustCA(t, "zone")
	set, err := contract.NewSet(
		contract.Contract{ID: "billing", TrustZone: "zone-1", Certificate: ca.MustLeaf(t, "billing")},
		contract.Contract{ID: "api", TrustZone: "zone-1", Certificate: ca.MustLeaf(t, "api")},
	)
	require.NoError(t, err)
	set.Revision = "r7"
	return describeSet("file /tmp/contracts.pem", set)
}

func TestDescribeSet(t *testing.T) {
	s := sampleSet(t)
	require.Len(t, s.Contracts, 2)
	require.Equal(t, "api", s.Contracts[0].ID)
	require.Contains(t, s.Contracts[0].Subject, "CN=api")
	require.Contains(t, s.Contracts[0].Issuer, "CN=zone")
	require.False(t, s.Contracts[0].NotAfter.IsZero())
	require.Len(t, s.Digest, 64)
}

func TestPrintSetFormats(t *testing.T) {
	s := sampleSet(t)

	var buf bytes.Buffer
	require.NoError(t, printSet(&buf, "json", s))
	var fromJSON storedSet
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fromJSON))
	require.Equal(t, "r7", fromJSON.Revision)
	require.Len(t, fromJSON.Contracts, 2)

	buf.Reset()
	require.NoError(t, printSet(&buf, "yaml", s))
	var fromYAML map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &fromYAML))
	require.Equal(t, s.Digest, fromYAML["digest"])

	buf.Reset()
	require.NoError(t, printSet(&buf, "text", s))
	out := buf.String()
	require.Contains(t, out, "revision: r7")
	require.Contains(t, out, "contracts: 2")
	require.True(t, strings.Index(out, "api") < strings.Index(out, "billing"), "contracts listed in id order")

	require.Error(t, printSet(&buf, "xml", s))
}

func TestPrintEmptySet(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printSet(&buf, "json", describeSet("memory", contract.Empty())))
	require.Contains(t, buf.String(), `"contracts": []`)
}

func TestPrintUnreadableEntries(t *testing.T) {
	set := contract.Empty()
	set.Unreadable = []string{"README"}
	var buf bytes.Buffer
	require.NoError(t, printSet(&buf, "text", describeSet("secret wirepact/wirepact-contracts", set)))
	require.Contains(t, buf.String(), "unreadable: README")
}
