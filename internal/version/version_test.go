package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	s := String()
	if !strings.HasPrefix(s, BinaryName+" "+Version) {
		t.Fatalf("unexpected version string %q", s)
	}
	if !strings.Contains(s, "commit="+GitCommit) {
		t.Fatalf("missing commit in %q", s)
	}
}

func TestUserAgent(t *testing.T) {
	if got := UserAgent(); got != "contract-provider/dev" {
		t.Fatalf("UserAgent = %q", got)
	}
}
