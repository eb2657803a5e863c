package version

import (
	"fmt"
	"runtime"
)

// Set via -ldflags at build time:
//
//	go build -ldflags "-X github.com/aspect-build/contract-provider/internal/version.Version=0.1.0
//	  -X github.com/aspect-build/contract-provider/internal/version.GitCommit=abc1234"
var (
	Version   = "dev"
	GitCommit = "unknown"
)

const BinaryName = "contract-provider"

// String returns a human-readable version string.
func String() string {
	return fmt.Sprintf("%s %s (commit=%s, go=%s, %s/%s)",
		BinaryName, Version, GitCommit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// UserAgent identifies the provider to the PKI and the repository.
func UserAgent() string {
	return BinaryName + "/" + Version
}
