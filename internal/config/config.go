// Package config holds the provider configuration: flag registration, the
// environment fallback for every flag, and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"k8s.io/apimachinery/pkg/util/validation"

	"github.com/aspect-build/contract-provider/internal/identity"
	"github.com/aspect-build/contract-provider/internal/logx"
	"github.com/aspect-build/contract-provider/internal/repository"
	"github.com/aspect-build/contract-provider/internal/rpc"
	"github.com/aspect-build/contract-provider/internal/status"
	"github.com/aspect-build/contract-provider/internal/storage/kubernetes"
	"github.com/aspect-build/contract-provider/internal/storage/local"
)

type StorageKind string

const (
	StorageLocal      StorageKind = "local"
	StorageKubernetes StorageKind = "kubernetes"
)

const (
	DefaultFetchJitter  = 0.1
	DefaultCycleTimeout = 2 * time.Minute
)

// Config is the fully resolved provider configuration.
type Config struct {
	Storage    StorageKind
	SecretName string
	Namespace  string
	LocalPath  string

	CommonName  string
	PKIAddress  string
	PKIAPIKey   string
	RepoAddress string
	RepoAPIKey  string
	Insecure    bool

	// FetchInterval is zero in one-shot mode.
	FetchInterval    time.Duration
	FetchJitter      float64
	FetchConcurrency int
	CycleTimeout     time.Duration

	IdentityDir   string
	IncludeCA     bool
	StatusAddress string

	Debug    bool
	LogLevel string

	storage       string
	fetchInterval string
}

// Default returns the configuration used when no flag or env var is set.
func Default() *Config {
	return &Config{
		Storage:          StorageLocal,
		SecretName:       kubernetes.DefaultSecretName,
		LocalPath:        local.DefaultPath,
		CommonName:       identity.DefaultCommonName,
		FetchJitter:      DefaultFetchJitter,
		FetchConcurrency: repository.DefaultConcurrency,
		CycleTimeout:     DefaultCycleTimeout,
		IncludeCA:        true,
		StatusAddress:    status.DefaultAddress,
		storage:          string(StorageLocal),
	}
}

// AddFlags registers the provider flags on fs, bound to c.
func (c *Config) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.storage, "storage", c.storage, "Storage adapter: local|kubernetes")
	fs.StringVar(&c.SecretName, "secret-name", c.SecretName, "Secret that receives the contracts (kubernetes storage)")
	fs.StringVar(&c.Namespace, "namespace", c.Namespace, "Namespace of the secret; detected when empty (kubernetes storage)")
	fs.StringVar(&c.LocalPath, "local-path", c.LocalPath, "PEM bundle that receives the contracts (local storage)")

	fs.StringVar(&c.CommonName, "common-name", c.CommonName, "Common name of the provider certificate")
	fs.StringVar(&c.PKIAddress, "pki-address", c.PKIAddress, "Address of the trust zone PKI (https://host:port)")
	fs.StringVar(&c.PKIAPIKey, "pki-api-key", c.PKIAPIKey, "API key sent to the PKI")
	fs.StringVar(&c.RepoAddress, "repo-address", c.RepoAddress, "Address of the contract repository (https://host:port)")
	fs.StringVar(&c.RepoAPIKey, "repo-api-key", c.RepoAPIKey, "API key sent to the contract repository")
	fs.BoolVar(&c.Insecure, "insecure", c.Insecure, "Allow plaintext connections to the PKI and the repository")

	fs.StringVar(&c.fetchInterval, "fetch-interval", c.fetchInterval, "Fetch continuously at this interval (Go duration or seconds); fetch once when empty")
	fs.Float64Var(&c.FetchJitter, "fetch-jitter", c.FetchJitter, "Random extra wait as a fraction of the interval")
	fs.IntVar(&c.FetchConcurrency, "fetch-concurrency", c.FetchConcurrency, "Parallel contract downloads")
	fs.DurationVar(&c.CycleTimeout, "cycle-timeout", c.CycleTimeout, "Upper bound for one fetch cycle")

	fs.StringVar(&c.IdentityDir, "identity-dir", c.IdentityDir, "Keep the provider identity in this directory across restarts")
	fs.BoolVar(&c.IncludeCA, "include-ca", c.IncludeCA, "Publish the trust zone CA alongside the contracts")
	fs.StringVar(&c.StatusAddress, "status-address", c.StatusAddress, "Listen address for health and metrics in continuous mode; empty disables")

	fs.BoolVarP(&c.Debug, "debug", "d", c.Debug, "Enable verbose debug logs (same as --log-level debug)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level: debug|info|warn|error (or "+logx.EnvLevel+")")
}

// EnvName returns the environment variable backing a flag: --pki-address
// maps to PKI_ADDRESS.
func EnvName(flag string) string {
	return strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

// noEnv lists flags without an environment fallback.
var noEnv = map[string]bool{"help": true}

// BindEnv fills every flag the user did not set from its environment variable.
func BindEnv(fs *pflag.FlagSet, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed || noEnv[f.Name] {
			return
		}
		v, ok := lookup(EnvName(f.Name))
		if !ok {
			return
		}
		if err := fs.Set(f.Name, v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvName(f.Name), err))
			return
		}
		logx.Debugf("config: --%s taken from %s", f.Name, EnvName(f.Name))
	})
	return errors.Join(errs...)
}

// ParseInterval accepts a Go duration ("90s", "5m") or a bare number of
// seconds. An empty value means one-shot mode and yields zero.
func ParseInterval(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	var d time.Duration
	if secs, err := strconv.ParseUint(v, 10, 32); err == nil {
		d = time.Duration(secs) * time.Second
	} else {
		d, err = time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid fetch interval %q: expected a duration like 30s or a number of seconds", v)
		}
	}
	if d <= 0 {
		return 0, fmt.Errorf("fetch interval %q must be positive", v)
	}
	return d, nil
}

// Complete resolves the raw flag values. It must run after flag parsing and
// BindEnv.
func (c *Config) Complete() error {
	c.Storage = StorageKind(strings.ToLower(strings.TrimSpace(c.storage)))
	d, err := ParseInterval(c.fetchInterval)
	if err != nil {
		return err
	}
	c.FetchInterval = d
	return nil
}

// Continuous reports whether the provider keeps running.
func (c *Config) Continuous() bool { return c.FetchInterval > 0 }

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	errs := c.storageProblems()

	if strings.TrimSpace(c.CommonName) == "" {
		errs = append(errs, errors.New("--common-name must not be empty"))
	}
	if c.PKIAddress == "" {
		errs = append(errs, errors.New("--pki-address is required (or set PKI_ADDRESS)"))
	} else if _, err := rpc.ParseAddress(c.PKIAddress, c.Insecure); err != nil {
		errs = append(errs, fmt.Errorf("--pki-address: %w", err))
	}
	if c.RepoAddress == "" {
		errs = append(errs, errors.New("--repo-address is required (or set REPO_ADDRESS)"))
	} else if _, err := rpc.ParseAddress(c.RepoAddress, c.Insecure); err != nil {
		errs = append(errs, fmt.Errorf("--repo-address: %w", err))
	}

	if c.FetchJitter < 0 || c.FetchJitter > 1 {
		errs = append(errs, fmt.Errorf("--fetch-jitter %v must be between 0 and 1", c.FetchJitter))
	}
	if c.FetchConcurrency < 1 {
		errs = append(errs, fmt.Errorf("--fetch-concurrency %d must be at least 1", c.FetchConcurrency))
	}
	if c.CycleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("--cycle-timeout %v must be positive", c.CycleTimeout))
	}
	if c.LogLevel != "" {
		if _, err := logx.ParseLevel(c.LogLevel); err != nil {
			errs = append(errs, fmt.Errorf("--log-level: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ValidateStorage checks only the storage settings, for commands that never
// contact the PKI or the repository.
func (c *Config) ValidateStorage() error {
	return errors.Join(c.storageProblems()...)
}

func (c *Config) storageProblems() []error {
	var errs []error
	switch c.Storage {
	case StorageLocal:
		if strings.TrimSpace(c.LocalPath) == "" {
			errs = append(errs, errors.New("--local-path must not be empty"))
		}
	case StorageKubernetes:
		if msgs := validation.IsDNS1123Subdomain(c.SecretName); len(msgs) > 0 {
			errs = append(errs, fmt.Errorf("--secret-name %q: %s", c.SecretName, strings.Join(msgs, "; ")))
		}
		if c.Namespace != "" {
			if msgs := validation.IsDNS1123Label(c.Namespace); len(msgs) > 0 {
				errs = append(errs, fmt.Errorf("--namespace %q: %s", c.Namespace, strings.Join(msgs, "; ")))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("--storage %q: expected local or kubernetes", c.Storage))
	}
	return errs
}
