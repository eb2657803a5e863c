package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, args []string, env map[string]string) (*Config, error) {
	t.Helper()
	c := Default()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	c.AddFlags(fs)
	require.NoError(t, fs.Parse(args))
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	if err := BindEnv(fs, lookup); err != nil {
		return nil, err
	}
	if err := c.Complete(); err != nil {
		return nil, err
	}
	return c, nil
}

var required = []string{"--pki-address", "https://pki:8443", "--repo-address", "https://repo:8443"}

func TestDefaults(t *testing.T) {
	c, err := parse(t, required, nil)
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	require.Equal(t, StorageLocal, c.Storage)
	require.Equal(t, "./data/contracts.pem", c.LocalPath)
	require.Equal(t, "wirepact-contracts", c.SecretName)
	require.Equal(t, "wirepact-contract-provider", c.CommonName)
	require.Equal(t, 0.1, c.FetchJitter)
	require.Equal(t, 4, c.FetchConcurrency)
	require.Equal(t, 2*time.Minute, c.CycleTimeout)
	require.Equal(t, ":8081", c.StatusAddress)
	require.True(t, c.IncludeCA)
	require.False(t, c.Continuous())
}

func TestEnvFallback(t *testing.T) {
	env := map[string]string{
		"PKI_ADDRESS":    "https://from-env:1",
		"REPO_ADDRESS":   "https://repo-env:2",
		"REPO_API_KEY":   "k",
		"STORAGE":        "Kubernetes",
		"FETCH_INTERVAL": "30",
		"INCLUDE_CA":     "false",
		"DEBUG":          "true",
	}
	c, err := parse(t, []string{"--pki-address", "https://from-flag:1"}, env)
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	require.Equal(t, "https://from-flag:1", c.PKIAddress, "explicit flag wins")
	require.Equal(t, "https://repo-env:2", c.RepoAddress)
	require.Equal(t, "k", c.RepoAPIKey)
	require.Equal(t, StorageKubernetes, c.Storage)
	require.Equal(t, 30*time.Second, c.FetchInterval)
	require.False(t, c.IncludeCA)
	require.True(t, c.Debug, "DEBUG reaches --debug")
	require.True(t, c.Continuous())
}

func TestLogLevelFromEnv(t *testing.T) {
	c, err := parse(t, required, map[string]string{"LOG_LEVEL": "warn"})
	require.NoError(t, err)
	require.Equal(t, "warn", c.LogLevel)

	c, err = parse(t, append([]string{"--log-level", "error"}, required...), map[string]string{"LOG_LEVEL": "warn"})
	require.NoError(t, err)
	require.Equal(t, "error", c.LogLevel, "explicit flag wins")
}

func TestEnvFallbackInvalidValue(t *testing.T) {
	_, err := parse(t, required, map[string]string{"FETCH_CONCURRENCY": "many"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "FETCH_CONCURRENCY")
}

func TestEnvName(t *testing.T) {
	require.Equal(t, "PKI_API_KEY", EnvName("pki-api-key"))
	require.Equal(t, "STATUS_ADDRESS", EnvName("status-address"))
}

func TestParseInterval(t *testing.T) {
	cases := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"60", time.Minute, false},
		{"1m30s", 90 * time.Second, false},
		{"250ms", 250 * time.Millisecond, false},
		{"0", 0, true},
		{"-5s", 0, true},
		{"soon", 0, true},
	}
	for _, c := range cases {
		got, err := ParseInterval(c.in)
		if c.wantErr {
			require.Error(t, err, c.in)
			continue
		}
		require.NoError(t, err, c.in)
		require.Equal(t, c.want, got, c.in)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]struct {
		args []string
		want string
	}{
		"missing pki":       {[]string{"--repo-address", "https://r:1"}, "--pki-address is required"},
		"missing repo":      {[]string{"--pki-address", "https://p:1"}, "--repo-address is required"},
		"plaintext refused": {[]string{"--pki-address", "http://p:1", "--repo-address", "https://r:1"}, "use --insecure"},
		"unknown storage":   {append([]string{"--storage", "s3"}, required...), "expected local or kubernetes"},
		"bad secret name":   {append([]string{"--storage", "kubernetes", "--secret-name", "Not_Valid"}, required...), "--secret-name"},
		"bad jitter":        {append([]string{"--fetch-jitter", "1.5"}, required...), "--fetch-jitter"},
		"bad concurrency":   {append([]string{"--fetch-concurrency", "0"}, required...), "--fetch-concurrency"},
		"bad cycle timeout": {append([]string{"--cycle-timeout", "0s"}, required...), "--cycle-timeout"},
		"bad log level":     {append([]string{"--log-level", "loud"}, required...), "--log-level"},
		"empty common name": {append([]string{"--common-name", " "}, required...), "--common-name"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c, err := parse(t, tc.args, nil)
			require.NoError(t, err)
			err = c.Validate()
			require.Error(t, err)
			require.True(t, strings.Contains(err.Error(), tc.want), "error %q should mention %q", err, tc.want)
		})
	}
}

func TestValidateInsecureAllowsPlaintext(t *testing.T) {
	c, err := parse(t, []string{"--insecure", "--pki-address", "http://p:1", "--repo-address", "http://r:1"}, nil)
	require.NoError(t, err)
	require.NoError(t, c.Validate())
}

func TestValidateReportsAllProblems(t *testing.T) {
	c, err := parse(t, []string{"--fetch-concurrency", "0"}, nil)
	require.NoError(t, err)
	err = c.Validate()
	require.Error(t, err)
	for _, want := range []string{"--pki-address", "--repo-address", "--fetch-concurrency"} {
		require.Contains(t, err.Error(), want)
	}
}

func TestValidateStorageIgnoresAddresses(t *testing.T) {
	c, err := parse(t, []string{"--storage", "kubernetes"}, nil)
	require.NoError(t, err)
	require.NoError(t, c.ValidateStorage())
	require.Error(t, c.Validate())

	c, err = parse(t, []string{"--storage", "ftp"}, nil)
	require.NoError(t, err)
	require.ErrorContains(t, c.ValidateStorage(), "expected local or kubernetes")
}
