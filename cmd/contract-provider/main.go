package main

import (
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/aspect-build/contract-provider/internal/config"
	"github.com/aspect-build/contract-provider/internal/identity"
	"github.com/aspect-build/contract-provider/internal/logx"
	"github.com/aspect-build/contract-provider/internal/metrics"
	"github.com/aspect-build/contract-provider/internal/pki"
	"github.com/aspect-build/contract-provider/internal/provider"
	"github.com/aspect-build/contract-provider/internal/repository"
	"github.com/aspect-build/contract-provider/internal/rpc"
	"github.com/aspect-build/contract-provider/internal/status"
	"github.com/aspect-build/contract-provider/internal/storage"
	"github.com/aspect-build/contract-provider/internal/storage/kubernetes"
	"github.com/aspect-build/contract-provider/internal/storage/local"
	"github.com/aspect-build/contract-provider/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute runs the command line and maps the outcome to an exit code: 0 for
// success, including a shutdown by signal, 1 for any error.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rootCmd := newRootCmd(config.Default())
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", version.BinaryName, err)
		return 1
	}
	return 0
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   version.BinaryName,
		Short: "Fetch WirePact contracts of a trust zone and persist them",
		Long: `Obtain a certificate from the trust zone PKI, download the contracts of the
trust zone from the contract repository over mTLS and store them as a PEM
bundle on disk or in a Kubernetes Secret.

Runs once unless --fetch-interval is set. Every flag can also be given as an
environment variable, e.g. --pki-address as PKI_ADDRESS.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := prepare(cmd, cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration:\n%w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}
	rootCmd.SetVersionTemplate(version.String() + "\n")
	cfg.AddFlags(rootCmd.PersistentFlags())

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch and store contracts (default command)",
		Args:  cobra.NoArgs,
		RunE:  rootCmd.RunE,
	}
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(newInspectCmd(cfg))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

// prepare resolves env fallbacks and raw flag values, then configures logging
// from the result.
func prepare(cmd *cobra.Command, cfg *config.Config) error {
	if err := config.BindEnv(cmd.Flags(), nil); err != nil {
		return fmt.Errorf("read environment:\n%w", err)
	}
	if err := cfg.Complete(); err != nil {
		return err
	}
	if err := logx.Configure(cfg.LogLevel, cfg.Debug); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	return nil
}

func openStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.Storage {
	case config.StorageKubernetes:
		restCfg, err := ctrl.GetConfig()
		if err != nil {
			return nil, fmt.Errorf("kubernetes config: %w", err)
		}
		return kubernetes.NewForConfig(restCfg, kubernetes.Options{SecretName: cfg.SecretName, Namespace: cfg.Namespace})
	default:
		return local.New(cfg.LocalPath)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logx.Infof("%s starting", version.String())

	store, err := openStorage(cfg)
	if err != nil {
		return err
	}
	logx.Infof("storing contracts in %s", store.Describe())

	pkiTarget, err := rpc.ParseAddress(cfg.PKIAddress, cfg.Insecure)
	if err != nil {
		return err
	}
	pkiConn, err := rpc.Dial(pkiTarget, rpc.DialOptions{
		APIKey:    cfg.PKIAPIKey,
		UserAgent: version.UserAgent(),
	})
	if err != nil {
		return err
	}
	defer pkiConn.Close()

	identities := identity.New(pki.NewClient(pkiConn), identity.Options{
		CommonName: cfg.CommonName,
		Dir:        cfg.IdentityDir,
	})
	id, err := identities.Obtain(ctx)
	if err != nil {
		return fmt.Errorf("obtain identity: %w", err)
	}
	logx.Infow("identity ready",
		"trustZone", id.TrustZone,
		"commonName", id.Certificate.Subject.CommonName,
		"notAfter", id.Certificate.NotAfter)

	roots, err := x509.SystemCertPool()
	if err != nil {
		logx.Warnf("system cert pool unavailable, trusting only the trust zone CA: %v", err)
		roots = x509.NewCertPool()
	}
	roots.AddCert(id.CA)

	repoTarget, err := rpc.ParseAddress(cfg.RepoAddress, cfg.Insecure)
	if err != nil {
		return err
	}
	repoConn, err := rpc.Dial(repoTarget, rpc.DialOptions{
		APIKey:               cfg.RepoAPIKey,
		RootCAs:              roots,
		GetClientCertificate: identities.GetClientCertificate,
		UserAgent:            version.UserAgent(),
	})
	if err != nil {
		return err
	}
	defer repoConn.Close()

	repo := repository.NewClient(repoConn)
	repo.Concurrency = cfg.FetchConcurrency

	m := metrics.New()
	p := provider.New(identities, repo, store, provider.Options{
		Interval:     cfg.FetchInterval,
		Jitter:       cfg.FetchJitter,
		CycleTimeout: cfg.CycleTimeout,
		IncludeCA:    cfg.IncludeCA,
		Metrics:      m,
	})

	if !cfg.Continuous() {
		return p.RunOnce(ctx)
	}

	logx.Infof("fetching every %s", cfg.FetchInterval)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Run(gctx) })
	if cfg.StatusAddress != "" {
		srv := status.New(cfg.StatusAddress, p, m.Registry)
		g.Go(func() error { return srv.Run(gctx) })
	}
	return g.Wait()
}
