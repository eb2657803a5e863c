package main

import (
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aspect-build/contract-provider/internal/config"
	"github.com/aspect-build/contract-provider/internal/contract"
)

type storedSet struct {
	Storage    string           `json:"storage" yaml:"storage"`
	Revision   string           `json:"revision,omitempty" yaml:"revision,omitempty"`
	Digest     string           `json:"digest" yaml:"digest"`
	Contracts  []storedContract `json:"contracts" yaml:"contracts"`
	Unreadable []string         `json:"unreadable,omitempty" yaml:"unreadable,omitempty"`
}

type storedContract struct {
	ID        string    `json:"id" yaml:"id"`
	TrustZone string    `json:"trustZone,omitempty" yaml:"trustZone,omitempty"`
	Subject   string    `json:"subject,omitempty" yaml:"subject,omitempty"`
	Issuer    string    `json:"issuer,omitempty" yaml:"issuer,omitempty"`
	NotAfter  time.Time `json:"notAfter,omitempty" yaml:"notAfter,omitempty"`
}

func newInspectCmd(cfg *config.Config) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the contracts currently held by the configured storage",
		Long: `Read the stored contract set without contacting the PKI or the repository.
Only the storage flags are used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := prepare(cmd, cfg); err != nil {
				return err
			}
			if err := cfg.ValidateStorage(); err != nil {
				return fmt.Errorf("invalid configuration:\n%w", err)
			}
			store, err := openStorage(cfg)
			if err != nil {
				return err
			}
			set, err := store.Read(cmd.Context())
			if err != nil {
				return err
			}
			return printSet(cmd.OutOrStdout(), output, describeSet(store.Describe(), set))
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text|json|yaml")
	return cmd
}

func describeSet(storage string, set *contract.Set) storedSet {
	out := storedSet{
		Storage:    storage,
		Revision:   set.Revision,
		Digest:     set.Digest(),
		Contracts:  []storedContract{},
		Unreadable: set.Unreadable,
	}
	for _, c := range set.Contracts() {
		sc := storedContract{ID: c.ID, TrustZone: c.TrustZone}
		if block, _ := pem.Decode(c.Certificate); block != nil {
			if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
				sc.Subject = cert.Subject.String()
				sc.Issuer = cert.Issuer.String()
				sc.NotAfter = cert.NotAfter.UTC()
			}
		}
		out.Contracts = append(out.Contracts, sc)
	}
	return out
}

func printSet(w io.Writer, format string, set storedSet) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(set)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(set); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
		fmt.Fprintf(w, "storage:  %s\n", set.Storage)
		if set.Revision != "" {
			fmt.Fprintf(w, "revision: %s\n", set.Revision)
		}
		fmt.Fprintf(w, "digest:   %s\n", set.Digest)
		fmt.Fprintf(w, "contracts: %d\n", len(set.Contracts))
		for _, u := range set.Unreadable {
			fmt.Fprintf(w, "unreadable: %s\n", u)
		}
		fmt.Fprintln(w)
		if len(set.Contracts) == 0 {
			return nil
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSUBJECT\tNOT AFTER")
		for _, c := range set.Contracts {
			notAfter := "-"
			if !c.NotAfter.IsZero() {
				notAfter = c.NotAfter.Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", c.ID, c.Subject, notAfter)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q: expected text, json or yaml", format)
	}
}
