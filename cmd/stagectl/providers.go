package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Inspect staging providers",
}

var providersHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show cached or freshly probed health for every provider",
	RunE:  runProvidersHealth,
}

var providersClearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Drop all cached provider health so the next request re-probes",
	RunE:  runProvidersClearCache,
}

func init() {
	rootCmd.AddCommand(providersCmd)
	providersCmd.AddCommand(providersHealthCmd, providersClearCacheCmd)
}

func runProvidersHealth(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	health := a.Service.ProviderHealth(cmd.Context())
	out := cmd.OutOrStdout()
	if wantJSON(cmd) {
		return writeJSON(out, health)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tUSABLE\tREASON\tCHECKED")
	for _, h := range health {
		reason := "-"
		if !h.Usable() {
			reason = h.Reason()
		}
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\n", h.Provider, h.Usable(), reason, h.CheckedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func runProvidersClearCache(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Service.ClearHealthCache(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "provider health cache cleared")
	return nil
}
