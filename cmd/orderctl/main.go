// Command orderctl is the operator CLI for the order API: it inspects and
// moves orders, triggers reconciliation and drives a full checkout through
// the payment coordinator.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vanshika/checkout/backend/internal/coordinator"
)

type globalOptions struct {
	server  string
	token   string
	timeout time.Duration
}

func main() {
	opts := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:           "orderctl",
		Short:         "Operate the checkout order API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.server, "server", envOr("ORDERCTL_SERVER", "http://localhost:8080"), "Base URL of the order API")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("ORDERCTL_TOKEN"), "Bearer token (see `orderctl token`)")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "Overall deadline for the command")

	rootCmd.AddCommand(orderCmd(opts))
	rootCmd.AddCommand(sweepCmd(opts))
	rootCmd.AddCommand(checkoutCmd(opts))
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (o *globalOptions) backend() *coordinator.HTTPBackend {
	return coordinator.NewHTTPBackend(o.server, o.token, nil)
}

func sweepCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one reconciliation sweep on the server (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd, opts.timeout)
			defer cancel()
			report, err := opts.backend().Sweep(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
