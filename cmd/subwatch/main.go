// Package main is subwatch, a terminal client that shows an account's
// subscription status and keeps it renewed.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/subledger/internal/constants"
	"github.com/jmylchreest/subledger/internal/logging"
	"github.com/jmylchreest/subledger/internal/monitor"
	"github.com/jmylchreest/subledger/internal/version"
)

type globalOptions struct {
	baseURL string
	token   string
	timeout time.Duration
	verbose bool
}

func main() {
	_ = godotenv.Load()

	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:           "subwatch",
		Short:         "Watch and renew a subledger subscription",
		Version:       version.Get().Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.baseURL, "url", envOr("SUBLEDGER_URL", "http://localhost:8080"), "API base URL")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("SUBLEDGER_TOKEN"), "Bearer token for the account")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 60*time.Second, "Per-request timeout")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Debug logging")

	rootCmd.AddCommand(statusCmd(opts))
	rootCmd.AddCommand(renewCmd(opts))
	rootCmd.AddCommand(watchCmd(opts))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func statusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the current subscription status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			resp, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}
			now := time.Now()
			fmt.Fprintln(cmd.OutOrStdout(), formatStatus(monitor.Status{
				Subscription: resp.Subscription,
				Derived:      monitor.Derive(resp.Subscription, now),
				CheckedAt:    now,
			}))
			return nil
		},
	}
}

func renewCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "renew",
		Short: "Renew now with the stored payment method",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			result, err := client.Renew(cmd.Context(), false)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatRenewal(result))
			if !result.Success {
				return errors.New("renewal did not succeed")
			}
			return nil
		},
	}
}

func watchCmd(opts *globalOptions) *cobra.Command {
	cfg := monitor.DefaultConfig()
	var once bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll status and renew automatically within the grace period",
		Long: `Polls the subscription while it is active. Once it expires, one renewal
is attempted per expiry while the account is within the grace period. Close to
the end of a paid period, renewal is checked ahead of time.

Press Ctrl+C to stop, or send SIGHUP to poll immediately (for example after
updating the payment method).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			logger := opts.logger()

			m := monitor.New(client, client, cfg, logger)
			out := cmd.OutOrStdout()
			m.OnStatus = func(st monitor.Status) {
				fmt.Fprintln(out, formatStatus(st))
			}
			m.OnPaymentFailed = func(st monitor.Status, result *monitor.RenewalResponse) {
				fmt.Fprintln(out, formatPaymentFailed(st, result))
			}

			if once {
				_, err := m.Check(cmd.Context())
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case <-hup:
						m.Refresh()
					}
				}
			}()

			logger.Info("watching subscription", "url", opts.baseURL, "poll_interval", cfg.PollInterval.String())
			if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&cfg.PollInterval, "interval", constants.StatusPollInterval, "Poll interval while active")
	cmd.Flags().DurationVar(&cfg.RenewalCheckInterval, "renewal-check-interval", constants.RenewalCheckInterval, "Minimum gap between early renewal checks")
	cmd.Flags().BoolVar(&cfg.AutoRenew, "auto-renew", true, "Retry renewal once per expiry within the grace period")
	cmd.Flags().BoolVar(&cfg.Preemptive, "preemptive", true, "Check renewal when close to expiry")
	cmd.Flags().BoolVar(&once, "once", false, "Poll once and exit")

	return cmd
}

func (o *globalOptions) client() (*monitor.HTTPClient, error) {
	if o.token == "" {
		return nil, errors.New("a bearer token is required (--token or SUBLEDGER_TOKEN)")
	}
	return monitor.NewHTTPClient(o.baseURL, o.token, o.timeout), nil
}

func (o *globalOptions) logger() *slog.Logger {
	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	return logging.New(logging.Options{Level: level, Output: os.Stderr})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
