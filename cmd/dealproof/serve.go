package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/colorfulnotion/dealproof/api"
	"github.com/colorfulnotion/dealproof/log"
	"github.com/colorfulnotion/dealproof/types"
	"github.com/colorfulnotion/dealproof/validator"
	"github.com/spf13/cobra"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	cfg := api.DefaultConfig()
	var workers int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve deal validation over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			shutdown, err := g.initTracing(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					log.Warn(log.TelemetryMonitoring, "trace flush", "err", err)
				}
			}()

			client, err := g.dial(ctx, false)
			if err != nil {
				return err
			}
			defer client.Close()

			v := validator.New(client, validator.Config{Workers: workers})
			return api.NewServer(v, cfg).ListenAndServe(ctx)
		},
	}
	cmd.Flags().StringVar(&cfg.Addr, "addr", envOr("LISTEN_ADDR", cfg.Addr), "Listen address")
	cmd.Flags().DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "Upper bound on one validation")
	cmd.Flags().DurationVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "HTTP read timeout")
	cmd.Flags().DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "HTTP write timeout")
	cmd.Flags().IntVar(&workers, "workers", 1, "Windows verified in parallel per request")
	return cmd
}

func newValidateCmd(g *globalFlags) *cobra.Command {
	var (
		workers     int
		showWindows bool
		timeout     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "validate <deal-id>",
		Short: "Validate one deal against the chain and print the summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dealID, err := types.ParseDealID(args[0])
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			shutdown, err := g.initTracing(ctx)
			if err != nil {
				return err
			}
			defer shutdown(context.Background())

			client, err := g.dial(ctx, false)
			if err != nil {
				return err
			}
			defer client.Close()

			summary, err := validator.New(client, validator.Config{Workers: workers}).ValidateDeal(ctx, dealID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if showWindows {
				printWindows(out, summary.Windows)
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 1, "Windows verified in parallel")
	cmd.Flags().BoolVar(&showWindows, "windows", false, "Print the verdict of every window")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Give up after this long (0 = no limit)")
	return cmd
}

func printWindows(w io.Writer, results []types.WindowResult) {
	for _, r := range results {
		chunk := "-"
		if r.Verdict != types.WindowMissing && r.ChunkLength > 0 {
			chunk = fmt.Sprintf("[%d,+%d)", r.ChunkOffset, r.ChunkLength)
		}
		fmt.Fprintf(w, "window %-4d target %-8d proof %-8d chunk %-16s %s\n",
			r.WindowNum, r.TargetWindowStart, r.ProofBlock, chunk, r.Verdict)
	}
}
