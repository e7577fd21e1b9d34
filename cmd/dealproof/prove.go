package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/colorfulnotion/dealproof/common"
	"github.com/colorfulnotion/dealproof/dealerrors"
	"github.com/colorfulnotion/dealproof/log"
	"github.com/colorfulnotion/dealproof/prover"
	"github.com/colorfulnotion/dealproof/storage"
	"github.com/colorfulnotion/dealproof/types"
	"github.com/spf13/cobra"
)

func newProveCmd(g *globalFlags) *cobra.Command {
	cfg := prover.DefaultConfig()
	var (
		dbPath   string
		dealArg  string
		filePath string
		once     bool
		devIndex int
	)
	cmd := &cobra.Command{
		Use:   "prove",
		Short: "Answer proof windows for locally stored deals",
		Long: `prove keeps a local record of the deals this node stores and submits a
slice proof for each active deal once per window. Use --deal and --file to
register a new deal before the loop starts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (dealArg == "") != (filePath == "") {
				return fmt.Errorf("--deal and --file go together")
			}
			if devIndex >= 0 {
				_, g.privateKey = common.GetEVMDevAccount(devIndex)
			}
			ctx, stop := signalContext()
			defer stop()

			shutdown, err := g.initTracing(ctx)
			if err != nil {
				return err
			}
			defer shutdown(context.Background())

			client, err := g.dial(ctx, true)
			if err != nil {
				return err
			}
			defer client.Close()

			store, err := storage.NewDealStore(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			p := prover.New(client, store)
			if dealArg != "" {
				dealID, err := types.ParseDealID(dealArg)
				if err != nil {
					return err
				}
				_, err = store.GetDeal(dealID)
				switch {
				case err == nil:
					log.Info(log.ProverMonitoring, "deal already registered", "deal", dealID)
				case errors.Is(err, dealerrors.ErrDealNotRegistered):
					local, err := p.Register(ctx, dealID, filePath)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "registered deal %d (%s, outboard %s)\n", dealID, local.Status, local.ObaoCid)
				default:
					return err
				}
			}
			if once {
				return p.Tick(ctx)
			}
			return p.Run(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "dealproof-db", "Local deal database directory")
	cmd.Flags().StringVar(&dealArg, "deal", "", "Register this deal id before proving")
	cmd.Flags().StringVar(&filePath, "file", "", "File stored for --deal")
	cmd.Flags().DurationVar(&cfg.PollInterval, "poll", cfg.PollInterval, "Chain head polling interval")
	cmd.Flags().BoolVar(&once, "once", false, "Run a single round and exit")
	cmd.Flags().IntVar(&devIndex, "dev-account", -1, "Sign with this Hardhat/Anvil test account instead of --private-key")
	return cmd
}
