// dealproof verifies storage deals: it commits files, cuts and checks slice
// proofs, answers proof windows as the storing party, and validates finished
// deals for the job runner.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/colorfulnotion/dealproof/chain"
	"github.com/colorfulnotion/dealproof/common"
	"github.com/colorfulnotion/dealproof/log"
	"github.com/colorfulnotion/dealproof/telemetry"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

type globalFlags struct {
	logLevel     string
	logModules   string
	verbosity    int
	jsonLogs     bool
	otlpEndpoint string

	rpcURL     string
	contract   string
	privateKey string
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func (g *globalFlags) initLogging() {
	switch {
	case g.verbosity > 0:
		log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, log.FromLegacyLevel(g.verbosity), true)))
	case g.jsonLogs:
		log.InitJSONLogger(g.logLevel)
	default:
		log.InitLogger(g.logLevel)
	}
	if g.logModules != "" {
		log.EnableModules(g.logModules)
	}
}

// initTracing installs the OTLP exporter when an endpoint is configured.
func (g *globalFlags) initTracing(ctx context.Context) (telemetry.ShutdownFunc, error) {
	return telemetry.InitTracer(ctx, "dealproof", g.otlpEndpoint)
}

func (g *globalFlags) ethConfig(needKey bool) (chain.EthConfig, error) {
	if g.rpcURL == "" {
		return chain.EthConfig{}, fmt.Errorf("no RPC endpoint: set --rpc or ETH_RPC_URL")
	}
	if !common.IsHexAddress(g.contract) {
		return chain.EthConfig{}, fmt.Errorf("invalid contract address %q: set --contract or CONTRACT_ADDRESS", g.contract)
	}
	if needKey && g.privateKey == "" {
		return chain.EthConfig{}, fmt.Errorf("no signing key: set --private-key or PRIVATE_KEY")
	}
	return chain.EthConfig{
		RPCURL:          g.rpcURL,
		ContractAddress: common.HexToAddress(g.contract),
		PrivateKey:      g.privateKey,
	}, nil
}

func (g *globalFlags) dial(ctx context.Context, needKey bool) (*chain.EthClient, error) {
	cfg, err := g.ethConfig(needKey)
	if err != nil {
		return nil, err
	}
	return chain.DialEthClient(ctx, cfg)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:           "dealproof",
		Short:         "Proof-of-storage commitments, slice proofs and deal validation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			g.initLogging()
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&g.logLevel, "log-level", envOr("LOG_LEVEL", "info"), "Log level (trace, debug, info, warn, error, crit)")
	pf.StringVar(&g.logModules, "log-modules", "", "Comma separated modules to enable debug output for (val_mod,prv_mod,chain_mod,api_mod,store_mod,mk_mod,otel_mod)")
	pf.IntVar(&g.verbosity, "verbosity", 0, "Legacy numeric verbosity 1-5, overrides --log-level")
	pf.BoolVar(&g.jsonLogs, "log-json", false, "Emit logs as JSON")
	pf.StringVar(&g.otlpEndpoint, "otlp-endpoint", envOr("OTLP_ENDPOINT", ""), "OTLP/HTTP trace collector (host:port or URL)")
	pf.StringVar(&g.rpcURL, "rpc", envOr("ETH_RPC_URL", ""), "Ethereum JSON-RPC endpoint")
	pf.StringVar(&g.contract, "contract", envOr("CONTRACT_ADDRESS", ""), "Deal contract address")
	pf.StringVar(&g.privateKey, "private-key", envOr("PRIVATE_KEY", ""), "Hex signing key for proof submission")

	rootCmd.AddCommand(
		newServeCmd(g),
		newValidateCmd(g),
		newCommitCmd(),
		newExtractCmd(),
		newVerifyCmd(),
		newChooseCmd(),
		newInspectCmd(),
		newProveCmd(g),
		newSimulateCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			commit := Commit
			if commit == "none" {
				commit = common.GetCommitHash()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dealproof %s (commit %s, built %s)\n", Version, commit, BuildTime)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
