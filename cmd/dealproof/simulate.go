package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"

	"github.com/colorfulnotion/dealproof/chain"
	"github.com/colorfulnotion/dealproof/merkle"
	"github.com/colorfulnotion/dealproof/prover"
	"github.com/colorfulnotion/dealproof/types"
	"github.com/colorfulnotion/dealproof/validator"
	"github.com/colorfulnotion/dealproof/window"
	"github.com/spf13/cobra"
)

type simulateOptions struct {
	size    int
	windows uint64
	freq    uint64
	seed    int64
	workers int
}

// submission is what the simulated storing party does for one window.
type submission int

const (
	submitGood submission = iota
	submitMissing
	submitCorrupt
	submitEmpty
)

func (s submission) String() string {
	switch s {
	case submitGood:
		return "good"
	case submitMissing:
		return "missing"
	case submitCorrupt:
		return "corrupt"
	default:
		return "empty"
	}
}

func newSimulateCmd() *cobra.Command {
	opts := simulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a deal end to end on an in-memory chain",
		Long: `simulate commits a random file, opens a deal on an in-memory chain, answers
its windows with a mix of good, missing, corrupt and empty proofs, and then
validates the deal.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.size, "size", 41366, "File size in bytes")
	cmd.Flags().Uint64Var(&opts.windows, "windows", 8, "Number of proof windows")
	cmd.Flags().Uint64Var(&opts.freq, "freq", 5, "Proof frequency in blocks")
	cmd.Flags().Int64Var(&opts.seed, "seed", 1, "Random seed")
	cmd.Flags().IntVar(&opts.workers, "workers", 1, "Validator workers")
	return cmd
}

func runSimulation(ctx context.Context, out io.Writer, opts simulateOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.size <= 0 || opts.freq == 0 {
		return fmt.Errorf("size and freq must be positive")
	}
	rng := rand.New(rand.NewSource(opts.seed))
	data := make([]byte, opts.size)
	rng.Read(data)
	root, outboard, err := merkle.Commit(bytes.NewReader(data))
	if err != nil {
		return err
	}

	mc := chain.NewMemChain(fmt.Sprintf("simulate-%d", opts.seed))
	deal := types.OnChainDealInfo{
		DealStartBlock:         2,
		DealLengthInBlocks:     types.BlockNum(opts.windows * opts.freq),
		ProofFrequencyInBlocks: types.BlockNum(opts.freq),
		FileSize:               uint64(len(data)),
		Blake3Checksum:         root,
	}
	deal.DealID = mc.ProposeDeal(deal)
	fmt.Fprintf(out, "deal %d: %d bytes, root %s, %d windows every %d blocks\n",
		deal.DealID, len(data), root.Hex(), opts.windows, opts.freq)

	plan := make([]submission, opts.windows)
	for w := uint64(0); w < opts.windows; w++ {
		plan[w] = submission(rng.Intn(4))
		target := window.ComputeTargetWindowStart(deal.DealStartBlock, deal.ProofFrequencyInBlocks, w)
		mc.SetHead(target)

		var proof []byte
		switch plan[w] {
		case submitMissing:
			continue
		case submitEmpty:
			proof = []byte{}
		default:
			blockHash, err := mc.GetBlockHashFromNum(ctx, target)
			if err != nil {
				return err
			}
			p, err := prover.GenerateProof(bytes.NewReader(data), bytes.NewReader(outboard), uint64(len(data)), target, blockHash)
			if err != nil {
				return err
			}
			proof = p.Data
			if plan[w] == submitCorrupt {
				proof[merkle.HeaderSize+rng.Intn(len(proof)-merkle.HeaderSize)] ^= 0x01
			}
		}
		if _, err := mc.PostProof(ctx, deal.DealID, proof, w); err != nil {
			return err
		}
	}
	mc.SetHead(deal.DealEnd() + 1)

	summary, err := validator.New(mc, validator.Config{Workers: opts.workers}).ValidateDeal(ctx, deal.DealID)
	if err != nil {
		return err
	}
	var expected uint64
	for w, r := range summary.Windows {
		fmt.Fprintf(out, "window %-3d submitted %-8s verdict %s\n", w, plan[w], r.Verdict)
		if plan[w] == submitGood {
			expected++
		}
	}
	fmt.Fprintf(out, "%s: %s, %d/%d windows proven\n", summary.Status, summary.Result, summary.SuccessCount, summary.NumWindows)
	if summary.SuccessCount != expected {
		return fmt.Errorf("expected %d valid windows, validator counted %d", expected, summary.SuccessCount)
	}
	return nil
}
