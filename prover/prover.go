// Package prover is the storing party's side of a deal: it commits the file,
// checks the commitment against the deal, and answers each window with a
// slice proof.
package prover

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/colorfulnotion/dealproof/chain"
	"github.com/colorfulnotion/dealproof/common"
	"github.com/colorfulnotion/dealproof/dealerrors"
	"github.com/colorfulnotion/dealproof/log"
	"github.com/colorfulnotion/dealproof/merkle"
	"github.com/colorfulnotion/dealproof/storage"
	"github.com/colorfulnotion/dealproof/types"
	"github.com/colorfulnotion/dealproof/window"
	"github.com/ipfs/go-cid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// GenerateProof selects the chunk for a window from its block hash and
// extracts the slice proof for it.
func GenerateProof(data, outboard io.ReaderAt, fileLength uint64, blockNumber types.BlockNum, blockHash common.Hash) (*types.Proof, error) {
	sel, err := window.ComputeRandomBlockChoiceFromHash(blockHash, fileLength)
	if err != nil {
		return nil, err
	}
	proof, err := merkle.ExtractSlice(data, outboard, sel.Offset, sel.Length)
	if err != nil {
		return nil, fmt.Errorf("block %d %s: %w", blockNumber, sel, err)
	}
	return &types.Proof{BlockNumber: blockNumber, Data: proof}, nil
}

type Prover struct {
	client chain.Client
	store  *storage.DealStore
	tracer trace.Tracer
}

func New(client chain.Client, store *storage.DealStore) *Prover {
	return &Prover{
		client: client,
		store:  store,
		tracer: otel.Tracer("dealproof/prover"),
	}
}

// Register commits filePath and records it as the content of dealID. The
// local root and size must match what the deal committed to on chain.
func (p *Prover) Register(ctx context.Context, dealID types.DealID, filePath string) (*types.LocalDealInfo, error) {
	deal, err := p.client.GetOffer(ctx, dealID)
	if err != nil {
		return nil, err
	}
	root, outboard, err := merkle.CommitFile(filePath)
	if err != nil {
		return nil, err
	}
	size, _ := merkle.ParseOutboardHeader(outboard)
	if root != deal.Blake3Checksum || size != deal.FileSize {
		return nil, fmt.Errorf("%w: deal %d root %s size %d, local root %s size %d",
			dealerrors.ErrChecksumMismatch, dealID, deal.Blake3Checksum.Hex(), deal.FileSize, root.Hex(), size)
	}
	obaoCid, err := p.store.PutOutboard(outboard)
	if err != nil {
		return nil, err
	}
	head, err := p.client.GetLatestBlockNum(ctx)
	if err != nil {
		return nil, err
	}
	local := &types.LocalDealInfo{
		Onchain:  *deal,
		ObaoCid:  obaoCid.String(),
		FilePath: filePath,
		Status:   statusAt(head, deal),
	}
	if err := p.store.PutDeal(local); err != nil {
		return nil, err
	}
	log.Info(log.ProverMonitoring, "deal registered", "deal", dealID, "file", filePath, "root", root.String_short(), "obao", local.ObaoCid, "status", local.Status)
	return local, nil
}

// ProveWindow answers windowNum for a registered deal and returns the block
// the proof was included in.
func (p *Prover) ProveWindow(ctx context.Context, dealID types.DealID, windowNum uint64) (block types.BlockNum, err error) {
	ctx, span := p.tracer.Start(ctx, "ProveWindow", trace.WithAttributes(
		attribute.Int64("deal_id", int64(dealID)),
		attribute.Int64("window", int64(windowNum)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	local, err := p.store.GetDeal(dealID)
	if err != nil {
		return 0, err
	}
	deal := &local.Onchain
	numWindows, err := window.NumWindows(window.EffectiveLength(deal), deal.ProofFrequencyInBlocks)
	if err != nil {
		return 0, err
	}
	if windowNum >= numWindows {
		return 0, fmt.Errorf("%w: deal %d window %d of %d", dealerrors.ErrWindowClosed, dealID, windowNum, numWindows)
	}

	target := window.ComputeTargetWindowStart(deal.DealStartBlock, deal.ProofFrequencyInBlocks, windowNum)
	blockHash, err := p.client.GetBlockHashFromNum(ctx, target)
	if err != nil {
		return 0, fmt.Errorf("window %d block %d: %w", windowNum, target, err)
	}
	outboard, err := p.loadOutboard(local)
	if err != nil {
		return 0, err
	}
	proof, err := p.generateFromFile(local.FilePath, outboard, deal.FileSize, target, blockHash)
	if err != nil {
		return 0, err
	}

	block, err = p.client.PostProof(ctx, dealID, proof.Data, windowNum)
	if err != nil {
		return 0, fmt.Errorf("post proof deal %d window %d: %w", dealID, windowNum, err)
	}
	local.LastSubmission = block
	local.LastWindow = &windowNum
	if err := p.store.PutDeal(local); err != nil {
		return 0, err
	}
	log.Info(log.ProverMonitoring, "window proved", "deal", dealID, "window", windowNum, "target", target, "block", block, "bytes", len(proof.Data))
	return block, nil
}

func (p *Prover) loadOutboard(local *types.LocalDealInfo) ([]byte, error) {
	c, err := cid.Decode(local.ObaoCid)
	if err != nil {
		return nil, fmt.Errorf("deal %d obao cid %q: %w", local.Onchain.DealID, local.ObaoCid, err)
	}
	return p.store.GetOutboard(c)
}

func (p *Prover) generateFromFile(path string, outboard []byte, fileLength uint64, target types.BlockNum, blockHash common.Hash) (*types.Proof, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open content: %w", err)
	}
	defer f.Close()
	return GenerateProof(f, bytes.NewReader(outboard), fileLength, target, blockHash)
}

// Tick refreshes every local deal against the chain and proves the current
// window of each active deal that has not answered it yet. A failing deal is
// logged and does not stop the others; the first error is returned.
func (p *Prover) Tick(ctx context.Context) error {
	head, err := p.client.GetLatestBlockNum(ctx)
	if err != nil {
		return err
	}
	deals, err := p.store.ListDeals()
	if err != nil {
		return err
	}
	var firstErr error
	for _, local := range deals {
		if err := p.tickDeal(ctx, head, local); err != nil {
			log.Warn(log.ProverMonitoring, "tick failed", "deal", local.Onchain.DealID, "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (p *Prover) tickDeal(ctx context.Context, head types.BlockNum, local *types.LocalDealInfo) error {
	if local.Status == types.DealDone {
		return nil
	}
	dealID := local.Onchain.DealID
	deal, err := p.client.GetOffer(ctx, dealID)
	if err != nil {
		return err
	}
	status := statusAt(head, deal)
	if status != local.Status || deal.CancellationBlock != local.Onchain.CancellationBlock {
		log.Debug(log.ProverMonitoring, "deal status", "deal", dealID, "from", local.Status, "to", status)
		local.Status = status
		local.Onchain.CancellationBlock = deal.CancellationBlock
		if err := p.store.PutDeal(local); err != nil {
			return err
		}
	}
	if status != types.DealActive {
		return nil
	}
	current, err := window.CurrentWindow(deal.DealStartBlock, deal.ProofFrequencyInBlocks, head)
	if err != nil {
		return err
	}
	if local.LastWindow != nil && *local.LastWindow >= current {
		return nil
	}
	numWindows, err := window.NumWindows(window.EffectiveLength(deal), deal.ProofFrequencyInBlocks)
	if err != nil {
		return err
	}
	if current >= numWindows {
		return nil
	}
	_, err = p.ProveWindow(ctx, dealID, current)
	return err
}

// MarkDone records that a deal has been finalized; Tick leaves it alone afterwards.
func (p *Prover) MarkDone(dealID types.DealID) error {
	local, err := p.store.GetDeal(dealID)
	if err != nil {
		return err
	}
	local.Status = types.DealDone
	return p.store.PutDeal(local)
}

// statusAt classifies a deal relative to head from the storing party's view.
func statusAt(head types.BlockNum, deal *types.OnChainDealInfo) types.DealStatus {
	switch {
	case deal.Cancelled():
		return types.DealCancelled
	case head < deal.DealStartBlock:
		return types.DealFuture
	case window.DealOver(head, deal):
		return types.DealCompleteAwaitingFinalization
	default:
		return types.DealActive
	}
}

// Config drives Run.
type Config struct {
	// PollInterval is how often the chain head is checked.
	PollInterval time.Duration
}

func DefaultConfig() Config {
	return Config{PollInterval: 12 * time.Second}
}

// Run ticks every cfg.PollInterval until ctx is cancelled. Tick errors are
// logged and retried on the next round.
func (p *Prover) Run(ctx context.Context, cfg Config) error {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	for {
		if err := p.Tick(ctx); err != nil && ctx.Err() == nil {
			log.Warn(log.ProverMonitoring, "tick", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
