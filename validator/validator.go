// Package validator decides how many of a finished deal's proof windows were
// answered with a valid slice proof.
package validator

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/colorfulnotion/dealproof/chain"
	"github.com/colorfulnotion/dealproof/dealerrors"
	"github.com/colorfulnotion/dealproof/log"
	"github.com/colorfulnotion/dealproof/merkle"
	"github.com/colorfulnotion/dealproof/types"
	"github.com/colorfulnotion/dealproof/window"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Config tunes a Validator. Workers bounds how many windows are checked at
// once; 0 or 1 checks them one after another.
type Config struct {
	Workers int
}

type Validator struct {
	reader chain.Reader
	cfg    Config
	tracer trace.Tracer
}

func New(reader chain.Reader, cfg Config) *Validator {
	return &Validator{
		reader: reader,
		cfg:    cfg,
		tracer: otel.Tracer("dealproof/validator"),
	}
}

// ValidateDeal runs the verification for dealID. Ongoing deals and deals
// with no windows are reported through the summary, not as errors. Any
// failure talking to the chain aborts the request.
func (v *Validator) ValidateDeal(ctx context.Context, dealID types.DealID) (summary *types.DealProofSummary, err error) {
	ctx, span := v.tracer.Start(ctx, "ValidateDeal", trace.WithAttributes(attribute.Int64("deal_id", int64(dealID))))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, dealerrors.GetErrorName(err))
		} else {
			span.SetAttributes(
				attribute.String("result", summary.Result),
				attribute.Int64("success_count", int64(summary.SuccessCount)),
				attribute.Int64("num_windows", int64(summary.NumWindows)),
			)
		}
		span.End()
	}()

	deal, err := v.reader.GetOffer(ctx, dealID)
	if err != nil {
		return nil, fmt.Errorf("get offer %d: %w", dealID, err)
	}
	head, err := v.reader.GetLatestBlockNum(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest block: %w", err)
	}
	if !window.DealOver(head, deal) && !deal.Cancelled() {
		log.Info(log.ValidatorMonitoring, "deal is ongoing", "deal", dealID, "head", head, "end", deal.DealEnd())
		return &types.DealProofSummary{
			DealID:  dealID,
			Status:  types.StatusFailure,
			Result:  types.ResultDealOngoing,
			Outcome: types.OutcomeDealOngoing,
		}, nil
	}

	numWindows, err := window.NumWindows(window.EffectiveLength(deal), deal.ProofFrequencyInBlocks)
	if err != nil {
		return nil, fmt.Errorf("deal %d: %w", dealID, err)
	}
	if numWindows == 0 {
		log.Info(log.ValidatorMonitoring, "deal has no windows", "deal", dealID, "cancelled", deal.CancellationBlock)
		return &types.DealProofSummary{
			DealID:  dealID,
			Status:  types.StatusFailure,
			Result:  types.ResultNoWindows,
			Outcome: types.OutcomeNoWindows,
		}, nil
	}

	results, err := v.checkWindows(ctx, deal, numWindows)
	if err != nil {
		return nil, err
	}
	summary = &types.DealProofSummary{
		DealID:     dealID,
		NumWindows: numWindows,
		Status:     types.StatusSuccess,
		Result:     types.ResultOk,
		Outcome:    types.OutcomeVerified,
		Windows:    results,
	}
	for _, r := range results {
		if r.Verdict == types.WindowValid {
			summary.SuccessCount++
		}
		log.Debug(log.ValidatorMonitoring, "window", "deal", dealID, "window", r.WindowNum, "target", r.TargetWindowStart, "verdict", r.Verdict.String())
	}
	log.Info(log.ValidatorMonitoring, "deal validated", "deal", dealID, "success", summary.SuccessCount, "windows", numWindows)
	return summary, nil
}

// checkWindows resolves every window. Results are indexed by window number so
// the tally does not depend on completion order.
func (v *Validator) checkWindows(ctx context.Context, deal *types.OnChainDealInfo, numWindows uint64) ([]types.WindowResult, error) {
	results := make([]types.WindowResult, numWindows)
	if v.cfg.Workers <= 1 {
		for w := uint64(0); w < numWindows; w++ {
			r, err := v.checkWindow(ctx, deal, w)
			if err != nil {
				return nil, err
			}
			results[w] = r
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.cfg.Workers)
	for w := uint64(0); w < numWindows; w++ {
		w := w
		g.Go(func() error {
			r, err := v.checkWindow(gctx, deal, w)
			if err != nil {
				return err
			}
			results[w] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (v *Validator) checkWindow(ctx context.Context, deal *types.OnChainDealInfo, windowNum uint64) (types.WindowResult, error) {
	target := window.ComputeTargetWindowStart(deal.DealStartBlock, deal.ProofFrequencyInBlocks, windowNum)
	result := types.WindowResult{WindowNum: windowNum, TargetWindowStart: target, Verdict: types.WindowMissing}

	ctx, span := v.tracer.Start(ctx, "checkWindow", trace.WithAttributes(
		attribute.Int64("window", int64(windowNum)),
		attribute.Int64("target", int64(target)),
	))
	defer span.End()

	blockHash, err := v.reader.GetBlockHashFromNum(ctx, target)
	if err != nil {
		return result, fmt.Errorf("window %d: block hash %d: %w", windowNum, target, err)
	}
	proofBlock, ok, err := v.reader.GetProofBlockNumFromWindow(ctx, deal.DealID, windowNum)
	if err != nil {
		return result, fmt.Errorf("window %d: proof block: %w", windowNum, err)
	}
	if !ok {
		span.SetAttributes(attribute.String("verdict", result.Verdict.String()))
		return result, nil
	}
	result.ProofBlock = proofBlock

	proof, ok, err := v.reader.GetProofFromLogs(ctx, proofBlock, deal.DealID)
	switch {
	case errors.Is(err, dealerrors.ErrMalformedProofLog):
		log.Warn(log.ValidatorMonitoring, "malformed proof log", "deal", deal.DealID, "window", windowNum, "block", proofBlock, "err", err)
		result.Verdict = types.WindowInvalid
		span.SetAttributes(attribute.String("verdict", result.Verdict.String()))
		return result, nil
	case err != nil:
		return result, fmt.Errorf("window %d: proof logs of block %d: %w", windowNum, proofBlock, err)
	case !ok:
		span.SetAttributes(attribute.String("verdict", result.Verdict.String()))
		return result, nil
	}

	sel, err := window.ComputeRandomBlockChoiceFromHash(blockHash, deal.FileSize)
	if err != nil {
		return result, fmt.Errorf("window %d: %w", windowNum, err)
	}
	result.ChunkOffset, result.ChunkLength = sel.Offset, sel.Length

	valid, err := merkle.VerifySlice(bytes.NewReader(proof), deal.Blake3Checksum, sel.Offset, sel.Length)
	if err != nil {
		return result, fmt.Errorf("window %d: %w", windowNum, err)
	}
	if valid {
		result.Verdict = types.WindowValid
	} else {
		result.Verdict = types.WindowInvalid
		log.Debug(log.ValidatorMonitoring, "proof rejected", "deal", deal.DealID, "window", windowNum, "block", proofBlock, "chunk", sel.String(), "bytes", len(proof))
	}
	span.SetAttributes(attribute.String("verdict", result.Verdict.String()))
	return result, nil
}
