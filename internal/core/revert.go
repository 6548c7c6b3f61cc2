package core

import (
	"context"

	"github.com/anchorwatch/sidetree-oracle/internal/chain"
	"github.com/anchorwatch/sidetree-oracle/internal/types"
)

// revert truncates the transaction log and the quantile state back to a
// chain prefix that agrees with the upstream at every stored height.
//
// The log is probed at exponentially spaced offsets from the tail; the first
// probe whose (height, hash) still matches upstream is the survivor. The log
// is cut right after the survivor's block, and every batch covering a later
// block is dropped, so the batches that remain were observed in full on the
// surviving prefix. A persistence failure mid-rollback halts the engine: a
// partially reverted store must not be synced forward.
func (e *Engine) revert(ctx context.Context) error {
	e.setState(StateReverting)
	e.log.Warn().Msg("chain reorganization detected, reverting")

	if err := e.revertLoop(ctx); err != nil {
		e.halt()
		return err
	}
	return nil
}

func (e *Engine) revertLoop(ctx context.Context) error {
	for {
		count, err := e.txlog.Count()
		if err != nil {
			return err
		}
		if count == 0 {
			// nothing left to compare against, resume from genesis
			if err := e.quantile.RemoveBatchesGE(0); err != nil {
				return err
			}
			e.sampler.Clear()
			e.setLastSeen(nil)
			e.log.Warn().Msg("log exhausted during rollback, resuming from genesis")
			return nil
		}

		probes, err := e.txlog.ExponentiallySpaced()
		if err != nil {
			return err
		}

		survivor, err := e.findSurvivor(ctx, probes)
		if err != nil {
			return err
		}
		if survivor != nil {
			return e.truncateAfter(survivor)
		}

		// no probe survives: drop everything from the deepest probe's
		// height on and search again further back
		oldest := probes[len(probes)-1]
		cutoff, err := types.ConstructTxNumber(oldest.BlockHeight, 0)
		if err != nil {
			return err
		}
		if err := e.txlog.RemoveLaterThan(cutoff - 1); err != nil {
			return err
		}
		e.log.Warn().
			Uint32("height", oldest.BlockHeight).
			Msg("no surviving probe, cutting deeper")
	}
}

func (e *Engine) findSurvivor(ctx context.Context, probes []types.AnchorRecord) (*types.AnchorRecord, error) {
	tip, err := e.client.TipHeight(ctx)
	if err != nil {
		return nil, err
	}
	for i := range probes {
		probe := &probes[i]
		if probe.BlockHeight > tip {
			continue
		}
		upstream, err := e.client.BlockHash(ctx, probe.BlockHeight)
		if err != nil {
			return nil, err
		}
		if upstream == probe.BlockHash {
			return probe, nil
		}
	}
	return nil, nil
}

func (e *Engine) truncateAfter(survivor *types.AnchorRecord) error {
	// everything after the survivor goes: stale records between the
	// survivor and the next batch start would otherwise shadow their
	// replacements on resync
	revertToBlock := survivor.BlockHeight + 1

	firstRemoved, err := types.ConstructTxNumber(revertToBlock, 0)
	if err != nil {
		return err
	}
	if err := e.txlog.RemoveLaterThan(firstRemoved - 1); err != nil {
		return err
	}

	e.sampler.Clear()

	// drop every batch that covers a block after the survivor; the batches
	// that remain were observed in full on the surviving prefix
	batchID := uint64(revertToBlock) / uint64(e.cfg.BatchSizeInBlocks)
	if err := e.quantile.RemoveBatchesGE(batchID); err != nil {
		return err
	}

	e.setLastSeen(&chain.BlockRef{Height: survivor.BlockHeight, Hash: survivor.BlockHash})
	e.log.Info().
		Uint32("survivor", survivor.BlockHeight).
		Uint32("revert_to", revertToBlock).
		Msg("rollback complete")
	return nil
}
