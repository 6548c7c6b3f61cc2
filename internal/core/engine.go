package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/anchorwatch/sidetree-oracle/internal/chain"
	"github.com/anchorwatch/sidetree-oracle/internal/store"
	"github.com/anchorwatch/sidetree-oracle/internal/types"
)

// State is the engine's coarse lifecycle state, exposed for /info.
type State int32

const (
	StateIdle State = iota
	StateSyncing
	StateReverting
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSyncing:
		return "syncing"
	case StateReverting:
		return "reverting"
	case StateHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// EngineConfig carries the sync-loop parameters.
type EngineConfig struct {
	AnchorPrefix             []byte
	GenesisBlockNumber       uint32
	BatchSizeInBlocks        uint32
	MaxTransactionInputCount uint32
	PollPeriod               time.Duration
}

// Engine drives the chain-tracking state machine: it polls the tip,
// processes new blocks through the extractor and the proof-of-fee pipeline,
// detects forks against its cached view, and rolls the stores back when the
// upstream rewrites history.
//
// There is exactly one in-flight tick at any time; lastSeen moves only at
// tick end or at the end of a rollback.
type Engine struct {
	client   chain.Client
	txlog    store.TransactionLog
	quantile *QuantileCalculator
	sampler  *ReservoirSampler
	cfg      EngineConfig
	log      zerolog.Logger

	mu       sync.RWMutex
	lastSeen *chain.BlockRef
	state    State
}

func NewEngine(
	client chain.Client,
	txlog store.TransactionLog,
	quantile *QuantileCalculator,
	cfg EngineConfig,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		client:   client,
		txlog:    txlog,
		quantile: quantile,
		sampler:  NewReservoirSampler(quantile.cfg.SampleSize),
		cfg:      cfg,
		log:      log,
	}
}

// Run restores the cached view from the log, catches up to the tip, then
// polls until the context is cancelled. It returns on cancellation or when
// the engine halts.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.restore(); err != nil {
		return err
	}

	e.log.Info().
		Uint32("genesis", e.cfg.GenesisBlockNumber).
		Dur("poll_period", e.cfg.PollPeriod).
		Msg("starting sync loop")

	ticker := time.NewTicker(e.cfg.PollPeriod)
	defer ticker.Stop()

	for {
		if err := e.Tick(ctx); err != nil {
			if e.CurrentState() == StateHalted {
				e.log.Err(err).Msg("engine halted, restart required")
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// per-tick errors are retried on the next tick
			e.log.Err(err).Msg("tick aborted")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick performs one poll: fork check, then forward processing to the tip.
// A failure anywhere leaves lastSeen untouched so the work is naturally
// redone on the next tick.
func (e *Engine) Tick(ctx context.Context) error {
	e.setState(StateSyncing)
	defer e.setState(StateIdle)

	tip, err := e.client.TipHeight(ctx)
	if err != nil {
		return err
	}

	from := e.LastSeen()
	if from != nil {
		upstreamHash, err := e.client.BlockHash(ctx, from.Height)
		if err != nil || upstreamHash != from.Hash {
			if err != nil {
				// the cached height may be past a shortened chain
				e.log.Warn().Err(err).Uint32("height", from.Height).Msg("cached tip not resolvable upstream")
			}
			return e.revert(ctx)
		}
	}

	start := e.cfg.GenesisBlockNumber
	if from != nil {
		if from.Height >= tip {
			return nil
		}
		start = from.Height + 1
	}

	var processed *chain.BlockRef
	for h := start; h <= tip; h++ {
		ref, err := e.processBlock(ctx, h)
		if err != nil {
			e.log.Err(err).Uint32("height", h).Msg("failed processing block")
			return err
		}
		processed = ref
	}

	if processed != nil {
		e.setLastSeen(processed)
		e.log.Info().
			Uint32("height", processed.Height).
			Str("blockhash", processed.Hash).
			Msg("synced to tip")
	}
	return nil
}

func (e *Engine) processBlock(ctx context.Context, height uint32) (*chain.BlockRef, error) {
	block, err := e.client.Block(ctx, height)
	if err != nil {
		return nil, err
	}
	if block.Height != height {
		return nil, fmt.Errorf("requested block %d, got %d", height, block.Height)
	}

	e.sampler.Reset([]byte(block.Hash))

	result := ExtractAnchors(block, e.cfg.AnchorPrefix, e.cfg.MaxTransactionInputCount)
	for i := range result.Anchors {
		anchor := &result.Anchors[i]
		fee, err := TransactionFee(ctx, e.client, anchor.Tx)
		if err != nil {
			return nil, err
		}
		anchor.Record.FeePaid = fee

		err = e.txlog.Append(&anchor.Record)
		if errors.Is(err, store.DuplicateEntryErr{}) {
			// crash-replayed block, the record is already durable
			e.log.Debug().
				Uint64("txnum", anchor.Record.TransactionNumber).
				Msg("anchor already stored")
			continue
		}
		if err != nil {
			return nil, err
		}
		e.log.Info().
			Uint32("height", height).
			Uint64("txnum", anchor.Record.TransactionNumber).
			Uint64("fee_sat", fee).
			Msg("anchor recorded")
	}

	for _, txid := range result.Sampleable {
		e.sampler.Observe(txid)
	}

	if (height+1)%e.cfg.BatchSizeInBlocks == 0 {
		if err := e.closeBatch(ctx, height); err != nil {
			return nil, err
		}
	}

	return &chain.BlockRef{Height: height, Hash: block.Hash}, nil
}

// closeBatch resolves the sampled transactions' fees and hands the vector to
// the quantile calculator.
func (e *Engine) closeBatch(ctx context.Context, height uint32) error {
	txids := e.sampler.Sample()
	fees := make([]uint64, 0, len(txids))
	for _, txid := range txids {
		tx, err := e.client.RawTransaction(ctx, txid)
		if err != nil {
			return err
		}
		fee, err := TransactionFee(ctx, e.client, tx)
		if err != nil {
			return err
		}
		fees = append(fees, fee)
	}

	batchID := uint64(height) / uint64(e.cfg.BatchSizeInBlocks)
	if err := e.quantile.Add(batchID, fees); err != nil {
		return err
	}
	e.sampler.Clear()
	return nil
}

// restore derives the cached view from the last persisted record; the first
// tick verifies it against the upstream.
func (e *Engine) restore() error {
	rec, err := e.txlog.Last()
	if err != nil {
		if errors.Is(err, store.NoEntryErr{}) {
			return nil
		}
		return err
	}
	e.setLastSeen(&chain.BlockRef{Height: rec.BlockHeight, Hash: rec.BlockHash})
	e.log.Info().
		Uint32("height", rec.BlockHeight).
		Str("blockhash", rec.BlockHash).
		Msg("resuming from stored log")
	return nil
}

func (e *Engine) LastSeen() *chain.BlockRef {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.lastSeen == nil {
		return nil
	}
	ref := *e.lastSeen
	return &ref
}

func (e *Engine) CurrentState() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) setLastSeen(ref *chain.BlockRef) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastSeen = ref
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateHalted {
		return
	}
	e.state = s
}

func (e *Engine) halt() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateHalted
}

// FirstValid returns the first of the given records whose height and hash
// still match the upstream chain, or nil when none do.
func FirstValid(ctx context.Context, client chain.Client, records []types.AnchorRecord) (*types.AnchorRecord, error) {
	tip, err := client.TipHeight(ctx)
	if err != nil {
		return nil, err
	}
	for i := range records {
		rec := &records[i]
		if rec.BlockHeight > tip {
			continue
		}
		upstream, err := client.BlockHash(ctx, rec.BlockHeight)
		if err != nil {
			return nil, err
		}
		if upstream == rec.BlockHash {
			return rec, nil
		}
	}
	return nil, nil
}
