package core

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/anchorwatch/sidetree-oracle/internal/store"
	"github.com/anchorwatch/sidetree-oracle/internal/types"
)

// QuantileConfig is the transaction-fee quantile configuration.
type QuantileConfig struct {
	BatchSizeInBlocks   uint32
	WindowSizeInBatches uint32
	SampleSize          uint32
	Quantile            float64
	FeeApproximation    uint64 // satoshis per histogram bucket
}

// ProofOfFeeConfig shapes the read-side normalized fee.
type ProofOfFeeConfig struct {
	GenesisBlockNumber       uint32
	HistoricalOffsetInBlocks uint32
	QuantileScale            float64
	InitialNormalizedFee     uint64
}

type batchHistogram struct {
	batchID uint64
	freqs   map[uint64]uint64
	total   uint64
}

// QuantileCalculator maintains a sliding window of per-batch fee histograms
// and persists one quantile snapshot per batch. Window mutation is committed
// in memory only after the snapshot is durably stored, so a failed add
// leaves the calculator exactly where it was.
type QuantileCalculator struct {
	store store.QuantileStore
	cfg   QuantileConfig
	log   zerolog.Logger

	mu      sync.Mutex
	window  []batchHistogram
	rolling map[uint64]uint64
	total   uint64
	last    *uint64
}

// NewQuantileCalculator rebuilds the rolling window from the persisted tail
// snapshots, so a restarted process resumes where the store left off.
func NewQuantileCalculator(st store.QuantileStore, cfg QuantileConfig, log zerolog.Logger) (*QuantileCalculator, error) {
	q := &QuantileCalculator{
		store:   st,
		cfg:     cfg,
		log:     log,
		rolling: make(map[uint64]uint64),
	}
	if err := q.reload(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *QuantileCalculator) reload() error {
	q.window = nil
	q.rolling = make(map[uint64]uint64)
	q.total = 0
	q.last = nil

	tail, err := q.store.TailSnapshots(q.cfg.WindowSizeInBatches)
	if err != nil && !errors.Is(err, store.NoEntryErr{}) {
		return err
	}
	for i := range tail {
		hist := histogramFromSnapshot(&tail[i])
		q.window = append(q.window, hist)
		for bucket, count := range hist.freqs {
			q.rolling[bucket] += count
		}
		q.total += hist.total
		id := tail[i].BatchID
		q.last = &id
	}
	if q.last != nil {
		q.log.Info().
			Uint64("last_batch", *q.last).
			Int("window", len(q.window)).
			Msg("quantile window restored")
	}
	return nil
}

// Add ingests one batch's fee vector. Batches arrive with strictly
// increasing ids, each the successor of the last. A batch that already has a
// persisted snapshot is an unconditional no-op: the snapshot is durable, the
// rolling window was rebuilt from it, and a crashed or restarted tick may
// replay the batch from a partial block range, so the replayed fees are not
// compared against it.
func (q *QuantileCalculator) Add(batchID uint64, fees []uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, err := q.store.GetSnapshot(batchID)
	if err != nil && !errors.Is(err, store.NoEntryErr{}) {
		return err
	}
	if err == nil {
		q.log.Debug().Uint64("batch", batchID).Msg("snapshot already persisted, skipping")
		return nil
	}

	if q.last != nil && batchID != *q.last+1 {
		return fmt.Errorf("batch %d out of order, expected %d", batchID, *q.last+1)
	}

	hist := q.quantize(fees)

	// merged state is built aside and committed only after the snapshot
	// has been durably stored
	merged := make(map[uint64]uint64, len(q.rolling)+len(hist.freqs))
	for bucket, count := range q.rolling {
		merged[bucket] = count
	}
	for bucket, count := range hist.freqs {
		merged[bucket] += count
	}
	total := q.total + hist.total

	window := append(append([]batchHistogram{}, q.window...), batchHistogram{batchID: batchID, freqs: hist.freqs, total: hist.total})
	if uint32(len(window)) > q.cfg.WindowSizeInBatches {
		oldest := window[0]
		window = window[1:]
		for bucket, count := range oldest.freqs {
			if merged[bucket] <= count {
				delete(merged, bucket)
			} else {
				merged[bucket] -= count
			}
		}
		total -= oldest.total
	}

	value := windowQuantile(merged, total, q.cfg.Quantile)

	snap := &types.QuantileSnapshot{
		BatchID:       batchID,
		QuantileValue: value,
		Frequencies:   sortedFrequencies(hist.freqs),
	}
	if err := q.store.PutSnapshot(snap); err != nil {
		q.log.Err(err).Uint64("batch", batchID).Msg("could not persist quantile snapshot")
		return err
	}

	q.window = window
	q.rolling = merged
	q.total = total
	q.last = &batchID

	// the persisted sequence stays bounded by the window: evict head
	// snapshots that fell out of it. The new snapshot is already durable,
	// a failed eviction just retries with the next batch.
	if batchID+1 > uint64(q.cfg.WindowSizeInBatches) {
		cutoff := batchID + 1 - uint64(q.cfg.WindowSizeInBatches)
		if err := q.store.RemoveBatchesLT(cutoff); err != nil {
			q.log.Warn().Err(err).Uint64("cutoff", cutoff).Msg("could not evict head snapshots")
		}
	}

	q.log.Info().
		Uint64("batch", batchID).
		Uint64("quantile_sat", value).
		Int("fees", len(fees)).
		Msg("quantile snapshot stored")
	return nil
}

// Quantile returns the persisted quantile value of a batch, or NoEntryErr.
func (q *QuantileCalculator) Quantile(batchID uint64) (uint64, error) {
	snap, err := q.store.GetSnapshot(batchID)
	if err != nil {
		return 0, err
	}
	return snap.QuantileValue, nil
}

// RemoveBatchesGE drops every snapshot at or above batchID and rebuilds the
// rolling window from what remains. Invoked by rollback.
func (q *QuantileCalculator) RemoveBatchesGE(batchID uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.RemoveBatchesGE(batchID); err != nil {
		return err
	}
	return q.reload()
}

// NormalizedFee resolves the spam-resistance fee for a block: the quantile
// of the offset-adjusted batch scaled by the configured factor. Blocks whose
// adjusted batch has no snapshot yet fall back to the configured initial fee
// while still inside the bootstrap window near genesis.
func (q *QuantileCalculator) NormalizedFee(pof ProofOfFeeConfig, block uint32) (uint64, error) {
	if block < pof.GenesisBlockNumber {
		return 0, store.NoEntryErr{}
	}
	adjusted := uint32(0)
	if block > pof.HistoricalOffsetInBlocks {
		adjusted = block - pof.HistoricalOffsetInBlocks
	}
	batchID := uint64(adjusted) / uint64(q.cfg.BatchSizeInBlocks)

	value, err := q.Quantile(batchID)
	if err != nil && !errors.Is(err, store.NoEntryErr{}) {
		return 0, err
	}
	if err != nil {
		if block <= pof.GenesisBlockNumber+pof.HistoricalOffsetInBlocks+q.cfg.BatchSizeInBlocks {
			return pof.InitialNormalizedFee, nil
		}
		return 0, store.NoEntryErr{}
	}
	scaled := float64(value) * pof.QuantileScale
	return uint64(math.Round(scaled)), nil
}

func (q *QuantileCalculator) quantize(fees []uint64) batchHistogram {
	res := q.cfg.FeeApproximation
	if res == 0 {
		res = 1
	}
	freqs := make(map[uint64]uint64, len(fees))
	for _, fee := range fees {
		bucket := fee / res * res
		freqs[bucket]++
	}
	return batchHistogram{freqs: freqs, total: uint64(len(fees))}
}

// windowQuantile is the left-continuous q-quantile: the smallest bucket
// whose cumulative frequency reaches ceil(q*N).
func windowQuantile(freqs map[uint64]uint64, total uint64, quantile float64) uint64 {
	if total == 0 {
		return 0
	}
	target := uint64(math.Ceil(quantile * float64(total)))
	if target == 0 {
		target = 1
	}

	buckets := make([]uint64, 0, len(freqs))
	for bucket := range freqs {
		buckets = append(buckets, bucket)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i] < buckets[j] })

	var cum uint64
	for _, bucket := range buckets {
		cum += freqs[bucket]
		if cum >= target {
			return bucket
		}
	}
	return buckets[len(buckets)-1]
}

func histogramFromSnapshot(snap *types.QuantileSnapshot) batchHistogram {
	freqs := make(map[uint64]uint64, len(snap.Frequencies))
	var total uint64
	for _, bc := range snap.Frequencies {
		freqs[bc.Bucket] += bc.Count
		total += bc.Count
	}
	return batchHistogram{batchID: snap.BatchID, freqs: freqs, total: total}
}

func sortedFrequencies(freqs map[uint64]uint64) []types.BucketCount {
	out := make([]types.BucketCount, 0, len(freqs))
	for bucket, count := range freqs {
		out = append(out, types.BucketCount{Bucket: bucket, Count: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bucket < out[j].Bucket })
	return out
}
