package store

import "github.com/anchorwatch/sidetree-oracle/internal/types"

// TransactionLog is the ordered, persistent store of anchor records, keyed by
// transaction number. Append and RemoveLaterThan must be durable before they
// return.
type TransactionLog interface {
	// Append stores one record. A record with the same transaction number
	// already present yields DuplicateEntryErr.
	Append(rec *types.AnchorRecord) error

	// Last returns the record with the highest transaction number, or
	// NoEntryErr when the log is empty.
	Last() (*types.AnchorRecord, error)

	// LaterThan returns up to limit records with a transaction number
	// strictly greater than since, ascending. A nil since means from the
	// beginning.
	LaterThan(since *uint64, limit uint32) ([]types.AnchorRecord, error)

	Count() (uint64, error)

	// ExponentiallySpaced returns the records at offsets 0, 1, 2, 4, 8, ...
	// from the tail, one per offset that exists, newest first.
	ExponentiallySpaced() ([]types.AnchorRecord, error)

	// RemoveLaterThan deletes every record with a transaction number
	// strictly greater than txnum.
	RemoveLaterThan(txnum uint64) error
}

// QuantileStore persists per-batch quantile snapshots. Snapshots form a
// contiguous ascending batch-id sequence; they are appended at the tail and
// truncated from the tail on rollback.
type QuantileStore interface {
	// PutSnapshot stores one snapshot durably.
	PutSnapshot(snap *types.QuantileSnapshot) error

	// GetSnapshot returns the snapshot for batchID, or NoEntryErr.
	GetSnapshot(batchID uint64) (*types.QuantileSnapshot, error)

	// LastSnapshot returns the snapshot with the highest batch id, or
	// NoEntryErr when none exist.
	LastSnapshot() (*types.QuantileSnapshot, error)

	// TailSnapshots returns the last n snapshots in ascending batch order.
	TailSnapshots(n uint32) ([]types.QuantileSnapshot, error)

	// RemoveBatchesGE deletes every snapshot with batch id >= batchID.
	RemoveBatchesGE(batchID uint64) error

	// RemoveBatchesLT deletes every snapshot with batch id < batchID.
	// Used for head eviction once a batch falls out of the window.
	RemoveBatchesLT(batchID uint64) error
}
