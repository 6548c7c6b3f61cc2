package dblevel

import (
	"encoding/binary"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/anchorwatch/sidetree-oracle/internal/logging"
	"github.com/anchorwatch/sidetree-oracle/internal/store"
	"github.com/anchorwatch/sidetree-oracle/internal/types"
)

// QuantileStore keeps one snapshot per batch, keyed by big-endian batch id.
type QuantileStore struct {
	db *leveldb.DB
}

func NewQuantileStore(db *leveldb.DB) *QuantileStore {
	return &QuantileStore{db: db}
}

func (s *QuantileStore) PutSnapshot(snap *types.QuantileSnapshot) error {
	return insertSimple(s.db, snap)
}

func (s *QuantileStore) GetSnapshot(batchID uint64) (*types.QuantileSnapshot, error) {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, batchID)
	var snap types.QuantileSnapshot
	if err := retrieveByKey(s.db, key, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *QuantileStore) LastSnapshot() (*types.QuantileSnapshot, error) {
	var snap types.QuantileSnapshot
	if err := retrieveLast(s.db, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *QuantileStore) TailSnapshots(n uint32) ([]types.QuantileSnapshot, error) {
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()

	// newest first, reversed before returning
	var tail []types.QuantileSnapshot
	for ok := iter.Last(); ok && uint32(len(tail)) < n; ok = iter.Prev() {
		var snap types.QuantileSnapshot
		if err := snap.DeSerialiseKey(iter.Key()); err != nil {
			logging.L.Err(err).Msg("error deserialising key")
			return nil, err
		}
		if err := snap.DeSerialiseData(iter.Value()); err != nil {
			logging.L.Err(err).Msg("error deserialising data")
			return nil, err
		}
		tail = append(tail, snap)
	}
	if err := iter.Error(); err != nil {
		logging.L.Err(err).Msg("error iterating over db")
		return nil, err
	}

	for i, j := 0, len(tail)-1; i < j; i, j = i+1, j-1 {
		tail[i], tail[j] = tail[j], tail[i]
	}
	return tail, nil
}

func (s *QuantileStore) RemoveBatchesGE(batchID uint64) error {
	from := make([]byte, 8)
	binary.BigEndian.PutUint64(from, batchID)
	return deleteFromKey(s.db, from)
}

func (s *QuantileStore) RemoveBatchesLT(batchID uint64) error {
	to := make([]byte, 8)
	binary.BigEndian.PutUint64(to, batchID)
	return deleteBeforeKey(s.db, to)
}

var _ store.QuantileStore = (*QuantileStore)(nil)
