package dbpebble

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/cockroachdb/pebble"

	"github.com/anchorwatch/sidetree-oracle/internal/logging"
	"github.com/anchorwatch/sidetree-oracle/internal/store"
	"github.com/anchorwatch/sidetree-oracle/internal/types"
)

// Prefix Keys "K"
const (
	KAnchor   = 0x01
	KSnapshot = 0x02
)

const sizeKey = 1 + 8 // prefix byte + be64

func be64(u uint64, b []byte) { binary.BigEndian.PutUint64(b, u) }

func makeKey(prefix byte, id uint64) []byte {
	k := make([]byte, sizeKey)
	k[0] = prefix
	be64(id, k[1:])
	return k
}

func prefixBounds(prefix byte) ([]byte, []byte) {
	return []byte{prefix}, []byte{prefix + 1}
}

// Store implements both persistence contracts on one pebble database, with
// a 1-byte key prefix per collection.
type Store struct {
	DB *pebble.DB
}

func NewStore(db *pebble.DB) *Store {
	return &Store{DB: db}
}

func OpenDB(dbPath string) (*pebble.DB, error) {
	opts := (&pebble.Options{}).EnsureDefaults()
	opts.BytesPerSync = 1 << 20
	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, err
	}
	return db, err
}

func (s *Store) set(key []byte, pair types.Pair) error {
	value, err := pair.SerialiseData()
	if err != nil {
		logging.L.Err(err).Msg("error serialising data")
		return err
	}
	if err := s.DB.Set(key, value, pebble.Sync); err != nil {
		logging.L.Err(err).Msg("insert failed")
		return err
	}
	return nil
}

func (s *Store) get(key []byte, pair types.Pair) error {
	value, closer, err := s.DB.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return store.NoEntryErr{}
		}
		logging.L.Err(err).Msg("read failed")
		return err
	}
	defer closer.Close()
	data := make([]byte, len(value))
	copy(data, value)
	return pair.DeSerialiseData(data)
}

// deleteRange removes [from, to) with a sync barrier.
func (s *Store) deleteRange(from, to []byte) error {
	if err := s.DB.DeleteRange(from, to, pebble.Sync); err != nil {
		logging.L.Err(err).Msg("delete range failed")
		return err
	}
	return nil
}

/* TransactionLog */

func (s *Store) Append(rec *types.AnchorRecord) error {
	key := makeKey(KAnchor, rec.TransactionNumber)
	_, closer, err := s.DB.Get(key)
	if err == nil {
		closer.Close()
		return store.DuplicateEntryErr{}
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		logging.L.Err(err).Msg("read failed")
		return err
	}
	return s.set(key, rec)
}

func (s *Store) Last() (*types.AnchorRecord, error) {
	lower, upper := prefixBounds(KAnchor)
	iter, err := s.DB.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	if !iter.Last() {
		return nil, store.NoEntryErr{}
	}
	return anchorAt(iter)
}

func (s *Store) LaterThan(since *uint64, limit uint32) ([]types.AnchorRecord, error) {
	lower, upper := prefixBounds(KAnchor)
	if since != nil {
		lower = makeKey(KAnchor, *since+1)
	}
	iter, err := s.DB.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var records []types.AnchorRecord
	for ok := iter.First(); ok && uint32(len(records)) < limit; ok = iter.Next() {
		rec, err := anchorAt(iter)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, iter.Error()
}

func (s *Store) Count() (uint64, error) {
	lower, upper := prefixBounds(KAnchor)
	iter, err := s.DB.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	var n uint64
	for ok := iter.First(); ok; ok = iter.Next() {
		n++
	}
	return n, iter.Error()
}

func (s *Store) ExponentiallySpaced() ([]types.AnchorRecord, error) {
	lower, upper := prefixBounds(KAnchor)
	iter, err := s.DB.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var probes []types.AnchorRecord
	var offset, nextTarget uint64
	for ok := iter.Last(); ok; ok = iter.Prev() {
		if offset == nextTarget {
			rec, err := anchorAt(iter)
			if err != nil {
				return nil, err
			}
			probes = append(probes, *rec)
			if nextTarget == 0 {
				nextTarget = 1
			} else {
				nextTarget *= 2
			}
		}
		offset++
	}
	return probes, iter.Error()
}

func (s *Store) RemoveLaterThan(txnum uint64) error {
	if txnum == ^uint64(0) {
		return nil
	}
	_, upper := prefixBounds(KAnchor)
	return s.deleteRange(makeKey(KAnchor, txnum+1), upper)
}

/* QuantileStore */

func (s *Store) PutSnapshot(snap *types.QuantileSnapshot) error {
	return s.set(makeKey(KSnapshot, snap.BatchID), snap)
}

func (s *Store) GetSnapshot(batchID uint64) (*types.QuantileSnapshot, error) {
	var snap types.QuantileSnapshot
	snap.BatchID = batchID
	if err := s.get(makeKey(KSnapshot, batchID), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *Store) LastSnapshot() (*types.QuantileSnapshot, error) {
	lower, upper := prefixBounds(KSnapshot)
	iter, err := s.DB.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	if !iter.Last() {
		return nil, store.NoEntryErr{}
	}
	return snapshotAt(iter)
}

func (s *Store) TailSnapshots(n uint32) ([]types.QuantileSnapshot, error) {
	lower, upper := prefixBounds(KSnapshot)
	iter, err := s.DB.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var tail []types.QuantileSnapshot
	for ok := iter.Last(); ok && uint32(len(tail)) < n; ok = iter.Prev() {
		snap, err := snapshotAt(iter)
		if err != nil {
			return nil, err
		}
		tail = append(tail, *snap)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	for i, j := 0, len(tail)-1; i < j; i, j = i+1, j-1 {
		tail[i], tail[j] = tail[j], tail[i]
	}
	return tail, nil
}

func (s *Store) RemoveBatchesGE(batchID uint64) error {
	_, upper := prefixBounds(KSnapshot)
	return s.deleteRange(makeKey(KSnapshot, batchID), upper)
}

func (s *Store) RemoveBatchesLT(batchID uint64) error {
	lower, _ := prefixBounds(KSnapshot)
	return s.deleteRange(lower, makeKey(KSnapshot, batchID))
}

func anchorAt(iter *pebble.Iterator) (*types.AnchorRecord, error) {
	var rec types.AnchorRecord
	key := iter.Key()
	if len(key) != sizeKey {
		return nil, errors.New("unexpected anchor key size")
	}
	if err := rec.DeSerialiseKey(bytes.Clone(key[1:])); err != nil {
		return nil, err
	}
	if err := rec.DeSerialiseData(bytes.Clone(iter.Value())); err != nil {
		return nil, err
	}
	return &rec, nil
}

func snapshotAt(iter *pebble.Iterator) (*types.QuantileSnapshot, error) {
	var snap types.QuantileSnapshot
	key := iter.Key()
	if len(key) != sizeKey {
		return nil, errors.New("unexpected snapshot key size")
	}
	if err := snap.DeSerialiseKey(bytes.Clone(key[1:])); err != nil {
		return nil, err
	}
	if err := snap.DeSerialiseData(bytes.Clone(iter.Value())); err != nil {
		return nil, err
	}
	return &snap, nil
}

var (
	_ store.TransactionLog = (*Store)(nil)
	_ store.QuantileStore  = (*Store)(nil)
)
