package dblevel

import (
	"encoding/binary"
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/anchorwatch/sidetree-oracle/internal/logging"
	"github.com/anchorwatch/sidetree-oracle/internal/store"
	"github.com/anchorwatch/sidetree-oracle/internal/types"
)

// TransactionLog stores anchor records keyed by their big-endian transaction
// number, so iterator order equals chain order.
type TransactionLog struct {
	db *leveldb.DB
}

func NewTransactionLog(db *leveldb.DB) *TransactionLog {
	return &TransactionLog{db: db}
}

func (l *TransactionLog) Append(rec *types.AnchorRecord) error {
	key, err := rec.SerialiseKey()
	if err != nil {
		logging.L.Err(err).Msg("error serialising key")
		return err
	}
	ok, err := l.db.Has(key, nil)
	if err != nil {
		logging.L.Err(err).Msg("error checking for existing record")
		return err
	}
	if ok {
		return store.DuplicateEntryErr{}
	}
	return insertSimple(l.db, rec)
}

func (l *TransactionLog) Last() (*types.AnchorRecord, error) {
	var rec types.AnchorRecord
	if err := retrieveLast(l.db, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (l *TransactionLog) LaterThan(since *uint64, limit uint32) ([]types.AnchorRecord, error) {
	var rng *util.Range
	if since != nil {
		from := make([]byte, 8)
		binary.BigEndian.PutUint64(from, *since+1)
		rng = &util.Range{Start: from}
	}

	iter := l.db.NewIterator(rng, nil)
	defer iter.Release()

	var records []types.AnchorRecord
	for iter.Next() {
		if uint32(len(records)) >= limit {
			break
		}
		var rec types.AnchorRecord
		if err := rec.DeSerialiseKey(iter.Key()); err != nil {
			logging.L.Err(err).Msg("error deserialising key")
			return nil, err
		}
		if err := rec.DeSerialiseData(iter.Value()); err != nil {
			logging.L.Err(err).Msg("error deserialising data")
			return nil, err
		}
		records = append(records, rec)
	}
	if err := iter.Error(); err != nil {
		logging.L.Err(err).Msg("error iterating over db")
		return nil, err
	}
	return records, nil
}

func (l *TransactionLog) Count() (uint64, error) {
	return countEntries(l.db)
}

// ExponentiallySpaced walks the log backwards and keeps the records at
// offsets 0, 1, 2, 4, 8, ... from the tail. Fork recovery probes these to
// find the deepest surviving block with O(log n) upstream queries.
func (l *TransactionLog) ExponentiallySpaced() ([]types.AnchorRecord, error) {
	iter := l.db.NewIterator(nil, nil)
	defer iter.Release()

	var probes []types.AnchorRecord
	var offset, nextTarget uint64

	for ok := iter.Last(); ok; ok = iter.Prev() {
		if offset == nextTarget {
			var rec types.AnchorRecord
			if err := rec.DeSerialiseKey(iter.Key()); err != nil {
				logging.L.Err(err).Msg("error deserialising key")
				return nil, err
			}
			if err := rec.DeSerialiseData(iter.Value()); err != nil {
				logging.L.Err(err).Msg("error deserialising data")
				return nil, err
			}
			probes = append(probes, rec)
			if nextTarget == 0 {
				nextTarget = 1
			} else {
				nextTarget *= 2
			}
		}
		offset++
	}
	if err := iter.Error(); err != nil {
		logging.L.Err(err).Msg("error iterating over db")
		return nil, err
	}
	return probes, nil
}

func (l *TransactionLog) RemoveLaterThan(txnum uint64) error {
	if txnum == ^uint64(0) {
		return nil
	}
	from := make([]byte, 8)
	binary.BigEndian.PutUint64(from, txnum+1)
	return deleteFromKey(l.db, from)
}

var _ store.TransactionLog = (*TransactionLog)(nil)

// FetchByTxNumber is used by tooling and tests.
func (l *TransactionLog) FetchByTxNumber(txnum uint64) (*types.AnchorRecord, error) {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, txnum)
	var rec types.AnchorRecord
	err := retrieveByKey(l.db, key, &rec)
	if err != nil && !errors.Is(err, store.NoEntryErr{}) {
		logging.L.Err(err).Msg("error fetching record")
		return nil, err
	} else if err != nil {
		return nil, err
	}
	return &rec, nil
}
