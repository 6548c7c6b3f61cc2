package dblevel

import (
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/anchorwatch/sidetree-oracle/internal/logging"
	"github.com/anchorwatch/sidetree-oracle/internal/store"
	"github.com/anchorwatch/sidetree-oracle/internal/types"
)

// writes must hit disk before the engine advances
var syncWrites = &opt.WriteOptions{Sync: true}

// OpenDBConnection opens a connection to the through path specified db
// instance, if it fails it panics
func OpenDBConnection(path string) *leveldb.DB {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		logging.L.Err(err).Msg("error opening db connection")
		panic(err)
	}
	return db
}

// OpenMemDB opens an in-memory database, used by tests.
func OpenMemDB() *leveldb.DB {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		panic(err)
	}
	return db
}

// extractKeyValue will panic because serialisation is critical to data integrity
func extractKeyValue(pair types.Pair) ([]byte, []byte) {
	key, err := pair.SerialiseKey()
	if err != nil {
		logging.L.Err(err).Msg("error serialising key")
		panic(err)
	}
	value, err := pair.SerialiseData()
	if err != nil {
		logging.L.Err(err).Msg("error serialising data")
		panic(err)
	}
	return key, value
}

func insertSimple(db *leveldb.DB, pair types.Pair) error {
	key, value := extractKeyValue(pair)
	err := db.Put(key, value, syncWrites)
	if err != nil {
		logging.L.Err(err).Msg("error inserting simple")
		return err
	}
	return nil
}

func retrieveByKey(db *leveldb.DB, key []byte, pair types.Pair) error {
	data, err := db.Get(key, nil)
	if err != nil && !errors.Is(err, leveldb.ErrNotFound) {
		logging.L.Err(err).Msg("error getting key")
		return err
	} else if err != nil && errors.Is(err, leveldb.ErrNotFound) {
		return store.NoEntryErr{}
	}
	if len(data) == 0 {
		return store.NoEntryErr{}
	}

	if err = pair.DeSerialiseKey(key); err != nil {
		logging.L.Err(err).Msg("error deserialising key")
		return err
	}
	if err = pair.DeSerialiseData(data); err != nil {
		logging.L.Err(err).Msg("error deserialising data")
		return err
	}
	return nil
}

// retrieveLast positions the iterator at the highest key of the database.
func retrieveLast(db *leveldb.DB, pair types.Pair) error {
	iter := db.NewIterator(nil, nil)
	defer iter.Release()

	if !iter.Last() {
		if err := iter.Error(); err != nil {
			logging.L.Err(err).Msg("error iterating over db")
			return err
		}
		return store.NoEntryErr{}
	}
	if err := pair.DeSerialiseKey(iter.Key()); err != nil {
		logging.L.Err(err).Msg("error deserialising key")
		return err
	}
	if err := pair.DeSerialiseData(iter.Value()); err != nil {
		logging.L.Err(err).Msg("error deserialising data")
		return err
	}
	return nil
}

// deleteFromKey removes every entry with a key >= from. The batch is written
// with a sync barrier.
func deleteFromKey(db *leveldb.DB, from []byte) error {
	iter := db.NewIterator(nil, nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for ok := iter.Seek(from); ok; ok = iter.Next() {
		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())
		batch.Delete(key)
	}
	if err := iter.Error(); err != nil {
		logging.L.Err(err).Msg("error iterating over db")
		return err
	}
	if batch.Len() == 0 {
		return nil
	}
	err := db.Write(batch, syncWrites)
	if err != nil {
		logging.L.Err(err).Msg("error deleting batch")
		return err
	}
	return err
}

// deleteBeforeKey removes every entry with a key strictly below to.
func deleteBeforeKey(db *leveldb.DB, to []byte) error {
	iter := db.NewIterator(&util.Range{Limit: to}, nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())
		batch.Delete(key)
	}
	if err := iter.Error(); err != nil {
		logging.L.Err(err).Msg("error iterating over db")
		return err
	}
	if batch.Len() == 0 {
		return nil
	}
	err := db.Write(batch, syncWrites)
	if err != nil {
		logging.L.Err(err).Msg("error deleting batch")
		return err
	}
	return err
}

func countEntries(db *leveldb.DB) (uint64, error) {
	iter := db.NewIterator(nil, nil)
	defer iter.Release()

	var n uint64
	for iter.Next() {
		n++
	}
	if err := iter.Error(); err != nil {
		logging.L.Err(err).Msg("error iterating over db")
		return 0, err
	}
	return n, nil
}
