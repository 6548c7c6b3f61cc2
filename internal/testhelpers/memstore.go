package testhelpers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/anchorwatch/sidetree-oracle/internal/store"
	"github.com/anchorwatch/sidetree-oracle/internal/types"
)

// MemLog is an in-memory transaction log with the same contract as the
// persistent backends.
type MemLog struct {
	mu      sync.Mutex
	records []types.AnchorRecord
}

func NewMemLog() *MemLog {
	return &MemLog{}
}

func (l *MemLog) Append(rec *types.AnchorRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := sort.Search(len(l.records), func(i int) bool {
		return l.records[i].TransactionNumber >= rec.TransactionNumber
	})
	if idx < len(l.records) && l.records[idx].TransactionNumber == rec.TransactionNumber {
		return store.DuplicateEntryErr{}
	}
	l.records = append(l.records, types.AnchorRecord{})
	copy(l.records[idx+1:], l.records[idx:])
	l.records[idx] = *rec
	return nil
}

func (l *MemLog) Last() (*types.AnchorRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.records) == 0 {
		return nil, store.NoEntryErr{}
	}
	rec := l.records[len(l.records)-1]
	return &rec, nil
}

func (l *MemLog) LaterThan(since *uint64, limit uint32) ([]types.AnchorRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []types.AnchorRecord
	for _, rec := range l.records {
		if since != nil && rec.TransactionNumber <= *since {
			continue
		}
		if uint32(len(out)) >= limit {
			break
		}
		out = append(out, rec)
	}
	return out, nil
}

func (l *MemLog) Count() (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint64(len(l.records)), nil
}

func (l *MemLog) ExponentiallySpaced() ([]types.AnchorRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var probes []types.AnchorRecord
	var nextTarget uint64
	for offset := uint64(0); offset < uint64(len(l.records)); offset++ {
		if offset == nextTarget {
			probes = append(probes, l.records[uint64(len(l.records))-1-offset])
			if nextTarget == 0 {
				nextTarget = 1
			} else {
				nextTarget *= 2
			}
		}
	}
	return probes, nil
}

func (l *MemLog) RemoveLaterThan(txnum uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := sort.Search(len(l.records), func(i int) bool {
		return l.records[i].TransactionNumber > txnum
	})
	l.records = l.records[:idx]
	return nil
}

// All returns a copy of the stored records, oldest first.
func (l *MemLog) All() []types.AnchorRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]types.AnchorRecord{}, l.records...)
}

// MemQuantileStore is an in-memory snapshot store. FailPuts makes every
// PutSnapshot fail, exercising the engine's no-advance contract;
// FailRemoves does the same for rollback truncation.
type MemQuantileStore struct {
	mu          sync.Mutex
	snaps       map[uint64]types.QuantileSnapshot
	FailPuts    bool
	FailRemoves bool
}

func NewMemQuantileStore() *MemQuantileStore {
	return &MemQuantileStore{snaps: make(map[uint64]types.QuantileSnapshot)}
}

func (s *MemQuantileStore) PutSnapshot(snap *types.QuantileSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailPuts {
		return fmt.Errorf("scripted persistence failure")
	}
	s.snaps[snap.BatchID] = *snap
	return nil
}

func (s *MemQuantileStore) GetSnapshot(batchID uint64) (*types.QuantileSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[batchID]
	if !ok {
		return nil, store.NoEntryErr{}
	}
	return &snap, nil
}

func (s *MemQuantileStore) LastSnapshot() (*types.QuantileSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.sortedIDs()
	if len(ids) == 0 {
		return nil, store.NoEntryErr{}
	}
	snap := s.snaps[ids[len(ids)-1]]
	return &snap, nil
}

func (s *MemQuantileStore) TailSnapshots(n uint32) ([]types.QuantileSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.sortedIDs()
	if uint32(len(ids)) > n {
		ids = ids[uint32(len(ids))-n:]
	}
	out := make([]types.QuantileSnapshot, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.snaps[id])
	}
	return out, nil
}

func (s *MemQuantileStore) RemoveBatchesGE(batchID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailRemoves {
		return fmt.Errorf("scripted truncation failure")
	}
	for id := range s.snaps {
		if id >= batchID {
			delete(s.snaps, id)
		}
	}
	return nil
}

func (s *MemQuantileStore) RemoveBatchesLT(batchID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailRemoves {
		return fmt.Errorf("scripted truncation failure")
	}
	for id := range s.snaps {
		if id < batchID {
			delete(s.snaps, id)
		}
	}
	return nil
}

// BatchIDs returns the stored batch ids in ascending order.
func (s *MemQuantileStore) BatchIDs() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedIDs()
}

func (s *MemQuantileStore) sortedIDs() []uint64 {
	ids := make([]uint64, 0, len(s.snaps))
	for id := range s.snaps {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

var (
	_ store.TransactionLog = (*MemLog)(nil)
	_ store.QuantileStore  = (*MemQuantileStore)(nil)
)
