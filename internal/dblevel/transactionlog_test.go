package dblevel

import (
	"errors"
	"fmt"
	"testing"

	"github.com/anchorwatch/sidetree-oracle/internal/store"
	"github.com/anchorwatch/sidetree-oracle/internal/types"
)

func newTestLog(t *testing.T) *TransactionLog {
	t.Helper()
	db := OpenMemDB()
	t.Cleanup(func() { db.Close() })
	return NewTransactionLog(db)
}

func record(t *testing.T, height, index uint32) *types.AnchorRecord {
	t.Helper()
	txnum, err := types.ConstructTxNumber(height, index)
	if err != nil {
		t.Fatal(err)
	}
	return &types.AnchorRecord{
		TransactionNumber: txnum,
		BlockHeight:       height,
		BlockHash:         fmt.Sprintf("hash-%d", height),
		AnchorPayload:     []byte(fmt.Sprintf("payload-%d-%d", height, index)),
		FeePaid:           uint64(height) * 10,
	}
}

func TestLogAppendAndLast(t *testing.T) {
	l := newTestLog(t)

	if _, err := l.Last(); !errors.Is(err, store.NoEntryErr{}) {
		t.Errorf("empty log Last() = %v, want NoEntryErr", err)
	}

	for _, rec := range []*types.AnchorRecord{record(t, 10, 0), record(t, 10, 5), record(t, 12, 1)} {
		if err := l.Append(rec); err != nil {
			t.Fatal(err)
		}
	}

	last, err := l.Last()
	if err != nil {
		t.Fatal(err)
	}
	if last.BlockHeight != 12 || last.TxIndex() != 1 {
		t.Errorf("last = %+v", last)
	}

	count, err := l.Count()
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}

func TestLogRejectsDuplicates(t *testing.T) {
	l := newTestLog(t)
	rec := record(t, 10, 0)
	if err := l.Append(rec); err != nil {
		t.Fatal(err)
	}
	if err := l.Append(rec); !errors.Is(err, store.DuplicateEntryErr{}) {
		t.Errorf("duplicate append = %v, want DuplicateEntryErr", err)
	}
	count, _ := l.Count()
	if count != 1 {
		t.Errorf("count after duplicate = %d", count)
	}
}

func TestLogLaterThanPaginates(t *testing.T) {
	l := newTestLog(t)
	var nums []uint64
	for i := uint32(0); i < 5; i++ {
		rec := record(t, 100+i, 0)
		nums = append(nums, rec.TransactionNumber)
		if err := l.Append(rec); err != nil {
			t.Fatal(err)
		}
	}

	// from the beginning
	page, err := l.LaterThan(nil, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].TransactionNumber != nums[0] || page[1].TransactionNumber != nums[1] {
		t.Fatalf("first page = %+v", page)
	}

	// strictly greater than the cursor
	page, err = l.LaterThan(&nums[1], 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].TransactionNumber != nums[2] || page[1].TransactionNumber != nums[3] {
		t.Fatalf("second page = %+v", page)
	}

	// last page is short
	page, err = l.LaterThan(&nums[3], 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || page[0].TransactionNumber != nums[4] {
		t.Fatalf("last page = %+v", page)
	}

	// past the end
	page, err = l.LaterThan(&nums[4], 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 0 {
		t.Fatalf("page past the end = %+v", page)
	}
}

func TestLogExponentiallySpaced(t *testing.T) {
	l := newTestLog(t)
	for i := uint32(0); i < 20; i++ {
		if err := l.Append(record(t, 100+i, 0)); err != nil {
			t.Fatal(err)
		}
	}

	probes, err := l.ExponentiallySpaced()
	if err != nil {
		t.Fatal(err)
	}

	// offsets 0,1,2,4,8,16 from the tail at height 119
	wantHeights := []uint32{119, 118, 117, 115, 111, 103}
	if len(probes) != len(wantHeights) {
		t.Fatalf("probe count = %d, want %d", len(probes), len(wantHeights))
	}
	for i, want := range wantHeights {
		if probes[i].BlockHeight != want {
			t.Errorf("probe %d at height %d, want %d", i, probes[i].BlockHeight, want)
		}
	}
}

func TestLogExponentiallySpacedShort(t *testing.T) {
	l := newTestLog(t)
	if err := l.Append(record(t, 100, 0)); err != nil {
		t.Fatal(err)
	}
	probes, err := l.ExponentiallySpaced()
	if err != nil {
		t.Fatal(err)
	}
	if len(probes) != 1 || probes[0].BlockHeight != 100 {
		t.Errorf("probes = %+v", probes)
	}
}

func TestLogFetchByTxNumber(t *testing.T) {
	l := newTestLog(t)
	rec := record(t, 200, 7)
	if err := l.Append(rec); err != nil {
		t.Fatal(err)
	}

	got, err := l.FetchByTxNumber(rec.TransactionNumber)
	if err != nil {
		t.Fatal(err)
	}
	if got.BlockHeight != 200 || got.TxIndex() != 7 {
		t.Errorf("fetched = %+v", got)
	}

	if _, err := l.FetchByTxNumber(rec.TransactionNumber + 1); !errors.Is(err, store.NoEntryErr{}) {
		t.Errorf("missing record err = %v", err)
	}
}

func TestLogRemoveLaterThan(t *testing.T) {
	l := newTestLog(t)
	for i := uint32(0); i < 5; i++ {
		if err := l.Append(record(t, 100+i, 0)); err != nil {
			t.Fatal(err)
		}
	}

	cut, err := types.ConstructTxNumber(102, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.RemoveLaterThan(cut); err != nil {
		t.Fatal(err)
	}

	count, _ := l.Count()
	if count != 3 {
		t.Errorf("count after truncation = %d, want 3", count)
	}
	last, err := l.Last()
	if err != nil {
		t.Fatal(err)
	}
	if last.BlockHeight != 102 {
		t.Errorf("last after truncation = %+v", last)
	}
}
