package core

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/anchorwatch/sidetree-oracle/internal/testhelpers"
	"github.com/anchorwatch/sidetree-oracle/internal/types"
)

var testPrefix = []byte("sidetree:")

func TestExtractAnchorStripsPrefix(t *testing.T) {
	block, _ := testhelpers.BuildBlock(101, testhelpers.BlockHashFor(101, "a"),
		testhelpers.TxSpec{Txid: "cb", Coinbase: true},
		testhelpers.TxSpec{Txid: "plain", Fee: 500},
		testhelpers.TxSpec{Txid: "anchor", Fee: 800, OpReturns: []string{"sidetree:abc"}},
	)

	res := ExtractAnchors(block, testPrefix, 50)
	if len(res.Anchors) != 1 {
		t.Fatalf("expected 1 anchor, got %d", len(res.Anchors))
	}
	rec := res.Anchors[0].Record
	if !bytes.Equal(rec.AnchorPayload, []byte("abc")) {
		t.Errorf("payload = %q, want abc", rec.AnchorPayload)
	}
	wantNum, _ := types.ConstructTxNumber(101, 2)
	if rec.TransactionNumber != wantNum {
		t.Errorf("txnum = %d, want %d", rec.TransactionNumber, wantNum)
	}
	if rec.BlockHash != block.Hash || rec.BlockHeight != 101 {
		t.Errorf("block ref mismatch: %+v", rec)
	}

	if len(res.Sampleable) != 1 || res.Sampleable[0] != "plain" {
		t.Errorf("sampleable = %v, want [plain]", res.Sampleable)
	}
}

func TestExtractRejectsDoubleAnchor(t *testing.T) {
	block, _ := testhelpers.BuildBlock(50, testhelpers.BlockHashFor(50, "a"),
		testhelpers.TxSpec{Txid: "double", Fee: 700, OpReturns: []string{"sidetree:one", "sidetree:two"}},
		testhelpers.TxSpec{Txid: "single", Fee: 700, OpReturns: []string{"sidetree:three"}},
	)

	res := ExtractAnchors(block, testPrefix, 50)
	if len(res.Anchors) != 1 {
		t.Fatalf("expected only the single anchor, got %d", len(res.Anchors))
	}
	if res.Anchors[0].Tx.Txid != "single" {
		t.Errorf("wrong anchor survived: %s", res.Anchors[0].Tx.Txid)
	}
	// the rejected transaction must not leak into the fee sample either
	for _, txid := range res.Sampleable {
		if txid == "double" {
			t.Error("rejected transaction was emitted for sampling")
		}
	}
}

func TestExtractIgnoresForeignOpReturns(t *testing.T) {
	block, _ := testhelpers.BuildBlock(60, testhelpers.BlockHashFor(60, "a"),
		testhelpers.TxSpec{Txid: "omni", Fee: 400, OpReturns: []string{"omni:payload"}},
	)
	res := ExtractAnchors(block, testPrefix, 50)
	if len(res.Anchors) != 0 {
		t.Fatalf("foreign op_return treated as anchor")
	}
	// a transaction with a non-matching OP_RETURN is still fee sampleable
	if len(res.Sampleable) != 1 || res.Sampleable[0] != "omni" {
		t.Errorf("sampleable = %v, want [omni]", res.Sampleable)
	}
}

func TestExtractSkipsWideTransactionsForSampling(t *testing.T) {
	block, _ := testhelpers.BuildBlock(70, testhelpers.BlockHashFor(70, "a"),
		testhelpers.TxSpec{Txid: "narrow", Fee: 300, Inputs: 2},
		testhelpers.TxSpec{Txid: "wide", Fee: 300, Inputs: 5},
	)
	res := ExtractAnchors(block, testPrefix, 3)
	if len(res.Sampleable) != 1 || res.Sampleable[0] != "narrow" {
		t.Errorf("sampleable = %v, want [narrow]", res.Sampleable)
	}
}

func TestExtractSkipsCoinbase(t *testing.T) {
	block, _ := testhelpers.BuildBlock(80, testhelpers.BlockHashFor(80, "a"),
		testhelpers.TxSpec{Txid: "cb", Coinbase: true},
	)
	res := ExtractAnchors(block, testPrefix, 50)
	if len(res.Anchors) != 0 || len(res.Sampleable) != 0 {
		t.Errorf("coinbase leaked into extraction: %+v", res)
	}
}

func TestExtractDeterministic(t *testing.T) {
	block, _ := testhelpers.BuildBlock(90, testhelpers.BlockHashFor(90, "a"),
		testhelpers.TxSpec{Txid: "a", Fee: 100},
		testhelpers.TxSpec{Txid: "b", Fee: 100, OpReturns: []string{"sidetree:x"}},
		testhelpers.TxSpec{Txid: "c", Fee: 100},
	)
	first := ExtractAnchors(block, testPrefix, 50)
	second := ExtractAnchors(block, testPrefix, 50)
	if len(first.Anchors) != len(second.Anchors) || len(first.Sampleable) != len(second.Sampleable) {
		t.Fatal("extractor is not deterministic")
	}
	for i := range first.Sampleable {
		if first.Sampleable[i] != second.Sampleable[i] {
			t.Errorf("sampleable order diverged at %d", i)
		}
	}
}

func TestParseNullData(t *testing.T) {
	data, ok := parseNullData("OP_RETURN " + hex.EncodeToString([]byte("sidetree:abc")))
	if !ok || !bytes.Equal(data, []byte("sidetree:abc")) {
		t.Errorf("valid null data not parsed: %q %v", data, ok)
	}

	if _, ok := parseNullData("OP_DUP OP_HASH160"); ok {
		t.Error("non null data script parsed")
	}
	if _, ok := parseNullData("OP_RETURN"); ok {
		t.Error("bare OP_RETURN parsed")
	}
	if _, ok := parseNullData("OP_RETURN 6a6a 6a6a"); ok {
		t.Error("multi-push script parsed")
	}
	if _, ok := parseNullData("OP_RETURN zzzz"); ok {
		t.Error("undecodable data parsed")
	}
}
