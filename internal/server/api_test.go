package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/anchorwatch/sidetree-oracle/internal/core"
	"github.com/anchorwatch/sidetree-oracle/internal/testhelpers"
	"github.com/anchorwatch/sidetree-oracle/internal/types"
)

type apiFixture struct {
	mock     *testhelpers.ChainMock
	txlog    *testhelpers.MemLog
	quantile *core.QuantileCalculator
	router   *gin.Engine
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	mock := testhelpers.NewChainMock()
	txlog := testhelpers.NewMemLog()
	qstore := testhelpers.NewMemQuantileStore()
	quantile, err := core.NewQuantileCalculator(qstore, core.QuantileConfig{
		BatchSizeInBlocks:   2,
		WindowSizeInBatches: 2,
		SampleSize:          3,
		Quantile:            0.5,
		FeeApproximation:    1,
	}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	engine := core.NewEngine(mock, txlog, quantile, core.EngineConfig{
		AnchorPrefix:             []byte("sidetree:"),
		GenesisBlockNumber:       100,
		BatchSizeInBlocks:        2,
		MaxTransactionInputCount: 50,
		PollPeriod:               time.Second,
	}, zerolog.Nop())

	api := &ApiHandler{
		Client:   mock,
		Log:      txlog,
		Quantile: quantile,
		Engine:   engine,
		PageSize: 2,
		ProofOfFee: core.ProofOfFeeConfig{
			GenesisBlockNumber:       100,
			HistoricalOffsetInBlocks: 0,
			QuantileScale:            1.0,
			InitialNormalizedFee:     5000,
		},
		Network: "regtest",
		Version: "test",
	}

	return &apiFixture{
		mock:     mock,
		txlog:    txlog,
		quantile: quantile,
		router:   NewRouter(api),
	}
}

func (f *apiFixture) get(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Accept-Encoding", "identity")
	f.router.ServeHTTP(w, req)

	var body map[string]json.RawMessage
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("undecodable body %q: %v", w.Body.String(), err)
		}
	}
	return w, body
}

func (f *apiFixture) seedRecords(t *testing.T, n int) []types.AnchorRecord {
	t.Helper()
	var out []types.AnchorRecord
	for i := 0; i < n; i++ {
		height := uint32(100 + i)
		testhelpers.AddScriptedBlock(f.mock, height, "a")
		txnum, err := types.ConstructTxNumber(height, 0)
		if err != nil {
			t.Fatal(err)
		}
		rec := types.AnchorRecord{
			TransactionNumber: txnum,
			BlockHeight:       height,
			BlockHash:         testhelpers.BlockHashFor(height, "a"),
			AnchorPayload:     []byte(fmt.Sprintf("payload-%d", i)),
			FeePaid:           uint64(1000 + i),
		}
		if err := f.txlog.Append(&rec); err != nil {
			t.Fatal(err)
		}
		out = append(out, rec)
	}
	return out
}

func decodeTransactions(t *testing.T, w *httptest.ResponseRecorder) TransactionsResponse {
	t.Helper()
	var resp TransactionsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("undecodable transactions body %q: %v", w.Body.String(), err)
	}
	return resp
}

func TestTransactionsPagination(t *testing.T) {
	f := newAPIFixture(t)
	records := f.seedRecords(t, 5)

	w, _ := f.get(t, "/transactions")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	resp := decodeTransactions(t, w)
	if len(resp.Transactions) != 2 || !resp.MoreTransactions {
		t.Fatalf("first page = %+v", resp)
	}
	if resp.Transactions[0].TransactionNumber != records[0].TransactionNumber {
		t.Errorf("first record = %+v", resp.Transactions[0])
	}

	cursor := resp.Transactions[1]
	w, _ = f.get(t, fmt.Sprintf("/transactions?since=%d&transaction-time-hash=%s",
		cursor.TransactionNumber, cursor.TransactionTimeHash))
	resp = decodeTransactions(t, w)
	if len(resp.Transactions) != 2 || !resp.MoreTransactions {
		t.Fatalf("second page = %+v", resp)
	}
	if resp.Transactions[0].TransactionNumber != records[2].TransactionNumber {
		t.Errorf("second page starts at %+v", resp.Transactions[0])
	}

	cursor = resp.Transactions[1]
	w, _ = f.get(t, fmt.Sprintf("/transactions?since=%d&transaction-time-hash=%s",
		cursor.TransactionNumber, cursor.TransactionTimeHash))
	resp = decodeTransactions(t, w)
	if len(resp.Transactions) != 1 || resp.MoreTransactions {
		t.Fatalf("last page = %+v", resp)
	}
	if resp.Transactions[0].TransactionNumber != records[4].TransactionNumber {
		t.Errorf("last record = %+v", resp.Transactions[0])
	}
}

func TestTransactionsRejectsLoneParameter(t *testing.T) {
	f := newAPIFixture(t)
	f.seedRecords(t, 1)

	w, body := f.get(t, "/transactions?since=123")
	if w.Code != http.StatusBadRequest {
		t.Errorf("lone since: status = %d", w.Code)
	}
	if string(body["code"]) != fmt.Sprintf("%q", CodeBadRequest) {
		t.Errorf("code = %s", body["code"])
	}

	w, _ = f.get(t, "/transactions?transaction-time-hash=deadbeef")
	if w.Code != http.StatusBadRequest {
		t.Errorf("lone hash: status = %d", w.Code)
	}
}

func TestTransactionsRejectsStaleFork(t *testing.T) {
	f := newAPIFixture(t)
	records := f.seedRecords(t, 3)

	// the caller's cursor hash no longer matches the chain
	w, body := f.get(t, fmt.Sprintf("/transactions?since=%d&transaction-time-hash=%s",
		records[1].TransactionNumber, testhelpers.BlockHashFor(101, "other-fork")))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if string(body["code"]) != fmt.Sprintf("%q", CodeStaleFork) {
		t.Errorf("code = %s", body["code"])
	}
}

func TestTimeEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	f.seedRecords(t, 3) // registers blocks 100..102

	w, _ := f.get(t, "/time")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp TimeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Time != 102 || resp.Hash != testhelpers.BlockHashFor(102, "a") {
		t.Errorf("time = %+v", resp)
	}

	w, _ = f.get(t, "/time/"+testhelpers.BlockHashFor(101, "a"))
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Time != 101 {
		t.Errorf("time by hash = %+v", resp)
	}

	w, _ = f.get(t, "/time/unknownhash")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown hash status = %d", w.Code)
	}
}

func TestFeeEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	if err := f.quantile.Add(50, []uint64{100, 200, 300}); err != nil {
		t.Fatal(err)
	}

	// block 101 sits in batch 50
	w, _ := f.get(t, "/fee/101")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	var resp FeeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.NormalizedTransactionFee != 200 {
		t.Errorf("fee = %d, want 200", resp.NormalizedTransactionFee)
	}

	w, _ = f.get(t, "/fee/99999")
	if w.Code != http.StatusNotFound {
		t.Errorf("far future fee status = %d", w.Code)
	}

	w, _ = f.get(t, "/fee/notanumber")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad height status = %d", w.Code)
	}
}

func TestFirstValidEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	records := f.seedRecords(t, 3)

	stale := TransactionAPI{
		TransactionNumber:   records[2].TransactionNumber,
		TransactionTime:     records[2].BlockHeight,
		TransactionTimeHash: testhelpers.BlockHashFor(records[2].BlockHeight, "other-fork"),
	}
	valid := TransactionAPI{
		TransactionNumber:   records[0].TransactionNumber,
		TransactionTime:     records[0].BlockHeight,
		TransactionTimeHash: records[0].BlockHash,
	}

	payload, _ := json.Marshal(map[string][]TransactionAPI{
		"transactions": {stale, valid},
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/transactions/first-valid", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Encoding", "identity")
	f.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	var resp TransactionAPI
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.TransactionNumber != valid.TransactionNumber {
		t.Errorf("first valid = %+v", resp)
	}

	// all stale: 404
	payload, _ = json.Marshal(map[string][]TransactionAPI{
		"transactions": {stale},
	})
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/transactions/first-valid", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Encoding", "identity")
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("all-stale status = %d", w.Code)
	}
}

func TestAnchorEndpointWithoutWriter(t *testing.T) {
	f := newAPIFixture(t)
	payload, _ := json.Marshal(map[string]string{"anchorString": "data"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/anchor", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Encoding", "identity")
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("anchor without writer status = %d", w.Code)
	}
}
