package core

import (
	"context"
	"testing"

	"github.com/anchorwatch/sidetree-oracle/internal/testhelpers"
	"github.com/anchorwatch/sidetree-oracle/internal/types"
)

func TestTransactionFee(t *testing.T) {
	m := testhelpers.NewChainMock()
	tx, fundings := testhelpers.BuildTx(testhelpers.TxSpec{Txid: "spend", Fee: 1234, Inputs: 3})
	for i := range fundings {
		m.AddLooseTx(&fundings[i])
	}

	fee, err := TransactionFee(context.Background(), m, &tx)
	if err != nil {
		t.Fatal(err)
	}
	if fee != 1234 {
		t.Errorf("fee = %d, want 1234", fee)
	}
}

func TestTransactionFeeFailsOnMissingInput(t *testing.T) {
	m := testhelpers.NewChainMock()
	tx, _ := testhelpers.BuildTx(testhelpers.TxSpec{Txid: "spend", Fee: 500})
	// funding tx not registered, the lookup must fail the whole computation
	if _, err := TransactionFee(context.Background(), m, &tx); err == nil {
		t.Error("missing input lookup did not fail fee computation")
	}
}

func TestTransactionFeeRejectsCoinbase(t *testing.T) {
	m := testhelpers.NewChainMock()
	cb, _ := testhelpers.BuildTx(testhelpers.TxSpec{Txid: "cb", Coinbase: true})
	if _, err := TransactionFee(context.Background(), m, &cb); err == nil {
		t.Error("coinbase fee computed")
	}
}

func TestSatoshisRoundsOnce(t *testing.T) {
	// 0.00012345 BTC is not exactly representable in binary; the conversion
	// has to land on the integer satoshi value regardless
	sats, err := satoshis(0.00012345)
	if err != nil {
		t.Fatal(err)
	}
	if sats != 12345 {
		t.Errorf("satoshis(0.00012345) = %d, want 12345", sats)
	}

	sats, err = satoshis(20.99999999)
	if err != nil {
		t.Fatal(err)
	}
	if sats != 2_099_999_999 {
		t.Errorf("satoshis(20.99999999) = %d, want 2099999999", sats)
	}
}

func TestTransactionFeeRejectsNegative(t *testing.T) {
	m := testhelpers.NewChainMock()
	funding := types.Transaction{
		Txid: "f",
		Vin:  []types.Vin{{Coinbase: "00"}},
		Vout: []types.Vout{{Value: 0.00000100, N: 0}},
	}
	m.AddLooseTx(&funding)
	tx := types.Transaction{
		Txid: "overspend",
		Vin:  []types.Vin{{Txid: "f", Vout: 0}},
		Vout: []types.Vout{{Value: 0.00000200, N: 0}},
	}
	if _, err := TransactionFee(context.Background(), m, &tx); err == nil {
		t.Error("transaction creating value accepted")
	}
}
