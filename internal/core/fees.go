package core

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/anchorwatch/sidetree-oracle/internal/chain"
	"github.com/anchorwatch/sidetree-oracle/internal/types"
)

// TransactionFee computes the fee the transaction paid: the sum of its
// inputs' previous output values minus the sum of its own output values.
// Every input costs one upstream lookup; any failed lookup fails the whole
// computation.
func TransactionFee(ctx context.Context, client chain.Client, tx *types.Transaction) (uint64, error) {
	if tx.IsCoinbase() {
		return 0, fmt.Errorf("no fee for coinbase transaction %s", tx.Txid)
	}

	var inTotal int64
	for _, vin := range tx.Vin {
		prev, err := client.RawTransaction(ctx, vin.Txid)
		if err != nil {
			return 0, err
		}
		if vin.Vout >= uint32(len(prev.Vout)) {
			return 0, fmt.Errorf("input %s:%d of %s points past the outputs", vin.Txid, vin.Vout, tx.Txid)
		}
		amount, err := satoshis(prev.Vout[vin.Vout].Value)
		if err != nil {
			return 0, err
		}
		inTotal += amount
	}

	var outTotal int64
	for _, vout := range tx.Vout {
		amount, err := satoshis(vout.Value)
		if err != nil {
			return 0, err
		}
		outTotal += amount
	}

	if inTotal < outTotal {
		return 0, fmt.Errorf("transaction %s spends more than it consumes", tx.Txid)
	}
	return uint64(inTotal - outTotal), nil
}

// satoshis converts a decimal-BTC node value to integer satoshis, rounding
// exactly once.
func satoshis(btc float64) (int64, error) {
	amount, err := btcutil.NewAmount(btc)
	if err != nil {
		return 0, err
	}
	return int64(amount), nil
}
