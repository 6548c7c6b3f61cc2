package core

import (
	"bytes"
	"encoding/hex"
	"strings"

	"github.com/anchorwatch/sidetree-oracle/internal/logging"
	"github.com/anchorwatch/sidetree-oracle/internal/types"
)

const opReturnMarker = "OP_RETURN"

// ExtractedAnchor couples the anchor record with its carrying transaction;
// the fee is filled in by the engine once the input values are known.
type ExtractedAnchor struct {
	Record types.AnchorRecord
	Tx     *types.Transaction
}

// ExtractResult is the outcome of scanning one block: the anchors found plus
// the txids eligible for fee sampling.
type ExtractResult struct {
	Anchors    []ExtractedAnchor
	Sampleable []string
}

// ExtractAnchors scans a block for OP_RETURN outputs whose data starts with
// the anchor prefix. It is pure over its inputs, identical blocks produce
// identical results.
//
// A transaction with more than one qualifying output is rejected entirely:
// it contributes neither an anchor record nor a sample entry. Transactions
// without an anchor are emitted for sampling unless they exceed the input
// count cap (their fee would cost one upstream lookup per input) or are the
// coinbase (no fee exists).
func ExtractAnchors(block *types.Block, prefix []byte, maxInputCount uint32) ExtractResult {
	var res ExtractResult
	for txIndex := range block.Txs {
		tx := &block.Txs[txIndex]
		if tx.IsCoinbase() {
			continue
		}

		payload, anchorCount := anchorPayload(tx, prefix)
		switch {
		case anchorCount > 1:
			logging.L.Warn().
				Str("txid", tx.Txid).
				Uint32("height", block.Height).
				Msg("transaction carries multiple anchor outputs, skipping")
			continue
		case anchorCount == 1:
			txnum, err := types.ConstructTxNumber(block.Height, uint32(txIndex))
			if err != nil {
				// more than 2^24 transactions cannot occur in a valid block
				logging.L.Err(err).Str("txid", tx.Txid).Msg("cannot number transaction")
				continue
			}
			res.Anchors = append(res.Anchors, ExtractedAnchor{
				Record: types.AnchorRecord{
					TransactionNumber: txnum,
					BlockHeight:       block.Height,
					BlockHash:         block.Hash,
					AnchorPayload:     payload,
				},
				Tx: tx,
			})
		default:
			if uint32(len(tx.Vin)) <= maxInputCount {
				res.Sampleable = append(res.Sampleable, tx.Txid)
			}
		}
	}
	return res
}

// anchorPayload returns the prefix-stripped data of the transaction's anchor
// output and how many outputs qualified.
func anchorPayload(tx *types.Transaction, prefix []byte) ([]byte, int) {
	var payload []byte
	var count int
	for i := range tx.Vout {
		data, ok := parseNullData(tx.Vout[i].ScriptPubKey.Asm)
		if !ok {
			continue
		}
		if !bytes.HasPrefix(data, prefix) {
			continue
		}
		count++
		if count == 1 {
			payload = data[len(prefix):]
		}
	}
	return payload, count
}

// parseNullData decodes a script of the form "OP_RETURN <hex>". Scripts with
// extra pushes or undecodable data are not anchors.
func parseNullData(asm string) ([]byte, bool) {
	fields := strings.Split(asm, " ")
	if len(fields) != 2 || fields[0] != opReturnMarker {
		return nil, false
	}
	data, err := hex.DecodeString(fields[1])
	if err != nil {
		return nil, false
	}
	return data, true
}
