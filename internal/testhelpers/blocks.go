package testhelpers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/anchorwatch/sidetree-oracle/internal/types"
)

// BlockHashFor derives a stable fake block hash; fork distinguishes chains.
func BlockHashFor(height uint32, fork string) string {
	digest := sha256.Sum256([]byte(fmt.Sprintf("block-%d-%s", height, fork)))
	return hex.EncodeToString(digest[:])
}

// TxSpec describes one transaction of a scripted block.
type TxSpec struct {
	Txid      string
	Fee       uint64   // satoshis the transaction pays
	OpReturns []string // each entry becomes one OP_RETURN output
	Inputs    int      // number of inputs, defaults to 1
	Coinbase  bool
}

const txOutputValue = 2000 // satoshis kept in the spend output

func btcValue(sats uint64) float64 {
	return float64(sats) / 1e8
}

// BuildTx creates the transaction plus the funding transactions its inputs
// spend. Funding transactions are not part of any block; register them with
// ChainMock.AddLooseTx so fee lookups resolve.
func BuildTx(spec TxSpec) (types.Transaction, []types.Transaction) {
	if spec.Coinbase {
		return types.Transaction{
			Txid: spec.Txid,
			Vin:  []types.Vin{{Coinbase: "03abcdef"}},
			Vout: []types.Vout{{Value: btcValue(5_000_000_000), N: 0, ScriptPubKey: types.ScriptPubKey{Type: "pubkeyhash"}}},
		}, nil
	}

	inputs := spec.Inputs
	if inputs == 0 {
		inputs = 1
	}

	inTotal := spec.Fee + txOutputValue
	var fundings []types.Transaction
	var vins []types.Vin
	for i := 0; i < inputs; i++ {
		value := uint64(1000)
		if i == 0 {
			value = inTotal - uint64(1000)*uint64(inputs-1)
		}
		funding := types.Transaction{
			Txid: fmt.Sprintf("fund-%s-%d", spec.Txid, i),
			Vout: []types.Vout{{
				Value:        btcValue(value),
				N:            0,
				ScriptPubKey: types.ScriptPubKey{Type: "pubkeyhash"},
			}},
			Vin: []types.Vin{{Coinbase: "00"}},
		}
		fundings = append(fundings, funding)
		vins = append(vins, types.Vin{Txid: funding.Txid, Vout: 0})
	}

	vouts := []types.Vout{{
		Value:        btcValue(txOutputValue),
		N:            0,
		ScriptPubKey: types.ScriptPubKey{Type: "pubkeyhash"},
	}}
	for i, data := range spec.OpReturns {
		vouts = append(vouts, types.Vout{
			Value: 0,
			N:     uint32(i + 1),
			ScriptPubKey: types.ScriptPubKey{
				Asm:  "OP_RETURN " + hex.EncodeToString([]byte(data)),
				Type: "nulldata",
			},
		})
	}

	return types.Transaction{Txid: spec.Txid, Vin: vins, Vout: vouts}, fundings
}

// BuildBlock assembles a block from transaction specs; the spec order is the
// in-block index order.
func BuildBlock(height uint32, hash string, specs ...TxSpec) (*types.Block, []types.Transaction) {
	block := &types.Block{
		Hash:      hash,
		Height:    height,
		Timestamp: 1_700_000_000 + uint64(height),
	}
	var fundings []types.Transaction
	for _, spec := range specs {
		tx, txFundings := BuildTx(spec)
		block.Txs = append(block.Txs, tx)
		fundings = append(fundings, txFundings...)
	}
	return block, fundings
}

// AddScriptedBlock builds a block on the given fork, registers it and its
// funding transactions with the mock, and returns it.
func AddScriptedBlock(m *ChainMock, height uint32, fork string, specs ...TxSpec) *types.Block {
	block, fundings := BuildBlock(height, BlockHashFor(height, fork), specs...)
	for i := range fundings {
		m.AddLooseTx(&fundings[i])
	}
	m.AddBlock(block)
	return block
}

// ReplaceScriptedBlock is AddScriptedBlock for reorgs: it overwrites the
// height with a block of a different fork.
func ReplaceScriptedBlock(m *ChainMock, height uint32, fork string, specs ...TxSpec) *types.Block {
	block, fundings := BuildBlock(height, BlockHashFor(height, fork), specs...)
	for i := range fundings {
		m.AddLooseTx(&fundings[i])
	}
	m.ReplaceBlock(block)
	return block
}
