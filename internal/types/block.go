package types

// Block represents the structure of the block data in the RPC response
// (getblock verbosity 2).
type Block struct {
	Hash              string        `json:"hash"`
	Height            uint32        `json:"height"`
	PreviousBlockHash string        `json:"previousblockhash"`
	Timestamp         uint64        `json:"time"`
	Txs               []Transaction `json:"tx"`
}

// Transaction represents the structure of a transaction in the block
type Transaction struct {
	Txid    string `json:"txid"`
	Hash    string `json:"hash"`
	Version int    `json:"version"`
	Vin     []Vin  `json:"vin"`
	Vout    []Vout `json:"vout"`
}

// IsCoinbase reports whether the transaction is the block reward transaction.
// Coinbase inputs carry no previous outpoint, so no fee can be computed.
func (tx *Transaction) IsCoinbase() bool {
	return len(tx.Vin) > 0 && tx.Vin[0].Coinbase != ""
}

// Vin represents a transaction input
type Vin struct {
	Txid        string    `json:"txid"`
	Vout        uint32    `json:"vout"`
	ScriptSig   ScriptSig `json:"scriptSig"`
	Txinwitness []string  `json:"txinwitness,omitempty"`
	Sequence    uint32    `json:"sequence"`
	Coinbase    string    `json:"coinbase"`
}

// Vout represents a transaction output. Value is decimal BTC as reported by
// the node and must be converted to satoshis exactly once.
type Vout struct {
	Value        float64      `json:"value"`
	N            uint32       `json:"n"`
	ScriptPubKey ScriptPubKey `json:"scriptPubKey"`
}

// ScriptPubKey represents the script key
type ScriptPubKey struct {
	Asm     string `json:"asm"`
	Desc    string `json:"desc"`
	Hex     string `json:"hex"`
	Address string `json:"address,omitempty"`
	Type    string `json:"type"`
}

type ScriptSig struct {
	ASM string `json:"asm"`
	Hex string `json:"hex"`
}

// Unspent is one wallet UTXO as returned by listunspent.
type Unspent struct {
	Txid          string  `json:"txid"`
	Vout          uint32  `json:"vout"`
	Address       string  `json:"address"`
	ScriptPubKey  string  `json:"scriptPubKey"`
	Amount        float64 `json:"amount"`
	Confirmations uint32  `json:"confirmations"`
	Spendable     bool    `json:"spendable"`
}

// AddressInfo is the subset of getaddressinfo the writer cares about.
type AddressInfo struct {
	Address     string `json:"address"`
	IsMine      bool   `json:"ismine"`
	IsWatchOnly bool   `json:"iswatchonly"`
}
