package testhelpers

import (
	"context"
	"fmt"
	"sync"

	"github.com/anchorwatch/sidetree-oracle/internal/chain"
	"github.com/anchorwatch/sidetree-oracle/internal/types"
)

// ChainMock is a scripted upstream: blocks are registered per height and can
// be replaced to simulate a reorg. It also serves as the wallet for writer
// tests.
type ChainMock struct {
	mu     sync.Mutex
	blocks map[uint32]*types.Block
	txs    map[string]*types.Transaction
	tip    uint32

	Unspent   []types.Unspent
	Addresses map[string]*types.AddressInfo
	Broadcast []string
	Imported  []string

	// FailNextCalls makes the following n upstream calls fail, used to
	// exercise the abort-and-retry paths.
	FailNextCalls int
}

func NewChainMock() *ChainMock {
	return &ChainMock{
		blocks:    make(map[uint32]*types.Block),
		txs:       make(map[string]*types.Transaction),
		Addresses: make(map[string]*types.AddressInfo),
	}
}

// AddBlock registers a block and its transactions; the tip follows the
// highest registered height.
func (m *ChainMock) AddBlock(block *types.Block) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[block.Height] = block
	for i := range block.Txs {
		m.txs[block.Txs[i].Txid] = &block.Txs[i]
	}
	if block.Height > m.tip {
		m.tip = block.Height
	}
}

// AddLooseTx registers a transaction that is not part of any block, e.g. a
// funding transaction that fee lookups resolve.
func (m *ChainMock) AddLooseTx(tx *types.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs[tx.Txid] = tx
}

// ReplaceBlock swaps the block at the given height for a different one,
// simulating a reorganization.
func (m *ChainMock) ReplaceBlock(block *types.Block) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[block.Height] = block
	for i := range block.Txs {
		m.txs[block.Txs[i].Txid] = &block.Txs[i]
	}
}

// SetTip truncates or extends the reported tip explicitly.
func (m *ChainMock) SetTip(height uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tip = height
}

func (m *ChainMock) failNext() error {
	if m.FailNextCalls > 0 {
		m.FailNextCalls--
		return fmt.Errorf("scripted upstream failure")
	}
	return nil
}

func (m *ChainMock) TipHeight(ctx context.Context) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext(); err != nil {
		return 0, err
	}
	return m.tip, nil
}

func (m *ChainMock) BlockHash(ctx context.Context, height uint32) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext(); err != nil {
		return "", err
	}
	if height > m.tip {
		return "", &chain.RPCError{Method: "getblockhash", Code: -8, Message: "Block height out of range"}
	}
	block, ok := m.blocks[height]
	if !ok {
		return "", &chain.RPCError{Method: "getblockhash", Code: -8, Message: "Block height out of range"}
	}
	return block.Hash, nil
}

func (m *ChainMock) Block(ctx context.Context, height uint32) (*types.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext(); err != nil {
		return nil, err
	}
	block, ok := m.blocks[height]
	if !ok || height > m.tip {
		return nil, &chain.RPCError{Method: "getblock", Code: -8, Message: "Block height out of range"}
	}
	return block, nil
}

func (m *ChainMock) HeaderByHash(ctx context.Context, hash string) (*chain.BlockRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext(); err != nil {
		return nil, err
	}
	for height, block := range m.blocks {
		if block.Hash == hash && height <= m.tip {
			return &chain.BlockRef{Height: height, Hash: hash}, nil
		}
	}
	return nil, &chain.RPCError{Method: "getblockheader", Code: -5, Message: "Block not found"}
}

func (m *ChainMock) RawTransaction(ctx context.Context, txid string) (*types.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext(); err != nil {
		return nil, err
	}
	tx, ok := m.txs[txid]
	if !ok {
		return nil, &chain.RPCError{Method: "getrawtransaction", Code: -5, Message: "No such transaction"}
	}
	return tx, nil
}

/* wallet side */

func (m *ChainMock) ListUnspent(ctx context.Context, addresses []string) ([]types.Unspent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Unspent{}, m.Unspent...), nil
}

func (m *ChainMock) SendRawTransaction(ctx context.Context, txHex string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Broadcast = append(m.Broadcast, txHex)
	return fmt.Sprintf("mock-txid-%d", len(m.Broadcast)), nil
}

func (m *ChainMock) ImportPubKey(ctx context.Context, pubKeyHex string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Imported = append(m.Imported, pubKeyHex)
	return nil
}

func (m *ChainMock) GetAddressInfo(ctx context.Context, address string) (*types.AddressInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.Addresses[address]; ok {
		return info, nil
	}
	return &types.AddressInfo{Address: address}, nil
}

var (
	_ chain.Client       = (*ChainMock)(nil)
	_ chain.WalletClient = (*ChainMock)(nil)
)
