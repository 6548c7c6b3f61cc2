package chain

import (
	"context"

	"github.com/anchorwatch/sidetree-oracle/internal/types"
)

// BlockRef identifies one block by height and hash.
type BlockRef struct {
	Height uint32
	Hash   string
}

// Client is the engine's view of the upstream chain.
type Client interface {
	// TipHeight returns the height of the best block.
	TipHeight(ctx context.Context) (uint32, error)

	// BlockHash returns the hash at height. Fails when height is above the
	// tip.
	BlockHash(ctx context.Context, height uint32) (string, error)

	// Block returns the full block at height including all transactions
	// with inputs and outputs.
	Block(ctx context.Context, height uint32) (*types.Block, error)

	// HeaderByHash resolves a block hash to its position in the chain.
	HeaderByHash(ctx context.Context, hash string) (*BlockRef, error)

	// RawTransaction returns one transaction by txid, with outputs. Used
	// for input-side fee lookups.
	RawTransaction(ctx context.Context, txid string) (*types.Transaction, error)
}

// WalletClient is the writer's view of the node wallet.
type WalletClient interface {
	ListUnspent(ctx context.Context, addresses []string) ([]types.Unspent, error)
	SendRawTransaction(ctx context.Context, txHex string) (string, error)
	ImportPubKey(ctx context.Context, pubKeyHex string) error
	GetAddressInfo(ctx context.Context, address string) (*types.AddressInfo, error)
}
