package writer

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/rs/zerolog"

	"github.com/anchorwatch/sidetree-oracle/internal/chain"
	"github.com/anchorwatch/sidetree-oracle/internal/types"
)

// standard relay policy caps OP_RETURN data
const maxOpReturnData = 80

// dust threshold for P2PKH change
const dustLimit = 546

var (
	ErrPayloadTooLarge   = errors.New("anchor data exceeds the OP_RETURN limit")
	ErrInsufficientFunds = errors.New("wallet does not hold enough funds for the anchor fee")
)

// Writer builds, signs, and broadcasts anchor transactions: one OP_RETURN
// output carrying prefix||payload, funded from the wallet's P2PKH coins,
// change back to the same address.
type Writer struct {
	wallet chain.WalletClient
	params *chaincfg.Params
	wif    *btcutil.WIF
	addr   *btcutil.AddressPubKeyHash
	prefix []byte
	feeSat uint64
	log    zerolog.Logger
}

func NewWriter(
	wallet chain.WalletClient,
	network string,
	walletWIF string,
	prefix []byte,
	feeSat uint64,
	log zerolog.Logger,
) (*Writer, error) {
	params, err := netParams(network)
	if err != nil {
		return nil, err
	}
	wif, err := btcutil.DecodeWIF(walletWIF)
	if err != nil {
		return nil, fmt.Errorf("invalid wallet wif: %w", err)
	}
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(wif.SerializePubKey()), params)
	if err != nil {
		return nil, err
	}
	return &Writer{
		wallet: wallet,
		params: params,
		wif:    wif,
		addr:   addr,
		prefix: prefix,
		feeSat: feeSat,
		log:    log,
	}, nil
}

func (w *Writer) Address() string {
	return w.addr.EncodeAddress()
}

// EnsureWatched makes the node wallet track the anchor address, so
// listunspent can see its coins.
func (w *Writer) EnsureWatched(ctx context.Context) error {
	info, err := w.wallet.GetAddressInfo(ctx, w.Address())
	if err != nil {
		return err
	}
	if info.IsMine || info.IsWatchOnly {
		return nil
	}
	pubKeyHex := hex.EncodeToString(w.wif.SerializePubKey())
	if err := w.wallet.ImportPubKey(ctx, pubKeyHex); err != nil {
		return err
	}
	w.log.Info().Str("address", w.Address()).Msg("anchor address imported into wallet")
	return nil
}

// WriteAnchor anchors one payload on chain and returns the txid.
func (w *Writer) WriteAnchor(ctx context.Context, payload []byte) (string, error) {
	data := make([]byte, 0, len(w.prefix)+len(payload))
	data = append(data, w.prefix...)
	data = append(data, payload...)
	if len(data) > maxOpReturnData {
		return "", ErrPayloadTooLarge
	}

	unspent, err := w.wallet.ListUnspent(ctx, []string{w.Address()})
	if err != nil {
		return "", err
	}

	coins, total, err := selectCoins(unspent, w.feeSat)
	if err != nil {
		return "", err
	}

	tx, err := w.buildTransaction(coins, total, data)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}

	txid, err := w.wallet.SendRawTransaction(ctx, hex.EncodeToString(buf.Bytes()))
	if err != nil {
		return "", err
	}
	w.log.Info().
		Str("txid", txid).
		Int("payload_bytes", len(payload)).
		Uint64("fee_sat", w.feeSat).
		Msg("anchor broadcast")
	return txid, nil
}

func (w *Writer) buildTransaction(coins []types.Unspent, total uint64, data []byte) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(wire.TxVersion)

	prevScripts := make([][]byte, 0, len(coins))
	for _, coin := range coins {
		prevHash, err := chainhash.NewHashFromStr(coin.Txid)
		if err != nil {
			return nil, err
		}
		prevScript, err := hex.DecodeString(coin.ScriptPubKey)
		if err != nil {
			return nil, err
		}
		prevScripts = append(prevScripts, prevScript)
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(prevHash, coin.Vout), nil, nil))
	}

	nullData, err := txscript.NullDataScript(data)
	if err != nil {
		return nil, err
	}
	tx.AddTxOut(wire.NewTxOut(0, nullData))

	change := total - w.feeSat
	if change > dustLimit {
		changeScript, err := txscript.PayToAddrScript(w.addr)
		if err != nil {
			return nil, err
		}
		tx.AddTxOut(wire.NewTxOut(int64(change), changeScript))
	}

	for i := range tx.TxIn {
		sigScript, err := txscript.SignatureScript(
			tx, i, prevScripts[i], txscript.SigHashAll, w.wif.PrivKey, w.wif.CompressPubKey,
		)
		if err != nil {
			return nil, err
		}
		tx.TxIn[i].SignatureScript = sigScript
	}
	return tx, nil
}

// selectCoins greedily accumulates spendable coins until the fee is covered.
func selectCoins(unspent []types.Unspent, feeSat uint64) ([]types.Unspent, uint64, error) {
	var coins []types.Unspent
	var total uint64
	for _, coin := range unspent {
		if !coin.Spendable && coin.Confirmations == 0 {
			continue
		}
		amount, err := btcutil.NewAmount(coin.Amount)
		if err != nil {
			return nil, 0, err
		}
		coins = append(coins, coin)
		total += uint64(amount)
		if total >= feeSat {
			return coins, total, nil
		}
	}
	return nil, 0, ErrInsufficientFunds
}

func netParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "main":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", network)
	}
}
