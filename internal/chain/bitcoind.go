package chain

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/anchorwatch/sidetree-oracle/internal/types"
)

const rpcClientID = "sidetree-oracle-v0"

// BitcoindConfig carries the connection and retry parameters for the node.
type BitcoindConfig struct {
	Endpoint       string
	User           string
	Pass           string
	RequestTimeout time.Duration
	MaxRetries     uint32
}

// BitcoindClient talks JSON-RPC to a Bitcoin Core node. Timeouts are retried
// per call with exponential backoff; node-reported errors propagate as
// *RPCError.
type BitcoindClient struct {
	cfg    BitcoindConfig
	client *http.Client
	log    zerolog.Logger
}

func NewBitcoindClient(cfg BitcoindConfig, log zerolog.Logger) *BitcoindClient {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	return &BitcoindClient{
		cfg:    cfg,
		client: &http.Client{},
		log:    log,
	}
}

func (c *BitcoindClient) call(ctx context.Context, method string, params []interface{}, result any) error {
	var lastErr error
	timeout := c.cfg.RequestTimeout
	for attempt := uint32(0); attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			c.log.Warn().
				Str("method", method).
				Uint32("attempt", attempt).
				Dur("timeout", timeout).
				Msg("retrying upstream call")
		}
		err := c.callOnce(ctx, method, params, result, timeout)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// node-reported and undecodable responses are not transient
		var rpcErr *RPCError
		var malformed *MalformedErr
		if errors.As(err, &rpcErr) || errors.As(err, &malformed) {
			return err
		}
		// timeout budget doubles per attempt
		timeout *= 2
	}
	if IsTimeout(lastErr) {
		return &TimeoutErr{Method: method, Err: lastErr}
	}
	return lastErr
}

func (c *BitcoindClient) callOnce(ctx context.Context, method string, params []interface{}, result any, timeout time.Duration) error {
	rpcData := types.RPCRequest{
		JSONRPC: "1.0",
		ID:      rpcClientID,
		Method:  method,
		Params:  params,
	}
	payload, err := json.Marshal(rpcData)
	if err != nil {
		return fmt.Errorf("error marshaling RPC data: %v", err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.cfg.Endpoint, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("error creating request: %v", err)
	}

	req.Header.Set("Content-Type", "application/json")
	authText := fmt.Sprintf("%s:%s", c.cfg.User, c.cfg.Pass)
	auth := base64.StdEncoding.EncodeToString([]byte(authText))
	req.Header.Add("Authorization", "Basic "+auth)

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Err(err).Str("method", method).Msg("error performing request")
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.log.Err(err).
			Int("status_code", resp.StatusCode).
			Str("method", method).
			Msg("error reading response body")
		return err
	}

	var rpcResponse types.RPCResponse
	if err = json.Unmarshal(body, &rpcResponse); err != nil {
		if resp.StatusCode >= 400 {
			// no decodable body, surface the transport failure
			return fmt.Errorf("request failed with status %d", resp.StatusCode)
		}
		return &MalformedErr{Method: method, Err: err}
	}

	if rpcResponse.Error != nil {
		return &RPCError{Method: method, Code: rpcResponse.Error.Code, Message: rpcResponse.Error.Message}
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	if result == nil {
		return nil
	}
	if err = json.Unmarshal(rpcResponse.Result, result); err != nil {
		return &MalformedErr{Method: method, Err: err}
	}
	return nil
}

func (c *BitcoindClient) TipHeight(ctx context.Context) (uint32, error) {
	var height uint32
	if err := c.call(ctx, "getblockcount", []interface{}{}, &height); err != nil {
		return 0, err
	}
	return height, nil
}

func (c *BitcoindClient) BlockHash(ctx context.Context, height uint32) (string, error) {
	var hash string
	if err := c.call(ctx, "getblockhash", []interface{}{height}, &hash); err != nil {
		return "", err
	}
	return hash, nil
}

func (c *BitcoindClient) Block(ctx context.Context, height uint32) (*types.Block, error) {
	hash, err := c.BlockHash(ctx, height)
	if err != nil {
		return nil, err
	}
	var block types.Block
	// verbosity 2 includes all transactions with inputs and outputs
	if err := c.call(ctx, "getblock", []interface{}{hash, 2}, &block); err != nil {
		return nil, err
	}
	return &block, nil
}

func (c *BitcoindClient) HeaderByHash(ctx context.Context, hash string) (*BlockRef, error) {
	var header struct {
		Hash   string `json:"hash"`
		Height uint32 `json:"height"`
	}
	if err := c.call(ctx, "getblockheader", []interface{}{hash}, &header); err != nil {
		return nil, err
	}
	return &BlockRef{Height: header.Height, Hash: header.Hash}, nil
}

func (c *BitcoindClient) RawTransaction(ctx context.Context, txid string) (*types.Transaction, error) {
	var tx types.Transaction
	if err := c.call(ctx, "getrawtransaction", []interface{}{txid, true}, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (c *BitcoindClient) ListUnspent(ctx context.Context, addresses []string) ([]types.Unspent, error) {
	var unspent []types.Unspent
	params := []interface{}{0, 9999999, addresses}
	if err := c.call(ctx, "listunspent", params, &unspent); err != nil {
		return nil, err
	}
	return unspent, nil
}

func (c *BitcoindClient) SendRawTransaction(ctx context.Context, txHex string) (string, error) {
	var txid string
	if err := c.call(ctx, "sendrawtransaction", []interface{}{txHex}, &txid); err != nil {
		return "", err
	}
	return txid, nil
}

func (c *BitcoindClient) ImportPubKey(ctx context.Context, pubKeyHex string) error {
	return c.call(ctx, "importpubkey", []interface{}{pubKeyHex}, nil)
}

func (c *BitcoindClient) GetAddressInfo(ctx context.Context, address string) (*types.AddressInfo, error) {
	var info types.AddressInfo
	if err := c.call(ctx, "getaddressinfo", []interface{}{address}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
