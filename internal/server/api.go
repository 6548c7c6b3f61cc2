package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/anchorwatch/sidetree-oracle/internal/chain"
	"github.com/anchorwatch/sidetree-oracle/internal/core"
	"github.com/anchorwatch/sidetree-oracle/internal/logging"
	"github.com/anchorwatch/sidetree-oracle/internal/store"
	"github.com/anchorwatch/sidetree-oracle/internal/types"
	"github.com/anchorwatch/sidetree-oracle/internal/writer"
)

// error codes surfaced to callers; internals never leak
const (
	CodeBadRequest  = "bad_request"
	CodeNotFound    = "not_found"
	CodeServerError = "server_error"
	CodeStaleFork   = "invalid_transaction_number_or_time_hash"
)

// TransactionAPI is the wire shape of one anchor record.
type TransactionAPI struct {
	TransactionNumber   uint64 `json:"transactionNumber"`
	TransactionTime     uint32 `json:"transactionTime"`
	TransactionTimeHash string `json:"transactionTimeHash"`
	AnchorString        string `json:"anchorString"`
	FeePaid             uint64 `json:"feePaid"`
}

type TransactionsResponse struct {
	MoreTransactions bool             `json:"moreTransactions"`
	Transactions     []TransactionAPI `json:"transactions"`
}

type TimeResponse struct {
	Time uint32 `json:"time"`
	Hash string `json:"hash"`
}

type FeeResponse struct {
	NormalizedTransactionFee uint64 `json:"normalizedTransactionFee"`
}

type ApiHandler struct {
	Client   chain.Client
	Log      store.TransactionLog
	Quantile *core.QuantileCalculator
	Engine   *core.Engine
	Writer   *writer.Writer // nil when the write path is not configured

	PageSize   uint32
	ProofOfFee core.ProofOfFeeConfig
	Network    string
	Version    string
}

func (h *ApiHandler) GetVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    "sidetree-oracle",
		"version": h.Version,
	})
}

func (h *ApiHandler) GetInfo(c *gin.Context) {
	info := gin.H{
		"network": h.Network,
		"state":   h.Engine.CurrentState().String(),
	}
	if ref := h.Engine.LastSeen(); ref != nil {
		info["height"] = ref.Height
		info["blockHash"] = ref.Hash
	}
	c.JSON(http.StatusOK, info)
}

// GetTime returns the current tip, or the position of the requested hash.
func (h *ApiHandler) GetTime(c *gin.Context) {
	hash := c.Param("hash")
	if hash != "" {
		ref, err := h.Client.HeaderByHash(c.Request.Context(), hash)
		if err != nil {
			var rpcErr *chain.RPCError
			if errors.As(err, &rpcErr) {
				c.JSON(http.StatusNotFound, gin.H{"code": CodeNotFound})
				return
			}
			logging.L.Err(err).Msg("error resolving block hash")
			c.JSON(http.StatusInternalServerError, gin.H{"code": CodeServerError})
			return
		}
		c.JSON(http.StatusOK, TimeResponse{Time: ref.Height, Hash: ref.Hash})
		return
	}

	height, err := h.Client.TipHeight(c.Request.Context())
	if err != nil {
		logging.L.Err(err).Msg("error getting tip height")
		c.JSON(http.StatusInternalServerError, gin.H{"code": CodeServerError})
		return
	}
	tipHash, err := h.Client.BlockHash(c.Request.Context(), height)
	if err != nil {
		logging.L.Err(err).Msg("error getting tip hash")
		c.JSON(http.StatusInternalServerError, gin.H{"code": CodeServerError})
		return
	}
	c.JSON(http.StatusOK, TimeResponse{Time: height, Hash: tipHash})
}

// GetTransactions pages through the anchor log. since and
// transaction-time-hash come in pairs; a lone one of the two is a bad
// request, a pair that no longer matches the chain means the caller sits on
// a stale fork.
func (h *ApiHandler) GetTransactions(c *gin.Context) {
	sinceStr := c.Query("since")
	timeHash := c.Query("transaction-time-hash")

	if (sinceStr == "") != (timeHash == "") {
		c.JSON(http.StatusBadRequest, gin.H{"code": CodeBadRequest})
		return
	}

	var since *uint64
	if sinceStr != "" {
		parsed, err := strconv.ParseUint(sinceStr, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": CodeBadRequest})
			return
		}

		upstream, err := h.Client.BlockHash(c.Request.Context(), types.BlockOfTxNumber(parsed))
		if err != nil || upstream != timeHash {
			if err != nil {
				logging.L.Err(err).Msg("error verifying transaction time hash")
			}
			c.JSON(http.StatusBadRequest, gin.H{"code": CodeStaleFork})
			return
		}
		since = &parsed
	}

	records, err := h.Log.LaterThan(since, h.PageSize)
	if err != nil {
		logging.L.Err(err).Msg("error reading transaction log")
		c.JSON(http.StatusInternalServerError, gin.H{"code": CodeServerError})
		return
	}

	resp := TransactionsResponse{
		MoreTransactions: uint32(len(records)) == h.PageSize,
		Transactions:     make([]TransactionAPI, 0, len(records)),
	}
	for i := range records {
		resp.Transactions = append(resp.Transactions, toAPI(&records[i]))
	}
	c.JSON(http.StatusOK, resp)
}

// PostFirstValid returns the first of the submitted transactions whose
// (time, hash) pair still matches the chain.
func (h *ApiHandler) PostFirstValid(c *gin.Context) {
	var body struct {
		Transactions []TransactionAPI `json:"transactions"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": CodeBadRequest})
		return
	}

	records := make([]types.AnchorRecord, 0, len(body.Transactions))
	for _, tx := range body.Transactions {
		records = append(records, fromAPI(tx))
	}

	first, err := core.FirstValid(c.Request.Context(), h.Client, records)
	if err != nil {
		logging.L.Err(err).Msg("error probing transactions upstream")
		c.JSON(http.StatusInternalServerError, gin.H{"code": CodeServerError})
		return
	}
	if first == nil {
		c.JSON(http.StatusNotFound, gin.H{"code": CodeNotFound})
		return
	}
	c.JSON(http.StatusOK, toAPI(first))
}

// GetFee serves the normalized fee for a block.
func (h *ApiHandler) GetFee(c *gin.Context) {
	height, exists := c.Get("blockheight")
	if !exists {
		c.JSON(http.StatusInternalServerError, gin.H{"code": CodeServerError})
		return
	}

	fee, err := h.Quantile.NormalizedFee(h.ProofOfFee, height.(uint32))
	if err != nil {
		if errors.Is(err, store.NoEntryErr{}) {
			c.JSON(http.StatusNotFound, gin.H{"code": CodeNotFound})
			return
		}
		logging.L.Err(err).Msg("error computing normalized fee")
		c.JSON(http.StatusInternalServerError, gin.H{"code": CodeServerError})
		return
	}
	c.JSON(http.StatusOK, FeeResponse{NormalizedTransactionFee: fee})
}

// PostAnchor writes a new anchor transaction to the chain.
func (h *ApiHandler) PostAnchor(c *gin.Context) {
	if h.Writer == nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": CodeBadRequest, "message": "write path not configured"})
		return
	}

	var body struct {
		AnchorString string `json:"anchorString"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.AnchorString == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": CodeBadRequest})
		return
	}

	txid, err := h.Writer.WriteAnchor(c.Request.Context(), []byte(body.AnchorString))
	if err != nil {
		if errors.Is(err, writer.ErrPayloadTooLarge) || errors.Is(err, writer.ErrInsufficientFunds) {
			c.JSON(http.StatusBadRequest, gin.H{"code": CodeBadRequest, "message": err.Error()})
			return
		}
		logging.L.Err(err).Msg("error writing anchor")
		c.JSON(http.StatusInternalServerError, gin.H{"code": CodeServerError})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactionId": txid})
}

func toAPI(rec *types.AnchorRecord) TransactionAPI {
	return TransactionAPI{
		TransactionNumber:   rec.TransactionNumber,
		TransactionTime:     rec.BlockHeight,
		TransactionTimeHash: rec.BlockHash,
		AnchorString:        string(rec.AnchorPayload),
		FeePaid:             rec.FeePaid,
	}
}

func fromAPI(tx TransactionAPI) types.AnchorRecord {
	return types.AnchorRecord{
		TransactionNumber: tx.TransactionNumber,
		BlockHeight:       tx.TransactionTime,
		BlockHash:         tx.TransactionTimeHash,
		AnchorPayload:     []byte(tx.AnchorString),
		FeePaid:           tx.FeePaid,
	}
}
