// Package bitcoin provides a typed adapter over the Bitcoin Core JSON-RPC surface.
package bitcoin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
)

const maxConfirmations = 9999999

// Caller executes one JSON-RPC method and returns its raw result.
type Caller interface {
	Call(ctx context.Context, method string, params ...any) (json.RawMessage, error)
}

// Adapter wraps a Caller with typed Bitcoin Core calls.
type Adapter struct {
	rpc Caller
}

func New(rpc Caller) *Adapter {
	return &Adapter{rpc: rpc}
}

func (a *Adapter) callInto(ctx context.Context, out any, method string, params ...any) error {
	raw, err := a.rpc.Call(ctx, method, params...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

func (a *Adapter) GetBlockCount(ctx context.Context) (int64, error) {
	var height int64
	if err := a.callInto(ctx, &height, "getblockcount"); err != nil {
		return 0, fmt.Errorf("get block count: %w", err)
	}
	return height, nil
}

func (a *Adapter) GetBlockHash(ctx context.Context, height int64) (string, error) {
	var hash string
	if err := a.callInto(ctx, &hash, "getblockhash", height); err != nil {
		return "", fmt.Errorf("get block hash %d: %w", height, err)
	}
	return hash, nil
}

// GetBlock fetches a block at verbosity 1, with txids but no tx details.
func (a *Adapter) GetBlock(ctx context.Context, hash string) (*btcjson.GetBlockVerboseResult, error) {
	var block btcjson.GetBlockVerboseResult
	if err := a.callInto(ctx, &block, "getblock", hash, 1); err != nil {
		return nil, fmt.Errorf("get block %s: %w", hash, err)
	}
	return &block, nil
}

// GetRawTransaction fetches a decoded transaction. blockHash may be empty
// for unconfirmed transactions; once a transaction is in a block, nodes
// without a full tx index need the hash to resolve it.
func (a *Adapter) GetRawTransaction(ctx context.Context, txid, blockHash string) (*btcjson.TxRawResult, error) {
	params := []any{txid, true}
	if blockHash != "" {
		params = append(params, blockHash)
	}

	var tx btcjson.TxRawResult
	if err := a.callInto(ctx, &tx, "getrawtransaction", params...); err != nil {
		return nil, fmt.Errorf("get raw transaction %s: %w", txid, err)
	}
	return &tx, nil
}

// GetTxOut returns an unspent output, or nil if it is spent or unknown.
func (a *Adapter) GetTxOut(ctx context.Context, txid string, vout uint32) (*btcjson.GetTxOutResult, error) {
	raw, err := a.rpc.Call(ctx, "gettxout", txid, vout)
	if err != nil {
		return nil, fmt.Errorf("get txout %s:%d: %w", txid, vout, err)
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}

	var out btcjson.GetTxOutResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode gettxout result: %w", err)
	}
	return &out, nil
}

// MempoolFees is the per-entry fee object reported by modern nodes.
type MempoolFees struct {
	Base *float64 `json:"base"`
}

// MempoolEntry is one getrawmempool verbose entry. Numeric fields are
// pointers so absent and zero are distinguishable across node versions.
type MempoolEntry struct {
	Vsize  *int64      `json:"vsize"`
	Weight *int64      `json:"weight"`
	Fee    *float64    `json:"fee"`
	Fees   MempoolFees `json:"fees"`
}

func (a *Adapter) GetRawMempoolVerbose(ctx context.Context) (map[string]MempoolEntry, error) {
	var entries map[string]MempoolEntry
	if err := a.callInto(ctx, &entries, "getrawmempool", true); err != nil {
		return nil, fmt.Errorf("get raw mempool: %w", err)
	}
	return entries, nil
}

// MempoolInfo is the subset of getmempoolinfo the fee stream needs.
type MempoolInfo struct {
	Size          int64   `json:"size"`
	Bytes         int64   `json:"bytes"`
	MempoolMinFee float64 `json:"mempoolminfee"`
}

func (a *Adapter) GetMempoolInfo(ctx context.Context) (*MempoolInfo, error) {
	var info MempoolInfo
	if err := a.callInto(ctx, &info, "getmempoolinfo"); err != nil {
		return nil, fmt.Errorf("get mempool info: %w", err)
	}
	return &info, nil
}

// ListUnspent returns wallet UTXOs of at least minAmountBTC, including
// unconfirmed and watch-only outputs.
func (a *Adapter) ListUnspent(ctx context.Context, minAmountBTC float64) ([]btcjson.ListUnspentResult, error) {
	query := map[string]any{"minimumAmount": minAmountBTC}

	var utxos []btcjson.ListUnspentResult
	if err := a.callInto(ctx, &utxos, "listunspent", 0, maxConfirmations, []string{}, true, query); err != nil {
		return nil, fmt.Errorf("list unspent: %w", err)
	}
	return utxos, nil
}

// PSBTInput selects one outpoint for a funded PSBT.
type PSBTInput struct {
	Txid string `json:"txid"`
	Vout uint32 `json:"vout"`
}

// FundedPSBT is the walletcreatefundedpsbt result.
type FundedPSBT struct {
	PSBT      string  `json:"psbt"`
	Fee       float64 `json:"fee"`
	ChangePos int     `json:"changepos"`
}

// WalletCreateFundedPSBT builds an unsigned, funded PSBT from the given
// inputs and outputs without broadcasting anything.
func (a *Adapter) WalletCreateFundedPSBT(
	ctx context.Context,
	inputs []PSBTInput,
	outputs []map[string]float64,
	lockTime int64,
	options map[string]any,
) (*FundedPSBT, error) {
	var result FundedPSBT
	if err := a.callInto(ctx, &result, "walletcreatefundedpsbt", inputs, outputs, lockTime, options, true); err != nil {
		return nil, fmt.Errorf("create funded psbt: %w", err)
	}
	return &result, nil
}
