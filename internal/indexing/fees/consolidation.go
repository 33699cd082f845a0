package fees

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/btcsuite/btcd/btcjson"

	"github.com/satwatch/satwatch/internal/infra/chain/bitcoin"
)

// satVBToBTCPerKvB converts a sat/vB rate into the node's fee_rate unit.
const satVBToBTCPerKvB = 1e-5

// Wallet is the node wallet surface used to assemble consolidation PSBTs.
type Wallet interface {
	ListUnspent(ctx context.Context, minAmountBTC float64) ([]btcjson.ListUnspentResult, error)
	WalletCreateFundedPSBT(ctx context.Context, inputs []bitcoin.PSBTInput, outputs []map[string]float64, lockTime int64, options map[string]any) (*bitcoin.FundedPSBT, error)
}

// ConsolidationConfig controls UTXO sweep preparation.
type ConsolidationConfig struct {
	Label            string `yaml:"label"`
	MinUTXOSats      int64  `yaml:"min_utxo_sats"`
	MaxInputs        int    `yaml:"max_inputs"`
	TargetAddress    string `yaml:"target_address"`
	MinTriggerSatVB  int64  `yaml:"min_trigger_satvb"`
	PSBTCooldownSecs int    `yaml:"psbt_cooldown_secs"`
	PSBTDir          string `yaml:"psbt_dir"`
}

// PSBTResult reports the outcome of one consolidation attempt.
type PSBTResult struct {
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
	Inputs      int    `json:"inputs,omitempty"`
	PSBTPath    string `json:"psbt_path,omitempty"`
	TargetSatVB int64  `json:"target_satvb,omitempty"`
}

// Consolidator sweeps small wallet UTXOs into a single output. It only
// prepares unsigned PSBTs on disk; signing and broadcast stay manual.
type Consolidator struct {
	wallet Wallet
	cfg    ConsolidationConfig
	now    func() time.Time
}

func NewConsolidator(wallet Wallet, cfg ConsolidationConfig) *Consolidator {
	if cfg.PSBTDir == "" {
		cfg.PSBTDir = "."
	}
	return &Consolidator{wallet: wallet, cfg: cfg, now: time.Now}
}

// PreparePSBT selects the smallest eligible UTXOs, funds a sweep to the
// target address at targetSatVB with the fee subtracted from the output,
// and writes the unsigned PSBT to disk for review.
func (c *Consolidator) PreparePSBT(ctx context.Context, targetSatVB int64) (PSBTResult, error) {
	if c.cfg.TargetAddress == "" {
		return PSBTResult{Status: "skipped", Reason: "no target address configured"}, nil
	}

	utxos, err := c.wallet.ListUnspent(ctx, float64(c.cfg.MinUTXOSats)/satoshisPerBTC)
	if err != nil {
		return PSBTResult{}, err
	}
	sort.Slice(utxos, func(i, j int) bool {
		return amountSats(utxos[i]) < amountSats(utxos[j])
	})

	inputs := make([]bitcoin.PSBTInput, 0, c.cfg.MaxInputs)
	var totalSats int64
	for _, u := range utxos {
		if len(inputs) >= c.cfg.MaxInputs {
			break
		}
		inputs = append(inputs, bitcoin.PSBTInput{Txid: u.TxID, Vout: u.Vout})
		totalSats += amountSats(u)
	}
	if len(inputs) == 0 {
		return PSBTResult{Status: "skipped", Reason: "no utxos matched"}, nil
	}

	// The wallet subtracts the fee from the single output, so the
	// output starts at the raw input total.
	outputs := []map[string]float64{
		{c.cfg.TargetAddress: float64(totalSats) / satoshisPerBTC},
	}
	options := map[string]any{
		"subtractFeeFromOutputs": []int{0},
		"replaceable":            false,
		"fee_rate":               float64(targetSatVB) * satVBToBTCPerKvB,
	}

	funded, err := c.wallet.WalletCreateFundedPSBT(ctx, inputs, outputs, 0, options)
	if err != nil {
		return PSBTResult{}, err
	}

	name := fmt.Sprintf("consolidate_%d_%dsatvb.psbt", c.now().Unix(), targetSatVB)
	path := filepath.Join(c.cfg.PSBTDir, name)
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if err := os.MkdirAll(c.cfg.PSBTDir, 0o755); err != nil {
		return PSBTResult{}, fmt.Errorf("create psbt dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(funded.PSBT), 0o644); err != nil {
		return PSBTResult{}, fmt.Errorf("write psbt: %w", err)
	}

	return PSBTResult{
		Status:      "ok",
		Inputs:      len(inputs),
		PSBTPath:    path,
		TargetSatVB: targetSatVB,
	}, nil
}

func amountSats(u btcjson.ListUnspentResult) int64 {
	return int64(math.Round(u.Amount * satoshisPerBTC))
}
