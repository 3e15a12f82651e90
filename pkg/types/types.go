// Package types contains public API types for txbot.
// These types form the external interface and must remain backwards-compatible.
package types

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OperationKind names one entry of the operation catalog.
type OperationKind string

const (
	OpSwap           OperationKind = "swap"
	OpAddLiquidity   OperationKind = "add-liquidity"
	OpRandomSend     OperationKind = "random-send"
	OpSendAndReceive OperationKind = "send-and-receive"
)

// OperationKinds returns every supported kind.
func OperationKinds() []OperationKind {
	return []OperationKind{OpSwap, OpAddLiquidity, OpRandomSend, OpSendAndReceive}
}

// Valid reports whether k is a supported kind.
func (k OperationKind) Valid() bool {
	return slices.Contains(OperationKinds(), k)
}

// Defaults applied by OperationRequest.ApplyDefaults.
const (
	DefaultSwapCount           = 2
	DefaultSwapAmount          = "10"
	DefaultLiquidityToken      = "WXRP"
	DefaultLiquidityTokenAmt   = "5"
	DefaultLiquidityBaseAmount = "0.001"
	DefaultSendToken           = "WXRP"
	DefaultSendAmount          = "0.0001"
	DefaultRandomSendCount     = 1
	DefaultSendAndReceiveCount = 10

	// MaxCount bounds per-wallet swap and recipient counts.
	MaxCount = 1000
)

// SwapParams configures the swap operation. Leaving From and To empty picks
// a random pair and direction for every swap.
type SwapParams struct {
	Count  int    `json:"count"`          // swaps per wallet
	Amount string `json:"amount"`         // input amount per swap, in token units
	From   string `json:"from,omitempty"` // input token symbol
	To     string `json:"to,omitempty"`   // output token symbol
}

// LiquidityParams configures add-liquidity against the native coin.
type LiquidityParams struct {
	Token       string `json:"token"`
	TokenAmount string `json:"tokenAmount"`
	BaseAmount  string `json:"baseAmount"` // native side
}

// SendParams configures random-send and send-and-receive.
type SendParams struct {
	Token  string `json:"token"` // the native symbol sends the native coin (random-send only)
	Amount string `json:"amount"`
	Count  int    `json:"count"` // recipients per wallet
}

// OperationRequest is the API request to start a run.
type OperationRequest struct {
	Kind OperationKind `json:"kind"`
	// Wallets restricts the run to these labels or addresses. Empty means all.
	Wallets   []string         `json:"wallets,omitempty"`
	Swap      *SwapParams      `json:"swap,omitempty"`
	Liquidity *LiquidityParams `json:"liquidity,omitempty"`
	Send      *SendParams      `json:"send,omitempty"`
}

// ApplyDefaults fills the parameter struct of the request's kind.
func (r *OperationRequest) ApplyDefaults() {
	switch r.Kind {
	case OpSwap:
		if r.Swap == nil {
			r.Swap = &SwapParams{}
		}
		if r.Swap.Count == 0 {
			r.Swap.Count = DefaultSwapCount
		}
		if r.Swap.Amount == "" {
			r.Swap.Amount = DefaultSwapAmount
		}
	case OpAddLiquidity:
		if r.Liquidity == nil {
			r.Liquidity = &LiquidityParams{}
		}
		if r.Liquidity.Token == "" {
			r.Liquidity.Token = DefaultLiquidityToken
		}
		if r.Liquidity.TokenAmount == "" {
			r.Liquidity.TokenAmount = DefaultLiquidityTokenAmt
		}
		if r.Liquidity.BaseAmount == "" {
			r.Liquidity.BaseAmount = DefaultLiquidityBaseAmount
		}
	case OpRandomSend, OpSendAndReceive:
		if r.Send == nil {
			r.Send = &SendParams{}
		}
		if r.Send.Token == "" {
			r.Send.Token = DefaultSendToken
		}
		if r.Send.Amount == "" {
			r.Send.Amount = DefaultSendAmount
		}
		if r.Send.Count == 0 {
			if r.Kind == OpRandomSend {
				r.Send.Count = DefaultRandomSendCount
			} else {
				r.Send.Count = DefaultSendAndReceiveCount
			}
		}
	}
}

// Validate checks the request's shape. Token symbols are resolved later
// against the configured registry.
func (r OperationRequest) Validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("unknown operation kind %q", r.Kind)
	}

	switch r.Kind {
	case OpSwap:
		if r.Liquidity != nil || r.Send != nil {
			return errors.New("swap accepts only swap parameters")
		}
		if r.Swap == nil {
			return errors.New("swap parameters are required")
		}
		if err := validCount(r.Swap.Count); err != nil {
			return fmt.Errorf("swap: %w", err)
		}
		if err := validAmount(r.Swap.Amount); err != nil {
			return fmt.Errorf("swap: %w", err)
		}
		if (r.Swap.From == "") != (r.Swap.To == "") {
			return errors.New("swap: from and to must be set together")
		}
		if r.Swap.From != "" && strings.EqualFold(r.Swap.From, r.Swap.To) {
			return errors.New("swap: from and to must differ")
		}
	case OpAddLiquidity:
		if r.Swap != nil || r.Send != nil {
			return errors.New("add-liquidity accepts only liquidity parameters")
		}
		if r.Liquidity == nil {
			return errors.New("liquidity parameters are required")
		}
		if r.Liquidity.Token == "" {
			return errors.New("add-liquidity: token is required")
		}
		if err := validAmount(r.Liquidity.TokenAmount); err != nil {
			return fmt.Errorf("add-liquidity token amount: %w", err)
		}
		if err := validAmount(r.Liquidity.BaseAmount); err != nil {
			return fmt.Errorf("add-liquidity base amount: %w", err)
		}
	case OpRandomSend, OpSendAndReceive:
		if r.Swap != nil || r.Liquidity != nil {
			return fmt.Errorf("%s accepts only send parameters", r.Kind)
		}
		if r.Send == nil {
			return errors.New("send parameters are required")
		}
		if r.Send.Token == "" {
			return fmt.Errorf("%s: token is required", r.Kind)
		}
		if err := validCount(r.Send.Count); err != nil {
			return fmt.Errorf("%s: %w", r.Kind, err)
		}
		if err := validAmount(r.Send.Amount); err != nil {
			return fmt.Errorf("%s: %w", r.Kind, err)
		}
	}
	return nil
}

func validCount(n int) error {
	if n < 1 || n > MaxCount {
		return fmt.Errorf("count must be between 1 and %d, got %d", MaxCount, n)
	}
	return nil
}

func validAmount(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid amount %q", s)
	}
	if !d.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", s)
	}
	return nil
}

// RunStatus represents the runner state.
type RunStatus string

const (
	StatusIdle      RunStatus = "idle"
	StatusRunning   RunStatus = "running"
	StatusStopping  RunStatus = "stopping"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// SubmissionStatus is the final state of one intent.
type SubmissionStatus string

const (
	SubmissionConfirmed  SubmissionStatus = "confirmed"
	SubmissionFailed     SubmissionStatus = "failed"
	SubmissionNotStarted SubmissionStatus = "not-started"
	SubmissionSkipped    SubmissionStatus = "skipped"
)

// Submission records one intent's outcome within a run.
type Submission struct {
	RunID     string           `json:"runId"`
	Wallet    string           `json:"wallet"` // wallet that started the operation
	Phase     string           `json:"phase"`
	Call      string           `json:"call,omitempty"`
	Label     string           `json:"label,omitempty"`
	From      string           `json:"from,omitempty"`
	To        string           `json:"to,omitempty"`
	Nonce     *uint64          `json:"nonce,omitempty"`
	TxHash    string           `json:"txHash,omitempty"`
	Status    SubmissionStatus `json:"status"`
	Attempts  int              `json:"attempts"`
	GasUsed   uint64           `json:"gasUsed,omitempty"`
	Block     uint64           `json:"block,omitempty"`
	LatencyMs int64            `json:"latencyMs,omitempty"`
	Error     string           `json:"error,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Run summarizes one run across all selected wallets.
type Run struct {
	ID          string           `json:"id"`
	Request     OperationRequest `json:"request"`
	Status      RunStatus        `json:"status"`
	StartedAt   time.Time        `json:"startedAt"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
	Wallets     int              `json:"wallets"`
	Operations  int              `json:"operations"` // catalog invocations
	Confirmed   int              `json:"confirmed"`
	Failed      int              `json:"failed"`
	Skipped     int              `json:"skipped"`
	Latency     *LatencyStats    `json:"latency,omitempty"` // confirmed transactions only
	Error       string           `json:"error,omitempty"`
}

// LatencyStats summarizes submission-to-receipt latency in milliseconds.
type LatencyStats struct {
	Count   int             `json:"count"`
	Min     float64         `json:"min"`
	Avg     float64         `json:"avg"`
	P50     float64         `json:"p50"`
	P95     float64         `json:"p95"`
	P99     float64         `json:"p99"`
	Max     float64         `json:"max"`
	Buckets []LatencyBucket `json:"buckets,omitempty"`
}

// LatencyBucket is one histogram bucket of LatencyStats.
type LatencyBucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// RunDetail is a run with every recorded submission.
type RunDetail struct {
	Run
	Submissions []Submission `json:"submissions"`
}

// StartRunResponse is returned by the run endpoint.
type StartRunResponse struct {
	ID     string    `json:"id"`
	Status RunStatus `json:"status"`
}

// StatusResponse reports the runner state and the active run, if any.
type StatusResponse struct {
	Status  RunStatus `json:"status"`
	Current *Run      `json:"current,omitempty"`
}

// WalletBalance is one wallet's native and token balances, in display units.
type WalletBalance struct {
	Label   string            `json:"label"`
	Address string            `json:"address"`
	Native  string            `json:"native"`
	Tokens  map[string]string `json:"tokens"`
	Error   string            `json:"error,omitempty"`
}

// Event types pushed over the WebSocket feed.
const (
	EventSubmission = "submission"
	EventRun        = "run"
)

// Event is one message on the live feed.
type Event struct {
	Type       string      `json:"type"`
	Submission *Submission `json:"submission,omitempty"`
	Run        *Run        `json:"run,omitempty"`
	Timestamp  int64       `json:"timestamp"` // Unix milliseconds
}
