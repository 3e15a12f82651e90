// Package pipeline runs one intent through its lifecycle:
// nonce, build, sign, submit, confirm.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/txbot/internal/intent"
	"github.com/gateway-fm/txbot/internal/metrics"
	"github.com/gateway-fm/txbot/internal/nonce"
	"github.com/gateway-fm/txbot/internal/retry"
	"github.com/gateway-fm/txbot/internal/rpc"
	"github.com/gateway-fm/txbot/internal/sender"
	"github.com/gateway-fm/txbot/internal/txbuilder"
	"github.com/gateway-fm/txbot/internal/txerr"
)

// Stage names the lifecycle step an intent stopped at.
type Stage string

const (
	StageNotStarted Stage = "not-started"
	StageNonce      Stage = "nonce"
	StageBuild      Stage = "build"
	StageSubmit     Stage = "submit"
	StageConfirm    Stage = "confirm"
	StageDone       Stage = "done"
)

// Result contains the outcome of one intent. Exactly one is produced per intent.
type Result struct {
	Intent   intent.Intent
	Stage    Stage
	Nonce    uint64
	HasNonce bool
	TxHash   common.Hash
	Attempts int
	Receipt  *rpc.TransactionReceipt
	Latency  time.Duration // submission to receipt
	Err      error
}

// OK reports whether the transaction was mined successfully.
func (r Result) OK() bool {
	return r.Err == nil && r.Receipt != nil && r.Receipt.Status == 1
}

// Submitted reports whether the node accepted the transaction.
func (r Result) Submitted() bool {
	return r.Stage == StageConfirm || r.Stage == StageDone
}

// Pipeline handles the complete transaction lifecycle.
type Pipeline struct {
	builder        *txbuilder.Builder
	sender         *sender.Sender
	receipts       rpc.ReceiptFetcher
	retry          *retry.Executor
	metrics        *metrics.PrometheusMetrics
	confirmTimeout time.Duration
	pollInterval   time.Duration
	logger         *slog.Logger
}

// Config for creating a Pipeline.
type Config struct {
	Builder        *txbuilder.Builder
	Sender         *sender.Sender
	Receipts       rpc.ReceiptFetcher
	Retry          *retry.Executor // used for the initial pending-nonce read
	Metrics        *metrics.PrometheusMetrics
	ConfirmTimeout time.Duration // default 2m
	PollInterval   time.Duration // default 1s
	Logger         *slog.Logger
}

// New creates a new Pipeline.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	return &Pipeline{
		builder:        cfg.Builder,
		sender:         cfg.Sender,
		receipts:       cfg.Receipts,
		retry:          cfg.Retry,
		metrics:        cfg.Metrics,
		confirmTimeout: cfg.ConfirmTimeout,
		pollInterval:   cfg.PollInterval,
		logger:         logger,
	}
}

// Execute drives one intent to a receipt. Failures are recorded in the
// Result, never returned. An intent whose context is already done is not
// started and consumes no nonce.
func (p *Pipeline) Execute(ctx context.Context, seq *nonce.Sequencer, in intent.Intent, gasPrice *big.Int) Result {
	res := Result{Intent: in, Stage: StageNotStarted}
	callType := string(in.Call)

	if err := ctx.Err(); err != nil {
		res.Err = fmt.Errorf("not started: %w", err)
		return res
	}
	if in.Sender == nil {
		res.Err = fmt.Errorf("not started: intent has no sender")
		return res
	}

	// Reject malformed intents before they reserve a nonce.
	if _, err := p.builder.Encode(in); err != nil {
		res.Stage = StageBuild
		res.Err = fmt.Errorf("build: %w", err)
		p.metrics.RecordTxFailed(callType)
		return res
	}

	// Nonce
	res.Stage = StageNonce
	n, err := retry.Do(ctx, p.retry, "eth_getTransactionCount", func(ctx context.Context) (uint64, error) {
		return seq.Next(ctx, in.Sender.Address)
	})
	if err != nil {
		res.Err = fmt.Errorf("nonce: %w", err)
		p.metrics.RecordTxFailed(callType)
		return res
	}
	res.Nonce, res.HasNonce = n, true

	// Build + sign
	res.Stage = StageBuild
	signed, err := p.builder.BuildSigned(in, n, gasPrice)
	if err != nil {
		res.Err = fmt.Errorf("build: %w", err)
		p.metrics.RecordTxFailed(callType)
		return res
	}
	res.TxHash = signed.Hash()

	// Submit
	res.Stage = StageSubmit
	attempts, err := p.sender.Send(ctx, signed)
	res.Attempts = attempts
	if err != nil {
		res.Err = fmt.Errorf("submit: %w", err)
		p.metrics.RecordTxFailed(callType)
		p.logger.Warn("submission failed",
			slog.String("call", callType),
			slog.String("sender", in.Sender.Address.Hex()),
			slog.Uint64("nonce", n),
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()),
		)
		return res
	}
	sentAt := time.Now()
	p.metrics.RecordTxSubmitted(callType)

	// Confirm
	res.Stage = StageConfirm
	waitCtx, cancel := context.WithTimeout(ctx, p.confirmTimeout)
	defer cancel()
	receipt, err := rpc.WaitForReceipt(waitCtx, p.receipts, res.TxHash.Hex(), p.pollInterval, p.logger)
	if err != nil {
		res.Err = fmt.Errorf("confirm: %w", err)
		p.metrics.RecordTxFailed(callType)
		return res
	}
	res.Receipt = receipt
	res.Latency = time.Since(sentAt)

	if receipt.Status != 1 {
		res.Err = &txerr.ChainRejectionError{TxHash: res.TxHash, Reason: "execution reverted"}
		p.metrics.RecordTxFailed(callType)
		return res
	}

	res.Stage = StageDone
	p.metrics.RecordTxConfirmed(callType, res.Latency.Seconds())
	p.logger.Debug("transaction confirmed",
		slog.String("call", callType),
		slog.String("txHash", res.TxHash.Hex()),
		slog.Uint64("block", receipt.BlockNumber),
	)
	return res
}
