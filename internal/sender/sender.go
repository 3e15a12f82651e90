// Package sender broadcasts signed transactions with bounded concurrency and
// retries transient failures by re-sending the identical payload.
package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/txbot/internal/retry"
	"github.com/gateway-fm/txbot/internal/rpc"
	"github.com/gateway-fm/txbot/internal/txerr"
)

// RawSender is the subset of rpc.Client used for broadcasting.
type RawSender interface {
	SendRawTransaction(ctx context.Context, txRLP []byte) error
}

// Sender broadcasts transactions with semaphore-based backpressure.
type Sender struct {
	client    RawSender
	retry     *retry.Executor
	semaphore chan struct{}
	logger    *slog.Logger
}

// Config for creating a Sender.
type Config struct {
	Client      RawSender
	Retry       *retry.Executor
	Concurrency int // Max concurrent broadcasts (default: 64)
	Logger      *slog.Logger
}

// New creates a new Sender.
func New(cfg Config) *Sender {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 64
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Sender{
		client:    cfg.Client,
		retry:     cfg.Retry,
		semaphore: make(chan struct{}, concurrency),
		logger:    logger,
	}
}

// Send broadcasts tx, retrying transient failures. It returns the number of
// broadcast attempts made. Node rejections come back as *txerr.ChainRejectionError.
// A re-broadcast answered with "already known" means an earlier attempt landed
// and counts as success. So does a re-broadcast answered with "nonce too low"
// or "replacement transaction underpriced": the earlier attempt may have been
// mined or pooled, and the receipt for this hash settles it.
func (s *Sender) Send(ctx context.Context, tx *types.Transaction) (int, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return 0, fmt.Errorf("marshal tx: %w", err)
	}

	select {
	case s.semaphore <- struct{}{}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	defer func() { <-s.semaphore }()

	attempts := 0
	_, err = retry.Do(ctx, s.retry, "eth_sendRawTransaction", func(ctx context.Context) (struct{}, error) {
		attempts++
		err := s.client.SendRawTransaction(ctx, raw)
		if err == nil {
			return struct{}{}, nil
		}
		if isAlreadyKnown(err) {
			s.logger.Debug("transaction already known to node",
				slog.String("txHash", tx.Hash().Hex()),
				slog.Int("attempt", attempts),
			)
			return struct{}{}, nil
		}
		if attempts > 1 && mayHaveLanded(err) {
			s.logger.Debug("re-broadcast rejected, earlier attempt may have landed",
				slog.String("txHash", tx.Hash().Hex()),
				slog.Int("attempt", attempts),
				slog.String("error", err.Error()),
			)
			return struct{}{}, nil
		}
		var rpcErr *rpc.RPCError
		if errors.As(err, &rpcErr) {
			return struct{}{}, &txerr.ChainRejectionError{TxHash: tx.Hash(), Reason: rpcErr.Message, Err: err}
		}
		return struct{}{}, err
	})
	return attempts, err
}

func isAlreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}

// mayHaveLanded matches rejections a node gives a re-broadcast whose nonce is
// already taken, possibly by the same transaction.
func mayHaveLanded(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce too low") || strings.Contains(msg, "replacement transaction underpriced")
}
