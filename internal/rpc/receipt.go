package rpc

import (
	"context"
	"log/slog"
	"time"

	"github.com/gateway-fm/txbot/internal/txerr"
)

// ReceiptFetcher is the subset of Client needed to wait for inclusion.
type ReceiptFetcher interface {
	GetTransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error)
}

// WaitForReceipt polls until the transaction is mined or ctx is done.
// Transient lookup failures are logged and polling continues; any other
// lookup error is returned.
func WaitForReceipt(ctx context.Context, c ReceiptFetcher, txHash string, interval time.Duration, logger *slog.Logger) (*TransactionReceipt, error) {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		receipt, err := c.GetTransactionReceipt(ctx, txHash)
		switch {
		case err == nil && receipt != nil:
			return receipt, nil
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil && !txerr.IsTransient(err):
			return nil, err
		case err != nil:
			logger.Debug("receipt lookup failed, polling again",
				slog.String("txHash", txHash),
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
