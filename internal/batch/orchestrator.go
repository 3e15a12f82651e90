// Package batch runs a set of intents concurrently with per-intent failure isolation.
package batch

import (
	"context"
	"log/slog"
	"math/big"

	"golang.org/x/sync/errgroup"

	"github.com/gateway-fm/txbot/internal/gas"
	"github.com/gateway-fm/txbot/internal/intent"
	"github.com/gateway-fm/txbot/internal/metrics"
	"github.com/gateway-fm/txbot/internal/nonce"
	"github.com/gateway-fm/txbot/internal/pipeline"
)

// Executor drives one intent to completion.
type Executor interface {
	Execute(ctx context.Context, seq *nonce.Sequencer, in intent.Intent, gasPrice *big.Int) pipeline.Result
}

// Config configures an Orchestrator.
type Config struct {
	Executor    Executor
	Concurrency int // max intents in flight (default 32)
	Metrics     *metrics.PrometheusMetrics
	// OnResult is called once per finished intent, from the intent's
	// goroutine, with the context the batch was run under.
	OnResult func(context.Context, pipeline.Result)
	Logger   *slog.Logger
}

// Orchestrator fans a batch out over goroutines and joins on all of them.
type Orchestrator struct {
	exec        Executor
	concurrency int
	metrics     *metrics.PrometheusMetrics
	onResult    func(context.Context, pipeline.Result)
	logger      *slog.Logger
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 32
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		exec:        cfg.Executor,
		concurrency: cfg.Concurrency,
		metrics:     cfg.Metrics,
		onResult:    cfg.OnResult,
		logger:      cfg.Logger,
	}
}

// Run executes every intent with the quoted price and returns one Result per
// intent, in input order. No failure cancels a sibling; Run itself never
// fails. Once ctx is done, intents that have not started are reported as not
// started and consume no nonce.
func (o *Orchestrator) Run(ctx context.Context, seq *nonce.Sequencer, intents []intent.Intent, quote gas.Quote) []pipeline.Result {
	if len(intents) == 0 {
		return []pipeline.Result{}
	}
	o.metrics.RecordBatch(len(intents))

	results := make([]pipeline.Result, len(intents))

	// Members never return an error, so the group's context is never
	// cancelled by a sibling; it only joins and bounds concurrency.
	var g errgroup.Group
	g.SetLimit(o.concurrency)

	for i := range intents {
		i := i
		g.Go(func() error {
			o.metrics.AddInFlight(1)
			defer o.metrics.AddInFlight(-1)

			res := o.exec.Execute(ctx, seq, intents[i], quote.Price)
			results[i] = res
			if o.onResult != nil {
				o.onResult(ctx, res)
			}
			return nil
		})
	}
	_ = g.Wait()

	ok, submitted := 0, 0
	for _, r := range results {
		if r.OK() {
			ok++
		}
		if r.Submitted() {
			submitted++
		}
	}
	o.logger.Info("batch finished",
		slog.Int("intents", len(intents)),
		slog.Int("submitted", submitted),
		slog.Int("confirmed", ok),
		slog.Int("failed", len(intents)-ok),
		slog.String("gasPriceGwei", quote.Gwei()),
	)
	return results
}
