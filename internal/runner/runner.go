// Package runner drives operation runs across the configured wallets. A run
// is one OperationRequest applied to each selected wallet in turn, paced by
// the batch delay, with every intent outcome persisted and streamed.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/gateway-fm/txbot/internal/account"
	"github.com/gateway-fm/txbot/internal/catalog"
	"github.com/gateway-fm/txbot/internal/metrics"
	"github.com/gateway-fm/txbot/internal/pipeline"
	"github.com/gateway-fm/txbot/internal/ratelimit"
	"github.com/gateway-fm/txbot/internal/rpc"
	"github.com/gateway-fm/txbot/internal/storage"
	"github.com/gateway-fm/txbot/pkg/types"
)

var (
	// ErrBusy is returned when a run is already active.
	ErrBusy = errors.New("a run is already in progress")
	// ErrNoStorage is returned by history queries when no store is configured.
	ErrNoStorage = errors.New("storage not configured")
)

// UnknownWalletError names a requested wallet that is not configured.
type UnknownWalletError struct {
	Wallet string
}

func (e *UnknownWalletError) Error() string {
	return fmt.Sprintf("unknown wallet %q", e.Wallet)
}

// Operations is the operation catalog the runner dispatches to.
type Operations interface {
	Registry() *catalog.Registry
	Swap(ctx context.Context, wallet *account.Account, inSym, outSym, amount string) (*catalog.Report, error)
	AddLiquidity(ctx context.Context, wallet *account.Account, p types.LiquidityParams) (*catalog.Report, error)
	RandomDistribution(ctx context.Context, wallet *account.Account, p types.SendParams) (*catalog.Report, error)
	TransferAndReturn(ctx context.Context, wallet *account.Account, p types.SendParams) (*catalog.Report, error)
}

// Chain is the read side of the node used for balances and readiness.
type Chain interface {
	GetBlockNumber(ctx context.Context) (uint64, error)
	BatchCall(ctx context.Context, calls []rpc.BatchRequest) ([]rpc.BatchResponse, error)
}

// Publisher receives live events.
type Publisher interface {
	Publish(event types.Event)
}

// Config configures a Runner.
type Config struct {
	Operations Operations
	Wallets    []*account.Account
	Chain      Chain
	Store      storage.Storage // optional; history queries fail without it
	Publisher  Publisher       // optional
	BatchDelay time.Duration   // pause between wallets
	SwapDelay  time.Duration   // pause between swaps of one wallet
	Metrics    *metrics.PrometheusMetrics
	Logger     *slog.Logger
	// IntN picks random swap pairs; defaults to math/rand/v2.
	IntN func(n int) int
}

// Runner executes one run at a time.
type Runner struct {
	ops        Operations
	wallets    []*account.Account
	chain      Chain
	store      storage.Storage
	publisher  Publisher
	batchDelay time.Duration
	swapDelay  time.Duration
	metrics    *metrics.PrometheusMetrics
	logger     *slog.Logger
	intN       func(n int) int

	mu      sync.Mutex
	status  types.RunStatus
	current *types.Run
	latency *metrics.LatencyTracker // confirmations of the current run
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Runner.
func New(cfg Config) (*Runner, error) {
	if cfg.Operations == nil || cfg.Chain == nil {
		return nil, errors.New("runner: operations and chain are required")
	}
	if len(cfg.Wallets) == 0 {
		return nil, errors.New("runner: at least one wallet is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.IntN == nil {
		cfg.IntN = rand.IntN
	}
	r := &Runner{
		ops:        cfg.Operations,
		wallets:    cfg.Wallets,
		chain:      cfg.Chain,
		store:      cfg.Store,
		publisher:  cfg.Publisher,
		batchDelay: cfg.BatchDelay,
		swapDelay:  cfg.SwapDelay,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		intN:       cfg.IntN,
		status:     types.StatusIdle,
	}
	r.metrics.SetRunStatus(string(types.StatusIdle))
	return r, nil
}

// Wallets returns the configured wallets.
func (r *Runner) Wallets() []*account.Account { return r.wallets }

// Start validates the request and runs it in the background.
func (r *Runner) Start(req types.OperationRequest) (*types.Run, error) {
	ctx, cancel := context.WithCancel(context.Background())
	run, wallets, err := r.begin(ctx, req, cancel)
	if err != nil {
		cancel()
		return nil, err
	}
	snapshot := *run
	go r.execute(ctx, run, wallets)
	return &snapshot, nil
}

// Run validates the request and runs it to completion. Cancelling ctx stops
// the run the same way Stop does.
func (r *Runner) Run(ctx context.Context, req types.OperationRequest) (*types.Run, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	run, wallets, err := r.begin(ctx, req, cancel)
	if err != nil {
		return nil, err
	}
	r.execute(ctx, run, wallets)

	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := *run
	return &snapshot, nil
}

// Stop cancels the active run. It reports whether a run was active.
// In-flight intents finish or fail on their own; no new intent starts.
func (r *Runner) Stop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != types.StatusRunning {
		return false
	}
	r.setStatusLocked(types.StatusStopping)
	r.cancel()
	return true
}

// Wait blocks until the active run, if any, has finished or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the runner state and a snapshot of the latest run.
func (r *Runner) Status() types.StatusResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	resp := types.StatusResponse{Status: r.status}
	if r.current != nil {
		snapshot := *r.current
		resp.Current = &snapshot
	}
	return resp
}

// Ready checks that the node answers.
func (r *Runner) Ready(ctx context.Context) error {
	if _, err := r.chain.GetBlockNumber(ctx); err != nil {
		return fmt.Errorf("rpc not reachable: %w", err)
	}
	return nil
}

// ListRuns returns a page of past runs, newest first.
func (r *Runner) ListRuns(ctx context.Context, limit, offset int) (*storage.PaginatedRuns, error) {
	if r.store == nil {
		return nil, ErrNoStorage
	}
	return r.store.ListRuns(ctx, limit, offset)
}

// GetRun returns a run with a page of its submissions, or nil if not found.
func (r *Runner) GetRun(ctx context.Context, id string, limit, offset int) (*types.RunDetail, error) {
	if r.store == nil {
		return nil, ErrNoStorage
	}
	run, err := r.store.GetRun(ctx, id)
	if err != nil || run == nil {
		return nil, err
	}
	page, err := r.store.GetSubmissions(ctx, id, limit, offset)
	if err != nil {
		return nil, err
	}
	return &types.RunDetail{Run: *run, Submissions: page.Submissions}, nil
}

// DeleteRun removes a finished run and its submissions.
func (r *Runner) DeleteRun(ctx context.Context, id string) error {
	if r.store == nil {
		return ErrNoStorage
	}
	r.mu.Lock()
	var done chan struct{}
	if r.current != nil && r.current.ID == id {
		done = r.done
	}
	r.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		default:
			return fmt.Errorf("run %s is still active", id)
		}
	}
	return r.store.DeleteRun(ctx, id)
}

// begin claims the runner for a new run.
func (r *Runner) begin(ctx context.Context, req types.OperationRequest, cancel context.CancelFunc) (*types.Run, []*account.Account, error) {
	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}
	wallets, err := r.selectWallets(req.Wallets)
	if err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	if r.status == types.StatusRunning || r.status == types.StatusStopping {
		r.mu.Unlock()
		return nil, nil, ErrBusy
	}
	run := &types.Run{
		ID:        uuid.NewString(),
		Request:   req,
		Status:    types.StatusRunning,
		StartedAt: time.Now(),
		Wallets:   len(wallets),
	}
	r.current = run
	r.latency = metrics.NewLatencyTracker()
	r.cancel = cancel
	r.done = make(chan struct{})
	r.setStatusLocked(types.StatusRunning)
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.CreateRun(ctx, run); err != nil {
			r.logger.Error("failed to persist run", slog.String("run", run.ID), slog.String("error", err.Error()))
		}
	}
	r.logger.Info("run started",
		slog.String("run", run.ID),
		slog.String("kind", string(req.Kind)),
		slog.Int("wallets", len(wallets)),
	)
	r.publishRun(run)
	return run, wallets, nil
}

// selectWallets resolves labels or addresses, in configured order when
// none are named.
func (r *Runner) selectWallets(names []string) ([]*account.Account, error) {
	if len(names) == 0 {
		return r.wallets, nil
	}
	selected := make([]*account.Account, 0, len(names))
	seen := make(map[common.Address]bool, len(names))
	for _, name := range names {
		w := r.findWallet(name)
		if w == nil {
			return nil, &UnknownWalletError{Wallet: name}
		}
		if !seen[w.Address] {
			seen[w.Address] = true
			selected = append(selected, w)
		}
	}
	return selected, nil
}

func (r *Runner) findWallet(name string) *account.Account {
	for _, w := range r.wallets {
		if strings.EqualFold(w.Label, name) || strings.EqualFold(w.Address.Hex(), name) {
			return w
		}
		// Short labels: "1" matches PRIVATE_KEY_1.
		if strings.HasSuffix(strings.ToUpper(w.Label), "_"+strings.ToUpper(name)) {
			return w
		}
	}
	return nil
}

// execute runs the request for each wallet in turn, then finalizes the run.
func (r *Runner) execute(ctx context.Context, run *types.Run, wallets []*account.Account) {
	ctx = withRunID(ctx, run.ID)
	pacer := ratelimit.New(r.batchDelay)
	r.logger.Debug("pacing wallets",
		slog.String("run", run.ID),
		slog.Duration("interval", pacer.Interval()),
	)
	var errs []string

	for _, w := range wallets {
		if err := pacer.Wait(ctx); err != nil {
			break
		}
		wctx := withWallet(ctx, w.Address)
		for _, err := range r.runWallet(wctx, run, w) {
			errs = append(errs, fmt.Sprintf("%s: %v", w, err))
			r.logger.Error("operation failed",
				slog.String("run", run.ID),
				slog.String("wallet", w.Address.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
	r.finish(run, ctx.Err() != nil, errs)
}

// runWallet dispatches the request for one wallet and records every report.
func (r *Runner) runWallet(ctx context.Context, run *types.Run, w *account.Account) []error {
	req := run.Request
	var errs []error
	record := func(rep *catalog.Report, err error) {
		if err != nil {
			errs = append(errs, err)
			r.count(run, func(run *types.Run) { run.Operations++ })
			return
		}
		r.record(ctx, run, rep)
	}

	switch req.Kind {
	case types.OpSwap:
		pacer := ratelimit.New(r.swapDelay)
		for i := 0; i < req.Swap.Count; i++ {
			if err := pacer.Wait(ctx); err != nil {
				break
			}
			in, out := req.Swap.From, req.Swap.To
			if in == "" {
				in, out = r.randomPair()
			}
			record(r.ops.Swap(ctx, w, in, out, req.Swap.Amount))
		}
	case types.OpAddLiquidity:
		record(r.ops.AddLiquidity(ctx, w, *req.Liquidity))
	case types.OpRandomSend:
		record(r.ops.RandomDistribution(ctx, w, *req.Send))
	case types.OpSendAndReceive:
		record(r.ops.TransferAndReturn(ctx, w, *req.Send))
	}
	return errs
}

// randomPair picks a registry pair and a direction.
func (r *Runner) randomPair() (string, string) {
	pairs := r.ops.Registry().Pairs()
	p := pairs[r.intN(len(pairs))]
	if r.intN(2) == 0 {
		return p.A, p.B
	}
	return p.B, p.A
}

// record persists a report's submissions and folds them into the run.
func (r *Runner) record(ctx context.Context, run *types.Run, rep *catalog.Report) {
	subs := Submissions(run.ID, rep)
	confirmed, failed, skipped := rep.Counts()
	r.count(run, func(run *types.Run) {
		run.Operations++
		run.Confirmed += confirmed
		run.Failed += failed
		run.Skipped += skipped
		for _, s := range subs {
			if s.Status == types.SubmissionConfirmed {
				r.latency.Add(float64(s.LatencyMs))
			}
		}
		run.Latency = r.latency.Stats()
	})

	if r.store != nil && len(subs) > 0 {
		// Persist even when the run was stopped mid-operation.
		if err := r.store.BulkInsertSubmissions(context.WithoutCancel(ctx), run.ID, subs); err != nil {
			r.logger.Error("failed to persist submissions",
				slog.String("run", run.ID),
				slog.Int("count", len(subs)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// count applies fn to the run under the lock and publishes the new totals.
func (r *Runner) count(run *types.Run, fn func(*types.Run)) {
	r.mu.Lock()
	fn(run)
	snapshot := *run
	r.mu.Unlock()
	r.publishRun(&snapshot)
}

func (r *Runner) finish(run *types.Run, stopped bool, errs []string) {
	r.mu.Lock()
	now := time.Now()
	run.CompletedAt = &now
	switch {
	case len(errs) > 0 && run.Confirmed == 0:
		run.Status = types.StatusFailed
	default:
		run.Status = types.StatusCompleted
	}
	if stopped {
		errs = append([]string{"stopped before all wallets ran"}, errs...)
	}
	run.Error = strings.Join(errs, "; ")
	snapshot := *run
	r.setStatusLocked(run.Status)
	done := r.done
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.UpdateRun(context.Background(), &snapshot); err != nil {
			r.logger.Error("failed to persist run result", slog.String("run", run.ID), slog.String("error", err.Error()))
		}
	}
	r.logger.Info("run finished",
		slog.String("run", run.ID),
		slog.String("status", string(run.Status)),
		slog.Int("operations", snapshot.Operations),
		slog.Int("confirmed", snapshot.Confirmed),
		slog.Int("failed", snapshot.Failed),
		slog.Int("skipped", snapshot.Skipped),
	)
	r.publishRun(&snapshot)
	close(done)
}

func (r *Runner) setStatusLocked(s types.RunStatus) {
	r.status = s
	r.metrics.SetRunStatus(string(s))
}

// Observe publishes a finished intent on the live feed. It is meant to be
// the batch orchestrator's OnResult hook.
func (r *Runner) Observe(ctx context.Context, res pipeline.Result) {
	if r.publisher == nil {
		return
	}
	runID := runIDFrom(ctx)
	if runID == "" {
		return
	}
	sub := Submission(runID, walletFrom(ctx), catalog.PhaseFrom(ctx), res)
	r.publisher.Publish(types.Event{
		Type:       types.EventSubmission,
		Submission: &sub,
		Timestamp:  time.Now().UnixMilli(),
	})
}

func (r *Runner) publishRun(run *types.Run) {
	if r.publisher == nil {
		return
	}
	snapshot := *run
	r.publisher.Publish(types.Event{
		Type:      types.EventRun,
		Run:       &snapshot,
		Timestamp: time.Now().UnixMilli(),
	})
}
