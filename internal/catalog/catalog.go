// Package catalog implements the user-level operations: swap, add-liquidity,
// random distribution and transfer-and-return. Each operation invocation takes
// exactly one gas quote and one nonce session, builds intents and hands them
// to the batch orchestrator. Dependent steps run as sequential batches.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/txbot/internal/account"
	"github.com/gateway-fm/txbot/internal/gas"
	"github.com/gateway-fm/txbot/internal/intent"
	"github.com/gateway-fm/txbot/internal/metrics"
	"github.com/gateway-fm/txbot/internal/nonce"
	"github.com/gateway-fm/txbot/internal/pipeline"
	"github.com/gateway-fm/txbot/internal/retry"
	"github.com/gateway-fm/txbot/internal/txbuilder"
	"github.com/gateway-fm/txbot/internal/txerr"
	"github.com/gateway-fm/txbot/pkg/types"
)

// DefaultStipend is the native amount sent to each ephemeral account for gas: 0.1.
var DefaultStipend = new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil)

// Phase names.
const (
	PhaseSwap       = "swap"
	PhaseApprove    = "approve"
	PhaseWrap       = "wrap"
	PhaseUnwrap     = "unwrap"
	PhaseLiquidity  = "add-liquidity"
	PhaseSend       = "send"
	PhaseDistribute = "distribute"
	PhaseFund       = "fund"
	PhaseReturn     = "return"
)

// Quoter issues gas quotes.
type Quoter interface {
	Quote(ctx context.Context) (gas.Quote, error)
}

// BatchRunner executes one batch of intents.
type BatchRunner interface {
	Run(ctx context.Context, seq *nonce.Sequencer, intents []intent.Intent, quote gas.Quote) []pipeline.Result
}

// Chain is the read side of the node the catalog needs.
type Chain interface {
	nonce.Source
	account.BalanceReader
}

// KeyStore persists ephemeral keys so stranded funds can be recovered.
type KeyStore interface {
	SaveEphemeral(ctx context.Context, owner common.Address, keys []account.KeyPair) error
}

// Config configures a Catalog.
type Config struct {
	Registry *Registry
	Oracle   Quoter
	Batches  BatchRunner
	Chain    Chain
	Keys     KeyStore
	Accounts *account.Manager
	Retry    *retry.Executor // balance reads
	Stipend  *big.Int        // native amount per ephemeral (default 0.1)
	Deadline time.Duration   // router deadline offset (default 600s)
	Metrics  *metrics.PrometheusMetrics
	Logger   *slog.Logger
}

// Catalog runs operations for one wallet at a time.
type Catalog struct {
	registry *Registry
	oracle   Quoter
	batches  BatchRunner
	chain    Chain
	keys     KeyStore
	accounts *account.Manager
	balances retryingBalances
	stipend  *big.Int
	deadline time.Duration
	metrics  *metrics.PrometheusMetrics
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Catalog.
func New(cfg Config) (*Catalog, error) {
	if cfg.Registry == nil || cfg.Oracle == nil || cfg.Batches == nil || cfg.Chain == nil {
		return nil, errors.New("catalog: registry, oracle, batches and chain are required")
	}
	if cfg.Stipend == nil || cfg.Stipend.Sign() <= 0 {
		cfg.Stipend = DefaultStipend
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = intent.DefaultDeadline
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Accounts == nil {
		cfg.Accounts = account.NewManager(cfg.Logger)
	}
	return &Catalog{
		registry: cfg.Registry,
		oracle:   cfg.Oracle,
		batches:  cfg.Batches,
		chain:    cfg.Chain,
		keys:     cfg.Keys,
		accounts: cfg.Accounts,
		balances: retryingBalances{chain: cfg.Chain, retry: cfg.Retry},
		stipend:  new(big.Int).Set(cfg.Stipend),
		deadline: cfg.Deadline,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		now:      time.Now,
	}, nil
}

// retryingBalances re-reads balances that fail transiently.
type retryingBalances struct {
	chain account.BalanceReader
	retry *retry.Executor
}

func (b retryingBalances) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	return retry.Do(ctx, b.retry, "eth_getBalance", func(ctx context.Context) (*big.Int, error) {
		return b.chain.GetBalance(ctx, address)
	})
}

// Registry returns the token registry.
func (c *Catalog) Registry() *Registry { return c.registry }

// session is one operation invocation: one quote, one nonce sequencer.
type session struct {
	c      *Catalog
	seq    *nonce.Sequencer
	quote  gas.Quote
	report *Report
}

func (c *Catalog) begin(ctx context.Context, kind types.OperationKind, wallet *account.Account) (*session, error) {
	q, err := c.oracle.Quote(ctx)
	if err != nil {
		return nil, err
	}
	return &session{
		c:     c,
		seq:   nonce.NewSequencer(c.chain, c.logger),
		quote: q,
		report: &Report{
			Kind:   kind,
			Wallet: wallet.Address,
			Quote:  q,
		},
	}, nil
}

type phaseKey struct{}

// PhaseFrom returns the phase a batch runs for. Batches started by a Catalog
// carry it on their context.
func PhaseFrom(ctx context.Context) string {
	phase, _ := ctx.Value(phaseKey{}).(string)
	return phase
}

func (s *session) run(ctx context.Context, phase string, intents []intent.Intent) []pipeline.Result {
	ctx = context.WithValue(ctx, phaseKey{}, phase)
	results := s.c.batches.Run(ctx, s.seq, intents, s.quote)
	s.report.Phases = append(s.report.Phases, Phase{Name: phase, Results: results})
	return results
}

func (s *session) finish() *Report {
	s.c.metrics.RecordOperation(string(s.report.Kind), s.report.Outcome())
	return s.report
}

func (c *Catalog) deadlineFrom() time.Time {
	return c.now().Add(c.deadline)
}

// Swap swaps amount of in for out. Native input uses the payable router
// entry; token input is approved first and swapped only once the approval
// has confirmed. Native and wrapped native convert through deposit and
// withdraw without the router.
func (c *Catalog) Swap(ctx context.Context, wallet *account.Account, inSym, outSym, amount string) (*Report, error) {
	in, err := c.registry.Lookup(inSym)
	if err != nil {
		return nil, err
	}
	out, err := c.registry.Lookup(outSym)
	if err != nil {
		return nil, err
	}
	if in.Symbol == out.Symbol {
		return nil, fmt.Errorf("swap %s to itself", in.Symbol)
	}
	amt, err := c.registry.ParseAmount(ctx, in, amount)
	if err != nil {
		return nil, err
	}

	s, err := c.begin(ctx, types.OpSwap, wallet)
	if err != nil {
		return nil, err
	}
	wrapped := c.registry.Wrapped()
	base := intent.Intent{Sender: wallet, Recipient: wallet.Address, Amount: amt, Deadline: c.deadlineFrom()}
	label := fmt.Sprintf("%s %s -> %s", amount, in.Symbol, out.Symbol)

	switch {
	case in.Native && out.Symbol == wrapped.Symbol:
		w := base
		w.Call, w.Asset, w.Label = intent.CallWrap, wrapped.Address, label
		s.run(ctx, PhaseWrap, []intent.Intent{w})

	case in.Symbol == wrapped.Symbol && out.Native:
		u := base
		u.Call, u.Asset, u.Label = intent.CallUnwrap, wrapped.Address, label
		s.run(ctx, PhaseUnwrap, []intent.Intent{u})

	case in.Native:
		sw := base
		sw.Call, sw.Label = intent.CallSwapNativeIn, label
		sw.Path = []common.Address{wrapped.Address, out.Address}
		s.run(ctx, PhaseSwap, []intent.Intent{sw})

	default:
		approve := intent.Intent{
			Sender:    wallet,
			Recipient: c.registry.Router(),
			Asset:     in.Address,
			Amount:    amt,
			Call:      intent.CallApprove,
			Label:     "approve " + in.Symbol,
		}
		res := s.run(ctx, PhaseApprove, []intent.Intent{approve})
		if !res[0].OK() {
			s.report.skip(wallet.Address, PhaseSwap, "approval did not confirm")
			return s.finish(), nil
		}

		sw := base
		sw.Asset, sw.Label = in.Address, label
		sw.Path = []common.Address{in.Address, c.registry.RouteAddress(out)}
		if out.Native {
			sw.Call = intent.CallSwapNativeOut
		} else {
			sw.Call = intent.CallSwapTokens
		}
		s.run(ctx, PhaseSwap, []intent.Intent{sw})
	}
	return s.finish(), nil
}

// AddLiquidity approves the router for tokenAmount and then provides
// liquidity against baseAmount of the native coin.
func (c *Catalog) AddLiquidity(ctx context.Context, wallet *account.Account, p types.LiquidityParams) (*Report, error) {
	tok, err := c.registry.Lookup(p.Token)
	if err != nil {
		return nil, err
	}
	if tok.Native {
		return nil, fmt.Errorf("add-liquidity token must be an ERC20, got native %s", tok.Symbol)
	}
	amtTok, err := c.registry.ParseAmount(ctx, tok, p.TokenAmount)
	if err != nil {
		return nil, err
	}
	amtBase, err := c.registry.ParseAmount(ctx, c.registry.Native(), p.BaseAmount)
	if err != nil {
		return nil, err
	}

	s, err := c.begin(ctx, types.OpAddLiquidity, wallet)
	if err != nil {
		return nil, err
	}

	approve := intent.Intent{
		Sender:    wallet,
		Recipient: c.registry.Router(),
		Asset:     tok.Address,
		Amount:    amtTok,
		Call:      intent.CallApprove,
		Label:     "approve " + tok.Symbol,
	}
	res := s.run(ctx, PhaseApprove, []intent.Intent{approve})
	if !res[0].OK() {
		s.report.skip(wallet.Address, PhaseLiquidity, "approval did not confirm")
		return s.finish(), nil
	}

	lp := intent.Intent{
		Sender:    wallet,
		Recipient: wallet.Address,
		Asset:     tok.Address,
		Amount:    amtTok,
		Value:     amtBase,
		Call:      intent.CallAddLiquidityNative,
		Deadline:  c.deadlineFrom(),
		Label:     fmt.Sprintf("%s %s + %s %s", p.TokenAmount, tok.Symbol, p.BaseAmount, c.registry.Native().Symbol),
	}
	s.run(ctx, PhaseLiquidity, []intent.Intent{lp})
	return s.finish(), nil
}

// RandomDistribution sends amount of the token to count fresh addresses in
// one batch. The native symbol sends the native coin.
func (c *Catalog) RandomDistribution(ctx context.Context, wallet *account.Account, p types.SendParams) (*Report, error) {
	tok, err := c.registry.Lookup(p.Token)
	if err != nil {
		return nil, err
	}
	amt, err := c.registry.ParseAmount(ctx, tok, p.Amount)
	if err != nil {
		return nil, err
	}
	recipients, err := c.accounts.GenerateEphemeral(p.Count)
	if err != nil {
		return nil, fmt.Errorf("generate recipients: %w", err)
	}

	s, err := c.begin(ctx, types.OpRandomSend, wallet)
	if err != nil {
		return nil, err
	}

	intents := make([]intent.Intent, len(recipients))
	for i, r := range recipients {
		intents[i] = transferIntent(wallet, tok, r.Address, amt)
	}
	s.run(ctx, PhaseSend, intents)
	return s.finish(), nil
}

// TransferAndReturn distributes the token to count new ephemeral accounts,
// funds each with the gas stipend, and has every usable ephemeral send the
// token back. Nothing is submitted unless the wallet holds count stipends of
// native balance, and ephemeral keys are persisted before the first
// submission.
func (c *Catalog) TransferAndReturn(ctx context.Context, wallet *account.Account, p types.SendParams) (*Report, error) {
	tok, err := c.registry.Lookup(p.Token)
	if err != nil {
		return nil, err
	}
	if tok.Native {
		return nil, fmt.Errorf("send-and-receive token must be an ERC20, got native %s", tok.Symbol)
	}
	amt, err := c.registry.ParseAmount(ctx, tok, p.Amount)
	if err != nil {
		return nil, err
	}

	need := new(big.Int).Mul(big.NewInt(int64(p.Count)), c.stipend)
	have, err := c.balances.GetBalance(ctx, wallet.Address.Hex())
	if err != nil {
		return nil, fmt.Errorf("pre-flight balance of %s: %w", wallet.Address.Hex(), err)
	}
	if have.Cmp(need) < 0 {
		c.metrics.RecordOperation(string(types.OpSendAndReceive), OutcomeRejected)
		return nil, &txerr.InsufficientBalanceError{Address: wallet.Address, Have: have, Need: need}
	}

	ephemerals, err := c.accounts.GenerateEphemeral(p.Count)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral accounts: %w", err)
	}
	keys := account.Export(ephemerals)
	if c.keys != nil {
		if err := c.keys.SaveEphemeral(ctx, wallet.Address, keys); err != nil {
			return nil, fmt.Errorf("persist ephemeral keys: %w", err)
		}
	} else {
		c.logger.Warn("no key store configured, ephemeral keys are only in the report",
			slog.String("wallet", wallet.Address.Hex()),
			slog.Int("count", len(keys)),
		)
	}

	s, err := c.begin(ctx, types.OpSendAndReceive, wallet)
	if err != nil {
		return nil, err
	}
	s.report.Ephemeral = keys

	// Batch 1: tokens out.
	out := make([]intent.Intent, len(ephemerals))
	for i, e := range ephemerals {
		out[i] = transferIntent(wallet, tok, e.Address, amt)
	}
	distributed := s.run(ctx, PhaseDistribute, out)

	// Batch 2: gas stipends.
	fund := make([]intent.Intent, len(ephemerals))
	for i, e := range ephemerals {
		fund[i] = intent.Intent{
			Sender:    wallet,
			Recipient: e.Address,
			Amount:    new(big.Int).Set(c.stipend),
			Call:      intent.CallNativeSend,
			Label:     "fund " + e.Address.Hex(),
		}
	}
	funded := s.run(ctx, PhaseFund, fund)

	var candidates []*account.Account
	for i, e := range ephemerals {
		switch {
		case !funded[i].OK():
			s.report.skip(e.Address, PhaseReturn, "funding did not confirm")
		case !distributed[i].OK():
			s.report.skip(e.Address, PhaseReturn, "token transfer did not confirm")
		default:
			candidates = append(candidates, e)
		}
	}

	// Balances are re-read after funding confirmed; nothing else in this
	// session writes to the ephemerals.
	minGas := new(big.Int).Mul(s.quote.Price, new(big.Int).SetUint64(txbuilder.GasLimitERC20))
	usable, short := c.accounts.ValidateBalances(ctx, c.balances, candidates, minGas)
	for _, b := range short {
		reason := fmt.Sprintf("native balance %s below gas cost %s", b.Balance, minGas)
		if b.Err != nil {
			reason = "balance unavailable: " + b.Err.Error()
		}
		s.report.skip(b.Account.Address, PhaseReturn, reason)
	}

	// Batch 3: tokens back.
	if len(usable) > 0 {
		back := make([]intent.Intent, len(usable))
		for i, b := range usable {
			back[i] = transferIntent(b.Account, tok, wallet.Address, amt)
		}
		s.run(ctx, PhaseReturn, back)
	}

	c.logger.Info("send-and-receive finished",
		slog.String("wallet", wallet.Address.Hex()),
		slog.Int("ephemerals", len(ephemerals)),
		slog.Int("returned", len(usable)),
		slog.Int("skipped", len(s.report.Skipped)),
	)
	return s.finish(), nil
}

func transferIntent(from *account.Account, tok Token, to common.Address, amount *big.Int) intent.Intent {
	in := intent.Intent{
		Sender:    from,
		Recipient: to,
		Amount:    amount,
		Label:     tok.Symbol + " to " + to.Hex(),
	}
	if tok.Native {
		in.Call = intent.CallNativeSend
	} else {
		in.Call = intent.CallTransfer
		in.Asset = tok.Address
	}
	return in
}
