package catalog

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/txbot/internal/account"
	"github.com/gateway-fm/txbot/internal/batch"
	"github.com/gateway-fm/txbot/internal/chaintest"
	"github.com/gateway-fm/txbot/internal/gas"
	"github.com/gateway-fm/txbot/internal/pipeline"
	"github.com/gateway-fm/txbot/internal/retry"
	"github.com/gateway-fm/txbot/internal/rpc"
	"github.com/gateway-fm/txbot/internal/sender"
	"github.com/gateway-fm/txbot/internal/txbuilder"
	"github.com/gateway-fm/txbot/internal/txerr"
	ptypes "github.com/gateway-fm/txbot/pkg/types"
)

var (
	chainID   = big.NewInt(1440002)
	nodePrice = big.NewInt(12_000_000_000)
	ether     = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	wxrp   = DefaultTokens()["WXRP"]
	ribbit = DefaultTokens()["RIBBIT"]
	rise   = DefaultTokens()["RISE"]
)

func eth(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), ether) }

// memKeys records saved ephemeral keys and how many broadcasts preceded the save.
type memKeys struct {
	mu               sync.Mutex
	chain            *chaintest.Chain
	saved            []account.KeyPair
	broadcastsAtSave int
	err              error
}

func (m *memKeys) SaveEphemeral(ctx context.Context, owner common.Address, keys []account.KeyPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.broadcastsAtSave = m.chain.Broadcasts()
	m.saved = append(m.saved, keys...)
	return nil
}

type harness struct {
	chain  *chaintest.Chain
	cat    *Catalog
	keys   *memKeys
	wallet *account.Account
}

func newHarness(t *testing.T, stipend *big.Int) *harness {
	t.Helper()
	chain := chaintest.New(chainID, nodePrice)

	reg, err := NewRegistry(RegistryConfig{
		Tokens:        DefaultTokens(),
		NativeSymbol:  "XRP",
		WrappedSymbol: "WXRP",
		Router:        DefaultRouter,
		Client:        chain,
	})
	if err != nil {
		t.Fatalf("NewRegistry() error: %v", err)
	}

	b, err := txbuilder.New(txbuilder.Config{ChainID: chainID, Router: DefaultRouter})
	if err != nil {
		t.Fatalf("txbuilder.New() error: %v", err)
	}
	r := retry.New(retry.Config{MaxAttempts: 3, Backoff: time.Millisecond})
	p := pipeline.New(pipeline.Config{
		Builder:        b,
		Sender:         sender.New(sender.Config{Client: chain, Retry: r}),
		Receipts:       chain,
		Retry:          r,
		ConfirmTimeout: time.Second,
		PollInterval:   5 * time.Millisecond,
	})

	keys := &memKeys{chain: chain}
	cat, err := New(Config{
		Registry: reg,
		Oracle:   gas.NewOracle(chain, gas.Config{PremiumPercent: 20}),
		Batches:  batch.New(batch.Config{Executor: p, Concurrency: 8}),
		Chain:    chain,
		Keys:     keys,
		Retry:    r,
		Stipend:  stipend,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	w, err := account.Generate()
	if err != nil {
		t.Fatal(err)
	}
	chain.SetNative(w.Address, eth(10))
	chain.SetToken(wxrp, w.Address, eth(100), 18)
	chain.SetToken(ribbit, w.Address, big.NewInt(50_000_000), 6)
	chain.SetToken(rise, w.Address, eth(100), 18)

	return &harness{chain: chain, cat: cat, keys: keys, wallet: w}
}

func isApprove(tx *types.Transaction) bool {
	sel, _ := txbuilder.EncodeApprove(common.Address{}, big.NewInt(0))
	return len(tx.Data()) >= 4 && bytes.Equal(tx.Data()[:4], sel[:4])
}

func TestTransferAndReturnPreflightSubmitsNothing(t *testing.T) {
	h := newHarness(t, nil)
	h.chain.SetNative(h.wallet.Address, new(big.Int).Div(ether, big.NewInt(2))) // 0.5 < 10 x 0.1

	_, err := h.cat.TransferAndReturn(context.Background(), h.wallet, ptypes.SendParams{Token: "WXRP", Amount: "0.0001", Count: 10})

	var ib *txerr.InsufficientBalanceError
	if !errors.As(err, &ib) {
		t.Fatalf("error = %v, want InsufficientBalanceError", err)
	}
	if ib.Need.Cmp(eth(1)) != 0 {
		t.Errorf("Need = %s, want %s", ib.Need, eth(1))
	}
	if n := h.chain.Broadcasts(); n != 0 {
		t.Errorf("broadcasts = %d, want 0", n)
	}
	if len(h.keys.saved) != 0 {
		t.Errorf("saved %d keys, want 0", len(h.keys.saved))
	}
}

func TestTransferAndReturnRoundTrip(t *testing.T) {
	h := newHarness(t, nil)

	rep, err := h.cat.TransferAndReturn(context.Background(), h.wallet, ptypes.SendParams{Token: "wxrp", Amount: "0.0001", Count: 3})
	if err != nil {
		t.Fatalf("TransferAndReturn() error: %v", err)
	}

	for _, name := range []string{PhaseDistribute, PhaseFund, PhaseReturn} {
		p, ok := rep.Phase(name)
		if !ok {
			t.Fatalf("phase %s missing", name)
		}
		if len(p.Results) != 3 {
			t.Errorf("phase %s has %d results, want 3", name, len(p.Results))
		}
		for _, r := range p.Results {
			if !r.OK() {
				t.Errorf("phase %s: %v", name, r.Err)
			}
		}
	}
	if len(rep.Skipped) != 0 {
		t.Errorf("skipped = %v, want none", rep.Skipped)
	}
	if got := h.chain.Token(wxrp, h.wallet.Address); got.Cmp(eth(100)) != 0 {
		t.Errorf("wallet WXRP after round trip = %s, want %s", got, eth(100))
	}
	if len(h.keys.saved) != 3 || h.keys.broadcastsAtSave != 0 {
		t.Errorf("saved %d keys after %d broadcasts, want 3 keys before any", len(h.keys.saved), h.keys.broadcastsAtSave)
	}
	if n := h.chain.GasPriceReads(); n != 1 {
		t.Errorf("gas price reads = %d, want 1", n)
	}
	if ok, failed, skipped := rep.Counts(); ok != 9 || failed != 0 || skipped != 0 {
		t.Errorf("Counts() = %d/%d/%d, want 9/0/0", ok, failed, skipped)
	}
	if rep.Outcome() != OutcomeSucceeded {
		t.Errorf("Outcome() = %s", rep.Outcome())
	}
}

func TestTransferAndReturnRetriesTransientBalanceReads(t *testing.T) {
	h := newHarness(t, nil)

	// The first balance read of every address hits a rate limit.
	seen := map[common.Address]bool{}
	h.chain.BalanceErr = func(addr common.Address) error {
		if seen[addr] {
			return nil
		}
		seen[addr] = true
		return &txerr.TransientNetworkError{Op: "eth_getBalance", Err: &rpc.HTTPStatusError{StatusCode: 429}}
	}

	rep, err := h.cat.TransferAndReturn(context.Background(), h.wallet, ptypes.SendParams{Token: "WXRP", Amount: "0.0001", Count: 2})
	if err != nil {
		t.Fatalf("TransferAndReturn() error: %v", err)
	}
	if len(rep.Skipped) != 0 {
		t.Errorf("skipped = %+v, want none", rep.Skipped)
	}
	if ret, ok := rep.Phase(PhaseReturn); !ok || len(ret.Results) != 2 {
		t.Errorf("return phase = %+v, want 2 results", ret)
	}
}

func TestTransferAndReturnLostFundingReplyStillReturns(t *testing.T) {
	h := newHarness(t, nil)

	// Every stipend is mined but the node's first reply is lost, so the
	// re-broadcast finds its nonce already used.
	h.chain.LoseReply = func(tx *types.Transaction, attempt int) bool {
		return attempt == 1 && tx.Value().Sign() > 0
	}

	rep, err := h.cat.TransferAndReturn(context.Background(), h.wallet, ptypes.SendParams{Token: "WXRP", Amount: "0.0001", Count: 3})
	if err != nil {
		t.Fatalf("TransferAndReturn() error: %v", err)
	}
	fund, _ := rep.Phase(PhaseFund)
	for _, r := range fund.Results {
		if !r.OK() || r.Attempts != 2 {
			t.Errorf("fund result ok=%v attempts=%d err=%v, want confirmed after 2 attempts", r.OK(), r.Attempts, r.Err)
		}
	}
	if len(rep.Skipped) != 0 {
		t.Errorf("skipped = %+v, want none", rep.Skipped)
	}
	if got := h.chain.Token(wxrp, h.wallet.Address); got.Cmp(eth(100)) != 0 {
		t.Errorf("wallet WXRP after round trip = %s, want %s", got, eth(100))
	}
}

func TestTransferAndReturnSkipsUnfundedEphemeral(t *testing.T) {
	h := newHarness(t, nil)

	var once sync.Once
	var victim common.Address
	h.chain.OnSend = func(tx *types.Transaction, from common.Address, attempt int) error {
		var err error
		if from == h.wallet.Address && tx.Value().Sign() > 0 {
			once.Do(func() {
				victim = *tx.To()
				err = &rpc.RPCError{Code: -32000, Message: "replacement transaction underpriced"}
			})
		}
		return err
	}

	rep, err := h.cat.TransferAndReturn(context.Background(), h.wallet, ptypes.SendParams{Token: "WXRP", Amount: "1", Count: 3})
	if err != nil {
		t.Fatalf("TransferAndReturn() error: %v", err)
	}

	ret, ok := rep.Phase(PhaseReturn)
	if !ok || len(ret.Results) != 2 {
		t.Fatalf("return phase = %+v, want 2 results", ret)
	}
	for _, r := range ret.Results {
		if r.Intent.Sender.Address == victim {
			t.Error("unfunded ephemeral was attempted in the return batch")
		}
	}
	if len(h.chain.SentFrom(victim)) != 0 {
		t.Error("unfunded ephemeral broadcast a transaction")
	}
	if len(rep.Skipped) != 1 || rep.Skipped[0].Address != victim || rep.Skipped[0].Phase != PhaseReturn {
		t.Errorf("Skipped = %+v, want the unfunded ephemeral", rep.Skipped)
	}
	if rep.Outcome() != OutcomePartial {
		t.Errorf("Outcome() = %s, want %s", rep.Outcome(), OutcomePartial)
	}
}

func TestTransferAndReturnSkipsBelowGasCost(t *testing.T) {
	// One wei of stipend confirms but cannot pay for the return transfer.
	h := newHarness(t, big.NewInt(1))

	rep, err := h.cat.TransferAndReturn(context.Background(), h.wallet, ptypes.SendParams{Token: "WXRP", Amount: "1", Count: 2})
	if err != nil {
		t.Fatalf("TransferAndReturn() error: %v", err)
	}
	if _, ok := rep.Phase(PhaseReturn); ok {
		t.Error("return batch ran with no usable ephemerals")
	}
	if len(rep.Skipped) != 2 {
		t.Fatalf("Skipped = %+v, want 2", rep.Skipped)
	}
	for _, k := range h.keys.saved {
		if n := len(h.chain.SentFrom(common.HexToAddress(k.Address))); n != 0 {
			t.Errorf("ephemeral %s sent %d txs", k.Address, n)
		}
	}
}

func TestTransferAndReturnKeyStoreFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.keys.err = errors.New("disk full")

	_, err := h.cat.TransferAndReturn(context.Background(), h.wallet, ptypes.SendParams{Token: "WXRP", Amount: "1", Count: 2})
	if err == nil {
		t.Fatal("expected error when keys cannot be persisted")
	}
	if h.chain.Broadcasts() != 0 {
		t.Errorf("broadcasts = %d, want 0", h.chain.Broadcasts())
	}
}

func TestTransferAndReturnRejectsNative(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.cat.TransferAndReturn(context.Background(), h.wallet, ptypes.SendParams{Token: "XRP", Amount: "1", Count: 1}); err == nil {
		t.Fatal("expected error for native token")
	}
}

func TestSwapTokenApprovesThenSwaps(t *testing.T) {
	h := newHarness(t, nil)
	h.chain.SetPendingNonce(h.wallet.Address, 4)

	rep, err := h.cat.Swap(context.Background(), h.wallet, "RIBBIT", "RISE", "10")
	if err != nil {
		t.Fatalf("Swap() error: %v", err)
	}

	sent := h.chain.SentFrom(h.wallet.Address)
	if len(sent) != 2 {
		t.Fatalf("sent %d txs, want approve + swap", len(sent))
	}
	if !isApprove(sent[0]) || *sent[0].To() != ribbit {
		t.Error("first tx is not the RIBBIT approval")
	}
	if *sent[1].To() != DefaultRouter {
		t.Errorf("second tx to %s, want router", sent[1].To().Hex())
	}
	if sent[0].Nonce() != 4 || sent[1].Nonce() != 5 {
		t.Errorf("nonces = %d,%d, want 4,5", sent[0].Nonce(), sent[1].Nonce())
	}

	swap, _ := rep.Phase(PhaseSwap)
	in := swap.Results[0].Intent
	if want := big.NewInt(10_000_000); in.Amount.Cmp(want) != 0 {
		t.Errorf("amount = %s, want %s (6 decimals)", in.Amount, want)
	}
	if len(in.Path) != 2 || in.Path[0] != ribbit || in.Path[1] != rise {
		t.Errorf("path = %v", in.Path)
	}
	if h.chain.GasPriceReads() != 1 {
		t.Errorf("gas price reads = %d, want 1", h.chain.GasPriceReads())
	}
}

func TestSwapSkipsSwapWhenApprovalReverts(t *testing.T) {
	h := newHarness(t, nil)
	h.chain.RevertIf = func(tx *types.Transaction, _ common.Address) bool { return isApprove(tx) }

	rep, err := h.cat.Swap(context.Background(), h.wallet, "RISE", "XRP", "1")
	if err != nil {
		t.Fatalf("Swap() error: %v", err)
	}
	if n := len(h.chain.SentFrom(h.wallet.Address)); n != 1 {
		t.Errorf("sent %d txs, want only the approval", n)
	}
	if _, ok := rep.Phase(PhaseSwap); ok {
		t.Error("swap ran after failed approval")
	}
	if len(rep.Skipped) != 1 || rep.Skipped[0].Phase != PhaseSwap {
		t.Errorf("Skipped = %+v", rep.Skipped)
	}
}

func TestSwapRoutes(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		out    string
		phase  string
		to     common.Address
		value  bool
		path0  common.Address
		path1  common.Address
		checks bool
	}{
		{name: "native in", in: "XRP", out: "RISE", phase: PhaseSwap, to: DefaultRouter, value: true, path0: wxrp, path1: rise, checks: true},
		{name: "wrap", in: "XRP", out: "WXRP", phase: PhaseWrap, to: wxrp, value: true},
		{name: "unwrap", in: "WXRP", out: "XRP", phase: PhaseUnwrap, to: wxrp},
		{name: "native out", in: "RISE", out: "XRP", phase: PhaseSwap, to: DefaultRouter, path0: rise, path1: wxrp, checks: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			rep, err := h.cat.Swap(context.Background(), h.wallet, tt.in, tt.out, "0.5")
			if err != nil {
				t.Fatalf("Swap() error: %v", err)
			}
			p, ok := rep.Phase(tt.phase)
			if !ok || len(p.Results) != 1 || !p.Results[0].OK() {
				t.Fatalf("phase %s = %+v", tt.phase, p)
			}
			sent := h.chain.SentFrom(h.wallet.Address)
			last := sent[len(sent)-1]
			if *last.To() != tt.to {
				t.Errorf("to = %s, want %s", last.To().Hex(), tt.to.Hex())
			}
			if got := last.Value().Sign() > 0; got != tt.value {
				t.Errorf("carries value = %v, want %v", got, tt.value)
			}
			if tt.checks {
				path := p.Results[0].Intent.Path
				if len(path) != 2 || path[0] != tt.path0 || path[1] != tt.path1 {
					t.Errorf("path = %v", path)
				}
			}
		})
	}
}

func TestSwapRejectsSameToken(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.cat.Swap(context.Background(), h.wallet, "RISE", "rise", "1"); err == nil {
		t.Fatal("expected error")
	}
	if h.chain.GasPriceReads() != 0 {
		t.Error("quote taken for an invalid swap")
	}
}

func TestAddLiquidity(t *testing.T) {
	h := newHarness(t, nil)

	rep, err := h.cat.AddLiquidity(context.Background(), h.wallet, ptypes.LiquidityParams{Token: "WXRP", TokenAmount: "5", BaseAmount: "0.001"})
	if err != nil {
		t.Fatalf("AddLiquidity() error: %v", err)
	}
	sent := h.chain.SentFrom(h.wallet.Address)
	if len(sent) != 2 || !isApprove(sent[0]) {
		t.Fatalf("sent %d txs, want approve then addLiquidityETH", len(sent))
	}
	wantValue := new(big.Int).Div(ether, big.NewInt(1000))
	if *sent[1].To() != DefaultRouter || sent[1].Value().Cmp(wantValue) != 0 {
		t.Errorf("liquidity tx to %s value %s, want router with %s", sent[1].To().Hex(), sent[1].Value(), wantValue)
	}
	if sent[1].Gas() != txbuilder.GasLimitComplex {
		t.Errorf("gas = %d, want %d", sent[1].Gas(), txbuilder.GasLimitComplex)
	}
	if h.chain.GasPriceReads() != 1 {
		t.Errorf("gas price reads = %d, want 1", h.chain.GasPriceReads())
	}
	if rep.Outcome() != OutcomeSucceeded {
		t.Errorf("Outcome() = %s", rep.Outcome())
	}
}

func TestRandomDistribution(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{name: "token", token: "WXRP"},
		{name: "native", token: "XRP"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			rep, err := h.cat.RandomDistribution(context.Background(), h.wallet, ptypes.SendParams{Token: tt.token, Amount: "0.0001", Count: 4})
			if err != nil {
				t.Fatalf("RandomDistribution() error: %v", err)
			}
			p, _ := rep.Phase(PhaseSend)
			if len(p.Results) != 4 {
				t.Fatalf("results = %d, want 4", len(p.Results))
			}
			seen := map[common.Address]bool{}
			for _, r := range p.Results {
				if !r.OK() {
					t.Errorf("send failed: %v", r.Err)
				}
				seen[r.Intent.Recipient] = true
			}
			if len(seen) != 4 {
				t.Errorf("distinct recipients = %d, want 4", len(seen))
			}
		})
	}
}

func TestQuoteFailureSubmitsNothing(t *testing.T) {
	h := newHarness(t, nil)
	h.chain.GasPriceErr = &txerr.TransientNetworkError{Op: "eth_gasPrice", Err: errors.New("connection refused")}

	if _, err := h.cat.RandomDistribution(context.Background(), h.wallet, ptypes.SendParams{Token: "WXRP", Amount: "1", Count: 2}); err == nil {
		t.Fatal("expected quote error")
	}
	if h.chain.Broadcasts() != 0 {
		t.Errorf("broadcasts = %d, want 0", h.chain.Broadcasts())
	}
}
