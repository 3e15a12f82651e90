package batch

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/txbot/internal/account"
	"github.com/gateway-fm/txbot/internal/chaintest"
	"github.com/gateway-fm/txbot/internal/gas"
	"github.com/gateway-fm/txbot/internal/intent"
	"github.com/gateway-fm/txbot/internal/nonce"
	"github.com/gateway-fm/txbot/internal/pipeline"
	"github.com/gateway-fm/txbot/internal/retry"
	"github.com/gateway-fm/txbot/internal/rpc"
	"github.com/gateway-fm/txbot/internal/sender"
	"github.com/gateway-fm/txbot/internal/txbuilder"
	"github.com/gateway-fm/txbot/internal/txerr"
)

var (
	chainID  = big.NewInt(1440002)
	gasPrice = big.NewInt(12_000_000_000)
	oneEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	sink     = common.HexToAddress("0x00000000000000000000000000000000000000b0")
)

func newOrchestrator(t *testing.T, chain *chaintest.Chain, concurrency int, onResult func(context.Context, pipeline.Result)) *Orchestrator {
	t.Helper()
	b, err := txbuilder.New(txbuilder.Config{ChainID: chainID, Router: common.HexToAddress("0x0000000000000000000000000000000000000a11")})
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
	return New(Config{Executor: p, Concurrency: concurrency, OnResult: onResult})
}

func quote() gas.Quote {
	return gas.Quote{Price: gasPrice, Base: gasPrice}
}

func senders(t *testing.T, chain *chaintest.Chain, n int) []*account.Account {
	t.Helper()
	out := make([]*account.Account, n)
	for i := range out {
		a, err := account.Generate()
		if err != nil {
			t.Fatalf("Generate() error: %v", err)
		}
		chain.SetNative(a.Address, oneEther)
		chain.SetPendingNonce(a.Address, uint64(10*(i+1)))
		out[i] = a
	}
	return out
}

func sends(accts []*account.Account, perSender int) []intent.Intent {
	var out []intent.Intent
	for _, a := range accts {
		for j := 0; j < perSender; j++ {
			out = append(out, intent.Intent{
				Sender:    a,
				Recipient: sink,
				Amount:    big.NewInt(int64(j + 1)),
				Call:      intent.CallNativeSend,
			})
		}
	}
	return out
}

func TestRunEmptyBatch(t *testing.T) {
	chain := chaintest.New(chainID, gasPrice)
	o := newOrchestrator(t, chain, 4, nil)

	results := o.Run(context.Background(), nonce.NewSequencer(chain, nil), nil, quote())
	if results == nil || len(results) != 0 {
		t.Fatalf("Run(nil) = %v, want empty non-nil slice", results)
	}
	if chain.Broadcasts() != 0 {
		t.Errorf("broadcasts = %d, want 0", chain.Broadcasts())
	}
}

func TestRunOneResultPerIntentInOrder(t *testing.T) {
	chain := chaintest.New(chainID, gasPrice)
	var callbacks atomic.Int32
	o := newOrchestrator(t, chain, 4, func(context.Context, pipeline.Result) { callbacks.Add(1) })

	intents := sends(senders(t, chain, 2), 5)
	results := o.Run(context.Background(), nonce.NewSequencer(chain, nil), intents, quote())

	if len(results) != len(intents) {
		t.Fatalf("results = %d, want %d", len(results), len(intents))
	}
	for i, r := range results {
		if r.Intent.Amount.Cmp(intents[i].Amount) != 0 || r.Intent.Sender != intents[i].Sender {
			t.Errorf("result %d is not for intent %d", i, i)
		}
		if !r.OK() {
			t.Errorf("result %d failed: %v", i, r.Err)
		}
	}
	if int(callbacks.Load()) != len(intents) {
		t.Errorf("OnResult called %d times, want %d", callbacks.Load(), len(intents))
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	chain := chaintest.New(chainID, gasPrice)
	accts := senders(t, chain, 3)
	victim := accts[1].Address

	// The first broadcast from the second sender is permanently rejected.
	var once sync.Once
	var rejected common.Hash
	chain.OnSend = func(tx *types.Transaction, from common.Address, attempt int) error {
		var err error
		if from == victim {
			once.Do(func() {
				rejected = tx.Hash()
				err = &rpc.RPCError{Code: -32000, Message: "intrinsic gas too low"}
			})
		}
		return err
	}

	o := newOrchestrator(t, chain, 8, nil)
	seq := nonce.NewSequencer(chain, nil)
	results := o.Run(context.Background(), seq, sends(accts, 2), quote())

	if len(results) != 6 {
		t.Fatalf("results = %d, want 6", len(results))
	}
	ok := 0
	for _, r := range results {
		if r.OK() {
			ok++
			continue
		}
		var rej *txerr.ChainRejectionError
		if !errors.As(r.Err, &rej) || rej.TxHash != rejected {
			t.Errorf("unexpected failure: %v", r.Err)
		}
	}
	if ok != 5 {
		t.Errorf("confirmed = %d, want 5", ok)
	}

	// Each sender was given two consecutive nonces from its pending count.
	for i, a := range accts {
		base, next, found := seq.Assigned(a.Address)
		want := uint64(10 * (i + 1))
		if !found || base != want || next != want+2 {
			t.Errorf("sender %d assigned [%d,%d) found=%v, want [%d,%d)", i, base, next, found, want, want+2)
		}
		var got []uint64
		for _, r := range results {
			if r.Intent.Sender == a {
				got = append(got, r.Nonce)
			}
		}
		sort.Slice(got, func(x, y int) bool { return got[x] < got[y] })
		if len(got) != 2 || got[0] != want || got[1] != want+1 {
			t.Errorf("sender %d nonces = %v, want [%d %d]", i, got, want, want+1)
		}
		if n := chain.NonceReads(a.Address); n != 1 {
			t.Errorf("sender %d pending reads = %d, want 1", i, n)
		}
	}
}

func TestRunRetriesTransientSubmission(t *testing.T) {
	chain := chaintest.New(chainID, gasPrice)
	chain.OnSend = func(tx *types.Transaction, from common.Address, attempt int) error {
		if attempt <= 2 {
			return &txerr.TransientNetworkError{Op: "eth_sendRawTransaction", Err: errors.New("i/o timeout")}
		}
		return nil
	}
	o := newOrchestrator(t, chain, 4, nil)

	results := o.Run(context.Background(), nonce.NewSequencer(chain, nil), sends(senders(t, chain, 1), 1), quote())
	if !results[0].OK() {
		t.Fatalf("result failed: %v", results[0].Err)
	}
	if results[0].Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", results[0].Attempts)
	}
	if chain.Broadcasts() != 3 {
		t.Errorf("broadcasts = %d, want 3", chain.Broadcasts())
	}
}

func TestRunCancellationStopsNewIntents(t *testing.T) {
	chain := chaintest.New(chainID, gasPrice)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel as soon as the first transaction reaches the node.
	chain.OnSend = func(*types.Transaction, common.Address, int) error {
		cancel()
		return nil
	}
	o := newOrchestrator(t, chain, 1, nil)

	intents := sends(senders(t, chain, 1), 5)
	results := o.Run(ctx, nonce.NewSequencer(chain, nil), intents, quote())

	if len(results) != len(intents) {
		t.Fatalf("results = %d, want %d", len(results), len(intents))
	}
	notStarted := 0
	for _, r := range results {
		if r.Stage == pipeline.StageNotStarted {
			notStarted++
			if !errors.Is(r.Err, context.Canceled) {
				t.Errorf("not-started result err = %v, want context.Canceled", r.Err)
			}
		}
	}
	if notStarted < len(intents)-1 {
		t.Errorf("not started = %d, want at least %d", notStarted, len(intents)-1)
	}
	if len(chain.Sent()) > 1 {
		t.Errorf("accepted = %d after cancellation, want at most 1", len(chain.Sent()))
	}
}
