package config

import (
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/txbot/internal/catalog"
	"github.com/gateway-fm/txbot/internal/txerr"
	"github.com/gateway-fm/txbot/pkg/types"
)

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func baseEnv(extra ...string) []string {
	return append([]string{"PRIVATE_KEY_1=" + testKey}, extra...)
}

func TestParseDefaults(t *testing.T) {
	cfg, cli, err := Parse(nil, baseEnv())
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if cli != nil {
		t.Errorf("expected server mode, got CLI config %+v", cli)
	}
	if cfg.RPCURL != DefaultRPCURL {
		t.Errorf("RPCURL = %s", cfg.RPCURL)
	}
	if cfg.GasPremiumPercent != 20 {
		t.Errorf("GasPremiumPercent = %d, want 20", cfg.GasPremiumPercent)
	}
	if cfg.FallbackGasPrice.String() != "10000000000" {
		t.Errorf("FallbackGasPrice = %s, want 10 gwei", cfg.FallbackGasPrice)
	}
	if cfg.BatchDelay != 500*time.Millisecond || cfg.SwapDelay != 200*time.Millisecond {
		t.Errorf("delays = %v/%v", cfg.BatchDelay, cfg.SwapDelay)
	}
	if cfg.ChainID != 0 {
		t.Errorf("ChainID = %d, want 0 (ask node)", cfg.ChainID)
	}
	if len(cfg.Tokens) != 4 || cfg.RouterAddress != catalog.DefaultRouter {
		t.Errorf("token set = %v router = %s", cfg.Tokens, cfg.RouterAddress.Hex())
	}
}

func TestParseEnvironment(t *testing.T) {
	env := baseEnv(
		"RPC_URL=http://localhost:8545",
		"CHAIN_ID=1449000",
		"GAS_MULTIPLIER=1.5",
		"DEFAULT_GAS_PRICE_GWEI=2.5",
		"RETRY_COUNT=5",
		"RETRY_BACKOFF=1s",
		"BATCH_DELAY=1000",
		"SWAP_DELAY=0",
		"CONCURRENCY=4",
		"FUNDING_STIPEND=0.5",
		"LOG_LEVEL=debug",
		"TOKENS=WXRP=0x81Be083099c2C65b062378E74Fa8469644347BB7,foo=0x0000000000000000000000000000000000000001",
	)
	cfg, _, err := Parse(nil, env)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if cfg.RPCURL != "http://localhost:8545" || cfg.ChainID != 1449000 {
		t.Errorf("node = %s/%d", cfg.RPCURL, cfg.ChainID)
	}
	if cfg.GasPremiumPercent != 50 {
		t.Errorf("GasPremiumPercent = %d, want 50", cfg.GasPremiumPercent)
	}
	if cfg.FallbackGasPrice.String() != "2500000000" {
		t.Errorf("FallbackGasPrice = %s", cfg.FallbackGasPrice)
	}
	if cfg.RetryAttempts != 5 || cfg.RetryBackoff != time.Second {
		t.Errorf("retry = %d/%v", cfg.RetryAttempts, cfg.RetryBackoff)
	}
	if cfg.BatchDelay != time.Second || cfg.SwapDelay != 0 {
		t.Errorf("delays = %v/%v", cfg.BatchDelay, cfg.SwapDelay)
	}
	if cfg.Concurrency != 4 {
		t.Errorf("Concurrency = %d", cfg.Concurrency)
	}
	if cfg.FundingStipend.String() != "500000000000000000" {
		t.Errorf("FundingStipend = %s", cfg.FundingStipend)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
	if len(cfg.Tokens) != 3 {
		t.Fatalf("Tokens = %v, want WXRP, FOO and the native XRP", cfg.Tokens)
	}
	if cfg.Tokens["XRP"] != catalog.NativePlaceholder {
		t.Error("native symbol was not added to the token set")
	}
	if cfg.Tokens["FOO"] != common.HexToAddress("0x01") {
		t.Errorf("FOO = %s", cfg.Tokens["FOO"].Hex())
	}
}

func TestPremiumPercentOverridesMultiplier(t *testing.T) {
	cfg, _, err := Parse(nil, baseEnv("GAS_MULTIPLIER=2", "GAS_PREMIUM_PERCENT=7"))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if cfg.GasPremiumPercent != 7 {
		t.Errorf("GasPremiumPercent = %d, want 7", cfg.GasPremiumPercent)
	}
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	cfg, _, err := Parse(
		[]string{"-rpc", "http://flag:8545", "-retries", "1", "-concurrency", "2", "-log-level", "warn"},
		baseEnv("RPC_URL=http://env:8545", "RETRY_COUNT=9"),
	)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if cfg.RPCURL != "http://flag:8545" || cfg.RetryAttempts != 1 || cfg.Concurrency != 2 {
		t.Errorf("cfg = %s/%d/%d", cfg.RPCURL, cfg.RetryAttempts, cfg.Concurrency)
	}
	if cfg.LogLevel != slog.LevelWarn {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
}

func TestWalletKeysSortedByName(t *testing.T) {
	env := []string{
		"PRIVATE_KEY_B=" + testKey,
		"PRIVATE_KEY_A=59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d",
		"PRIVATE_KEY_EMPTY=",
		"OTHER=1",
	}
	cfg, _, err := Parse(nil, env)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(cfg.Wallets) != 2 {
		t.Fatalf("Wallets = %d, want 2", len(cfg.Wallets))
	}
	if cfg.Wallets[0].Label != "PRIVATE_KEY_A" || cfg.Wallets[1].Label != "PRIVATE_KEY_B" {
		t.Errorf("order = %s, %s", cfg.Wallets[0].Label, cfg.Wallets[1].Label)
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		env   []string
		field string
	}{
		{"no wallets", nil, nil, PrivateKeyPrefix + "*"},
		{"bad chain id", nil, baseEnv("CHAIN_ID=abc"), "CHAIN_ID"},
		{"multiplier below one", nil, baseEnv("GAS_MULTIPLIER=0.9"), "GAS_MULTIPLIER"},
		{"zero retries", nil, baseEnv("RETRY_COUNT=0"), "RETRY_COUNT"},
		{"bad delay", nil, baseEnv("BATCH_DELAY=soon"), "BATCH_DELAY"},
		{"bad router", nil, baseEnv("ROUTER_ADDRESS=nope"), "ROUTER_ADDRESS"},
		{"bad token entry", nil, baseEnv("TOKENS=WXRP"), "TOKENS"},
		{"wrapped missing", nil, baseEnv("TOKENS=FOO=0x0000000000000000000000000000000000000001"), "WRAPPED_SYMBOL"},
		{"bad stipend", nil, baseEnv("FUNDING_STIPEND=-1"), "FUNDING_STIPEND"},
		{"bad log level", nil, baseEnv("LOG_LEVEL=loud"), "LOG_LEVEL"},
		{"unknown flag", []string{"-bogus"}, baseEnv(), "flags"},
		{"unknown op", []string{"-op", "mint"}, baseEnv(), "op"},
		{"bad op amount", []string{"-op", "swap", "-amount", "lots"}, baseEnv(), "op"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Parse(tt.args, tt.env)
			var cfgErr *txerr.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("error = %v, want ConfigurationError", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", cfgErr.Field, tt.field)
			}
		})
	}
}

func TestParseCLIOperations(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, req types.OperationRequest)
	}{
		{
			name: "swap defaults",
			args: []string{"-op", "swap"},
			check: func(t *testing.T, req types.OperationRequest) {
				if req.Swap == nil || req.Swap.Count != types.DefaultSwapCount || req.Swap.Amount != types.DefaultSwapAmount {
					t.Errorf("Swap = %+v", req.Swap)
				}
			},
		},
		{
			name: "fixed swap pair",
			args: []string{"-op", "swap", "-from", "RISE", "-to", "RIBBIT", "-count", "3"},
			check: func(t *testing.T, req types.OperationRequest) {
				if req.Swap.From != "RISE" || req.Swap.To != "RIBBIT" || req.Swap.Count != 3 {
					t.Errorf("Swap = %+v", req.Swap)
				}
			},
		},
		{
			name: "add liquidity",
			args: []string{"-op", "add-liquidity", "-token", "RISE", "-amount", "2", "-base-amount", "0.01"},
			check: func(t *testing.T, req types.OperationRequest) {
				l := req.Liquidity
				if l == nil || l.Token != "RISE" || l.TokenAmount != "2" || l.BaseAmount != "0.01" {
					t.Errorf("Liquidity = %+v", l)
				}
			},
		},
		{
			name: "send and receive for two wallets",
			args: []string{"-op", "send-and-receive", "-wallets", "PRIVATE_KEY_1, 0xabc"},
			check: func(t *testing.T, req types.OperationRequest) {
				if req.Send == nil || req.Send.Count != types.DefaultSendAndReceiveCount {
					t.Errorf("Send = %+v", req.Send)
				}
				if strings.Join(req.Wallets, "|") != "PRIVATE_KEY_1|0xabc" {
					t.Errorf("Wallets = %v", req.Wallets)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, cli, err := Parse(tt.args, baseEnv())
			if err != nil {
				t.Fatalf("Parse() error: %v", err)
			}
			if cli == nil {
				t.Fatal("expected CLI config")
			}
			tt.check(t, cli.Request)
		})
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"250", 250 * time.Millisecond},
		{"2s", 2 * time.Second},
		{"1m30s", 90 * time.Second},
	}
	for _, tt := range tests {
		got, err := parseDuration(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("parseDuration(%q) = %v, %v, want %v", tt.in, got, err, tt.want)
		}
	}
}
