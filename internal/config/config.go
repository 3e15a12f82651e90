// Package config handles configuration loading and validation.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math/big"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/gateway-fm/txbot/internal/account"
	"github.com/gateway-fm/txbot/internal/catalog"
	"github.com/gateway-fm/txbot/internal/gas"
	"github.com/gateway-fm/txbot/internal/retry"
	"github.com/gateway-fm/txbot/internal/txerr"
	"github.com/gateway-fm/txbot/pkg/types"
)

// Config holds bot configuration.
type Config struct {
	RPCURL              string
	ChainID             int64 // 0 = ask the node
	Wallets             []account.LabeledKey
	GasPremiumPercent   int64
	FallbackGasPrice    *big.Int // wei, used when the node reports no price
	RetryAttempts       int
	RetryBackoff        time.Duration
	BatchDelay          time.Duration // pause between wallets
	SwapDelay           time.Duration // pause between swaps of one wallet
	Concurrency         int
	ConfirmTimeout      time.Duration
	ReceiptPollInterval time.Duration
	RouterAddress       common.Address
	Tokens              map[string]common.Address
	NativeSymbol        string
	WrappedSymbol       string
	FundingStipend      *big.Int // wei sent to each ephemeral account for gas
	ListenAddr          string
	DatabasePath        string
	LogLevel            slog.Level
	CORSAllowedOrigins  string // Comma-separated list of allowed origins, or "*" for all
}

// CLIConfig holds settings for a one-shot run from the command line.
type CLIConfig struct {
	Request types.OperationRequest
}

// Defaults
const (
	DefaultRPCURL              = "https://rpc.testnet.xrplevm.org/"
	DefaultGasMultiplier       = 1.2
	DefaultGasPriceGwei        = 10
	DefaultBatchDelay          = 500 * time.Millisecond
	DefaultSwapDelay           = 200 * time.Millisecond
	DefaultConcurrency         = 32
	DefaultConfirmTimeout      = 2 * time.Minute
	DefaultReceiptPollInterval = time.Second
	DefaultNativeSymbol        = "XRP"
	DefaultWrappedSymbol       = "WXRP"
	DefaultListenAddr          = ":3001"
	DefaultDatabasePath        = "./data/txbot.db"
	DefaultCORSAllowedOrigins  = "*"

	// PrivateKeyPrefix names the environment variables holding wallet keys.
	PrivateKeyPrefix = "PRIVATE_KEY_"
)

// Default returns a Config with every default applied and no wallets.
func Default() *Config {
	premium, _ := gas.PremiumFromMultiplier(DefaultGasMultiplier)
	return &Config{
		RPCURL:              DefaultRPCURL,
		GasPremiumPercent:   premium,
		FallbackGasPrice:    gweiToWei(decimal.NewFromInt(DefaultGasPriceGwei)),
		RetryAttempts:       retry.DefaultMaxAttempts,
		RetryBackoff:        retry.DefaultBackoff,
		BatchDelay:          DefaultBatchDelay,
		SwapDelay:           DefaultSwapDelay,
		Concurrency:         DefaultConcurrency,
		ConfirmTimeout:      DefaultConfirmTimeout,
		ReceiptPollInterval: DefaultReceiptPollInterval,
		RouterAddress:       catalog.DefaultRouter,
		Tokens:              catalog.DefaultTokens(),
		NativeSymbol:        DefaultNativeSymbol,
		WrappedSymbol:       DefaultWrappedSymbol,
		FundingStipend:      new(big.Int).Set(catalog.DefaultStipend),
		ListenAddr:          DefaultListenAddr,
		DatabasePath:        DefaultDatabasePath,
		LogLevel:            slog.LevelInfo,
		CORSAllowedOrigins:  DefaultCORSAllowedOrigins,
	}
}

// Load reads a .env file if present, then environment variables and
// command-line flags. Flags take precedence over the environment.
// Returns the config, CLI config (nil if running in server mode), and any error.
func Load() (*Config, *CLIConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("load .env: %w", err)
	}
	return Parse(os.Args[1:], os.Environ())
}

// Parse builds the configuration from explicit arguments and environment
// entries in KEY=VALUE form.
func Parse(args, environ []string) (*Config, *CLIConfig, error) {
	cfg := Default()
	env := envMap(environ)
	if err := cfg.applyEnv(env); err != nil {
		return nil, nil, err
	}

	flags := flag.NewFlagSet("txbot", flag.ContinueOnError)
	flags.SetOutput(io.Discard)

	var (
		rpcURL      = flags.String("rpc", cfg.RPCURL, "JSON-RPC endpoint URL")
		chainID     = flags.Int64("chainid", cfg.ChainID, "Chain ID (0 = ask the node)")
		premium     = flags.Int64("gas-premium", cfg.GasPremiumPercent, "Percent added to the node's gas price")
		attempts    = flags.Int("retries", cfg.RetryAttempts, "Submission attempts per transaction")
		concurrency = flags.Int("concurrency", cfg.Concurrency, "Max transactions in flight per batch")
		listenAddr  = flags.String("listen", cfg.ListenAddr, "HTTP listen address")
		dbPath      = flags.String("db", cfg.DatabasePath, "SQLite database path")
		logLevel    = flags.String("log-level", cfg.LogLevel.String(), "Log level (debug, info, warn, error)")

		opFlag      = flags.String("op", "", "Run one operation and exit (swap, add-liquidity, random-send, send-and-receive)")
		walletsFlag = flags.String("wallets", "", "Comma-separated wallet labels or addresses (default all)")
		countFlag   = flags.Int("count", 0, "Swaps per wallet or transfers per batch")
		amountFlag  = flags.String("amount", "", "Amount per swap or transfer, in token units")
		tokenFlag   = flags.String("token", "", "Token symbol for liquidity or sends")
		fromFlag    = flags.String("from", "", "Swap input token (random pair if empty)")
		toFlag      = flags.String("to", "", "Swap output token")
		baseFlag    = flags.String("base-amount", "", "Native amount for add-liquidity")
	)

	if err := flags.Parse(args); err != nil {
		return nil, nil, &txerr.ConfigurationError{Field: "flags", Reason: err.Error()}
	}

	cfg.RPCURL = *rpcURL
	cfg.ChainID = *chainID
	cfg.GasPremiumPercent = *premium
	cfg.RetryAttempts = *attempts
	cfg.Concurrency = *concurrency
	cfg.ListenAddr = *listenAddr
	cfg.DatabasePath = *dbPath
	if err := cfg.LogLevel.UnmarshalText([]byte(*logLevel)); err != nil {
		return nil, nil, &txerr.ConfigurationError{Field: "LOG_LEVEL", Reason: err.Error()}
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	if *opFlag == "" {
		return cfg, nil, nil
	}

	req := types.OperationRequest{Kind: types.OperationKind(*opFlag)}
	if *walletsFlag != "" {
		req.Wallets = splitList(*walletsFlag)
	}
	switch req.Kind {
	case types.OpSwap:
		req.Swap = &types.SwapParams{Count: *countFlag, Amount: *amountFlag, From: *fromFlag, To: *toFlag}
	case types.OpAddLiquidity:
		req.Liquidity = &types.LiquidityParams{Token: *tokenFlag, TokenAmount: *amountFlag, BaseAmount: *baseFlag}
	case types.OpRandomSend, types.OpSendAndReceive:
		req.Send = &types.SendParams{Token: *tokenFlag, Amount: *amountFlag, Count: *countFlag}
	}
	req.ApplyDefaults()

	cliCfg := &CLIConfig{Request: req}
	if err := cliCfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, cliCfg, nil
}

func (c *Config) applyEnv(env map[string]string) error {
	if v := env["RPC_URL"]; v != "" {
		c.RPCURL = v
	}
	if v := env["CHAIN_ID"]; v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return invalid("CHAIN_ID", err)
		}
		c.ChainID = id
	}
	c.Wallets = walletKeys(env)

	if v := env["GAS_MULTIPLIER"]; v != "" {
		m, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return invalid("GAS_MULTIPLIER", err)
		}
		pct, err := gas.PremiumFromMultiplier(m)
		if err != nil {
			return invalid("GAS_MULTIPLIER", err)
		}
		c.GasPremiumPercent = pct
	}
	// An explicit percent wins over the multiplier.
	if v := env["GAS_PREMIUM_PERCENT"]; v != "" {
		pct, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return invalid("GAS_PREMIUM_PERCENT", err)
		}
		c.GasPremiumPercent = pct
	}
	if v := env["DEFAULT_GAS_PRICE_GWEI"]; v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return invalid("DEFAULT_GAS_PRICE_GWEI", err)
		}
		c.FallbackGasPrice = gweiToWei(d)
	}

	if v := env["RETRY_COUNT"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return invalid("RETRY_COUNT", err)
		}
		c.RetryAttempts = n
	}
	if v := env["CONCURRENCY"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return invalid("CONCURRENCY", err)
		}
		c.Concurrency = n
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"RETRY_BACKOFF", &c.RetryBackoff},
		{"BATCH_DELAY", &c.BatchDelay},
		{"SWAP_DELAY", &c.SwapDelay},
		{"CONFIRM_TIMEOUT", &c.ConfirmTimeout},
		{"RECEIPT_POLL_INTERVAL", &c.ReceiptPollInterval},
	}
	for _, d := range durations {
		if v := env[d.key]; v != "" {
			parsed, err := parseDuration(v)
			if err != nil {
				return invalid(d.key, err)
			}
			*d.dst = parsed
		}
	}

	if v := env["NATIVE_SYMBOL"]; v != "" {
		c.NativeSymbol = strings.ToUpper(v)
	}
	if v := env["WRAPPED_SYMBOL"]; v != "" {
		c.WrappedSymbol = strings.ToUpper(v)
	}
	if v := env["ROUTER_ADDRESS"]; v != "" {
		if !common.IsHexAddress(v) {
			return &txerr.ConfigurationError{Field: "ROUTER_ADDRESS", Reason: "not a hex address"}
		}
		c.RouterAddress = common.HexToAddress(v)
	}
	if v := env["TOKENS"]; v != "" {
		tokens, err := parseTokens(v, c.NativeSymbol)
		if err != nil {
			return err
		}
		c.Tokens = tokens
	}
	if v := env["FUNDING_STIPEND"]; v != "" {
		wei, err := catalog.ParseUnits(v, catalog.NativeDecimals)
		if err != nil {
			return invalid("FUNDING_STIPEND", err)
		}
		c.FundingStipend = wei
	}

	if v := env["LISTEN_ADDR"]; v != "" {
		c.ListenAddr = v
	}
	if v := env["DATABASE_PATH"]; v != "" {
		c.DatabasePath = v
	}
	if v := env["LOG_LEVEL"]; v != "" {
		if err := c.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return invalid("LOG_LEVEL", err)
		}
	}
	if v := env["CORS_ALLOWED_ORIGINS"]; v != "" {
		c.CORSAllowedOrigins = v
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch {
	case c.RPCURL == "":
		return &txerr.ConfigurationError{Field: "RPC_URL", Reason: "is required"}
	case c.ChainID < 0:
		return &txerr.ConfigurationError{Field: "CHAIN_ID", Reason: "cannot be negative"}
	case len(c.Wallets) == 0:
		return &txerr.ConfigurationError{Field: PrivateKeyPrefix + "*", Reason: "at least one wallet key is required"}
	case c.GasPremiumPercent < 0:
		return &txerr.ConfigurationError{Field: "GAS_PREMIUM_PERCENT", Reason: "cannot be negative"}
	case c.FallbackGasPrice == nil || c.FallbackGasPrice.Sign() <= 0:
		return &txerr.ConfigurationError{Field: "DEFAULT_GAS_PRICE_GWEI", Reason: "must be positive"}
	case c.RetryAttempts < 1:
		return &txerr.ConfigurationError{Field: "RETRY_COUNT", Reason: "must be at least 1"}
	case c.RetryBackoff < 0:
		return &txerr.ConfigurationError{Field: "RETRY_BACKOFF", Reason: "cannot be negative"}
	case c.BatchDelay < 0 || c.SwapDelay < 0:
		return &txerr.ConfigurationError{Field: "BATCH_DELAY/SWAP_DELAY", Reason: "cannot be negative"}
	case c.Concurrency < 1:
		return &txerr.ConfigurationError{Field: "CONCURRENCY", Reason: "must be at least 1"}
	case c.ConfirmTimeout <= 0:
		return &txerr.ConfigurationError{Field: "CONFIRM_TIMEOUT", Reason: "must be positive"}
	case c.ReceiptPollInterval <= 0:
		return &txerr.ConfigurationError{Field: "RECEIPT_POLL_INTERVAL", Reason: "must be positive"}
	case c.RouterAddress == (common.Address{}):
		return &txerr.ConfigurationError{Field: "ROUTER_ADDRESS", Reason: "is required"}
	case c.FundingStipend == nil || c.FundingStipend.Sign() <= 0:
		return &txerr.ConfigurationError{Field: "FUNDING_STIPEND", Reason: "must be positive"}
	}
	if _, ok := c.Tokens[c.NativeSymbol]; !ok {
		return &txerr.ConfigurationError{Field: "NATIVE_SYMBOL", Reason: fmt.Sprintf("%q is not in TOKENS", c.NativeSymbol)}
	}
	if _, ok := c.Tokens[c.WrappedSymbol]; !ok {
		return &txerr.ConfigurationError{Field: "WRAPPED_SYMBOL", Reason: fmt.Sprintf("%q is not in TOKENS", c.WrappedSymbol)}
	}
	return nil
}

// Validate validates the CLI configuration.
func (c *CLIConfig) Validate() error {
	if err := c.Request.Validate(); err != nil {
		return &txerr.ConfigurationError{Field: "op", Reason: err.Error()}
	}
	return nil
}

// walletKeys collects PRIVATE_KEY_* variables ordered by variable name so
// wallet order is stable across runs.
func walletKeys(env map[string]string) []account.LabeledKey {
	var keys []account.LabeledKey
	for k, v := range env {
		if strings.HasPrefix(k, PrivateKeyPrefix) && strings.TrimSpace(v) != "" {
			keys = append(keys, account.LabeledKey{Label: k, Hex: strings.TrimSpace(v)})
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Label < keys[j].Label })
	return keys
}

// parseTokens reads SYM=0x... pairs. The native symbol needs no address.
func parseTokens(s, nativeSymbol string) (map[string]common.Address, error) {
	tokens := make(map[string]common.Address)
	for _, entry := range splitList(s) {
		sym, addr, ok := strings.Cut(entry, "=")
		sym = strings.ToUpper(strings.TrimSpace(sym))
		addr = strings.TrimSpace(addr)
		if !ok || sym == "" || !common.IsHexAddress(addr) {
			return nil, &txerr.ConfigurationError{Field: "TOKENS", Reason: fmt.Sprintf("bad entry %q, want SYMBOL=0xADDRESS", entry)}
		}
		if _, dup := tokens[sym]; dup {
			return nil, &txerr.ConfigurationError{Field: "TOKENS", Reason: "duplicate symbol " + sym}
		}
		tokens[sym] = common.HexToAddress(addr)
	}
	if _, ok := tokens[nativeSymbol]; !ok {
		tokens[nativeSymbol] = catalog.NativePlaceholder
	}
	return tokens, nil
}

// parseDuration accepts Go durations ("500ms") or bare milliseconds ("500").
func parseDuration(s string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}

func gweiToWei(gwei decimal.Decimal) *big.Int {
	return gwei.Shift(9).BigInt()
}

func envMap(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func invalid(field string, err error) error {
	return &txerr.ConfigurationError{Field: field, Reason: err.Error()}
}
