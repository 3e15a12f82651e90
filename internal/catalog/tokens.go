package catalog

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/gateway-fm/txbot/internal/txbuilder"
)

// NativeDecimals is the precision of the chain's native coin.
const NativeDecimals = 18

// NativePlaceholder is the conventional address used to name the native coin.
var NativePlaceholder = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// Token is a registry entry. Native tokens have no contract.
type Token struct {
	Symbol  string
	Address common.Address
	Native  bool
}

// Pair is an unordered trading pair of symbols.
type Pair struct {
	A, B string
}

// DefaultTokens is the XRPL EVM testnet token set.
func DefaultTokens() map[string]common.Address {
	return map[string]common.Address{
		"XRP":    NativePlaceholder,
		"RIBBIT": common.HexToAddress("0x73ee7BC68d3f07CfcD68776512b7317FE57E1939"),
		"RISE":   common.HexToAddress("0x0c28777DEebe4589e83EF2Dc7833354e6a0aFF85"),
		"WXRP":   common.HexToAddress("0x81Be083099c2C65b062378E74Fa8469644347BB7"),
	}
}

// DefaultRouter is the UniswapV2-style router on the XRPL EVM testnet.
var DefaultRouter = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")

// ContractCaller performs read-only contract calls.
type ContractCaller interface {
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Tokens        map[string]common.Address // symbol -> contract
	NativeSymbol  string
	WrappedSymbol string
	Router        common.Address
	Client        ContractCaller
}

// Registry resolves symbols to tokens and converts display amounts to base
// units using on-chain decimals. Decimals are cached for the process lifetime.
type Registry struct {
	tokens  map[string]Token
	symbols []string
	native  Token
	wrapped Token
	router  common.Address
	client  ContractCaller

	mu       sync.Mutex
	decimals map[common.Address]uint8
}

// NewRegistry validates the token set and creates a Registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Router == (common.Address{}) {
		return nil, fmt.Errorf("router address is required")
	}
	r := &Registry{
		tokens:   make(map[string]Token, len(cfg.Tokens)),
		router:   cfg.Router,
		client:   cfg.Client,
		decimals: make(map[common.Address]uint8),
	}

	nativeSym := strings.ToUpper(cfg.NativeSymbol)
	wrappedSym := strings.ToUpper(cfg.WrappedSymbol)
	for sym, addr := range cfg.Tokens {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			return nil, fmt.Errorf("empty token symbol")
		}
		if _, dup := r.tokens[sym]; dup {
			return nil, fmt.Errorf("duplicate token symbol %s", sym)
		}
		t := Token{Symbol: sym, Address: addr, Native: sym == nativeSym}
		if !t.Native && addr == (common.Address{}) {
			return nil, fmt.Errorf("token %s has no address", sym)
		}
		r.tokens[sym] = t
		r.symbols = append(r.symbols, sym)
	}
	sort.Strings(r.symbols)

	var ok bool
	if r.native, ok = r.tokens[nativeSym]; !ok {
		return nil, fmt.Errorf("native symbol %q is not in the token set", cfg.NativeSymbol)
	}
	if r.wrapped, ok = r.tokens[wrappedSym]; !ok {
		return nil, fmt.Errorf("wrapped symbol %q is not in the token set", cfg.WrappedSymbol)
	}
	if r.wrapped.Native {
		return nil, fmt.Errorf("wrapped symbol must differ from native symbol")
	}
	return r, nil
}

// Lookup resolves a symbol, case-insensitively.
func (r *Registry) Lookup(symbol string) (Token, error) {
	t, ok := r.tokens[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return Token{}, fmt.Errorf("unknown token %q (known: %s)", symbol, strings.Join(r.symbols, ", "))
	}
	return t, nil
}

// Native returns the native coin entry.
func (r *Registry) Native() Token { return r.native }

// Wrapped returns the wrapped native token entry.
func (r *Registry) Wrapped() Token { return r.wrapped }

// Router returns the router address.
func (r *Registry) Router() common.Address { return r.router }

// Symbols returns every symbol in sorted order.
func (r *Registry) Symbols() []string {
	return append([]string(nil), r.symbols...)
}

// Tokens returns every non-native token in symbol order.
func (r *Registry) Tokens() []Token {
	out := make([]Token, 0, len(r.symbols))
	for _, s := range r.symbols {
		if t := r.tokens[s]; !t.Native {
			out = append(out, t)
		}
	}
	return out
}

// Pairs returns every unordered pair of registered symbols.
func (r *Registry) Pairs() []Pair {
	var out []Pair
	for i := 0; i < len(r.symbols); i++ {
		for j := i + 1; j < len(r.symbols); j++ {
			out = append(out, Pair{A: r.symbols[i], B: r.symbols[j]})
		}
	}
	return out
}

// RouteAddress is the address a token takes in a router path. The native
// coin routes through its wrapped token.
func (r *Registry) RouteAddress(t Token) common.Address {
	if t.Native {
		return r.wrapped.Address
	}
	return t.Address
}

// Decimals returns the token's precision, reading decimals() on first use.
func (r *Registry) Decimals(ctx context.Context, t Token) (uint8, error) {
	if t.Native {
		return NativeDecimals, nil
	}

	r.mu.Lock()
	d, ok := r.decimals[t.Address]
	r.mu.Unlock()
	if ok {
		return d, nil
	}

	if r.client == nil {
		return 0, fmt.Errorf("no client to read decimals of %s", t.Symbol)
	}
	data, err := txbuilder.EncodeDecimals()
	if err != nil {
		return 0, err
	}
	out, err := r.client.CallContract(ctx, t.Address, data)
	if err != nil {
		return 0, fmt.Errorf("read decimals of %s: %w", t.Symbol, err)
	}
	d, err = txbuilder.DecodeDecimals(out)
	if err != nil {
		return 0, fmt.Errorf("decode decimals of %s: %w", t.Symbol, err)
	}

	r.mu.Lock()
	r.decimals[t.Address] = d
	r.mu.Unlock()
	return d, nil
}

// ParseAmount converts a display amount of t into base units.
func (r *Registry) ParseAmount(ctx context.Context, t Token, amount string) (*big.Int, error) {
	d, err := r.Decimals(ctx, t)
	if err != nil {
		return nil, err
	}
	v, err := ParseUnits(amount, d)
	if err != nil {
		return nil, fmt.Errorf("%s amount: %w", t.Symbol, err)
	}
	return v, nil
}

// ParseUnits converts a decimal string to an integer scaled by 10^decimals.
// Amounts with more fractional digits than decimals are rejected.
func ParseUnits(amount string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q", amount)
	}
	if d.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative, got %s", amount)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("amount %s has more than %d decimal places", amount, decimals)
	}
	return scaled.BigInt(), nil
}

// FormatUnits renders base units with the given precision, trimming
// trailing zeros.
func FormatUnits(v *big.Int, decimals uint8) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -int32(decimals)).String()
}
