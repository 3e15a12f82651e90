// Package gas produces the gas price quote shared by every transaction of an operation.
package gas

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/gateway-fm/txbot/internal/retry"
)

const (
	// DefaultPremiumPercent is added on top of the node's price.
	DefaultPremiumPercent = 20
)

// DefaultFallbackPrice is used when the node reports no price (10 gwei).
var DefaultFallbackPrice = big.NewInt(10_000_000_000)

// PriceSource reads the network's current gas price. A nil price means
// the node did not report one.
type PriceSource interface {
	GetGasPrice(ctx context.Context) (*big.Int, error)
}

// Quote is an immutable gas price for one operation.
type Quote struct {
	Price          *big.Int // Base plus premium; what transactions are signed with.
	Base           *big.Int // Network price, or the fallback.
	PremiumPercent int64
	Fallback       bool // Base came from the fallback.
	ObservedAt     time.Time
}

// Gwei renders Price in gwei for logs and reports.
func (q Quote) Gwei() string {
	if q.Price == nil {
		return "0"
	}
	f := new(big.Float).Quo(new(big.Float).SetInt(q.Price), big.NewFloat(1e9))
	return f.Text('f', 3)
}

// Recorder observes issued quotes.
type Recorder interface {
	SetGasPrice(wei *big.Int)
}

// Config configures an Oracle.
type Config struct {
	PremiumPercent int64
	FallbackPrice  *big.Int
	Retry          *retry.Executor
	Recorder       Recorder
	Logger         *slog.Logger
}

// Oracle turns the node's price into a competitive quote.
type Oracle struct {
	source   PriceSource
	premium  int64
	fallback *big.Int
	retry    *retry.Executor
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewOracle creates an Oracle. A negative premium is treated as zero.
func NewOracle(source PriceSource, cfg Config) *Oracle {
	if cfg.PremiumPercent < 0 {
		cfg.PremiumPercent = 0
	}
	if cfg.FallbackPrice == nil || cfg.FallbackPrice.Sign() <= 0 {
		cfg.FallbackPrice = DefaultFallbackPrice
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Oracle{
		source:   source,
		premium:  cfg.PremiumPercent,
		fallback: new(big.Int).Set(cfg.FallbackPrice),
		retry:    cfg.Retry,
		recorder: cfg.Recorder,
		logger:   cfg.Logger,
		now:      time.Now,
	}
}

// Quote reads the network price once and applies the premium:
// price = base + base*premium/100.
func (o *Oracle) Quote(ctx context.Context) (Quote, error) {
	base, err := retry.Do(ctx, o.retry, "eth_gasPrice", o.source.GetGasPrice)
	if err != nil {
		return Quote{}, fmt.Errorf("failed to read gas price: %w", err)
	}

	q := Quote{PremiumPercent: o.premium, ObservedAt: o.now()}
	if base == nil || base.Sign() <= 0 {
		q.Base = new(big.Int).Set(o.fallback)
		q.Fallback = true
		o.logger.Warn("node reported no gas price, using fallback",
			slog.String("fallbackWei", o.fallback.String()),
		)
	} else {
		q.Base = new(big.Int).Set(base)
	}

	q.Price = ApplyPremium(q.Base, o.premium)

	if o.recorder != nil {
		o.recorder.SetGasPrice(q.Price)
	}
	o.logger.Debug("gas quote",
		slog.String("baseWei", q.Base.String()),
		slog.String("priceWei", q.Price.String()),
		slog.Int64("premiumPercent", o.premium),
	)
	return q, nil
}

// ApplyPremium returns base + base*percent/100 using integer arithmetic.
func ApplyPremium(base *big.Int, percent int64) *big.Int {
	bump := new(big.Int).Mul(base, big.NewInt(percent))
	bump.Quo(bump, big.NewInt(100))
	return bump.Add(bump, base)
}

// PremiumFromMultiplier converts a multiplier such as 1.2 into a whole percent (20).
func PremiumFromMultiplier(m float64) (int64, error) {
	if m < 1 {
		return 0, fmt.Errorf("gas multiplier %v is below 1", m)
	}
	pct := (m - 1) * 100
	return int64(pct + 0.5), nil
}
