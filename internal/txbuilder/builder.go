// Package txbuilder turns intents into signed legacy transactions.
package txbuilder

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/txbot/internal/intent"
)

// Gas limits per call class.
const (
	GasLimitERC20   uint64 = 65_000
	GasLimitNative  uint64 = 21_000
	GasLimitComplex uint64 = 200_000
)

// DefaultGasLimits maps every call type to its gas limit.
func DefaultGasLimits() map[intent.CallType]uint64 {
	return map[intent.CallType]uint64{
		intent.CallTransfer:           GasLimitERC20,
		intent.CallApprove:            GasLimitERC20,
		intent.CallWrap:               GasLimitERC20,
		intent.CallUnwrap:             GasLimitERC20,
		intent.CallNativeSend:         GasLimitNative,
		intent.CallSwapNativeIn:       GasLimitComplex,
		intent.CallSwapTokens:         GasLimitComplex,
		intent.CallSwapNativeOut:      GasLimitComplex,
		intent.CallAddLiquidityNative: GasLimitComplex,
	}
}

// Config configures a Builder.
type Config struct {
	ChainID *big.Int
	Router  common.Address
	// GasLimits overrides DefaultGasLimits per call type.
	GasLimits map[intent.CallType]uint64
}

// Builder encodes and signs intents.
type Builder struct {
	chainID   *big.Int
	router    common.Address
	gasLimits map[intent.CallType]uint64
	signer    types.Signer
}

// New creates a Builder.
func New(cfg Config) (*Builder, error) {
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, errors.New("chain id is required")
	}
	limits := DefaultGasLimits()
	for k, v := range cfg.GasLimits {
		limits[k] = v
	}
	return &Builder{
		chainID:   new(big.Int).Set(cfg.ChainID),
		router:    cfg.Router,
		gasLimits: limits,
		signer:    types.LatestSignerForChainID(cfg.ChainID),
	}, nil
}

// ChainID returns the signing chain id.
func (b *Builder) ChainID() *big.Int { return new(big.Int).Set(b.chainID) }

// GasLimit returns the gas limit used for a call type.
func (b *Builder) GasLimit(c intent.CallType) uint64 { return b.gasLimits[c] }

// Call is the encoded form of an intent: destination, attached value and calldata.
type Call struct {
	To    common.Address
	Value *big.Int
	Data  []byte
	Gas   uint64
}

// Encode produces the destination, value and calldata for an intent.
func (b *Builder) Encode(in intent.Intent) (Call, error) {
	if !in.Call.Valid() {
		return Call{}, fmt.Errorf("unknown call type %q", in.Call)
	}
	if in.Amount == nil || in.Amount.Sign() < 0 {
		return Call{}, fmt.Errorf("%s: amount must be non-negative", in.Call)
	}

	c := Call{Value: new(big.Int), Gas: b.gasLimits[in.Call]}
	var err error

	switch in.Call {
	case intent.CallTransfer:
		c.To = in.Asset
		c.Data, err = EncodeTransfer(in.Recipient, in.Amount)
	case intent.CallNativeSend:
		c.To = in.Recipient
		c.Value.Set(in.Amount)
	case intent.CallApprove:
		c.To = in.Asset
		c.Data, err = EncodeApprove(in.Recipient, in.Amount)
	case intent.CallWrap:
		c.To = in.Asset
		c.Value.Set(in.Amount)
		c.Data, err = EncodeDeposit()
	case intent.CallUnwrap:
		c.To = in.Asset
		c.Data, err = EncodeWithdraw(in.Amount)
	case intent.CallSwapNativeIn:
		c.To = b.router
		c.Value.Set(in.Amount)
		c.Data, err = EncodeSwapExactETHForTokens(in.Path, in.Recipient, in.Deadline)
	case intent.CallSwapTokens:
		c.To = b.router
		c.Data, err = EncodeSwapExactTokensForTokens(in.Amount, in.Path, in.Recipient, in.Deadline)
	case intent.CallSwapNativeOut:
		c.To = b.router
		c.Data, err = EncodeSwapExactTokensForETH(in.Amount, in.Path, in.Recipient, in.Deadline)
	case intent.CallAddLiquidityNative:
		c.To = b.router
		if in.Value != nil {
			c.Value.Set(in.Value)
		}
		c.Data, err = EncodeAddLiquidityETH(in.Asset, in.Amount, in.Recipient, in.Deadline)
	}
	if err != nil {
		return Call{}, fmt.Errorf("encode %s: %w", in.Call, err)
	}
	if c.To == (common.Address{}) {
		return Call{}, fmt.Errorf("%s: destination address is zero", in.Call)
	}
	return c, nil
}

// Build creates the unsigned legacy transaction for an intent.
func (b *Builder) Build(in intent.Intent, nonce uint64, gasPrice *big.Int) (*types.Transaction, error) {
	if gasPrice == nil || gasPrice.Sign() <= 0 {
		return nil, errors.New("gas price is required")
	}
	c, err := b.Encode(in)
	if err != nil {
		return nil, err
	}
	to := c.To
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: new(big.Int).Set(gasPrice),
		Gas:      c.Gas,
		To:       &to,
		Value:    c.Value,
		Data:     c.Data,
	}), nil
}

// BuildSigned builds and signs the transaction with the intent's sender key.
func (b *Builder) BuildSigned(in intent.Intent, nonce uint64, gasPrice *big.Int) (*types.Transaction, error) {
	if in.Sender == nil || in.Sender.PrivateKey == nil {
		return nil, errors.New("intent has no sender key")
	}
	tx, err := b.Build(in, nonce, gasPrice)
	if err != nil {
		return nil, err
	}
	signed, err := types.SignTx(tx, b.signer, in.Sender.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", in.Call, err)
	}
	return signed, nil
}
