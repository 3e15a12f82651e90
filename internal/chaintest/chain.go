// Package chaintest provides an in-memory chain that implements rpc.Client
// for tests. Accepted transactions are mined immediately.
package chaintest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/txbot/internal/rpc"
	"github.com/gateway-fm/txbot/internal/txerr"
)

var (
	selTransfer  = hexutil.MustDecode("0xa9059cbb")
	selBalanceOf = hexutil.MustDecode("0x70a08231")
	selDecimals  = hexutil.MustDecode("0x313ce567")
)

// SendHook may inject a submission error. attempt counts broadcasts of the
// same hash, starting at 1. Returning nil lets the chain accept the tx.
type SendHook func(tx *types.Transaction, from common.Address, attempt int) error

// Chain is a fake node.
type Chain struct {
	mu sync.Mutex

	chainID  *big.Int
	gasPrice *big.Int
	signer   types.Signer

	pending  map[common.Address]uint64 // next pending nonce
	used     map[common.Address]map[uint64]bool
	native   map[common.Address]*big.Int
	tokens   map[common.Address]map[common.Address]*big.Int // token -> holder -> balance
	decimals map[common.Address]uint8

	accepted map[common.Hash]*types.Transaction
	order    []*types.Transaction
	senders  map[common.Hash]common.Address
	attempts map[common.Hash]int
	receipts map[common.Hash]*rpc.TransactionReceipt
	block    uint64

	nonceReads   map[common.Address]int
	gasReads     int
	balanceReads int

	// Hooks; set before use.
	OnSend       SendHook
	LoseReply    func(tx *types.Transaction, attempt int) bool // mine, then time out
	RevertIf     func(tx *types.Transaction, from common.Address) bool
	GasPriceErr  error
	BalanceErr   func(addr common.Address) error
	NullGasPrice bool
}

// New creates a chain with the given id and node gas price.
func New(chainID, gasPrice *big.Int) *Chain {
	return &Chain{
		chainID:    chainID,
		gasPrice:   gasPrice,
		signer:     types.LatestSignerForChainID(chainID),
		pending:    make(map[common.Address]uint64),
		used:       make(map[common.Address]map[uint64]bool),
		native:     make(map[common.Address]*big.Int),
		tokens:     make(map[common.Address]map[common.Address]*big.Int),
		decimals:   make(map[common.Address]uint8),
		accepted:   make(map[common.Hash]*types.Transaction),
		senders:    make(map[common.Hash]common.Address),
		attempts:   make(map[common.Hash]int),
		receipts:   make(map[common.Hash]*rpc.TransactionReceipt),
		nonceReads: make(map[common.Address]int),
	}
}

var _ rpc.Client = (*Chain)(nil)

// SetPendingNonce sets the pending transaction count reported for addr.
func (c *Chain) SetPendingNonce(addr common.Address, n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[addr] = n
}

// SetNative sets addr's native balance.
func (c *Chain) SetNative(addr common.Address, wei *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.native[addr] = new(big.Int).Set(wei)
}

// SetToken sets holder's balance of token and registers its decimals.
func (c *Chain) SetToken(token, holder common.Address, amount *big.Int, decimals uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens[token] == nil {
		c.tokens[token] = make(map[common.Address]*big.Int)
	}
	c.tokens[token][holder] = new(big.Int).Set(amount)
	c.decimals[token] = decimals
}

// Native returns addr's native balance.
func (c *Chain) Native(addr common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nativeLocked(addr)
}

func (c *Chain) nativeLocked(addr common.Address) *big.Int {
	if b, ok := c.native[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Token returns holder's balance of token.
func (c *Chain) Token(token, holder common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokenLocked(token, holder)
}

func (c *Chain) tokenLocked(token, holder common.Address) *big.Int {
	if b, ok := c.tokens[token][holder]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Sent returns accepted transactions in acceptance order.
func (c *Chain) Sent() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Transaction(nil), c.order...)
}

// SentFrom returns accepted transactions from addr in acceptance order.
func (c *Chain) SentFrom(addr common.Address) []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*types.Transaction
	for _, tx := range c.order {
		if c.senders[tx.Hash()] == addr {
			out = append(out, tx)
		}
	}
	return out
}

// Broadcasts returns how many times any payload was broadcast, accepted or not.
func (c *Chain) Broadcasts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, a := range c.attempts {
		n += a
	}
	return n
}

// NonceReads returns how many pending-count reads addr received.
func (c *Chain) NonceReads(addr common.Address) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonceReads[addr]
}

// GasPriceReads returns how many eth_gasPrice reads were made.
func (c *Chain) GasPriceReads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gasReads
}

// Call is unsupported; the fake only implements typed helpers.
func (c *Chain) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	return nil, fmt.Errorf("chaintest: raw call %s not supported", method)
}

// BatchCall answers eth_call and eth_getBalance requests.
func (c *Chain) BatchCall(ctx context.Context, calls []rpc.BatchRequest) ([]rpc.BatchResponse, error) {
	out := make([]rpc.BatchResponse, len(calls))
	for i, call := range calls {
		switch call.Method {
		case "eth_getBalance":
			addr, _ := call.Params[0].(string)
			bal, err := c.GetBalance(ctx, addr)
			if err != nil {
				out[i].Error = err
				continue
			}
			out[i].Result, _ = json.Marshal(hexutil.EncodeBig(bal))
		case "eth_call":
			msg, _ := call.Params[0].(map[string]string)
			data, err := hexutil.Decode(msg["data"])
			if err != nil {
				out[i].Error = err
				continue
			}
			res, err := c.CallContract(ctx, common.HexToAddress(msg["to"]), data)
			if err != nil {
				out[i].Error = err
				continue
			}
			out[i].Result, _ = json.Marshal(hexutil.Encode(res))
		default:
			out[i].Error = fmt.Errorf("chaintest: batch method %s not supported", call.Method)
		}
	}
	return out, nil
}

// SendRawTransaction decodes, validates and mines a transaction.
func (c *Chain) SendRawTransaction(ctx context.Context, txRLP []byte) error {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(txRLP); err != nil {
		return &rpc.RPCError{Code: -32602, Message: "invalid transaction: " + err.Error()}
	}
	from, err := types.Sender(c.signer, tx)
	if err != nil {
		return &rpc.RPCError{Code: -32000, Message: "invalid sender: " + err.Error()}
	}

	c.mu.Lock()
	c.attempts[tx.Hash()]++
	attempt := c.attempts[tx.Hash()]
	hook := c.OnSend
	c.mu.Unlock()

	if hook != nil {
		if err := hook(tx, from, attempt); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Accepted transactions are already mined, so the pool no longer knows
	// their hash.
	if c.used[from][tx.Nonce()] {
		return &rpc.RPCError{Code: -32000, Message: "nonce too low"}
	}

	gasCost := new(big.Int).Mul(tx.GasPrice(), new(big.Int).SetUint64(tx.Gas()))
	need := new(big.Int).Add(gasCost, tx.Value())
	if c.nativeLocked(from).Cmp(need) < 0 {
		return &rpc.RPCError{Code: -32000, Message: "insufficient funds for gas * price + value"}
	}

	if c.used[from] == nil {
		c.used[from] = make(map[uint64]bool)
	}
	c.used[from][tx.Nonce()] = true
	if tx.Nonce() >= c.pending[from] {
		c.pending[from] = tx.Nonce() + 1
	}

	c.accepted[tx.Hash()] = tx
	c.senders[tx.Hash()] = from
	c.order = append(c.order, tx)
	c.block++

	status := uint64(1)
	c.native[from] = new(big.Int).Sub(c.nativeLocked(from), gasCost)
	if c.RevertIf != nil && c.RevertIf(tx, from) {
		status = 0
	} else if !c.applyLocked(tx, from) {
		status = 0
	}

	c.receipts[tx.Hash()] = &rpc.TransactionReceipt{
		Status:            status,
		GasUsed:           tx.Gas(),
		BlockNumber:       c.block,
		EffectiveGasPrice: tx.GasPrice().Uint64(),
	}
	if c.LoseReply != nil && c.LoseReply(tx, attempt) {
		return &txerr.TransientNetworkError{Op: "eth_sendRawTransaction", Err: errors.New("i/o timeout")}
	}
	return nil
}

// applyLocked moves value and ERC20 transfers. It reports false on revert.
func (c *Chain) applyLocked(tx *types.Transaction, from common.Address) bool {
	to := *tx.To()
	if tx.Value().Sign() > 0 {
		c.native[from] = new(big.Int).Sub(c.nativeLocked(from), tx.Value())
		c.native[to] = new(big.Int).Add(c.nativeLocked(to), tx.Value())
	}

	data := tx.Data()
	if len(data) == 68 && bytes.Equal(data[:4], selTransfer) {
		recipient := common.BytesToAddress(data[16:36])
		amount := new(big.Int).SetBytes(data[36:68])
		have := c.tokenLocked(to, from)
		if have.Cmp(amount) < 0 {
			return false
		}
		if c.tokens[to] == nil {
			c.tokens[to] = make(map[common.Address]*big.Int)
		}
		c.tokens[to][from] = have.Sub(have, amount)
		c.tokens[to][recipient] = new(big.Int).Add(c.tokenLocked(to, recipient), amount)
	}
	return true
}

// GetNonce returns the pending transaction count.
func (c *Chain) GetNonce(ctx context.Context, address string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	addr := common.HexToAddress(address)
	c.nonceReads[addr]++
	return c.pending[addr], nil
}

// GetBlockNumber returns the number of mined transactions.
func (c *Chain) GetBlockNumber(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block, nil
}

// GetChainID returns the chain id.
func (c *Chain) GetChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.chainID), nil
}

// GetGasPrice returns the configured node price.
func (c *Chain) GetGasPrice(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gasReads++
	if c.GasPriceErr != nil {
		return nil, c.GasPriceErr
	}
	if c.NullGasPrice {
		return nil, nil
	}
	return new(big.Int).Set(c.gasPrice), nil
}

// GetBalance returns the native balance.
func (c *Chain) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	addr := common.HexToAddress(address)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balanceReads++
	if c.BalanceErr != nil {
		if err := c.BalanceErr(addr); err != nil {
			return nil, err
		}
	}
	return c.nativeLocked(addr), nil
}

// CallContract answers balanceOf and decimals.
func (c *Chain) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case len(data) == 36 && bytes.Equal(data[:4], selBalanceOf):
		holder := common.BytesToAddress(data[16:36])
		return common.LeftPadBytes(c.tokenLocked(to, holder).Bytes(), 32), nil
	case len(data) == 4 && bytes.Equal(data[:4], selDecimals):
		dec, ok := c.decimals[to]
		if !ok {
			dec = 18
		}
		return common.LeftPadBytes([]byte{dec}, 32), nil
	}
	return nil, &rpc.RPCError{Code: 3, Message: "execution reverted"}
}

// GetTransactionReceipt returns the receipt of an accepted transaction.
func (c *Chain) GetTransactionReceipt(ctx context.Context, txHash string) (*rpc.TransactionReceipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.receipts[common.HexToHash(txHash)]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

// ErrInjected is a convenience error for hooks.
var ErrInjected = errors.New("chaintest: injected failure")
