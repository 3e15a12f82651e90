package txbuilder

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// routerABIJSON is the subset of the UniswapV2-style router the catalog calls.
const routerABIJSON = `[
	{"type":"function","name":"swapExactTokensForTokens","stateMutability":"nonpayable",
	 "inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},
	           {"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],
	 "outputs":[{"name":"amounts","type":"uint256[]"}]},
	{"type":"function","name":"swapExactETHForTokens","stateMutability":"payable",
	 "inputs":[{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},
	           {"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],
	 "outputs":[{"name":"amounts","type":"uint256[]"}]},
	{"type":"function","name":"swapExactTokensForETH","stateMutability":"nonpayable",
	 "inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},
	           {"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],
	 "outputs":[{"name":"amounts","type":"uint256[]"}]},
	{"type":"function","name":"addLiquidityETH","stateMutability":"payable",
	 "inputs":[{"name":"token","type":"address"},{"name":"amountTokenDesired","type":"uint256"},
	           {"name":"amountTokenMin","type":"uint256"},{"name":"amountETHMin","type":"uint256"},
	           {"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],
	 "outputs":[{"name":"amountToken","type":"uint256"},{"name":"amountETH","type":"uint256"},{"name":"liquidity","type":"uint256"}]}
]`

var routerABI = mustParseABI(routerABIJSON)

// Minimum-output arguments are zero: the bot trades on a testnet and accepts any fill.
var zero = big.NewInt(0)

func unixDeadline(t time.Time) *big.Int {
	return big.NewInt(t.Unix())
}

// EncodeSwapExactETHForTokens encodes the payable native-in swap.
func EncodeSwapExactETHForTokens(path []common.Address, to common.Address, deadline time.Time) ([]byte, error) {
	return routerABI.Pack("swapExactETHForTokens", zero, path, to, unixDeadline(deadline))
}

// EncodeSwapExactTokensForTokens encodes a token-to-token swap.
func EncodeSwapExactTokensForTokens(amountIn *big.Int, path []common.Address, to common.Address, deadline time.Time) ([]byte, error) {
	return routerABI.Pack("swapExactTokensForTokens", amountIn, zero, path, to, unixDeadline(deadline))
}

// EncodeSwapExactTokensForETH encodes a token-to-native swap.
func EncodeSwapExactTokensForETH(amountIn *big.Int, path []common.Address, to common.Address, deadline time.Time) ([]byte, error) {
	return routerABI.Pack("swapExactTokensForETH", amountIn, zero, path, to, unixDeadline(deadline))
}

// EncodeAddLiquidityETH encodes addLiquidityETH with zero minimums.
func EncodeAddLiquidityETH(token common.Address, amountToken *big.Int, to common.Address, deadline time.Time) ([]byte, error) {
	return routerABI.Pack("addLiquidityETH", token, amountToken, zero, zero, to, unixDeadline(deadline))
}
