package txbuilder

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// erc20ABIJSON covers the token calls the catalog makes, plus the wrapped
// native token's deposit/withdraw.
const erc20ABIJSON = `[
	{"type":"function","name":"transfer","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable",
	 "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"decimals","stateMutability":"view",
	 "inputs":[],
	 "outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"deposit","stateMutability":"payable",
	 "inputs":[],"outputs":[]},
	{"type":"function","name":"withdraw","stateMutability":"nonpayable",
	 "inputs":[{"name":"wad","type":"uint256"}],"outputs":[]}
]`

var erc20ABI = mustParseABI(erc20ABIJSON)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid ABI: %v", err))
	}
	return parsed
}

// EncodeTransfer encodes transfer(address,uint256).
func EncodeTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	return erc20ABI.Pack("transfer", to, amount)
}

// EncodeApprove encodes approve(address,uint256).
func EncodeApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return erc20ABI.Pack("approve", spender, amount)
}

// EncodeDeposit encodes the wrapped token's deposit().
func EncodeDeposit() ([]byte, error) {
	return erc20ABI.Pack("deposit")
}

// EncodeWithdraw encodes the wrapped token's withdraw(uint256).
func EncodeWithdraw(amount *big.Int) ([]byte, error) {
	return erc20ABI.Pack("withdraw", amount)
}

// EncodeBalanceOf encodes balanceOf(address).
func EncodeBalanceOf(owner common.Address) ([]byte, error) {
	return erc20ABI.Pack("balanceOf", owner)
}

// EncodeDecimals encodes decimals().
func EncodeDecimals() ([]byte, error) {
	return erc20ABI.Pack("decimals")
}

// DecodeBalanceOf decodes the uint256 returned by balanceOf.
func DecodeBalanceOf(out []byte) (*big.Int, error) {
	vals, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("decode balanceOf: %w", err)
	}
	bal, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("decode balanceOf: unexpected type %T", vals[0])
	}
	return bal, nil
}

// DecodeDecimals decodes the uint8 returned by decimals.
func DecodeDecimals(out []byte) (uint8, error) {
	vals, err := erc20ABI.Unpack("decimals", out)
	if err != nil {
		return 0, fmt.Errorf("decode decimals: %w", err)
	}
	dec, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decode decimals: unexpected type %T", vals[0])
	}
	return dec, nil
}
