// Package intent describes a single transaction the orchestrator should send.
package intent

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/txbot/internal/account"
)

// CallType identifies which contract call (or plain value transfer) an intent encodes.
type CallType string

const (
	CallTransfer           CallType = "transfer"             // ERC20 transfer(Recipient, Amount)
	CallNativeSend         CallType = "native-send"          // Amount of native coin to Recipient
	CallApprove            CallType = "approve"              // ERC20 approve(Recipient, Amount)
	CallSwapNativeIn       CallType = "swap-native-in"       // router.swapExactETHForTokens, Amount as value
	CallSwapTokens         CallType = "swap-tokens"          // router.swapExactTokensForTokens
	CallSwapNativeOut      CallType = "swap-native-out"      // router.swapExactTokensForETH
	CallAddLiquidityNative CallType = "add-liquidity-native" // router.addLiquidityETH, Value as native side
	CallWrap               CallType = "wrap"                 // wrapped.deposit(), Amount as value
	CallUnwrap             CallType = "unwrap"               // wrapped.withdraw(Amount)
)

// Valid reports whether c is a known call type.
func (c CallType) Valid() bool {
	switch c {
	case CallTransfer, CallNativeSend, CallApprove, CallSwapNativeIn, CallSwapTokens,
		CallSwapNativeOut, CallAddLiquidityNative, CallWrap, CallUnwrap:
		return true
	}
	return false
}

// Intent is an immutable description of one transaction. It is consumed once.
type Intent struct {
	Sender    *account.Account
	Recipient common.Address // transfer target, approval spender, or swap/liquidity beneficiary
	Asset     common.Address // token contract; zero for native-send
	Amount    *big.Int
	Value     *big.Int // native value attached to add-liquidity
	Path      []common.Address
	Call      CallType
	Deadline  time.Time
	// Label tags the intent in reports, e.g. "fund 0xabc…".
	Label string
}

// DefaultDeadline is how far in the future router deadlines are set.
const DefaultDeadline = 600 * time.Second
