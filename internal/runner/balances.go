package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/gateway-fm/txbot/internal/account"
	"github.com/gateway-fm/txbot/internal/catalog"
	"github.com/gateway-fm/txbot/internal/rpc"
	"github.com/gateway-fm/txbot/internal/txbuilder"
	"github.com/gateway-fm/txbot/pkg/types"
)

// Balances reads the native and token balances of every configured wallet,
// one batched request per wallet. A wallet whose batch fails carries the
// error instead of balances.
func (r *Runner) Balances(ctx context.Context) ([]types.WalletBalance, error) {
	reg := r.ops.Registry()
	tokens := reg.Tokens()
	decimals := make([]uint8, len(tokens))
	for i, t := range tokens {
		d, err := reg.Decimals(ctx, t)
		if err != nil {
			return nil, err
		}
		decimals[i] = d
	}

	out := make([]types.WalletBalance, len(r.wallets))
	for i, w := range r.wallets {
		out[i] = r.walletBalance(ctx, w, reg.Native(), tokens, decimals)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Runner) walletBalance(ctx context.Context, w *account.Account, native catalog.Token, tokens []catalog.Token, decimals []uint8) types.WalletBalance {
	wb := types.WalletBalance{
		Label:   w.Label,
		Address: w.Address.Hex(),
		Tokens:  make(map[string]string, len(tokens)),
	}

	calls := make([]rpc.BatchRequest, 0, len(tokens)+1)
	calls = append(calls, rpc.BatchRequest{Method: "eth_getBalance", Params: []interface{}{w.Address.Hex(), "latest"}})
	for _, t := range tokens {
		data, err := txbuilder.EncodeBalanceOf(w.Address)
		if err != nil {
			wb.Error = err.Error()
			return wb
		}
		calls = append(calls, rpc.BatchRequest{
			Method: "eth_call",
			Params: []interface{}{map[string]string{"to": t.Address.Hex(), "data": hexutil.Encode(data)}, "latest"},
		})
	}

	resps, err := r.chain.BatchCall(ctx, calls)
	if err != nil {
		wb.Error = err.Error()
		return wb
	}
	if len(resps) != len(calls) {
		wb.Error = fmt.Sprintf("batch returned %d results for %d calls", len(resps), len(calls))
		return wb
	}

	bal, err := decodeQuantity(resps[0])
	if err != nil {
		wb.Error = fmt.Sprintf("%s balance: %v", native.Symbol, err)
		return wb
	}
	wb.Native = catalog.FormatUnits(bal, catalog.NativeDecimals)

	for i, t := range tokens {
		bal, err := decodeTokenBalance(resps[i+1])
		if err != nil {
			wb.Error = fmt.Sprintf("%s balance: %v", t.Symbol, err)
			return wb
		}
		wb.Tokens[t.Symbol] = catalog.FormatUnits(bal, decimals[i])
	}
	return wb
}

func decodeQuantity(resp rpc.BatchResponse) (*big.Int, error) {
	if resp.Error != nil {
		return nil, resp.Error
	}
	var hex string
	if err := json.Unmarshal(resp.Result, &hex); err != nil {
		return nil, err
	}
	return hexutil.DecodeBig(hex)
}

func decodeTokenBalance(resp rpc.BatchResponse) (*big.Int, error) {
	if resp.Error != nil {
		return nil, resp.Error
	}
	var hex string
	if err := json.Unmarshal(resp.Result, &hex); err != nil {
		return nil, err
	}
	out, err := hexutil.Decode(hex)
	if err != nil {
		return nil, err
	}
	return txbuilder.DecodeBalanceOf(out)
}
