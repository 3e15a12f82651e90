package types

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func TestApplyDefaults(t *testing.T) {
	tests := []struct {
		name string
		req  OperationRequest
		want OperationRequest
	}{
		{
			name: "swap",
			req:  OperationRequest{Kind: OpSwap},
			want: OperationRequest{Kind: OpSwap, Swap: &SwapParams{Count: DefaultSwapCount, Amount: DefaultSwapAmount}},
		},
		{
			name: "swap keeps explicit values",
			req:  OperationRequest{Kind: OpSwap, Swap: &SwapParams{Count: 7, From: "RISE", To: "RIBBIT"}},
			want: OperationRequest{Kind: OpSwap, Swap: &SwapParams{Count: 7, Amount: DefaultSwapAmount, From: "RISE", To: "RIBBIT"}},
		},
		{
			name: "add-liquidity",
			req:  OperationRequest{Kind: OpAddLiquidity},
			want: OperationRequest{Kind: OpAddLiquidity, Liquidity: &LiquidityParams{
				Token:       DefaultLiquidityToken,
				TokenAmount: DefaultLiquidityTokenAmt,
				BaseAmount:  DefaultLiquidityBaseAmount,
			}},
		},
		{
			name: "random-send",
			req:  OperationRequest{Kind: OpRandomSend},
			want: OperationRequest{Kind: OpRandomSend, Send: &SendParams{Token: DefaultSendToken, Amount: DefaultSendAmount, Count: DefaultRandomSendCount}},
		},
		{
			name: "send-and-receive",
			req:  OperationRequest{Kind: OpSendAndReceive, Send: &SendParams{Token: "XRP"}},
			want: OperationRequest{Kind: OpSendAndReceive, Send: &SendParams{Token: "XRP", Amount: DefaultSendAmount, Count: DefaultSendAndReceiveCount}},
		},
		{
			name: "unknown kind untouched",
			req:  OperationRequest{Kind: "mint"},
			want: OperationRequest{Kind: "mint"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.req
			got.ApplyDefaults()
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ApplyDefaults() = %s, want %s", dump(got), dump(tt.want))
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     OperationRequest
		wantErr string
	}{
		{"valid swap random pair", OperationRequest{Kind: OpSwap, Swap: &SwapParams{Count: 1, Amount: "1"}}, ""},
		{"valid swap pair", OperationRequest{Kind: OpSwap, Swap: &SwapParams{Count: 1, Amount: "0.5", From: "RISE", To: "WXRP"}}, ""},
		{"valid liquidity", OperationRequest{Kind: OpAddLiquidity, Liquidity: &LiquidityParams{Token: "WXRP", TokenAmount: "5", BaseAmount: "0.001"}}, ""},
		{"valid send", OperationRequest{Kind: OpRandomSend, Send: &SendParams{Token: "XRP", Amount: "0.0001", Count: MaxCount}}, ""},

		{"unknown kind", OperationRequest{Kind: "bridge"}, "unknown operation kind"},
		{"empty kind", OperationRequest{}, "unknown operation kind"},
		{"swap missing params", OperationRequest{Kind: OpSwap}, "swap parameters are required"},
		{"swap with send params", OperationRequest{Kind: OpSwap, Swap: &SwapParams{Count: 1, Amount: "1"}, Send: &SendParams{}}, "only swap parameters"},
		{"swap zero count", OperationRequest{Kind: OpSwap, Swap: &SwapParams{Amount: "1"}}, "count must be between"},
		{"swap count over max", OperationRequest{Kind: OpSwap, Swap: &SwapParams{Count: MaxCount + 1, Amount: "1"}}, "count must be between"},
		{"swap bad amount", OperationRequest{Kind: OpSwap, Swap: &SwapParams{Count: 1, Amount: "ten"}}, "invalid amount"},
		{"swap negative amount", OperationRequest{Kind: OpSwap, Swap: &SwapParams{Count: 1, Amount: "-1"}}, "must be positive"},
		{"swap half pair", OperationRequest{Kind: OpSwap, Swap: &SwapParams{Count: 1, Amount: "1", From: "RISE"}}, "set together"},
		{"swap same token", OperationRequest{Kind: OpSwap, Swap: &SwapParams{Count: 1, Amount: "1", From: "rise", To: "RISE"}}, "must differ"},
		{"liquidity missing token", OperationRequest{Kind: OpAddLiquidity, Liquidity: &LiquidityParams{TokenAmount: "1", BaseAmount: "1"}}, "token is required"},
		{"liquidity zero base", OperationRequest{Kind: OpAddLiquidity, Liquidity: &LiquidityParams{Token: "WXRP", TokenAmount: "1", BaseAmount: "0"}}, "base amount"},
		{"liquidity with swap params", OperationRequest{Kind: OpAddLiquidity, Liquidity: &LiquidityParams{}, Swap: &SwapParams{}}, "only liquidity parameters"},
		{"send missing params", OperationRequest{Kind: OpSendAndReceive}, "send parameters are required"},
		{"send missing token", OperationRequest{Kind: OpSendAndReceive, Send: &SendParams{Amount: "1", Count: 1}}, "token is required"},
		{"send zero amount", OperationRequest{Kind: OpRandomSend, Send: &SendParams{Token: "WXRP", Amount: "0", Count: 1}}, "must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultsValidateForEveryKind(t *testing.T) {
	for _, kind := range OperationKinds() {
		req := OperationRequest{Kind: kind}
		req.ApplyDefaults()
		if err := req.Validate(); err != nil {
			t.Errorf("%s: defaults do not validate: %v", kind, err)
		}
	}
}

func dump(r OperationRequest) string {
	return fmt.Sprintf("%s swap=%+v liquidity=%+v send=%+v", r.Kind, r.Swap, r.Liquidity, r.Send)
}
