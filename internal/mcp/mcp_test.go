package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gateway-fm/txbot/pkg/types"
)

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   int
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{123456, "123,456"},
		{1234567, "1,234,567"},
		{-4500, "-4,500"},
	}
	for _, tt := range tests {
		if got := formatNumber(tt.in); got != tt.want {
			t.Errorf("formatNumber(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBuildRequest(t *testing.T) {
	tests := []struct {
		name  string
		kind  types.OperationKind
		args  operationArgs
		check func(t *testing.T, r types.OperationRequest)
	}{
		{
			name: "swap pair",
			kind: types.OpSwap,
			args: operationArgs{Count: 3, Amount: "2", From: "RISE", To: "RIBBIT"},
			check: func(t *testing.T, r types.OperationRequest) {
				if r.Swap == nil || r.Swap.Count != 3 || r.Swap.From != "RISE" || r.Send != nil {
					t.Errorf("request = %+v", r)
				}
			},
		},
		{
			name: "liquidity uses amount as token side",
			kind: types.OpAddLiquidity,
			args: operationArgs{Token: "WXRP", Amount: "5", BaseAmount: "0.1"},
			check: func(t *testing.T, r types.OperationRequest) {
				if r.Liquidity == nil || r.Liquidity.TokenAmount != "5" || r.Liquidity.BaseAmount != "0.1" {
					t.Errorf("request = %+v", r)
				}
			},
		},
		{
			name: "send with wallets",
			kind: types.OpRandomSend,
			args: operationArgs{Wallets: " PRIVATE_KEY_1, ,PRIVATE_KEY_2", Token: "XRP"},
			check: func(t *testing.T, r types.OperationRequest) {
				if r.Send == nil || r.Send.Token != "XRP" {
					t.Errorf("request = %+v", r)
				}
				if len(r.Wallets) != 2 || r.Wallets[1] != "PRIVATE_KEY_2" {
					t.Errorf("Wallets = %v", r.Wallets)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := buildRequest(tt.kind, tt.args)
			r.ApplyDefaults()
			if err := r.Validate(); err != nil {
				t.Fatalf("Validate() error: %v", err)
			}
			tt.check(t, r)
		})
	}
}

func TestClientDecodesAndReportsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/run":
			var req types.OperationRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Kind != types.OpSwap {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(types.StartRunResponse{ID: "r1", Status: types.StatusRunning})
		default:
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"error":"a run is already in progress"}`))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	var resp types.StartRunResponse
	if err := c.Post(context.Background(), "/v1/run", types.OperationRequest{Kind: types.OpSwap}, &resp); err != nil {
		t.Fatalf("Post() error: %v", err)
	}
	if resp.ID != "r1" {
		t.Errorf("ID = %q", resp.ID)
	}

	err := c.Get(context.Background(), "/v1/other", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Message != "a run is already in progress" {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestFormatRunDetailTruncates(t *testing.T) {
	detail := types.RunDetail{Run: types.Run{ID: "r", Request: types.OperationRequest{Kind: types.OpRandomSend}}}
	for i := 0; i < maxListedSubmissions+5; i++ {
		detail.Submissions = append(detail.Submissions, types.Submission{Phase: "send", Status: types.SubmissionConfirmed})
	}
	out := formatRunDetail(detail)
	if !strings.Contains(out, "... and 5 more") {
		t.Errorf("output missing truncation line:\n%s", out)
	}
}

func TestFormatBalancesSortsTokens(t *testing.T) {
	out := formatBalances([]types.WalletBalance{{
		Label:  "PRIVATE_KEY_1",
		Native: "1",
		Tokens: map[string]string{"WXRP": "2", "RIBBIT": "3"},
	}})
	if strings.Index(out, "RIBBIT") > strings.Index(out, "WXRP") {
		t.Errorf("tokens not sorted:\n%s", out)
	}
}

func TestOperationKindsBuildParams(t *testing.T) {
	kinds := operationKinds()
	if len(kinds) != len(types.OperationKinds()) {
		t.Fatalf("kinds = %v", kinds)
	}
	for _, k := range kinds {
		req := buildRequest(types.OperationKind(k), operationArgs{Token: "WXRP"})
		if req.Swap == nil && req.Liquidity == nil && req.Send == nil {
			t.Errorf("kind %s built no parameters", k)
		}
	}
}
