package mcp

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gateway-fm/txbot/pkg/types"
)

// runsPage mirrors the paginated /v1/runs response.
type runsPage struct {
	Runs   []types.Run `json:"runs"`
	Total  int         `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// readiness mirrors the /ready response.
type readiness struct {
	Ready  bool `json:"ready"`
	Checks []struct {
		Name      string `json:"name"`
		Status    string `json:"status"`
		LatencyMs int64  `json:"latency_ms"`
		Error     string `json:"error"`
	} `json:"checks"`
}

// RegisterTools registers all txbot tools on the MCP server.
func RegisterTools(s *server.MCPServer, client *Client) {
	registerStatus(s, client)
	registerHealth(s, client)
	registerRun(s, client)
	registerStop(s, client)
	registerRuns(s, client)
	registerRunDetail(s, client)
	registerDeleteRun(s, client)
	registerBalances(s, client)
}

func registerStatus(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("txbot_status",
		gomcp.WithDescription("Get the bot state and the progress of the active run: confirmed, failed and skipped submissions."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		var st types.StatusResponse
		if err := client.Get(ctx, "/v1/status", &st); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("txbot unreachable: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatStatus(st)), nil
	})
}

func registerHealth(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("txbot_health",
		gomcp.WithDescription("Check that the bot can reach its RPC node."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		var h readiness
		if err := client.Get(ctx, "/ready", &h); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("txbot unhealthy: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHealth(h)), nil
	})
}

// operationKinds lists the accepted values of txbot_run's kind argument.
func operationKinds() []string {
	kinds := types.OperationKinds()
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

func registerRun(s *server.MCPServer, client *Client) {
	kinds := operationKinds()
	tool := gomcp.NewTool("txbot_run",
		gomcp.WithDescription("Start an operation on every selected wallet. This is a MUTATING operation that spends funds. Kinds: "+strings.Join(kinds, ", ")+"."),
		gomcp.WithString("kind",
			gomcp.Required(),
			gomcp.Enum(kinds...),
			gomcp.Description("Operation kind"),
		),
		gomcp.WithString("wallets",
			gomcp.Description("Comma-separated wallet labels or addresses (default: all)"),
		),
		gomcp.WithNumber("count",
			gomcp.Description("Swaps per wallet, or recipients per wallet for the send kinds"),
		),
		gomcp.WithString("amount",
			gomcp.Description("Amount per swap or per recipient, in token units"),
		),
		gomcp.WithString("token",
			gomcp.Description("Token symbol for add-liquidity and the send kinds"),
		),
		gomcp.WithString("from",
			gomcp.Description("Swap input token (set together with 'to'; omit both for random pairs)"),
		),
		gomcp.WithString("to",
			gomcp.Description("Swap output token"),
		),
		gomcp.WithString("base_amount",
			gomcp.Description("Native side of add-liquidity"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		kind, err := req.RequireString("kind")
		if err != nil {
			return gomcp.NewToolResultError("kind is required"), nil
		}

		opReq := buildRequest(types.OperationKind(kind), operationArgs{
			Wallets:    req.GetString("wallets", ""),
			Count:      req.GetInt("count", 0),
			Amount:     req.GetString("amount", ""),
			Token:      req.GetString("token", ""),
			From:       req.GetString("from", ""),
			To:         req.GetString("to", ""),
			BaseAmount: req.GetString("base_amount", ""),
		})

		var resp types.StartRunResponse
		if err := client.Post(ctx, "/v1/run", opReq, &resp); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Start run failed: %v", err)), nil
		}

		return gomcp.NewToolResultText(joinLines(
			section("Run Started"),
			kv("ID", resp.ID),
			kv("Operation", kind),
			kv("Status", string(resp.Status)),
		)), nil
	})
}

// operationArgs are the flat tool arguments of txbot_run.
type operationArgs struct {
	Wallets    string
	Count      int
	Amount     string
	Token      string
	From       string
	To         string
	BaseAmount string
}

// buildRequest maps flat tool arguments onto the parameter struct of kind.
// Unset values are left for the server's defaults.
func buildRequest(kind types.OperationKind, a operationArgs) types.OperationRequest {
	req := types.OperationRequest{Kind: kind}
	for _, w := range strings.Split(a.Wallets, ",") {
		if w = strings.TrimSpace(w); w != "" {
			req.Wallets = append(req.Wallets, w)
		}
	}

	switch kind {
	case types.OpSwap:
		req.Swap = &types.SwapParams{Count: a.Count, Amount: a.Amount, From: a.From, To: a.To}
	case types.OpAddLiquidity:
		req.Liquidity = &types.LiquidityParams{Token: a.Token, TokenAmount: a.Amount, BaseAmount: a.BaseAmount}
	case types.OpRandomSend, types.OpSendAndReceive:
		req.Send = &types.SendParams{Token: a.Token, Amount: a.Amount, Count: a.Count}
	}
	return req
}

func registerStop(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("txbot_stop",
		gomcp.WithDescription("Stop the active run. Wallets already in flight finish their current operation. This is a MUTATING operation."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		var resp struct {
			Stopped bool `json:"stopped"`
		}
		if err := client.Post(ctx, "/v1/stop", nil, &resp); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Stop failed: %v", err)), nil
		}
		if !resp.Stopped {
			return gomcp.NewToolResultText(joinLines(section("Nothing To Stop"), "No run is in progress.")), nil
		}
		return gomcp.NewToolResultText(joinLines(
			section("Run Stopping"),
			"The run is stopping. Results will be available in the run history.",
		)), nil
	})
}

func registerRuns(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("txbot_runs",
		gomcp.WithDescription("List past runs with their outcome counts (paginated, newest first)."),
		gomcp.WithNumber("limit",
			gomcp.Description("Max results to return (default: 10, max: 100)"),
		),
		gomcp.WithNumber("offset",
			gomcp.Description("Results offset for pagination (default: 0)"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		offset := req.GetInt("offset", 0)

		var page runsPage
		if err := client.Get(ctx, fmt.Sprintf("/v1/runs?limit=%d&offset=%d", limit, offset), &page); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Listing runs failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatRuns(page)), nil
	})
}

func registerRunDetail(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("txbot_run_detail",
		gomcp.WithDescription("Get one run with its recorded submissions."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Run ID"),
		),
		gomcp.WithNumber("limit",
			gomcp.Description("Max submissions to fetch (default: 100, max: 1000)"),
		),
		gomcp.WithNumber("offset",
			gomcp.Description("Submission offset for pagination (default: 0)"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		path := fmt.Sprintf("/v1/runs/%s?limit=%d&offset=%d",
			url.PathEscape(id), req.GetInt("limit", 100), req.GetInt("offset", 0))

		var detail types.RunDetail
		if err := client.Get(ctx, path, &detail); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Run detail failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatRunDetail(detail)), nil
	})
}

func registerDeleteRun(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("txbot_delete_run",
		gomcp.WithDescription("Delete a finished run and its submissions. This is a MUTATING operation."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Run ID to delete"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		if err := client.Delete(ctx, "/v1/runs/"+url.PathEscape(id)); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Delete failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(joinLines(
			section("Run Deleted"),
			kv("ID", id),
		)), nil
	})
}

func registerBalances(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("txbot_balances",
		gomcp.WithDescription("Show native and token balances of every configured wallet."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		var resp struct {
			Wallets []types.WalletBalance `json:"wallets"`
		}
		if err := client.Get(ctx, "/v1/balances", &resp); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Balances failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatBalances(resp.Wallets)), nil
	})
}
