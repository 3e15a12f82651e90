package mcp

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gateway-fm/txbot/pkg/types"
)

// maxListedSubmissions caps the submissions printed for one run.
const maxListedSubmissions = 20

// formatNumber adds comma separators to integers.
func formatNumber(n int) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	if len(s) <= 3 {
		if neg {
			return "-" + s
		}
		return s
	}

	var result strings.Builder
	if neg {
		result.WriteByte('-')
	}
	start := len(s) % 3
	if start > 0 {
		result.WriteString(s[:start])
	}
	for i := start; i < len(s); i += 3 {
		if i > 0 {
			result.WriteByte(',')
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

// kv formats a key-value pair with aligned values (20 char key width).
func kv(key string, value any) string {
	return fmt.Sprintf("%-20s %v", key+":", value)
}

// section returns a markdown section header.
func section(title string) string {
	return "## " + title
}

// joinLines joins non-empty lines with newlines.
func joinLines(lines ...string) string {
	var result []string
	for _, l := range lines {
		if l != "" {
			result = append(result, l)
		}
	}
	return strings.Join(result, "\n")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func shortHash(h string) string {
	if len(h) <= 18 {
		return h
	}
	return h[:18] + "..."
}

// describeRequest renders the parameters of an operation request on one line.
func describeRequest(req types.OperationRequest) string {
	var parts []string
	switch {
	case req.Swap != nil:
		pair := "random pairs"
		if req.Swap.From != "" {
			pair = req.Swap.From + " -> " + req.Swap.To
		}
		parts = append(parts, fmt.Sprintf("%d x %s (%s)", req.Swap.Count, req.Swap.Amount, pair))
	case req.Liquidity != nil:
		parts = append(parts, fmt.Sprintf("%s %s + %s native", req.Liquidity.TokenAmount, req.Liquidity.Token, req.Liquidity.BaseAmount))
	case req.Send != nil:
		parts = append(parts, fmt.Sprintf("%d x %s %s", req.Send.Count, req.Send.Amount, req.Send.Token))
	}
	if len(req.Wallets) > 0 {
		parts = append(parts, "wallets "+strings.Join(req.Wallets, ","))
	}
	return strings.Join(parts, ", ")
}

func formatRun(title string, run types.Run) string {
	completed := "-"
	if run.CompletedAt != nil {
		completed = formatTime(*run.CompletedAt)
	}
	return joinLines(
		section(title),
		kv("ID", run.ID),
		kv("Operation", string(run.Request.Kind)),
		kv("Parameters", describeRequest(run.Request)),
		kv("Status", string(run.Status)),
		kv("Wallets", run.Wallets),
		kv("Operations", formatNumber(run.Operations)),
		kv("Confirmed", formatNumber(run.Confirmed)),
		kv("Failed", formatNumber(run.Failed)),
		kv("Skipped", formatNumber(run.Skipped)),
		kv("Started", formatTime(run.StartedAt)),
		kv("Completed", completed),
		errorLine(run.Error),
		latencyLine(run.Latency),
	)
}

func latencyLine(l *types.LatencyStats) string {
	if l == nil {
		return ""
	}
	return kv("Confirm Latency", fmt.Sprintf("p50 %.0fms  p95 %.0fms  max %.0fms (%d txs)", l.P50, l.P95, l.Max, l.Count))
}

func errorLine(msg string) string {
	if msg == "" {
		return ""
	}
	return kv("Error", msg)
}

func formatStatus(st types.StatusResponse) string {
	if st.Current == nil {
		return joinLines(section("txbot Status"), kv("Status", string(st.Status)), "No run in progress.")
	}
	return formatRun("txbot Status: "+string(st.Status), *st.Current)
}

func formatHealth(h readiness) string {
	state := "READY"
	if !h.Ready {
		state = "NOT READY"
	}
	lines := section("txbot Health: " + state)
	for _, c := range h.Checks {
		line := fmt.Sprintf("  %-15s %s (%dms)", c.Name, c.Status, c.LatencyMs)
		if c.Error != "" {
			line += " - " + c.Error
		}
		lines += "\n" + line
	}
	return lines
}

func formatRuns(page runsPage) string {
	lines := joinLines(
		section("Run History"),
		kv("Total Runs", formatNumber(page.Total)),
	)
	if len(page.Runs) == 0 {
		return lines + "\n\nNo runs found."
	}
	for _, run := range page.Runs {
		lines += fmt.Sprintf("\n\n### %s\n", run.ID)
		lines += joinLines(
			kv("Operation", string(run.Request.Kind)),
			kv("Status", string(run.Status)),
			kv("Confirmed", formatNumber(run.Confirmed)),
			kv("Failed", formatNumber(run.Failed)),
			kv("Started", formatTime(run.StartedAt)),
		)
	}
	return lines
}

func formatRunDetail(detail types.RunDetail) string {
	lines := formatRun("Run "+detail.ID, detail.Run)
	if len(detail.Submissions) == 0 {
		return lines
	}

	lines += "\n\n" + section("Submissions")
	for i, s := range detail.Submissions {
		if i >= maxListedSubmissions {
			lines += fmt.Sprintf("\n... and %d more", len(detail.Submissions)-maxListedSubmissions)
			break
		}
		line := fmt.Sprintf("\n  [%s] %-14s %-11s", s.Phase, s.Call, s.Status)
		if s.TxHash != "" {
			line += " " + shortHash(s.TxHash)
		}
		if s.Error != "" {
			line += " - " + s.Error
		}
		lines += line
	}
	return lines
}

func formatBalances(wallets []types.WalletBalance) string {
	lines := section("Wallet Balances")
	if len(wallets) == 0 {
		return lines + "\nNo wallets configured."
	}
	for _, w := range wallets {
		lines += fmt.Sprintf("\n\n### %s (%s)\n", w.Label, w.Address)
		if w.Error != "" {
			lines += kv("Error", w.Error)
			continue
		}
		rows := []string{kv("Native", w.Native)}
		symbols := make([]string, 0, len(w.Tokens))
		for sym := range w.Tokens {
			symbols = append(symbols, sym)
		}
		sort.Strings(symbols)
		for _, sym := range symbols {
			rows = append(rows, kv(sym, w.Tokens[sym]))
		}
		lines += joinLines(rows...)
	}
	return lines
}
