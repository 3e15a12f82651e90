// txbot MCP server.
// Exposes txbot tools over MCP stdio transport.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	mcptools "github.com/gateway-fm/txbot/internal/mcp"
)

func main() {
	txbotURL := os.Getenv("TXBOT_URL")
	if txbotURL == "" {
		txbotURL = "http://localhost:3001"
	}

	s := server.NewMCPServer(
		"txbot",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	client := mcptools.NewClient(txbotURL)
	mcptools.RegisterTools(s, client)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}
