// Safepay MCP Server - exposes escrow and risk tools to LLM agents over stdio
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/safepay/internal/mcpserver"
)

// Version is set by ldflags
var Version = "dev"

func main() {
	cfg := mcpserver.Config{
		APIURL:   envOrDefault("SAFEPAY_API_URL", "http://localhost:8080"),
		WalletID: os.Getenv("SAFEPAY_WALLET_ID"),
	}

	if cfg.WalletID == "" {
		fmt.Fprintln(os.Stderr, "SAFEPAY_WALLET_ID is required")
		os.Exit(1)
	}

	s := mcpserver.NewMCPServer(cfg, Version)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
