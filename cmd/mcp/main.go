// Command mcp serves the coverage API as MCP tools over stdio.
//
// SOLACE_API_URL points at a running coverage server. SOLACE_PRIVATE_KEY,
// when set, signs write calls; without it only read tools are offered.
// Logs go to stderr since stdout carries the MCP stream.
package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"github.com/solace-fi/coverage/internal/logging"
	"github.com/solace-fi/coverage/internal/mcpserver"
)

const defaultAPIURL = "http://localhost:8080"

func main() {
	_ = godotenv.Load()
	logger := logging.NewWithWriter(os.Stderr, os.Getenv("LOG_LEVEL"), "text")

	cfg, err := configFromEnv(os.Getenv)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}
	logger.Info("serving coverage tools", "api", cfg.APIURL, "signing", cfg.Key != nil)

	if err := server.ServeStdio(mcpserver.NewMCPServer(cfg)); err != nil {
		logger.Error("mcp server stopped", "error", err)
		os.Exit(1)
	}
}

func configFromEnv(getenv func(string) string) (mcpserver.Config, error) {
	cfg := mcpserver.Config{APIURL: strings.TrimRight(getenv("SOLACE_API_URL"), "/")}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}

	var errs []error
	if u, err := url.Parse(cfg.APIURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("SOLACE_API_URL must be an http(s) URL, got %q", cfg.APIURL))
	}
	if hexKey := getenv("SOLACE_PRIVATE_KEY"); hexKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
		if err != nil {
			errs = append(errs, fmt.Errorf("SOLACE_PRIVATE_KEY: %w", err))
		}
		cfg.Key = key
	}
	return cfg, errors.Join(errs...)
}
