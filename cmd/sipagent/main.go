// cmd/sipagent runs the SIP agent: for each configured asset it buys
// priced candles through the x402 handshake, evaluates the dip/turn-up
// trigger and executes buys through the runner. Each cycle prints one JSON
// report line on stdout; logs go to stderr or LOG_FILE.
//
// Usage:
//
//	go run ./cmd/sipagent --env=.env
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sip-agent/config"
	"sip-agent/internal/agent"
	"sip-agent/internal/logger"
)

func main() {
	envFile := flag.String("env", ".env", "Optional .env file loaded before the environment")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := logger.Init("sipagent", logger.ParseLevel(cfg.LogLevel), logger.NewOutput(cfg.LogFile, 50, 5))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, err := agent.New(ctx, cfg, os.Stdout)
	if err != nil {
		log.Error("init failed", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	if err := svc.Run(ctx); err != nil {
		log.Error("fatal", "error", err)
		svc.Close()
		os.Exit(1)
	}
}
