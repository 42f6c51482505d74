// cmd/delegatesim serves the merchant, runner and data delegate contracts
// from one in-memory simulator, on every address given. The defaults match
// the agent's default delegate URLs so both run locally without setup.
//
// Usage:
//
//	go run ./cmd/delegatesim --addrs=:7003,:7100,:7200 --price=0.01
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"sip-agent/internal/logger"
	"sip-agent/internal/sim"
)

func main() {
	addrs := flag.String("addrs", ":7003,:7100,:7200", "Comma-separated listen addresses")
	price := flag.String("price", "0.01", "USDC price of one data response")
	payTo := flag.String("payto", sim.DefaultConfig().PayTo, "Merchant wallet invoices pay to")
	mint := flag.String("mint", "", "Accepted settlement mint (empty accepts any)")
	seed := flag.Uint64("seed", 42, "Random walk seed")
	logLevel := flag.String("log-level", "info", "debug|info|warn|error")
	flag.Parse()

	log := logger.Init("delegatesim", logger.ParseLevel(*logLevel), nil)
	gin.SetMode(gin.ReleaseMode)

	p, err := decimal.NewFromString(*price)
	if err != nil || !p.IsPositive() {
		log.Error("invalid price", "price", *price)
		os.Exit(2)
	}

	cfg := sim.DefaultConfig()
	cfg.Price, cfg.PayTo, cfg.Mint, cfg.Seed = p, *payTo, *mint, *seed
	handler := sim.New(cfg).Handler()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for _, addr := range strings.Split(*addrs, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info("simulator listening", "addr", addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, shutCancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer shutCancel()
			return srv.Shutdown(shutCtx)
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("simulator stopped", "error", err)
		os.Exit(1)
	}
}
