// cmd/backtest walks the buy trigger over a candle file to show where it
// would have fired, without touching any delegate.
//
// Usage:
//
//	go run ./cmd/backtest --file=candles.json
//	cat candles.json | go run ./cmd/backtest --last
//
// The file may be a bare candle array or {"candles": [...]}. With --last
// only BUY or HOLD is printed for the final bar, and any read or decode
// error prints HOLD.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"sip-agent/config"
	"sip-agent/internal/logger"
	"sip-agent/internal/model"
	"sip-agent/internal/strategy"
)

func main() {
	file := flag.String("file", "-", "Candle JSON file (- reads stdin)")
	last := flag.Bool("last", false, "Print only BUY or HOLD for the final bar")
	envFile := flag.String("env", ".env", "Optional .env file with trigger thresholds")
	flag.Parse()

	log := logger.Init("backtest", logger.ParseLevel(os.Getenv("LOG_LEVEL")), nil)

	trigger := strategy.DefaultConfig()
	if cfg, err := config.Load(*envFile); err == nil {
		trigger = cfg.Trigger
	} else {
		log.Warn("using default trigger thresholds", "error", err)
	}

	candles, err := readCandles(*file)
	if *last {
		verdict := "HOLD"
		if err == nil && strategy.EvaluateCandles(candles, trigger).Buy {
			verdict = "BUY"
		}
		fmt.Println(verdict)
		return
	}
	if err != nil {
		log.Error("read candles", "file", *file, "error", err)
		os.Exit(1)
	}
	if err := model.CheckOrdered(candles); err != nil {
		log.Error("candles out of order", "error", err)
		os.Exit(1)
	}

	sum := run(os.Stdout, candles, trigger)

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        BACKTEST COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Candles:           %-16d ║\n", sum.Candles)
	fmt.Printf("║  Bars evaluated:    %-16d ║\n", sum.Evaluated)
	fmt.Printf("║  Green dip buys:    %-16d ║\n", sum.GreenDip)
	fmt.Printf("║  Turn-up buys:      %-16d ║\n", sum.TurnUp)
	fmt.Println("╚══════════════════════════════════════╝")
}

func readCandles(path string) ([]model.Candle, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return model.DecodeCandles(raw)
}

type summary struct {
	Candles   int
	Evaluated int
	GreenDip  int
	TurnUp    int
}

// run evaluates every prefix from MinCandles bars on and prints each bar
// that would have bought.
func run(w io.Writer, candles []model.Candle, cfg strategy.Config) summary {
	closes := model.Closes(candles)
	sum := summary{Candles: len(candles)}

	start := cfg.MinCandles
	if start < 2 {
		start = 2
	}
	for n := start; n <= len(closes); n++ {
		res := strategy.Evaluate(closes[:n], cfg)
		sum.Evaluated++
		if !res.Buy {
			continue
		}
		switch res.Reason {
		case model.ReasonGreenDip:
			sum.GreenDip++
		case model.ReasonTurnUp:
			sum.TurnUp++
		}
		c := candles[n-1]
		fmt.Fprintf(w, "  BUY [%s] close=%.4f reason=%-9s rsi=%.1f z20=%.2f\n",
			c.T.UTC().Format("2006-01-02 15:04"), c.C, res.Reason, float64(res.Snapshot.RSI), float64(res.Snapshot.Z20))
	}
	return sum
}
