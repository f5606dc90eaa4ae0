// Command trade submits one gated order, or a bracket, through the order
// manager and prints the result.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"trading-engine/config"
	"trading-engine/internal/app"
	"trading-engine/internal/execution"
	"trading-engine/internal/logger"
	"trading-engine/internal/model"

	"github.com/shopspring/decimal"
)

type orderFlags struct {
	symbol string
	side   string
	qty    int64
	typ    string
	limit  string
	stop   string
	target string
	sizeWR float64
	sizeRR float64
	dbPath string
	cancel string
	dryRun bool
}

func main() {
	var f orderFlags
	flag.StringVar(&f.symbol, "symbol", "", "Ticker symbol")
	flag.StringVar(&f.side, "side", "BUY", "BUY or SELL")
	flag.Int64Var(&f.qty, "qty", 0, "Share quantity (0 with -winrate sizes by Kelly)")
	flag.StringVar(&f.typ, "type", "MARKET", "MARKET, LIMIT, STOP or BRACKET")
	flag.StringVar(&f.limit, "limit", "0", "Limit price (LIMIT; entry for BRACKET)")
	flag.StringVar(&f.stop, "stop", "0", "Stop price (STOP; stop loss for BRACKET)")
	flag.StringVar(&f.target, "target", "0", "Take-profit price (BRACKET)")
	flag.Float64Var(&f.sizeWR, "winrate", 0, "Win rate for Kelly sizing of a BRACKET")
	flag.Float64Var(&f.sizeRR, "winloss", 0, "Average win/loss ratio for Kelly sizing")
	flag.StringVar(&f.dbPath, "db", "", "Path to SQLite database (default SQLITE_PATH)")
	flag.StringVar(&f.cancel, "cancel", "", "Cancel the order with this ID instead of placing one")
	flag.BoolVar(&f.dryRun, "dry-run", false, "Size and validate only")
	flag.Parse()

	if err := run(f); err != nil {
		fmt.Fprintln(os.Stderr, "trade:", model.Reason(err))
		os.Exit(1)
	}
}

func run(f orderFlags) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.Init("trade", logger.ParseLevel(cfg.LogLevel))
	ctx := context.Background()

	a, err := app.Build(ctx, cfg, app.Options{DBPath: f.dbPath, NoFeed: true}, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if f.cancel != "" {
		if !a.Manager.CancelOrder(ctx, f.cancel) {
			return fmt.Errorf("order %s is not pending", f.cancel)
		}
		fmt.Printf("cancelled %s\n", f.cancel)
		return nil
	}

	side, err := model.ParseSide(f.side)
	if err != nil {
		return err
	}
	limit, stop, target, err := prices(f)
	if err != nil {
		return err
	}

	if strings.EqualFold(f.typ, "BRACKET") {
		qty := f.qty
		if qty == 0 && f.sizeWR > 0 {
			k, err := a.Risk.CalculateKellyPositionSize(ctx, limit, stop, f.sizeWR, f.sizeRR)
			if err != nil {
				return err
			}
			fmt.Println(k.Rationale)
			qty = k.Shares
		}
		req := execution.BracketRequest{Symbol: f.symbol, Side: side, Quantity: qty, Entry: limit, Stop: stop, Target: target}
		if f.dryRun {
			return emit(req)
		}
		res, err := a.Manager.PlaceBracketOrder(ctx, req)
		if err != nil {
			return err
		}
		return emit(res)
	}

	req := execution.OrderRequest{
		Symbol:     f.symbol,
		Side:       side,
		Quantity:   f.qty,
		Type:       model.OrderType(strings.ToUpper(f.typ)),
		LimitPrice: limit,
		StopPrice:  stop,
	}
	if f.dryRun {
		return emit(req)
	}
	o, err := a.Manager.PlaceOrder(ctx, req)
	if err != nil {
		return err
	}
	return emit(o)
}

func prices(f orderFlags) (limit, stop, target decimal.Decimal, err error) {
	if limit, err = decimal.NewFromString(f.limit); err != nil {
		return limit, stop, target, fmt.Errorf("invalid -limit: %w", err)
	}
	if stop, err = decimal.NewFromString(f.stop); err != nil {
		return limit, stop, target, fmt.Errorf("invalid -stop: %w", err)
	}
	if target, err = decimal.NewFromString(f.target); err != nil {
		return limit, stop, target, fmt.Errorf("invalid -target: %w", err)
	}
	return limit, stop, target, nil
}

func emit(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
