// Command harvest reports and executes tax-loss harvests against the
// persisted paper ledger.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"trading-engine/config"
	"trading-engine/internal/app"
	"trading-engine/internal/harvest"
	"trading-engine/internal/logger"

	"github.com/shopspring/decimal"
)

func main() {
	mode := flag.String("mode", "scan", "scan | plan | execute | yearend | report")
	maxHarvests := flag.Int("max", 5, "Maximum harvests to plan or execute (0 = no limit)")
	target := flag.String("target", "0", "Stop planning once this much loss is harvested (0 = no target)")
	dbPath := flag.String("db", "", "Path to SQLite database (default SQLITE_PATH)")
	asJSON := flag.Bool("json", false, "Print JSON instead of tables")
	flag.Parse()

	if err := run(*mode, *maxHarvests, *target, *dbPath, *asJSON); err != nil {
		fmt.Fprintln(os.Stderr, "harvest:", err)
		os.Exit(1)
	}
}

func run(mode string, maxHarvests int, targetStr, dbPath string, asJSON bool) error {
	target, err := decimal.NewFromString(targetStr)
	if err != nil {
		return fmt.Errorf("invalid -target %q: %w", targetStr, err)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Mode != config.ModePaper {
		return fmt.Errorf("harvesting runs against the paper ledger; TRADING_MODE is %s", cfg.Mode)
	}
	log := logger.Init("harvest", logger.ParseLevel(cfg.LogLevel))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Build(ctx, cfg, app.Options{DBPath: dbPath, NoFeed: true}, log)
	if err != nil {
		return err
	}
	defer a.Close()
	h := a.Harvester

	var out any
	switch mode {
	case "scan":
		opps, err := h.ScanOpportunities(ctx)
		if err != nil {
			return err
		}
		out = opps
		if !asJSON {
			printOpportunities(opps)
		}
	case "plan":
		plans, err := h.PlanHarvest(ctx, maxHarvests, target)
		if err != nil {
			return err
		}
		out = plans
		if !asJSON {
			printPlans(plans)
		}
	case "execute":
		plans, err := h.PlanHarvest(ctx, maxHarvests, target)
		if err != nil {
			return err
		}
		results := make([]harvest.Result, 0, len(plans))
		for _, p := range plans {
			r, err := h.ExecuteHarvest(ctx, p)
			if err != nil {
				log.Warn("harvest failed", slog.String("symbol", p.Symbol), slog.Any("error", err))
			}
			results = append(results, r)
		}
		out = results
		if !asJSON {
			printResults(results)
			if alpha, err := h.EstimateAnnualAlpha(ctx); err == nil {
				fmt.Printf("\nEstimated tax alpha: %.3f%% of portfolio value\n", alpha*100)
			}
		}
	case "yearend":
		plan, err := h.YearEndPlanning(ctx, time.Now())
		if err != nil {
			return err
		}
		out = plan
		if !asJSON {
			printYearEnd(plan)
		}
	case "report":
		rep, err := a.Ledger.PerformanceReport(ctx)
		if err != nil {
			return err
		}
		st, err := a.Risk.Status(ctx)
		if err != nil {
			return err
		}
		out = map[string]any{
			"performance":  rep,
			"risk":         st,
			"restrictions": a.Tracker.ActiveRestrictions(),
		}
	default:
		return fmt.Errorf("unknown -mode %q", mode)
	}

	if asJSON || mode == "report" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	return nil
}

func table() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
}

func printOpportunities(opps []harvest.Opportunity) {
	if len(opps) == 0 {
		fmt.Println("No harvestable losses.")
		return
	}
	w := table()
	fmt.Fprintln(w, "SYMBOL\tQTY\tAVG COST\tPRICE\tLOSS\tDAYS\tTERM\tBENEFIT\t")
	for _, o := range opps {
		term := "short"
		if o.LongTerm {
			term = "long"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%d\t%s\t%s\t\n",
			o.Symbol, o.Quantity, o.AvgCost.StringFixed(2), o.CurrentPrice.StringFixed(2),
			o.UnrealizedLoss.StringFixed(2), o.HoldingDays, term, o.TaxBenefit.StringFixed(2))
	}
	w.Flush()
}

func printPlans(plans []harvest.Plan) {
	if len(plans) == 0 {
		fmt.Println("Nothing to harvest.")
		return
	}
	w := table()
	fmt.Fprintln(w, "SELL\tQTY\tLOSS\tBENEFIT\tBUY\t")
	for _, p := range plans {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t\n",
			p.Symbol, p.Quantity, p.UnrealizedLoss.StringFixed(2), p.TaxBenefit.StringFixed(2), p.Alternative)
	}
	w.Flush()
}

func printResults(results []harvest.Result) {
	if len(results) == 0 {
		fmt.Println("Nothing harvested.")
		return
	}
	w := table()
	fmt.Fprintln(w, "SELL\tPRICE\tLOSS\tBENEFIT\tBUY\tSHARES\tSTATUS\t")
	for _, r := range results {
		status := "ok"
		if !r.Success {
			status = r.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t\n",
			r.Plan.Symbol, r.SellPrice.StringFixed(2), r.RealizedLoss.StringFixed(2),
			r.TaxBenefit.StringFixed(2), r.Plan.Alternative, r.SharesBought, status)
	}
	w.Flush()
}

func printYearEnd(p harvest.YearEndPlan) {
	fmt.Printf("Year-end plan, execute on %s\n\n", p.ExecutionDate.Format("2006-01-02"))
	fmt.Printf("  Short-term losses: %s (%d positions)\n", p.ShortTermLoss.StringFixed(2), len(p.ShortTerm))
	fmt.Printf("  Long-term losses:  %s (%d positions)\n", p.LongTermLoss.StringFixed(2), len(p.LongTerm))
	fmt.Printf("  Recommended loss:  %s\n", p.TotalLoss.StringFixed(2))
	fmt.Printf("  Est. tax benefit:  %s\n", p.EstimatedTaxBenefit.StringFixed(2))
	fmt.Printf("  Ordinary offset:   %s\n", p.OrdinaryIncomeOffset.StringFixed(2))
	fmt.Printf("  Carry forward:     %s\n\n", p.CarryForward.StringFixed(2))
	printPlans(p.Recommended)
}
