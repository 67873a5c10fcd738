package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"time"

	"github.com/mExOms/sor/internal/engine"
	"github.com/mExOms/sor/internal/execution"
	"github.com/mExOms/sor/internal/monitor"
	"github.com/mExOms/sor/internal/notify"
	"github.com/mExOms/sor/internal/venue"
	"github.com/mExOms/sor/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var prices = map[string]float64{
	"BTC-USDT": 65000,
	"ETH-USDT": 3200,
	"SOL-USDT": 150,
}

var strategies = []types.Strategy{
	types.StrategySmart, types.StrategyBestPrice, types.StrategyFastFill,
	types.StrategyMinimizeImpact, types.StrategyTWAP, types.StrategyDarkPoolFirst,
}

func main() {
	catalog := flag.String("venues", "configs/venues.yaml", "venue catalogue")
	orders := flag.Int("orders", 500, "number of orders to submit")
	parallel := flag.Int("parallel", 8, "orders in flight")
	seed := flag.Int64("seed", 1, "random seed")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	logger, err := monitor.NewLogger(monitor.LogConfig{Level: *logLevel, Format: "text"})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := simulate(*catalog, *orders, *parallel, *seed, logger); err != nil {
		logger.WithError(err).Fatal("Simulation failed")
	}
}

func simulate(catalog string, n, parallel int, seed int64, logger *logrus.Logger) error {
	sim := execution.DefaultSimulatorConfig()
	sim.Seed = seed
	events := notify.NewChannel(n * 8)

	eng, err := engine.New(engine.DefaultConfig(),
		execution.NewSimulator(sim, monitor.Component(logger, "simulator")),
		monitor.Component(logger, "engine"),
		engine.WithNotifier(events),
	)
	if err != nil {
		return err
	}
	defer eng.Close()

	loaded, err := venue.LoadCatalog(catalog, eng.Registry())
	if err != nil {
		return err
	}
	for asset, p := range prices {
		eng.SetReferencePrice(asset, decimal.NewFromFloat(p))
	}

	rng := rand.New(rand.NewSource(seed))
	assets := make([]string, 0, len(prices))
	for a := range prices {
		assets = append(assets, a)
	}
	sort.Strings(assets)

	specs := make([]types.OrderSpec, n)
	for i := range specs {
		asset := assets[rng.Intn(len(assets))]
		side := types.SideBuy
		if rng.Intn(2) == 1 {
			side = types.SideSell
		}
		notional := 500 + rng.Float64()*20000
		specs[i] = types.OrderSpec{
			Asset:    asset,
			Side:     side,
			Quantity: decimal.NewFromFloat(notional / prices[asset]).Truncate(6),
			Strategy: strategies[rng.Intn(len(strategies))],
			Urgency:  []types.Urgency{types.UrgencyImmediate, types.UrgencyNormal, types.UrgencyPatient}[rng.Intn(3)],
			Source:   "sor-sim",
		}
	}

	start := time.Now()
	results, err := eng.SubmitBatch(context.Background(), specs, parallel)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	byStatus := make(map[types.OrderStatus]int)
	byVenue := make(map[string]int)
	byCode := make(map[string]int)
	for _, r := range results {
		if r.Err != nil {
			byCode[types.CodeOf(r.Err)]++
		}
		if r.Order == nil {
			continue
		}
		byStatus[r.Order.Status]++
		if r.Order.RoutedVenue != "" {
			byVenue[r.Order.RoutedVenue]++
		}
	}

	st := eng.Stats()
	fmt.Printf("venues loaded:     %d\n", loaded)
	fmt.Printf("orders submitted:  %d in %s\n", n, elapsed.Round(time.Millisecond))
	fmt.Printf("volume today:      %s\n", st.VolumeToday.StringFixed(2))
	fmt.Printf("average quality:   %.2f\n", st.AverageQuality)
	fmt.Printf("breaker:           %s\n", st.Breaker.State)
	fmt.Printf("events published:  %d (dropped %d)\n", len(events.Events()), events.Dropped())
	printCounts("status", byStatus)
	printCounts("venue", byVenue)
	printCounts("rejection", byCode)

	fmt.Println("learned venue stats:")
	snapshot := eng.Learner().Snapshot()
	ids := make([]string, 0, len(snapshot))
	for id := range snapshot {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := snapshot[id]
		fmt.Printf("  %-12s fills=%-5d failures=%-4d slippage=%.2fbps latency=%.1fms\n",
			id, p.FillCount, p.FailureCount, p.AvgSlippage*10000, p.AvgLatencyMs)
	}
	return nil
}

func printCounts[K ~string](title string, m map[K]int) {
	if len(m) == 0 {
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	fmt.Printf("by %s:\n", title)
	for _, k := range keys {
		fmt.Printf("  %-24s %d\n", k, m[K(k)])
	}
}
