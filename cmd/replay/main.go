// cmd/replay replays a recorded quote file through the indicator engine in
// event time and prints a run summary. With --db the finalized bars are
// archived, so a later engine start can warm up from them.
//
// Usage:
//
//	go run ./cmd/replay --input=quotes.csv --speed=0 --flush
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"

	"fxindicators/config"
	"fxindicators/internal/bus"
	"fxindicators/internal/indicator"
	"fxindicators/internal/logger"
	"fxindicators/internal/marketdata/boundary"
	"fxindicators/internal/marketdata/replay"
	"fxindicators/internal/model"
	sqlitestore "fxindicators/internal/store/sqlite"
)

func main() {
	cfgPath := flag.String("config", "", "Path to YAML config (empty = built-in defaults)")
	input := flag.String("input", "-", "Quote CSV (ts,symbol,bid,ask); - reads stdin")
	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max, 1=realtime, 100=100x)")
	flush := flag.Bool("flush", true, "Close the buckets still open at end of input")
	marketHours := flag.Bool("market-hours", false, "Skip catch-up boundaries outside the FX session")
	maxCatchUp := flag.Int("max-catch-up", 0, "Cap on boundaries per period across one quote gap (0=none)")
	dbPath := flag.String("db", "", "Archive finalized bars to this SQLite file")
	buffer := flag.Int("buffer", 1<<16, "Per-subscriber update buffer")
	verbose := flag.Bool("v", false, "Print every update")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Init("replay", "info")
		log.Fatal().Err(err).Msg("load config")
	}
	logger.Init("replay", cfg.LogLevel)

	periods, _ := cfg.Periods()
	specs, _ := cfg.FamilySpecs()

	fan := bus.New(*buffer)
	var drops int
	var dropMu sync.Mutex
	fan.OnDrop = func(string) {
		dropMu.Lock()
		drops++
		dropMu.Unlock()
	}

	h, err := indicator.NewHolder(indicator.HolderConfig{
		Symbols:   cfg.ModelSymbols(),
		Periods:   periods,
		Families:  specs,
		PriceMode: cfg.Mode(),
	}, indicator.DefaultFactories(), fan)
	if err != nil {
		log.Fatal().Err(err).Msg("build holder")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithBatchID(ctx, logger.NewBatchID())

	var wg sync.WaitGroup
	counts := make(map[model.Family]int)
	updates := fan.Subscribe("summary")
	wg.Add(1)
	go func() {
		defer wg.Done()
		for u := range updates {
			counts[u.Family]++
			if *verbose {
				fmt.Println(u.Summary)
			}
		}
	}()

	if *dbPath != "" {
		w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: *dbPath})
		if err != nil {
			log.Fatal().Err(err).Msg("open archive")
		}
		defer w.Close()
		bars := fan.Subscribe("sqlite")
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(context.WithoutCancel(ctx), bars)
		}()
	}

	var src io.Reader = os.Stdin
	if *input != "-" {
		f, err := os.Open(*input)
		if err != nil {
			log.Fatal().Err(err).Msg("open input")
		}
		defer f.Close()
		src = f
	}

	opts := replay.Options{Speed: *speed, Flush: *flush, MaxCatchUp: *maxCatchUp}
	if *marketHours {
		opts.Gate = boundary.SessionGate
	}
	stats, runErr := replay.New(h, periods, opts).Run(ctx, src)

	fan.Close()
	wg.Wait()

	if runErr != nil {
		log.Error().Err(runErr).Msg("replay stopped early")
	}
	printSummary(stats, counts, drops)
}

func printSummary(st replay.Stats, counts map[model.Family]int, drops int) {
	fams := make([]string, 0, len(counts))
	for f := range counts {
		fams = append(fams, string(f))
	}
	sort.Strings(fams)

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════╗")
	fmt.Println("║              REPLAY COMPLETE                 ║")
	fmt.Println("╠══════════════════════════════════════════════╣")
	fmt.Printf("║  Batch:      %-31s ║\n", st.BatchID)
	fmt.Printf("║  Quotes:     %-31d ║\n", st.Quotes)
	fmt.Printf("║  Signals:    %-31d ║\n", st.Signals)
	fmt.Printf("║  Malformed:  %-31d ║\n", st.Malformed)
	fmt.Printf("║  Late:       %-31d ║\n", st.Late)
	fmt.Printf("║  Span:       %-31s ║\n", st.First.Format("2006-01-02 15:04")+" → "+st.Last.Format("15:04"))
	fmt.Printf("║  Elapsed:    %-31s ║\n", st.Elapsed.Round(1e6))
	fmt.Printf("║  Dropped:    %-31d ║\n", drops)
	fmt.Println("╠══════════════════════════════════════════════╣")
	for _, f := range fams {
		fmt.Printf("║  %-14s %-29d ║\n", f, counts[model.Family(f)])
	}
	fmt.Println("╚══════════════════════════════════════════════╝")
}
