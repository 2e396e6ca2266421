// Crypto ETL CLI
//
// Collects OHLCV candles, ticker snapshots, and aggregate market data
// from cryptocurrency exchanges into DuckDB or PostgreSQL, with a data
// quality validation stage between extraction and loading.
//
// Usage:
//
//	cryptoetl run --symbols BTC/USDT,ETH/USDT --timeframe 1h --limit 100
//	cryptoetl schedule
//	cryptoetl prices --symbols BTC/USDT
//	cryptoetl market
//	cryptoetl query --symbol BTC/USDT --timeframe 1h --days 7
//
// For detailed help on any command, use: cryptoetl <command> --help
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cryptoflow/go-crypto-etl/internal/config"
	"github.com/cryptoflow/go-crypto-etl/internal/etl"
	"github.com/cryptoflow/go-crypto-etl/internal/exchange"
	"github.com/cryptoflow/go-crypto-etl/internal/logger"
	"github.com/cryptoflow/go-crypto-etl/internal/market"
	"github.com/cryptoflow/go-crypto-etl/internal/schedule"
	"github.com/cryptoflow/go-crypto-etl/internal/storage"
	"github.com/cryptoflow/go-crypto-etl/internal/ticker"
	"github.com/cryptoflow/go-crypto-etl/internal/validator"
)

const (
	Version    = "1.0.0"
	AppName    = "cryptoetl"
	ConfigFile = "cryptoetl.json"
)

const (
	ExitSuccess     = 0
	ExitUsageError  = 1
	ExitConfigError = 2
	ExitDataError   = 4
)

// app holds the wired components shared by all commands.
type app struct {
	cfg       *config.AppConfig
	logger    *slog.Logger
	logCloser io.Closer
	store     storage.Store
	client    exchange.Client
	pipeline  *etl.Pipeline
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(ExitUsageError)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "--version", "-v":
		fmt.Printf("%s version %s\n", AppName, Version)
		return
	case "--help", "-h", "help":
		printUsage()
		return
	}

	a, err := newApp(ctx, configPath(args))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitConfigError)
	}
	defer a.close()

	switch command {
	case "run":
		err = a.handleRun(ctx, args)
	case "schedule":
		err = a.handleSchedule(ctx, args)
	case "prices":
		err = a.handlePrices(ctx, args)
	case "market":
		err = a.handleMarket(ctx, args)
	case "query":
		err = a.handleQuery(ctx, args)
	default:
		fmt.Fprintf(os.Stderr, "Error: Unknown command '%s'\n\n", command)
		printUsage()
		os.Exit(ExitUsageError)
	}

	if err != nil {
		a.logger.Error("command failed", "command", command, "error", err)
		os.Exit(ExitDataError)
	}
}

// configPath extracts the --config flag without disturbing the rest of
// the argument list.
func configPath(args []string) string {
	for i, arg := range args {
		if (arg == "--config" || arg == "-c") && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ConfigFile
}

func newApp(ctx context.Context, path string) (*app, error) {
	cfg, err := config.Load(path, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	log, closer, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}
	slog.SetDefault(log)

	store, err := buildStore(ctx, cfg, log)
	if err != nil {
		closer.Close()
		return nil, fmt.Errorf("initialize storage: %w", err)
	}

	client, err := buildExchange(cfg, log)
	if err != nil {
		store.Close()
		closer.Close()
		return nil, fmt.Errorf("initialize exchange: %w", err)
	}

	v := validator.New(cfg.ValidatorConfig(), log)
	pipeline := etl.NewPipeline(
		etl.NewExtractor(client, log),
		etl.NewTransformer(v, client.Name(), log),
		etl.NewLoader(store, cfg.Storage.BatchSize, log),
		log,
	)

	return &app{
		cfg:       cfg,
		logger:    log,
		logCloser: closer,
		store:     store,
		client:    client,
		pipeline:  pipeline,
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("storage close failed", "error", err)
	}
	a.logCloser.Close()
}

func buildStore(ctx context.Context, cfg *config.AppConfig, log *slog.Logger) (storage.Store, error) {
	switch cfg.Storage.Type {
	case "duckdb":
		return storage.NewDuckDBStore(ctx, cfg.Storage.DatabaseURL, log)
	case "postgres":
		return storage.NewPostgresStore(cfg.Storage.DatabaseURL, log)
	case "memory":
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
}

func buildExchange(cfg *config.AppConfig, log *slog.Logger) (exchange.Client, error) {
	switch cfg.Exchange.Type {
	case "binance":
		return exchange.NewBinanceClient(exchange.BinanceConfig{
			BaseURL:           cfg.Exchange.BaseURL,
			Timeout:           cfg.ExchangeTimeout(),
			RequestsPerSecond: cfg.Exchange.RequestsPerSecond,
		}, log), nil
	default:
		return nil, fmt.Errorf("unsupported exchange type: %s", cfg.Exchange.Type)
	}
}

func (a *app) marketCollector() *market.Collector {
	provider := exchange.NewCoinGeckoClient(exchange.CoinGeckoConfig{}, a.logger)
	return market.NewCollector(provider, a.store, a.cfg.MarketConfig(), a.logger)
}

// handleRun executes one pipeline pass per configured timeframe and
// prints the batch summaries.
func (a *app) handleRun(ctx context.Context, args []string) error {
	symbols := a.cfg.Pipeline.Symbols
	timeframes := a.cfg.Pipeline.Timeframes
	limit := a.cfg.Pipeline.Limit

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config", "-c":
			i++
		case "--symbols", "-s":
			if i+1 >= len(args) {
				return fmt.Errorf("--symbols requires a value")
			}
			symbols = splitList(args[i+1])
			i++
		case "--timeframe", "-t":
			if i+1 >= len(args) {
				return fmt.Errorf("--timeframe requires a value")
			}
			timeframes = splitList(args[i+1])
			i++
		case "--limit", "-l":
			if i+1 >= len(args) {
				return fmt.Errorf("--limit requires a value")
			}
			n, err := strconv.Atoi(args[i+1])
			if err != nil {
				return fmt.Errorf("invalid limit value: %w", err)
			}
			limit = n
			i++
		case "--help", "-h":
			printRunHelp()
			return nil
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	for _, timeframe := range timeframes {
		results := a.pipeline.RunBatch(ctx, symbols, timeframe, limit)
		summary := etl.Summarize(results)

		fmt.Printf("Timeframe %s: %d/%d symbols succeeded, %d rows loaded in %v\n",
			timeframe, summary.Successful, summary.TotalSymbols,
			summary.TotalLoadedRows, summary.TotalTime.Round(time.Millisecond))

		for symbol, result := range results {
			if !result.Success {
				fmt.Printf("  %s failed during %s: %s\n", symbol, result.FailedPhase, result.Error)
			}
		}
	}
	return nil
}

// handleSchedule runs the recurring collection loop until interrupted:
// pipeline jobs per timeframe, plus the market snapshot job and the
// ticker collector when enabled.
func (a *app) handleSchedule(ctx context.Context, args []string) error {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config", "-c":
			i++
		case "--help", "-h":
			printScheduleHelp()
			return nil
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if !a.cfg.Scheduler.Enabled {
		return fmt.Errorf("scheduler is disabled; set scheduler.enabled or SCHEDULER_ENABLED=true")
	}

	s := schedule.NewScheduler(time.Second, nil, a.logger)

	for _, timeframe := range a.cfg.Pipeline.Timeframes {
		tf := timeframe
		s.Add(schedule.Job{
			Name:     "candles_" + tf,
			Interval: a.cfg.SchedulerInterval(),
			Run: func(ctx context.Context) error {
				results := a.pipeline.RunBatch(ctx, a.cfg.Pipeline.Symbols, tf, a.cfg.Pipeline.Limit)
				summary := etl.Summarize(results)
				if summary.Failed > 0 {
					return fmt.Errorf("%d of %d symbols failed", summary.Failed, summary.TotalSymbols)
				}
				return nil
			},
		})
	}

	if a.cfg.Market.Enabled {
		collector := a.marketCollector()
		s.Add(schedule.Job{
			Name:     "market_snapshot",
			Interval: a.cfg.MarketInterval(),
			Run: func(ctx context.Context) error {
				_, err := collector.Collect(ctx)
				return err
			},
		})
	}

	var tickers *ticker.Collector
	if a.cfg.Ticker.Enabled {
		tickers = ticker.NewCollector(a.client, a.store, a.cfg.TickerConfig(), nil, a.logger)
		tickers.Start(ctx)
		defer tickers.Stop()
	}

	s.RunAll(ctx)
	s.Start(ctx)
	defer s.Stop()

	fmt.Printf("Scheduler running with %d jobs. Press Ctrl+C to stop.\n", s.GetStats().Jobs)
	<-ctx.Done()
	fmt.Println("Shutting down...")
	return nil
}

// handlePrices fetches and prints the current ticker for each symbol.
func (a *app) handlePrices(ctx context.Context, args []string) error {
	symbols := a.cfg.Ticker.Symbols

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config", "-c":
			i++
		case "--symbols", "-s":
			if i+1 >= len(args) {
				return fmt.Errorf("--symbols requires a value")
			}
			symbols = splitList(args[i+1])
			i++
		case "--help", "-h":
			fmt.Printf("Usage: %s prices [--symbols BTC/USDT,ETH/USDT]\n", AppName)
			return nil
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	fmt.Printf("%-12s %-14s %-14s %-10s\n", "Symbol", "Price", "Volume 24h", "Change 24h")
	fmt.Println(strings.Repeat("-", 54))

	for _, symbol := range symbols {
		payload, err := a.client.FetchTicker(ctx, symbol)
		if err != nil {
			fmt.Printf("%-12s fetch failed: %v\n", symbol, err)
			continue
		}
		t, err := ticker.Normalize(a.client.Name(), symbol, payload)
		if err != nil {
			fmt.Printf("%-12s unusable payload: %v\n", symbol, err)
			continue
		}

		volume, change := "-", "-"
		if t.Volume24h != nil {
			volume = t.Volume24h.String()
		}
		if t.PriceChangePct24h != nil {
			change = t.PriceChangePct24h.String() + "%"
		}
		fmt.Printf("%-12s %-14s %-14s %-10s\n", symbol, t.Price.String(), volume, change)
	}
	return nil
}

// handleMarket performs one market snapshot collection and prints the
// stored row counts.
func (a *app) handleMarket(ctx context.Context, args []string) error {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config", "-c":
			i++
		case "--help", "-h":
			fmt.Printf("Usage: %s market\n", AppName)
			return nil
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	result, err := a.marketCollector().Collect(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Stored market snapshot: %d rows in %v\n",
		result.LoadedRows, (result.ExtractionTime + result.TransformTime + result.LoadingTime).Round(time.Millisecond))
	return nil
}

// handleQuery prints stored candles for a symbol and timeframe.
func (a *app) handleQuery(ctx context.Context, args []string) error {
	var symbol string
	timeframe := "1h"
	days := 7
	format := "table"

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config", "-c":
			i++
		case "--symbol", "-s":
			if i+1 >= len(args) {
				return fmt.Errorf("--symbol requires a value")
			}
			symbol = args[i+1]
			i++
		case "--timeframe", "-t":
			if i+1 >= len(args) {
				return fmt.Errorf("--timeframe requires a value")
			}
			timeframe = args[i+1]
			i++
		case "--days", "-d":
			if i+1 >= len(args) {
				return fmt.Errorf("--days requires a value")
			}
			n, err := strconv.Atoi(args[i+1])
			if err != nil {
				return fmt.Errorf("invalid days value: %w", err)
			}
			days = n
			i++
		case "--format", "-f":
			if i+1 >= len(args) {
				return fmt.Errorf("--format requires a value")
			}
			format = args[i+1]
			if format != "table" && format != "json" {
				return fmt.Errorf("invalid format, must be: table or json")
			}
			i++
		case "--help", "-h":
			fmt.Printf("Usage: %s query --symbol BTC/USDT [--timeframe 1h] [--days 7] [--format table|json]\n", AppName)
			return nil
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if symbol == "" {
		return fmt.Errorf("--symbol is required")
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -days)

	candles, err := a.store.CandlesInRange(ctx, symbol, timeframe, start, end)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if len(candles) == 0 {
		fmt.Println("No data found for the specified criteria.")
		return nil
	}

	if format == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(candles)
	}

	fmt.Printf("%-17s %-12s %-12s %-12s %-12s %-14s\n",
		"Timestamp", "Open", "High", "Low", "Close", "Volume")
	fmt.Println(strings.Repeat("-", 82))
	for _, c := range candles {
		fmt.Printf("%-17s %-12s %-12s %-12s %-12s %-14s\n",
			c.Timestamp.Format("2006-01-02 15:04"),
			c.Open.String(), c.High.String(), c.Low.String(),
			c.Close.String(), c.Volume.String())
	}
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func printUsage() {
	fmt.Printf(`%s - Crypto ETL pipeline v%s

USAGE:
    %s <command> [options]

COMMANDS:
    run         Run the candle ETL pipeline once for the configured symbols
    schedule    Run recurring collection (candles, tickers, market snapshots)
    prices      Fetch and display current ticker prices
    market      Collect one aggregate market snapshot
    query       Display stored candles

GLOBAL OPTIONS:
    --config, -c   Path to the JSON config file (default: %s)
    --help, -h     Show help information
    --version, -v  Show version information

EXAMPLES:
    %s run --symbols BTC/USDT,ETH/USDT --timeframe 1h --limit 100
    %s schedule
    %s prices --symbols BTC/USDT
    %s query --symbol BTC/USDT --timeframe 1h --days 7 --format json

Configuration also comes from environment variables (STORAGE_TYPE,
DATABASE_URL, PIPELINE_SYMBOLS, ...), which take priority over the file.
`, AppName, Version, AppName, ConfigFile, AppName, AppName, AppName, AppName)
}

func printRunHelp() {
	fmt.Printf(`%s run - Run the candle ETL pipeline once

OPTIONS:
    --symbols, -s    Comma-separated trading pairs (default from config)
    --timeframe, -t  Comma-separated timeframes (default from config)
    --limit, -l      Candles to fetch per symbol (default from config)
`, AppName)
}

func printScheduleHelp() {
	fmt.Printf(`%s schedule - Run recurring collection until interrupted

Jobs come from the configuration: candle pipeline runs per timeframe at
scheduler.interval, the market snapshot job at market.interval when
market.enabled, and the background ticker collector when ticker.enabled.
`, AppName)
}
