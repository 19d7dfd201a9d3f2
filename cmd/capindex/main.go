package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"capindex/internal/app"
	"capindex/internal/config"
	"capindex/internal/dashboard"
	"capindex/internal/domain"
	"capindex/internal/index"
	"capindex/internal/marketdata"
	"capindex/internal/tui"
	"capindex/internal/util"
)

func main() {
	os.Exit(run())
}

// run returns the exit code so deferred closes, including the Parquet
// flush, happen before the process exits.
func run() int {
	cfg, err := config.Load(os.Getenv("CAPINDEX_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		return 1
	}

	// The terminal belongs to the chart; logs go to a file.
	logFile, err := util.OpenLogFile(cfg.Logging.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening log file: %v\n", err)
		return 1
	}
	defer logFile.Close()
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format, logFile)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	provider, err := marketdata.New(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "market data: %v\n", err)
		return 1
	}

	fmt.Fprintf(os.Stderr, "initializing %s (%d tickers)...\n", cfg.Index.Name, len(cfg.Index.Tickers))
	a, err := app.Start(ctx, cfg, provider, logger, app.Options{})
	if err != nil {
		switch {
		case errors.Is(err, index.ErrInsufficientHistory):
			fmt.Fprintln(os.Stderr, "not enough daily history to fix the base; is the market data source reachable?")
		case errors.Is(err, index.ErrZeroBaseCap):
			fmt.Fprintln(os.Stderr, "no ticker could be initialized; base market cap is zero")
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer a.Close()
	fmt.Fprintf(os.Stderr, "base market cap %s across %d tickers\n",
		dashboard.FormatMoney(a.State.BaseCap), len(a.State.Constituents))

	m := tui.New(ctx, a.Updater, tui.Options{
		Title:        cfg.Index.Name,
		BaseValue:    cfg.Index.BaseValue,
		Basket:       a.State.Symbols(),
		PollInterval: cfg.Index.PollInterval,
		Calendar:     util.NewTradingCalendar(domain.MarketUS),
		Log:          logger,
	})
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
