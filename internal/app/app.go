// Package app wires an initialized index to its recorders. Both the terminal
// and the headless binaries start through Start.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"capindex/internal/config"
	"capindex/internal/dashboard"
	"capindex/internal/feed"
	"capindex/internal/index"
	"capindex/internal/marketdata"
	"capindex/internal/sink"
	"capindex/internal/store"
)

// Options select the optional recorders.
type Options struct {
	// Feed attaches a feed.Hub for the network servers.
	Feed bool
	// Sinks connects the sinks enabled in the configuration.
	Sinks bool
	Now   func() time.Time
}

// App is a started index: its state, the updater that advances it and every
// recorder attached to the updater.
type App struct {
	Config    *config.Config
	Run       store.Run
	State     *index.State
	Updater   *index.Updater
	Hub       *feed.Hub
	DB        *store.SQLiteStore
	Recorders *index.Recorders

	log *slog.Logger
}

// Start initializes the index from p, records the run and builds the
// updater. Initialization errors are fatal and returned as is, so callers can
// test them with errors.Is.
func Start(ctx context.Context, cfg *config.Config, p *marketdata.Provider, log *slog.Logger, opts Options) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	state, err := index.Initialize(ctx, index.InitDeps{
		Bars:         p.Bars,
		Fundamentals: p.Fundamentals,
		Log:          log,
	}, index.Params{
		Name:        cfg.Index.Name,
		BaseValue:   cfg.Index.BaseValue,
		Tickers:     cfg.Index.Tickers,
		MaxPoints:   cfg.Index.MaxPoints,
		HistoryDays: cfg.Index.HistoryDays,
	})
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:    cfg,
		Run:       store.NewRun(state, opts.Now()),
		State:     state,
		Recorders: index.NewRecorders(log),
		log:       log.With("component", "app"),
	}
	a.log.Info("base market cap fixed",
		"baseCap", dashboard.FormatMoney(state.BaseCap),
		"constituents", len(state.Constituents),
		"run", a.Run.ID)

	if err := a.attachRecorders(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}

	a.Updater = index.NewUpdater(state, p.Bars, index.UpdaterOptions{
		IntradayWindow: cfg.Index.IntradayWindow,
		WarnFrames:     cfg.Index.FallbackWarnFrames,
		Recorder:       a.Recorders,
		Log:            log,
		Now:            opts.Now,
	})
	return a, nil
}

func (a *App) attachRecorders(ctx context.Context, opts Options) error {
	cfg := a.Config
	if opts.Feed {
		a.Hub = feed.NewHub(a.Run.ID, a.log)
		a.Recorders.Add(a.Hub)
	}

	if path := cfg.Storage.SQLitePath; path != "" {
		db, err := store.NewSQLiteStore(path)
		if err != nil {
			return fmt.Errorf("opening %s: %w", path, err)
		}
		a.DB = db
		if err := db.SaveRun(ctx, a.Run); err != nil {
			return err
		}
		a.Recorders.Add(store.NewRecorder("sqlite", a.Run.ID, db))
	}

	if dir := cfg.Storage.ParquetDir; dir != "" {
		ps := store.NewParquetStore(dir)
		ps.FlushEvery = 20
		a.Recorders.Add(&parquetRecorder{Recorder: store.NewRecorder("parquet", a.Run.ID, ps), ps: ps})
	}

	if opts.Sinks {
		for _, s := range sink.Open(ctx, cfg.Sinks, a.Run.ID, a.log) {
			a.Recorders.Add(s)
		}
	}
	a.log.Info("recorders attached", "count", a.Recorders.Len())
	return nil
}

// parquetRecorder flushes the Parquet buffer when the recorders close.
type parquetRecorder struct {
	*store.Recorder
	ps *store.ParquetStore
}

func (r *parquetRecorder) Close() error { return r.ps.Close() }

// Close closes every recorder and the database.
func (a *App) Close() error {
	errs := []error{a.Recorders.Close()}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
