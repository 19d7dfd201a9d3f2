package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"capindex/internal/app"
	"capindex/internal/config"
	"capindex/internal/engine"
	"capindex/internal/feed"
	"capindex/internal/index"
	"capindex/internal/marketdata"
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
		log.Printf("loading config: %v", err)
		return 1
	}

	// Setup logging.
	var w io.Writer = os.Stdout
	if cfg.Logging.File != "" {
		logFile, err := util.OpenLogFile(cfg.Logging.File)
		if err != nil {
			log.Printf("opening log file: %v", err)
			return 1
		}
		defer logFile.Close()
		w = io.MultiWriter(os.Stdout, logFile)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format, w)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	provider, err := marketdata.New(cfg, logger)
	if err != nil {
		log.Printf("market data: %v", err)
		return 1
	}
	logger.Info("market data", "bars", provider.Bars.Name(), "fundamentals", provider.Fundamentals.Name())

	a, err := app.Start(ctx, cfg, provider, logger, app.Options{Feed: true, Sinks: true})
	if err != nil {
		log.Printf("starting index: %v", err)
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("closing recorders", "error", err)
		}
	}()

	runner := engine.NewRunner(a.Updater, cfg.Index.PollInterval, logger)
	runner.OnTick = func(t index.Tick) {
		logger.Info("index", "value", t.Value, "source", t.Source.String(), "quotes", len(t.Quotes),
			"frame", a.Updater.Frame(), "subscribers", a.Hub.Subscribers())
	}

	// Headless mode exists to serve; listen on both unless told otherwise.
	if cfg.Server.HTTPAddr == "" && cfg.Server.GRPCAddr == "" {
		cfg.Server.HTTPAddr, cfg.Server.GRPCAddr = ":8080", ":50061"
	}

	// Bind before starting anything so a listen failure leaves nothing running.
	var grpcLis net.Listener
	if addr := cfg.Server.GRPCAddr; addr != "" {
		grpcLis, err = net.Listen("tcp", addr)
		if err != nil {
			logger.Error("listening", "addr", addr, "error", err)
			return 1
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := runner.Run(ctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if addr := cfg.Server.HTTPAddr; addr != "" {
		g.Go(func() error {
			return feed.NewHTTPServer(a.Hub, logger).ListenAndServe(ctx, addr)
		})
	}
	if grpcLis != nil {
		g.Go(func() error {
			return feed.NewGRPCServer(a.Hub, logger).Serve(ctx, grpcLis)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("server stopped", "error", err)
		return 1
	}
	st := runner.Stats()
	logger.Info("shut down", "run", a.Run.ID, "cycles", st.Cycles, "skipped", st.Skipped)
	return 0
}
