package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"capindex/internal/config"
	"capindex/internal/dashboard"
	"capindex/internal/store"
)

func main() {
	dbPath := flag.String("db", "", "SQLite database (default: storage.sqlite_path)")
	outDir := flag.String("out", "", "Parquet output directory (default: storage.parquet_dir)")
	runID := flag.String("run", "", "run to export (default: most recent)")
	list := flag.Bool("list", false, "list recorded runs and exit")
	flag.Parse()

	cfg, err := config.Load(os.Getenv("CAPINDEX_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	if *dbPath == "" {
		*dbPath = cfg.Storage.SQLitePath
	}
	if *outDir == "" {
		*outDir = cfg.Storage.ParquetDir
	}
	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "no database: pass -db or set storage.sqlite_path")
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx := context.Background()

	db, err := store.NewSQLiteStore(*dbPath)
	if err != nil {
		logger.Error("opening database", "path", *dbPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	runs, err := db.ListRuns(ctx)
	if err != nil {
		logger.Error("listing runs", "error", err)
		os.Exit(1)
	}
	if *list {
		for _, r := range runs {
			fmt.Printf("%s  %s  %-24s base=%s  tickers=%d\n",
				r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.IndexName,
				dashboard.FormatCap(r.BaseCap), len(r.Tickers))
		}
		if *outDir != "" {
			files, err := store.NewParquetStore(*outDir).ListTickFiles()
			if err != nil {
				logger.Error("listing parquet files", "dir", *outDir, "error", err)
				os.Exit(1)
			}
			for _, f := range files {
				fmt.Println(f)
			}
		}
		return
	}
	if len(runs) == 0 {
		logger.Warn("no runs recorded", "db", *dbPath)
		return
	}
	if *outDir == "" {
		fmt.Fprintln(os.Stderr, "no output directory: pass -out or set storage.parquet_dir")
		os.Exit(1)
	}

	run := runs[0]
	if *runID != "" {
		if run, err = db.GetRun(ctx, *runID); err != nil {
			logger.Error("unknown run", "run", *runID, "error", err)
			os.Exit(1)
		}
	}
	id := run.ID
	logger.Info("exporting run", "run", id, "index", run.IndexName, "started", run.StartedAt)
	n, err := store.Export(ctx, db, store.NewParquetStore(*outDir), id)
	if err != nil {
		logger.Error("export failed", "run", id, "error", err)
		os.Exit(1)
	}
	logger.Info("exported run", "run", id, "ticks", n, "dir", *outDir)
}
