package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"

	"capindex/internal/dashboard"
	"capindex/internal/domain"
	"capindex/internal/feed"
	"capindex/internal/index"
	"capindex/internal/util"
)

var (
	gainStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func trendText(trend, s string) string {
	switch index.ParseTrend(trend) {
	case index.TrendUp:
		return gainStyle.Render(s)
	case index.TrendDown:
		return lossStyle.Render(s)
	default:
		return s
	}
}

func main() {
	addr := flag.String("addr", "localhost:50061", "capindex-server gRPC address")
	quotes := flag.Bool("quotes", false, "print constituent quotes with every value")
	flag.Parse()
	if a := os.Getenv("CAPINDEX_GRPC_ADDR"); a != "" && !isFlagSet("addr") {
		*addr = a
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cal := util.NewTradingCalendar(domain.MarketUS)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := feed.NewClient(*addr, logger)
	err := client.Watch(ctx, func(s feed.Snapshot) error {
		src := s.Source
		if index.ParseFetchKind(src) == index.Daily {
			src = dimStyle.Render(src + "*")
		}
		fmt.Printf("%s  %-24s %12s  src=%-8s pts=%d\n",
			dashboard.FormatClock(s.Time, cal.Location()),
			s.Name, dashboard.FormatValue(s.Value), src, s.Points)
		if *quotes {
			for _, q := range s.Quotes {
				fmt.Printf("    %-6s %s %s  w=%5.1f%%\n",
					q.Symbol+":",
					trendText(q.TickTrend, dashboard.FormatPrice(q.Price)),
					trendText(q.DailyTrend, dashboard.FormatPct(q.DailyPct)),
					q.Weight*100)
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "watch: %v\n", err)
		os.Exit(1)
	}
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if strings.EqualFold(f.Name, name) {
			set = true
		}
	})
	return set
}
