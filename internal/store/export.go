package store

import (
	"context"
	"fmt"
)

// Export copies every tick and quote of runID from src into dst and flushes
// it. It returns the number of ticks copied.
func Export(ctx context.Context, src TickStore, dst *ParquetStore, runID string) (int, error) {
	ticks, err := src.ReadTicks(ctx, runID)
	if err != nil {
		return 0, err
	}
	quotes, err := src.ReadQuotes(ctx, runID)
	if err != nil {
		return 0, err
	}
	if len(ticks) == 0 {
		return 0, fmt.Errorf("run %s has no ticks", runID)
	}

	byTime := make(map[int64][]QuoteRecord, len(ticks))
	for _, q := range quotes {
		ms := q.Time.UnixMilli()
		byTime[ms] = append(byTime[ms], q)
	}
	for _, t := range ticks {
		if err := dst.WriteTick(ctx, t, byTime[t.Time.UnixMilli()]); err != nil {
			return 0, err
		}
	}
	if err := dst.Flush(); err != nil {
		return 0, err
	}
	return len(ticks), nil
}
