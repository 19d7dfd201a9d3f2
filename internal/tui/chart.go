package tui

import (
	"fmt"
	"math"
	"time"

	"github.com/NimbleMarkets/ntcharts/canvas"
	"github.com/NimbleMarkets/ntcharts/linechart"
	"github.com/charmbracelet/lipgloss"

	"capindex/internal/dashboard"
	"capindex/internal/index"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Background(lipgloss.Color("8"))
	symbolStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	gainStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	neutralStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	colHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	lineStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	axisStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func trendStyle(t index.Trend) lipgloss.Style {
	switch t {
	case index.TrendUp:
		return gainStyle
	case index.TrendDown:
		return lossStyle
	default:
		return neutralStyle
	}
}

// renderChart draws the tick's history as a braille line over its axis.
func renderChart(t index.Tick, width, height int, loc *time.Location) string {
	values, times := t.History.Values, t.History.Times
	ax := t.Axis
	if ax.XMax <= ax.XMin {
		ax.XMax = ax.XMin + 1
	}
	if ax.YMax <= ax.YMin {
		ax.YMax = ax.YMin + 0.01
	}

	xLabel := func(_ int, x float64) string {
		i := int(math.Round(x))
		if i < 0 || i >= len(times) {
			return ""
		}
		return dashboard.FormatClock(times[i], loc)
	}
	yLabel := func(_ int, y float64) string {
		return fmt.Sprintf("%.2f", y)
	}

	lc := linechart.New(width, height,
		ax.XMin, ax.XMax,
		ax.YMin, ax.YMax,
		linechart.WithXYSteps(4, 4),
		linechart.WithXLabelFormatter(xLabel),
		linechart.WithYLabelFormatter(yLabel),
		linechart.WithStyles(axisStyle, axisStyle, lineStyle),
	)

	switch len(values) {
	case 0:
	case 1:
		p := canvas.Float64Point{X: 0, Y: values[0]}
		lc.DrawBrailleLineWithStyle(p, p, lineStyle)
	default:
		for i := 0; i < len(values)-1; i++ {
			p1 := canvas.Float64Point{X: float64(i), Y: values[i]}
			p2 := canvas.Float64Point{X: float64(i + 1), Y: values[i+1]}
			lc.DrawBrailleLineWithStyle(p1, p2, lineStyle)
		}
	}
	lc.DrawXYAxisAndLabel()
	return lc.View()
}
