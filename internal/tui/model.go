// Package tui renders the live index in the terminal: a line chart of the
// in-memory history, a per-constituent sidebar and a status bar.
package tui

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"capindex/internal/dashboard"
	"capindex/internal/domain"
	"capindex/internal/engine"
	"capindex/internal/index"
	"capindex/internal/util"
)

// Options configure the model.
type Options struct {
	Title        string
	BaseValue    float64
	Basket       []string
	PollInterval time.Duration
	Calendar     *util.TradingCalendar
	Log          *slog.Logger
	Now          func() time.Time
}

// cycleMsg carries the outcome of one update cycle.
type cycleMsg struct {
	tick index.Tick
	ok   bool
}

// pollMsg fires when the poll interval after a cycle has elapsed.
type pollMsg time.Time

type keyMap struct {
	Quit key.Binding
	Sort key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Sort: key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "sort")),
}

// Model is the bubbletea model. The next cycle is scheduled only after the
// previous one reports back, so cycles never overlap.
type Model struct {
	ctx    context.Context
	cycler engine.Cycler
	opts   Options
	log    *slog.Logger

	tick     index.Tick
	hasTick  bool
	quotes   map[string]index.Quote // last annotation per symbol
	cycling  bool
	cycles   int
	skipped  int
	sortMode int

	width, height int
}

// New creates a model driving c. ctx bounds every cycle.
func New(ctx context.Context, c engine.Cycler, opts Options) Model {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 15 * time.Second
	}
	if opts.Calendar == nil {
		opts.Calendar = util.NewTradingCalendar(domain.MarketUS)
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return Model{
		ctx:     ctx,
		cycler:  c,
		opts:    opts,
		log:     opts.Log.With("component", "tui"),
		quotes:  make(map[string]index.Quote),
		cycling: true,
		width:   100,
		height:  30,
	}
}

// Init starts the first cycle immediately.
func (m Model) Init() tea.Cmd {
	return m.cycleCmd()
}

func (m Model) cycleCmd() tea.Cmd {
	ctx, c := m.ctx, m.cycler
	return func() tea.Msg {
		t, ok := c.Cycle(ctx)
		return cycleMsg{tick: t, ok: ok}
	}
}

func (m Model) pollCmd() tea.Cmd {
	return tea.Tick(m.opts.PollInterval, func(t time.Time) tea.Msg {
		return pollMsg(t)
	})
}

// Update handles keys, resizes and cycle results.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Sort):
			m.sortMode = (m.sortMode + 1) % dashboard.SortModeCount
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case cycleMsg:
		m.cycling = false
		m.cycles++
		if msg.ok {
			m.tick, m.hasTick = msg.tick, true
			for _, q := range msg.tick.Quotes {
				m.quotes[q.Symbol] = q
			}
		} else {
			m.skipped++
		}
		if m.ctx.Err() != nil {
			return m, tea.Quit
		}
		return m, m.pollCmd()

	case pollMsg:
		if m.cycling {
			return m, nil
		}
		m.cycling = true
		return m, m.cycleCmd()
	}
	return m, nil
}

// View renders the title, the chart beside the sidebar, and the status bar.
func (m Model) View() string {
	title := m.opts.Title
	if m.hasTick && m.tick.Name != "" {
		title = m.tick.Name
	}
	header := titleStyle.Render(padRight(" "+title, m.width))

	sidebar := m.renderSidebar()
	chartW := m.width - lipgloss.Width(sidebar) - 2
	chartH := m.height - 3
	if chartW < 20 {
		chartW = 20
	}
	if chartH < 6 {
		chartH = 6
	}

	var chart string
	if m.hasTick {
		chart = renderChart(m.tick, chartW, chartH, m.opts.Calendar.Location())
	} else {
		chart = dimStyle.Width(chartW).Height(chartH).Render("  fetching prices...")
	}
	body := lipgloss.JoinHorizontal(lipgloss.Top, chart, "  ", sidebar)

	return header + "\n" + body + "\n" + statusStyle.Render(padRight(m.statusLine(), m.width))
}

// sidebarQuotes returns one row per basket symbol, plus any quoted symbol
// outside the basket. A symbol missed by the latest fetch keeps its last
// annotation.
func (m Model) sidebarQuotes() []index.Quote {
	out := make([]index.Quote, 0, len(m.opts.Basket)+len(m.quotes))
	seen := make(map[string]bool, len(m.opts.Basket))
	for _, sym := range m.opts.Basket {
		seen[sym] = true
		q, ok := m.quotes[sym]
		if !ok {
			q = index.Quote{Symbol: sym}
		}
		out = append(out, q)
	}
	var extra []string
	for sym := range m.quotes {
		if !seen[sym] {
			extra = append(extra, sym)
		}
	}
	sort.Strings(extra)
	for _, sym := range extra {
		out = append(out, m.quotes[sym])
	}
	return out
}

func (m Model) renderSidebar() string {
	rows := dashboard.SortQuotes(m.sidebarQuotes(), m.opts.Basket, m.sortMode)
	if len(rows) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(colHeaderStyle.Render("sort: "+dashboard.SortModeLabel(m.sortMode)) + "\n")
	for _, q := range rows {
		b.WriteString(symbolStyle.Render(fmt.Sprintf("%-6s", q.Symbol+":")))
		b.WriteString(" ")
		if _, ok := m.quotes[q.Symbol]; !ok {
			b.WriteString(dimStyle.Render(fmt.Sprintf("%8s", "--")) + "\n")
			continue
		}
		b.WriteString(trendStyle(q.TickTrend).Render(dashboard.FormatPrice(q.Price)))
		b.WriteString(" ")
		b.WriteString(trendStyle(q.DailyTrend).Render(dashboard.FormatPct(q.DailyPct)))
		if m.sortMode == dashboard.SortWeight {
			b.WriteString(dimStyle.Render(fmt.Sprintf(" %5.1f%%", q.Weight*100)))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) statusLine() string {
	now := m.opts.Now()
	session := m.opts.Calendar.SessionAt(now)
	parts := []string{""}
	if m.hasTick {
		v := m.tick.Value
		parts = append(parts, dashboard.FormatValue(v))
		if base := m.opts.BaseValue; base > 0 {
			parts = append(parts, dashboard.FormatChange(v-base, (v/base-1)*100))
		}
		if st := dashboard.ComputeSeriesStats(m.tick.History.Values); st.Points > 1 {
			parts = append(parts, "H "+dashboard.FormatValue(st.High)+" L "+dashboard.FormatValue(st.Low))
		}
		parts = append(parts,
			"src: "+m.tick.Source.String(),
			"at "+dashboard.FormatClock(m.tick.Time, m.opts.Calendar.Location()))
	}
	parts = append(parts, "market: "+string(session)+" "+m.nextBell(now))
	if m.skipped > 0 {
		parts = append(parts, fmt.Sprintf("skipped: %d/%d", m.skipped, m.cycles))
	}
	if m.cycling {
		parts = append(parts, "updating...")
	}
	parts = append(parts, helpText())
	return strings.Join(parts, "  ")
}

// nextBell names the next regular-session open or close.
func (m Model) nextBell(now time.Time) string {
	cal := m.opts.Calendar
	if cal.IsMarketOpen(now) {
		return "(closes " + cal.NextClose(now).Format("15:04") + ")"
	}
	next := cal.NextOpen(now)
	if next.IsZero() {
		return ""
	}
	return "(opens " + next.Format("Mon 15:04") + ")"
}

func helpText() string {
	var hs []string
	for _, k := range []key.Binding{keys.Quit, keys.Sort} {
		h := k.Help()
		hs = append(hs, h.Key+" "+h.Desc)
	}
	return strings.Join(hs, "  ")
}

func padRight(s string, width int) string {
	if width <= 0 {
		return s
	}
	w := lipgloss.Width(s)
	if w >= width {
		return s
	}
	return s + strings.Repeat(" ", width-w)
}
