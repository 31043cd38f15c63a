package bot

import (
	"fmt"
	"html"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/rickgao/derivwatch/internal/coordinator"
	"github.com/rickgao/derivwatch/internal/detector"
)

const helpText = `<b>derivwatch</b> commands
/status - watcher state and last cycle
/list - tracked instruments and latest values
/rules - alert thresholds`

const timeLayout = "2006-01-02 15:04:05 UTC"

func renderStatus(st coordinator.Status) string {
	var b strings.Builder
	b.WriteString("<b>derivwatch status</b>\n")
	fmt.Fprintf(&b, "Phase: %s\n", st.Phase)
	fmt.Fprintf(&b, "Interval: %s\n", st.Interval)
	fmt.Fprintf(&b, "Instruments: %s\n", html.EscapeString(strings.Join(st.ConfiguredSymbols, ", ")))
	fmt.Fprintf(&b, "Cycles: %d\n", st.Cycles)
	if st.LastCycleEnd.IsZero() {
		b.WriteString("Last cycle: none yet")
		return b.String()
	}
	fmt.Fprintf(&b, "Last cycle: %s (%s)\n", st.LastCycleEnd.UTC().Format(timeLayout), time.Duration(st.LastCycleMillis)*time.Millisecond)
	fmt.Fprintf(&b, "Fetched %d, failed %d, alerts %d, delivered %d", st.LastFetched, len(st.LastFailures), st.LastAlerts, st.LastDelivered)
	if st.LastDropped > 0 {
		fmt.Fprintf(&b, ", dropped %d", st.LastDropped)
	}
	return b.String()
}

func renderList(st coordinator.Status) string {
	byName := make(map[string]coordinator.InstrumentStatus, len(st.Instruments))
	for _, in := range st.Instruments {
		byName[in.Instrument] = in
	}

	var b strings.Builder
	b.WriteString("<b>Tracked instruments</b>")
	for _, sym := range st.ConfiguredSymbols {
		fmt.Fprintf(&b, "\n\n<b>%s</b>", html.EscapeString(sym))
		in, ok := byName[sym]
		if !ok {
			b.WriteString(": no data yet")
			continue
		}
		fmt.Fprintf(&b, " <i>%s</i>", in.Timestamp.UTC().Format(timeLayout))

		names := make([]string, 0, len(in.Metrics))
		for name := range in.Metrics {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "\n%s: %s", html.EscapeString(name), formatNumber(in.Metrics[name]))
		}
	}
	return b.String()
}

func renderRules(rules map[string]detector.Rule) string {
	if len(rules) == 0 {
		return "No alert rules configured."
	}
	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("<b>Alert rules</b>")
	for _, name := range names {
		r := rules[name]
		fmt.Fprintf(&b, "\n<b>%s</b>: %s", html.EscapeString(name), thresholds(r.RelativePct, r.Absolute))

		dir := r.Direction
		if dir == "" {
			dir = detector.DirectionBoth
		}
		fmt.Fprintf(&b, ", %s, cooldown %s", dir, r.Cooldown)
		if r.CriticalRelativePct > 0 || r.CriticalAbsolute > 0 {
			fmt.Fprintf(&b, ", critical %s", thresholds(r.CriticalRelativePct, r.CriticalAbsolute))
		}
	}
	return b.String()
}

func thresholds(pct, abs float64) string {
	var parts []string
	if pct > 0 {
		parts = append(parts, "≥"+strconv.FormatFloat(pct, 'f', -1, 64)+"%")
	}
	if abs > 0 {
		parts = append(parts, "≥"+formatNumber(abs))
	}
	return strings.Join(parts, " or ")
}

func formatNumber(v float64) string {
	if math.Abs(v) >= 1000 {
		return humanize.CommafWithDigits(v, 2)
	}
	return strconv.FormatFloat(v, 'g', 6, 64)
}
