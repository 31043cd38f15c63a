package dispatch

import (
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/rickgao/derivwatch/internal/model"
)

// ParseModeHTML is the Telegram parse mode used for formatted messages.
const ParseModeHTML = "HTML"

// Message is a rendered alert ready for a channel.
type Message struct {
	Text      string
	ParseMode string
	Event     model.AlertEvent
}

// Format renders an event as a Telegram HTML message.
func Format(ev model.AlertEvent) Message {
	var b strings.Builder

	marker := "⚠️ <b>ALERT</b>"
	if ev.Severity == model.SeverityCritical {
		marker = "🚨 <b>CRITICAL</b>"
	}
	arrow := "📈"
	if ev.Delta < 0 {
		arrow = "📉"
	}

	fmt.Fprintf(&b, "%s %s <b>%s</b> %s\n",
		marker, arrow, html.EscapeString(ev.Instrument), html.EscapeString(ev.Metric))

	fmt.Fprintf(&b, "%s → %s (%s", formatValue(ev.Old), formatValue(ev.New), signed(ev.Delta))
	if ev.HasRelative {
		fmt.Fprintf(&b, ", %+.2f%%", ev.RelativePct())
	}
	b.WriteString(")\n")

	switch ev.Crossing {
	case model.CrossingRelative:
		fmt.Fprintf(&b, "Threshold: %s%%\n", strconv.FormatFloat(ev.Threshold, 'f', -1, 64))
	case model.CrossingAbsolute:
		fmt.Fprintf(&b, "Threshold: %s\n", formatValue(ev.Threshold))
	}

	fmt.Fprintf(&b, "<i>%s</i>", ev.GeneratedAt.UTC().Format("2006-01-02 15:04:05 UTC"))

	return Message{
		Text:      b.String(),
		ParseMode: ParseModeHTML,
		Event:     ev,
	}
}

// formatValue renders large values with thousands separators and small
// values (rates, ratios) with four significant digits.
func formatValue(v float64) string {
	if math.Abs(v) >= 1000 {
		return humanize.CommafWithDigits(v, 2)
	}
	return strconv.FormatFloat(v, 'g', 4, 64)
}

func signed(v float64) string {
	if v > 0 {
		return "+" + formatValue(v)
	}
	return formatValue(v)
}
