package dispatch

import "time"

// Payload is the JSON form of a rendered alert, shared by the NATS sink
// and the live feed.
type Payload struct {
	ID          string    `json:"id"`
	Instrument  string    `json:"instrument"`
	Metric      string    `json:"metric"`
	Old         float64   `json:"old"`
	New         float64   `json:"new"`
	Delta       float64   `json:"delta"`
	RelativePct *float64  `json:"relative_pct,omitempty"`
	Crossing    string    `json:"crossing"`
	Threshold   float64   `json:"threshold"`
	Severity    string    `json:"severity"`
	GeneratedAt time.Time `json:"generated_at"`
	Text        string    `json:"text"`
}

// NewPayload builds the JSON body for a rendered message.
func NewPayload(msg Message) Payload {
	ev := msg.Event
	p := Payload{
		ID:          ev.ID.String(),
		Instrument:  ev.Instrument,
		Metric:      ev.Metric,
		Old:         ev.Old,
		New:         ev.New,
		Delta:       ev.Delta,
		Crossing:    string(ev.Crossing),
		Threshold:   ev.Threshold,
		Severity:    string(ev.Severity),
		GeneratedAt: ev.GeneratedAt.UTC(),
		Text:        msg.Text,
	}
	if ev.HasRelative {
		pct := ev.RelativePct()
		p.RelativePct = &pct
	}
	return p
}
