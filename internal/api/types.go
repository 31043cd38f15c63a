package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// envelope wraps every CoinGlass v4 response.
type envelope struct {
	Code envelopeCode    `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// envelopeCode accepts the code as either a JSON string or number.
type envelopeCode string

func (c *envelopeCode) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = envelopeCode(s)
		return nil
	}
	*c = envelopeCode(b)
	return nil
}

// CoinMarket is one entry from GET /api/futures/coins-markets. Fields are kept
// raw so any configured field can be read as a metric.
type CoinMarket struct {
	Symbol string
	Fields map[string]json.RawMessage
}

// Float returns the named field as a float64. CoinGlass sends most numbers as
// JSON numbers but some as numeric strings; both are accepted.
func (m *CoinMarket) Float(field string) (float64, error) {
	raw, ok := m.Fields[field]
	if !ok {
		return 0, fmt.Errorf("field %q missing", field)
	}
	return parseNumber(raw)
}

func parseNumber(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, fmt.Errorf("value is null")
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("value %q is not numeric", s)
		}
		return v, nil
	}

	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("value %s is not numeric", raw)
	}
	return v, nil
}

// MalformedError reports a response that parsed but lacks what the caller
// needs. It is never retryable.
type MalformedError struct {
	Symbol string
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed response for %s: %s", e.Symbol, e.Reason)
}
