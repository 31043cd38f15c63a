package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// GetCoinMarket fetches the futures market summary for one coin symbol.
func (c *Client) GetCoinMarket(ctx context.Context, symbol string) (*CoinMarket, error) {
	query := url.Values{}
	query.Set("symbol", symbol)

	var entries []map[string]json.RawMessage
	if err := c.get(ctx, "/api/futures/coins-markets", query, &entries); err != nil {
		return nil, fmt.Errorf("get coin market %s: %w", symbol, err)
	}

	for _, fields := range entries {
		raw, ok := fields["symbol"]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		if strings.EqualFold(s, symbol) {
			return &CoinMarket{Symbol: s, Fields: fields}, nil
		}
	}

	return nil, &MalformedError{Symbol: symbol, Reason: "no entry for symbol"}
}

// GetSupportedCoins lists the coin symbols CoinGlass carries futures data for.
func (c *Client) GetSupportedCoins(ctx context.Context) ([]string, error) {
	var coins []string
	if err := c.get(ctx, "/api/futures/supported-coins", nil, &coins); err != nil {
		return nil, fmt.Errorf("get supported coins: %w", err)
	}
	return coins, nil
}
