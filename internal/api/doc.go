// Package api provides the CoinGlass REST client.
//
// REST endpoint:
//   - https://open-api-v4.coinglass.com
//
// Requests carry the CG-API-KEY header. Responses are wrapped in an envelope
// {"code":"0","msg":"success","data":...}; any other code is an API error.
//
// Endpoints used: /api/futures/coins-markets, /api/futures/supported-coins
package api
