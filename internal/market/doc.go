// Package market keeps the catalog of coin symbols CoinGlass carries futures
// data for and checks the configured instruments against it.
//
// The catalog is loaded once at startup and refreshed in the background.
// Instruments missing from the catalog are logged but still polled; the
// instrument set itself is fixed for the life of the process.
package market
