// Package resolver decides round outcomes from exchange candle data.
//
// The candle resolver fetches one-minute klines over a round's window from a
// Binance-compatible endpoint and counts green candles (close above open)
// against red candles (close below open). More green candles resolves the
// round bull, more red resolves bear, and a tie or an empty window voids the
// round so every stake is refunded.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/barwars/ledgerd/internal/domain"
)

// maxKlinesPerRequest is the page size for klines queries. A 24h round at 1m
// resolution needs 1440 candles, so most rounds resolve in two pages.
const maxKlinesPerRequest = 1000

// CandleResolver implements domain.Resolver against a Binance-compatible
// klines REST endpoint.
type CandleResolver struct {
	klinesURL  string
	quoteAsset string
	interval   string
	httpClient *http.Client
}

// Config holds the candle resolver parameters.
type Config struct {
	// KlinesURL is the full klines endpoint, e.g.
	// "https://fapi.binance.com/fapi/v1/klines".
	KlinesURL string

	// QuoteAsset is appended to the market symbol to form the trading
	// pair, e.g. "USDT" turns "BTC" into "BTCUSDT".
	QuoteAsset string

	// Interval is the candle interval requested from the endpoint.
	Interval string

	// RequestTimeout bounds each HTTP request.
	RequestTimeout time.Duration
}

// NewCandleResolver creates a resolver for the given endpoint.
func NewCandleResolver(cfg Config) *CandleResolver {
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.Interval == "" {
		cfg.Interval = "1m"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &CandleResolver{
		klinesURL:  cfg.KlinesURL,
		quoteAsset: strings.ToUpper(cfg.QuoteAsset),
		interval:   cfg.Interval,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
	}
}

// candle is a single kline reduced to the fields the resolver compares.
type candle struct {
	OpenTime int64
	Open     float64
	Close    float64
}

// Decide fetches candles over the window and tallies green against red.
// Candles that open and close at the same price count for neither side.
func (r *CandleResolver) Decide(ctx context.Context, symbol string, window domain.RoundWindow) (domain.Outcome, error) {
	candles, err := r.fetchWindow(ctx, symbol, window)
	if err != nil {
		return domain.OutcomeUndecided, err
	}

	var green, red int
	for _, c := range candles {
		switch {
		case c.Close > c.Open:
			green++
		case c.Close < c.Open:
			red++
		}
	}

	switch {
	case green > red:
		return domain.OutcomeBull, nil
	case red > green:
		return domain.OutcomeBear, nil
	default:
		// Tie, or no usable candles at all. Refund the round.
		return domain.OutcomeVoid, nil
	}
}

// Pair returns the trading pair queried for a market symbol.
func (r *CandleResolver) Pair(symbol string) string {
	return strings.ToUpper(symbol) + r.quoteAsset
}

// fetchWindow pages through the klines endpoint until the window is covered.
func (r *CandleResolver) fetchWindow(ctx context.Context, symbol string, window domain.RoundWindow) ([]candle, error) {
	var out []candle

	start := window.Start.UnixMilli()
	end := window.End.UnixMilli()

	for start < end {
		page, err := r.fetchPage(ctx, symbol, start, end)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		out = append(out, page...)

		last := page[len(page)-1].OpenTime
		if last < start {
			return nil, fmt.Errorf("resolver: klines for %s went backwards at %d", symbol, last)
		}
		start = last + 1

		if len(page) < maxKlinesPerRequest {
			break
		}
	}

	return out, nil
}

func (r *CandleResolver) fetchPage(ctx context.Context, symbol string, startMS, endMS int64) ([]candle, error) {
	params := url.Values{}
	params.Set("symbol", r.Pair(symbol))
	params.Set("interval", r.interval)
	params.Set("startTime", strconv.FormatInt(startMS, 10))
	// Binance treats endTime as inclusive; trim one millisecond so the next
	// round's opening candle never leaks into this window.
	params.Set("endTime", strconv.FormatInt(endMS-1, 10))
	params.Set("limit", strconv.Itoa(maxKlinesPerRequest))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.klinesURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("resolver: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("resolver: klines request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("resolver: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("resolver: klines status %d: %s", resp.StatusCode, truncate(body, 256))
	}

	return parseKlines(body)
}

// parseKlines decodes the Binance klines payload: an array of arrays where
// index 0 is the open time in milliseconds, index 1 the open price and
// index 4 the close price, both as decimal strings.
func parseKlines(body []byte) ([]candle, error) {
	var raw [][]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("resolver: decode klines: %w", err)
	}

	candles := make([]candle, 0, len(raw))
	for i, row := range raw {
		if len(row) < 5 {
			return nil, fmt.Errorf("resolver: kline %d has %d fields", i, len(row))
		}

		var openTime int64
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			return nil, fmt.Errorf("resolver: kline %d open time: %w", i, err)
		}

		open, err := parsePrice(row[1])
		if err != nil {
			return nil, fmt.Errorf("resolver: kline %d open: %w", i, err)
		}
		closePrice, err := parsePrice(row[4])
		if err != nil {
			return nil, fmt.Errorf("resolver: kline %d close: %w", i, err)
		}

		candles = append(candles, candle{
			OpenTime: openTime,
			Open:     open,
			Close:    closePrice,
		})
	}

	return candles, nil
}

func parsePrice(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(s, 64)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

var _ domain.Resolver = (*CandleResolver)(nil)
