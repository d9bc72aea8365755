package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barwars/ledgerd/internal/domain"
)

// kline builds one raw Binance-format kline row. Only indexes 0, 1 and 4 are
// read by the resolver; the rest are filler.
func kline(openTime int64, open, close string) []any {
	return []any{openTime, open, "0", "0", close, "0", openTime + 59_999}
}

func serveKlines(t *testing.T, rows [][]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/klines", r.URL.Path)
		require.NotEmpty(t, r.URL.Query().Get("symbol"))
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(rows))
	}))
}

func testWindow() domain.RoundWindow {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return domain.RoundWindow{Start: start, End: start.Add(24 * time.Hour)}
}

func TestCandleResolver_Decide(t *testing.T) {
	base := testWindow().Start.UnixMilli()

	tests := []struct {
		name string
		rows [][]any
		want domain.Outcome
	}{
		{
			name: "more green resolves bull",
			rows: [][]any{
				kline(base, "100.0", "101.0"),
				kline(base+60_000, "101.0", "102.5"),
				kline(base+120_000, "102.5", "101.0"),
			},
			want: domain.OutcomeBull,
		},
		{
			name: "more red resolves bear",
			rows: [][]any{
				kline(base, "100.0", "99.0"),
				kline(base+60_000, "99.0", "98.5"),
				kline(base+120_000, "98.5", "99.0"),
			},
			want: domain.OutcomeBear,
		},
		{
			name: "tie voids the round",
			rows: [][]any{
				kline(base, "100.0", "101.0"),
				kline(base+60_000, "101.0", "100.0"),
			},
			want: domain.OutcomeVoid,
		},
		{
			name: "flat candles count for neither side",
			rows: [][]any{
				kline(base, "100.0", "100.0"),
				kline(base+60_000, "100.0", "100.0"),
				kline(base+120_000, "100.0", "100.5"),
			},
			want: domain.OutcomeBull,
		},
		{
			name: "no candles voids the round",
			rows: [][]any{},
			want: domain.OutcomeVoid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serveKlines(t, tt.rows)
			defer srv.Close()

			r := NewCandleResolver(Config{KlinesURL: srv.URL + "/klines"})
			got, err := r.Decide(context.Background(), "BTC", testWindow())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCandleResolver_Pagination(t *testing.T) {
	window := testWindow()
	window.End = window.Start.Add(48 * time.Hour)
	base := window.Start.UnixMilli()

	// Two full pages of green candles followed by a short page. The server
	// answers from startTime so each page picks up where the last ended.
	total := maxKlinesPerRequest*2 + 10
	var requests int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		start, err := parseMilli(r.URL.Query().Get("startTime"))
		require.NoError(t, err)

		var rows [][]any
		for i := 0; i < maxKlinesPerRequest; i++ {
			openTime := start + int64(i)*60_000
			if openTime >= base+int64(total)*60_000 {
				break
			}
			rows = append(rows, kline(openTime, "100.0", "101.0"))
		}
		require.NoError(t, json.NewEncoder(w).Encode(rows))
	}))
	defer srv.Close()

	r := NewCandleResolver(Config{KlinesURL: srv.URL})
	got, err := r.Decide(context.Background(), "ETH", window)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeBull, got)
	assert.Equal(t, 3, requests)
}

func TestCandleResolver_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":-1121,"msg":"Invalid symbol."}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	r := NewCandleResolver(Config{KlinesURL: srv.URL})
	_, err := r.Decide(context.Background(), "NOPE", testWindow())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestCandleResolver_MalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"not":"an array"}`)
	}))
	defer srv.Close()

	r := NewCandleResolver(Config{KlinesURL: srv.URL})
	_, err := r.Decide(context.Background(), "BTC", testWindow())
	require.Error(t, err)
}

func TestCandleResolver_Pair(t *testing.T) {
	r := NewCandleResolver(Config{KlinesURL: "http://unused", QuoteAsset: "usdt"})
	assert.Equal(t, "BTCUSDT", r.Pair("btc"))
	assert.Equal(t, "XRPUSDT", r.Pair("XRP"))
}

func parseMilli(s string) (int64, error) {
	var ms int64
	_, err := fmt.Sscanf(s, "%d", &ms)
	return ms, err
}
