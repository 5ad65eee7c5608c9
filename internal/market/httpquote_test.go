package market_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hightrade/hightrade/internal/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPQuoteClient_Quote_ParsesPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "SPY", r.URL.Query().Get("symbol"))
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		json.NewEncoder(w).Encode(map[string]float64{"price": 512.34})
	}))
	defer srv.Close()

	c := market.NewHTTPQuoteClient(srv.URL, "test-key")
	price, err := c.Quote(context.Background(), "SPY")
	require.NoError(t, err)
	assert.Equal(t, 512.34, price)
}

func TestHTTPQuoteClient_Quote_NonOKStatusReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := market.NewHTTPQuoteClient(srv.URL, "test-key")
	_, err := c.Quote(context.Background(), "SPY")
	assert.Error(t, err)
}

func TestHTTPQuoteClient_Macro_ParsesIndicators(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/macro", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]float64{
			"vix": 23.1, "yield_10y": 4.2, "sp500_change_pct": -1.8,
		})
	}))
	defer srv.Close()

	c := market.NewHTTPQuoteClient(srv.URL, "test-key")
	vix, yield10y, sp500Pct, err := c.Macro(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 23.1, vix)
	assert.Equal(t, 4.2, yield10y)
	assert.Equal(t, -1.8, sp500Pct)
}
