package rates

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/python-is-trash/westwallet-backend/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUSDPrice_StablecoinsAreOne(t *testing.T) {
	p := NewProvider(models.RatesConfig{CoinGeckoURL: "http://127.0.0.1:0"}, nil)
	price, err := p.USDPrice(context.Background(), models.TokenUSDT)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(1)))
}

func TestUSDPrice_FetchesAndCaches(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		assert.Contains(t, r.URL.Query().Get("ids"), "the-open-network")
		_, _ = w.Write([]byte(`{"the-open-network":{"usd":6.25},"solana":{"usd":140},"binancecoin":{"usd":580},"ethereum":{"usd":3100.5}}`))
	}))
	defer srv.Close()

	p := NewProvider(models.RatesConfig{CoinGeckoURL: srv.URL, TTL: time.Minute}, nil)
	ctx := context.Background()

	ton, err := p.USDPrice(ctx, models.TokenTON)
	require.NoError(t, err)
	assert.Equal(t, "6.25", ton.String())

	eth, err := p.USDPrice(ctx, models.TokenETH)
	require.NoError(t, err)
	assert.Equal(t, "3100.5", eth.String())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	usd, err := p.ToUSD(ctx, models.AssetTON, decimal.NewFromInt(2))
	require.NoError(t, err)
	assert.Equal(t, "12.5", usd.String())
}

func TestUSDPrice_FallsBackWhenFeedFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewProvider(models.RatesConfig{CoinGeckoURL: srv.URL}, nil)
	tests := map[models.Token]string{
		models.TokenTON: "5.5",
		models.TokenSOL: "150",
		models.TokenBNB: "600",
		models.TokenETH: "3000",
	}
	for token, want := range tests {
		price, err := p.USDPrice(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, want, price.String(), token)
	}
}

func TestUSDPrice_RefreshesAfterTTL(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"solana":{"usd":150}}`))
	}))
	defer srv.Close()

	p := NewProvider(models.RatesConfig{CoinGeckoURL: srv.URL, TTL: time.Minute}, nil)
	now := time.Now()
	p.now = func() time.Time { return now }

	_, err := p.USDPrice(context.Background(), models.TokenSOL)
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)
	_, err = p.USDPrice(context.Background(), models.TokenSOL)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
