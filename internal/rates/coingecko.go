package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/python-is-trash/westwallet-backend/internal/cache"
	"github.com/python-is-trash/westwallet-backend/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3/simple/price"

var coinGeckoIds = map[models.Token]string{
	models.TokenTON: "the-open-network",
	models.TokenSOL: "solana",
	models.TokenBNB: "binancecoin",
	models.TokenETH: "ethereum",
}

// Prices used when the feed is unreachable and nothing is cached.
var fallbackPrices = map[models.Token]decimal.Decimal{
	models.TokenTON: decimal.RequireFromString("5.5"),
	models.TokenSOL: decimal.NewFromInt(150),
	models.TokenBNB: decimal.NewFromInt(600),
	models.TokenETH: decimal.NewFromInt(3000),
}

// Provider resolves USD prices for tokens. Stablecoins are always 1.
type Provider struct {
	url    string
	ttl    time.Duration
	client *http.Client
	redis  *cache.Redis

	mu        sync.RWMutex
	prices    map[models.Token]decimal.Decimal
	fetchedAt time.Time
	now       func() time.Time
}

func NewProvider(cfg models.RatesConfig, redis *cache.Redis) *Provider {
	url := cfg.CoinGeckoURL
	if url == "" {
		url = DefaultCoinGeckoURL
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Provider{
		url:    url,
		ttl:    ttl,
		client: &http.Client{Timeout: timeout},
		redis:  redis,
		prices: make(map[models.Token]decimal.Decimal),
		now:    time.Now,
	}
}

// USDPrice returns the USD price of one unit of token. It never fails for a
// known token: feed errors fall back to the last cached or the fixed price.
func (p *Provider) USDPrice(ctx context.Context, token models.Token) (decimal.Decimal, error) {
	if token.Stablecoin() {
		return decimal.NewFromInt(1), nil
	}
	if _, ok := coinGeckoIds[token]; !ok {
		return decimal.Zero, fmt.Errorf("no price source for %s", token)
	}

	if price, ok := p.cached(token); ok {
		return price, nil
	}

	if err := p.refresh(ctx); err != nil {
		zap.L().Warn("Price feed unavailable, using fallback",
			zap.String("token", string(token)),
			zap.Error(err))
	}

	p.mu.RLock()
	price, ok := p.prices[token]
	p.mu.RUnlock()
	if ok && price.IsPositive() {
		return price, nil
	}
	return fallbackPrices[token], nil
}

// ToUSD converts an amount of an asset into USD.
func (p *Provider) ToUSD(ctx context.Context, asset models.Asset, amount decimal.Decimal) (decimal.Decimal, error) {
	price, err := p.USDPrice(ctx, asset.Token())
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(price), nil
}

func (p *Provider) cached(token models.Token) (decimal.Decimal, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	price, ok := p.prices[token]
	if !ok || p.now().Sub(p.fetchedAt) >= p.ttl {
		return decimal.Zero, false
	}
	return price, true
}

func (p *Provider) refresh(ctx context.Context) error {
	key := p.redis.Key("rates", "usd")
	var shared map[models.Token]decimal.Decimal
	if found, err := p.redis.GetJSON(ctx, key, &shared); err != nil {
		zap.L().Warn("Failed to read cached prices", zap.Error(err))
	} else if found && len(shared) > 0 {
		p.store(shared)
		return nil
	}

	prices, err := p.fetch(ctx)
	if err != nil {
		return err
	}
	p.store(prices)
	if err := p.redis.SetJSON(ctx, key, prices, p.ttl); err != nil {
		zap.L().Warn("Failed to cache prices", zap.Error(err))
	}
	return nil
}

func (p *Provider) store(prices map[models.Token]decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for token, price := range prices {
		p.prices[token] = price
	}
	p.fetchedAt = p.now()
}

func (p *Provider) fetch(ctx context.Context) (map[models.Token]decimal.Decimal, error) {
	ids := make([]string, 0, len(coinGeckoIds))
	for _, token := range []models.Token{models.TokenTON, models.TokenSOL, models.TokenBNB, models.TokenETH} {
		ids = append(ids, coinGeckoIds[token])
	}
	url := fmt.Sprintf("%s?ids=%s&vs_currencies=usd", p.url, strings.Join(ids, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build price request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coingecko request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("coingecko returned %d: %s", resp.StatusCode, string(body))
	}

	var result map[string]map[string]decimal.Decimal
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("coingecko parse error: %w", err)
	}

	prices := make(map[models.Token]decimal.Decimal)
	for token, id := range coinGeckoIds {
		if usd, ok := result[id]["usd"]; ok && usd.IsPositive() {
			prices[token] = usd
		}
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("coingecko returned no usable prices")
	}
	return prices, nil
}
