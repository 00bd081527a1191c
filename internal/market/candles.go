// Package market provides read-only market data with in-memory caching.
package market

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	binance "github.com/adshao/go-binance/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/Leblepito/uAlgoTrade/internal/models"
)

const maxCachedCandles = 500

// CandleSource fetches raw klines. Satisfied by the Binance client and by
// stubs in tests.
type CandleSource interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)
}

// Provider serves recent OHLCV candles with a per-(symbol,timeframe) cache.
// Concurrent cache misses for the same key collapse into one upstream call.
type Provider struct {
	source  CandleSource
	limiter *rate.Limiter
	group   singleflight.Group

	mu    sync.RWMutex
	cache map[string][]models.Candle
}

// NewProvider creates a candle provider over a source.
func NewProvider(source CandleSource) *Provider {
	return &Provider{
		source:  source,
		limiter: rate.NewLimiter(rate.Limit(10), 20), // Binance-friendly ceiling
		cache:   make(map[string][]models.Candle),
	}
}

// GetRecentCandles returns up to limit candles for a symbol/timeframe.
// Network failures fall back to the cached slice when one exists; otherwise
// the caller gets an empty list and the cycle degrades downstream.
func (p *Provider) GetRecentCandles(ctx context.Context, symbol, timeframe string, limit int) []models.Candle {
	key := symbol + "_" + timeframe

	p.mu.RLock()
	cached := p.cache[key]
	p.mu.RUnlock()
	if len(cached) >= limit {
		return tail(cached, limit)
	}

	result, err, _ := p.group.Do(key, func() (any, error) {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		candles, err := p.source.Klines(ctx, symbol, timeframe, limit)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		p.cache[key] = tail(candles, maxCachedCandles)
		p.mu.Unlock()
		return candles, nil
	})
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Str("timeframe", timeframe).
			Msg("Candle fetch failed, serving cache")
		return tail(cached, limit)
	}

	return tail(result.([]models.Candle), limit)
}

// CachedCount returns how many candles are cached for a key. Test hook.
func (p *Provider) CachedCount(symbol, timeframe string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.cache[symbol+"_"+timeframe])
}

func tail(candles []models.Candle, n int) []models.Candle {
	if len(candles) > n {
		return candles[len(candles)-n:]
	}
	return candles
}

// BinanceSource fetches klines from the Binance REST API.
type BinanceSource struct {
	client *binance.Client
}

// NewBinanceSource creates an unauthenticated Binance market data source.
// Kline endpoints need no API credentials.
func NewBinanceSource() *BinanceSource {
	return &BinanceSource{client: binance.NewClient("", "")}
}

// Klines fetches raw candles for a symbol and interval.
func (b *BinanceSource) Klines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	klines, err := b.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("klines request failed for %s: %w", symbol, err)
	}

	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		candles = append(candles, models.Candle{
			OpenTime:  k.OpenTime,
			Open:      parsePrice(k.Open),
			High:      parsePrice(k.High),
			Low:       parsePrice(k.Low),
			Close:     parsePrice(k.Close),
			Volume:    parsePrice(k.Volume),
			CloseTime: k.CloseTime,
		})
	}
	return candles, nil
}

// GetCurrentPrice returns the latest traded price for a symbol.
func (b *BinanceSource) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("price request failed for %s: %w", symbol, err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("no price returned for %s", symbol)
	}
	return parsePrice(prices[0].Price), nil
}

func parsePrice(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
