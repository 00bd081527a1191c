package market

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Leblepito/uAlgoTrade/internal/models"
)

type stubSource struct {
	calls   atomic.Int64
	candles []models.Candle
	err     error
}

func (s *stubSource) Klines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.candles) > limit {
		return s.candles[len(s.candles)-limit:], nil
	}
	return s.candles, nil
}

func makeCandles(n int) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		out[i] = models.Candle{OpenTime: int64(i), Close: 100 + float64(i)}
	}
	return out
}

func TestGetRecentCandlesFetchesAndCaches(t *testing.T) {
	source := &stubSource{candles: makeCandles(100)}
	p := NewProvider(source)

	got := p.GetRecentCandles(context.Background(), "BTCUSDT", "1h", 100)
	require.Len(t, got, 100)
	assert.Equal(t, int64(1), source.calls.Load())

	// Second call served from cache
	got = p.GetRecentCandles(context.Background(), "BTCUSDT", "1h", 50)
	require.Len(t, got, 50)
	assert.Equal(t, int64(1), source.calls.Load())
	// Cache serves the most recent slice
	assert.Equal(t, int64(99), got[len(got)-1].OpenTime)
}

func TestGetRecentCandlesErrorReturnsEmpty(t *testing.T) {
	source := &stubSource{err: errors.New("network down")}
	p := NewProvider(source)

	got := p.GetRecentCandles(context.Background(), "ETHUSDT", "1h", 100)
	assert.Empty(t, got)
}

func TestGetRecentCandlesErrorFallsBackToCache(t *testing.T) {
	source := &stubSource{candles: makeCandles(60)}
	p := NewProvider(source)

	first := p.GetRecentCandles(context.Background(), "BTCUSDT", "1h", 60)
	require.Len(t, first, 60)

	// Upstream dies; a larger request must fall back to the cached slice
	source.err = errors.New("timeout")
	got := p.GetRecentCandles(context.Background(), "BTCUSDT", "1h", 100)
	assert.Len(t, got, 60)
}

func TestCacheCapped(t *testing.T) {
	source := &stubSource{candles: makeCandles(800)}
	p := NewProvider(source)

	p.GetRecentCandles(context.Background(), "BTCUSDT", "1h", 800)
	assert.Equal(t, maxCachedCandles, p.CachedCount("BTCUSDT", "1h"))
}

func TestCacheKeyedPerSymbolAndTimeframe(t *testing.T) {
	source := &stubSource{candles: makeCandles(100)}
	p := NewProvider(source)

	p.GetRecentCandles(context.Background(), "BTCUSDT", "1h", 100)
	p.GetRecentCandles(context.Background(), "BTCUSDT", "4h", 100)
	p.GetRecentCandles(context.Background(), "ETHUSDT", "1h", 100)

	assert.Equal(t, int64(3), source.calls.Load())
	assert.Equal(t, 100, p.CachedCount("BTCUSDT", "1h"))
	assert.Equal(t, 100, p.CachedCount("BTCUSDT", "4h"))
	assert.Equal(t, 100, p.CachedCount("ETHUSDT", "1h"))
}
