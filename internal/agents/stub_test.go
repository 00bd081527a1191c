package agents

import (
	"context"
	"sync"
	"time"

	"github.com/Leblepito/uAlgoTrade/internal/bus"
	"github.com/Leblepito/uAlgoTrade/internal/config"
	"github.com/Leblepito/uAlgoTrade/internal/db"
	"github.com/Leblepito/uAlgoTrade/internal/models"
)

// stubRepo is an in-memory db.Repository for agent tests.
type stubRepo struct {
	mu sync.Mutex

	nextID   int64
	signals  map[int64]*models.Signal
	statuses map[int64]models.SignalStatus
	votes    map[int64][]models.ConsensusVote
	memories []models.MemoryEntry

	heartbeats map[string]models.Heartbeat

	openPositions   int
	symbolOpen      map[string]int
	unrealizedPnL   float64
	latestSnapshot  *models.PortfolioSnapshot
	snapshots       []models.PortfolioSnapshot
	closedPositions []models.Position
	confidences     []float64
	voteOutcomes    map[string][]models.VoteOutcome
	recentSignals   []models.Signal
}

var _ db.Repository = (*stubRepo)(nil)

func newStubRepo() *stubRepo {
	return &stubRepo{
		signals:    make(map[int64]*models.Signal),
		statuses:   make(map[int64]models.SignalStatus),
		votes:      make(map[int64][]models.ConsensusVote),
		heartbeats: make(map[string]models.Heartbeat),
		symbolOpen: make(map[string]int),
	}
}

func (r *stubRepo) InsertPendingSignal(ctx context.Context, s *models.Signal) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	copied := *s
	copied.ID = r.nextID
	r.signals[r.nextID] = &copied
	r.statuses[r.nextID] = models.SignalStatusPending
	return r.nextID, nil
}

func (r *stubRepo) UpdateSignalStatus(ctx context.Context, id int64, status models.SignalStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[id] = status
	return nil
}

func (r *stubRepo) ListRecentSignals(ctx context.Context, symbol string, status models.SignalStatus, limit int) ([]models.Signal, error) {
	return r.recentSignals, nil
}

func (r *stubRepo) ListSignalsSince(ctx context.Context, days int) ([]models.Signal, error) {
	return r.recentSignals, nil
}

func (r *stubRepo) RecentSignalConfidences(ctx context.Context, symbol string, hours int) ([]float64, error) {
	return r.confidences, nil
}

func (r *stubRepo) CountSignalsToday(ctx context.Context) (int, error) {
	return len(r.signals), nil
}

func (r *stubRepo) InsertVote(ctx context.Context, v *models.ConsensusVote) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.votes[v.SignalID] = append(r.votes[v.SignalID], *v)
	return nil
}

func (r *stubRepo) ListVotes(ctx context.Context, signalID int64) ([]models.ConsensusVote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.votes[signalID], nil
}

func (r *stubRepo) ListVoteOutcomes(ctx context.Context, agentName string, days int) ([]models.VoteOutcome, error) {
	if r.voteOutcomes == nil {
		return nil, nil
	}
	return r.voteOutcomes[agentName], nil
}

func (r *stubRepo) GetClosedPositions(ctx context.Context, strategyID string, since time.Time) ([]models.Position, error) {
	return r.closedPositions, nil
}

func (r *stubRepo) GetOpenPositions(ctx context.Context) ([]models.Position, error) {
	return nil, nil
}

func (r *stubRepo) CountOpenPositions(ctx context.Context, symbol string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if symbol != "" {
		return r.symbolOpen[symbol], nil
	}
	return r.openPositions, nil
}

func (r *stubRepo) SumOpenUnrealizedPnL(ctx context.Context) (float64, error) {
	return r.unrealizedPnL, nil
}

func (r *stubRepo) OpenPositionsValue(ctx context.Context) (float64, error) {
	return 10000, nil
}

func (r *stubRepo) UpsertSnapshot(ctx context.Context, snap models.PortfolioSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.snapshots {
		if existing.SnapshotDate.Equal(snap.SnapshotDate) {
			r.snapshots[i] = snap
			return nil
		}
	}
	r.snapshots = append(r.snapshots, snap)
	return nil
}

func (r *stubRepo) LatestSnapshot(ctx context.Context) (*models.PortfolioSnapshot, error) {
	return r.latestSnapshot, nil
}

func (r *stubRepo) ListSnapshots(ctx context.Context, days int) ([]models.PortfolioSnapshot, error) {
	return r.snapshots, nil
}

func (r *stubRepo) UpsertHeartbeat(ctx context.Context, hb models.Heartbeat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heartbeats[hb.AgentName] = hb
	return nil
}

func (r *stubRepo) ListHeartbeats(ctx context.Context) ([]models.Heartbeat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Heartbeat, 0, len(r.heartbeats))
	for _, hb := range r.heartbeats {
		out = append(out, hb)
	}
	return out, nil
}

func (r *stubRepo) InsertMemory(ctx context.Context, entry models.MemoryEntry) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	entry.ID = r.nextID
	entry.CreatedAt = time.Now()
	r.memories = append(r.memories, entry)
	return entry.ID, nil
}

func (r *stubRepo) ListMemory(ctx context.Context, agentName string, memType models.MemoryType, symbol string, limit int) ([]models.MemoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.MemoryEntry
	for _, m := range r.memories {
		if m.AgentName != agentName {
			continue
		}
		if memType != "" && m.MemoryType != memType {
			continue
		}
		if symbol != "" && m.Symbol != symbol {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *stubRepo) memoriesOf(agent string, memType models.MemoryType) []models.MemoryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.MemoryEntry
	for _, m := range r.memories {
		if m.AgentName == agent && (memType == "" || m.MemoryType == memType) {
			out = append(out, m)
		}
	}
	return out
}

// stubFetcher returns canned articles keyed by URL.
type stubFetcher struct {
	mu       sync.Mutex
	articles map[string][]models.Article
	fetched  []string
}

func (f *stubFetcher) Fetch(ctx context.Context, url string) []models.Article {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, url)
	return f.articles[url]
}

func (f *stubFetcher) fetchedURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.fetched))
	copy(out, f.fetched)
	return out
}

// stubCandles serves a fixed candle set.
type stubCandles struct {
	candles []models.Candle
}

func (s *stubCandles) GetRecentCandles(ctx context.Context, symbol, timeframe string, limit int) []models.Candle {
	if len(s.candles) > limit {
		return s.candles[len(s.candles)-limit:]
	}
	return s.candles
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Name: "test", Version: "0.0.1"},
		Trading: config.TradingConfig{
			DefaultSymbols:    []string{"BTCUSDT"},
			DefaultTimeframe:  "1h",
			DefaultStrategyID: "default",
			DefaultQuantity:   0.01,
		},
		Risk: config.RiskConfig{
			MinConsensusConfidence:   0.55,
			EngineMinConfidence:      0.55,
			MaxRiskPerTrade:          0.02,
			KillSwitchDrawdown:       0.10,
			MaxDailyLossPct:          0.03,
			MaxOpenPositions:         5,
			MaxDailyTrades:           10,
			CoolDownAfterLossSeconds: 3600,
			MaxSingleAssetRatio:      0.25,
			MaxConcentrationPct:      0.40,
			VolatilityThreshold:      0.30,
		},
		Feeds: config.FeedsConfig{
			Primary:  []string{"http://primary/feed"},
			Fallback: []string{"http://fallback/feed"},
			Macro:    "http://macro/feed",
		},
	}
}

func testContext(repo db.Repository) *Context {
	return &Context{
		Repo: repo,
		Bus:  bus.New(),
		Cfg:  testConfig(),
		Now:  time.Now,
	}
}

// bullishCandles builds a flat series with a terminal plunge: RSI pinned
// oversold, price far below the lower Bollinger band.
func bullishCandles(n int) []models.Candle {
	candles := make([]models.Candle, n)
	for i := range candles {
		candles[i] = models.Candle{
			OpenTime: int64(i), Open: 100, High: 100.5, Low: 99.5, Close: 100,
			Volume: 10, CloseTime: int64(i) + 1,
		}
	}
	last := &candles[n-1]
	last.Open = 100
	last.High = 100
	last.Low = 69
	last.Close = 70
	return candles
}
