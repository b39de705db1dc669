// Package memory maintains rolling per-agent fitness and persists it to disk,
// the single store the adaptive-weight controller reads to turn closed-trade
// outcomes into reward signals (spec 4.7), grounded on the teacher's
// learning.FeedbackEngine persistence idiom.
package memory

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/adaptive-trader/pkg/types"
)

// Config bounds the EWMA windows and reward clipping.
type Config struct {
	ShortWindow float64 // tau_s, in trades
	LongWindow  float64 // tau_l, in trades
	RewardClip  decimal.Decimal
	SaveEveryN  int
}

// DefaultConfig picks windows matching the spec's "short-term over last N
// trades" / "long-term cumulative" description: a fast-reacting 20-trade
// window and a slow 200-trade one, with reward clipped to +/-10% of capital.
func DefaultConfig() Config {
	return Config{
		ShortWindow: 20,
		LongWindow:  200,
		RewardClip:  decimal.NewFromFloat(0.1),
		SaveEveryN:  10,
	}
}

// record is the mutable per-agent state backing the published AgentFitness.
type record struct {
	shortTerm decimal.Decimal
	longTerm  decimal.Decimal
	tradeCnt  int
}

// Store is the rolling per-agent fitness store (spec 4.7's MemoryStore):
// exclusively owned by the scheduler and updated once per closed trade.
type Store struct {
	log *zap.Logger
	cfg Config

	mu        sync.RWMutex
	fitness   map[string]*record
	dataDir   string
	sinceSave int

	shortAlpha decimal.Decimal
	longAlpha  decimal.Decimal
}

// NewStore constructs a Store, loading any persisted fitness from dataDir.
func NewStore(cfg Config, log *zap.Logger, dataDir string) *Store {
	s := &Store{
		log:        log.Named("memory"),
		cfg:        cfg,
		fitness:    make(map[string]*record),
		dataDir:    dataDir,
		shortAlpha: ewmaAlpha(cfg.ShortWindow),
		longAlpha:  ewmaAlpha(cfg.LongWindow),
	}
	s.load()
	return s
}

// ewmaAlpha is alpha = 1 - exp(-1/tau).
func ewmaAlpha(tau float64) decimal.Decimal {
	if tau <= 0 {
		return decimal.NewFromFloat(1.0)
	}
	return decimal.NewFromFloat(1 - math.Exp(-1/tau))
}

// RecordTrade updates an agent's fitness from a closed trade's P&L, reward
// clipped to +/-RewardClip of initial capital (spec 4.7/4.3's reward rule).
// Returns the reward actually applied, for the caller to forward to the
// controller's ApplyReward.
func (s *Store) RecordTrade(agentName string, pnl, initialCapital decimal.Decimal) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	reward := decimal.Zero
	if initialCapital.GreaterThan(decimal.Zero) {
		reward = pnl.Div(initialCapital)
	}
	if reward.GreaterThan(s.cfg.RewardClip) {
		reward = s.cfg.RewardClip
	} else if reward.LessThan(s.cfg.RewardClip.Neg()) {
		reward = s.cfg.RewardClip.Neg()
	}

	rec, ok := s.fitness[agentName]
	if !ok {
		rec = &record{}
		s.fitness[agentName] = rec
	}
	rec.shortTerm = rec.shortTerm.Mul(decimal.NewFromInt(1).Sub(s.shortAlpha)).Add(s.shortAlpha.Mul(reward))
	rec.longTerm = rec.longTerm.Mul(decimal.NewFromInt(1).Sub(s.longAlpha)).Add(s.longAlpha.Mul(reward))
	rec.tradeCnt++

	s.log.Debug("agent fitness updated",
		zap.String("agent", agentName),
		zap.String("reward", reward.String()),
		zap.String("short_term", rec.shortTerm.String()),
		zap.String("long_term", rec.longTerm.String()),
	)

	s.sinceSave++
	if s.dataDir != "" && s.cfg.SaveEveryN > 0 && s.sinceSave >= s.cfg.SaveEveryN {
		s.sinceSave = 0
		s.saveLocked()
	}
	return reward
}

// Fitness returns a snapshot of one agent's fitness record.
func (s *Store) Fitness(agentName string) (types.AgentFitness, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.fitness[agentName]
	if !ok {
		return types.AgentFitness{}, false
	}
	return types.AgentFitness{
		AgentName: agentName,
		ShortTerm: rec.shortTerm,
		LongTerm:  rec.longTerm,
		TradeCnt:  rec.tradeCnt,
	}, true
}

// All returns a snapshot of every tracked agent's fitness, for the control
// surface's agent_fitness query and the periodic checkpoint writer.
func (s *Store) All() []types.AgentFitness {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.AgentFitness, 0, len(s.fitness))
	for name, rec := range s.fitness {
		out = append(out, types.AgentFitness{
			AgentName: name,
			ShortTerm: rec.shortTerm,
			LongTerm:  rec.longTerm,
			TradeCnt:  rec.tradeCnt,
		})
	}
	return out
}

// Save persists the fitness table atomically, called on stop and every K
// bars alongside the rest of the checkpoint document (spec's persisted
// state layout).
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

type persisted struct {
	AgentName string          `json:"agentName"`
	ShortTerm decimal.Decimal `json:"shortTerm"`
	LongTerm  decimal.Decimal `json:"longTerm"`
	TradeCnt  int             `json:"tradeCnt"`
}

func (s *Store) saveLocked() error {
	if s.dataDir == "" {
		return nil
	}
	out := make([]persisted, 0, len(s.fitness))
	for name, rec := range s.fitness {
		out = append(out, persisted{AgentName: name, ShortTerm: rec.shortTerm, LongTerm: rec.longTerm, TradeCnt: rec.tradeCnt})
	}

	bytes, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		s.log.Error("failed to marshal fitness", zap.Error(err))
		return err
	}
	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		s.log.Error("failed to create data dir", zap.Error(err))
		return err
	}
	path := filepath.Join(s.dataDir, "agent_fitness.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, bytes, 0644); err != nil {
		s.log.Error("failed to write fitness", zap.Error(err))
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Store) load() {
	if s.dataDir == "" {
		return
	}
	path := filepath.Join(s.dataDir, "agent_fitness.json")
	bytes, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var in []persisted
	if err := json.Unmarshal(bytes, &in); err != nil {
		s.log.Error("failed to unmarshal fitness", zap.Error(err))
		return
	}
	for _, p := range in {
		s.fitness[p.AgentName] = &record{shortTerm: p.ShortTerm, longTerm: p.LongTerm, tradeCnt: p.TradeCnt}
	}
}

// LastSaved reports whether the store has ever been persisted, used by the
// scheduler to decide whether a fresh run should seed weights from disk.
func (s *Store) LastSaved() time.Time {
	if s.dataDir == "" {
		return time.Time{}
	}
	path := filepath.Join(s.dataDir, "agent_fitness.json")
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
