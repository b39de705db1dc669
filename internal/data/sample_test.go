package data_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/adaptive-trader/internal/data"
)

// Two fresh stores asked for the same symbol and range must generate the
// same price path, since replay determinism (identical trade logs across
// runs) hangs off it.
func TestGeneratedSampleBarsAreDeterministicPerSymbol(t *testing.T) {
	logger := zap.NewNop()
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	end := start.Add(100 * time.Hour)

	s1, err := data.NewStore(logger, t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	s2, err := data.NewStore(logger, t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	bars1, err := s1.LoadBars(context.Background(), "SPY", "1h", start, end)
	if err != nil {
		t.Fatalf("LoadBars: %v", err)
	}
	bars2, err := s2.LoadBars(context.Background(), "SPY", "1h", start, end)
	if err != nil {
		t.Fatalf("LoadBars: %v", err)
	}

	if len(bars1) == 0 || len(bars1) != len(bars2) {
		t.Fatalf("expected matching non-empty series, got %d and %d bars", len(bars1), len(bars2))
	}
	for i := range bars1 {
		if !bars1[i].Close.Equal(bars2[i].Close) {
			t.Fatalf("bar %d close diverged: %s vs %s", i, bars1[i].Close, bars2[i].Close)
		}
	}
}

func TestDifferentSymbolsGenerateDifferentPaths(t *testing.T) {
	logger := zap.NewNop()
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	end := start.Add(50 * time.Hour)

	s, err := data.NewStore(logger, t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	spy, _ := s.LoadBars(context.Background(), "SPY", "1h", start, end)
	qqq, _ := s.LoadBars(context.Background(), "QQQ", "1h", start, end)
	if len(spy) == 0 || len(qqq) == 0 {
		t.Fatal("expected generated bars for both symbols")
	}

	same := true
	for i := 0; i < len(spy) && i < len(qqq); i++ {
		if !spy[i].Close.Equal(qqq[i].Close) {
			same = false
			break
		}
	}
	if same {
		t.Error("expected distinct price paths for distinct symbols")
	}
}
