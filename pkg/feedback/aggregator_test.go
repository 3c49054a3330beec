package feedback

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/conductor-ai/conductor/pkg/config"
)

func newAggregator() *Aggregator {
	return NewAggregator(config.Default().Feedback, zap.NewNop())
}

func TestRecordValidation(t *testing.T) {
	a := newAggregator()

	tests := []struct {
		name    string
		score   int
		wantErr bool
	}{
		{"below range", 0, true},
		{"above range", 11, true},
		{"min", 1, false},
		{"max", 5, false},
		{"mid", 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.Record("s1", tt.score, "")
			if (err != nil) != tt.wantErr {
				t.Errorf("Record(%d) error = %v, wantErr %v", tt.score, err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidRating) {
				t.Errorf("error = %v, want ErrInvalidRating", err)
			}
		})
	}
}

func TestInvalidRatingLeavesStateUntouched(t *testing.T) {
	a := newAggregator()
	a.NoteUsage("s1", "u1", []string{"scheduling"})

	before := a.RoutingWeight("u1", "scheduling")
	if err := a.Record("s1", 0, ""); err == nil {
		t.Fatal("expected InvalidRating")
	}
	if a.Count() != 0 {
		t.Errorf("Count = %d after rejected rating, want 0", a.Count())
	}
	if after := a.RoutingWeight("u1", "scheduling"); after != before {
		t.Errorf("weight changed from %v to %v after rejected rating", before, after)
	}
}

func TestRoutingWeightMovesWithRatings(t *testing.T) {
	a := newAggregator()
	a.NoteUsage("s1", "u1", []string{"scheduling"})

	neutral := a.RoutingWeight("u1", "scheduling")
	if neutral != 0.5 {
		t.Fatalf("unrated weight = %v, want neutral 0.5", neutral)
	}

	if err := a.Record("s1", 5, ""); err != nil {
		t.Fatal(err)
	}
	high := a.RoutingWeight("u1", "scheduling")
	if high <= neutral {
		t.Errorf("weight after top rating = %v, want > %v", high, neutral)
	}

	for i := 0; i < 5; i++ {
		if err := a.Record("s1", 1, ""); err != nil {
			t.Fatal(err)
		}
	}
	low := a.RoutingWeight("u1", "scheduling")
	if low >= high {
		t.Errorf("weight after repeated bottom ratings = %v, want < %v", low, high)
	}
	if low < 0 || low > 1 {
		t.Errorf("weight out of bounds: %v", low)
	}
}

func TestRatingWithoutUsageStillRecorded(t *testing.T) {
	a := newAggregator()

	if err := a.Record("unknown-session", 4, "good answer"); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if a.Count() != 1 {
		t.Errorf("Count = %d, want 1", a.Count())
	}
}

func TestIdleUsagePruned(t *testing.T) {
	a := newAggregator()
	a.NoteUsage("stale", "u1", []string{"scheduling"})
	a.NoteUsage("fresh", "u2", []string{"notes"})

	a.mu.Lock()
	a.usages["stale"].seen = time.Now().UTC().Add(-time.Hour)
	a.mu.Unlock()

	// Any new attribution sweeps out entries past retention.
	a.NoteUsage("another", "u3", []string{"notes"})

	a.mu.RLock()
	defer a.mu.RUnlock()
	if _, ok := a.usages["stale"]; ok {
		t.Error("stale usage attribution survived the retention window")
	}
	if _, ok := a.usages["fresh"]; !ok {
		t.Error("fresh usage attribution was pruned")
	}
}

func TestRatingHistoryCapped(t *testing.T) {
	cfg := config.Default().Feedback
	cfg.RatingHistory = 3
	a := NewAggregator(cfg, zap.NewNop())

	for i := 0; i < 6; i++ {
		if err := a.Record(fmt.Sprintf("s%d", i), 4, ""); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	// The cap applies on the next write, keeping the newest ratings.
	if err := a.Record("s-last", 4, ""); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if got := a.Count(); got != 4 {
		t.Errorf("Count = %d, want 4 (capped history plus the newest rating)", got)
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.ratings[len(a.ratings)-1].SessionID != "s-last" {
		t.Error("newest rating missing after history trim")
	}
}

func TestWeightsAreScopedPerUserAndClass(t *testing.T) {
	a := newAggregator()
	a.NoteUsage("s1", "u1", []string{"scheduling"})
	a.NoteUsage("s2", "u2", []string{"scheduling"})

	if err := a.Record("s1", 5, ""); err != nil {
		t.Fatal(err)
	}

	if w := a.RoutingWeight("u2", "scheduling"); w != 0.5 {
		t.Errorf("other user's weight = %v, want untouched neutral", w)
	}
	if w := a.RoutingWeight("u1", "notes"); w != 0.5 {
		t.Errorf("other class weight = %v, want untouched neutral", w)
	}
}
