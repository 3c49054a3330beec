// Package feedback records user ratings and derives routing weights.
// Weights nudge skill selection during routing; they never gate a skill.
package feedback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/conductor-ai/conductor/pkg/config"
)

// ErrInvalidRating is returned for scores outside the configured bounds.
var ErrInvalidRating = errors.New("invalid rating")

// Rating is one recorded score. Ratings are append-only.
type Rating struct {
	SessionID  string    `json:"sessionId"`
	UserID     string    `json:"userId"`
	Score      int       `json:"score"`
	Correction string    `json:"correction,omitempty"`
	Classes    []string  `json:"classes,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// usage links a session to the user and skill classes its turns exercised,
// so a later rating can be attributed. Entries idle past the retention
// window are pruned.
type usage struct {
	userID  string
	classes map[string]struct{}
	seen    time.Time
}

// Aggregator validates and stores ratings and exposes an exponentially
// weighted routing signal per user and skill class.
type Aggregator struct {
	min          int
	max          int
	smoothing    float64
	retention    time.Duration
	historyLimit int
	log          *zap.Logger

	mu      sync.RWMutex
	ratings []Rating
	usages  map[string]*usage
	weights map[string]float64 // key: userID + "\x1f" + class
}

// NewAggregator creates an aggregator with the configured rating bounds.
func NewAggregator(cfg config.FeedbackConfig, log *zap.Logger) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{
		min:          cfg.MinRating,
		max:          cfg.MaxRating,
		smoothing:    cfg.Smoothing,
		retention:    cfg.UsageRetention,
		historyLimit: cfg.RatingHistory,
		log:          log,
		usages:       make(map[string]*usage),
		weights:      make(map[string]float64),
	}
}

// pruneLocked drops usage attributions idle past the retention window and
// trims the rating history to its cap. Callers hold the write lock.
func (a *Aggregator) pruneLocked(now time.Time) {
	if a.retention > 0 {
		for id, u := range a.usages {
			if now.Sub(u.seen) > a.retention {
				delete(a.usages, id)
			}
		}
	}
	if a.historyLimit > 0 && len(a.ratings) > a.historyLimit {
		kept := make([]Rating, a.historyLimit)
		copy(kept, a.ratings[len(a.ratings)-a.historyLimit:])
		a.ratings = kept
	}
}

// NoteUsage records which skill classes a turn in this session used. The
// engine calls this on Respond so later ratings can be attributed.
func (a *Aggregator) NoteUsage(sessionID, userID string, classes []string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now().UTC()
	a.pruneLocked(now)

	u, ok := a.usages[sessionID]
	if !ok {
		u = &usage{userID: userID, classes: make(map[string]struct{})}
		a.usages[sessionID] = u
	}
	u.seen = now
	for _, c := range classes {
		if c != "" {
			u.classes[c] = struct{}{}
		}
	}
}

// Record validates and appends one rating, then folds it into the routing
// weights for every skill class the session used. Out-of-range scores fail
// with ErrInvalidRating and leave all state untouched.
func (a *Aggregator) Record(sessionID string, score int, correction string) error {
	if score < a.min || score > a.max {
		return fmt.Errorf("%w: %d outside %d..%d", ErrInvalidRating, score, a.min, a.max)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now().UTC()
	a.pruneLocked(now)

	rating := Rating{
		SessionID:  sessionID,
		Score:      score,
		Correction: correction,
		Timestamp:  now,
	}

	u, ok := a.usages[sessionID]
	if ok {
		rating.UserID = u.userID
		u.seen = now
		for c := range u.classes {
			rating.Classes = append(rating.Classes, c)
			key := u.userID + "\x1f" + c
			normalized := float64(score-a.min) / float64(a.max-a.min)
			if current, seen := a.weights[key]; seen {
				a.weights[key] = a.smoothing*normalized + (1-a.smoothing)*current
			} else {
				a.weights[key] = normalized
			}
		}
	}

	a.ratings = append(a.ratings, rating)
	a.log.Debug("rating recorded",
		zap.String("session_id", sessionID), zap.Int("score", score))
	return nil
}

// RoutingWeight returns the derived signal for a user and skill class in
// [0,1]. Unrated combinations return a neutral 0.5 so new skills are
// neither favored nor penalized.
func (a *Aggregator) RoutingWeight(userID, class string) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if w, ok := a.weights[userID+"\x1f"+class]; ok {
		return w
	}
	return 0.5
}

// Count returns how many ratings have been recorded.
func (a *Aggregator) Count() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.ratings)
}
