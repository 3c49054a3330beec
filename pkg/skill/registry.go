package skill

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/conductor-ai/conductor/pkg/fault"
)

var (
	// ErrDuplicateSkill is returned when a name is registered twice.
	ErrDuplicateSkill = errors.New("duplicate skill")
	// ErrUnknownSkill is returned when dispatching an unregistered name.
	// It is permanent and never retried.
	ErrUnknownSkill = errors.New("unknown skill")
)

// Registry holds the closed set of skills, registered explicitly at
// startup. Dispatch is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]Skill
	log    *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		skills: make(map[string]Skill),
		log:    log,
	}
}

// Register adds a skill by name. Registration happens at startup; the set
// is immutable afterwards by convention.
func (r *Registry) Register(s Skill) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.skills[s.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSkill, s.Name())
	}
	r.skills[s.Name()] = s
	return nil
}

// Get looks up a skill by name.
func (r *Registry) Get(name string) (Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[name]
	return s, ok
}

// Class returns the skill class for a name, or "" if unknown.
func (r *Registry) Class(name string) string {
	if s, ok := r.Get(name); ok {
		return s.Class()
	}
	return ""
}

// List returns metadata for all registered skills, sorted by name.
func (r *Registry) List() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Metadata, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, Metadata{Name: s.Name(), Class: s.Class(), Description: s.Description()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Dispatch executes one invocation with the given deadline. A skill fault
// never escapes as an unhandled error: panics are captured, errors are
// classified, and a timed-out invocation is recorded as a failure with
// error detail "timeout". The returned error is the classified cause (nil
// on success) so callers can decide on retry eligibility.
func (r *Registry) Dispatch(ctx context.Context, inv Invocation, sc Context, timeout time.Duration) (Result, error) {
	s, ok := r.Get(inv.Skill)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownSkill, inv.Skill)
		return Result{
			Skill:       inv.Skill,
			Status:      StatusFailure,
			ErrorDetail: err.Error(),
		}, fault.New(fault.ClassPermanent, err)
	}

	execCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		payload map[string]any
		err     error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Error("skill panicked",
					zap.String("skill", inv.Skill), zap.Any("panic", rec))
				done <- outcome{err: fault.Newf(fault.ClassPermanent, "skill %s panicked: %v", inv.Skill, rec)}
			}
		}()
		payload, err := s.Execute(execCtx, inv.Args, sc)
		done <- outcome{payload: payload, err: err}
	}()

	select {
	case <-execCtx.Done():
		return Result{Skill: inv.Skill, Status: StatusFailure, ErrorDetail: "timeout"}, execCtx.Err()
	case out := <-done:
		if out.err != nil {
			return Result{
				Skill:       inv.Skill,
				Status:      StatusFailure,
				ErrorDetail: out.err.Error(),
			}, out.err
		}
		return Result{Skill: inv.Skill, Status: StatusSuccess, Payload: out.payload}, nil
	}
}
