package skill

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/conductor-ai/conductor/pkg/fault"
)

// funcSkill adapts a function for tests.
type funcSkill struct {
	name  string
	class string
	fn    func(ctx context.Context, args map[string]any, sc Context) (map[string]any, error)
}

func (s funcSkill) Name() string        { return s.name }
func (s funcSkill) Class() string       { return s.class }
func (s funcSkill) Description() string { return "test skill" }
func (s funcSkill) Execute(ctx context.Context, args map[string]any, sc Context) (map[string]any, error) {
	return s.fn(ctx, args, sc)
}

func TestRegisterDuplicate(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	s := funcSkill{name: "echo", class: "misc", fn: func(ctx context.Context, args map[string]any, sc Context) (map[string]any, error) {
		return args, nil
	}}

	if err := reg.Register(s); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	err := reg.Register(s)
	if !errors.Is(err, ErrDuplicateSkill) {
		t.Errorf("second Register() = %v, want ErrDuplicateSkill", err)
	}
}

func TestDispatchUnknownSkill(t *testing.T) {
	reg := NewRegistry(zap.NewNop())

	res, err := reg.Dispatch(context.Background(), Invocation{Skill: "nope"}, Context{}, time.Second)
	if res.Status != StatusFailure {
		t.Errorf("Status = %v, want failure", res.Status)
	}
	if !errors.Is(err, ErrUnknownSkill) {
		t.Errorf("err = %v, want ErrUnknownSkill", err)
	}
	if fault.Retryable(err) {
		t.Error("unknown skill must not be retryable")
	}
}

func TestDispatchTimeout(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	_ = reg.Register(funcSkill{name: "slow", class: "misc", fn: func(ctx context.Context, args map[string]any, sc Context) (map[string]any, error) {
		select {
		case <-time.After(time.Second):
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}})

	start := time.Now()
	res, err := reg.Dispatch(context.Background(), Invocation{Skill: "slow"}, Context{}, 30*time.Millisecond)
	if time.Since(start) > 500*time.Millisecond {
		t.Error("dispatch did not honor the deadline")
	}
	if res.Status != StatusFailure || res.ErrorDetail != "timeout" {
		t.Errorf("result = %+v, want failure/timeout", res)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if !fault.Retryable(err) {
		t.Error("timeout should be classified transient")
	}
}

func TestDispatchCapturesPanic(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	_ = reg.Register(funcSkill{name: "boom", class: "misc", fn: func(ctx context.Context, args map[string]any, sc Context) (map[string]any, error) {
		panic("kaboom")
	}})

	res, err := reg.Dispatch(context.Background(), Invocation{Skill: "boom"}, Context{}, time.Second)
	if res.Status != StatusFailure {
		t.Errorf("Status = %v, want failure", res.Status)
	}
	if fault.Classify(err) != fault.ClassPermanent {
		t.Errorf("panic should classify permanent, got %v", fault.Classify(err))
	}
}

func TestDispatchSuccess(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	_ = reg.Register(funcSkill{name: "echo", class: "misc", fn: func(ctx context.Context, args map[string]any, sc Context) (map[string]any, error) {
		return map[string]any{"echo": args["msg"]}, nil
	}})

	res, err := reg.Dispatch(context.Background(),
		Invocation{Skill: "echo", Args: map[string]any{"msg": "hi"}}, Context{}, time.Second)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if res.Status != StatusSuccess {
		t.Errorf("Status = %v, want success", res.Status)
	}
	if res.Payload["echo"] != "hi" {
		t.Errorf("Payload = %v", res.Payload)
	}
}

func TestListSorted(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	for _, name := range []string{"zeta", "alpha", "mid"} {
		_ = reg.Register(funcSkill{name: name, class: "misc", fn: func(ctx context.Context, args map[string]any, sc Context) (map[string]any, error) {
			return nil, nil
		}})
	}

	list := reg.List()
	if len(list) != 3 {
		t.Fatalf("List() len = %d, want 3", len(list))
	}
	for i, want := range []string{"alpha", "mid", "zeta"} {
		if list[i].Name != want {
			t.Errorf("List()[%d] = %s, want %s", i, list[i].Name, want)
		}
	}
}

func TestBuiltinScheduling(t *testing.T) {
	var s SchedulingSkill

	payload, err := s.Execute(context.Background(),
		map[string]any{"title": "meeting with Alex", "when": "tomorrow 3pm"}, Context{UserID: "u1"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if payload["title"] != "meeting with Alex" {
		t.Errorf("payload = %v", payload)
	}

	_, err = s.Execute(context.Background(), map[string]any{}, Context{})
	if !errors.Is(err, fault.ErrInvalidArguments) {
		t.Errorf("missing title err = %v, want ErrInvalidArguments", err)
	}
}

func TestBuiltinNote(t *testing.T) {
	var s NoteSkill

	payload, err := s.Execute(context.Background(),
		map[string]any{"text": "prefers morning meetings"}, Context{UserID: "u1"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	fact, ok := payload["fact"].(map[string]string)
	if !ok || fact["object"] != "prefers morning meetings" {
		t.Errorf("fact payload = %v", payload["fact"])
	}

	if _, err := s.Execute(context.Background(), map[string]any{"text": "  "}, Context{}); err == nil {
		t.Error("blank note should be rejected")
	}
}

func TestDispatchConcurrent(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	for i := 0; i < 4; i++ {
		name := fmt.Sprintf("s%d", i)
		_ = reg.Register(funcSkill{name: name, class: "misc", fn: func(ctx context.Context, args map[string]any, sc Context) (map[string]any, error) {
			time.Sleep(50 * time.Millisecond)
			return map[string]any{"ok": true}, nil
		}})
	}

	start := time.Now()
	done := make(chan Result, 4)
	for i := 0; i < 4; i++ {
		go func(i int) {
			res, _ := reg.Dispatch(context.Background(),
				Invocation{Skill: fmt.Sprintf("s%d", i)}, Context{}, time.Second)
			done <- res
		}(i)
	}
	for i := 0; i < 4; i++ {
		if res := <-done; res.Status != StatusSuccess {
			t.Errorf("result %d = %+v", i, res)
		}
	}
	// True concurrency: 4×50ms of work should take ~max, not ~sum.
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("dispatches ran sequentially: %v", elapsed)
	}
}
