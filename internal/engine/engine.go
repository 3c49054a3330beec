package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/conductor-ai/conductor/pkg/config"
	"github.com/conductor-ai/conductor/pkg/fault"
	"github.com/conductor-ai/conductor/pkg/feedback"
	"github.com/conductor-ai/conductor/pkg/generation"
	"github.com/conductor-ai/conductor/pkg/memory"
	"github.com/conductor-ai/conductor/pkg/observability"
	"github.com/conductor-ai/conductor/pkg/reflection"
	"github.com/conductor-ai/conductor/pkg/skill"
)

// failureText is the fixed response for turns that reach the Failed state.
const failureText = "I wasn't able to complete that request. Please try again."

// Engine runs turns through the workflow graph. Safe for concurrent use;
// turns within one session are serialized, turns across sessions are not.
type Engine struct {
	cfg       config.EngineConfig
	mem       *memory.Manager
	registry  *skill.Registry
	gen       generation.Generator
	reflector *reflection.Engine
	agg       *feedback.Aggregator
	log       *zap.Logger
}

// New wires an engine. The transition graph is validated once here so a
// bad edit fails fast at startup rather than mid-turn.
func New(cfg config.EngineConfig, mem *memory.Manager, registry *skill.Registry, gen generation.Generator, reflector *reflection.Engine, agg *feedback.Aggregator, log *zap.Logger) (*Engine, error) {
	if err := validateGraph(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		cfg:       cfg,
		mem:       mem,
		registry:  registry,
		gen:       gen,
		reflector: reflector,
		agg:       agg,
		log:       log,
	}, nil
}

// ProcessTurn drives one turn to its terminal state and returns exactly
// one response. Every path, including Failed, appends exactly one history
// entry for the turn.
func (e *Engine) ProcessTurn(ctx context.Context, turn Turn) (Response, error) {
	release := e.mem.AcquireSession(turn.SessionID)
	defer release()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.TurnTimeout)
	defer cancel()

	ctx, span := observability.StartSpan(ctx, "engine.ProcessTurn")
	defer span.End()

	start := time.Now()
	resp, outcome := e.run(ctx, turn)
	observability.RecordTurn(outcome, string(resp.Confidence), time.Since(start))

	// History must be recorded even when the turn spent its whole deadline,
	// so persistence runs on its own budget detached from the turn context.
	persistCtx, persistCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer persistCancel()
	durable := e.mem.AppendHistory(persistCtx, turn.SessionID, turn.UserID, memory.Exchange{
		TurnID:    turn.ID,
		Input:     turn.Input,
		Response:  resp.Text,
		Timestamp: time.Now().UTC(),
	})
	if !durable {
		e.log.Warn("turn recorded in non-durable session",
			zap.String("session_id", turn.SessionID))
	}
	observability.SetLiveSessions(e.mem.Sessions())
	return resp, nil
}

// run walks the graph. It returns the response and a metric outcome label.
func (e *Engine) run(ctx context.Context, turn Turn) (Response, string) {
	memCtx := e.mem.ReadContext(ctx, turn.SessionID, turn.UserID)

	var (
		cur          = stateInterpret
		in           intent
		results      []skill.Result
		reinterprets int
		reflections  int
		hint         string
		unaccepted   bool
		err          error
	)

	for {
		switch cur {
		case stateInterpret:
			strict := reinterprets >= e.cfg.MaxReinterpret
			in, err = e.interpret(ctx, turn, memCtx, strict)
			if err != nil {
				e.log.Warn("interpretation failed",
					zap.String("turn_id", turn.ID), zap.Error(err))
				cur = e.transition(cur, stateFailed)
				continue
			}
			e.captureWorkingMemory(ctx, turn, in)
			cur = e.transition(cur, stateRoute)

		case stateRoute:
			switch {
			case in.ambiguous && reinterprets < e.cfg.MaxReinterpret:
				reinterprets++
				cur = e.transition(cur, stateInterpret)
			case in.ambiguous:
				// Bounded re-interpretation exhausted.
				cur = e.transition(cur, stateFailed)
			case len(in.invocations) == 0:
				cur = e.transition(cur, stateRespond)
			default:
				in.invocations = e.route(turn.UserID, in.invocations)
				cur = e.transition(cur, stateExecute)
			}

		case stateExecute:
			if ctx.Err() != nil {
				cur = e.transition(cur, stateFailed)
				continue
			}
			results = e.execute(ctx, turn, memCtx, in.invocations, hint)
			// The turn deadline expiring mid-execution terminates the turn
			// as failed; the per-invocation timeout alone does not.
			if ctx.Err() != nil {
				cur = e.transition(cur, stateFailed)
				continue
			}
			cur = e.transition(cur, stateReflect)

		case stateReflect:
			candidate := composeText(in, results)
			verdict := e.reflect(ctx, turn, candidate, memCtx.History)
			if !verdict.Accepted && reflections < e.cfg.MaxReflections {
				reflections++
				hint = verdict.RevisionHint
				cur = e.transition(cur, stateExecute)
				continue
			}
			// Exhausted rejections still respond, with lowered confidence.
			unaccepted = !verdict.Accepted
			cur = e.transition(cur, stateRespond)

		case stateRespond:
			resp := e.respond(ctx, turn, in, results)
			if unaccepted {
				resp.Confidence = ConfidenceLow
			}
			return resp, "success"

		case stateFailed:
			return e.fail(turn), "failure"

		default:
			e.log.Error("workflow reached undefined state", zap.String("state", string(cur)))
			return e.fail(turn), "failure"
		}
	}
}

// transition moves along a graph edge, failing the turn on an edge the
// graph does not declare.
func (e *Engine) transition(from, to state) state {
	if !canTransition(from, to) {
		e.log.Error("illegal workflow transition",
			zap.String("from", string(from)), zap.String("to", string(to)))
		return stateFailed
	}
	return to
}

// route orders invocations by routing weight (descending), breaking ties
// by configured priority and then by name, and caps the fan-out width.
// Weights nudge ordering only; they never drop an invocation on their own.
func (e *Engine) route(userID string, invocations []skill.Invocation) []skill.Invocation {
	priority := make(map[string]int, len(e.cfg.RoutePriority))
	for i, name := range e.cfg.RoutePriority {
		priority[name] = i
	}
	rank := func(name string) int {
		if r, ok := priority[name]; ok {
			return r
		}
		return len(priority)
	}

	sort.SliceStable(invocations, func(i, j int) bool {
		wi := e.agg.RoutingWeight(userID, e.registry.Class(invocations[i].Skill))
		wj := e.agg.RoutingWeight(userID, e.registry.Class(invocations[j].Skill))
		if wi != wj {
			return wi > wj
		}
		ri, rj := rank(invocations[i].Skill), rank(invocations[j].Skill)
		if ri != rj {
			return ri < rj
		}
		return invocations[i].Skill < invocations[j].Skill
	})

	if len(invocations) > e.cfg.MaxFanout {
		e.log.Warn("fan-out capped",
			zap.Int("requested", len(invocations)), zap.Int("cap", e.cfg.MaxFanout))
		invocations = invocations[:e.cfg.MaxFanout]
	}
	return invocations
}

// execute fans the invocations out concurrently and fans their results
// back in, preserving routing order. One failed invocation never aborts
// its siblings.
func (e *Engine) execute(ctx context.Context, turn Turn, memCtx memory.Context, invocations []skill.Invocation, hint string) []skill.Result {
	sc := skill.Context{UserID: turn.UserID, SessionID: turn.SessionID, Memory: memCtx}

	results := make([]skill.Result, len(invocations))
	var g errgroup.Group
	g.SetLimit(e.cfg.MaxFanout)
	for i, inv := range invocations {
		i, inv := i, inv
		if hint != "" {
			args := make(map[string]any, len(inv.Args)+1)
			for k, v := range inv.Args {
				args[k] = v
			}
			args["revision_hint"] = hint
			inv.Args = args
		}
		g.Go(func() error {
			results[i] = e.dispatchWithRetry(ctx, inv, sc)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// dispatchWithRetry runs one invocation with the per-invocation deadline
// and the transient-only retry budget. Invalid arguments and other
// permanent faults are never retried.
func (e *Engine) dispatchWithRetry(ctx context.Context, inv skill.Invocation, sc skill.Context) skill.Result {
	var (
		res skill.Result
		err error
	)
	for attempt := 0; ; attempt++ {
		inv.Attempt = attempt
		start := time.Now()
		res, err = e.registry.Dispatch(ctx, inv, sc, e.cfg.InvocationTimeout)
		observability.RecordSkillDispatch(inv.Skill, string(res.Status), time.Since(start))

		if err == nil {
			return res
		}
		if attempt >= e.cfg.MaxRetries {
			return res
		}
		if errors.Is(err, fault.ErrInvalidArguments) || !fault.Retryable(err) {
			return res
		}
		if ctx.Err() != nil {
			return res
		}
		e.log.Info("retrying skill after transient failure",
			zap.String("skill", inv.Skill), zap.Int("attempt", attempt+1), zap.Error(err))
	}
}

// reflect runs one critique pass and records the verdict.
func (e *Engine) reflect(ctx context.Context, turn Turn, candidate string, history []memory.Exchange) reflection.Verdict {
	verdict := e.reflector.Evaluate(ctx, turn.Input, candidate, history)
	switch {
	case verdict.Skipped:
		observability.RecordReflection("skipped")
	case verdict.Accepted:
		observability.RecordReflection("accepted")
	default:
		observability.RecordReflection("rejected")
	}
	return verdict
}

// respond finalizes a successful turn: derives the response text and
// confidence, merges extracted facts, and attributes skill usage for
// later feedback.
func (e *Engine) respond(ctx context.Context, turn Turn, in intent, results []skill.Result) Response {
	resp := Response{
		Text:          composeText(in, results),
		ActionResults: results,
		Confidence:    ConfidenceHigh,
	}
	for _, r := range results {
		if r.Status != skill.StatusSuccess {
			resp.Confidence = ConfidenceLow
			break
		}
	}

	if facts := factsFromResults(turn.UserID, results); len(facts) > 0 {
		if err := e.mem.MergeFacts(ctx, turn.UserID, facts); err != nil {
			e.log.Warn("fact merge degraded after turn",
				zap.String("user_id", turn.UserID), zap.Error(err))
		}
	}

	var classes []string
	for _, r := range results {
		if c := e.registry.Class(r.Skill); c != "" {
			classes = append(classes, c)
		}
	}
	e.agg.NoteUsage(turn.SessionID, turn.UserID, classes)

	return resp
}

// fail produces the fixed failure response. The turn is still recorded in
// history by ProcessTurn so the session timeline stays complete.
func (e *Engine) fail(turn Turn) Response {
	e.log.Warn("turn failed", zap.String("turn_id", turn.ID), zap.String("session_id", turn.SessionID))
	return Response{
		Text:          failureText,
		ActionResults: []skill.Result{},
		Confidence:    ConfidenceLow,
	}
}

// captureWorkingMemory stores interpreted goals and entities in session
// working memory for later turns.
func (e *Engine) captureWorkingMemory(ctx context.Context, turn Turn, in intent) {
	if len(in.goals) > 0 {
		e.mem.SetWorking(ctx, turn.SessionID, turn.UserID, "goal", in.goals[len(in.goals)-1])
	}
	if len(in.entities) > 0 {
		e.mem.SetWorking(ctx, turn.SessionID, turn.UserID, "entities", strings.Join(in.entities, ", "))
	}
}

// factsFromResults lifts "fact" payload entries into long-term memory
// facts. Skills opt in by returning a fact map; everything else is
// ignored.
func factsFromResults(userID string, results []skill.Result) []memory.Fact {
	var facts []memory.Fact
	now := time.Now().UTC()
	for _, r := range results {
		if r.Status != skill.StatusSuccess {
			continue
		}
		raw, ok := r.Payload["fact"]
		if !ok {
			continue
		}
		fm, ok := raw.(map[string]string)
		if !ok {
			// Payloads that crossed a JSON boundary arrive untyped.
			if generic, gok := raw.(map[string]any); gok {
				fm = make(map[string]string, len(generic))
				for k, v := range generic {
					if s, sok := v.(string); sok {
						fm[k] = s
					}
				}
			} else {
				continue
			}
		}
		f := memory.Fact{
			Subject:   fm["subject"],
			Predicate: fm["predicate"],
			Object:    fm["object"],
			UpdatedAt: now,
		}
		if f.Subject == "" {
			f.Subject = userID
		}
		if f.Predicate == "" || f.Object == "" {
			continue
		}
		facts = append(facts, f)
	}
	return facts
}

// composeText assembles the response text from the interpreted reply and
// the executed results.
func composeText(in intent, results []skill.Result) string {
	if in.reply != "" {
		return in.reply
	}

	var parts []string
	for _, r := range results {
		switch r.Status {
		case skill.StatusSuccess:
			parts = append(parts, describeSuccess(r))
		default:
			parts = append(parts, fmt.Sprintf("%s could not complete (%s).", r.Skill, r.ErrorDetail))
		}
	}
	if len(parts) == 0 {
		return "Understood."
	}
	return strings.Join(parts, " ")
}

func describeSuccess(r skill.Result) string {
	switch r.Skill {
	case "calendar.create_event":
		title, _ := r.Payload["title"].(string)
		when, _ := r.Payload["when"].(string)
		if when != "" {
			return fmt.Sprintf("Scheduled %q for %s.", title, when)
		}
		return fmt.Sprintf("Scheduled %q.", title)
	case "notes.append":
		return "Noted."
	default:
		return fmt.Sprintf("%s completed.", r.Skill)
	}
}
