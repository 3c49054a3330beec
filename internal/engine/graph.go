package engine

import (
	"errors"
	"fmt"
)

// state is a node in the workflow graph.
type state string

const (
	stateInterpret state = "interpret"
	stateRoute     state = "route"
	stateExecute   state = "execute"
	stateReflect   state = "reflect"
	stateRespond   state = "respond"
	stateFailed    state = "failed"
)

// ErrUnknownState is returned when the graph references an undefined node.
var ErrUnknownState = errors.New("unknown graph state")

// graph declares the permitted transitions. Keeping the edge set explicit
// makes the loop bounds (≤1 re-interpret, ≤N re-execute) mechanically
// checkable against the engine's transition choices.
var graph = map[state][]state{
	stateInterpret: {stateRoute, stateFailed},
	stateRoute:     {stateExecute, stateInterpret, stateRespond, stateFailed},
	stateExecute:   {stateReflect, stateFailed},
	stateReflect:   {stateRespond, stateExecute},
	stateRespond:   {},
	stateFailed:    {},
}

// validateGraph checks that every edge points at a defined node.
// Run once at engine construction.
func validateGraph() error {
	for from, edges := range graph {
		for _, to := range edges {
			if _, ok := graph[to]; !ok {
				return fmt.Errorf("%w: %s -> %s", ErrUnknownState, from, to)
			}
		}
	}
	return nil
}

// canTransition reports whether the edge exists in the graph.
func canTransition(from, to state) bool {
	for _, edge := range graph[from] {
		if edge == to {
			return true
		}
	}
	return false
}
