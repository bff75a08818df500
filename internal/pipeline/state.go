package pipeline

import "fmt"

// State is one step of an analysis call.
type State string

const (
	StateInit          State = "INIT"
	StateBuildRequest  State = "BUILD_REQUEST"
	StateTryAugmented  State = "TRY_AUGMENTED"
	StateSuccess       State = "SUCCESS"
	StateFallback      State = "FALLBACK"
	StateTryToolLess   State = "TRY_TOOL_LESS"
	StateParse         State = "PARSE"
	StateDone          State = "DONE"
	StateError         State = "ERROR"
)

// transitions is the only place that lists legal edges. Every fallback
// trigger lands on StateFallback; only the tool-less path may reach StateError
// with a model failure.
var transitions = map[State][]State{
	StateInit:         {StateBuildRequest, StateError},
	StateBuildRequest: {StateTryAugmented, StateFallback, StateError},
	StateTryAugmented: {StateSuccess, StateFallback, StateError},
	StateSuccess:      {StateParse, StateError},
	StateFallback:     {StateTryToolLess, StateError},
	StateTryToolLess:  {StateParse, StateError},
	StateParse:        {StateDone, StateError},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no edge leaves s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// machine tracks one call's progress. It is never shared between calls.
type machine struct {
	state   State
	history []State
}

func newMachine() *machine {
	return &machine{state: StateInit, history: []State{StateInit}}
}

// advance panics on an edge missing from transitions; that is a programming
// error, not a runtime failure.
func (m *machine) advance(to State) {
	if !canTransition(m.state, to) {
		panic(fmt.Sprintf("pipeline: illegal transition %s -> %s", m.state, to))
	}
	m.state = to
	m.history = append(m.history, to)
}
