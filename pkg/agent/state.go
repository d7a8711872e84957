package agent

import (
	"fmt"
	"time"
)

// State is a Reasoning Loop state.
type State int

const (
	StateStart State = iota
	StateThinking
	StateToolCall
	StateObserving
	StateFinished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateThinking:
		return "thinking"
	case StateToolCall:
		return "tool_call"
	case StateObserving:
		return "observing"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateFailed
}

// Observing may lead to another ToolCall when one engine reply requested several tools.
var allowedTransitions = map[State][]State{
	StateStart:     {StateThinking, StateFailed},
	StateThinking:  {StateToolCall, StateFinished, StateFailed},
	StateToolCall:  {StateObserving, StateFailed},
	StateObserving: {StateThinking, StateToolCall, StateFailed},
}

func canTransition(from, to State) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition describes one state change of a run.
type Transition struct {
	From        State     `json:"-"`
	To          State     `json:"-"`
	FromName    string    `json:"from"`
	ToName      string    `json:"to"`
	Iteration   int       `json:"iteration"`
	ToolName    string    `json:"tool_name,omitempty"`
	ToolInput   string    `json:"tool_input,omitempty"`
	Observation string    `json:"observation,omitempty"`
	Output      string    `json:"output,omitempty"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

// TransitionFunc observes transitions. It runs on the loop goroutine and must not block.
type TransitionFunc func(Transition)

type machine struct {
	state     State
	iteration int
	observe   []TransitionFunc
}

// to moves the machine to next. An illegal transition is a bug in the loop and panics.
func (m *machine) to(next State, t Transition) {
	if !canTransition(m.state, next) {
		panic(fmt.Sprintf("invalid loop transition %s -> %s", m.state, next))
	}
	t.From, t.To = m.state, next
	t.FromName, t.ToName = m.state.String(), next.String()
	t.Iteration = m.iteration
	t.At = time.Now()
	m.state = next
	for _, fn := range m.observe {
		if fn != nil {
			fn(t)
		}
	}
}
