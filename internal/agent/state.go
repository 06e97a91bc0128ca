package agent

import (
	"sync"
	"sync/atomic"
	"time"
)

// StateKind discriminates the variant of an AgentState.
type StateKind string

const (
	// StateStarting is the agent's initial state before its consumer loop
	// has taken its first tick.
	StateStarting StateKind = "starting"

	// StateRunning is idle, waiting for a user message or a self-queued
	// thinking tick.
	StateRunning StateKind = "running"

	// StateProcessing covers both a brain call and a tool batch in
	// flight; TaskName distinguishes which.
	StateProcessing StateKind = "processing"

	// StatePaused is awaiting user input; a Brain decided the turn is
	// over, or a cancellation cut a Processing episode short.
	StatePaused StateKind = "paused"

	// StateCompleted is terminal: the agent was dropped.
	StateCompleted StateKind = "completed"

	// StateFailed is terminal: an unrecoverable error ended the agent.
	StateFailed StateKind = "failed"
)

// Processing task names, distinguishing the two kinds of in-flight work a
// Processing state can represent.
const (
	TaskThinking = "thinking"
	TaskTools    = "tools"
)

// CancelToken is a single-producer cancellation handle threaded into every
// task spawned for one Processing episode. Cancel is idempotent; Done
// mirrors context.Context's channel-based wait convention so tool/brain
// goroutines can select on it directly.
type CancelToken struct {
	once sync.Once
	done chan struct{}
	flag atomic.Bool
}

// NewCancelToken returns a fresh, uncancelled token.
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancel signals the token. Safe to call more than once or concurrently.
func (c *CancelToken) Cancel() {
	c.once.Do(func() {
		c.flag.Store(true)
		close(c.done)
	})
}

// Cancelled reports whether Cancel has been called.
func (c *CancelToken) Cancelled() bool {
	return c.flag.Load()
}

// Done returns a channel closed when Cancel is called.
func (c *CancelToken) Done() <-chan struct{} {
	return c.done
}

// AgentState is the agent's tagged-variant lifecycle state. Only the
// fields relevant to Kind are populated; zero values of the others are
// never inspected. The consumer loop is the sole mutator.
type AgentState struct {
	Kind StateKind

	// Processing fields.
	TaskName    string
	StartedAt   time.Time
	CancelToken *CancelToken

	// Completed fields.
	Success bool

	// Failed fields.
	Err error
}

// PublicState is the public mirror of AgentState: it strips the cancel
// token (an internal scheduling handle with no meaning to an external
// observer) while exposing everything else, including timestamps.
type PublicState struct {
	Kind      StateKind `json:"kind"`
	TaskName  string    `json:"task_name,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Success   bool      `json:"success,omitempty"`
	Err       string    `json:"error,omitempty"`
}

// Public projects s into its external mirror.
func (s AgentState) Public() PublicState {
	p := PublicState{
		Kind:      s.Kind,
		TaskName:  s.TaskName,
		StartedAt: s.StartedAt,
		Success:   s.Success,
	}
	if s.Err != nil {
		p.Err = s.Err.Error()
	}
	return p
}

// IsTerminal reports whether no further transitions are possible.
func (s AgentState) IsTerminal() bool {
	return s.Kind == StateCompleted || s.Kind == StateFailed
}
