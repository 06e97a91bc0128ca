package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shai-run/agentcore/internal/claims"
	"github.com/shai-run/agentcore/internal/observability"
	"github.com/shai-run/agentcore/internal/tooling"
	"github.com/shai-run/agentcore/pkg/models"
	"go.opentelemetry.io/otel/trace"
)

// Processing task names a Controller assigns to its CancelToken, on top of
// the two named in state.go: a goal-check call is its own named episode so
// a StopCurrentTask mid-check cancels it the same way a thinking call
// would be cancelled.
const TaskGoalCheck = "goal_check"

const defaultGoalCheckSystem = "Decide whether the user's request has been fully satisfied by the conversation so far. " +
	"If more work remains, call the tools needed to continue it. If nothing more is needed, reply with no tool calls."

// PermissionResponseKind is the external answer to a PermissionRequired
// broadcast event.
type PermissionResponseKind string

const (
	PermissionAllow       PermissionResponseKind = "allow"
	PermissionAllowAlways PermissionResponseKind = "allow_always"
	PermissionDeny        PermissionResponseKind = "deny"
)

// PermissionRequest is what the controller surfaces to an observer when a
// tool call needs a permission decision it cannot answer from the claim
// manager alone.
type PermissionRequest struct {
	Call    models.ToolCall
	Preview *tooling.Result
}

// AgentRequest is the external control surface's tagged union: every
// concrete type below implements it and is delivered to the consumer loop
// over Controller's single request channel, preserving submission order.
type AgentRequest interface{ isAgentRequest() }

// SendUserInputRequest appends a user message and, if the agent is idle,
// starts a thinking episode.
type SendUserInputRequest struct{ Input string }

// StopCurrentTaskRequest cancels whatever Processing episode is in flight;
// a no-op when the agent is already idle.
type StopCurrentTaskRequest struct{}

// RespondPermissionRequest answers the currently active PermissionRequired
// event. RequestID must match it exactly; a stale or unknown id is ignored.
type RespondPermissionRequest struct {
	RequestID string
	Response  PermissionResponseKind
}

// SetToolCallMethodRequest changes which Tool-Call Strategy future brain
// calls use.
type SetToolCallMethodRequest struct{ Method ToolCallMethod }

// SudoRequest toggles the claim manager's blanket bypass.
type SudoRequest struct{ On bool }

// GetStateRequest asks the consumer loop to reply with its current public
// state; it never itself causes a transition.
type GetStateRequest struct{ Reply chan PublicState }

// DropRequest ends the agent. Valid only from Running or Paused; see the
// transition table in state.go's package doc.
type DropRequest struct{}

func (SendUserInputRequest) isAgentRequest()      {}
func (StopCurrentTaskRequest) isAgentRequest()    {}
func (RespondPermissionRequest) isAgentRequest()  {}
func (SetToolCallMethodRequest) isAgentRequest()  {}
func (SudoRequest) isAgentRequest()               {}
func (GetStateRequest) isAgentRequest()           {}
func (DropRequest) isAgentRequest()               {}

// internalEvent is the consumer loop's other input stream: results posted
// back by tasks the loop itself spawned (a brain call, a tool batch).
type internalEvent interface{ isInternalEvent() }

type brainResultEvent struct {
	result *BrainResult
	err    error
}

type goalCheckResultEvent struct {
	result *BrainResult
	err    error
}

type toolCompletedEvent struct {
	batchID uint64
	index   int
	call    models.ToolCall
	result  *models.ToolResult
}

func (brainResultEvent) isInternalEvent()    {}
func (goalCheckResultEvent) isInternalEvent() {}
func (toolCompletedEvent) isInternalEvent()  {}

// permissionNeededMsg is sent by a tool-execution goroutine to the
// consumer loop when the claim manager doesn't already permit a call; the
// loop owns FIFO ordering and resolves resultCh once an answer arrives.
type permissionNeededMsg struct {
	call     models.ToolCall
	preview  *tooling.Result
	resultCh chan PermissionResponseKind
}

type pendingPermission struct {
	id       string
	call     models.ToolCall
	preview  *tooling.Result
	resultCh chan PermissionResponseKind
}

// ControllerEventType discriminates ControllerEvent's variant.
type ControllerEventType string

const (
	EventStatusChanged      ControllerEventType = "status_changed"
	EventThinkingStart      ControllerEventType = "thinking_start"
	EventBrainResult        ControllerEventType = "brain_result"
	EventToolCallStarted    ControllerEventType = "tool_call_started"
	EventToolCallCompleted  ControllerEventType = "tool_call_completed"
	EventUserInput          ControllerEventType = "user_input"
	EventUserInputRequired  ControllerEventType = "user_input_required"
	EventPermissionRequired ControllerEventType = "permission_required"
	EventError              ControllerEventType = "error"
	EventCompleted          ControllerEventType = "completed"
)

// ControllerEvent is the broadcast stream's single wire shape; only the
// fields relevant to Type are populated rather than introducing a parallel
// Go sum-type encoding for what is fundamentally the same kind of event.
type ControllerEvent struct {
	Seq       uint64
	Time      time.Time
	Type      ControllerEventType
	OldState  StateKind
	NewState  StateKind
	Message   *models.Message
	Call      *models.ToolCall
	Result    *models.ToolResult
	Duration  time.Duration
	Input     string
	RequestID string
	Request   *PermissionRequest
	Success   bool
	Err       error
}

type subscriber struct {
	ch      chan ControllerEvent
	dropped uint64
}

// ControllerConfig configures a Controller's brain and optional ambient
// stack hooks.
type ControllerConfig struct {
	Model     string
	System    string
	MaxTokens int

	// ToolCallMethod selects the initial Tool-Call Strategy; SetToolCallMethod
	// changes it at runtime. Defaults to ToolCallTryAll.
	ToolCallMethod ToolCallMethod

	// GoalCheck enables the opt-in post-turn brain call described in
	// spec's Open Questions: before pausing on a tool-call-free assistant
	// message, ask the brain once more whether the goal is actually met.
	GoalCheck bool

	// GoalCheckSystem overrides the system prompt used for that extra
	// call; defaultGoalCheckSystem is used when empty.
	GoalCheckSystem string

	// ResultGuard redacts secrets from and truncates tool output before it
	// is appended to the trace or broadcast. Its zero value is inactive.
	ResultGuard ToolResultGuard

	// RequestBuffer sizes the external request / internal event channels.
	RequestBuffer int

	// EventBuffer sizes each Subscribe call's default channel when 0 is
	// passed to it.
	EventBuffer int

	Logger  *observability.Logger
	Tracer  *observability.Tracer
	Metrics *observability.Metrics
}

// Controller is the agent's external control surface plus its
// single-threaded decision-cycle consumer loop. All state mutation and
// claim-manager sudo upgrades happen inside that one goroutine; everything
// else communicates with it exclusively through channels.
type Controller struct {
	cfg          ControllerConfig
	brain        Brain
	providerName string
	registry     *ToolRegistry
	manager      *claims.Manager

	requests         chan AgentRequest
	internalEvents   chan internalEvent
	permissionNeeded chan permissionNeededMsg
	done             chan struct{}

	mu          sync.RWMutex
	subscribers []*subscriber
	seq         uint64
	reqCounter  uint64

	// Fields below are owned exclusively by the consumer-loop goroutine
	// once Run starts; nothing outside it may read or write them.
	state            AgentState
	trace            []models.Message
	pendingCalls     []models.ToolCall
	pendingResults   []*models.ToolResult
	remainingTools   int
	currentBatchID   uint64
	permissionQueue  []*pendingPermission
	activePermission *pendingPermission
	processingSpan   trace.Span
}

// NewController builds a Controller wired to provider through a
// DefaultBrain, registry for tool dispatch, and manager for the permission
// model. Run must be called to start its consumer loop.
func NewController(provider LLMProvider, registry *ToolRegistry, manager *claims.Manager, cfg ControllerConfig) *Controller {
	if cfg.RequestBuffer <= 0 {
		cfg.RequestBuffer = 32
	}
	if cfg.GoalCheckSystem == "" {
		cfg.GoalCheckSystem = defaultGoalCheckSystem
	}
	if cfg.ToolCallMethod == "" {
		cfg.ToolCallMethod = ToolCallTryAll
	}

	brain := NewDefaultBrain(provider, BrainConfig{
		Model:     cfg.Model,
		System:    cfg.System,
		MaxTokens: cfg.MaxTokens,
		Method:    cfg.ToolCallMethod,
	})

	providerName := ""
	if provider != nil {
		providerName = provider.Name()
	}

	return &Controller{
		cfg:              cfg,
		brain:            brain,
		providerName:     providerName,
		registry:         registry,
		manager:          manager,
		requests:         make(chan AgentRequest, cfg.RequestBuffer),
		internalEvents:   make(chan internalEvent, cfg.RequestBuffer),
		permissionNeeded: make(chan permissionNeededMsg, cfg.RequestBuffer),
		done:             make(chan struct{}),
		state:            AgentState{Kind: StateStarting},
	}
}

// Subscribe registers a new broadcast listener. The returned channel is
// bounded and lossy: a slow observer drops events rather than stalling the
// consumer loop (events carry a monotonic Seq so an observer can detect
// gaps and resync via GetState). The returned func unsubscribes.
func (c *Controller) Subscribe(buffer int) (<-chan ControllerEvent, func()) {
	if buffer <= 0 {
		buffer = c.cfg.EventBuffer
	}
	if buffer <= 0 {
		buffer = 64
	}
	sub := &subscriber{ch: make(chan ControllerEvent, buffer)}
	c.mu.Lock()
	c.subscribers = append(c.subscribers, sub)
	c.mu.Unlock()

	return sub.ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.subscribers {
			if s == sub {
				c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
				close(sub.ch)
				return
			}
		}
	}
}

// Done is closed once the consumer loop has returned (terminal state
// reached or its context cancelled).
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) send(req AgentRequest) error {
	select {
	case c.requests <- req:
		return nil
	case <-c.done:
		return ErrSessionClosed
	}
}

// SendUserInput submits a user message to the agent.
func (c *Controller) SendUserInput(input string) error {
	return c.send(SendUserInputRequest{Input: input})
}

// StopCurrentTask cancels the in-flight Processing episode, if any.
func (c *Controller) StopCurrentTask() error {
	return c.send(StopCurrentTaskRequest{})
}

// RespondPermission answers a pending PermissionRequired event.
func (c *Controller) RespondPermission(requestID string, response PermissionResponseKind) error {
	return c.send(RespondPermissionRequest{RequestID: requestID, Response: response})
}

// SetToolCallMethod changes the Tool-Call Strategy used by future brain calls.
func (c *Controller) SetToolCallMethod(method ToolCallMethod) error {
	return c.send(SetToolCallMethodRequest{Method: method})
}

// Sudo switches the claim manager's bypass on.
func (c *Controller) Sudo() error {
	return c.send(SudoRequest{On: true})
}

// Drop ends the agent (Running/Paused only; see the transition table).
func (c *Controller) Drop() error {
	return c.send(DropRequest{})
}

// GetState returns the agent's current public state.
func (c *Controller) GetState() (PublicState, error) {
	reply := make(chan PublicState, 1)
	if err := c.send(GetStateRequest{Reply: reply}); err != nil {
		return PublicState{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-c.done:
		return PublicState{}, ErrSessionClosed
	}
}

// Run starts the consumer loop and blocks until ctx is cancelled or the
// agent reaches a terminal state. Callers typically invoke it in its own
// goroutine.
func (c *Controller) Run(ctx context.Context) {
	defer close(c.done)
	c.transition(ctx, AgentState{Kind: StateRunning})

	for {
		select {
		case <-ctx.Done():
			c.transition(ctx, AgentState{Kind: StateFailed, Err: ctx.Err()})
			c.emit(ControllerEvent{Type: EventError, Err: ctx.Err()})
			return
		case req := <-c.requests:
			c.handleRequest(ctx, req)
		case ev := <-c.internalEvents:
			c.handleInternalEvent(ctx, ev)
		case msg := <-c.permissionNeeded:
			c.handlePermissionNeeded(msg)
		}
		if c.state.IsTerminal() {
			return
		}
	}
}

func (c *Controller) handleRequest(ctx context.Context, req AgentRequest) {
	switch r := req.(type) {
	case SendUserInputRequest:
		if c.state.Kind != StateRunning && c.state.Kind != StatePaused {
			c.logIgnored(ctx, "send_user_input")
			return
		}
		c.appendTrace(models.NewTextMessage(models.RoleUser, r.Input))
		c.emit(ControllerEvent{Type: EventUserInput, Input: r.Input})
		c.startThinking(ctx)

	case StopCurrentTaskRequest:
		if c.state.Kind != StateProcessing {
			return
		}
		c.cancelProcessing(ctx)

	case RespondPermissionRequest:
		c.handleRespondPermission(r)

	case SetToolCallMethodRequest:
		if setter, ok := c.brain.(interface{ SetMethod(ToolCallMethod) }); ok {
			setter.SetMethod(r.Method)
		}

	case SudoRequest:
		c.manager.SetSudo(r.On)

	case GetStateRequest:
		r.Reply <- c.state.Public()

	case DropRequest:
		if c.state.Kind != StateRunning && c.state.Kind != StatePaused {
			c.logIgnored(ctx, "drop")
			return
		}
		c.transition(ctx, AgentState{Kind: StateCompleted, Success: true})
		c.emit(ControllerEvent{Type: EventCompleted, Success: true})

	default:
		c.logIgnored(ctx, fmt.Sprintf("%T", req))
	}
}

func (c *Controller) handleInternalEvent(ctx context.Context, ev internalEvent) {
	switch e := ev.(type) {
	case brainResultEvent:
		if c.state.Kind != StateProcessing || c.state.TaskName != TaskThinking {
			return // stale: a StopCurrentTask already moved us on
		}
		c.onBrainResult(ctx, e.result, e.err)

	case goalCheckResultEvent:
		if c.state.Kind != StateProcessing || c.state.TaskName != TaskGoalCheck {
			return
		}
		c.onGoalCheckResult(ctx, e.result, e.err)

	case toolCompletedEvent:
		if e.batchID != c.currentBatchID {
			return // stale: batch was cancelled
		}
		c.pendingResults[e.index] = e.result
		c.remainingTools--
		c.emit(ControllerEvent{Type: EventToolCallCompleted, Call: &e.call, Result: e.result})
		if c.remainingTools == 0 {
			c.finishToolBatch(ctx)
		}
	}
}

func (c *Controller) onBrainResult(ctx context.Context, result *BrainResult, err error) {
	c.recordLLMRequest(err)
	if err != nil {
		c.transition(ctx, AgentState{Kind: StatePaused})
		c.emit(ControllerEvent{Type: EventError, Err: err})
		return
	}

	c.emit(ControllerEvent{Type: EventBrainResult, Message: &result.Message})
	c.appendTrace(result.Message)

	if len(result.Message.ToolCalls) > 0 {
		c.startToolBatch(ctx, result.Message.ToolCalls)
		return
	}

	if c.cfg.GoalCheck && result.Flow == FlowPause {
		c.startGoalCheck(ctx)
		return
	}

	c.transition(ctx, AgentState{Kind: StatePaused})
	c.emit(ControllerEvent{Type: EventCompleted, Success: true, Message: &result.Message})
}

func (c *Controller) onGoalCheckResult(ctx context.Context, result *BrainResult, err error) {
	c.recordLLMRequest(err)
	if err != nil || result.Flow == FlowPause {
		c.transition(ctx, AgentState{Kind: StatePaused})
		c.emit(ControllerEvent{Type: EventCompleted, Success: err == nil})
		return
	}
	// The brain still sees work to do: behave as if Running had been
	// re-entered and start a fresh thinking episode, folding in whatever
	// tool calls it already decided on.
	c.appendTrace(result.Message)
	if len(result.Message.ToolCalls) > 0 {
		c.startToolBatch(ctx, result.Message.ToolCalls)
		return
	}
	c.transition(ctx, AgentState{Kind: StateRunning})
	c.startThinking(ctx)
}

func (c *Controller) startThinking(ctx context.Context) {
	cancel := NewCancelToken()
	c.transition(ctx, AgentState{Kind: StateProcessing, TaskName: TaskThinking, StartedAt: time.Now(), CancelToken: cancel})
	c.emit(ControllerEvent{Type: EventThinkingStart})

	snapshot := append([]models.Message(nil), c.trace...)
	tools := c.toolSpecs()
	brain := c.brain

	go func() {
		result, err := brain.Decide(ctx, snapshot, tools)
		select {
		case c.internalEvents <- brainResultEvent{result: result, err: err}:
		case <-cancel.Done():
		}
	}()
}

func (c *Controller) startGoalCheck(ctx context.Context) {
	cancel := NewCancelToken()
	c.transition(ctx, AgentState{Kind: StateProcessing, TaskName: TaskGoalCheck, StartedAt: time.Now(), CancelToken: cancel})

	snapshot := append([]models.Message(nil), c.trace...)
	snapshot = append(snapshot, models.NewTextMessage(models.RoleUser, c.cfg.GoalCheckSystem))
	tools := c.toolSpecs()
	brain := c.brain

	go func() {
		result, err := brain.Decide(ctx, snapshot, tools)
		select {
		case c.internalEvents <- goalCheckResultEvent{result: result, err: err}:
		case <-cancel.Done():
		}
	}()
}

func (c *Controller) startToolBatch(ctx context.Context, calls []models.ToolCall) {
	cancel := NewCancelToken()
	c.currentBatchID++
	batchID := c.currentBatchID
	c.pendingCalls = calls
	c.pendingResults = make([]*models.ToolResult, len(calls))
	c.remainingTools = len(calls)
	c.transition(ctx, AgentState{Kind: StateProcessing, TaskName: TaskTools, StartedAt: time.Now(), CancelToken: cancel})

	for i, call := range calls {
		i, call := i, call
		go func() {
			result := c.executeOneCall(ctx, call, cancel)
			select {
			case c.internalEvents <- toolCompletedEvent{batchID: batchID, index: i, call: call, result: result}:
			case <-cancel.Done():
			}
		}()
	}
}

// executeOneCall runs the permission gate then dispatches call, honoring
// cancel at both the permission wait and the dispatch itself. It never
// mutates controller state directly; everything it learns is reported
// back through internalEvents/permissionNeeded so the consumer loop stays
// the single writer.
func (c *Controller) executeOneCall(ctx context.Context, call models.ToolCall, cancel *CancelToken) *models.ToolResult {
	c.emit(ControllerEvent{Type: EventToolCallStarted, Call: &call})
	start := time.Now()

	if !c.manager.IsPermitted(call.Name, call.Arguments) {
		preview, _ := c.registry.Preview(ctx, call.Name, call.Arguments)
		resp, err := c.requestPermission(ctx, call, preview, cancel)
		if err != nil || resp == PermissionDeny {
			result := &models.ToolResult{ToolCallID: call.ID, Content: "permission denied", IsError: true}
			c.recordToolExecution(call.Name, "denied", time.Since(start))
			c.emit(ControllerEvent{Type: EventToolCallCompleted, Call: &call, Result: result, Duration: time.Since(start)})
			return result
		}
	}

	select {
	case <-cancel.Done():
		result := &models.ToolResult{ToolCallID: call.ID, Content: "cancelled", IsError: true}
		c.recordToolExecution(call.Name, "cancelled", time.Since(start))
		return result
	default:
	}

	out, err := c.registry.Dispatch(ctx, call.Name, call.Arguments)
	var result models.ToolResult
	result.ToolCallID = call.ID
	switch {
	case err != nil:
		result.Content = err.Error()
		result.IsError = true
	case !out.Success:
		result.Content = out.Error
		result.IsError = true
		result.Metadata = out.Metadata
	default:
		result.Content = out.Output
		result.Metadata = out.Metadata
	}

	result = c.cfg.ResultGuard.Apply(call.Name, result)

	status := "success"
	if result.IsError {
		status = "error"
	}
	c.recordToolExecution(call.Name, status, time.Since(start))

	c.emit(ControllerEvent{Type: EventToolCallCompleted, Call: &call, Result: &result, Duration: time.Since(start)})
	return &result
}

// recordToolExecution reports tool dispatch latency to the configured
// Metrics sink, a no-op when none is wired.
func (c *Controller) recordToolExecution(toolName, status string, d time.Duration) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordToolExecution(toolName, status, d.Seconds())
	}
}

// recordLLMRequest reports one brain round-trip's latency to the configured
// Metrics sink, a no-op when none is wired. Token counts aren't captured
// here since they belong to the specific BrainResult, not the error path
// shared between onBrainResult and onGoalCheckResult.
func (c *Controller) recordLLMRequest(err error) {
	if c.cfg.Metrics == nil {
		return
	}
	if c.state.Kind != StateProcessing {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.cfg.Metrics.RecordLLMRequest(c.providerName, c.cfg.Model, status, time.Since(c.state.StartedAt).Seconds(), 0, 0)
}

// requestPermission blocks the calling (tool-execution) goroutine until
// the consumer loop resolves a permission decision for call, or cancel
// fires first.
func (c *Controller) requestPermission(ctx context.Context, call models.ToolCall, preview *tooling.Result, cancel *CancelToken) (PermissionResponseKind, error) {
	resultCh := make(chan PermissionResponseKind, 1)
	msg := permissionNeededMsg{call: call, preview: preview, resultCh: resultCh}

	select {
	case c.permissionNeeded <- msg:
	case <-cancel.Done():
		return PermissionDeny, ErrUserInputCancelled
	case <-ctx.Done():
		return PermissionDeny, ctx.Err()
	}

	select {
	case resp := <-resultCh:
		return resp, nil
	case <-cancel.Done():
		return PermissionDeny, ErrUserInputCancelled
	case <-ctx.Done():
		return PermissionDeny, ctx.Err()
	}
}

func (c *Controller) handlePermissionNeeded(msg permissionNeededMsg) {
	id := fmt.Sprintf("perm-%d", atomic.AddUint64(&c.reqCounter, 1))
	c.permissionQueue = append(c.permissionQueue, &pendingPermission{
		id: id, call: msg.call, preview: msg.preview, resultCh: msg.resultCh,
	})
	if c.activePermission == nil {
		c.popNextPermission()
	}
}

// popNextPermission surfaces the queue's head as the one active modal;
// FIFO order and "one modal at a time" are both enforced by never emitting
// a second PermissionRequired before the active one resolves.
func (c *Controller) popNextPermission() {
	if len(c.permissionQueue) == 0 {
		c.activePermission = nil
		return
	}
	c.activePermission, c.permissionQueue = c.permissionQueue[0], c.permissionQueue[1:]
	call := c.activePermission.call
	c.emit(ControllerEvent{
		Type:      EventPermissionRequired,
		RequestID: c.activePermission.id,
		Request:   &PermissionRequest{Call: call, Preview: c.activePermission.preview},
	})
}

func (c *Controller) handleRespondPermission(r RespondPermissionRequest) {
	if c.activePermission == nil || c.activePermission.id != r.RequestID {
		return
	}
	if r.Response == PermissionAllowAlways {
		c.manager.SetSudo(true)
	}
	c.activePermission.resultCh <- r.Response
	c.activePermission = nil
	c.popNextPermission()
}

// cancelProcessing signals the active Processing episode's cancel token,
// drops any still-pending tool batch, and synthesizes a "cancelled" Tool
// message (per this implementation's Open Question decision, recorded in
// DESIGN.md) for every call that had not yet produced a result, keeping
// already-completed results instead of discarding them.
func (c *Controller) cancelProcessing(ctx context.Context) {
	if c.state.CancelToken != nil {
		c.state.CancelToken.Cancel()
	}

	if c.state.TaskName == TaskTools {
		for i, call := range c.pendingCalls {
			if res := c.pendingResults[i]; res != nil {
				c.appendTrace(models.NewToolResultMessage(call.ID, res.Content, res.IsError))
			} else {
				c.appendTrace(models.NewToolResultMessage(call.ID, "cancelled", true))
			}
		}
		c.pendingCalls = nil
		c.pendingResults = nil
		c.remainingTools = 0
		c.currentBatchID++ // invalidate any still-inflight toolCompletedEvent
	}

	if c.activePermission != nil {
		c.activePermission.resultCh <- PermissionDeny
		c.activePermission = nil
	}
	for _, p := range c.permissionQueue {
		p.resultCh <- PermissionDeny
	}
	c.permissionQueue = nil

	c.transition(ctx, AgentState{Kind: StatePaused})
	c.emit(ControllerEvent{Type: EventCompleted, Success: false})
}

func (c *Controller) finishToolBatch(ctx context.Context) {
	for i, call := range c.pendingCalls {
		res := c.pendingResults[i]
		c.appendTrace(models.NewToolResultMessage(call.ID, res.Content, res.IsError))
	}
	c.pendingCalls = nil
	c.pendingResults = nil
	c.transition(ctx, AgentState{Kind: StateRunning})
	c.startThinking(ctx)
}

func (c *Controller) appendTrace(m models.Message) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	c.trace = append(c.trace, m)
}

func (c *Controller) toolSpecs() []ToolSpec {
	tools := c.registry.List()
	specs := make([]ToolSpec, 0, len(tools))
	for _, t := range tools {
		specs = append(specs, ToolSpec{Name: t.Name(), Description: t.Description(), Schema: t.ParameterSchema()})
	}
	return specs
}

func (c *Controller) transition(ctx context.Context, next AgentState) {
	old := c.state
	c.state = next
	if c.cfg.Logger != nil {
		c.cfg.Logger.Debug(ctx, "agent state transition", "old_state", string(old.Kind), "new_state", string(next.Kind), "task", next.TaskName)
	}
	if old.Kind != next.Kind {
		c.emit(ControllerEvent{Type: EventStatusChanged, OldState: old.Kind, NewState: next.Kind})
	}
	c.trackProcessingSpan(ctx, old, next)
}

// trackProcessingSpan opens an OpenTelemetry span for the duration of a
// Processing episode (thinking, goal-check, or a tool batch) and closes it
// the moment the state machine leaves Processing, regardless of whether
// that happened by completion or cancellation.
func (c *Controller) trackProcessingSpan(ctx context.Context, old, next AgentState) {
	if c.cfg.Tracer == nil {
		return
	}
	enteringProcessing := next.Kind == StateProcessing && old.Kind != StateProcessing
	leavingProcessing := old.Kind == StateProcessing && next.Kind != StateProcessing
	taskChanged := old.Kind == StateProcessing && next.Kind == StateProcessing && old.TaskName != next.TaskName
	if (leavingProcessing || taskChanged) && c.processingSpan != nil {
		c.processingSpan.End()
		c.processingSpan = nil
	}
	if enteringProcessing || taskChanged {
		_, span := c.cfg.Tracer.Start(ctx, "agent.processing."+next.TaskName)
		c.processingSpan = span
	}
}

func (c *Controller) logIgnored(ctx context.Context, what string) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Debug(ctx, "ignored illegal agent request", "request", what, "state", string(c.state.Kind))
	}
}

func (c *Controller) emit(ev ControllerEvent) {
	ev.Seq = atomic.AddUint64(&c.seq, 1)
	ev.Time = time.Now()

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, sub := range c.subscribers {
		select {
		case sub.ch <- ev:
		default:
			atomic.AddUint64(&sub.dropped, 1)
		}
	}
}
