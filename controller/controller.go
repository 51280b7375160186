//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package controller

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"trpc.group/trpc-go/trpc-agent-ctl/agent"
	"trpc.group/trpc-go/trpc-agent-ctl/bus"
	"trpc.group/trpc-go/trpc-agent-ctl/event"
	"trpc.group/trpc-go/trpc-agent-ctl/history"
	"trpc.group/trpc-go/trpc-agent-ctl/log"
	"trpc.group/trpc-go/trpc-agent-ctl/metrics"
	"trpc.group/trpc-go/trpc-agent-ctl/model"
	"trpc.group/trpc-go/trpc-agent-ctl/replay"
)

// Params configures a new Controller. New takes this plain struct rather
// than functional options; Agent and Bus are required, and the fields
// documented below as optional may be left at their zero value.
type Params struct {
	// Agent is the LLM-backed Stepper this controller drives.
	Agent agent.Stepper
	// Bus is the shared event bus. Required.
	Bus bus.Bus
	// Limits bounds iteration/budget and supplies injectable policy hooks.
	Limits Limits
	// InitialState resumes a previously persisted State. Nil builds a fresh
	// root State from SessionID/AppName/UserID/StartID/EndID below.
	InitialState *State
	// IsDelegate marks a child controller: it does not subscribe to the
	// bus and relies on its parent to forward events via OnEvent.
	IsDelegate bool
	// Headless tightens the stuck-detector threshold and makes traffic
	// control fatal rather than pauseable. Context-window overflow is
	// handled the same way whether or not the run is headless.
	Headless bool
	// StatusCallback optionally reports classified LLM failures upstream.
	StatusCallback StatusCallback
	// Replay optionally substitutes a prerecorded action queue for the
	// agent during Step.
	Replay *replay.Manager

	// SessionID, AppName, UserID and StartID/EndID seed a fresh State when
	// InitialState is nil. EndID < 0 (or the zero value, left unset) means
	// "up to latest".
	SessionID string
	AppName   string
	UserID    string
	StartID   int64
	EndID     int64

	// DelegateAuthorizer, if set, is consulted before a delegate is
	// started; returning an error denies the delegation.
	DelegateAuthorizer func(ctx context.Context, info *event.AgentDelegate) error
	// AgentResolver, if set, resolves a named delegate agent
	// (action.Agent) to a Stepper; falls back to Agent when nil or the
	// resolver declines by returning a nil Stepper and nil error.
	AgentResolver func(agentName string) (agent.Stepper, error)
}

// Controller is the perceive-decide-act state machine driving one agent.
type Controller struct {
	mu sync.Mutex

	agent          agent.Stepper
	bus            bus.Bus
	limits         Limits
	isDelegate     bool
	headless       bool
	statusCallback StatusCallback
	replay         *replay.Manager

	delegateAuthorizer func(ctx context.Context, info *event.AgentDelegate) error
	agentResolver      func(agentName string) (agent.Stepper, error)

	state State

	subID  string
	closed bool

	delegate       *Controller
	delegateAction *event.Event

	stepCh chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Controller, rehydrating its history from the bus (§4.5) and,
// for a non-delegate, subscribing to it.
func New(ctx context.Context, p Params) (*Controller, error) {
	c := &Controller{
		agent:              p.Agent,
		bus:                p.Bus,
		limits:             p.Limits,
		isDelegate:         p.IsDelegate,
		headless:           p.Headless,
		statusCallback:     p.StatusCallback,
		replay:             p.Replay,
		delegateAuthorizer: p.DelegateAuthorizer,
		agentResolver:      p.AgentResolver,
		stepCh:             make(chan struct{}, 1),
		stopCh:             make(chan struct{}),
	}

	if p.InitialState != nil {
		c.state = *p.InitialState
	} else {
		c.state = State{
			SessionID:            p.SessionID,
			AppName:              p.AppName,
			UserID:               p.UserID,
			AgentState:           StateLoading,
			TrafficControlState:  TrafficNormal,
			ConfirmationMode:     p.Limits.ConfirmationMode,
			MaxIterations:        p.Limits.MaxIterations,
			InitialMaxIterations: p.Limits.MaxIterations,
			MaxBudget:            p.Limits.MaxBudget,
			InitialMaxBudget:     p.Limits.MaxBudget,
			StartID:              p.StartID,
			EndID:                p.EndID,
			Metrics:              metrics.New(p.AppName, p.UserID, p.SessionID),
			LocalMetrics:         metrics.New(p.AppName, p.UserID, p.SessionID),
			Outputs:              make(map[string]string),
		}
	}
	if c.state.EndID == 0 {
		c.state.EndID = -1
	}

	rebuilt, err := history.Reconstruct(ctx, c.bus, c.state.StartID, c.state.EndID, c.limits.filterOut())
	if err != nil {
		return nil, fmt.Errorf("controller: rehydrate history: %w", err)
	}
	c.state.Events = rebuilt.Events
	c.state.StartID = rebuilt.StartID

	if !p.IsDelegate {
		c.subID = c.bus.Subscribe(bus.TopicAgentController, c.OnEvent)
	}

	c.wg.Add(1)
	go c.stepLoop(ctx)

	return c, nil
}

func (c *Controller) stepLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-c.stepCh:
			c.doStep(ctx)
		}
	}
}

func (c *Controller) scheduleStep() {
	select {
	case c.stepCh <- struct{}{}:
	default:
	}
}

// Close is idempotent. If setStopped, it transitions to Stopped first (§4.1
// propagates the merge/reset side effects of that transition), then
// refreshes history by one final range query, unsubscribes (root only),
// and stops the step goroutine.
func (c *Controller) Close(ctx context.Context, setStopped bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	if setStopped {
		c.SetAgentState(ctx, StateStopped)
	}

	c.mu.Lock()
	startID, filterOut := c.state.StartID, c.limits.filterOut()
	c.mu.Unlock()

	rebuilt, err := history.Reconstruct(ctx, c.bus, startID, -1, filterOut)
	if err != nil {
		log.Errorf("controller: final history refresh: %v", err)
	} else {
		c.mu.Lock()
		c.state.Events = rebuilt.Events
		c.mu.Unlock()
	}

	if !c.isDelegate && c.subID != "" {
		c.bus.Unsubscribe(bus.TopicAgentController, c.subID)
	}

	close(c.stopCh)
	c.wg.Wait()
}

// OnEvent is the bus subscription callback (root) and the parent-to-child
// forwarding path (delegates). If a live, non-terminal delegate exists,
// every event is forwarded to it instead of being processed locally.
func (c *Controller) OnEvent(ctx context.Context, e *event.Event) {
	c.mu.Lock()
	delegate := c.delegate
	delegateTerminal := delegate != nil && delegate.GetAgentState().IsTerminal()
	c.mu.Unlock()

	if delegate != nil && !delegateTerminal {
		delegate.OnEvent(ctx, e)
		return
	}
	if delegate != nil && delegateTerminal {
		c.endDelegate(ctx)
	}

	c.handleLocal(ctx, e)
}

// handleLocal is the event-handling path of §4.1: skip hidden events,
// record non-filtered ones in history, dispatch by kind, and schedule a
// step if warranted.
func (c *Controller) handleLocal(ctx context.Context, e *event.Event) {
	if e.Hidden {
		return
	}
	// Cooperative yield so other goroutines sharing this controller's
	// resources (the step goroutine, sibling delegates) get a chance to run.
	runtime.Gosched()

	c.mu.Lock()
	if !kindFilteredOut(e.Kind, c.limits.filterOut()) {
		c.state.Events = append(c.state.Events, e)
	}
	c.mu.Unlock()

	switch {
	case e.Kind.IsAction():
		c.dispatchAction(ctx, e)
	case e.Kind.IsObservation():
		c.dispatchObservation(ctx, e)
	}

	if c.shouldStep(e) {
		c.scheduleStep()
	}
}

func kindFilteredOut(k event.Kind, filterOut []event.Kind) bool {
	for _, f := range filterOut {
		if f == k {
			return true
		}
	}
	return false
}

// shouldStep implements §4.1's ShouldStep(e).
func (c *Controller) shouldStep(e *event.Event) bool {
	c.mu.Lock()
	delegateActive := c.delegate != nil && !c.delegate.GetAgentState().IsTerminal()
	agentState := c.state.AgentState
	c.mu.Unlock()
	if delegateActive {
		return false
	}

	switch {
	case e.Kind.IsAction():
		switch e.Kind {
		case event.KindMessage:
			if e.Source == event.SourceUser {
				return true
			}
			return agentState != StateAwaitingUserInput
		case event.KindAgentDelegate, event.KindCondensation:
			return true
		default:
			return false
		}
	case e.Kind.IsObservation():
		switch e.Kind {
		case event.KindAgentStateChanged:
			return false
		case event.KindNullObservation:
			return e.Cause > 0
		default:
			return true
		}
	default:
		return false
	}
}

// dispatchAction implements §4.1's Action dispatch.
func (c *Controller) dispatchAction(ctx context.Context, e *event.Event) {
	switch e.Kind {
	case event.KindChangeAgentState:
		if cs, ok := e.Payload.(*event.ChangeState); ok && cs != nil {
			c.SetAgentState(ctx, AgentState(cs.Target))
		}
	case event.KindMessage:
		if e.Source == event.SourceUser {
			c.handleUserMessage(ctx, e)
		} else if e.WaitForResponse {
			c.SetAgentState(ctx, StateAwaitingUserInput)
		}
	case event.KindAgentDelegate:
		if d, ok := e.Payload.(*event.AgentDelegate); ok && d != nil {
			c.startDelegate(ctx, e, d)
		}
	case event.KindAgentFinish, event.KindAgentReject:
		if out, ok := e.Payload.(*event.Outcome); ok && out != nil {
			c.mu.Lock()
			c.state.Outputs = out.Outputs
			c.mergeMetricsLocked()
			c.mu.Unlock()
		}
		target := StateFinished
		if e.Kind == event.KindAgentReject {
			target = StateRejected
		}
		c.SetAgentState(ctx, target)
	}
}

// dispatchObservation implements §4.1's Observation dispatch.
func (c *Controller) dispatchObservation(ctx context.Context, e *event.Event) {
	c.mu.Lock()
	pending := c.state.PendingAction
	agentState := c.state.AgentState
	matches := pending != nil && e.Cause != 0 && pending.ID == e.Cause
	c.mu.Unlock()

	if matches {
		if agentState == StateAwaitingUserConfirmation {
			return
		}
		c.mu.Lock()
		c.state.PendingAction = nil
		c.mu.Unlock()
		switch agentState {
		case StateUserConfirmed:
			c.SetAgentState(ctx, StateRunning)
		case StateUserRejected:
			c.SetAgentState(ctx, StateAwaitingUserInput)
		}
		return
	}

	if e.Kind == event.KindError && agentState == StateError {
		c.mu.Lock()
		c.mergeMetricsLocked()
		c.mu.Unlock()
	}
}

// handleUserMessage implements §4.1's "User message" handling.
func (c *Controller) handleUserMessage(ctx context.Context, e *event.Event) {
	c.mu.Lock()
	if !c.headless {
		c.state.MaxIterations = c.state.Iteration + c.state.InitialMaxIterations
	}
	if c.state.TrafficControlState == TrafficThrottling || c.state.TrafficControlState == TrafficPaused {
		c.state.TrafficControlState = TrafficNormal
	}
	isFirst := c.state.cachedFirstUserMessage == nil
	if isFirst {
		c.state.cachedFirstUserMessage = e
	}
	c.mu.Unlock()

	recallType := event.RecallKnowledge
	if isFirst {
		recallType = event.RecallWorkspaceContext
	}
	query := ""
	if msg, ok := e.Payload.(*model.Message); ok && msg != nil {
		query = msg.Content
	}

	recall := event.New(event.SourceUser, event.KindRecall, &event.Recall{Type: recallType, Query: query})
	published, err := c.bus.AddEvent(ctx, recall, event.SourceUser)
	if err != nil {
		log.Errorf("controller: publish recall action: %v", err)
		return
	}

	c.mu.Lock()
	c.state.PendingAction = published
	c.mu.Unlock()

	c.SetAgentState(ctx, StateRunning)
}

// SetAgentState implements §4.1's transition table.
func (c *Controller) SetAgentState(ctx context.Context, newState AgentState) {
	c.mu.Lock()
	current := c.state.AgentState
	if newState == current {
		c.mu.Unlock()
		return
	}

	if newState == StateStopped || newState == StateError {
		c.mergeMetricsLocked()
	}

	if current == StatePaused && newState == StateRunning && c.state.TrafficControlState == TrafficThrottling {
		c.state.TrafficControlState = TrafficPaused
		c.state.MaxIterations += c.state.InitialMaxIterations
		c.state.MaxBudget += c.state.InitialMaxBudget
	}

	var republish *event.Event
	if c.state.PendingAction != nil && (newState == StateUserConfirmed || newState == StateUserRejected) {
		pending := c.state.PendingAction.Clone()
		pending.ID = 0
		if newState == StateUserConfirmed {
			pending.ConfirmationState = event.ConfirmationConfirmed
		} else {
			pending.ConfirmationState = event.ConfirmationRejected
		}
		republish = pending
		c.state.PendingAction = nil
	}

	var synthetic *event.Event
	resetAgent := newState == StateStopped || newState == StateError
	if resetAgent {
		synthetic = c.resetPendingLocked()
	}

	c.state.AgentState = newState
	reason := ""
	if newState == StateError {
		reason = c.state.LastError
	}
	c.mu.Unlock()

	if resetAgent {
		// Mirrors the original's _reset(), called unconditionally from
		// set_agent_state_to on every STOPPED/ERROR transition: the agent
		// must drop any conversational state it keeps outside of State
		// before it (or a future run) steps again.
		if err := c.agent.Reset(ctx); err != nil {
			log.Errorf("controller: agent reset: %v", err)
		}
	}

	if republish != nil {
		published, err := c.bus.AddEvent(ctx, republish, event.SourceAgent)
		if err != nil {
			log.Errorf("controller: republish pending action: %v", err)
		} else {
			// Restore PendingAction to the republished, ID-assigned action so
			// the eventual tool-completion Observation's Cause can match it
			// in dispatchObservation.
			c.mu.Lock()
			c.state.PendingAction = published
			c.mu.Unlock()
		}
	}
	if synthetic != nil {
		if _, err := c.bus.AddEvent(ctx, synthetic, event.SourceEnvironment); err != nil {
			log.Errorf("controller: publish synthetic error observation: %v", err)
		}
	}

	changed := event.New(event.SourceEnvironment, event.KindAgentStateChanged, &event.StateChange{Reason: reason})
	if _, err := c.bus.AddEvent(ctx, changed, event.SourceEnvironment); err != nil {
		log.Errorf("controller: publish state change: %v", err)
	}
}

// mergeMetricsLocked folds LocalMetrics into the shared Metrics ledger the
// first time a controller reaches a terminal condition. Metrics.Merge adds
// other's full accumulated cost rather than a delta, so calling it twice
// for the same LocalMetrics would double-count; the guard makes the three
// call sites (AgentFinish/Reject, a Stopped/Error transition, and a
// synthesized error observation arriving while already in StateError)
// safe to all reach in a single controller lifetime. Must be called with
// c.mu held.
func (c *Controller) mergeMetricsLocked() {
	if c.state.metricsMerged {
		return
	}
	c.state.Metrics.Merge(c.state.LocalMetrics)
	c.state.metricsMerged = true
}

// resetPendingLocked clears PendingAction and, if it carried tool-call
// metadata with no matching observation already in history, returns a
// synthetic Error observation bearing that metadata so the agent can
// correlate. Must be called with c.mu held.
func (c *Controller) resetPendingLocked() *event.Event {
	pending := c.state.PendingAction
	c.state.PendingAction = nil
	if pending == nil || pending.ToolCallMetadata == "" {
		return nil
	}
	for _, e := range c.state.Events {
		if e.Kind.IsObservation() && e.ToolCallMetadata == pending.ToolCallMetadata {
			return nil
		}
	}
	return event.NewErrorObservation(event.SourceEnvironment, "action reset before completion", pending.ID, pending.ToolCallMetadata)
}

// GetState returns a deep-enough copy of the current State: the Events and
// Outputs collections are copied so callers cannot mutate the controller's
// own slices/maps.
func (c *Controller) GetState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copyStateLocked()
}

func (c *Controller) copyStateLocked() State {
	s := c.state
	s.Events = append([]*event.Event(nil), c.state.Events...)
	outputs := make(map[string]string, len(c.state.Outputs))
	for k, v := range c.state.Outputs {
		outputs[k] = v
	}
	s.Outputs = outputs
	return s
}

// GetAgentState returns the controller's current AgentState.
func (c *Controller) GetAgentState() AgentState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.AgentState
}

// GetTrajectory returns the controller's history. Call after Close for the
// settled, final trajectory.
func (c *Controller) GetTrajectory() []*event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*event.Event(nil), c.state.Events...)
}
