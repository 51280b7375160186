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

	"trpc.group/trpc-go/trpc-agent-ctl/agent"
	"trpc.group/trpc-go/trpc-agent-ctl/event"
	"trpc.group/trpc-go/trpc-agent-ctl/history"
	"trpc.group/trpc-go/trpc-agent-ctl/log"
	"trpc.group/trpc-go/trpc-agent-ctl/stuckdetect"
)

// stateView is the read-only agent.State snapshot passed into agent.Step.
// It decouples the agent call from c.state's mutex: doStep takes a point-in-
// time copy of the history slice header before calling Step, so a
// concurrently-arriving event (appended on the bus-dispatch path) never
// races with the agent reading it mid-call.
type stateView struct{ events []*event.Event }

func (v *stateView) History() []*event.Event { return v.events }

// doStep implements §4.1's Step, guarded by state==Running and
// pending_action==nil.
func (c *Controller) doStep(ctx context.Context) {
	c.mu.Lock()
	if c.state.AgentState != StateRunning || c.state.PendingAction != nil {
		c.mu.Unlock()
		return
	}
	historySnapshot := append([]*event.Event(nil), c.state.Events...)
	iteration := c.state.Iteration
	maxIterations := c.state.MaxIterations
	maxBudget := c.state.MaxBudget
	c.mu.Unlock()

	// Budget is enforced against the whole delegate tree's spend so far:
	// Metrics holds what finished delegates (and this controller's own
	// prior terminal transitions) have already merged in, LocalMetrics
	// holds this controller's own running total not yet merged.
	sharedCost, _ := c.state.Metrics.Snapshot()
	localCost, _ := c.state.LocalMetrics.Snapshot()
	cost := sharedCost + localCost

	if maxIterations > 0 && iteration >= maxIterations {
		c.applyTrafficControl(ctx, "maximum iteration count reached")
		return
	}
	if maxBudget > 0 && cost >= maxBudget {
		c.applyTrafficControl(ctx, "maximum budget reached")
		return
	}

	detect := stuckdetect.Detect
	if c.limits.StuckDetect != nil {
		detect = stuckdetect.Func(c.limits.StuckDetect)
	}
	if detect(historySnapshot, c.headless) {
		c.failStuckInLoop(ctx)
		return
	}

	c.mu.Lock()
	c.state.Iteration++
	c.state.LocalIteration++
	c.mu.Unlock()

	var (
		action   *event.Event
		err      error
		replayed bool
	)
	if c.replay != nil && c.replay.ShouldReplay() {
		action = c.replay.Step()
		replayed = true
	} else {
		action, err = c.agent.Step(ctx, &stateView{events: historySnapshot})
	}
	if err != nil {
		c.handleStepError(ctx, err)
		return
	}
	if action == nil {
		c.handleStepError(ctx, agent.NewNoActionError("agent returned no action"))
		return
	}

	// Deep-copy the agent's own cost/usage accounting into the local ledger
	// right after a successful Step, mirroring update_state_after_step's
	// self.agent.llm.metrics copy. Replayed actions bypass agent.Step
	// entirely, so there is nothing to report for them.
	if !replayed {
		stepCost, stepUsage := c.agent.Metrics()
		c.state.LocalMetrics.AddCost(ctx, stepCost)
		c.state.LocalMetrics.RecordUsage(ctx, stepUsage)
	}

	c.mu.Lock()
	confirmationMode := c.state.ConfirmationMode
	_, usage := c.state.LocalMetrics.Snapshot()
	c.mu.Unlock()
	action.Usage = &usage

	if action.Runnable && confirmationMode && isConfirmable(action.Kind) {
		action.ConfirmationState = event.ConfirmationAwaiting
		c.mu.Lock()
		c.state.PendingAction = action
		c.mu.Unlock()
		c.SetAgentState(ctx, StateAwaitingUserConfirmation)
	}

	published, err := c.bus.AddEvent(ctx, action, event.SourceAgent)
	if err != nil {
		log.Errorf("controller: publish action: %v", err)
		return
	}

	c.mu.Lock()
	if c.state.PendingAction == action {
		c.state.PendingAction = published
	}
	c.mu.Unlock()

	c.state.LocalMetrics.RecordTurn(ctx)
}

// isConfirmable reports whether kind is a command/notebook execution, the
// only actions confirmation_mode gates per §4.1 step 6.
func isConfirmable(kind event.Kind) bool {
	return kind == event.KindCmdRun || kind == event.KindIPythonRun
}

// applyTrafficControl implements §4.1's traffic control: the first breach
// moves traffic-control to Throttling; headless runs fail fatally, while
// interactive runs pause (resumable via SetAgentState(Running), see
// SetAgentState's Paused→Running handling).
func (c *Controller) applyTrafficControl(ctx context.Context, reason string) {
	c.mu.Lock()
	firstBreach := c.state.TrafficControlState == TrafficNormal
	if firstBreach {
		c.state.TrafficControlState = TrafficThrottling
	}
	c.mu.Unlock()
	if !firstBreach {
		return
	}

	if c.headless {
		c.mu.Lock()
		c.state.LastError = reason
		c.mu.Unlock()
		c.SetAgentState(ctx, StateError)
		return
	}
	c.SetAgentState(ctx, StatePaused)
}

// failStuckInLoop implements the fatal stuck-in-loop reaction of §4.3/§7.
func (c *Controller) failStuckInLoop(ctx context.Context) {
	c.mu.Lock()
	c.state.LastError = "stuck in a loop"
	c.mu.Unlock()
	c.SetAgentState(ctx, StateError)
}

// handleStepError classifies a Step failure per §7 and reacts accordingly.
func (c *Controller) handleStepError(ctx context.Context, err error) {
	if isTransient(err) {
		obs := event.NewErrorObservation(event.SourceEnvironment, err.Error(), 0, "")
		if _, pubErr := c.bus.AddEvent(ctx, obs, event.SourceEnvironment); pubErr != nil {
			log.Errorf("controller: publish error observation: %v", pubErr)
		}
		return
	}

	if cw, ok := agent.AsContextWindowExceededError(err); ok {
		if c.agent.Config().EnableHistoryTruncation {
			c.trimContext(ctx)
			return
		}
		// No status-callback sentinel covers this kind, so only LastError
		// records it.
		c.mu.Lock()
		c.state.LastError = cw.Code()
		c.mu.Unlock()
		c.SetAgentState(ctx, StateError)
		return
	}

	if rl, ok := agent.AsRateLimitError(err); ok {
		c.mu.Lock()
		c.state.LastError = rl.Code()
		c.mu.Unlock()
		if c.statusCallback != nil {
			c.statusCallback("warn", agent.StatusCodeLLMRetry, rl.Error())
		}
		c.SetAgentState(ctx, StateRateLimited)
		return
	}

	if code, msg, ok := classifyLLMFailure(err); ok {
		c.failFatal(ctx, code, msg)
		return
	}

	c.failFatal(ctx, "", fmt.Sprintf("%T: %s", err, err.Error()))
}

// failFatal sets LastError, notifies the status callback for classified
// kinds, and transitions to Error.
func (c *Controller) failFatal(ctx context.Context, code, message string) {
	c.mu.Lock()
	if code != "" {
		c.state.LastError = code
	} else {
		c.state.LastError = message
	}
	c.mu.Unlock()

	if code != "" && c.statusCallback != nil {
		c.statusCallback("error", code, message)
	}
	c.SetAgentState(ctx, StateError)
}

// trimContext implements §4.6: halve history, re-publish the pruned slice's
// bounds as a Condensation action, and resume without a state change.
func (c *Controller) trimContext(ctx context.Context) {
	c.mu.Lock()
	full := append([]*event.Event(nil), c.state.Events...)
	c.mu.Unlock()

	result := history.Trim(full)

	c.mu.Lock()
	c.state.Events = result.Kept
	if result.StartID != 0 {
		c.state.StartID = result.StartID
	}
	c.mu.Unlock()

	condensation := event.New(event.SourceAgent, event.KindCondensation, &event.Condensation{
		ForgottenStart: result.ForgottenStart,
		ForgottenEnd:   result.ForgottenEnd,
	})
	if _, err := c.bus.AddEvent(ctx, condensation, event.SourceAgent); err != nil {
		log.Errorf("controller: publish condensation: %v", err)
	}
}
