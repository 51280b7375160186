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
	"sort"
	"strings"

	"trpc.group/trpc-go/trpc-agent-ctl/event"
	"trpc.group/trpc-go/trpc-agent-ctl/log"
	"trpc.group/trpc-go/trpc-agent-ctl/metrics"
	"trpc.group/trpc-go/trpc-agent-ctl/model"
)

// startDelegate implements §4.2's StartDelegate: build a child Controller
// sharing this controller's metrics ledger, then publish the synthetic task
// message that starts it running.
func (c *Controller) startDelegate(ctx context.Context, action *event.Event, info *event.AgentDelegate) {
	c.mu.Lock()
	if c.delegate != nil {
		c.mu.Unlock()
		return // idempotency guard: a delegate is already active.
	}
	c.mu.Unlock()

	if c.delegateAuthorizer != nil {
		if err := c.delegateAuthorizer(ctx, info); err != nil {
			obs := event.NewErrorObservation(event.SourceEnvironment,
				fmt.Sprintf("delegation to %q denied: %v", info.Agent, err), action.ID, "")
			if _, pubErr := c.bus.AddEvent(ctx, obs, event.SourceEnvironment); pubErr != nil {
				log.Errorf("controller: publish delegation-denied observation: %v", pubErr)
			}
			return
		}
	}

	delegateAgent := c.agent
	if c.agentResolver != nil && info.Agent != "" {
		resolved, err := c.agentResolver(info.Agent)
		if err != nil {
			log.Errorf("controller: resolve delegate agent %q: %v, falling back to parent's agent", info.Agent, err)
		} else if resolved != nil {
			delegateAgent = resolved
		}
	}

	c.mu.Lock()
	parentIteration := c.state.Iteration
	parentMaxIterations := c.state.MaxIterations
	sharedMetrics := c.state.Metrics
	delegateLevel := c.state.DelegateLevel + 1
	appName, userID, sessionID := c.state.AppName, c.state.UserID, c.state.SessionID
	maxBudget, initialMaxBudget := c.state.MaxBudget, c.state.InitialMaxBudget
	confirmationMode := c.state.ConfirmationMode
	c.mu.Unlock()

	latest, err := c.bus.GetLatestEventID(ctx)
	if err != nil {
		log.Errorf("controller: delegate start_id lookup: %v", err)
		return
	}

	childState := &State{
		SessionID:            sessionID,
		AppName:              appName,
		UserID:               userID,
		DelegateLevel:        delegateLevel,
		Iteration:            parentIteration,
		LocalIteration:       0,
		MaxIterations:        parentMaxIterations,
		InitialMaxIterations: parentMaxIterations,
		MaxBudget:            maxBudget,
		InitialMaxBudget:     initialMaxBudget,
		AgentState:           StateLoading,
		TrafficControlState:  TrafficNormal,
		ConfirmationMode:     confirmationMode,
		StartID:              latest + 1,
		EndID:                -1,
		Metrics:              sharedMetrics,
		LocalMetrics:         metrics.New(appName, userID, sessionID),
		Outputs:              make(map[string]string),
	}

	child, err := New(ctx, Params{
		Agent:              delegateAgent,
		Bus:                c.bus,
		Limits:             c.limits,
		InitialState:       childState,
		IsDelegate:         true,
		Headless:           c.headless,
		StatusCallback:     c.statusCallback,
		DelegateAuthorizer: c.delegateAuthorizer,
		AgentResolver:      c.agentResolver,
	})
	if err != nil {
		log.Errorf("controller: start delegate: %v", err)
		return
	}

	c.mu.Lock()
	c.delegate = child
	c.delegateAction = action
	c.mu.Unlock()

	task := info.Inputs["task"]
	msg := event.New(event.SourceUser, event.KindMessage, model.NewUserMessage(fmt.Sprintf("TASK: %s", task)))
	if _, err := c.bus.AddEvent(ctx, msg, event.SourceUser); err != nil {
		log.Errorf("controller: publish delegate task message: %v", err)
	}

	child.SetAgentState(ctx, StateRunning)
}

// endDelegate implements §4.2's EndDelegate: copy the child's iteration
// back to the parent, close the child, and synthesize an
// AgentDelegateDone observation. Idempotent: a second call with no active
// delegate is a no-op, since both OnEvent and an explicit caller may reach
// this path.
func (c *Controller) endDelegate(ctx context.Context) {
	c.mu.Lock()
	child := c.delegate
	action := c.delegateAction
	if child == nil {
		c.mu.Unlock()
		return
	}
	c.delegate = nil
	c.delegateAction = nil
	c.mu.Unlock()

	childState := child.GetState()

	c.mu.Lock()
	if childState.Iteration > c.state.Iteration {
		c.state.Iteration = childState.Iteration
	}
	c.mu.Unlock()

	child.Close(ctx, true)

	agentName := "delegate"
	if action != nil {
		if d, ok := action.Payload.(*event.AgentDelegate); ok && d != nil {
			agentName = d.Agent
		}
	}

	var content string
	switch childState.AgentState {
	case StateFinished:
		content = formatDelegateOutcome(agentName, "finishes", childState.Outputs)
	case StateRejected:
		content = formatDelegateOutcome(agentName, "rejects", childState.Outputs)
	default:
		content = fmt.Sprintf("%s failed: %s", agentName, childState.LastError)
	}

	var causeID int64
	if action != nil {
		causeID = action.ID
	}
	done := event.New(event.SourceAgent, event.KindAgentDelegateDone, &event.DelegateDone{
		Outputs: childState.Outputs,
		Content: content,
	}, event.WithCause(causeID))
	if _, err := c.bus.AddEvent(ctx, done, event.SourceAgent); err != nil {
		log.Errorf("controller: publish delegate done: %v", err)
	}
}

func formatDelegateOutcome(agentName, verb string, outputs map[string]string) string {
	if len(outputs) == 0 {
		return fmt.Sprintf("%s %s task", agentName, verb)
	}
	parts := make([]string, 0, len(outputs))
	for k, v := range outputs {
		parts = append(parts, fmt.Sprintf("%s: %s", k, v))
	}
	sort.Strings(parts)
	return fmt.Sprintf("%s %s task with %s", agentName, verb, strings.Join(parts, ", "))
}
