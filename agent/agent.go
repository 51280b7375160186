//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package agent describes the contract the controller holds an LLM-backed
// agent to. The controller never constructs or configures an agent; it only
// calls Step and Reset on whatever implementation the caller supplies.
package agent

import (
	"context"

	"trpc.group/trpc-go/trpc-agent-ctl/event"
	"trpc.group/trpc-go/trpc-agent-ctl/model"
)

// Config carries the subset of agent configuration the controller needs to
// read in order to decide its own behavior.
type Config struct {
	// EnableHistoryTruncation turns on automatic context-window recovery
	// when Step reports a ContextWindowExceededError.
	EnableHistoryTruncation bool
}

// State is the read view of controller state an agent needs in order to
// produce its next action. It is satisfied by *controller.State; defined
// here rather than imported from package controller to avoid an import
// cycle, since controller depends on agent.
type State interface {
	// History returns the controller's current event history, oldest first.
	History() []*event.Event
}

// Stepper is the external LLM-backed agent capability the controller
// drives. It is the only collaborator in the perceive-decide-act loop that
// this repository does not implement.
type Stepper interface {
	// Step inspects state and returns the next action the agent wants to
	// take. It may return one of the typed errors in this package (or wrap
	// one with %w) to signal a classified failure; any other error is
	// treated as an unknown runtime error.
	Step(ctx context.Context, state State) (*event.Event, error)

	// Reset clears any internal conversational state the agent keeps
	// outside of the controller's own State (e.g. a cached system prompt).
	Reset(ctx context.Context) error

	// Config returns the agent's static configuration.
	Config() Config

	// Metrics reports the cost and token usage attributed to the most
	// recently completed Step call. The controller deep-copies this into
	// its own Metrics Ledger right after Step returns, mirroring the
	// original's self.agent.llm.metrics deep-copy in
	// update_state_after_step. cost is the incremental cost of that one
	// call, not a running total: the Ledger accumulates it.
	Metrics() (cost float64, usage model.Usage)
}
