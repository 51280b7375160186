//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package controller implements the Controller Core: the perceive-decide-act
// state machine that drives one agent through an event bus, manages nested
// delegates, enforces iteration/budget caps, and classifies failures.
package controller

import (
	"trpc.group/trpc-go/trpc-agent-ctl/event"
	"trpc.group/trpc-go/trpc-agent-ctl/metrics"
)

// AgentState is the controller's externally-visible lifecycle state.
type AgentState string

// Agent states.
const (
	StateLoading                  AgentState = "loading"
	StateRunning                  AgentState = "running"
	StatePaused                   AgentState = "paused"
	StateAwaitingUserInput        AgentState = "awaiting_user_input"
	StateAwaitingUserConfirmation AgentState = "awaiting_user_confirmation"
	StateUserConfirmed            AgentState = "user_confirmed"
	StateUserRejected             AgentState = "user_rejected"
	StateFinished                 AgentState = "finished"
	StateRejected                 AgentState = "rejected"
	StateError                    AgentState = "error"
	StateStopped                  AgentState = "stopped"
	StateRateLimited              AgentState = "rate_limited"
)

// IsTerminal reports whether s ends a controller's run.
func (s AgentState) IsTerminal() bool {
	switch s {
	case StateFinished, StateRejected, StateError, StateStopped:
		return true
	default:
		return false
	}
}

// TrafficControlState tracks the iteration/budget throttle.
type TrafficControlState string

// Traffic control states.
const (
	TrafficNormal     TrafficControlState = "normal"
	TrafficThrottling TrafficControlState = "throttling"
	TrafficPaused     TrafficControlState = "paused"
)

// State is the authoritative record owned exclusively by one Controller.
// It is mutated only from the controller's own goroutines, serialized by
// Controller.mu.
type State struct {
	SessionID     string
	AppName       string
	UserID        string
	DelegateLevel int

	Iteration             int
	LocalIteration        int
	MaxIterations         int
	InitialMaxIterations  int
	MaxBudget             float64
	InitialMaxBudget      float64

	AgentState           AgentState
	TrafficControlState  TrafficControlState
	ConfirmationMode     bool
	TrafficResumedOnce   bool

	// StartID and EndID bound the inclusive range of bus ids this
	// controller considers its own. EndID < 0 means "up to latest".
	StartID int64
	EndID   int64
	Events  []*event.Event

	PendingAction *event.Event

	Metrics      *metrics.Ledger
	LocalMetrics *metrics.Ledger
	// metricsMerged guards against folding LocalMetrics into the shared
	// Metrics ledger more than once: a controller can reach a terminal
	// condition (AgentFinish/Reject, then Close's Stopped transition, or a
	// synthesized error observation while already in StateError) through
	// more than one of the three merge call sites in a single lifetime.
	metricsMerged bool

	LastError string
	Outputs   map[string]string

	cachedFirstUserMessage *event.Event
}

// History implements agent.State so *Controller can pass &State directly to
// agent.Stepper.Step without a dependency cycle (agent cannot import
// controller).
func (s *State) History() []*event.Event { return s.Events }

// Limits bounds one controller's run and supplies its injectable policy
// hooks.
type Limits struct {
	// MaxIterations and MaxBudget are the initial caps; State.Initial* are
	// seeded from these at construction so traffic-control resume can
	// re-apply them.
	MaxIterations int
	MaxBudget     float64

	// ConfirmationMode gates runnable actions behind user confirmation.
	ConfirmationMode bool

	// FilterOut lists event kinds excluded from history. Defaults to
	// {NullAction, NullObservation, ChangeAgentState, AgentStateChanged}
	// when nil.
	FilterOut []event.Kind

	// StuckDetect overrides the built-in stuckdetect.Detect heuristic.
	StuckDetect StuckDetectFunc
}

// StuckDetectFunc matches stuckdetect.Func; declared locally to avoid
// forcing every caller of controller.Limits to import stuckdetect just to
// leave this field nil.
type StuckDetectFunc func(history []*event.Event, headless bool) bool

// defaultFilterOut is the spec's mandatory filtered-out kind set.
var defaultFilterOut = []event.Kind{
	event.KindNullAction,
	event.KindNullObservation,
	event.KindChangeAgentState,
	event.KindAgentStateChanged,
}

func (l Limits) filterOut() []event.Kind {
	if l.FilterOut != nil {
		return l.FilterOut
	}
	return defaultFilterOut
}

// StatusCallback reports a fatal or advisory status to the host application.
// code is one of the agent.StatusCode* sentinel strings.
type StatusCallback func(level, code, message string)
