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
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-ctl/agent"
	"trpc.group/trpc-go/trpc-agent-ctl/bus"
	"trpc.group/trpc-go/trpc-agent-ctl/bus/inmemory"
	"trpc.group/trpc-go/trpc-agent-ctl/event"
	"trpc.group/trpc-go/trpc-agent-ctl/memory"
	"trpc.group/trpc-go/trpc-agent-ctl/model"
)

// scriptedAgent returns a fixed sequence of actions/errors, one per Step
// call, ignoring history content. It is the controller test suite's
// stand-in for an LLM-backed Stepper.
type scriptedAgent struct {
	mu      sync.Mutex
	acts    []*event.Event
	errs    []error
	i       int
	history [][]*event.Event
	cfg     agent.Config

	// stepCost, if non-zero, is reported back through Metrics after every
	// Step call, simulating an LLM call's incremental cost.
	stepCost float64
}

func (a *scriptedAgent) Step(_ context.Context, state agent.State) (*event.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, state.History())
	if a.i >= len(a.acts) {
		return nil, agent.NewNoActionError("script exhausted")
	}
	act, err := a.acts[a.i], a.errs[a.i]
	a.i++
	return act, err
}

func (a *scriptedAgent) Reset(context.Context) error { return nil }
func (a *scriptedAgent) Config() agent.Config        { return a.cfg }

func (a *scriptedAgent) Metrics() (float64, model.Usage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stepCost, model.Usage{}
}

func finishAction() *event.Event {
	return event.New(event.SourceAgent, event.KindAgentFinish, &event.Outcome{Outputs: map[string]string{"result": "ok"}})
}

func waitForState(t *testing.T, c *Controller, want AgentState, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.GetAgentState() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %q, got %q", want, c.GetAgentState())
}

// publishUserMessage publishes a USER message. Every test bus carries a
// memory.NullResolver so the Recall action the controller issues in
// response gets answered; without it pending_action never clears and the
// controller never steps.
func publishUserMessage(t *testing.T, ctx context.Context, b *inmemory.Bus, content string) {
	t.Helper()
	_, err := b.AddEvent(ctx, event.New(event.SourceUser, event.KindMessage, model.NewUserMessage(content)), event.SourceUser)
	require.NoError(t, err)
}

func TestControllerFinishesOnAgentFinish(t *testing.T) {
	ctx := context.Background()
	b := inmemory.New()
	memory.NewNullResolver(b).Attach(bus.TopicAgentController)
	a := &scriptedAgent{acts: []*event.Event{finishAction()}, errs: []error{nil}}

	c, err := New(ctx, Params{
		Agent:     a,
		Bus:       b,
		Limits:    Limits{MaxIterations: 5, MaxBudget: 10},
		SessionID: "s1",
		EndID:     -1,
	})
	require.NoError(t, err)
	defer c.Close(ctx, true)

	publishUserMessage(t, ctx, b, "go")
	waitForState(t, c, StateFinished, time.Second)

	assert.Equal(t, map[string]string{"result": "ok"}, c.GetState().Outputs)
}

func TestPendingActionNeverExceedsOne(t *testing.T) {
	ctx := context.Background()
	b := inmemory.New()
	memory.NewNullResolver(b).Attach(bus.TopicAgentController)
	cmdAction := event.New(event.SourceAgent, event.KindCmdRun, &event.CmdRun{Command: "ls"}, event.WithRunnable())
	a := &scriptedAgent{acts: []*event.Event{cmdAction, finishAction()}, errs: []error{nil, nil}}

	c, err := New(ctx, Params{
		Agent:     a,
		Bus:       b,
		Limits:    Limits{MaxIterations: 5, MaxBudget: 10, ConfirmationMode: true},
		SessionID: "s2",
		EndID:     -1,
	})
	require.NoError(t, err)
	defer c.Close(ctx, true)

	publishUserMessage(t, ctx, b, "go")
	waitForState(t, c, StateAwaitingUserConfirmation, time.Second)

	st := c.GetState()
	require.NotNil(t, st.PendingAction)
	assert.Equal(t, event.KindCmdRun, st.PendingAction.Kind)

	c.SetAgentState(ctx, StateUserConfirmed)

	// Confirmation republishes the action and restores it as PendingAction
	// so the external tool runner's eventual completion observation can
	// match it back by Cause; simulate that completion here.
	var republished *event.Event
	for _, e := range c.GetTrajectory() {
		if e.Kind == event.KindCmdRun && e.ConfirmationState == event.ConfirmationConfirmed {
			republished = e
		}
	}
	require.NotNil(t, republished, "expected the confirmed action to be republished")

	_, err = b.AddEvent(ctx, event.New(event.SourceEnvironment, event.KindGeneric, "ran", event.WithCause(republished.ID)), event.SourceEnvironment)
	require.NoError(t, err)

	waitForState(t, c, StateFinished, time.Second)
}

func TestHeadlessIterationCapFailsFatally(t *testing.T) {
	ctx := context.Background()
	b := inmemory.New()
	memory.NewNullResolver(b).Attach(bus.TopicAgentController)
	a := &scriptedAgent{} // every Step call returns NoActionError, a transient failure; iteration cap fires first.

	c, err := New(ctx, Params{
		Agent:     a,
		Bus:       b,
		Limits:    Limits{MaxIterations: 1, MaxBudget: 1e9},
		Headless:  true,
		SessionID: "s3",
		EndID:     -1,
	})
	require.NoError(t, err)
	defer c.Close(ctx, true)

	publishUserMessage(t, ctx, b, "go")
	waitForState(t, c, StateError, time.Second)
	assert.Equal(t, "maximum iteration count reached", c.GetState().LastError)
}

func TestInteractiveIterationCapPauses(t *testing.T) {
	ctx := context.Background()
	b := inmemory.New()
	memory.NewNullResolver(b).Attach(bus.TopicAgentController)
	a := &scriptedAgent{}

	c, err := New(ctx, Params{
		Agent:     a,
		Bus:       b,
		Limits:    Limits{MaxIterations: 1, MaxBudget: 1e9},
		SessionID: "s4",
		EndID:     -1,
	})
	require.NoError(t, err)
	defer c.Close(ctx, true)

	publishUserMessage(t, ctx, b, "go")
	waitForState(t, c, StatePaused, time.Second)
}

func TestBudgetBreachFromAgentReportedCostPausesRun(t *testing.T) {
	ctx := context.Background()
	b := inmemory.New()
	memory.NewNullResolver(b).Attach(bus.TopicAgentController)
	cmdAction := func() *event.Event {
		return event.New(event.SourceAgent, event.KindCmdRun, &event.CmdRun{Command: "ls"}, event.WithRunnable())
	}
	a := &scriptedAgent{
		acts:     []*event.Event{cmdAction(), cmdAction()},
		errs:     []error{nil, nil},
		stepCost: 1.0,
	}

	c, err := New(ctx, Params{
		Agent:     a,
		Bus:       b,
		Limits:    Limits{MaxIterations: 100, MaxBudget: 1.5},
		SessionID: "s9",
		EndID:     -1,
	})
	require.NoError(t, err)
	defer c.Close(ctx, true)

	// Each published CmdRun is answered immediately so the run keeps
	// stepping (and accumulating cost) instead of pausing on confirmation.
	b.Subscribe("agent_controller", func(ctx context.Context, e *event.Event) {
		if e.Kind == event.KindCmdRun {
			_, _ = b.AddEvent(ctx, event.New(event.SourceEnvironment, event.KindGeneric, "ran", event.WithCause(e.ID)), event.SourceEnvironment)
		}
	})

	publishUserMessage(t, ctx, b, "go")
	waitForState(t, c, StatePaused, 2*time.Second)

	cost, _ := c.GetState().LocalMetrics.Snapshot()
	assert.GreaterOrEqual(t, cost, 1.5, "expected the agent's own reported cost to have accumulated past MaxBudget")
}

func TestStuckInLoopFailsRun(t *testing.T) {
	ctx := context.Background()
	b := inmemory.New()
	memory.NewNullResolver(b).Attach(bus.TopicAgentController)
	errAction := func() *event.Event {
		return event.New(event.SourceAgent, event.KindCmdRun, &event.CmdRun{Command: "fail"}, event.WithRunnable())
	}
	a := &scriptedAgent{
		acts: []*event.Event{errAction(), errAction(), errAction(), errAction()},
		errs: []error{nil, nil, nil, nil},
	}

	c, err := New(ctx, Params{
		Agent:     a,
		Bus:       b,
		Limits:    Limits{MaxIterations: 100, MaxBudget: 1e9},
		SessionID: "s5",
		EndID:     -1,
	})
	require.NoError(t, err)
	defer c.Close(ctx, true)

	// Every published CmdRun action is answered by an identical Generic
	// observation, which the stuck-loop heuristic counts as a repeating
	// (action, observation) cycle.
	b.Subscribe("agent_controller", func(ctx context.Context, e *event.Event) {
		if e.Kind == event.KindCmdRun {
			_, _ = b.AddEvent(ctx, event.New(event.SourceEnvironment, event.KindGeneric, "ran", event.WithCause(e.ID)), event.SourceEnvironment)
		}
	})

	publishUserMessage(t, ctx, b, "go")
	waitForState(t, c, StateError, 2*time.Second)
	assert.Equal(t, "stuck in a loop", c.GetState().LastError)
}

func TestTransientStepErrorDoesNotChangeState(t *testing.T) {
	ctx := context.Background()
	b := inmemory.New()
	memory.NewNullResolver(b).Attach(bus.TopicAgentController)
	a := &scriptedAgent{
		acts: []*event.Event{nil, finishAction()},
		errs: []error{agent.NewMalformedActionError("bad json"), nil},
	}

	c, err := New(ctx, Params{
		Agent:     a,
		Bus:       b,
		Limits:    Limits{MaxIterations: 5, MaxBudget: 10},
		SessionID: "s6",
		EndID:     -1,
	})
	require.NoError(t, err)
	defer c.Close(ctx, true)

	publishUserMessage(t, ctx, b, "go")
	waitForState(t, c, StateFinished, time.Second)

	var sawMalformed bool
	for _, e := range c.GetTrajectory() {
		if e.Kind == event.KindError {
			if msg, ok := e.Payload.(string); ok && strings.Contains(msg, "bad json") {
				sawMalformed = true
			}
		}
	}
	assert.True(t, sawMalformed, "expected a recorded Error observation for the transient failure")
}

func TestCloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	b := inmemory.New()
	memory.NewNullResolver(b).Attach(bus.TopicAgentController)
	a := &scriptedAgent{acts: []*event.Event{finishAction()}, errs: []error{nil}}

	c, err := New(ctx, Params{
		Agent:     a,
		Bus:       b,
		Limits:    Limits{MaxIterations: 5, MaxBudget: 10},
		SessionID: "s7",
		EndID:     -1,
	})
	require.NoError(t, err)

	publishUserMessage(t, ctx, b, "go")
	waitForState(t, c, StateFinished, time.Second)

	c.Close(ctx, true)
	c.Close(ctx, true) // must not panic or block
}

func TestDelegateLifecycleResumesParentWithChildOutputs(t *testing.T) {
	ctx := context.Background()
	b := inmemory.New()
	memory.NewNullResolver(b).Attach(bus.TopicAgentController)

	delegateAction := event.New(event.SourceAgent, event.KindAgentDelegate, &event.AgentDelegate{
		Agent:  "researcher",
		Inputs: map[string]string{"task": "summarize"},
	})
	parent := &scriptedAgent{acts: []*event.Event{delegateAction}, errs: []error{nil}}
	child := &scriptedAgent{
		acts: []*event.Event{event.New(event.SourceAgent, event.KindAgentFinish, &event.Outcome{
			Outputs: map[string]string{"summary": "done"},
		})},
		errs: []error{nil},
	}

	c, err := New(ctx, Params{
		Agent:  parent,
		Bus:    b,
		Limits: Limits{MaxIterations: 10, MaxBudget: 10},
		AgentResolver: func(name string) (agent.Stepper, error) {
			if name == "researcher" {
				return child, nil
			}
			return nil, nil
		},
		SessionID: "s8",
		EndID:     -1,
	})
	require.NoError(t, err)
	defer c.Close(ctx, true)

	publishUserMessage(t, ctx, b, "go")

	// Parent issues AgentDelegate; once the child finishes and the parent's
	// own Step call is exhausted (scripted agent has no further actions),
	// the run should land in Error rather than hang, proving the delegate
	// round-trip completed and control returned to the parent.
	waitForState(t, c, StateError, 2*time.Second)

	var delegateDone *event.Event
	for _, e := range c.GetTrajectory() {
		if e.Kind == event.KindAgentDelegateDone {
			delegateDone = e
		}
	}
	require.NotNil(t, delegateDone, "expected an AgentDelegateDone observation in the parent's trajectory")
	done, ok := delegateDone.Payload.(*event.DelegateDone)
	require.True(t, ok)
	assert.Equal(t, map[string]string{"summary": "done"}, done.Outputs)
}
