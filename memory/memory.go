//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package memory answers the Recall actions a controller issues on every
// user message. The controller itself never resolves a Recall: it records
// it as pending_action and waits for a matching observation, the same way
// it waits on a CmdRun's environment result. Answering is the job of a
// separate subsystem (workspace context, microagent knowledge) wired onto
// the same bus; this package is the minimal stand-in used where no such
// subsystem is present.
package memory

import (
	"context"

	"trpc.group/trpc-go/trpc-agent-ctl/bus"
	"trpc.group/trpc-go/trpc-agent-ctl/event"
)

// AnswerPending publishes a NullObservation closing out pending if, and
// only if, pending is a Recall action. It is a no-op otherwise, so callers
// can invoke it unconditionally with Controller.GetState().PendingAction
// after every message they publish to the controller's bus.
//
// Callers must read pending only after the publish that may have produced
// the Recall has returned: Controller sets pending_action synchronously
// before that call unwinds, so by then GetState reflects it. This is the
// deterministic path, suitable right after a top-level call into a single
// controller; delegates issue their own Recall actions from deep inside an
// asynchronous Step, where no such synchronous window exists, so use
// NullResolver there instead.
func AnswerPending(ctx context.Context, b bus.Bus, pending *event.Event) (*event.Event, error) {
	if pending == nil || pending.Kind != event.KindRecall {
		return nil, nil
	}
	return b.AddEvent(
		ctx,
		event.New(event.SourceEnvironment, event.KindNullObservation, nil, event.WithCause(pending.ID)),
		event.SourceEnvironment,
	)
}

// NullResolver subscribes to a bus and answers every Recall action it
// observes, parent or delegate, as soon as the issuing controller is done
// recording it as pending_action. A Recall is always published from inside
// that controller's own synchronous handling of the triggering message, so
// the answer is deferred to a new goroutine: firing it inline would race
// the publish that is still unwinding back to the pending_action
// assignment the observation needs to land after.
type NullResolver struct {
	bus bus.Bus
}

// NewNullResolver builds a resolver that publishes its answers on b.
func NewNullResolver(b bus.Bus) *NullResolver {
	return &NullResolver{bus: b}
}

// Attach subscribes the resolver on topic and returns the subscription id.
func (r *NullResolver) Attach(topic string) string {
	return r.bus.Subscribe(topic, r.onEvent)
}

func (r *NullResolver) onEvent(ctx context.Context, e *event.Event) {
	if e.Kind != event.KindRecall {
		return
	}
	recallID := e.ID
	go func() {
		_, _ = r.bus.AddEvent(
			ctx,
			event.New(event.SourceEnvironment, event.KindNullObservation, nil, event.WithCause(recallID)),
			event.SourceEnvironment,
		)
	}()
}
