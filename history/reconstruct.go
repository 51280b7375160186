//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package history implements the controller's History Reconstructor and
// Context Window Trimmer: both operate on the same slice-of-events
// abstraction built from bus range queries.
package history

import (
	"context"

	"trpc.group/trpc-go/trpc-agent-ctl/bus"
	"trpc.group/trpc-go/trpc-agent-ctl/event"
	"trpc.group/trpc-go/trpc-agent-ctl/log"
)

// Result is the outcome of a Reconstruct call: the assembled history and the
// start_id the controller should pin its state to.
type Result struct {
	Events  []*event.Event
	StartID int64
}

// Reconstruct rebuilds a controller's history from the bus: fresh roots
// pass startID 0; delegates pass the start_id supplied by their parent.
// endID < 0 means "the bus's current latest". Delegate sub-ranges are
// collapsed: every (AgentDelegate, AgentDelegateDone) bracket keeps its
// bracketing events and drops everything strictly between them.
func Reconstruct(
	ctx context.Context,
	b bus.Bus,
	startID, endID int64,
	filterOut []event.Kind,
) (Result, error) {
	if startID < 0 {
		startID = 0
	}
	if endID < 0 {
		latest, err := b.GetLatestEventID(ctx)
		if err != nil {
			return Result{}, err
		}
		endID = latest
	}
	if startID > endID+1 {
		log.Warnf("history: start_id %d exceeds end_id+1 %d, history is empty", startID, endID+1)
		return Result{StartID: startID}, nil
	}

	events, err := b.GetEvents(ctx, startID, endID, false, filterOut, true)
	if err != nil {
		return Result{}, err
	}

	return Result{Events: collapseDelegateRanges(events), StartID: startID}, nil
}

// collapseDelegateRanges keeps every AgentDelegate and its matching
// AgentDelegateDone but drops everything strictly between them, so a
// parent's history does not carry a delegate's internal turns. An
// AgentDelegateDone with no open AgentDelegate is logged and skipped as
// unmatched.
func collapseDelegateRanges(events []*event.Event) []*event.Event {
	result := make([]*event.Event, 0, len(events))
	depth := 0
	for _, e := range events {
		switch {
		case e.Kind == event.KindAgentDelegate:
			if depth == 0 {
				result = append(result, e)
			}
			depth++
		case e.Kind == event.KindAgentDelegateDone:
			if depth == 0 {
				log.Warnf("history: unmatched AgentDelegateDone event %d, skipping", e.ID)
				continue
			}
			depth--
			if depth == 0 {
				result = append(result, e)
			}
		case depth == 0:
			result = append(result, e)
		}
	}
	return result
}
