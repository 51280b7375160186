//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package history

import (
	"trpc.group/trpc-go/trpc-agent-ctl/event"
	"trpc.group/trpc-go/trpc-agent-ctl/model"
)

// TrimResult is the outcome of a Trim call.
type TrimResult struct {
	// Kept is the pruned history to resume stepping against.
	Kept []*event.Event
	// StartID is the new state.start_id, pinned to the first kept event's
	// id (or the re-prepended first user message's id).
	StartID int64
	// ForgottenStart and ForgottenEnd bound the dropped range, for the
	// Condensation action payload.
	ForgottenStart, ForgottenEnd int64
}

// Trim halves history per spec: mid = max(1, len/2); kept = history[mid:].
// A leading orphan Observation is dropped so kept never starts mid-exchange.
// The first USER Message in the original history is re-prepended if it was
// cut, so the agent never loses its original task framing.
func Trim(full []*event.Event) TrimResult {
	if len(full) == 0 {
		return TrimResult{}
	}

	mid := len(full) / 2
	if mid < 1 {
		mid = 1
	}
	kept := full[mid:]
	if len(kept) > 0 && kept[0].Kind.IsObservation() {
		kept = kept[1:]
	}

	firstUser := firstUserMessage(full)
	if firstUser != nil && !contains(kept, firstUser) {
		kept = append([]*event.Event{firstUser}, kept...)
	}

	result := TrimResult{Kept: kept}
	if len(kept) > 0 {
		result.StartID = kept[0].ID
	}

	forgotten := forgottenIDs(full, kept)
	if len(forgotten) > 0 {
		result.ForgottenStart, result.ForgottenEnd = forgotten[0], forgotten[len(forgotten)-1]
	}
	return result
}

func firstUserMessage(full []*event.Event) *event.Event {
	for _, e := range full {
		if e.Kind != event.KindMessage {
			continue
		}
		if msg, ok := e.Payload.(*model.Message); ok && e.Source == event.SourceUser && msg.Role == model.RoleUser {
			return e
		}
	}
	return nil
}

func contains(events []*event.Event, target *event.Event) bool {
	for _, e := range events {
		if e.ID == target.ID {
			return true
		}
	}
	return false
}

// forgottenIDs returns, in ascending order, every id present in full but not
// in kept.
func forgottenIDs(full, kept []*event.Event) []int64 {
	keptIDs := make(map[int64]struct{}, len(kept))
	for _, e := range kept {
		keptIDs[e.ID] = struct{}{}
	}
	var forgotten []int64
	for _, e := range full {
		if _, ok := keptIDs[e.ID]; !ok {
			forgotten = append(forgotten, e.ID)
		}
	}
	return forgotten
}
