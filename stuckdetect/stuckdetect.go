//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package stuckdetect implements the controller's stuck-loop heuristic: a
// pure, read-only scan over recent history. The heuristic is deliberately
// swappable — see Func and the controller's override option — mirroring the
// teacher's injectable cycleagent.EscalationFunc.
package stuckdetect

import "trpc.group/trpc-go/trpc-agent-ctl/event"

// Func is the shape of a stuck-loop predicate: given the full history and
// whether the run is headless, report whether the controller should treat
// itself as stuck. Implementations must be monotone: once a prefix of the
// history reports true, every longer history built on that prefix (without a
// state reset) must also report true.
type Func func(history []*event.Event, headless bool) bool

// defaultRepeatThreshold is how many times an identical (action kind,
// observation kind) pair, or an identical error message, must repeat
// consecutively before Detect reports stuck in interactive mode.
const defaultRepeatThreshold = 3

// headlessRepeatThreshold is the stricter headless-mode threshold: fail
// fast rather than burn budget waiting for a human to notice.
const headlessRepeatThreshold = 2

// Detect is the built-in heuristic: it reports true if history, or any
// prefix of it, ends in a repeating (action, observation) cycle at least
// threshold times, or in the same error observation message repeated at
// least threshold times. Checking every prefix keeps Detect monotone.
// Headless runs use a stricter threshold.
func Detect(history []*event.Event, headless bool) bool {
	threshold := defaultRepeatThreshold
	if headless {
		threshold = headlessRepeatThreshold
	}
	for n := len(history); n >= threshold; n-- {
		prefix := history[:n]
		if repeatingErrorTail(prefix, threshold) || repeatingActionObservationTail(prefix, threshold) {
			return true
		}
	}
	return false
}

// repeatingErrorTail reports whether the last threshold events are all
// KindError observations carrying the identical message payload.
func repeatingErrorTail(history []*event.Event, threshold int) bool {
	if len(history) < threshold {
		return false
	}
	tail := history[len(history)-threshold:]
	msg, ok := tail[0].Payload.(string)
	if tail[0].Kind != event.KindError || !ok {
		return false
	}
	for _, e := range tail[1:] {
		if e.Kind != event.KindError {
			return false
		}
		if m, ok := e.Payload.(string); !ok || m != msg {
			return false
		}
	}
	return true
}

// repeatingActionObservationTail reports whether the tail of history is
// threshold repetitions of the same (action kind, observation kind) pair.
func repeatingActionObservationTail(history []*event.Event, threshold int) bool {
	pairs := pairUp(history)
	if len(pairs) < threshold {
		return false
	}
	tail := pairs[len(pairs)-threshold:]
	first := tail[0]
	for _, p := range tail[1:] {
		if p != first {
			return false
		}
	}
	return true
}

type actionObservationPair struct {
	action      event.Kind
	observation event.Kind
}

// pairUp walks history pairing each action with the next observation whose
// Cause matches it (or, absent a matching Cause, the next observation in
// sequence). Actions with no following observation yet are dropped.
func pairUp(history []*event.Event) []actionObservationPair {
	var pairs []actionObservationPair
	var pendingAction *event.Event
	for _, e := range history {
		switch {
		case e.Kind.IsAction():
			pendingAction = e
		case e.Kind.IsObservation() && pendingAction != nil:
			if e.Cause == 0 || e.Cause == pendingAction.ID {
				pairs = append(pairs, actionObservationPair{action: pendingAction.Kind, observation: e.Kind})
				pendingAction = nil
			}
		}
	}
	return pairs
}
