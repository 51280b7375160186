//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package stuckdetect

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"trpc.group/trpc-go/trpc-agent-ctl/event"
)

func action(id int64, kind event.Kind) *event.Event {
	return &event.Event{ID: id, Kind: kind}
}

func observation(id, cause int64, kind event.Kind, payload any) *event.Event {
	return &event.Event{ID: id, Cause: cause, Kind: kind, Payload: payload}
}

func TestDetectRepeatingErrorTail(t *testing.T) {
	history := []*event.Event{
		observation(1, 0, event.KindError, "boom"),
		observation(2, 0, event.KindError, "boom"),
		observation(3, 0, event.KindError, "boom"),
	}
	assert.True(t, Detect(history, false))
}

func TestDetectIgnoresDifferentErrorMessages(t *testing.T) {
	history := []*event.Event{
		observation(1, 0, event.KindError, "boom"),
		observation(2, 0, event.KindError, "bang"),
		observation(3, 0, event.KindError, "boom"),
	}
	assert.False(t, Detect(history, false))
}

func TestDetectRepeatingActionObservationPairs(t *testing.T) {
	var history []*event.Event
	var id int64
	for i := 0; i < 3; i++ {
		id++
		a := action(id, event.KindCmdRun)
		history = append(history, a)
		id++
		history = append(history, observation(id, a.ID, event.KindGeneric, nil))
	}
	assert.True(t, Detect(history, false))
}

func TestDetectHeadlessUsesStricterThreshold(t *testing.T) {
	history := []*event.Event{
		observation(1, 0, event.KindError, "boom"),
		observation(2, 0, event.KindError, "boom"),
	}
	assert.False(t, Detect(history, false))
	assert.True(t, Detect(history, true))
}

func TestDetectShortHistoryNeverStuck(t *testing.T) {
	history := []*event.Event{observation(1, 0, event.KindError, "boom")}
	assert.False(t, Detect(history, false))
	assert.False(t, Detect(history, true))
}
