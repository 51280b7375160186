//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"trpc.group/trpc-go/trpc-agent-ctl/event"
)

func TestManagerStepsInOrderThenEmpties(t *testing.T) {
	a := event.New(event.SourceAgent, event.KindMessage, "a")
	b := event.New(event.SourceAgent, event.KindMessage, "b")
	m := New([]*event.Event{a, b})

	assert.True(t, m.ShouldReplay())
	assert.Equal(t, 2, m.Remaining())

	assert.Same(t, a, m.Step())
	assert.Equal(t, 1, m.Remaining())
	assert.Same(t, b, m.Step())

	assert.False(t, m.ShouldReplay())
	assert.Equal(t, 0, m.Remaining())
	assert.Nil(t, m.Step())
}

func TestNewCopiesInputSlice(t *testing.T) {
	queue := []*event.Event{event.New(event.SourceAgent, event.KindMessage, "a")}
	m := New(queue)
	queue[0] = event.New(event.SourceAgent, event.KindMessage, "mutated")

	assert.Equal(t, "a", m.Step().Payload)
}
