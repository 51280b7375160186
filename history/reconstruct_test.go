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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-ctl/bus/inmemory"
	"trpc.group/trpc-go/trpc-agent-ctl/event"
)

func TestReconstructCollapsesDelegateRange(t *testing.T) {
	b := inmemory.New()
	ctx := context.Background()

	publish := func(kind event.Kind) *event.Event {
		e, err := b.AddEvent(ctx, event.New(event.SourceAgent, kind, nil), event.SourceAgent)
		require.NoError(t, err)
		return e
	}

	publish(event.KindMessage)
	publish(event.KindAgentDelegate)
	publish(event.KindMessage) // child turn, should be dropped
	publish(event.KindAgentDelegateDone)
	publish(event.KindMessage)

	result, err := Reconstruct(ctx, b, 0, -1, nil)
	require.NoError(t, err)

	var kinds []event.Kind
	for _, e := range result.Events {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []event.Kind{
		event.KindMessage,
		event.KindAgentDelegate,
		event.KindAgentDelegateDone,
		event.KindMessage,
	}, kinds)
}

func TestReconstructCollapsesNestedDelegateRange(t *testing.T) {
	b := inmemory.New()
	ctx := context.Background()

	publish := func(kind event.Kind) *event.Event {
		e, err := b.AddEvent(ctx, event.New(event.SourceAgent, kind, nil), event.SourceAgent)
		require.NoError(t, err)
		return e
	}

	publish(event.KindAgentDelegate)    // outer start, kept
	publish(event.KindAgentDelegate)    // nested start, dropped
	publish(event.KindAgentDelegateDone) // nested done, dropped
	publish(event.KindAgentDelegateDone) // outer done, kept

	result, err := Reconstruct(ctx, b, 0, -1, nil)
	require.NoError(t, err)

	var kinds []event.Kind
	for _, e := range result.Events {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []event.Kind{event.KindAgentDelegate, event.KindAgentDelegateDone}, kinds)
}

func TestReconstructAppliesFilterOut(t *testing.T) {
	b := inmemory.New()
	ctx := context.Background()

	_, err := b.AddEvent(ctx, event.New(event.SourceAgent, event.KindMessage, nil), event.SourceAgent)
	require.NoError(t, err)
	_, err = b.AddEvent(ctx, event.New(event.SourceAgent, event.KindNullObservation, nil), event.SourceAgent)
	require.NoError(t, err)

	result, err := Reconstruct(ctx, b, 0, -1, []event.Kind{event.KindNullObservation})
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	assert.Equal(t, event.KindMessage, result.Events[0].Kind)
}

func TestReconstructEmptyWhenStartExceedsEnd(t *testing.T) {
	b := inmemory.New()
	ctx := context.Background()

	_, err := b.AddEvent(ctx, event.New(event.SourceAgent, event.KindMessage, nil), event.SourceAgent)
	require.NoError(t, err)

	result, err := Reconstruct(ctx, b, 10, 1, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Events)
	assert.Equal(t, int64(10), result.StartID)
}
