//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package inmemory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-ctl/bus"
	"trpc.group/trpc-go/trpc-agent-ctl/event"
)

func TestAddEventAssignsMonotonicIDs(t *testing.T) {
	b := New()
	ctx := context.Background()

	e1, err := b.AddEvent(ctx, event.New(event.SourceUser, event.KindMessage, "hi"), event.SourceUser)
	require.NoError(t, err)
	e2, err := b.AddEvent(ctx, event.New(event.SourceAgent, event.KindAgentFinish, nil), event.SourceAgent)
	require.NoError(t, err)

	assert.Equal(t, int64(1), e1.ID)
	assert.Equal(t, int64(2), e2.ID)
}

func TestAddEventFansOutToSubscribers(t *testing.T) {
	b := New()
	ctx := context.Background()

	var got []*event.Event
	b.Subscribe(bus.TopicAgentController, func(_ context.Context, e *event.Event) {
		got = append(got, e)
	})

	_, err := b.AddEvent(ctx, event.New(event.SourceUser, event.KindMessage, "hi"), event.SourceUser)
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, event.KindMessage, got[0].Kind)
}

func TestAddEventFromHandlerDoesNotDeadlock(t *testing.T) {
	b := New()
	ctx := context.Background()

	var calls int
	b.Subscribe(bus.TopicAgentController, func(ctx context.Context, e *event.Event) {
		calls++
		if e.Kind == event.KindMessage {
			_, _ = b.AddEvent(ctx, event.New(event.SourceEnvironment, event.KindAgentStateChanged, nil), event.SourceEnvironment)
		}
	})

	_, err := b.AddEvent(ctx, event.New(event.SourceUser, event.KindMessage, "hi"), event.SourceUser)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	ctx := context.Background()

	var calls int
	id := b.Subscribe(bus.TopicAgentController, func(context.Context, *event.Event) { calls++ })
	b.Unsubscribe(bus.TopicAgentController, id)

	_, err := b.AddEvent(ctx, event.New(event.SourceUser, event.KindMessage, "hi"), event.SourceUser)
	require.NoError(t, err)
	assert.Equal(t, 0, calls)
}

func TestGetEventsRangeAndFilter(t *testing.T) {
	b := New()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		kind := event.KindMessage
		if i%2 == 0 {
			kind = event.KindNullObservation
		}
		_, err := b.AddEvent(ctx, event.New(event.SourceUser, kind, i), event.SourceUser)
		require.NoError(t, err)
	}

	all, err := b.GetEvents(ctx, 1, -1, false, nil, false)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	filtered, err := b.GetEvents(ctx, 1, -1, false, []event.Kind{event.KindNullObservation}, false)
	require.NoError(t, err)
	assert.Len(t, filtered, 2)

	reversed, err := b.GetEvents(ctx, 1, -1, true, nil, false)
	require.NoError(t, err)
	assert.Equal(t, all[len(all)-1].ID, reversed[0].ID)
}

func TestGetEventsFiltersHidden(t *testing.T) {
	b := New()
	ctx := context.Background()

	_, err := b.AddEvent(ctx, event.New(event.SourceUser, event.KindMessage, "visible"), event.SourceUser)
	require.NoError(t, err)
	_, err = b.AddEvent(ctx, event.New(event.SourceUser, event.KindMessage, "hidden", event.WithHidden()), event.SourceUser)
	require.NoError(t, err)

	visible, err := b.GetEvents(ctx, 1, -1, false, nil, true)
	require.NoError(t, err)
	assert.Len(t, visible, 1)
}

func TestGetLatestEventID(t *testing.T) {
	b := New()
	ctx := context.Background()

	id, err := b.GetLatestEventID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), id)

	_, err = b.AddEvent(ctx, event.New(event.SourceUser, event.KindMessage, "hi"), event.SourceUser)
	require.NoError(t, err)

	id, err = b.GetLatestEventID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}
