//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package bus defines the event bus contract the controller consumes:
// publish, subscribe, and bounded range queries over a totally ordered
// event log. See bus/inmemory for the reference implementation used by
// every test in this repository, and bus/sqlite for a durable backend.
package bus

import (
	"context"

	"trpc.group/trpc-go/trpc-agent-ctl/event"
)

// TopicAgentController is the subscription topic every root controller
// registers on.
const TopicAgentController = "agent_controller"

// Handler is invoked once per published event, in bus-id order, for every
// subscriber on the matching topic.
type Handler func(ctx context.Context, e *event.Event)

// Bus is the minimal subscribe/publish/range-query surface the controller
// needs. Implementations must assign a monotonically increasing ID to
// every published event and must deliver events to a given subscriber in
// that same order.
type Bus interface {
	// Subscribe registers h on topic and returns a subscription id usable
	// with Unsubscribe.
	Subscribe(topic string, h Handler) string

	// Unsubscribe removes the subscription previously returned by Subscribe.
	Unsubscribe(topic, id string)

	// AddEvent assigns e an ID, stores it, and delivers it to every
	// subscriber on TopicAgentController. It returns the same event with ID
	// populated.
	AddEvent(ctx context.Context, e *event.Event, source event.Source) (*event.Event, error)

	// GetEvents returns every stored event with start <= id <= end (end<0
	// means "up to latest"), in ascending id order unless reverse is true,
	// excluding any event whose Kind is in filterOut, and excluding hidden
	// events when filterHidden is true.
	GetEvents(
		ctx context.Context,
		start, end int64,
		reverse bool,
		filterOut []event.Kind,
		filterHidden bool,
	) ([]*event.Event, error)

	// GetLatestEventID returns the highest id assigned so far, or 0 if the
	// bus is empty.
	GetLatestEventID(ctx context.Context) (int64, error)
}
