//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory is the reference bus.Bus implementation: a totally
// ordered, process-local event log with synchronous fanout to subscribers.
package inmemory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-agent-ctl/bus"
	"trpc.group/trpc-go/trpc-agent-ctl/event"
)

// Bus is an in-memory bus.Bus. The zero value is not usable; use New.
type Bus struct {
	mu          sync.Mutex
	events      []*event.Event
	nextID      int64
	subscribers map[string]map[string]bus.Handler // topic -> subID -> handler
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[string]map[string]bus.Handler),
	}
}

// Subscribe implements bus.Bus.
func (b *Bus) Subscribe(topic string, h bus.Handler) string {
	id := uuid.NewString()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers[topic] == nil {
		b.subscribers[topic] = make(map[string]bus.Handler)
	}
	b.subscribers[topic][id] = h
	return id
}

// Unsubscribe implements bus.Bus.
func (b *Bus) Unsubscribe(topic, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers[topic], id)
}

// AddEvent implements bus.Bus.
func (b *Bus) AddEvent(ctx context.Context, e *event.Event, source event.Source) (*event.Event, error) {
	e.Source = source

	b.mu.Lock()
	b.nextID++
	e.ID = b.nextID
	b.events = append(b.events, e)

	// Snapshot subscribers under the lock, then invoke outside it: a
	// handler may itself call AddEvent (e.g. a synthetic observation
	// published from inside OnEvent), which would otherwise deadlock.
	handlers := make([]bus.Handler, 0, len(b.subscribers[bus.TopicAgentController]))
	for _, h := range b.subscribers[bus.TopicAgentController] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(ctx, e)
	}
	return e, nil
}

// GetEvents implements bus.Bus.
func (b *Bus) GetEvents(
	_ context.Context,
	start, end int64,
	reverse bool,
	filterOut []event.Kind,
	filterHidden bool,
) ([]*event.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if end < 0 {
		end = b.nextID
	}

	filterSet := make(map[event.Kind]struct{}, len(filterOut))
	for _, k := range filterOut {
		filterSet[k] = struct{}{}
	}

	var result []*event.Event
	for _, e := range b.events {
		if e.ID < start || e.ID > end {
			continue
		}
		if _, skip := filterSet[e.Kind]; skip {
			continue
		}
		if filterHidden && e.Hidden {
			continue
		}
		result = append(result, e)
	}

	if reverse {
		for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
			result[i], result[j] = result[j], result[i]
		}
	}
	return result, nil
}

// GetLatestEventID implements bus.Bus.
func (b *Bus) GetLatestEventID(_ context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextID, nil
}
