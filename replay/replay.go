//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package replay implements the controller's Replay Manager: a queue of
// pre-recorded actions that bypass the LLM but otherwise publish through the
// same path as a live step. Grounded on the teacher's
// internal/flow/llmflow resume-pending-tool-calls idea, generalized from
// "resume pending tool calls" to "replay a whole recorded action queue".
package replay

import (
	"sync"

	"trpc.group/trpc-go/trpc-agent-ctl/event"
)

// Manager holds an ordered queue of recorded actions awaiting replay.
type Manager struct {
	mu    sync.Mutex
	queue []*event.Event
}

// New creates a Manager that will replay queue, in order, before falling
// back to the live agent.
func New(queue []*event.Event) *Manager {
	m := &Manager{}
	m.queue = append(m.queue, queue...)
	return m
}

// ShouldReplay reports whether the queue still has actions pending.
func (m *Manager) ShouldReplay() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue) > 0
}

// Step pops and returns the next recorded action, or nil if the queue is
// empty.
func (m *Manager) Step() *event.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil
	}
	next := m.queue[0]
	m.queue = m.queue[1:]
	return next
}

// Remaining reports how many actions are left in the queue.
func (m *Manager) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
