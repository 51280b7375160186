//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package metrics implements the controller's Metrics Ledger: accumulated
// cost and token usage for a run, mirrored into OpenTelemetry instruments.
package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"trpc.group/trpc-go/trpc-agent-ctl/model"
)

const meterName = "trpc.group/trpc-go/trpc-agent-ctl/controller"

var (
	meter            = otel.Meter(meterName)
	costCounter, _   = meter.Float64Counter("agent_controller.accumulated_cost", metric.WithDescription("Cumulative USD cost attributed to a controller run."))
	tokenCounter, _  = meter.Int64Counter("agent_controller.token_usage", metric.WithDescription("Tokens consumed, by token type."))
	turnCounter, _   = meter.Int64Counter("agent_controller.turns", metric.WithDescription("Perceive-decide-act turns completed."))
)

// Ledger is the accumulated cost and latest token usage for a single
// controller. A delegate's local ledger is distinct from the shared ledger
// its parent and every sibling report into; see Merge.
type Ledger struct {
	mu sync.Mutex

	accumulatedCost float64
	latestUsage     model.Usage

	appName, userID, sessionID string
}

// New creates an empty Ledger tagged with the attributes attached to every
// metric it emits.
func New(appName, userID, sessionID string) *Ledger {
	return &Ledger{appName: appName, userID: userID, sessionID: sessionID}
}

// AddCost accumulates cost and records it to the OTel counter.
func (l *Ledger) AddCost(ctx context.Context, cost float64) {
	l.mu.Lock()
	l.accumulatedCost += cost
	l.mu.Unlock()
	costCounter.Add(ctx, cost, metric.WithAttributes(l.attributes()...))
}

// RecordUsage replaces the latest token usage snapshot and records it to the
// OTel counter. Unlike cost, usage is a per-turn snapshot, not a running
// total: the ledger always reports the most recent model call.
func (l *Ledger) RecordUsage(ctx context.Context, u model.Usage) {
	l.mu.Lock()
	l.latestUsage = u
	l.mu.Unlock()
	attrs := l.attributes()
	tokenCounter.Add(ctx, int64(u.PromptTokens), metric.WithAttributes(append(attrs, attribute.String("token.type", "prompt"))...))
	tokenCounter.Add(ctx, int64(u.CompletionTokens), metric.WithAttributes(append(attrs, attribute.String("token.type", "completion"))...))
}

// RecordTurn increments the turn counter for this ledger's attributes.
func (l *Ledger) RecordTurn(ctx context.Context) {
	turnCounter.Add(ctx, 1, metric.WithAttributes(l.attributes()...))
}

// Snapshot returns the current accumulated cost and latest usage.
func (l *Ledger) Snapshot() (cost float64, usage model.Usage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accumulatedCost, l.latestUsage
}

// Merge folds other's accumulated cost and latest usage into l. Used when a
// delegate's local ledger reports up into the shared ledger its parent holds
// a reference to.
func (l *Ledger) Merge(other *Ledger) {
	cost, usage := other.Snapshot()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accumulatedCost += cost
	l.latestUsage = usage
}

func (l *Ledger) attributes() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if l.appName != "" {
		attrs = append(attrs, attribute.String("app.name", l.appName))
	}
	if l.userID != "" {
		attrs = append(attrs, attribute.String("user.id", l.userID))
	}
	if l.sessionID != "" {
		attrs = append(attrs, attribute.String("session.id", l.sessionID))
	}
	return attrs
}
