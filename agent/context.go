//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package agent

import "context"

// ErrorTypeAgentContextError is used for errors surfaced from context
// cancellation while a step was in flight.
const ErrorTypeAgentContextError = "agent_context_cancelled_error"

// CheckContextCancelled returns ctx.Err() if ctx has already been
// cancelled, nil otherwise. It never blocks. No package in this repository
// calls it; it is exported for Stepper implementations and other callers.
func CheckContextCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
