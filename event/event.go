//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package event defines the event exchanged between the controller and the
// bus: the single wire type for both Actions and Observations.
package event

import (
	"encoding/json"
	"time"

	"trpc.group/trpc-go/trpc-agent-ctl/model"
)

// Source identifies who authored an event.
type Source string

// Sources recognized by the controller.
const (
	SourceUser        Source = "user"
	SourceAgent       Source = "agent"
	SourceEnvironment Source = "environment"
)

// Kind is the tagged variant of an event: which Action or Observation this
// is. Dispatch is by comparing Kind, never by a type hierarchy.
type Kind string

// Action kinds.
const (
	KindMessage          Kind = "action.message"
	KindAgentDelegate    Kind = "action.agent_delegate"
	KindAgentFinish      Kind = "action.agent_finish"
	KindAgentReject      Kind = "action.agent_reject"
	KindChangeAgentState Kind = "action.change_agent_state"
	KindCondensation     Kind = "action.condensation"
	KindRecall           Kind = "action.recall"
	KindCmdRun           Kind = "action.cmd_run"
	KindIPythonRun       Kind = "action.ipython_run"
	KindNullAction       Kind = "action.null"
)

// Observation kinds.
const (
	KindAgentStateChanged Kind = "observation.agent_state_changed"
	KindAgentDelegateDone Kind = "observation.agent_delegate_done"
	KindError             Kind = "observation.error"
	KindNullObservation   Kind = "observation.null"
	KindGeneric           Kind = "observation.generic"
)

// IsAction reports whether k is one of the Action kinds.
func (k Kind) IsAction() bool {
	switch k {
	case KindMessage, KindAgentDelegate, KindAgentFinish, KindAgentReject,
		KindChangeAgentState, KindCondensation, KindRecall, KindCmdRun,
		KindIPythonRun, KindNullAction:
		return true
	default:
		return false
	}
}

// IsObservation reports whether k is one of the Observation kinds.
func (k Kind) IsObservation() bool {
	switch k {
	case KindAgentStateChanged, KindAgentDelegateDone, KindError,
		KindNullObservation, KindGeneric:
		return true
	default:
		return false
	}
}

// ConfirmationState is carried by actions that may require user
// confirmation before they are allowed to run.
type ConfirmationState string

// Confirmation states.
const (
	ConfirmationNone      ConfirmationState = ""
	ConfirmationAwaiting  ConfirmationState = "awaiting_confirmation"
	ConfirmationConfirmed ConfirmationState = "confirmed"
	ConfirmationRejected  ConfirmationState = "rejected"
)

// RecallType distinguishes the two Recall action flavors the controller
// issues on a user message.
type RecallType string

// Recall types.
const (
	RecallWorkspaceContext RecallType = "workspace_context"
	RecallKnowledge        RecallType = "knowledge"
)

// Event is the single wire type for both Actions and Observations flowing
// through the bus. ID is assigned by the bus, not by the publisher.
type Event struct {
	// ID is the monotonically increasing identifier assigned by the bus.
	// Zero means "not yet published".
	ID int64 `json:"id"`

	// Source is who authored the event: USER, AGENT, or ENVIRONMENT.
	Source Source `json:"source"`

	// Kind is the tagged Action/Observation variant.
	Kind Kind `json:"kind"`

	// Timestamp is when the event was constructed.
	Timestamp time.Time `json:"timestamp"`

	// Hidden marks an event that must not be recorded in any controller's
	// history, even though it is visible to bus range queries.
	Hidden bool `json:"hidden,omitempty"`

	// Cause is the ID of the action this observation answers. Zero for
	// actions, and for observations with no matching action.
	Cause int64 `json:"cause,omitempty"`

	// ConfirmationState is set on actions that require user confirmation
	// before they may run.
	ConfirmationState ConfirmationState `json:"confirmationState,omitempty"`

	// ToolCallMetadata is an opaque correlation token the agent attaches to
	// an action so a later (possibly synthetic) observation can be matched
	// back to the originating tool call.
	ToolCallMetadata string `json:"toolCallMetadata,omitempty"`

	// Runnable marks an action that corresponds to a real tool invocation
	// (e.g. CmdRun, IPythonRun) as opposed to a pure control action.
	Runnable bool `json:"runnable,omitempty"`

	// WaitForResponse marks an AGENT Message action that expects the user
	// to reply before the controller should step again.
	WaitForResponse bool `json:"waitForResponse,omitempty"`

	// Usage is the latest token usage snapshot attached to agent-published
	// actions. It carries no cost figure; accumulated cost stays in the
	// controller's metrics.Ledger.
	Usage *model.Usage `json:"usage,omitempty"`

	// Payload is the kind-specific body: *model.Message for KindMessage,
	// *AgentDelegate for KindAgentDelegate, *Outcome for
	// KindAgentFinish/KindAgentReject, *Condensation for KindCondensation,
	// *Recall for KindRecall, *CmdRun/*IPythonRun for the runnable kinds,
	// *StateChange for KindAgentStateChanged, *DelegateDone for
	// KindAgentDelegateDone, or a plain string for KindError/KindGeneric.
	Payload any `json:"payload,omitempty"`
}

// Option configures an Event built via New.
type Option func(*Event)

// WithHidden marks the event hidden.
func WithHidden() Option { return func(e *Event) { e.Hidden = true } }

// WithCause sets the id of the action this observation answers.
func WithCause(id int64) Option { return func(e *Event) { e.Cause = id } }

// WithToolCallMetadata attaches a correlation token.
func WithToolCallMetadata(token string) Option {
	return func(e *Event) { e.ToolCallMetadata = token }
}

// WithRunnable marks the action as a real tool invocation.
func WithRunnable() Option { return func(e *Event) { e.Runnable = true } }

// WithWaitForResponse marks an AGENT Message action as expecting a user
// reply before the controller steps again.
func WithWaitForResponse() Option { return func(e *Event) { e.WaitForResponse = true } }

// WithUsage attaches a metrics snapshot.
func WithUsage(u *model.Usage) Option { return func(e *Event) { e.Usage = u } }

// WithConfirmationState sets the confirmation state.
func WithConfirmationState(s ConfirmationState) Option {
	return func(e *Event) { e.ConfirmationState = s }
}

// New creates an Event with the given source, kind and payload. The bus
// assigns ID on publish; callers never set it directly.
func New(source Source, kind Kind, payload any, opts ...Option) *Event {
	e := &Event{
		Source:    source,
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   payload,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewErrorObservation builds a KindError observation, optionally answering
// a specific action.
func NewErrorObservation(source Source, message string, cause int64, toolCallMetadata string) *Event {
	var opts []Option
	if cause > 0 {
		opts = append(opts, WithCause(cause))
	}
	if toolCallMetadata != "" {
		opts = append(opts, WithToolCallMetadata(toolCallMetadata))
	}
	return New(source, KindError, message, opts...)
}

// Clone returns a shallow-safe copy of e: the struct itself and its Usage
// pointer are copied; Payload is copied by reference since payload structs
// are never mutated after publication.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Usage != nil {
		usage := *e.Usage
		clone.Usage = &usage
	}
	return &clone
}

// Marshal serializes the event to JSON.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal deserializes the event from JSON.
func (e *Event) Unmarshal(data []byte) error {
	return json.Unmarshal(data, e)
}

// IsFinal reports whether this event ends the controller's run: an
// AgentFinish or AgentReject action.
func (e *Event) IsFinal() bool {
	if e == nil {
		return false
	}
	return e.Kind == KindAgentFinish || e.Kind == KindAgentReject
}
