//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package event

// AgentDelegate is the payload of a KindAgentDelegate action.
type AgentDelegate struct {
	// Agent names the sub-agent configuration to delegate to.
	Agent string `json:"agent"`
	// Inputs carries the delegate's task inputs, e.g. {"task": "..."}.
	Inputs map[string]string `json:"inputs"`
}

// Outcome is the payload of a KindAgentFinish or KindAgentReject action.
type Outcome struct {
	Outputs map[string]string `json:"outputs"`
}

// Condensation is the payload of a KindCondensation action.
type Condensation struct {
	ForgottenStart int64 `json:"forgottenStart"`
	ForgottenEnd   int64 `json:"forgottenEnd"`
}

// Recall is the payload of a KindRecall action.
type Recall struct {
	Type  RecallType `json:"type"`
	Query string     `json:"query"`
}

// CmdRun is the payload of a KindCmdRun action.
type CmdRun struct {
	Command string `json:"command"`
}

// IPythonRun is the payload of a KindIPythonRun action.
type IPythonRun struct {
	Code string `json:"code"`
}

// StateChange is the payload of a KindAgentStateChanged observation.
type StateChange struct {
	Reason string `json:"reason"`
}

// ChangeState is the payload of a KindChangeAgentState action. Target is the
// requested controller.AgentState, carried as a plain string so this
// package never imports package controller.
type ChangeState struct {
	Target string `json:"target"`
}

// DelegateDone is the payload of a KindAgentDelegateDone observation.
type DelegateDone struct {
	Outputs map[string]string `json:"outputs,omitempty"`
	Content string            `json:"content"`
}
