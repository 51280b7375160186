//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package controller

import "trpc.group/trpc-go/trpc-agent-ctl/agent"

// isTransient reports whether err is one of the transient model-output
// failures §7 recovers locally (an Error observation, no state change).
func isTransient(err error) bool {
	if _, ok := agent.AsMalformedActionError(err); ok {
		return true
	}
	if _, ok := agent.AsNoActionError(err); ok {
		return true
	}
	if _, ok := agent.AsResponseError(err); ok {
		return true
	}
	if _, ok := agent.AsFunctionCallValidationError(err); ok {
		return true
	}
	if _, ok := agent.AsFunctionCallNotExistsError(err); ok {
		return true
	}
	return false
}

// classifyLLMFailure maps err to a status-callback code and message if it is
// one of the user-facing LLM failure kinds (excluding rate-limit, which the
// caller handles separately since it is non-terminal).
func classifyLLMFailure(err error) (code, message string, ok bool) {
	if e, ok := agent.AsAuthenticationError(err); ok {
		return agent.StatusCodeLLMAuthentication, e.Error(), true
	}
	if e, ok := agent.AsServiceUnavailableError(err); ok {
		return agent.StatusCodeLLMServiceUnavailable, e.Error(), true
	}
	if e, ok := agent.AsInternalServerError(err); ok {
		return agent.StatusCodeLLMInternalServer, e.Error(), true
	}
	if e, ok := agent.AsOutOfCreditsError(err); ok {
		return agent.StatusCodeLLMOutOfCredits, e.Error(), true
	}
	return "", "", false
}
