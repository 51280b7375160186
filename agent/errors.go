//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package agent

import (
	"errors"
	"strings"
)

// Status codes surfaced through the controller's status callback. These
// match the sentinel strings an upstream UI keys its messaging off of.
const (
	StatusCodeLLMAuthentication     = "STATUS$ERROR_LLM_AUTHENTICATION"
	StatusCodeLLMServiceUnavailable = "STATUS$ERROR_LLM_SERVICE_UNAVAILABLE"
	StatusCodeLLMInternalServer     = "STATUS$ERROR_LLM_INTERNAL_SERVER_ERROR"
	StatusCodeLLMOutOfCredits       = "STATUS$ERROR_LLM_OUT_OF_CREDITS"
	StatusCodeLLMRetry              = "STATUS$LLM_RETRY"
)

// typedError is the shape every classified Stepper failure shares: a stable
// code for the last_error field and a human message.
type typedError struct {
	code    string
	message string
}

func (e *typedError) Error() string { return e.message }

// Code returns the stable classification string for this error, suitable
// for State.LastError. The status callback uses the StatusCode* constants
// above, not this value.
func (e *typedError) Code() string { return e.code }

// AuthenticationError signals the LLM provider rejected credentials.
type AuthenticationError struct{ typedError }

// NewAuthenticationError builds an AuthenticationError with the given message.
func NewAuthenticationError(message string) *AuthenticationError {
	return &AuthenticationError{typedError{code: "authentication_error", message: message}}
}

// AsAuthenticationError reports whether err is (or wraps) an AuthenticationError.
func AsAuthenticationError(err error) (*AuthenticationError, bool) {
	var e *AuthenticationError
	return e, errors.As(err, &e)
}

// ServiceUnavailableError signals a connection failure or opaque API error
// talking to the LLM provider.
type ServiceUnavailableError struct{ typedError }

// NewServiceUnavailableError builds a ServiceUnavailableError.
func NewServiceUnavailableError(message string) *ServiceUnavailableError {
	return &ServiceUnavailableError{typedError{code: "service_unavailable_error", message: message}}
}

// AsServiceUnavailableError reports whether err is (or wraps) a ServiceUnavailableError.
func AsServiceUnavailableError(err error) (*ServiceUnavailableError, bool) {
	var e *ServiceUnavailableError
	return e, errors.As(err, &e)
}

// InternalServerError signals a 5xx-class failure from the LLM provider.
type InternalServerError struct{ typedError }

// NewInternalServerError builds an InternalServerError.
func NewInternalServerError(message string) *InternalServerError {
	return &InternalServerError{typedError{code: "internal_server_error", message: message}}
}

// AsInternalServerError reports whether err is (or wraps) an InternalServerError.
func AsInternalServerError(err error) (*InternalServerError, bool) {
	var e *InternalServerError
	return e, errors.As(err, &e)
}

// OutOfCreditsError signals a bad-request failure whose body indicates the
// account's budget has been exceeded upstream (independent of our own
// Limits.MaxBudget).
type OutOfCreditsError struct{ typedError }

// NewOutOfCreditsError builds an OutOfCreditsError.
func NewOutOfCreditsError(message string) *OutOfCreditsError {
	return &OutOfCreditsError{typedError{code: "out_of_credits_error", message: message}}
}

// AsOutOfCreditsError reports whether err is (or wraps) an OutOfCreditsError.
func AsOutOfCreditsError(err error) (*OutOfCreditsError, bool) {
	var e *OutOfCreditsError
	return e, errors.As(err, &e)
}

// RateLimitError signals the LLM provider throttled the request. Unlike the
// other taxonomy kinds this is non-terminal: the controller moves to
// AgentStateRateLimited rather than AgentStateError.
type RateLimitError struct{ typedError }

// NewRateLimitError builds a RateLimitError.
func NewRateLimitError(message string) *RateLimitError {
	return &RateLimitError{typedError{code: "rate_limit_error", message: message}}
}

// AsRateLimitError reports whether err is (or wraps) a RateLimitError.
func AsRateLimitError(err error) (*RateLimitError, bool) {
	var e *RateLimitError
	return e, errors.As(err, &e)
}

// MalformedActionError signals the model produced an action the controller
// could not parse. This is a transient model-output failure: the
// controller records an Error observation and continues without a state
// change.
type MalformedActionError struct{ typedError }

// NewMalformedActionError builds a MalformedActionError.
func NewMalformedActionError(message string) *MalformedActionError {
	return &MalformedActionError{typedError{code: "malformed_action_error", message: message}}
}

// AsMalformedActionError reports whether err is (or wraps) a MalformedActionError.
func AsMalformedActionError(err error) (*MalformedActionError, bool) {
	var e *MalformedActionError
	return e, errors.As(err, &e)
}

// NoActionError signals the model produced no action at all. Transient,
// same recovery as MalformedActionError.
type NoActionError struct{ typedError }

// NewNoActionError builds a NoActionError.
func NewNoActionError(message string) *NoActionError {
	return &NoActionError{typedError{code: "no_action_error", message: message}}
}

// AsNoActionError reports whether err is (or wraps) a NoActionError.
func AsNoActionError(err error) (*NoActionError, bool) {
	var e *NoActionError
	return e, errors.As(err, &e)
}

// ResponseError wraps an opaque failure parsing or validating the model's
// raw response. Transient, same recovery as MalformedActionError.
type ResponseError struct{ typedError }

// NewResponseError builds a ResponseError.
func NewResponseError(message string) *ResponseError {
	return &ResponseError{typedError{code: "response_error", message: message}}
}

// AsResponseError reports whether err is (or wraps) a ResponseError.
func AsResponseError(err error) (*ResponseError, bool) {
	var e *ResponseError
	return e, errors.As(err, &e)
}

// FunctionCallValidationError signals a tool call whose arguments failed
// schema validation. Transient, same recovery as MalformedActionError.
type FunctionCallValidationError struct{ typedError }

// NewFunctionCallValidationError builds a FunctionCallValidationError.
func NewFunctionCallValidationError(message string) *FunctionCallValidationError {
	return &FunctionCallValidationError{typedError{code: "function_call_validation_error", message: message}}
}

// AsFunctionCallValidationError reports whether err is (or wraps) a FunctionCallValidationError.
func AsFunctionCallValidationError(err error) (*FunctionCallValidationError, bool) {
	var e *FunctionCallValidationError
	return e, errors.As(err, &e)
}

// FunctionCallNotExistsError signals a tool call naming a tool the agent
// does not have. Transient, same recovery as MalformedActionError.
type FunctionCallNotExistsError struct{ typedError }

// NewFunctionCallNotExistsError builds a FunctionCallNotExistsError.
func NewFunctionCallNotExistsError(message string) *FunctionCallNotExistsError {
	return &FunctionCallNotExistsError{typedError{code: "function_call_not_exists_error", message: message}}
}

// AsFunctionCallNotExistsError reports whether err is (or wraps) a FunctionCallNotExistsError.
func AsFunctionCallNotExistsError(err error) (*FunctionCallNotExistsError, bool) {
	var e *FunctionCallNotExistsError
	return e, errors.As(err, &e)
}

// contextWindowSubstrings are the case-insensitive needles used to detect a
// context-window-exceeded failure when the underlying LLM library didn't
// give us a typed error. Kept narrow and stable per the spec's explicit
// open question: a future version may standardize on the typed error below
// and retire this heuristic.
var contextWindowSubstrings = []string{
	"contextwindowexceedederror",
	"prompt is too long",
	"input length and `max_tokens` exceed context limit",
}

// ContextWindowExceededError signals the model's context window was
// exceeded by the current request.
type ContextWindowExceededError struct{ typedError }

// NewContextWindowExceededError builds a ContextWindowExceededError.
func NewContextWindowExceededError(message string) *ContextWindowExceededError {
	return &ContextWindowExceededError{typedError{code: "context_window_exceeded_error", message: message}}
}

// AsContextWindowExceededError reports whether err is a typed
// ContextWindowExceededError, OR an unclassified error whose message
// matches one of the known context-window substrings. The latter exists
// because upstream LLM client libraries do not consistently wrap this
// failure in a typed error.
func AsContextWindowExceededError(err error) (*ContextWindowExceededError, bool) {
	var e *ContextWindowExceededError
	if errors.As(err, &e) {
		return e, true
	}
	if err == nil {
		return nil, false
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range contextWindowSubstrings {
		if strings.Contains(msg, needle) {
			return NewContextWindowExceededError(err.Error()), true
		}
	}
	return nil, false
}
