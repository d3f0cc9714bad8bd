// SPDX-License-Identifier: MIT

package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/openbookings/calsync/internal/domain"
)

// Code is the closed failure taxonomy. Every provider-specific error is
// normalized into one of these before it crosses into the health machine
// or the coalescer.
type Code string

const (
	CodeUnauthorized        Code = "unauthorized"
	CodeNotFound            Code = "not_found"
	CodeRateLimited         Code = "rate_limited"
	CodeNetworkError        Code = "network_error"
	CodeUnsupportedProvider Code = "unsupported_provider"
	CodeTokenExpired        Code = "token_expired"
	CodeTimeout             Code = "timeout"
	CodeWorkerDied          Code = "worker_died"
	CodeModuleUnavailable   Code = "module_unavailable"
	CodeException           Code = "exception"
)

// Error is a classified provider failure.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.cause }

// NewError builds a classified error without an underlying cause.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError classifies an underlying error under the given code.
func WrapError(code Code, err error) *Error {
	if err == nil {
		return &Error{Code: code}
	}
	return &Error{Code: code, Message: err.Error(), cause: err}
}

// CodeOf extracts the taxonomy code from err. Unclassified errors map to
// exception; nil maps to the empty code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeException
}

// Transient reports whether the code names a failure class expected to
// clear on its own. Used for user-facing messaging only; the health
// machine treats every non-success outcome identically.
func Transient(code Code) bool {
	switch code {
	case CodeNetworkError, CodeRateLimited, CodeTimeout:
		return true
	default:
		return false
	}
}

// AuthFailure reports whether the code names a credential problem the
// owner has to resolve.
func AuthFailure(code Code) bool {
	return code == CodeUnauthorized || code == CodeTokenExpired
}

// Classify normalizes an arbitrary error from a provider call. Context
// deadline and transport failures become network classes; everything
// unrecognized becomes exception.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}

	if errors.Is(err, domain.ErrUnknownProvider) {
		return WrapError(CodeUnsupportedProvider, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return WrapError(CodeTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return WrapError(CodeTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return WrapError(CodeTimeout, err)
		}
		return WrapError(CodeNetworkError, err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return WrapError(CodeNetworkError, err)
	}

	return WrapError(CodeException, err)
}

// classifyStatus maps an HTTP response status to the taxonomy. Statuses in
// the 2xx range return nil.
func classifyStatus(resp *http.Response) *Error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return NewError(CodeUnauthorized, resp.Status)
	case resp.StatusCode == http.StatusNotFound:
		return NewError(CodeNotFound, resp.Status)
	case resp.StatusCode == http.StatusTooManyRequests:
		return NewError(CodeRateLimited, resp.Status)
	case resp.StatusCode >= 500:
		return NewError(CodeNetworkError, resp.Status)
	default:
		return NewError(CodeException, resp.Status)
	}
}
