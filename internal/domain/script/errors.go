package script

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrScriptRemoved rejects loads that were pending when the last
	// subscriber removed the instance
	ErrScriptRemoved = errors.New("script removed")

	ErrMissingURL            = errors.New("missing url")
	ErrMalformedURL          = errors.New("malformed url")
	ErrDomainNotAllowed      = errors.New("domain not allowed")
	ErrRedirectNotAllowed    = errors.New("redirect not allowed")
	ErrContentTypeNotAllowed = errors.New("content type not allowed")
	ErrIntegrityMismatch     = errors.New("integrity mismatch")
	ErrRefererMismatch       = errors.New("referer mismatch")
)

// FieldError describes one failed field check
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message"`
}

// ValidationError reports provider options that do not match their schema
type ValidationError struct {
	Subject string
	Fields  []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return fmt.Sprintf("invalid options for %s: %s", e.Subject, strings.Join(parts, "; "))
}

// RelayFetchError reports an upstream fetch that failed
type RelayFetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *RelayFetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("relay fetch %s: upstream status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("relay fetch %s: %v", e.URL, e.Err)
}

func (e *RelayFetchError) Unwrap() error { return e.Err }

// ScriptExecutionError reports a script that failed to load or run
type ScriptExecutionError struct {
	Key   string
	Phase string
	Err   error
}

func (e *ScriptExecutionError) Error() string {
	return fmt.Sprintf("script %s failed during %s: %v", e.Key, e.Phase, e.Err)
}

func (e *ScriptExecutionError) Unwrap() error { return e.Err }

// SecurityPolicyViolation reports a request rejected by relay policy
type SecurityPolicyViolation struct {
	URL    string
	Reason error
}

func (e *SecurityPolicyViolation) Error() string {
	return fmt.Sprintf("policy violation for %q: %v", e.URL, e.Reason)
}

func (e *SecurityPolicyViolation) Unwrap() error { return e.Reason }
