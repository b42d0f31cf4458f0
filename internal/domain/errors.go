// Package domain holds the entity types and error taxonomy shared across
// every subsystem. No component outside domain depends on storage, network,
// or transport details — domain is the one package everything else imports.
package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. These are the errors every component boundary maps
// into; see ErrorCodeOf for the machine-parseable code each resolves to.
var (
	ErrInvalidRequest    = fmt.Errorf("invalid request")
	ErrInvalidParameters = fmt.Errorf("invalid parameters")
	ErrNotFound          = fmt.Errorf("not found")
	ErrSizeLimit         = fmt.Errorf("size limit exceeded")
	ErrAuthInvalid       = fmt.Errorf("authentication failed")
	ErrRateLimit         = fmt.Errorf("rate limit exceeded")
	ErrTimeout           = fmt.Errorf("operation timed out")
	ErrCircuitOpen       = fmt.Errorf("circuit open")
	ErrStorage           = fmt.Errorf("storage error")
	ErrEmbedding         = fmt.Errorf("embedding error")
	ErrConflict          = fmt.Errorf("conflict")
	ErrInternal          = fmt.Errorf("internal error")
)

// DomainError wraps a sentinel error with operation context. It is the unit
// every component boundary (storage, embedding, search, graph, MCP) returns.
type DomainError struct {
	Op        string // operation name, e.g. "storage.PutNode"
	Err       error  // one of the sentinels above
	Detail    string // human-readable detail, never leaked to clients verbatim
	SubSystem string // optional subsystem tag; ErrorCodeOf does not read it
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewError creates a DomainError from a sentinel.
func NewError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubsystemError creates a DomainError tagged with a subsystem. The tag
// does not change the ErrorCode that ErrorCodeOf resolves.
func NewSubsystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context via fmt.Errorf wrapping. Returns nil if err
// is nil, so callers can write `return domain.WrapOp("op", err)` unconditionally.
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryable reports whether err is a transient failure that StabilityLayer
// may retry for idempotent reads (§4.9 — writes are never auto-retried).
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorage) || errors.Is(err, ErrTimeout)
}

// ErrorCode is the stable, machine-parseable error identifier surfaced in
// JSON-RPC error `data` fields (§6, §7).
type ErrorCode string

const (
	CodeUnknown             ErrorCode = "UNKNOWN"
	CodeInvalidRequest      ErrorCode = "INVALID_REQUEST"
	CodeInvalidParameters   ErrorCode = "INVALID_PARAMETERS"
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeSizeLimit           ErrorCode = "SIZE_LIMIT"
	CodeAuthError           ErrorCode = "AUTH_ERROR"
	CodeRateLimit           ErrorCode = "RATE_LIMIT"
	CodeTimeout             ErrorCode = "TIMEOUT"
	CodeCircuitOpen         ErrorCode = "CIRCUIT_OPEN"
	CodeStorageError        ErrorCode = "STORAGE_ERROR"
	CodeEmbeddingError      ErrorCode = "EMBEDDING_ERROR"
	CodeConflict            ErrorCode = "CONFLICT"
	CodeInternal            ErrorCode = "INTERNAL"
)

var errorCodeMap = map[error]ErrorCode{
	ErrInvalidRequest:    CodeInvalidRequest,
	ErrInvalidParameters: CodeInvalidParameters,
	ErrNotFound:          CodeNotFound,
	ErrSizeLimit:         CodeSizeLimit,
	ErrAuthInvalid:       CodeAuthError,
	ErrRateLimit:         CodeRateLimit,
	ErrTimeout:           CodeTimeout,
	ErrCircuitOpen:       CodeCircuitOpen,
	ErrStorage:           CodeStorageError,
	ErrEmbedding:         CodeEmbeddingError,
	ErrConflict:          CodeConflict,
	ErrInternal:          CodeInternal,
}

// ErrorCodeOf resolves err (optionally a *DomainError) to its stable code.
// Falls back to walking the chain with errors.Is, then CodeUnknown.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	if code, ok := errorCodeMap[err]; ok {
		return code
	}
	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeUnknown
}
