package memory

import "errors"

// Shared error taxonomy. Every component wraps one of these sentinels so
// callers can classify failures with errors.Is regardless of which layer
// produced them.
var (
	// ErrValidation indicates a malformed scope/scope_id combination or an
	// unknown enum value. Returned synchronously to the caller.
	ErrValidation = errors.New("validation failed")

	// ErrPermissionDenied indicates the actor lacks rights for the requested
	// scope or operation.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound indicates a referenced memory, team, or application id
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrProvider indicates embedding generation failed (network, rate
	// limit, timeout). Retryable.
	ErrProvider = errors.New("embedding provider error")

	// ErrPipelineUnavailable indicates no embedding infrastructure is
	// configured. Non-retryable; recorded as a terminal failed status.
	ErrPipelineUnavailable = errors.New("embedding pipeline unavailable")

	// ErrAlreadySuperseded indicates an attempt to supersede a memory that
	// already has a supersession link. The link is forward-only and set at
	// most once.
	ErrAlreadySuperseded = errors.New("memory already superseded")
)
