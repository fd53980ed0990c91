package tools

import "errors"

// Sentinel errors for sandbox, filesystem, and tool failures. The sentinel
// text doubles as the short failure message the executor reports back to the
// model, so keep it human-readable.
var (
	ErrInvalidSandbox     = errors.New("invalid sandbox root")
	ErrPathOutsideSandbox = errors.New("path escapes sandbox root")
	ErrPathNotFound       = errors.New("path not found")
	ErrPathNotDirectory   = errors.New("path is not a directory")
	ErrPathNotFile        = errors.New("path is not a regular file")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrIoFailure          = errors.New("i/o failure")

	ErrInvalidPayload        = errors.New("invalid tool arguments")
	ErrOffsetExceedsLength   = errors.New("offset exceeds file length")
	ErrAnchorExceedsLength   = errors.New("anchor line exceeds file length")
	ErrNoEntriesRequested    = errors.New("no entries requested")
	ErrBinaryUnavailable     = errors.New("search binary unavailable")
	ErrCommandFailed         = errors.New("search command failed")
	ErrToolLimitExceeded     = errors.New("tool output limit exceeded")
	ErrInvalidPatch          = errors.New("invalid patch")
	ErrPatchConflict         = errors.New("patch conflict")
	ErrAbsolutePathForbidden = errors.New("absolute paths are forbidden in patches")

	ErrWorkspaceWriteRequired = errors.New("workspace write required")
	ErrToolNotFound           = errors.New("tool not found")
	ErrToolUnavailable        = errors.New("tool unavailable")
)

// knownFailures is the order in which the executor matches typed errors onto
// canonical failure messages.
var knownFailures = []error{
	ErrPathOutsideSandbox,
	ErrPathNotFound,
	ErrPathNotDirectory,
	ErrPathNotFile,
	ErrPermissionDenied,
	ErrOffsetExceedsLength,
	ErrAnchorExceedsLength,
	ErrNoEntriesRequested,
	ErrBinaryUnavailable,
	ErrCommandFailed,
	ErrToolLimitExceeded,
	ErrInvalidPatch,
	ErrPatchConflict,
	ErrAbsolutePathForbidden,
	ErrInvalidPayload,
	ErrToolNotFound,
	ErrToolUnavailable,
	ErrInvalidSandbox,
	ErrIoFailure,
}
