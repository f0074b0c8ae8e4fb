// Package errs implements the sbh error taxonomy: a small set of stable
// SBH-NNNN coded errors with a retryability predicate, mirrored from the
// error kinds used throughout the daemon's monitor, scanner, and logger
// components.
package errs

import "fmt"

// Kind identifies an error category and its stable SBH-NNNN code.
type Kind int

const (
	InvalidConfig Kind = iota
	MissingConfig
	ConfigParse
	UnsupportedPlatform
	FsStats
	MountParse
	SafetyVeto
	Serialization
	Sql
	PermissionDenied
	Io
	ChannelClosed
	Runtime
)

var codes = map[Kind]string{
	InvalidConfig:       "SBH-1001",
	MissingConfig:       "SBH-1002",
	ConfigParse:         "SBH-1003",
	UnsupportedPlatform: "SBH-1101",
	FsStats:             "SBH-2001",
	MountParse:          "SBH-2002",
	SafetyVeto:          "SBH-2003",
	Serialization:       "SBH-2101",
	Sql:                 "SBH-2102",
	PermissionDenied:    "SBH-3001",
	Io:                  "SBH-3002",
	ChannelClosed:       "SBH-3003",
	Runtime:             "SBH-3900",
}

// retryable is the fixed set of kinds a caller may safely retry.
var retryable = map[Kind]bool{
	Io:            true,
	ChannelClosed: true,
	FsStats:       true,
	Sql:           true,
	Runtime:       true,
}

// Error is the concrete error type carried throughout sbh. Path and
// Context are optional and rendered only when non-empty.
type Error struct {
	Kind    Kind
	Path    string
	Context string
	Details string
	Cause   error
}

func (e *Error) Error() string {
	code := codes[e.Kind]
	switch e.Kind {
	case InvalidConfig:
		return fmt.Sprintf("[%s] invalid configuration: %s", code, e.Details)
	case MissingConfig:
		return fmt.Sprintf("[%s] missing configuration file: %s", code, e.Path)
	case ConfigParse:
		return fmt.Sprintf("[%s] configuration parse failure in %s: %s", code, e.Context, e.Details)
	case UnsupportedPlatform:
		return fmt.Sprintf("[%s] unsupported platform: %s", code, e.Details)
	case FsStats:
		return fmt.Sprintf("[%s] filesystem stats failure for %s: %s", code, e.Path, e.Details)
	case MountParse:
		return fmt.Sprintf("[%s] mount table parse failure: %s", code, e.Details)
	case SafetyVeto:
		return fmt.Sprintf("[%s] safety veto for %s: %s", code, e.Path, e.Details)
	case Serialization:
		return fmt.Sprintf("[%s] serialization failure in %s: %s", code, e.Context, e.Details)
	case Sql:
		return fmt.Sprintf("[%s] SQL failure in %s: %s", code, e.Context, e.Details)
	case PermissionDenied:
		return fmt.Sprintf("[%s] permission denied for %s", code, e.Path)
	case Io:
		if e.Cause != nil {
			return fmt.Sprintf("[%s] IO failure at %s: %v", code, e.Path, e.Cause)
		}
		return fmt.Sprintf("[%s] IO failure at %s", code, e.Path)
	case ChannelClosed:
		return fmt.Sprintf("[%s] channel closed in component %s", code, e.Context)
	case Runtime:
		return fmt.Sprintf("[%s] runtime failure: %s", code, e.Details)
	default:
		return fmt.Sprintf("[%s] unknown error", code)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// Code returns the stable SBH-NNNN code for this error's kind.
func (e *Error) Code() string { return codes[e.Kind] }

// IsRetryable reports whether a caller may retry the operation that
// produced this error.
func (e *Error) IsRetryable() bool { return retryable[e.Kind] }

func New(kind Kind, path, context, details string, cause error) *Error {
	return &Error{Kind: kind, Path: path, Context: context, Details: details, Cause: cause}
}

func NewIO(path string, cause error) *Error {
	return &Error{Kind: Io, Path: path, Cause: cause}
}

func NewSafetyVeto(path, reason string) *Error {
	return &Error{Kind: SafetyVeto, Path: path, Details: reason}
}

func NewFsStats(path, details string) *Error {
	return &Error{Kind: FsStats, Path: path, Details: details}
}

func NewSql(context string, cause error) *Error {
	return &Error{Kind: Sql, Context: context, Details: errString(cause), Cause: cause}
}

func NewChannelClosed(component string) *Error {
	return &Error{Kind: ChannelClosed, Context: component}
}

func NewRuntime(details string) *Error {
	return &Error{Kind: Runtime, Details: details}
}

func NewInvalidConfig(details string) *Error {
	return &Error{Kind: InvalidConfig, Details: details}
}

func NewPermissionDenied(path string) *Error {
	return &Error{Kind: PermissionDenied, Path: path}
}

func NewUnsupportedPlatform(details string) *Error {
	return &Error{Kind: UnsupportedPlatform, Details: details}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
