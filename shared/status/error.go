package status

import (
	"errors"
	"fmt"
)

const (
	// StorageUnavailable indicates the object store could not be reached or refused the credentials
	StorageUnavailable Type = 1

	// SourceNotFound indicates the build output directory is missing or holds no files
	SourceNotFound Type = 2

	// CompressionError indicates the artifact archive could not be written
	CompressionError Type = 3

	// UploadFailed indicates the object store rejected or aborted an upload
	UploadFailed Type = 4

	// GrantIssuanceError indicates a signed download grant could not be produced
	GrantIssuanceError Type = 5

	// InvalidSpec indicates an empty identity or a too short entitlement key
	InvalidSpec Type = 6

	// CompilationFailed indicates the installer-script compiler is missing or reported a failure
	CompilationFailed Type = 7

	// DownloadFailed indicates the capsule could not fetch the artifact
	DownloadFailed Type = 8

	// ExtractionFailed indicates the artifact archive could not be unpacked or lacks the product executable
	ExtractionFailed Type = 9

	// InstallerInvocationFailed indicates the product installer could not be started
	InstallerInvocationFailed Type = 10

	// VerificationIncomplete indicates post-install checks did not find everything expected
	VerificationIncomplete Type = 11

	// Internal indicates some generic internal error
	Internal Type = 12

	// BuildFailed indicates the external product build command failed or timed out
	BuildFailed Type = 13
)

// Type is a type of the Error
type Type int32

func (t Type) String() string {
	switch t {
	case StorageUnavailable:
		return "StorageUnavailable"
	case SourceNotFound:
		return "SourceNotFound"
	case CompressionError:
		return "CompressionError"
	case UploadFailed:
		return "UploadFailed"
	case GrantIssuanceError:
		return "GrantIssuanceError"
	case InvalidSpec:
		return "InvalidSpec"
	case CompilationFailed:
		return "CompilationFailed"
	case DownloadFailed:
		return "DownloadFailed"
	case ExtractionFailed:
		return "ExtractionFailed"
	case InstallerInvocationFailed:
		return "InstallerInvocationFailed"
	case VerificationIncomplete:
		return "VerificationIncomplete"
	case Internal:
		return "Internal"
	case BuildFailed:
		return "BuildFailed"
	default:
		return fmt.Sprintf("Type(%d)", int32(t))
	}
}

// Error is a pipeline error. Step names the operation that caused it so the
// operator can tell which stage of a publish or generation run failed.
type Error struct {
	ErrorType Type
	Step      string
	Message   string
	// Diagnostics carries raw tool output, e.g. the compiler's stdout/stderr.
	Diagnostics string
	Err         error
}

// Type returns the Type of the error
func (e *Error) Type() Type {
	return e.ErrorType
}

// Error is an error string
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Step != "" {
		return fmt.Sprintf("%s [%s]: %s", e.ErrorType, e.Step, msg)
	}
	return fmt.Sprintf("%s: %s", e.ErrorType, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf returns Error(ErrorType, fmt.Sprintf(format, a...)).
func Errorf(errorType Type, format string, a ...interface{}) error {
	return &Error{
		ErrorType: errorType,
		Message:   fmt.Sprintf(format, a...),
	}
}

// Wrap attaches a type and the causing step to err. A nil err yields nil.
func Wrap(errorType Type, step string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{
		ErrorType: errorType,
		Step:      step,
		Err:       err,
	}
}

// WithStep returns a copy of a status error with the step set, or wraps a
// foreign error as Internal.
func WithStep(step string, err error) error {
	if err == nil {
		return nil
	}
	s, ok := FromError(err)
	if !ok {
		return Wrap(Internal, step, err)
	}
	cp := *s
	if cp.Step == "" {
		cp.Step = step
	}
	return &cp
}

// FromError returns Error, true if the provided error is of type of Error. nil, false otherwise
func FromError(err error) (s *Error, ok bool) {
	if err == nil {
		return nil, true
	}
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether err carries the given type anywhere in its chain.
func Is(err error, t Type) bool {
	if err == nil {
		return false
	}
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.ErrorType == t
}

// NewInvalidSpecError creates a new Error with InvalidSpec type
func NewInvalidSpecError(format string, a ...interface{}) error {
	return &Error{
		ErrorType: InvalidSpec,
		Step:      "validate",
		Message:   fmt.Sprintf(format, a...),
	}
}

// NewCompilationFailedError creates a new Error with CompilationFailed type and the compiler output attached
func NewCompilationFailedError(err error, diagnostics string) error {
	return &Error{
		ErrorType:   CompilationFailed,
		Step:        "compile",
		Message:     "installer compilation failed",
		Diagnostics: diagnostics,
		Err:         err,
	}
}
