package metadata

import (
	"errors"
	"fmt"
)

// StoreError represents a domain error returned by the core.
//
// These are namespace and handle errors (file not found, sharing violation,
// etc.) as opposed to infrastructure errors (spill file I/O). Adapters
// translate the Code into their native convention (POSIX errno, NTSTATUS,
// NSError domain) using Errno or Kind.
type StoreError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Path is the filesystem path related to the error (if applicable)
	Path string

	// Err is the underlying cause, if any
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is matches another *StoreError by code, so errors.Is(err, &StoreError{Code: ErrNotFound})
// works regardless of message and path.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// ErrorCode represents the category of a core error.
type ErrorCode int

const (
	// ErrNotFound indicates a missing path, branch, snapshot, handle, lock,
	// xattr or stream
	ErrNotFound ErrorCode = iota

	// ErrAlreadyExists indicates a conflicting create
	ErrAlreadyExists

	// ErrNotEmpty indicates rmdir (or rename over) a non-empty directory
	ErrNotEmpty

	// ErrBusy indicates deletion of a snapshot or branch that is still in use
	ErrBusy

	// ErrPermissionDenied indicates a mode or ownership check failure
	ErrPermissionDenied

	// ErrWouldBlock indicates a byte-range lock or share-mode conflict
	ErrWouldBlock

	// ErrResourceExhausted indicates allocation failure, spill I/O failure
	// or a configured limit being reached
	ErrResourceExhausted

	// ErrInvalidArgument indicates a malformed name, path, range or payload
	ErrInvalidArgument

	// ErrInternal indicates an invariant violation. Always a bug.
	ErrInternal

	// ErrNotDirectory indicates a non-terminal path segment, or the target of
	// a directory operation, is not a directory
	ErrNotDirectory

	// ErrIsDirectory indicates a file operation addressed a directory
	ErrIsDirectory

	// ErrInvalidName indicates a name component failed validation
	ErrInvalidName

	// ErrNameTooLong indicates a name component exceeds MaxNameLen
	ErrNameTooLong

	// ErrNotSupported indicates a feature disabled by configuration
	ErrNotSupported

	// ErrReadOnly indicates a mutation through a snapshot view
	ErrReadOnly

	// ErrInvalidHandle indicates an unknown or already closed handle
	ErrInvalidHandle

	// ErrTooManyOpenFiles indicates the open handle limit was reached
	ErrTooManyOpenFiles
)

// Kind is the coarse error class shared by every adapter and by the
// control plane responses.
type Kind string

const (
	KindNotFound          Kind = "not-found"
	KindAlreadyExists     Kind = "already-exists"
	KindNotEmpty          Kind = "not-empty"
	KindBusy              Kind = "busy"
	KindPermissionDenied  Kind = "permission-denied"
	KindWouldBlock        Kind = "would-block"
	KindResourceExhausted Kind = "resource-exhausted"
	KindInvalidArgument   Kind = "invalid-argument"
	KindInternal          Kind = "internal"
)

var codeNames = map[ErrorCode]string{
	ErrNotFound:          "NotFound",
	ErrAlreadyExists:     "AlreadyExists",
	ErrNotEmpty:          "NotEmpty",
	ErrBusy:              "Busy",
	ErrPermissionDenied:  "PermissionDenied",
	ErrWouldBlock:        "WouldBlock",
	ErrResourceExhausted: "ResourceExhausted",
	ErrInvalidArgument:   "InvalidArgument",
	ErrInternal:          "Internal",
	ErrNotDirectory:      "NotDirectory",
	ErrIsDirectory:       "IsDirectory",
	ErrInvalidName:       "InvalidName",
	ErrNameTooLong:       "NameTooLong",
	ErrNotSupported:      "NotSupported",
	ErrReadOnly:          "ReadOnly",
	ErrInvalidHandle:     "InvalidHandle",
	ErrTooManyOpenFiles:  "TooManyOpenFiles",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Kind folds the code onto the coarse error taxonomy.
func (c ErrorCode) Kind() Kind {
	switch c {
	case ErrNotFound:
		return KindNotFound
	case ErrAlreadyExists:
		return KindAlreadyExists
	case ErrNotEmpty:
		return KindNotEmpty
	case ErrBusy:
		return KindBusy
	case ErrPermissionDenied, ErrReadOnly:
		return KindPermissionDenied
	case ErrWouldBlock:
		return KindWouldBlock
	case ErrResourceExhausted, ErrTooManyOpenFiles:
		return KindResourceExhausted
	case ErrInvalidArgument, ErrNotDirectory, ErrIsDirectory, ErrInvalidName,
		ErrNameTooLong, ErrNotSupported, ErrInvalidHandle:
		return KindInvalidArgument
	default:
		return KindInternal
	}
}

// POSIX errno values (Linux numbering). Adapters on other platforms
// translate from Kind or Code instead.
const (
	errnoEIO          = 5
	errnoEBADF        = 9
	errnoEAGAIN       = 11
	errnoEACCES       = 13
	errnoEBUSY        = 16
	errnoEEXIST       = 17
	errnoENOTDIR      = 20
	errnoEISDIR       = 21
	errnoEINVAL       = 22
	errnoEMFILE       = 24
	errnoENOSPC       = 28
	errnoEROFS        = 30
	errnoENAMETOOLONG = 36
	errnoENOTEMPTY    = 39
	errnoENOENT       = 2
	errnoENOTSUP      = 95
)

// Errno returns the POSIX errno for the code.
func (c ErrorCode) Errno() int {
	switch c {
	case ErrNotFound:
		return errnoENOENT
	case ErrAlreadyExists:
		return errnoEEXIST
	case ErrNotEmpty:
		return errnoENOTEMPTY
	case ErrBusy:
		return errnoEBUSY
	case ErrPermissionDenied:
		return errnoEACCES
	case ErrWouldBlock:
		return errnoEAGAIN
	case ErrResourceExhausted:
		return errnoENOSPC
	case ErrInvalidArgument, ErrInvalidName:
		return errnoEINVAL
	case ErrNotDirectory:
		return errnoENOTDIR
	case ErrIsDirectory:
		return errnoEISDIR
	case ErrNameTooLong:
		return errnoENAMETOOLONG
	case ErrNotSupported:
		return errnoENOTSUP
	case ErrReadOnly:
		return errnoEROFS
	case ErrInvalidHandle:
		return errnoEBADF
	case ErrTooManyOpenFiles:
		return errnoEMFILE
	default:
		return errnoEIO
	}
}

// NewError builds a *StoreError with a formatted message.
func NewError(code ErrorCode, path string, format string, args ...any) *StoreError {
	return &StoreError{Code: code, Message: fmt.Sprintf(format, args...), Path: path}
}

// WrapError builds a *StoreError carrying cause.
func WrapError(code ErrorCode, path string, cause error, format string, args ...any) *StoreError {
	return &StoreError{Code: code, Message: fmt.Sprintf(format, args...), Path: path, Err: cause}
}

// CodeOf extracts the ErrorCode from err. Errors that are not a *StoreError
// report ErrInternal.
func CodeOf(err error) ErrorCode {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrInternal
}

// IsCode reports whether err is a *StoreError with the given code.
func IsCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	var se *StoreError
	return errors.As(err, &se) && se.Code == code
}

// KindOf returns the taxonomy class of err, or "" for a nil error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return CodeOf(err).Kind()
}
