package amp

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/getsentry/sentry-go"
)

type ErrorKind int

const (
	KindProtocol ErrorKind = iota
	KindIO
	KindCredential
	KindExecution
	KindNotFound
	KindUnsupported
)

type stack []uintptr
type Frame uintptr

var (
	ErrorKindToName = map[ErrorKind]string{
		KindProtocol:    "protocol",
		KindIO:          "io",
		KindCredential:  "credential",
		KindExecution:   "execution",
		KindNotFound:    "notfound",
		KindUnsupported: "unsupported",
	}

	// Sentinels for errors.Is. Every *Error matches the sentinel of its kind.
	ErrProtocol    = &Error{Kind: KindProtocol, Message: "protocol error"}
	ErrIO          = &Error{Kind: KindIO, Message: "i/o error"}
	ErrCredential  = &Error{Kind: KindCredential, Message: "credential error"}
	ErrExecution   = &Error{Kind: KindExecution, Message: "execution error"}
	ErrNotFound    = &Error{Kind: KindNotFound, Message: "not found"}
	ErrUnsupported = &Error{Kind: KindUnsupported, Message: "operation not supported"}
)

func (k ErrorKind) String() string {
	if name, ok := ErrorKindToName[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is the single error type surfaced by the command layer and the
// transport. Unsupported is not a failure of the exchange: it is raised
// before any network attempt when the protocol version lacks the operation.
type Error struct {
	Kind ErrorKind

	Device    string
	Operation string
	Version   ProtocolVersion

	Message  string
	InnerErr error

	// Fault is set when the device answered with a SOAP fault.
	Fault *FaultInfo

	Stack *stack
}

func callers() *stack {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	var st stack = pcs[0:n]
	return &st
}

// This function returns the Stacktrace of the error.
// The naming scheme corresponds to what Sentry fetches
// https://github.com/getsentry/sentry-go/blob/master/stacktrace.go#L49
func StackTrace(s *stack) []Frame {
	if s == nil {
		return nil
	}
	f := make([]Frame, len(*s))
	for i := 0; i < len(f); i++ {
		f[i] = Frame((*s)[i])
	}
	return f
}

func (e *Error) StackTrace() []Frame {
	return StackTrace(e.Stack)
}

func (e *Error) Error() string {
	devinfo := ""
	if e.Device != "" || e.Operation != "" {
		devinfo = fmt.Sprintf(" (device %s, operation %s)", e.Device, e.Operation)
	}

	var err string
	if e.InnerErr != nil {
		err = fmt.Sprintf(": %s", e.InnerErr.Error())
	}

	return fmt.Sprintf("amp %s: %s%s%s", e.Kind, e.Message, devinfo, err)
}

func (e *Error) Unwrap() error {
	return e.InnerErr
}

// Is matches the kind sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Device == "" && t.Operation == "" && t.InnerErr == nil && t.Stack == nil
}

func (e *Error) SetSentryScope(scope *sentry.Scope) {
	scope.SetTag("Type", e.Kind.String())
	if e.Device != "" {
		scope.SetTag("Device", e.Device)
	}
	if e.Operation != "" {
		scope.SetTag("Operation", e.Operation)
	}
	if e.Version != 0 {
		scope.SetTag("Version", e.Version.String())
	}
	if e.Fault != nil {
		scope.SetExtra("Fault.Code", e.Fault.Code)
		scope.SetExtra("Fault.String", e.Fault.String)
	}
}

// WithContext fills the device and operation when the error was created
// below the layer that knows them.
func (e *Error) WithContext(device string, operation string, version ProtocolVersion) *Error {
	if e.Device == "" {
		e.Device = device
	}
	if e.Operation == "" {
		e.Operation = operation
	}
	if e.Version == 0 {
		e.Version = version
	}
	return e
}

func NewError(kind ErrorKind, message string, inner error) *Error {
	return &Error{
		Kind:     kind,
		Message:  message,
		InnerErr: inner,
		Stack:    callers(),
	}
}

func NewErrorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Stack:   callers(),
	}
}

// KindOf returns the kind of an amp error. The boolean is false for errors
// that did not originate from this module.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// ValidationError is returned before any network activity when an argument
// cannot be encoded into a request.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type FaultKind int

const (
	FaultUnknown FaultKind = iota
	FaultAuthentication
	FaultClient
	FaultServer
)

var FaultKindToName = map[FaultKind]string{
	FaultUnknown:        "unknown",
	FaultAuthentication: "authentication",
	FaultClient:         "client",
	FaultServer:         "server",
}

func (k FaultKind) String() string {
	return FaultKindToName[k]
}

// FaultInfo is a fault element found in a response envelope.
type FaultInfo struct {
	Kind   FaultKind
	Code   string
	String string
}

func (f *FaultInfo) Error() string {
	return fmt.Sprintf("device fault %s (%s): %s", f.Kind, f.Code, f.String)
}
