// Package gateway implements the invocation engine: it turns an ordinary
// method call into a request envelope sent over the COMMS substrate,
// correlates the out-of-band reply back to the caller, and delivers the
// result through the method's completion strategy.
package gateway

import (
	"time"

	"github.com/morezero/comms-gateway/pkg/envelope"
)

// Failure codes surfaced by the engine.
const (
	CodeMapping        = "MAPPING_FAILURE"
	CodeDispatch       = "DISPATCH_FAILURE"
	CodeTimeout        = "TIMEOUT"
	CodeDownstream     = "DOWNSTREAM_FAILURE"
	CodeUnsupported    = "UNSUPPORTED_RETURN_TYPE"
	CodeUnknownMethod  = "METHOD_NOT_FOUND"
	CodeErrorRouteLoop = "ERROR_ROUTE_LOOP"
	CodeCancelled      = "CANCELLED"
)

// Error is the gateway's structured error. Two Errors match when their
// codes are equal, so a method can declare coded failure kinds that survive
// the wire.
type Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	Cause   error       `json:"-"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// NewError creates a new Error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// DeliveryError is the wrapping failure the substrate reports for a
// downstream flow that raised: it carries the full cause chain. The
// unwrapper never matches the wrapper itself against a method's declared
// errors unless a DeliveryError is explicitly declared.
type DeliveryError struct {
	Message string
	Cause   error
}

func (e *DeliveryError) Error() string {
	if e.Cause != nil {
		return "delivery failed: " + e.Message + ": " + e.Cause.Error()
	}
	return "delivery failed: " + e.Message
}

// Unwrap exposes the cause chain.
func (e *DeliveryError) Unwrap() error { return e.Cause }

// ReturnMode is a method's declared completion strategy, resolved once at
// engine construction, never per call.
type ReturnMode int

const (
	// ModeVoid sends fire-and-forget: no reply slot is allocated and
	// downstream failures cannot be raised to the caller.
	ModeVoid ReturnMode = iota
	// ModeValue blocks the calling thread on send+await.
	ModeValue
	// ModeFuture wraps send+await in an executor task and returns a
	// future handle immediately.
	ModeFuture
	// ModeListenable is ModeFuture through the executor's notifying
	// submission path so callbacks fire without polling.
	ModeListenable
	// ModeCompletable returns a completable handle. With an executor the
	// engine creates and completes it; with the executor explicitly
	// disabled the call runs on the caller's thread and the downstream
	// flow must supply the handle as its reply payload.
	ModeCompletable
	// ModeSingle defers everything to subscription: constructing the
	// handle performs no I/O, and every subscription runs one
	// independent send+await cycle.
	ModeSingle
)

var modeNames = map[ReturnMode]string{
	ModeVoid:        "void",
	ModeValue:       "value",
	ModeFuture:      "future",
	ModeListenable:  "listenable",
	ModeCompletable: "completable",
	ModeSingle:      "single",
}

func (m ReturnMode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return "unknown"
}

// ParseReturnMode parses a mode name as written in gateway config files.
func ParseReturnMode(s string) (ReturnMode, bool) {
	for m, name := range modeNames {
		if name == s {
			return m, true
		}
	}
	return ModeVoid, false
}

// PayloadSpec is an explicitly configured payload for a method without
// parameters. Configuring one turns a pure-receive method into
// send-then-receive, and a void method into send-only.
type PayloadSpec struct {
	// Literal is a fixed payload value.
	Literal any
	// Func derives the payload at call time; it takes precedence over
	// Literal when set.
	Func func() (any, error)
}

// MethodSpec declares one gateway method. Zero values inherit the
// engine-level defaults during construction.
type MethodSpec struct {
	Name   string
	Target string
	Mode   ReturnMode

	// Timeout bounds the reply wait. Zero inherits the engine default; a
	// negative value pins the method to an unbounded wait regardless of
	// the default.
	Timeout time.Duration

	// DeclaredErrors are the failure kinds this method declares; the
	// unwrapper raises the first matching cause from a downstream
	// failure's chain.
	DeclaredErrors []error

	// ErrorSubject overrides the engine's error-routing destination.
	// Empty inherits; "-" disables routing for this method.
	ErrorSubject string

	Payload *PayloadSpec

	// CompletableSubtype marks a completable method whose handle type is
	// an implementation other than the engine's own; such methods fall
	// back to the caller-thread path when no executor is configured.
	CompletableSubtype bool
}

// ArgumentMapper builds the request envelope from a method's arguments.
// Mappers must be deterministic and side-effect-free for a given
// (method, args) pair.
type ArgumentMapper interface {
	Map(spec *MethodSpec, args []any) (*envelope.Envelope, error)
}

// Completable is the generic completable-handle contract. The engine's own
// CompletableFuture is the exact type; downstream flows may supply any
// other implementation on the deferred path.
type Completable interface {
	// Done is closed once the handle settles.
	Done() <-chan struct{}
	// Result returns the settled value or failure; it blocks until Done.
	Result() (any, error)
}
