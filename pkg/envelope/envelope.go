// Package envelope defines the message unit carried across the COMMS substrate:
// an opaque payload plus a string header map, with the gateway's well-known
// correlation and error-indicator headers.
package envelope

import (
	"time"

	"github.com/morezero/comms-gateway/pkg/commsutil"
)

// Well-known gateway headers.
const (
	HeaderRequestID = "gw-request-id"
	HeaderReplyTo   = "gw-reply-to"
	// HeaderErrorTo is the failure-only destination for fire-and-forget
	// requests. Responders consult it when a handler fails and no reply
	// destination exists; successful results are never sent there.
	HeaderErrorTo   = "gw-error-to"
	HeaderMethod    = "gw-method"
	HeaderTimestamp = "gw-timestamp"

	// HeaderError marks the payload as a failure rather than a result.
	// Downstream adapters set it through MarkError; the gateway's
	// unwrapper consumes it.
	HeaderError        = "gw-error"
	HeaderErrorCode    = "gw-error-code"
	HeaderErrorMessage = "gw-error-message"
	// HeaderErrorChain carries the JSON-encoded cause chain of a
	// downstream failure, outermost first.
	HeaderErrorChain = "gw-error-chain"
)

// Envelope is a payload plus headers. Payload is any in-process value; wire
// channels marshal it to JSON bytes on send and deliver []byte on receive.
// An Envelope is immutable once built; helpers return copies.
type Envelope struct {
	Payload any
	Headers map[string]string
}

// New builds an envelope with a timestamp header.
func New(payload any, headers map[string]string) *Envelope {
	h := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		h[k] = v
	}
	if _, ok := h[HeaderTimestamp]; !ok {
		h[HeaderTimestamp] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return &Envelope{Payload: payload, Headers: h}
}

// Header returns the named header value, or "" if absent.
func (e *Envelope) Header(name string) string {
	if e == nil || e.Headers == nil {
		return ""
	}
	return e.Headers[name]
}

// WithHeader returns a copy of the envelope with one header set.
func (e *Envelope) WithHeader(name, value string) *Envelope {
	h := make(map[string]string, len(e.Headers)+1)
	for k, v := range e.Headers {
		h[k] = v
	}
	h[name] = value
	return &Envelope{Payload: e.Payload, Headers: h}
}

// RequestID returns the correlation identifier, or "".
func (e *Envelope) RequestID() string { return e.Header(HeaderRequestID) }

// ReplyTo returns the private reply destination subject, or "".
func (e *Envelope) ReplyTo() string { return e.Header(HeaderReplyTo) }

// ErrorTo returns the failure-only destination subject, or "".
func (e *Envelope) ErrorTo() string { return e.Header(HeaderErrorTo) }

// IsError reports whether the payload is flagged as a failure indicator.
func (e *Envelope) IsError() bool { return e.Header(HeaderError) == "true" }

// PayloadBytes returns the payload as wire bytes, marshaling non-byte
// payloads to JSON.
func (e *Envelope) PayloadBytes() ([]byte, error) {
	if b, ok := e.Payload.([]byte); ok {
		return b, nil
	}
	return commsutil.EncodePayload(e.Payload)
}
