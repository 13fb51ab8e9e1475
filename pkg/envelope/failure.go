package envelope

import (
	"fmt"

	"github.com/morezero/comms-gateway/pkg/commsutil"
)

// CauseEntry is one link in a downstream failure's cause chain, outermost
// first. Code distinguishes declared (checked) failure kinds; entries with
// an empty Code are plain runtime causes.
type CauseEntry struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// MarkError flags an envelope's payload as a failure indicator. This is the
// hook downstream adapters use to report that a reply is actually an error;
// the gateway treats such replies identically to a raised downstream failure.
func MarkError(e *Envelope, code, message string, causes ...CauseEntry) *Envelope {
	out := e.WithHeader(HeaderError, "true").
		WithHeader(HeaderErrorCode, code).
		WithHeader(HeaderErrorMessage, message)
	if len(causes) > 0 {
		data, err := commsutil.EncodePayload(causes)
		if err == nil {
			out = out.WithHeader(HeaderErrorChain, string(data))
		}
	}
	return out
}

// FailureCauses decodes the cause chain carried by an error-flagged
// envelope. The top-level code/message headers are always the first entry;
// HeaderErrorChain entries, if present, replace the decoded tail.
func (e *Envelope) FailureCauses() ([]CauseEntry, error) {
	if !e.IsError() {
		return nil, fmt.Errorf("envelope: payload is not flagged as a failure")
	}
	if raw := e.Header(HeaderErrorChain); raw != "" {
		var causes []CauseEntry
		if err := commsutil.DecodePayload([]byte(raw), &causes); err != nil {
			return nil, fmt.Errorf("envelope: malformed error chain: %w", err)
		}
		if len(causes) > 0 {
			return causes, nil
		}
	}
	return []CauseEntry{{
		Code:    e.Header(HeaderErrorCode),
		Message: e.Header(HeaderErrorMessage),
	}}, nil
}
