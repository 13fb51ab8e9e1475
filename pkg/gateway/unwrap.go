package gateway

import (
	"errors"
	"reflect"

	"github.com/morezero/comms-gateway/pkg/envelope"
)

// CausesOf flattens an error's cause chain into wire-safe entries,
// outermost first. Wrapper nodes are skipped; *Error nodes keep their code
// so declared failure kinds survive the trip through the substrate.
func CausesOf(err error) []envelope.CauseEntry {
	var causes []envelope.CauseEntry
	for node := err; node != nil; node = errors.Unwrap(node) {
		if _, ok := node.(*DeliveryError); ok {
			continue
		}
		entry := envelope.CauseEntry{Message: node.Error()}
		if ge, ok := node.(*Error); ok {
			entry.Code = ge.Code
			entry.Message = ge.Message
		}
		causes = append(causes, entry)
	}
	return causes
}

// FailureFromEnvelope reconstructs the wrapping failure carried by an
// error-flagged reply: a DeliveryError whose cause chain mirrors the
// envelope's entries, outermost first.
func FailureFromEnvelope(env *envelope.Envelope) error {
	causes, err := env.FailureCauses()
	if err != nil {
		return &DeliveryError{Message: "malformed failure reply", Cause: err}
	}

	var chain error
	for i := len(causes) - 1; i >= 0; i-- {
		c := causes[i]
		code := c.Code
		if code == "" {
			code = CodeDownstream
		}
		chain = &Error{Code: code, Message: c.Message, Cause: chain}
	}
	return &DeliveryError{Message: "downstream flow failed", Cause: chain}
}

// matchesDeclared reports whether a single cause-chain node matches one
// declared failure kind. Matching is node-local: it deliberately does not
// traverse the node's own cause chain, so the first matching node in the
// walk wins. A node matches when it is the declared value, when either
// side's Is hook accepts the other, or when the node's concrete type is
// the declared exemplar's type.
func matchesDeclared(node, declared error) bool {
	if node == declared {
		return true
	}
	if x, ok := node.(interface{ Is(error) bool }); ok && x.Is(declared) {
		return true
	}
	if x, ok := declared.(interface{ Is(error) bool }); ok && x.Is(node) {
		return true
	}
	nt, dt := reflect.TypeOf(node), reflect.TypeOf(declared)
	return nt != nil && nt == dt
}

// selectDeclared walks the failure's cause chain outermost-first and
// returns the first node matching one of the declared kinds. The wrapper
// itself is skipped unless a DeliveryError is explicitly declared.
func selectDeclared(failure error, declared []error) error {
	if len(declared) == 0 {
		return nil
	}
	wrapperDeclared := false
	for _, d := range declared {
		if _, ok := d.(*DeliveryError); ok {
			wrapperDeclared = true
		}
	}
	for node := failure; node != nil; node = errors.Unwrap(node) {
		if _, isWrapper := node.(*DeliveryError); isWrapper && !wrapperDeclared {
			continue
		}
		for _, d := range declared {
			if matchesDeclared(node, d) {
				return node
			}
		}
	}
	return nil
}

// firstNonWrapperCause walks the chain for the first cause that is not the
// wrapper type; absent one, the wrapper is raised unmodified.
func firstNonWrapperCause(failure error) error {
	for node := failure; node != nil; node = errors.Unwrap(node) {
		if _, isWrapper := node.(*DeliveryError); !isWrapper {
			return node
		}
	}
	return failure
}
