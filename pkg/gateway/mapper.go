package gateway

import (
	"github.com/morezero/comms-gateway/pkg/envelope"
)

// JSONMapper is the default ArgumentMapper: a single argument becomes the
// payload as-is, multiple arguments become a positional list. Header
// conventions beyond the method name are left to custom mappers.
type JSONMapper struct{}

// Map builds the request envelope from the call's arguments.
func (JSONMapper) Map(spec *MethodSpec, args []any) (*envelope.Envelope, error) {
	var payload any
	switch len(args) {
	case 0:
		payload = nil
	case 1:
		payload = args[0]
	default:
		payload = args
	}
	return envelope.New(payload, map[string]string{
		envelope.HeaderMethod: spec.Name,
	}), nil
}
