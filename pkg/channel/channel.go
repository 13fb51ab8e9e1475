// Package channel abstracts the COMMS substrate the gateway sends into:
// point-to-point send, per-invocation private reply destinations, and
// pollable receive. Implementations: NATS-backed and in-process.
package channel

import (
	"context"
	"time"

	"github.com/morezero/comms-gateway/pkg/envelope"
)

// ReplyHandler consumes a correlated reply envelope. Handlers may be called
// from substrate worker goroutines.
type ReplyHandler func(env *envelope.Envelope)

// ReplyDestination is a private, single-reader destination created for one
// invocation. Close releases the underlying subscription.
type ReplyDestination interface {
	Subject() string
	Close() error
}

// Channel is the messaging substrate boundary. Send is point-to-point with
// respect to the gateway; delivery fan-out is the substrate's concern.
type Channel interface {
	// Send publishes an envelope to subject. A rejected send surfaces as
	// an error; Send itself never blocks on the reply.
	Send(ctx context.Context, subject string, env *envelope.Envelope) error

	// PrivateReplyDestination creates a fresh single-reader destination
	// and routes its messages to h until Close.
	PrivateReplyDestination(h ReplyHandler) (ReplyDestination, error)

	// Receive pulls one already-available message from subject, waiting
	// up to timeout. A timeout of zero or below waits without bound.
	Receive(ctx context.Context, subject string, timeout time.Duration) (*envelope.Envelope, error)
}
