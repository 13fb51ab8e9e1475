package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/morezero/comms-gateway/pkg/channel"
	"github.com/morezero/comms-gateway/pkg/commsutil"
	"github.com/morezero/comms-gateway/pkg/envelope"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use
// defaults.
type CommsPublisherOpts struct {
	// DeadLetterSubject overrides the default dead-letter subject.
	DeadLetterSubject string
}

// CommsPublisher publishes gateway error events onto the COMMS substrate,
// where the dead-letter daemon picks them up.
type CommsPublisher struct {
	ch      channel.Channel
	subject string
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use
// defaults.
func NewCommsPublisher(ch channel.Channel, opts *CommsPublisherOpts) *CommsPublisher {
	subject := commsutil.SubjectDeadLetter
	if opts != nil && opts.DeadLetterSubject != "" {
		subject = opts.DeadLetterSubject
	}
	return &CommsPublisher{ch: ch, subject: subject}
}

// PublishError sends the event to the dead-letter subject.
func (p *CommsPublisher) PublishError(ctx context.Context, event *GatewayErrorEvent) error {
	env := envelope.New(event, map[string]string{
		envelope.HeaderMethod: event.Method,
	})
	if err := p.ch.Send(ctx, p.subject, env); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, p.subject, err))
		return fmt.Errorf("%s - failed to publish error event: %w", commsPublisherLogPrefix, err)
	}
	slog.Debug(fmt.Sprintf("%s - Published error event for method %s", commsPublisherLogPrefix, event.Method))
	return nil
}
