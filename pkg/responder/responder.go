// Package responder is the service side of the gateway: it routes inbound
// request envelopes to registered method handlers and replies on each
// request's private reply destination, marking handler failures as
// error-indicator replies.
package responder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/morezero/comms-gateway/pkg/channel"
	"github.com/morezero/comms-gateway/pkg/envelope"
	"github.com/morezero/comms-gateway/pkg/events"
	"github.com/morezero/comms-gateway/pkg/gateway"
)

const logPrefix = "responder:responder"

// Handler processes one request envelope and returns the reply payload.
type Handler func(ctx context.Context, env *envelope.Envelope) (any, error)

// Transport is a channel that also accepts service-side subscriptions.
// Both the NATS and the in-process channel satisfy it.
type Transport interface {
	channel.Channel
	Subscribe(subject string, h channel.ReplyHandler) error
	Unsubscribe(subject string)
}

// Opts configures a Responder.
type Opts struct {
	// Async hands each request off to a fresh goroutine, reproducing a
	// substrate whose downstream flow runs on worker threads. NATS
	// transports already deliver on their own goroutines.
	Async bool
	// Publisher receives error events for failed requests that carry no
	// reply destination. Nil publishers log only.
	Publisher events.Publisher
}

// Responder serves one request subject.
type Responder struct {
	transport Transport
	subject   string
	opts      Opts
	handlers  map[string]Handler
}

// New creates a Responder for subject. Register handlers before Start.
func New(transport Transport, subject string, opts Opts) *Responder {
	return &Responder{
		transport: transport,
		subject:   subject,
		opts:      opts,
		handlers:  make(map[string]Handler),
	}
}

// Handle registers the handler for a method name.
func (r *Responder) Handle(method string, h Handler) {
	r.handlers[method] = h
}

// Start subscribes to the request subject.
func (r *Responder) Start(ctx context.Context) error {
	err := r.transport.Subscribe(r.subject, func(env *envelope.Envelope) {
		if r.opts.Async {
			go r.serve(ctx, env)
			return
		}
		r.serve(ctx, env)
	})
	if err != nil {
		return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, r.subject, err)
	}
	slog.Info(fmt.Sprintf("%s - Serving %s", logPrefix, r.subject))
	return nil
}

// Stop unsubscribes from the request subject.
func (r *Responder) Stop() {
	r.transport.Unsubscribe(r.subject)
}

func (r *Responder) serve(ctx context.Context, env *envelope.Envelope) {
	method := env.Header(envelope.HeaderMethod)
	handler, ok := r.handlers[method]
	if !ok {
		r.fail(ctx, env, gateway.NewError(gateway.CodeUnknownMethod,
			fmt.Sprintf("unknown method: %s", method)))
		return
	}

	result, err := handler(ctx, env)
	if err != nil {
		r.fail(ctx, env, err)
		return
	}

	replyTo := env.ReplyTo()
	if replyTo == "" {
		// Fire-and-forget request; nothing to report.
		return
	}
	reply := envelope.New(result, map[string]string{
		envelope.HeaderRequestID: env.RequestID(),
		envelope.HeaderMethod:    method,
	})
	if err := r.transport.Send(ctx, replyTo, reply); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to reply to %s: %v", logPrefix, replyTo, err))
	}
}

// fail reports a handler failure: as an error-indicator reply when the
// request has a reply destination, to the failure-only error-to subject
// when it is a fire-and-forget with one, otherwise as a published error
// event, otherwise only a log line.
func (r *Responder) fail(ctx context.Context, env *envelope.Envelope, cause error) {
	method := env.Header(envelope.HeaderMethod)
	code := gateway.CodeDownstream
	if ge, ok := cause.(*gateway.Error); ok {
		code = ge.Code
	}
	causes := gateway.CausesOf(cause)

	dest := env.ReplyTo()
	if dest == "" {
		dest = env.ErrorTo()
	}
	if dest != "" {
		reply := envelope.MarkError(
			envelope.New(nil, map[string]string{
				envelope.HeaderRequestID: env.RequestID(),
				envelope.HeaderMethod:    method,
			}),
			code, cause.Error(), causes...,
		)
		if err := r.transport.Send(ctx, dest, reply); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to send failure reply to %s: %v", logPrefix, dest, err))
		}
		return
	}

	if r.opts.Publisher != nil {
		event := events.NewGatewayErrorEvent(method, r.subject, env.RequestID(), code, cause.Error(), causes)
		if err := r.opts.Publisher.PublishError(ctx, event); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to publish error event: %v", logPrefix, err))
		}
		return
	}
	slog.Warn(fmt.Sprintf("%s - fire-and-forget request %s failed: %v", logPrefix, method, cause))
}
