package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/comms-gateway/pkg/envelope"
)

const natsLogPrefix = "channel:nats"

// NATSChannel implements Channel over a COMMS connection. Reply
// destinations are broker-generated inboxes with one subscription each.
type NATSChannel struct {
	nc *comms.Conn

	mu      sync.Mutex
	pollers map[string]*comms.Subscription
	subs    map[string]*comms.Subscription
}

// NewNATSChannel wraps an established COMMS connection.
func NewNATSChannel(nc *comms.Conn) *NATSChannel {
	return &NATSChannel{
		nc:      nc,
		pollers: make(map[string]*comms.Subscription),
		subs:    make(map[string]*comms.Subscription),
	}
}

// Subscribe routes messages for subject to h until Unsubscribe or Close.
// This is the service-side entry point used by responders; gateway reply
// destinations come from PrivateReplyDestination instead.
func (c *NATSChannel) Subscribe(subject string, h ReplyHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[subject]; ok {
		return fmt.Errorf("%s - subject %s already has a handler", natsLogPrefix, subject)
	}
	sub, err := c.nc.Subscribe(subject, func(msg *comms.Msg) {
		h(envelopeFromMsg(msg))
	})
	if err != nil {
		return fmt.Errorf("%s - failed to subscribe to %s: %w", natsLogPrefix, subject, err)
	}
	c.subs[subject] = sub
	return nil
}

// Unsubscribe removes the handler for subject.
func (c *NATSChannel) Unsubscribe(subject string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sub, ok := c.subs[subject]; ok {
		sub.Unsubscribe()
		delete(c.subs, subject)
	}
}

// Send publishes the envelope to subject with its headers mapped onto the
// wire message.
func (c *NATSChannel) Send(_ context.Context, subject string, env *envelope.Envelope) error {
	data, err := env.PayloadBytes()
	if err != nil {
		return fmt.Errorf("%s - failed to encode payload for %s: %w", natsLogPrefix, subject, err)
	}
	msg := &comms.Msg{Subject: subject, Data: data, Header: comms.Header{}}
	for k, v := range env.Headers {
		msg.Header.Set(k, v)
	}
	if err := c.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("%s - send to %s rejected: %w", natsLogPrefix, subject, err)
	}
	return nil
}

// PrivateReplyDestination creates a fresh inbox subscription routed to h.
func (c *NATSChannel) PrivateReplyDestination(h ReplyHandler) (ReplyDestination, error) {
	inbox := c.nc.NewRespInbox()
	sub, err := c.nc.Subscribe(inbox, func(msg *comms.Msg) {
		h(envelopeFromMsg(msg))
	})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create reply destination: %w", natsLogPrefix, err)
	}
	return &natsReplyDestination{subject: inbox, sub: sub}, nil
}

// Receive pulls one message from subject. The first Receive on a subject
// installs a persistent synchronous subscription so later sends queue up
// for polling.
func (c *NATSChannel) Receive(ctx context.Context, subject string, timeout time.Duration) (*envelope.Envelope, error) {
	sub, err := c.poller(subject)
	if err != nil {
		return nil, err
	}

	var msg *comms.Msg
	if timeout > 0 {
		msg, err = sub.NextMsg(timeout)
		if err == comms.ErrTimeout {
			return nil, nil
		}
	} else {
		msg, err = sub.NextMsgWithContext(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("%s - receive on %s failed: %w", natsLogPrefix, subject, err)
	}
	return envelopeFromMsg(msg), nil
}

// Close drops all polling subscriptions. Reply destinations close
// individually; the COMMS connection itself belongs to the caller.
func (c *NATSChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for subject, sub := range c.pollers {
		sub.Unsubscribe()
		delete(c.pollers, subject)
	}
	for subject, sub := range c.subs {
		sub.Unsubscribe()
		delete(c.subs, subject)
	}
	return nil
}

func (c *NATSChannel) poller(subject string) (*comms.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sub, ok := c.pollers[subject]; ok {
		return sub, nil
	}
	sub, err := c.nc.SubscribeSync(subject)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to poll %s: %w", natsLogPrefix, subject, err)
	}
	c.pollers[subject] = sub
	return sub, nil
}

type natsReplyDestination struct {
	subject string
	sub     *comms.Subscription
}

func (d *natsReplyDestination) Subject() string { return d.subject }

func (d *natsReplyDestination) Close() error { return d.sub.Unsubscribe() }

func envelopeFromMsg(msg *comms.Msg) *envelope.Envelope {
	headers := make(map[string]string, len(msg.Header))
	for k := range msg.Header {
		headers[k] = msg.Header.Get(k)
	}
	return &envelope.Envelope{Payload: msg.Data, Headers: headers}
}
