package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/morezero/comms-gateway/pkg/commsutil"
	"github.com/morezero/comms-gateway/pkg/envelope"
)

const inprocLogPrefix = "channel:inproc"

// inprocQueueDepth bounds each pollable subject's buffer.
const inprocQueueDepth = 256

// Inproc is an in-process Channel. Subscribed handlers run synchronously on
// the sender's goroutine, so a same-thread downstream flow completes before
// Send returns; handlers that hand off to another goroutine reproduce the
// multi-threaded timing. Subjects without a handler buffer messages for
// Receive.
type Inproc struct {
	mu       sync.Mutex
	handlers map[string]ReplyHandler
	queues   map[string]chan *envelope.Envelope
	closed   bool
}

// NewInproc creates an empty in-process channel.
func NewInproc() *Inproc {
	return &Inproc{
		handlers: make(map[string]ReplyHandler),
		queues:   make(map[string]chan *envelope.Envelope),
	}
}

// Subscribe routes messages for subject to h. One handler per subject.
func (c *Inproc) Subscribe(subject string, h ReplyHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.handlers[subject]; ok {
		return fmt.Errorf("%s - subject %s already has a handler", inprocLogPrefix, subject)
	}
	c.handlers[subject] = h
	return nil
}

// Unsubscribe removes the handler for subject.
func (c *Inproc) Unsubscribe(subject string) {
	c.mu.Lock()
	delete(c.handlers, subject)
	c.mu.Unlock()
}

// Send delivers the envelope to the subject's handler on the calling
// goroutine, or buffers it for polling when no handler is installed.
func (c *Inproc) Send(_ context.Context, subject string, env *envelope.Envelope) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%s - channel closed", inprocLogPrefix)
	}
	h, ok := c.handlers[subject]
	var q chan *envelope.Envelope
	if !ok {
		q = c.queue(subject)
	}
	c.mu.Unlock()

	if ok {
		h(env)
		return nil
	}
	select {
	case q <- env:
		return nil
	default:
		return fmt.Errorf("%s - send to %s rejected: queue full", inprocLogPrefix, subject)
	}
}

// PrivateReplyDestination registers a uniquely named handler subject.
func (c *Inproc) PrivateReplyDestination(h ReplyHandler) (ReplyDestination, error) {
	subject := commsutil.BuildReplySubject(uuid.NewString())
	if err := c.Subscribe(subject, h); err != nil {
		return nil, err
	}
	return &inprocReplyDestination{subject: subject, ch: c}, nil
}

// Receive pulls one buffered message from subject, waiting up to timeout.
func (c *Inproc) Receive(ctx context.Context, subject string, timeout time.Duration) (*envelope.Envelope, error) {
	c.mu.Lock()
	q := c.queue(subject)
	c.mu.Unlock()

	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case env := <-q:
			return env, nil
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	select {
	case env := <-q:
		return env, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close rejects further sends.
func (c *Inproc) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// queue returns the pollable buffer for subject; callers hold c.mu.
func (c *Inproc) queue(subject string) chan *envelope.Envelope {
	q, ok := c.queues[subject]
	if !ok {
		q = make(chan *envelope.Envelope, inprocQueueDepth)
		c.queues[subject] = q
	}
	return q
}

type inprocReplyDestination struct {
	subject string
	ch      *Inproc
}

func (d *inprocReplyDestination) Subject() string { return d.subject }

func (d *inprocReplyDestination) Close() error {
	d.ch.Unsubscribe(d.subject)
	return nil
}
