package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/morezero/comms-gateway/pkg/channel"
	"github.com/morezero/comms-gateway/pkg/commsutil"
	"github.com/morezero/comms-gateway/pkg/correlator"
	"github.com/morezero/comms-gateway/pkg/envelope"
	"github.com/morezero/comms-gateway/pkg/executor"
	"github.com/morezero/comms-gateway/pkg/route"
)

const logPrefix = "gateway:engine"

// defaultErrorRouteDepth bounds recursive error routing; a reply from the
// error destination that is itself a failure re-enters the check at most
// this many times before the loop is treated as a configuration defect.
const defaultErrorRouteDepth = 2

// Config assembles an Engine. Channel and at least one method are
// required; everything else has defaults.
type Config struct {
	Channel channel.Channel
	// Mapper builds request envelopes from arguments; nil uses JSONMapper.
	Mapper ArgumentMapper
	// Executor backs the future, listenable, and eager-completable
	// strategies. Leaving it nil makes those strategies unavailable.
	Executor executor.Executor
	// DisableExecutor forces completable methods onto the caller-thread
	// path even when an executor is present.
	DisableExecutor bool
	// Routes resolves versioned method targets; nil allows only literal
	// subjects.
	Routes *route.Table
	// DefaultTimeout bounds reply waits for methods that do not override
	// it. Zero or below means unbounded, which is the default: callers
	// must opt into bounded waits.
	DefaultTimeout time.Duration
	// DefaultErrorSubject receives unmatched downstream failures instead
	// of raising them.
	DefaultErrorSubject string
	// ErrorRouteDepth caps recursive error routing; zero uses the
	// built-in bound.
	ErrorRouteDepth int
	Metrics         *Metrics
	Methods         []MethodSpec
}

// methodEntry is a method's fully resolved configuration: the
// construction-time merge of method spec over engine defaults, plus the
// resolved subject and strategy decisions. Never re-resolved per call.
type methodEntry struct {
	spec         MethodSpec
	subject      string
	timeout      time.Duration
	errorSubject string
	// deferred marks completable methods on the caller-thread path.
	deferred bool
}

// Engine is the gateway invocation engine. It is safe for concurrent use;
// all per-method configuration is resolved at construction.
type Engine struct {
	channel  channel.Channel
	mapper   ArgumentMapper
	exec     executor.Executor
	notifier executor.Notifier
	pending  *correlator.Registry
	table    map[string]*methodEntry
	maxHops  int
	metrics  *Metrics
}

// NewEngine builds the per-method dispatch table and validates every
// method's strategy against the available executor. Unsupported
// combinations fail here, never at call time.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Channel == nil {
		return nil, fmt.Errorf("%s - a channel is required", logPrefix)
	}
	if len(cfg.Methods) == 0 {
		return nil, fmt.Errorf("%s - at least one method is required", logPrefix)
	}

	mapper := cfg.Mapper
	if mapper == nil {
		mapper = JSONMapper{}
	}
	maxHops := cfg.ErrorRouteDepth
	if maxHops <= 0 {
		maxHops = defaultErrorRouteDepth
	}

	e := &Engine{
		channel: cfg.Channel,
		mapper:  mapper,
		exec:    cfg.Executor,
		pending: correlator.NewRegistry(),
		table:   make(map[string]*methodEntry, len(cfg.Methods)),
		maxHops: maxHops,
		metrics: cfg.Metrics,
	}
	if !cfg.DisableExecutor {
		if n, ok := cfg.Executor.(executor.Notifier); ok {
			e.notifier = n
		}
	}
	if cfg.DisableExecutor {
		e.exec = nil
	}

	for i := range cfg.Methods {
		spec := cfg.Methods[i]
		if spec.Name == "" {
			return nil, fmt.Errorf("%s - method %d has no name", logPrefix, i)
		}
		if _, dup := e.table[spec.Name]; dup {
			return nil, fmt.Errorf("%s - duplicate method %q", logPrefix, spec.Name)
		}

		entry, err := resolveEntry(&cfg, spec)
		if err != nil {
			return nil, err
		}
		e.table[spec.Name] = entry
	}
	return e, nil
}

// resolveEntry performs the precedence-ordered merge (method over engine
// defaults) and the strategy validation for one method.
func resolveEntry(cfg *Config, spec MethodSpec) (*methodEntry, error) {
	subject := spec.Target
	if route.IsVersionedRef(spec.Target) {
		if cfg.Routes == nil {
			return nil, fmt.Errorf("%s - method %q has versioned target %q but no route table is configured",
				logPrefix, spec.Name, spec.Target)
		}
		resolved, err := cfg.Routes.Resolve(spec.Target)
		if err != nil {
			return nil, fmt.Errorf("%s - method %q: %w", logPrefix, spec.Name, err)
		}
		subject = resolved.Subject
	}
	if subject == "" {
		return nil, fmt.Errorf("%s - method %q has no target", logPrefix, spec.Name)
	}

	timeout := spec.Timeout
	switch {
	case timeout < 0:
		timeout = 0
	case timeout == 0:
		timeout = cfg.DefaultTimeout
	}

	errorSubject := spec.ErrorSubject
	switch errorSubject {
	case "":
		errorSubject = cfg.DefaultErrorSubject
	case "-":
		errorSubject = ""
	}

	executorAvailable := cfg.Executor != nil && !cfg.DisableExecutor
	deferred := false
	switch spec.Mode {
	case ModeFuture:
		if !executorAvailable {
			return nil, unsupportedMode(spec, "an executor is required for future methods")
		}
	case ModeListenable:
		if !executorAvailable {
			return nil, unsupportedMode(spec, "an executor is required for listenable methods")
		}
		if _, ok := cfg.Executor.(executor.Notifier); !ok {
			return nil, unsupportedMode(spec, "the executor does not support completion callbacks")
		}
	case ModeCompletable:
		switch {
		case executorAvailable:
			// Engine creates and completes the handle.
		case cfg.DisableExecutor:
			deferred = true
		case spec.CompletableSubtype:
			deferred = true
			slog.Debug(fmt.Sprintf("%s - method %q: executor path unavailable for completable subtype, using caller thread",
				logPrefix, spec.Name))
		default:
			return nil, unsupportedMode(spec, "completable methods need an executor unless it is explicitly disabled")
		}
	case ModeVoid, ModeValue, ModeSingle:
		// No executor involvement.
	default:
		return nil, unsupportedMode(spec, "unknown return mode")
	}

	return &methodEntry{
		spec:         spec,
		subject:      subject,
		timeout:      timeout,
		errorSubject: errorSubject,
		deferred:     deferred,
	}, nil
}

func unsupportedMode(spec MethodSpec, reason string) error {
	return &Error{
		Code:    CodeUnsupported,
		Message: fmt.Sprintf("method %q (%s): %s", spec.Name, spec.Mode, reason),
	}
}

// Method returns the resolved spec for a method name, for introspection.
func (e *Engine) Method(name string) (MethodSpec, bool) {
	entry, ok := e.table[name]
	if !ok {
		return MethodSpec{}, false
	}
	return entry.spec, true
}

func (e *Engine) entry(name string) (*methodEntry, error) {
	entry, ok := e.table[name]
	if !ok {
		return nil, &Error{Code: CodeUnknownMethod, Message: fmt.Sprintf("unknown method: %s", name)}
	}
	return entry, nil
}

// Invoke performs a blocking invocation for void- and value-mode methods.
// Value methods return the reply payload, nil on timeout, or raise the
// unwrapped failure. A value method called with no arguments and no
// configured payload is a pure receive. Void methods are fire-and-forget.
func (e *Engine) Invoke(ctx context.Context, method string, args ...any) (any, error) {
	entry, err := e.entry(method)
	if err != nil {
		return nil, err
	}

	switch entry.spec.Mode {
	case ModeVoid:
		return nil, e.invokeVoid(ctx, entry, args)
	case ModeValue:
		if len(args) == 0 && entry.spec.Payload == nil {
			return e.receive(ctx, entry)
		}
		return e.sendAndAwait(ctx, entry, args)
	default:
		return nil, &Error{
			Code:    CodeUnsupported,
			Message: fmt.Sprintf("method %q uses the %s strategy; use its matching entry point", method, entry.spec.Mode),
		}
	}
}

// InvokeFuture dispatches a future-mode method: send+await runs as an
// executor task and the handle is returned immediately.
func (e *Engine) InvokeFuture(ctx context.Context, method string, args ...any) (*Future, error) {
	entry, err := e.entry(method)
	if err != nil {
		return nil, err
	}
	if entry.spec.Mode != ModeFuture {
		return nil, modeMismatch(method, entry.spec.Mode, ModeFuture)
	}

	f := newFuture()
	task := func() {
		if f.Cancelled() {
			return
		}
		value, err := e.sendAndAwait(context.Background(), entry, args)
		f.complete(value, err)
	}
	if err := e.exec.Submit(task); err != nil {
		return nil, &Error{Code: CodeDispatch, Message: "failed to schedule invocation task", Cause: err}
	}
	return f, nil
}

// InvokeListenable is InvokeFuture through the executor's notifying
// submission path, so registered callbacks run on completion without
// polling.
func (e *Engine) InvokeListenable(ctx context.Context, method string, args ...any) (*ListenableFuture, error) {
	entry, err := e.entry(method)
	if err != nil {
		return nil, err
	}
	if entry.spec.Mode != ModeListenable {
		return nil, modeMismatch(method, entry.spec.Mode, ModeListenable)
	}

	f := newListenableFuture()
	task := func() {
		if f.Cancelled() {
			return
		}
		value, err := e.sendAndAwait(context.Background(), entry, args)
		f.complete(value, err)
	}
	if err := e.notifier.SubmitNotify(task, f.fire); err != nil {
		return nil, &Error{Code: CodeDispatch, Message: "failed to schedule invocation task", Cause: err}
	}
	return f, nil
}

// InvokeCompletable dispatches a completable-mode method. On the eager
// path the engine returns an unsettled handle immediately and an executor
// task completes it. On the deferred path the call runs on the caller's
// thread and the downstream flow must produce the handle as its reply
// payload; the engine does not create one.
func (e *Engine) InvokeCompletable(ctx context.Context, method string, args ...any) (Completable, error) {
	entry, err := e.entry(method)
	if err != nil {
		return nil, err
	}
	if entry.spec.Mode != ModeCompletable {
		return nil, modeMismatch(method, entry.spec.Mode, ModeCompletable)
	}

	if !entry.deferred {
		cf := NewCompletableFuture()
		task := func() {
			value, err := e.sendAndAwait(context.Background(), entry, args)
			if err != nil {
				cf.Fail(err)
				return
			}
			cf.Complete(value)
		}
		if err := e.exec.Submit(task); err != nil {
			return nil, &Error{Code: CodeDispatch, Message: "failed to schedule invocation task", Cause: err}
		}
		return cf, nil
	}

	value, err := e.sendAndAwait(ctx, entry, args)
	if err != nil {
		return nil, err
	}
	if value == nil {
		// A completable reply cannot be absent; escalate the timeout.
		return nil, &Error{
			Code:    CodeTimeout,
			Message: fmt.Sprintf("method %q: no completable handle arrived within the reply window", method),
		}
	}
	handle, ok := value.(Completable)
	if !ok {
		return nil, &Error{
			Code:    CodeDownstream,
			Message: fmt.Sprintf("method %q: downstream reply payload %T is not a completable handle", method, value),
		}
	}
	return handle, nil
}

// InvokeSingle returns the lazily-subscribed handle for a single-mode
// method. Constructing the handle performs no I/O; each subscription runs
// one independent send+await cycle.
func (e *Engine) InvokeSingle(ctx context.Context, method string, args ...any) (*Single, error) {
	entry, err := e.entry(method)
	if err != nil {
		return nil, err
	}
	if entry.spec.Mode != ModeSingle {
		return nil, modeMismatch(method, entry.spec.Mode, ModeSingle)
	}
	return &Single{run: func() (any, error) {
		return e.sendAndAwait(context.Background(), entry, args)
	}}, nil
}

func modeMismatch(method string, actual, wanted ReturnMode) error {
	return &Error{
		Code:    CodeUnsupported,
		Message: fmt.Sprintf("method %q is declared %s, not %s", method, actual, wanted),
	}
}

// invokeVoid is the fire-and-forget path: no reply slot is allocated. With
// an error subject configured, the request carries it in the failure-only
// error-to header, so a downstream failure is routed there while a
// successful result stays silent; the caller is never raised to after Send
// returns.
func (e *Engine) invokeVoid(ctx context.Context, entry *methodEntry, args []any) error {
	env, err := e.buildEnvelope(entry, args)
	if err != nil {
		return err
	}
	env = env.WithHeader(envelope.HeaderRequestID, uuid.NewString())
	if entry.errorSubject != "" {
		env = env.WithHeader(envelope.HeaderErrorTo, entry.errorSubject)
	}

	if err := e.channel.Send(ctx, entry.subject, env); err != nil {
		// The send itself is synchronous; there is still a caller to
		// raise to. Routing is not attempted for fire-and-forget sends.
		_, raiseErr := e.raise(ctx, entry, &DeliveryError{Message: "send rejected", Cause: err}, 0, false)
		return raiseErr
	}
	e.metrics.countSent(entry.spec.Name)
	return nil
}

// receive is the pure-receive path for no-argument value methods: pull an
// already-available message from the request subject, bounded by the same
// timeout rule as reply waits.
func (e *Engine) receive(ctx context.Context, entry *methodEntry) (any, error) {
	env, err := e.channel.Receive(ctx, entry.subject, entry.timeout)
	if err != nil {
		return e.raise(ctx, entry, &DeliveryError{Message: "receive failed", Cause: err}, 0, true)
	}
	if env == nil {
		e.metrics.countTimeout(entry.spec.Name)
		return nil, nil
	}
	if env.IsError() {
		return e.raise(ctx, entry, FailureFromEnvelope(env), 0, true)
	}
	return decodePayload(env), nil
}

// sendAndAwait is the core request path: register the reply slot, create
// the private reply destination, send, await, unwrap. Slot registration
// happens before the send so a fast reply cannot beat its slot.
func (e *Engine) sendAndAwait(ctx context.Context, entry *methodEntry, args []any) (any, error) {
	env, err := e.buildEnvelope(entry, args)
	if err != nil {
		return nil, err
	}
	return e.dispatch(ctx, entry, entry.subject, env, 0)
}

// dispatch sends one prepared envelope and awaits its correlated reply.
// hop tracks error-route recursion depth.
func (e *Engine) dispatch(ctx context.Context, entry *methodEntry, subject string, env *envelope.Envelope, hop int) (any, error) {
	requestID := uuid.NewString()
	slot := e.pending.Register(requestID)

	dest, err := e.channel.PrivateReplyDestination(func(reply *envelope.Envelope) {
		e.pending.Resolve(requestID, correlator.Result{Envelope: reply})
	})
	if err != nil {
		e.pending.Remove(requestID)
		return e.raise(ctx, entry, &DeliveryError{Message: "failed to create reply destination", Cause: err}, hop, false)
	}
	defer dest.Close()

	env = env.WithHeader(envelope.HeaderRequestID, requestID).
		WithHeader(envelope.HeaderReplyTo, dest.Subject())

	if err := e.channel.Send(ctx, subject, env); err != nil {
		e.pending.Remove(requestID)
		return e.raise(ctx, entry, &DeliveryError{Message: "send rejected", Cause: err}, hop, true)
	}
	e.metrics.countSent(entry.spec.Name)

	res, timedOut := slot.Await(entry.timeout)
	e.pending.Remove(requestID)
	if timedOut {
		// Indistinguishable from "no reply produced"; surfaces as an
		// absent result, not an error.
		e.metrics.countTimeout(entry.spec.Name)
		return nil, nil
	}
	if res.Err != nil {
		return e.raise(ctx, entry, &DeliveryError{Message: "reply delivery failed", Cause: res.Err}, hop, true)
	}
	if res.Envelope != nil && res.Envelope.IsError() {
		e.metrics.countReply(entry.spec.Name, "error")
		return e.raise(ctx, entry, FailureFromEnvelope(res.Envelope), hop, true)
	}
	e.metrics.countReply(entry.spec.Name, "ok")
	return decodePayload(res.Envelope), nil
}

// buildEnvelope produces the request envelope from the configured payload
// or the argument mapper. Mapping failures abort the call and are never
// retried.
func (e *Engine) buildEnvelope(entry *methodEntry, args []any) (*envelope.Envelope, error) {
	if len(args) == 0 && entry.spec.Payload != nil {
		payload := entry.spec.Payload.Literal
		if entry.spec.Payload.Func != nil {
			var err error
			payload, err = entry.spec.Payload.Func()
			if err != nil {
				return nil, &Error{
					Code:    CodeMapping,
					Message: fmt.Sprintf("method %q: configured payload failed", entry.spec.Name),
					Cause:   err,
				}
			}
		}
		return envelope.New(payload, map[string]string{envelope.HeaderMethod: entry.spec.Name}), nil
	}

	env, err := e.mapper.Map(&entry.spec, args)
	if err != nil {
		return nil, &Error{
			Code:    CodeMapping,
			Message: fmt.Sprintf("method %q: argument mapping failed", entry.spec.Name),
			Cause:   err,
		}
	}
	return env, nil
}

// raise applies the failure-resolution policy, in this exact order:
// declared kinds from the cause chain first, then the error-routing
// destination, then the first non-wrapper cause, then the wrapper itself.
// Reordering changes caller-visible failure types.
func (e *Engine) raise(ctx context.Context, entry *methodEntry, failure error, hop int, allowRoute bool) (any, error) {
	if node := selectDeclared(failure, entry.spec.DeclaredErrors); node != nil {
		return nil, node
	}
	if allowRoute && entry.errorSubject != "" {
		return e.routeFailure(ctx, entry, failure, hop)
	}
	return nil, firstNonWrapperCause(failure)
}

// routeFailure forwards an unmatched failure to the error destination and
// treats that route's own eventual reply, if any, as the new result,
// re-entering the same error check. Recursion is bounded; exceeding the
// bound is a configuration defect, not something to guess around.
func (e *Engine) routeFailure(ctx context.Context, entry *methodEntry, failure error, hop int) (any, error) {
	if hop >= e.maxHops {
		return nil, &Error{
			Code:    CodeErrorRouteLoop,
			Message: fmt.Sprintf("error routing for method %q exceeded %d hops", entry.spec.Name, e.maxHops),
			Cause:   failure,
		}
	}

	code := CodeDownstream
	if ge, ok := failure.(*Error); ok {
		code = ge.Code
	}
	env := envelope.MarkError(
		envelope.New(nil, map[string]string{envelope.HeaderMethod: entry.spec.Name}),
		code, failure.Error(), CausesOf(failure)...,
	)
	e.metrics.countErrorRouted(entry.spec.Name)
	slog.Debug(fmt.Sprintf("%s - routing failure for method %q to %s (hop %d)",
		logPrefix, entry.spec.Name, entry.errorSubject, hop+1))

	return e.dispatch(ctx, entry, entry.errorSubject, env, hop+1)
}

// decodePayload converts a reply envelope's payload into a caller value.
// Wire payloads arrive as JSON bytes; in-process payloads pass through.
func decodePayload(env *envelope.Envelope) any {
	if env == nil {
		return nil
	}
	data, ok := env.Payload.([]byte)
	if !ok {
		return env.Payload
	}
	if len(data) == 0 {
		return nil
	}
	var value any
	if err := commsutil.DecodePayload(data, &value); err != nil {
		return data
	}
	return value
}
