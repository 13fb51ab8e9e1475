//go:build integration

package tests

import (
	"context"
	"errors"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/comms-gateway/pkg/channel"
	"github.com/morezero/comms-gateway/pkg/envelope"
	"github.com/morezero/comms-gateway/pkg/executor"
	"github.com/morezero/comms-gateway/pkg/gateway"
	"github.com/morezero/comms-gateway/pkg/responder"
)

const integrationTestPrefix = "tests:integration_test"
const integrationNatsPort = 14261

func startNATS(t *testing.T) *commsserver.Server {
	t.Helper()
	opts := &commsserver.Options{
		Host:   "127.0.0.1",
		Port:   integrationNatsPort,
		NoLog:  true,
		NoSigs: true,
	}
	ns, err := commsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("%s - failed to create NATS server: %v", integrationTestPrefix, err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - NATS server failed to start", integrationTestPrefix)
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns
}

func connect(t *testing.T, ns *commsserver.Server) *channel.NATSChannel {
	t.Helper()
	nc, err := comms.Connect(ns.ClientURL(), comms.Timeout(5*time.Second))
	if err != nil {
		t.Fatalf("%s - failed to connect to NATS: %v", integrationTestPrefix, err)
	}
	t.Cleanup(nc.Close)
	ch := channel.NewNATSChannel(nc)
	t.Cleanup(func() { ch.Close() })
	return ch
}

func TestIntegration_GatewayAndResponder_BlockingCall(t *testing.T) {
	ns := startNATS(t)

	serviceCh := connect(t, ns)
	r := responder.New(serviceCh, "orders.submit", responder.Opts{})
	r.Handle("submitOrder", func(ctx context.Context, env *envelope.Envelope) (any, error) {
		return map[string]string{"status": "accepted"}, nil
	})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("%s - responder start failed: %v", integrationTestPrefix, err)
	}
	defer r.Stop()

	callerCh := connect(t, ns)
	e, err := gateway.NewEngine(gateway.Config{
		Channel:        callerCh,
		DefaultTimeout: 5 * time.Second,
		Methods: []gateway.MethodSpec{
			{Name: "submitOrder", Target: "orders.submit", Mode: gateway.ModeValue},
		},
	})
	if err != nil {
		t.Fatalf("%s - NewEngine failed: %v", integrationTestPrefix, err)
	}

	value, err := e.Invoke(context.Background(), "submitOrder", map[string]string{"item": "book"})
	if err != nil {
		t.Fatalf("%s - Invoke failed: %v", integrationTestPrefix, err)
	}
	result, ok := value.(map[string]any)
	if !ok || result["status"] != "accepted" {
		t.Errorf("%s - unexpected result: %v", integrationTestPrefix, value)
	}
}

func TestIntegration_DeclaredFailureCrossesTheWire(t *testing.T) {
	ns := startNATS(t)

	serviceCh := connect(t, ns)
	r := responder.New(serviceCh, "orders.submit", responder.Opts{})
	r.Handle("submitOrder", func(ctx context.Context, env *envelope.Envelope) (any, error) {
		return nil, &gateway.Error{Code: "ORDER_REJECTED", Message: "out of stock",
			Cause: errors.New("inventory empty")}
	})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("%s - responder start failed: %v", integrationTestPrefix, err)
	}
	defer r.Stop()

	callerCh := connect(t, ns)
	e, err := gateway.NewEngine(gateway.Config{
		Channel:        callerCh,
		DefaultTimeout: 5 * time.Second,
		Methods: []gateway.MethodSpec{
			{Name: "submitOrder", Target: "orders.submit", Mode: gateway.ModeValue,
				DeclaredErrors: []error{gateway.NewError("ORDER_REJECTED", "")}},
		},
	})
	if err != nil {
		t.Fatalf("%s - NewEngine failed: %v", integrationTestPrefix, err)
	}

	_, err = e.Invoke(context.Background(), "submitOrder", "order")
	ge, ok := err.(*gateway.Error)
	if !ok || ge.Code != "ORDER_REJECTED" {
		t.Fatalf("%s - expected declared failure across the wire, got %v", integrationTestPrefix, err)
	}
	if ge.Message != "out of stock" {
		t.Errorf("%s - expected original message, got %q", integrationTestPrefix, ge.Message)
	}
}

func TestIntegration_TimeoutWhenNoResponder(t *testing.T) {
	ns := startNATS(t)

	callerCh := connect(t, ns)
	e, err := gateway.NewEngine(gateway.Config{
		Channel: callerCh,
		Methods: []gateway.MethodSpec{
			{Name: "submitOrder", Target: "orders.nobody", Mode: gateway.ModeValue,
				Timeout: 100 * time.Millisecond},
		},
	})
	if err != nil {
		t.Fatalf("%s - NewEngine failed: %v", integrationTestPrefix, err)
	}

	value, err := e.Invoke(context.Background(), "submitOrder", "order")
	if err != nil {
		t.Fatalf("%s - expected absent result on timeout, got error %v", integrationTestPrefix, err)
	}
	if value != nil {
		t.Errorf("%s - expected nil value on timeout, got %v", integrationTestPrefix, value)
	}
}

func TestIntegration_FutureOverTheWire(t *testing.T) {
	ns := startNATS(t)

	serviceCh := connect(t, ns)
	r := responder.New(serviceCh, "orders.submit", responder.Opts{})
	r.Handle("submitOrder", func(ctx context.Context, env *envelope.Envelope) (any, error) {
		return "done", nil
	})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("%s - responder start failed: %v", integrationTestPrefix, err)
	}
	defer r.Stop()

	pool := executor.NewPool(2, 8)
	defer pool.Stop(time.Second)

	callerCh := connect(t, ns)
	e, err := gateway.NewEngine(gateway.Config{
		Channel:        callerCh,
		Executor:       pool,
		DefaultTimeout: 5 * time.Second,
		Methods: []gateway.MethodSpec{
			{Name: "submitOrder", Target: "orders.submit", Mode: gateway.ModeFuture},
		},
	})
	if err != nil {
		t.Fatalf("%s - NewEngine failed: %v", integrationTestPrefix, err)
	}

	f, err := e.InvokeFuture(context.Background(), "submitOrder", "order")
	if err != nil {
		t.Fatalf("%s - InvokeFuture failed: %v", integrationTestPrefix, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	value, err := f.Get(ctx)
	if err != nil {
		t.Fatalf("%s - Get failed: %v", integrationTestPrefix, err)
	}
	if value != "done" {
		t.Errorf("%s - expected done, got %v", integrationTestPrefix, value)
	}
}

func TestIntegration_VoidSuccessStaysOffDeadLetterSubject(t *testing.T) {
	ns := startNATS(t)

	serviceCh := connect(t, ns)
	r := responder.New(serviceCh, "audit.log", responder.Opts{})
	r.Handle("logEvent", func(ctx context.Context, env *envelope.Envelope) (any, error) {
		return "logged fine", nil
	})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("%s - responder start failed: %v", integrationTestPrefix, err)
	}
	defer r.Stop()

	watcherCh := connect(t, ns)
	deadLetters := make(chan *envelope.Envelope, 1)
	if err := watcherCh.Subscribe("gateway.deadletter", func(env *envelope.Envelope) {
		deadLetters <- env
	}); err != nil {
		t.Fatalf("%s - Subscribe failed: %v", integrationTestPrefix, err)
	}

	callerCh := connect(t, ns)
	e, err := gateway.NewEngine(gateway.Config{
		Channel:             callerCh,
		DefaultErrorSubject: "gateway.deadletter",
		Methods: []gateway.MethodSpec{
			{Name: "logEvent", Target: "audit.log", Mode: gateway.ModeVoid},
		},
	})
	if err != nil {
		t.Fatalf("%s - NewEngine failed: %v", integrationTestPrefix, err)
	}

	if _, err := e.Invoke(context.Background(), "logEvent", "event-1"); err != nil {
		t.Fatalf("%s - Invoke failed: %v", integrationTestPrefix, err)
	}

	select {
	case env := <-deadLetters:
		t.Fatalf("%s - successful result reached the dead-letter subject: %v", integrationTestPrefix, env.Payload)
	case <-time.After(time.Second):
	}
}

func TestIntegration_VoidFailureRoutedToDeadLetterSubject(t *testing.T) {
	ns := startNATS(t)

	serviceCh := connect(t, ns)
	r := responder.New(serviceCh, "audit.log", responder.Opts{})
	r.Handle("logEvent", func(ctx context.Context, env *envelope.Envelope) (any, error) {
		return nil, errors.New("sink unavailable")
	})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("%s - responder start failed: %v", integrationTestPrefix, err)
	}
	defer r.Stop()

	watcherCh := connect(t, ns)
	deadLetters := make(chan *envelope.Envelope, 1)
	if err := watcherCh.Subscribe("gateway.deadletter", func(env *envelope.Envelope) {
		deadLetters <- env
	}); err != nil {
		t.Fatalf("%s - Subscribe failed: %v", integrationTestPrefix, err)
	}

	callerCh := connect(t, ns)
	e, err := gateway.NewEngine(gateway.Config{
		Channel:             callerCh,
		DefaultErrorSubject: "gateway.deadletter",
		Methods: []gateway.MethodSpec{
			{Name: "logEvent", Target: "audit.log", Mode: gateway.ModeVoid},
		},
	})
	if err != nil {
		t.Fatalf("%s - NewEngine failed: %v", integrationTestPrefix, err)
	}

	if _, err := e.Invoke(context.Background(), "logEvent", "event-1"); err != nil {
		t.Fatalf("%s - Invoke failed: %v", integrationTestPrefix, err)
	}

	select {
	case env := <-deadLetters:
		if !env.IsError() {
			t.Errorf("%s - expected error-marked dead letter", integrationTestPrefix)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - downstream failure never reached the dead-letter subject", integrationTestPrefix)
	}
}
