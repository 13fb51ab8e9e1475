// Package events publishes gateway error events to COMMS subjects.
package events

import (
	"context"
	"time"

	"github.com/morezero/comms-gateway/pkg/envelope"
)

// GatewayErrorEvent records a downstream failure that could not be raised
// to any caller: a fire-and-forget flow failed, or a responder handler
// failed with no reply destination to report to.
type GatewayErrorEvent struct {
	EventType string                `json:"eventType"`
	Method    string                `json:"method"`
	Subject   string                `json:"subject,omitempty"`
	RequestID string                `json:"requestId,omitempty"`
	Code      string                `json:"code"`
	Message   string                `json:"message"`
	Causes    []envelope.CauseEntry `json:"causes,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

// EventTypeGatewayError is the type tag carried by GatewayErrorEvent.
const EventTypeGatewayError = "gateway.error"

// NewGatewayErrorEvent stamps a new event.
func NewGatewayErrorEvent(method, subject, requestID, code, message string, causes []envelope.CauseEntry) *GatewayErrorEvent {
	return &GatewayErrorEvent{
		EventType: EventTypeGatewayError,
		Method:    method,
		Subject:   subject,
		RequestID: requestID,
		Code:      code,
		Message:   message,
		Causes:    causes,
		Timestamp: time.Now().UTC(),
	}
}

// Publisher delivers gateway error events somewhere durable.
type Publisher interface {
	PublishError(ctx context.Context, event *GatewayErrorEvent) error
}
