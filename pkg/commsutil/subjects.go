package commsutil

import (
	"fmt"
	"strings"
)

// Default COMMS subjects.
const (
	SubjectDeadLetter = "gateway.deadletter"
	SubjectReplyBase  = "gateway.reply"
)

// BuildMethodSubject builds the COMMS subject a versioned method target
// resolves to.
func BuildMethodSubject(app, name string, major int) string {
	safe := strings.ReplaceAll(name, ".", "_")
	return fmt.Sprintf("cap.%s.%s.v%d", app, safe, major)
}

// BuildReplySubject builds a private reply subject for one invocation.
// NATS channels use broker-generated inboxes instead; this form is for
// substrates without native inbox support.
func BuildReplySubject(requestID string) string {
	return fmt.Sprintf("%s.%s", SubjectReplyBase, requestID)
}
