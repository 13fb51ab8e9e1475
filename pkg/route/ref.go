// Package route resolves gateway method targets. A target is either a
// literal COMMS subject, used as-is, or a versioned reference
// "app.name@<range>" resolved against the route table's known versions.
package route

import (
	"fmt"
	"regexp"
	"strings"
)

// ParsedTargetRef holds the parsed components of a versioned target.
type ParsedTargetRef struct {
	// App is the application namespace (e.g. "orders").
	App string
	// Name is the method's service name within the app (e.g. "submit").
	Name string
	// Range is the version range (e.g. "^2.1.0", "2"); empty means latest.
	Range string
	// Raw is the input string.
	Raw string
}

var (
	appNameRegex    = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
	targetNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._-]*$`)
	majorOnlyRegex  = regexp.MustCompile(`^\d+$`)
)

// IsVersionedRef reports whether target is a versioned reference rather
// than a literal subject. Versioned references carry an "@".
func IsVersionedRef(target string) bool {
	return strings.Contains(target, "@")
}

// ParseTargetRef parses a versioned target reference.
//
// Supported formats:
//   - orders.submit@2         (major only)
//   - orders.submit@2.1.3     (exact version)
//   - orders.submit@^2.1.0    (caret range)
//   - orders.submit@~2.1.0    (tilde range)
//   - orders.submit@>=2.0.0   (comparison range)
func ParseTargetRef(input string) (*ParsedTargetRef, error) {
	raw := strings.TrimSpace(input)

	atIndex := strings.Index(raw, "@")
	if atIndex <= 0 {
		return nil, fmt.Errorf("route: target %q is not a versioned reference", input)
	}
	refPart := raw[:atIndex]
	rangeStr := strings.TrimSpace(raw[atIndex+1:])

	firstDot := strings.Index(refPart, ".")
	if firstDot <= 0 || firstDot == len(refPart)-1 {
		return nil, fmt.Errorf("route: target %q must have the form app.name@range", input)
	}
	app := refPart[:firstDot]
	name := refPart[firstDot+1:]

	if !appNameRegex.MatchString(app) {
		return nil, fmt.Errorf("route: invalid app namespace %q in target %q", app, input)
	}
	if !targetNameRegex.MatchString(name) {
		return nil, fmt.Errorf("route: invalid method name %q in target %q", name, input)
	}

	return &ParsedTargetRef{App: app, Name: name, Range: rangeStr, Raw: raw}, nil
}

// IsMajorOnly reports whether a range names only a major version.
func IsMajorOnly(rangeStr string) bool {
	return majorOnlyRegex.MatchString(rangeStr)
}
