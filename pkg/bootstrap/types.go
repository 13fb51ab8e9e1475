// Package bootstrap loads gateway configuration files: method
// declarations, engine defaults, and the route table.
package bootstrap

// MethodFile declares one gateway method in a config file.
type MethodFile struct {
	Name   string `json:"name"`
	Target string `json:"target"`
	// Mode is one of void, value, future, listenable, completable, single.
	Mode      string `json:"mode"`
	TimeoutMs int64  `json:"timeoutMs,omitempty"`
	// DeclaredCodes lists the failure codes this method declares; a
	// downstream failure carrying one of them is raised as that coded
	// error instead of being routed or unwrapped further.
	DeclaredCodes []string `json:"declaredCodes,omitempty"`
	// ErrorSubject overrides the engine error destination. "-" disables
	// routing for this method.
	ErrorSubject string `json:"errorSubject,omitempty"`
	// Payload is a fixed request payload for parameterless methods.
	Payload any `json:"payload,omitempty"`
	// CompletableSubtype marks completable methods whose handle type is
	// supplied by the downstream flow.
	CompletableSubtype bool `json:"completableSubtype,omitempty"`
}

// DefaultsFile holds the engine-level defaults a config file may set.
type DefaultsFile struct {
	TimeoutMs       int64  `json:"timeoutMs,omitempty"`
	ErrorSubject    string `json:"errorSubject,omitempty"`
	ErrorRouteDepth int    `json:"errorRouteDepth,omitempty"`
}

// RouteVersionFile is one known version of a routed service.
type RouteVersionFile struct {
	Major      int    `json:"major"`
	Minor      int    `json:"minor"`
	Patch      int    `json:"patch"`
	Prerelease string `json:"prerelease,omitempty"`
	Status     string `json:"status,omitempty"`
}

// GatewayFile is the root gateway configuration file.
type GatewayFile struct {
	Name        string       `json:"name,omitempty"`
	Description string       `json:"description,omitempty"`
	Defaults    DefaultsFile `json:"defaults"`
	Methods     []MethodFile `json:"methods"`
	// Routes maps "app.name" to its known versions.
	Routes map[string][]RouteVersionFile `json:"routes,omitempty"`
}
