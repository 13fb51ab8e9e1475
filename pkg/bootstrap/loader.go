package bootstrap

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/morezero/comms-gateway/pkg/gateway"
	"github.com/morezero/comms-gateway/pkg/route"
)

const logPrefix = "bootstrap:loader"

// LoadGatewayFile loads gateway config from file paths or environment.
// It tries paths in order: first any paths passed in, then GATEWAY_CONFIG_FILE
// env, then defaults. So an explicit path is tried before the env var.
func LoadGatewayFile(paths ...string) (*GatewayFile, error) {
	all := make([]string, 0, len(paths)+3)
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	if envPath := os.Getenv("GATEWAY_CONFIG_FILE"); envPath != "" {
		all = append(all, envPath)
	}
	all = append(all, "config/gateway.json", "gateway.json")

	for _, p := range all {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}

		var cfg GatewayFile
		if err := json.Unmarshal(data, &cfg); err != nil {
			slog.Warn(fmt.Sprintf("%s - Failed to parse gateway file %s: %v", logPrefix, p, err))
			continue
		}

		slog.Info(fmt.Sprintf("%s - Loaded gateway config from %s", logPrefix, p))
		return &cfg, nil
	}

	return nil, fmt.Errorf("%s - no gateway config file found", logPrefix)
}

// BuildConfig turns a loaded file into an engine config. The channel,
// executor, mapper, and metrics are runtime collaborators the caller wires
// in afterwards.
func BuildConfig(file *GatewayFile) (gateway.Config, error) {
	cfg := gateway.Config{
		DefaultTimeout:      time.Duration(file.Defaults.TimeoutMs) * time.Millisecond,
		DefaultErrorSubject: file.Defaults.ErrorSubject,
		ErrorRouteDepth:     file.Defaults.ErrorRouteDepth,
	}

	if len(file.Routes) > 0 {
		table := route.NewTable()
		for key, versions := range file.Routes {
			app, name, ok := strings.Cut(key, ".")
			if !ok {
				return gateway.Config{}, fmt.Errorf("%s - route key %q is not app.name", logPrefix, key)
			}
			for _, v := range versions {
				table.Add(app, name, route.Version{
					Major:      v.Major,
					Minor:      v.Minor,
					Patch:      v.Patch,
					Prerelease: v.Prerelease,
					Status:     v.Status,
				})
			}
		}
		cfg.Routes = table
	}

	cfg.Methods = make([]gateway.MethodSpec, 0, len(file.Methods))
	for _, m := range file.Methods {
		spec, err := buildMethodSpec(m)
		if err != nil {
			return gateway.Config{}, err
		}
		cfg.Methods = append(cfg.Methods, spec)
	}
	return cfg, nil
}

func buildMethodSpec(m MethodFile) (gateway.MethodSpec, error) {
	mode, ok := gateway.ParseReturnMode(m.Mode)
	if !ok {
		return gateway.MethodSpec{}, fmt.Errorf("%s - method %q has unknown mode %q", logPrefix, m.Name, m.Mode)
	}

	spec := gateway.MethodSpec{
		Name:               m.Name,
		Target:             m.Target,
		Mode:               mode,
		Timeout:            time.Duration(m.TimeoutMs) * time.Millisecond,
		ErrorSubject:       m.ErrorSubject,
		CompletableSubtype: m.CompletableSubtype,
	}
	if m.TimeoutMs < 0 {
		spec.Timeout = -1
	}
	for _, code := range m.DeclaredCodes {
		spec.DeclaredErrors = append(spec.DeclaredErrors, gateway.NewError(code, ""))
	}
	if m.Payload != nil {
		spec.Payload = &gateway.PayloadSpec{Literal: m.Payload}
	}
	return spec, nil
}
