package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/localSummer/mcp-tool-chainer/internal/mcp"
)

// EnvConfigPath is the environment variable consulted when no config path
// is given on the command line.
const EnvConfigPath = "CONFIG_PATH"

// Load reads the JSON configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, mcp.WrapErr(mcp.KindConfig, fmt.Sprintf("open %q", path), err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, mcp.WrapErr(mcp.KindConfig, fmt.Sprintf("parse %q", path), err)
	}
	return cfg, nil
}

// LoadFromReader decodes a JSON config from r and validates the result.
// Unknown fields are tolerated: mcpServers files in the wild carry keys for
// other hosts, and rejecting them would break the shared-file use case.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := json.NewDecoder(r)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Settings.LogLevel != "" && !cfg.Settings.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("settings.logLevel %q is invalid; valid values: debug, info, warn, error", cfg.Settings.LogLevel))
	}
	if cfg.Settings.RequestTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("settings.requestTimeoutSeconds %d is negative", cfg.Settings.RequestTimeoutSeconds))
	}
	if cfg.Settings.InvocationTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("settings.invocationTimeoutSeconds %d is negative", cfg.Settings.InvocationTimeoutSeconds))
	}

	targets := 0
	for key, srv := range cfg.MCPServers {
		if key == "" {
			errs = append(errs, errors.New("mcpServers contains an empty key"))
			continue
		}
		if key == mcp.ReservedServerKey {
			// Legitimate in shared config files; it just never becomes a
			// discovery target.
			slog.Debug("config names the reserved self key; it will be skipped", "key", key)
			continue
		}
		targets++
		if srv.Command == "" {
			errs = append(errs, fmt.Errorf("mcpServers[%q].command is required", key))
		}
	}

	if targets == 0 {
		slog.Warn("config lists no discoverable servers; the registry will stay empty")
	}

	return errors.Join(errs...)
}
