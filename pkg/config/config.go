// Package config loads the Morgana process configuration from YAML and
// a local .env file, and watches the config
// file for changes so rate-limit and registry settings can be
// re-validated without a restart (§6 "Configuration keys consumed").
package config

import (
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/mdesalvo/Morgana-sub001/pkg/mcpingest"
	"github.com/mdesalvo/Morgana-sub001/pkg/model"
	"github.com/mdesalvo/Morgana-sub001/pkg/ratelimiter"
)

// IntentConfig is one configured intent entry under Morgana:Intents.
type IntentConfig struct {
	Name         string `yaml:"name" mapstructure:"name"`
	Description  string `yaml:"description" mapstructure:"description"`
	Label        string `yaml:"label" mapstructure:"label"`
	DefaultValue string `yaml:"default_value" mapstructure:"default_value"`
}

// ToIntentDefinition converts to the data-model shape used for registry
// validation (§4.6).
func (c IntentConfig) ToIntentDefinition() model.IntentDefinition {
	return model.NewIntentDefinition(c.Name, c.Description, c.Label, c.DefaultValue)
}

// RateLimitingConfig mirrors Morgana:RateLimiting:* (§6, §7).
type RateLimitingConfig struct {
	Enabled      bool  `yaml:"enabled" mapstructure:"enabled"`
	MaxPerMinute int64 `yaml:"max_per_minute" mapstructure:"max_per_minute"`
	MaxPerHour   int64 `yaml:"max_per_hour" mapstructure:"max_per_hour"`
	MaxPerDay    int64 `yaml:"max_per_day" mapstructure:"max_per_day"`
}

// ToLimiterConfig converts to the ratelimiter package's shape.
func (c RateLimitingConfig) ToLimiterConfig() ratelimiter.Config {
	return ratelimiter.Config{
		Enabled:      c.Enabled,
		MaxPerMinute: c.MaxPerMinute,
		MaxPerHour:   c.MaxPerHour,
		MaxPerDay:    c.MaxPerDay,
	}
}

// PersistenceConfig mirrors Morgana:Persistence:* (§4.7).
type PersistenceConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"` // "memory" | "sqlite"
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

// PromptsConfig mirrors Morgana:Prompts:* — the prompt ids used to
// resolve each actor's system prompt (§4.1, §4.2).
type PromptsConfig struct {
	GuardPromptID      string `yaml:"guard_prompt_id" mapstructure:"guard_prompt_id"`
	ClassifierPromptID string `yaml:"classifier_prompt_id" mapstructure:"classifier_prompt_id"`
	SupervisorPromptID string `yaml:"supervisor_prompt_id" mapstructure:"supervisor_prompt_id"`
}

// MCPServerConfig is one entry of Morgana:MCPServers:[{Name, Uri,
// Enabled, AdditionalSettings}] (§6) — an optional external MCP tool
// server ingested as one intent's domain delegate. Only the stdio
// transport is supported, so Uri is the subprocess command to run.
type MCPServerConfig struct {
	Name               string            `yaml:"name" mapstructure:"name"`
	Intent             string            `yaml:"intent" mapstructure:"intent"`
	Uri                string            `yaml:"uri" mapstructure:"uri"`
	Args               []string          `yaml:"args" mapstructure:"args"`
	Env                map[string]string `yaml:"env" mapstructure:"env"`
	Enabled            bool              `yaml:"enabled" mapstructure:"enabled"`
	AdditionalSettings map[string]any    `yaml:"additional_settings" mapstructure:"additional_settings"`
}

// ToIngestConfig converts to mcpingest's shape. The core stays agnostic
// to MCP (§6) — this conversion is the one place that bridges the two.
func (c MCPServerConfig) ToIngestConfig() mcpingest.Config {
	return mcpingest.Config{Intent: c.Intent, Command: c.Uri, Args: c.Args, Env: c.Env}
}

// HTTPConfig mirrors Morgana:HTTP:* — the thin push/ingress surface (§6).
type HTTPConfig struct {
	ListenAddress string `yaml:"listen_address" mapstructure:"listen_address"`
}

// LoggingConfig mirrors Morgana:Logging:*.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // "simple" | "verbose"
}

// Config is the root configuration document, keyed under "morgana" in YAML.
type Config struct {
	Intents      []IntentConfig    `yaml:"intents" mapstructure:"intents"`
	RateLimiting RateLimitingConfig `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	Persistence  PersistenceConfig `yaml:"persistence" mapstructure:"persistence"`
	Prompts      PromptsConfig     `yaml:"prompts" mapstructure:"prompts"`
	HTTP         HTTPConfig        `yaml:"http" mapstructure:"http"`
	Logging      LoggingConfig     `yaml:"logging" mapstructure:"logging"`
	MCPServers   []MCPServerConfig `yaml:"mcp_servers" mapstructure:"mcp_servers"`
	Debug        bool              `yaml:"debug" mapstructure:"debug"`
}

type document struct {
	Morgana Config `yaml:"morgana"`
}

// Load reads .env (if present, ignored if absent) then parses the YAML
// document at path into a Config.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config: loading .env: %w", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return doc.Morgana, nil
}

// DecodeLoose re-decodes a loosely-typed map (e.g. from a prompt store's
// additional_properties bag) into a strongly-typed struct, the same way
// prompt.Bag.Decode does for per-prompt data — exposed here for callers
// assembling Config fields from non-YAML sources.
func DecodeLoose(input any, out any) error {
	return mapstructure.Decode(input, out)
}

// Watcher re-reads path and invokes onChange whenever it is modified on
// disk, letting rate-limit thresholds and the intent list be updated
// without a process restart.
type Watcher struct {
	fsw *fsnotify.Watcher
}

// Watch starts watching path in the background. Call Close to stop.
func Watch(path string, onChange func(Config, error)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: creating watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config: watching %s: %w", path, err)
	}

	go func() {
		for {
			select {
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					onChange(Load(path))
				}
			case _, ok := <-fsw.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return &Watcher{fsw: fsw}, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error { return w.fsw.Close() }
