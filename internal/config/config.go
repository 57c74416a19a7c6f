package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for querybot.
type Config struct {
	General    GeneralConfig    `json:"general" yaml:"general"`
	Slack      SlackConfig      `json:"slack" yaml:"slack"`
	Dialogflow DialogflowConfig `json:"dialogflow" yaml:"dialogflow"`
	Auth0      Auth0Config      `json:"auth0" yaml:"auth0"`
	Store      StoreConfig      `json:"store" yaml:"store"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel  string `json:"logLevel" yaml:"logLevel"`
	LogFile   string `json:"logFile,omitempty" yaml:"logFile,omitempty"` // optional log file path
	QueueSize int    `json:"queueSize" yaml:"queueSize"`
	// AllowSmallTalkWithoutCredentials answers intents that have no handler
	// before the credential lookup.
	AllowSmallTalkWithoutCredentials bool `json:"allowSmallTalkWithoutCredentials" yaml:"allowSmallTalkWithoutCredentials"`
	RateBurst                        int  `json:"rateBurst" yaml:"rateBurst"`         // per-sender burst, 0 = unlimited
	RatePerMinute                    int  `json:"ratePerMinute" yaml:"ratePerMinute"` // per-sender refill rate
}

// SlackConfig configures the Slack channel adapter.
type SlackConfig struct {
	BotToken      string `json:"botToken" yaml:"botToken"`
	AppToken      string `json:"appToken,omitempty" yaml:"appToken,omitempty"`           // xapp- token, socket mode only
	SigningSecret string `json:"signingSecret,omitempty" yaml:"signingSecret,omitempty"` // HTTP mode only
	Mode          string `json:"mode" yaml:"mode"`                                       // "socket" | "http"
	Listen        string `json:"listen" yaml:"listen"`
	EventsPath    string `json:"eventsPath" yaml:"eventsPath"`
}

// DialogflowConfig configures the NLU agent.
type DialogflowConfig struct {
	ProjectID       string `json:"projectId" yaml:"projectId"`
	LanguageCode    string `json:"languageCode" yaml:"languageCode"`
	CredentialsFile string `json:"credentialsFile,omitempty" yaml:"credentialsFile,omitempty"`
	TimeoutSeconds  int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`
}

// Auth0Config configures calls to the tenant's Management API.
type Auth0Config struct {
	TimeoutSeconds  int `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	MaxInlineLength int `json:"maxInlineLength" yaml:"maxInlineLength"`
}

// StoreConfig selects where per-user credentials live.
type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver"` // "sqlite" | "memory"
	DBPath string `json:"dbPath" yaml:"dbPath"`
}

// MetricsConfig configures the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Listen   string `json:"listen" yaml:"listen"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.querybot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".querybot"
	}
	return filepath.Join(home, ".querybot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a JSON or YAML config file (chosen by extension) on top of Defaults.
func Load(path string) (*Config, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Dialogflow.CredentialsFile = ExpandPath(cfg.Dialogflow.CredentialsFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset
// ${VAR} without a default is left as is.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		name := groups[1]
		// ${VAR:-} is a valid empty default.
		hasDefault := strings.Contains(match, ":-")
		fallback := ""
		if len(groups) >= 3 {
			fallback = groups[2]
		}

		if val, ok := os.LookupEnv(name); ok && val != "" {
			return val
		}
		if hasDefault {
			return fallback
		}
		return match
	})
}

// Save writes cfg as JSON, or YAML when path ends in .yaml/.yml.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	// Tokens live in this file.
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.QueueSize < 1 {
		errs = append(errs, "general.queueSize must be >= 1")
	}
	if cfg.General.RateBurst < 0 {
		errs = append(errs, "general.rateBurst must be >= 0")
	}
	if cfg.General.RateBurst > 0 && cfg.General.RatePerMinute < 1 {
		errs = append(errs, "general.ratePerMinute must be >= 1 when rateBurst is set")
	}

	switch cfg.Slack.Mode {
	case "socket", "http":
	default:
		errs = append(errs, "slack.mode must be one of: socket, http")
	}
	if cfg.Slack.Mode == "http" && !strings.HasPrefix(cfg.Slack.EventsPath, "/") {
		errs = append(errs, "slack.eventsPath must start with /")
	}

	if cfg.Dialogflow.TimeoutSeconds < 1 || cfg.Dialogflow.TimeoutSeconds > 120 {
		errs = append(errs, "dialogflow.timeoutSeconds must be between 1 and 120")
	}
	if cfg.Auth0.TimeoutSeconds < 1 || cfg.Auth0.TimeoutSeconds > 120 {
		errs = append(errs, "auth0.timeoutSeconds must be between 1 and 120")
	}
	if cfg.Auth0.MaxInlineLength < 1 {
		errs = append(errs, "auth0.maxInlineLength must be >= 1")
	}

	switch cfg.Store.Driver {
	case "memory":
	case "sqlite":
		if cfg.Store.DBPath == "" {
			errs = append(errs, "store.dbPath is required for the sqlite driver")
		}
	default:
		errs = append(errs, "store.driver must be one of: sqlite, memory")
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Listen == "" {
			errs = append(errs, "metrics.listen is required when metrics are enabled")
		}
		if !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
			errs = append(errs, "metrics.endpoint must start with /")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// RequireServe reports the settings that `serve` needs but Validate leaves optional,
// so that `config show` and `doctor` work on a half-filled file.
func RequireServe(cfg *Config) error {
	var missing []string
	if cfg.Slack.BotToken == "" {
		missing = append(missing, "slack.botToken")
	}
	if cfg.Slack.Mode == "socket" && cfg.Slack.AppToken == "" {
		missing = append(missing, "slack.appToken")
	}
	if cfg.Slack.Mode == "http" && cfg.Slack.SigningSecret == "" {
		missing = append(missing, "slack.signingSecret")
	}
	if cfg.Dialogflow.ProjectID == "" {
		missing = append(missing, "dialogflow.projectId")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
