package config

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
)

// setting is one value that `querybot config get/set` can address.
type setting struct {
	get    func(*Config) any
	set    func(*Config, string) error
	secret bool
}

func stringSetting(field func(*Config) *string) setting {
	return setting{
		get: func(c *Config) any { return *field(c) },
		set: func(c *Config, v string) error { *field(c) = v; return nil },
	}
}

func secretSetting(field func(*Config) *string) setting {
	s := stringSetting(field)
	s.secret = true
	return s
}

func intSetting(field func(*Config) *int) setting {
	return setting{
		get: func(c *Config) any { return *field(c) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("expected an integer, got %q", v)
			}
			*field(c) = n
			return nil
		},
	}
}

func boolSetting(field func(*Config) *bool) setting {
	return setting{
		get: func(c *Config) any { return *field(c) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("expected true or false, got %q", v)
			}
			*field(c) = b
			return nil
		},
	}
}

var settings = map[string]setting{
	"general.logLevel":  stringSetting(func(c *Config) *string { return &c.General.LogLevel }),
	"general.logFile":   stringSetting(func(c *Config) *string { return &c.General.LogFile }),
	"general.queueSize": intSetting(func(c *Config) *int { return &c.General.QueueSize }),
	"general.allowSmallTalkWithoutCredentials": boolSetting(func(c *Config) *bool {
		return &c.General.AllowSmallTalkWithoutCredentials
	}),
	"general.rateBurst":     intSetting(func(c *Config) *int { return &c.General.RateBurst }),
	"general.ratePerMinute": intSetting(func(c *Config) *int { return &c.General.RatePerMinute }),

	"slack.botToken":      secretSetting(func(c *Config) *string { return &c.Slack.BotToken }),
	"slack.appToken":      secretSetting(func(c *Config) *string { return &c.Slack.AppToken }),
	"slack.signingSecret": secretSetting(func(c *Config) *string { return &c.Slack.SigningSecret }),
	"slack.mode":          stringSetting(func(c *Config) *string { return &c.Slack.Mode }),
	"slack.listen":        stringSetting(func(c *Config) *string { return &c.Slack.Listen }),
	"slack.eventsPath":    stringSetting(func(c *Config) *string { return &c.Slack.EventsPath }),

	"dialogflow.projectId":       stringSetting(func(c *Config) *string { return &c.Dialogflow.ProjectID }),
	"dialogflow.languageCode":    stringSetting(func(c *Config) *string { return &c.Dialogflow.LanguageCode }),
	"dialogflow.credentialsFile": stringSetting(func(c *Config) *string { return &c.Dialogflow.CredentialsFile }),
	"dialogflow.timeoutSeconds":  intSetting(func(c *Config) *int { return &c.Dialogflow.TimeoutSeconds }),

	"auth0.timeoutSeconds":  intSetting(func(c *Config) *int { return &c.Auth0.TimeoutSeconds }),
	"auth0.maxInlineLength": intSetting(func(c *Config) *int { return &c.Auth0.MaxInlineLength }),

	"store.driver": stringSetting(func(c *Config) *string { return &c.Store.Driver }),
	"store.dbPath": stringSetting(func(c *Config) *string { return &c.Store.DBPath }),

	"metrics.enabled":  boolSetting(func(c *Config) *bool { return &c.Metrics.Enabled }),
	"metrics.listen":   stringSetting(func(c *Config) *string { return &c.Metrics.Listen }),
	"metrics.endpoint": stringSetting(func(c *Config) *string { return &c.Metrics.Endpoint }),
}

// envRefPattern matches a bare ${VAR} reference with no inline default.
var envRefPattern = regexp.MustCompile(`^\$\{[A-Za-z_][A-Za-z0-9_]*\}$`)

// GetByPath returns the value of a setting by dot-notation path (e.g. "slack.mode").
func GetByPath(cfg *Config, path string) (any, error) {
	s, ok := settings[path]
	if !ok {
		return nil, fmt.Errorf("unknown setting: %s", path)
	}
	return s.get(cfg), nil
}

// SetByPath parses value for the setting at path and stores it in cfg.
// Secrets only accept an environment reference such as ${SLACK_BOT_TOKEN},
// so the literal never lands in the config file.
func SetByPath(cfg *Config, path, value string) error {
	s, ok := settings[path]
	if !ok {
		return fmt.Errorf("unknown setting: %s", path)
	}
	if s.secret && !envRefPattern.MatchString(value) {
		return fmt.Errorf("%s is a secret: set it to an environment reference like ${VAR} instead of a literal", path)
	}
	if err := s.set(cfg, value); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// Sanitize returns a copy of the config with sensitive values masked.
func Sanitize(cfg *Config) *Config {
	copy := *cfg
	for _, p := range SecretPaths() {
		s := settings[p]
		s.set(&copy, maskString(s.get(&copy).(string)))
	}
	return &copy
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// SecretPaths lists the settings that hold credentials.
func SecretPaths() []string {
	var out []string
	for p, s := range settings {
		if s.secret {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return out
}

// ListPaths returns every setting path in sorted order.
func ListPaths() []string {
	out := make([]string, 0, len(settings))
	for p := range settings {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}
