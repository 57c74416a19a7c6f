package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:      "info",
			QueueSize:     100,
			RateBurst:     5,
			RatePerMinute: 20,
		},
		Slack: SlackConfig{
			Mode:       "socket",
			Listen:     ":3000",
			EventsPath: "/slack/events",
		},
		Dialogflow: DialogflowConfig{
			LanguageCode:   "en",
			TimeoutSeconds: 10,
		},
		Auth0: Auth0Config{
			TimeoutSeconds:  5,
			MaxInlineLength: 3800,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DBPath: "~/.querybot/credentials.db",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Listen:   "127.0.0.1:9090",
			Endpoint: "/metrics",
		},
	}
}

// Template is the config written by `querybot init`: Defaults with secrets
// read from the environment.
func Template() *Config {
	cfg := Defaults()
	cfg.Slack.BotToken = "${SLACK_BOT_TOKEN}"
	cfg.Slack.AppToken = "${SLACK_APP_TOKEN:-}"
	cfg.Slack.SigningSecret = "${SLACK_SIGNING_SECRET:-}"
	cfg.Dialogflow.ProjectID = "${DIALOGFLOW_PROJECT_ID}"
	cfg.Dialogflow.CredentialsFile = "${GOOGLE_APPLICATION_CREDENTIALS:-}"
	return cfg
}
