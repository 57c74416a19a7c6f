package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"querybot/internal/domain"
	"querybot/internal/metrics"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

const (
	slackMaxMsgLen = 4000

	ModeSocket = "socket"
	ModeHTTP   = "http"

	UploadFilename = "response.txt"
	uploadTitle    = "Response"
)

// slackAPI is the Web API surface the channel calls.
type slackAPI interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UploadFileV2Context(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error)
	OpenViewContext(ctx context.Context, triggerID string, view slack.ModalViewRequest) (*slack.ViewResponse, error)
}

// CredentialRegistrar stores credentials submitted through /authorize.
type CredentialRegistrar interface {
	UpsertCredentials(ctx context.Context, senderID, baseURL, clientID, clientSecret string) error
}

// Slack implements domain.Channel for Slack, over Socket Mode or the HTTP
// Events API.
type Slack struct {
	botToken      string
	appToken      string
	signingSecret string
	mode          string
	listen        string
	eventsPath    string
	apiURL        string

	api         slackAPI
	client      *slack.Client
	credentials CredentialRegistrar
	bus         domain.MessageBus
	logger      *slog.Logger
	botUID      string // the bot's own user ID, to avoid replying to self
}

// SlackConfig configures the Slack channel.
type SlackConfig struct {
	BotToken      string
	AppToken      string // Socket Mode only
	SigningSecret string // HTTP mode only
	Mode          string // "socket" (default) or "http"
	Listen        string // HTTP mode listen address
	EventsPath    string // HTTP mode path for events, commands and interactivity
	APIURL        string // overrides https://slack.com/api/
	Credentials   CredentialRegistrar
	Logger        *slog.Logger
}

// NewSlack creates a new Slack channel handler.
func NewSlack(cfg SlackConfig) *Slack {
	if cfg.Mode == "" {
		cfg.Mode = ModeSocket
	}
	if cfg.Listen == "" {
		cfg.Listen = ":3000"
	}
	if cfg.EventsPath == "" {
		cfg.EventsPath = "/slack/events"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Slack{
		botToken:      cfg.BotToken,
		appToken:      cfg.AppToken,
		signingSecret: cfg.SigningSecret,
		mode:          cfg.Mode,
		listen:        cfg.Listen,
		eventsPath:    cfg.EventsPath,
		apiURL:        cfg.APIURL,
		credentials:   cfg.Credentials,
		logger:        cfg.Logger,
	}
	opts := []slack.Option{}
	if s.appToken != "" {
		opts = append(opts, slack.OptionAppLevelToken(s.appToken))
	}
	if s.apiURL != "" {
		opts = append(opts, slack.OptionAPIURL(s.apiURL))
	}
	s.client = slack.New(s.botToken, opts...)
	s.api = s.client
	return s
}

func (s *Slack) Name() string { return "slack" }

// Start authenticates and listens for events until ctx is done.
func (s *Slack) Start(ctx context.Context, bus domain.MessageBus) error {
	s.bus = bus

	authResp, err := s.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.botUID = authResp.UserID
	s.logger.Info("slack bot connected", "user", authResp.User, "user_id", authResp.UserID, "mode", s.mode)

	switch s.mode {
	case ModeSocket:
		return s.runSocketMode(ctx)
	case ModeHTTP:
		return s.runHTTP(ctx)
	default:
		return fmt.Errorf("slack: unknown mode %q", s.mode)
	}
}

func (s *Slack) runSocketMode(ctx context.Context) error {
	socketClient := socketmode.New(s.client)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-socketClient.Events:
				if !ok {
					return
				}
				s.handleSocketEvent(ctx, socketClient, evt)
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- socketClient.RunContext(ctx)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("slack bot disconnecting")
		return nil
	case err := <-errCh:
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("slack socket mode: %w", err)
	}
}

func (s *Slack) handleSocketEvent(ctx context.Context, client *socketmode.Client, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		client.Ack(*evt.Request)
		s.handleEventsAPI(eventsAPIEvent)

	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slack.SlashCommand)
		if !ok {
			return
		}
		if resp := s.handleSlashCommand(ctx, cmd); resp != nil {
			client.Ack(*evt.Request, resp)
		} else {
			client.Ack(*evt.Request)
		}

	case socketmode.EventTypeInteractive:
		cb, ok := evt.Data.(slack.InteractionCallback)
		if !ok {
			return
		}
		client.Ack(*evt.Request)
		s.handleInteraction(ctx, cb)

	default:
		// Acknowledge unknown events to prevent Socket Mode disconnection.
		if evt.Request != nil {
			client.Ack(*evt.Request)
		}
	}
}

func (s *Slack) handleEventsAPI(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		// Ignore bots, including ourselves, and edits or joins.
		if ev.User == "" || ev.User == s.botUID || ev.BotID != "" || ev.SubType != "" {
			return
		}
		s.logger.Info("slack message received",
			"user", ev.User,
			"channel", ev.Channel,
			"content_len", len(ev.Text),
		)
		s.publish(ev.Channel, ev.User, ev.Text)

	case *slackevents.AppMentionEvent:
		if ev.User == "" || ev.User == s.botUID {
			return
		}
		s.logger.Info("slack mention received", "user", ev.User, "channel", ev.Channel)
		content := ev.Text
		if idx := strings.Index(content, ">"); idx >= 0 {
			content = strings.TrimSpace(content[idx+1:])
		}
		s.publish(ev.Channel, ev.User, content)
	}
}

func (s *Slack) publish(chatID, userID, text string) {
	s.bus.Publish(domain.InboundMessage{
		Channel:   s.Name(),
		ChatID:    chatID,
		SenderID:  userID,
		Content:   text,
		Timestamp: time.Now(),
	})
}

// Deliver renders an envelope: text and additional text first, then the
// payload inline or as response.txt.
func (s *Slack) Deliver(ctx context.Context, chatID string, env domain.Envelope) error {
	text := env.Text
	if env.AdditionalText != "" {
		text += "\n" + env.AdditionalText
	}

	if !env.NeedsFileUpload {
		if env.Payload != "" {
			text += "\n" + env.Payload
		}
		return s.sendMessage(ctx, chatID, text)
	}

	if err := s.sendMessage(ctx, chatID, text); err != nil {
		return err
	}
	_, err := s.api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		Channel:  chatID,
		Content:  env.Payload,
		FileSize: len(env.Payload),
		Filename: UploadFilename,
		Title:    uploadTitle,
	})
	if err != nil {
		s.logger.Error("slack file upload failed", "channel", chatID, "err", err)
		return s.sendMessage(ctx, chatID, fmt.Sprintf("Failed to upload the file: %v", err))
	}
	metrics.FileUploads.Inc()
	s.logger.Info("file uploaded", "channel", chatID, "bytes", len(env.Payload))
	return nil
}

func (s *Slack) sendMessage(ctx context.Context, channelID, content string) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	for _, chunk := range splitSlackMessage(content, slackMaxMsgLen) {
		_, _, err := s.api.PostMessageContext(ctx, channelID, slack.MsgOptionText(chunk, false))
		if err != nil {
			s.logger.Error("slack send failed", "channel", channelID, "err", err)
			return fmt.Errorf("slack post message: %w", err)
		}
	}
	return nil
}

// splitSlackMessage cuts msg into chunks of at most maxLen bytes, preferring
// line breaks and never splitting a UTF-8 sequence.
func splitSlackMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}
		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}

var _ domain.Channel = (*Slack)(nil)
