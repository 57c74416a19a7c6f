// Package agent turns one chat message into one reply envelope: classify,
// authorize, dispatch, normalize.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/google/uuid"

	"querybot/internal/domain"
	"querybot/internal/intent"
	"querybot/internal/metrics"
)

// Replies for the paths that never reach a handler.
const (
	InvalidInputMessage          = "Invalid input. Please provide a valid message and Slack user ID."
	ClassificationFailureMessage = "Sorry, I couldn't process your message right now. Please try again later."
	CredentialsPromptMessage     = "Please provide your Auth0 credentials by using the `/authorize` command."
	CredentialsIncompleteMessage = "Your Auth0 credentials are incomplete. Please update them using the `/authorize` command."
	HandlerFailureMessage        = "An error occurred while processing your request. Please try again later."
)

// CredentialStore is the part of domain.CredentialStore the orchestrator uses.
type CredentialStore interface {
	Get(ctx context.Context, userID string) (*domain.Credentials, error)
	Upsert(ctx context.Context, userID string, creds domain.Credentials) error
}

// APIFactory builds a management API client for one user's credentials.
type APIFactory func(creds *domain.Credentials) (intent.API, error)

// OrchestratorConfig configures the orchestrator.
type OrchestratorConfig struct {
	Classifier domain.Classifier
	Store      CredentialStore
	NewAPI     APIFactory
	Registry   *intent.Registry
	Logger     *slog.Logger

	// AllowAnonymousSmallTalk answers intents without a handler before
	// looking up credentials.
	AllowAnonymousSmallTalk bool

	// NewSessionID defaults to random UUIDs.
	NewSessionID func() string
}

// Orchestrator is the single entry point chat transports call.
type Orchestrator struct {
	classifier    domain.Classifier
	store         CredentialStore
	newAPI        APIFactory
	registry      *intent.Registry
	logger        *slog.Logger
	anonSmallTalk bool
	newSessionID  func() string
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Registry == nil {
		cfg.Registry = intent.DefaultRegistry(intent.Options{Logger: cfg.Logger})
	}
	if cfg.NewSessionID == nil {
		cfg.NewSessionID = func() string { return uuid.NewString() }
	}
	return &Orchestrator{
		classifier:    cfg.Classifier,
		store:         cfg.Store,
		newAPI:        cfg.NewAPI,
		registry:      cfg.Registry,
		logger:        cfg.Logger,
		anonSmallTalk: cfg.AllowAnonymousSmallTalk,
		newSessionID:  cfg.NewSessionID,
	}
}

// ProcessMessage runs one message through the pipeline. It always returns a
// well-formed envelope.
func (o *Orchestrator) ProcessMessage(ctx context.Context, message, senderID string) (env domain.Envelope) {
	metrics.MessagesTotal.Inc()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("message processing panicked", "sender", senderID, "panic", r, "stack", string(debug.Stack()))
			outcome("panic")
			env = domain.TextEnvelope(HandlerFailureMessage)
		}
	}()

	if strings.TrimSpace(message) == "" || strings.TrimSpace(senderID) == "" {
		o.logger.Warn("rejecting message", "err", domain.ErrInvalidInput)
		outcome("invalid_input")
		return domain.TextEnvelope(InvalidInputMessage)
	}

	text := Sanitize(message)
	sessionID := o.newSessionID()
	class, err := o.classifier.DetectIntent(ctx, sessionID, text)
	if err != nil {
		o.logger.Error("intent detection failed", "sender", senderID, "session", sessionID, "err", err)
		outcome("classification_failure")
		return domain.TextEnvelope(ClassificationFailureMessage)
	}
	metrics.Collector.IntentCounter(class.Intent).Inc()
	o.logger.Info("intent detected", "sender", senderID, "intent", class.Intent)

	handler, found := o.registry.Handler(class.Intent)
	if !found && o.anonSmallTalk {
		outcome("no_handler")
		return domain.TextEnvelope(class.FulfillmentText)
	}

	creds, err := o.store.Get(ctx, senderID)
	if err != nil {
		o.logger.Error("credential lookup failed", "sender", senderID, "err", err)
		outcome("store_failure")
		return domain.TextEnvelope(ClassificationFailureMessage)
	}
	if creds == nil {
		o.logger.Info("no stored credentials", "sender", senderID, "err", domain.ErrCredentialsMissing)
		outcome("credentials_missing")
		return domain.TextEnvelope(CredentialsPromptMessage)
	}

	api, err := o.newAPI(creds)
	if err != nil {
		o.logger.Warn("cannot build management api client", "sender", senderID, "err", err)
		if errors.Is(err, domain.ErrCredentialsIncomplete) || errors.Is(err, domain.ErrCredentialsMissing) {
			outcome("credentials_incomplete")
			return domain.TextEnvelope(CredentialsIncompleteMessage)
		}
		outcome("handler_failure")
		return domain.TextEnvelope(HandlerFailureMessage)
	}

	if !found {
		outcome("no_handler")
		return domain.TextEnvelope(class.FulfillmentText)
	}

	res, err := o.dispatch(ctx, handler, class.Parameters, api)
	if err != nil {
		o.logger.Error("intent handler failed", "sender", senderID, "intent", class.Intent, "err", err)
		outcome("handler_failure")
		return domain.TextEnvelope(HandlerFailureMessage)
	}

	outcome("ok")
	env = domain.Envelope{
		Text:            class.FulfillmentText,
		Payload:         res.Payload,
		NeedsFileUpload: res.NeedsFileUpload && res.Payload != "",
		AdditionalText:  res.AdditionalText,
	}
	return env
}

// dispatch runs h, converting a panic into domain.ErrHandlerFailure.
func (o *Orchestrator) dispatch(ctx context.Context, h intent.Handler, params map[string]any, api intent.API) (res intent.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Debug("handler stack", "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %s: %v", domain.ErrHandlerFailure, h.Name(), r)
		}
	}()
	if params == nil {
		params = map[string]any{}
	}
	return h.Handle(ctx, params, api), nil
}

// UpsertCredentials stores a user's credentials, replacing any previous
// record and its cached token.
func (o *Orchestrator) UpsertCredentials(ctx context.Context, senderID, baseURL, clientID, clientSecret string) error {
	senderID = strings.TrimSpace(senderID)
	creds := domain.Credentials{
		UserID:       senderID,
		BaseURL:      strings.TrimSpace(baseURL),
		ClientID:     strings.TrimSpace(clientID),
		ClientSecret: strings.TrimSpace(clientSecret),
	}
	if senderID == "" || !creds.Complete() {
		return fmt.Errorf("%w: user id, base url, client id and client secret are required", domain.ErrInvalidInput)
	}
	if err := o.store.Upsert(ctx, senderID, creds); err != nil {
		return fmt.Errorf("upsert credentials: %w", err)
	}
	o.logger.Info("credentials saved", "sender", senderID, "base_url", creds.BaseURL)
	return nil
}

func outcome(name string) {
	metrics.Collector.OutcomeCounter(name).Inc()
}
