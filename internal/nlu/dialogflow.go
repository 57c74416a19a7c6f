// Package nlu classifies chat messages with a Dialogflow ES agent.
package nlu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	dialogflow "cloud.google.com/go/dialogflow/apiv2"
	"cloud.google.com/go/dialogflow/apiv2/dialogflowpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"

	"querybot/internal/domain"
	"querybot/internal/metrics"
)

const (
	defaultLanguageCode = "en"
	defaultTimeout      = 10 * time.Second
)

// detector is the part of the Dialogflow sessions client we call.
type detector interface {
	DetectIntent(ctx context.Context, req *dialogflowpb.DetectIntentRequest, opts ...gax.CallOption) (*dialogflowpb.DetectIntentResponse, error)
}

// Config configures the Dialogflow classifier.
type Config struct {
	ProjectID       string
	LanguageCode    string
	CredentialsFile string // empty: application default credentials
	Timeout         time.Duration
	Logger          *slog.Logger
}

// Dialogflow implements domain.Classifier.
type Dialogflow struct {
	client    detector
	closer    func() error
	projectID string
	language  string
	timeout   time.Duration
	logger    *slog.Logger
}

var _ domain.Classifier = (*Dialogflow)(nil)

// NewDialogflow dials the Dialogflow sessions API.
func NewDialogflow(ctx context.Context, cfg Config) (*Dialogflow, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("dialogflow: project id is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	sc, err := dialogflow.NewSessionsClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("dialogflow: create sessions client: %w", err)
	}
	d := newWithDetector(sc, cfg)
	d.closer = sc.Close
	return d, nil
}

func newWithDetector(client detector, cfg Config) *Dialogflow {
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = defaultLanguageCode
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dialogflow{
		client:    client,
		projectID: cfg.ProjectID,
		language:  cfg.LanguageCode,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger,
	}
}

// SessionPath returns the agent session resource name for sessionID.
func (d *Dialogflow) SessionPath(sessionID string) string {
	return fmt.Sprintf("projects/%s/agent/sessions/%s", d.projectID, sessionID)
}

// DetectIntent sends text to the agent and flattens the query result.
func (d *Dialogflow) DetectIntent(ctx context.Context, sessionID, text string) (domain.Classification, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Classification{}, fmt.Errorf("%w: empty text", domain.ErrClassificationFailure)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req := &dialogflowpb.DetectIntentRequest{
		Session: d.SessionPath(sessionID),
		QueryInput: &dialogflowpb.QueryInput{
			Input: &dialogflowpb.QueryInput_Text{
				Text: &dialogflowpb.TextInput{Text: text, LanguageCode: d.language},
			},
		},
	}

	start := time.Now()
	resp, err := d.client.DetectIntent(ctx, req)
	metrics.NLULatency.Observe(time.Since(start).Seconds())
	if err != nil {
		d.logger.Error("detect intent failed", "session", sessionID, "err", err)
		return domain.Classification{}, fmt.Errorf("%w: %v", domain.ErrClassificationFailure, err)
	}

	qr := resp.GetQueryResult()
	if qr == nil {
		return domain.Classification{}, fmt.Errorf("%w: response without query result", domain.ErrClassificationFailure)
	}

	c := domain.Classification{
		Intent:          qr.GetIntent().GetDisplayName(),
		FulfillmentText: qr.GetFulfillmentText(),
		Parameters:      map[string]any{},
	}
	if c.Intent == "" {
		c.Intent = domain.FallbackIntent
	}
	if p := qr.GetParameters(); p != nil {
		c.Parameters = p.AsMap()
	}

	d.logger.Debug("intent detected", "session", sessionID, "intent", c.Intent,
		"confidence", qr.GetIntentDetectionConfidence())
	return c, nil
}

// Close releases the underlying gRPC connection.
func (d *Dialogflow) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer()
}
