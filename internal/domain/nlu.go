package domain

import "context"

// FallbackIntent is the intent name the NLU agent reports when nothing matched.
const FallbackIntent = "Default Fallback Intent"

// Classification is the result of running one message through the NLU agent.
type Classification struct {
	Intent          string
	FulfillmentText string
	Parameters      map[string]any
}

// Classifier detects the intent of a single-turn message.
type Classifier interface {
	DetectIntent(ctx context.Context, sessionID, text string) (Classification, error)
}
