package domain

import "context"

// Channel is a chat transport that feeds the bus and delivers envelopes.
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Deliver(ctx context.Context, chatID string, env Envelope) error
}
