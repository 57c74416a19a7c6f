package intent

import (
	"log/slog"
	"time"
)

// Options tune the default handlers.
type Options struct {
	MaxInlineLength int
	Now             func() time.Time
	Logger          *slog.Logger
}

// Registry resolves an intent name to its handler. Order matters: the first
// handler that accepts an intent wins.
type Registry struct {
	handlers []Handler
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger, handlers ...Handler) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{handlers: handlers, logger: logger}
	for _, h := range handlers {
		logger.Debug("registered intent handler", "intent", h.Name())
	}
	return r
}

// DefaultRegistry wires every supported intent.
func DefaultRegistry(opts Options) *Registry {
	if opts.MaxInlineLength <= 0 {
		opts.MaxInlineLength = DefaultMaxInlineLength
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return NewRegistry(opts.Logger,
		NewGetUserByIDHandler(opts.MaxInlineLength),
		NewSearchUsersByEmailHandler(opts.MaxInlineLength),
		NewGetActiveUsersCountHandler(),
		NewGetTenantSettingsHandler(opts.MaxInlineLength),
		NewGetStatsHandler(opts.MaxInlineLength, opts.Now),
		NewGetULPTemplateHandler(),
	)
}

// Handler returns the first handler accepting intent.
func (r *Registry) Handler(intent string) (Handler, bool) {
	for _, h := range r.handlers {
		if h.CanHandle(intent) {
			return h, true
		}
	}
	return nil, false
}

// Intents lists the handled intent names in registration order.
func (r *Registry) Intents() []string {
	names := make([]string, 0, len(r.handlers))
	for _, h := range r.handlers {
		names = append(names, h.Name())
	}
	return names
}
