package agent

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"querybot/internal/domain"
	"querybot/internal/metrics"
)

const pruneInterval = 10 * time.Minute

// SlowDownMessage is sent, with the seconds to wait, to a sender whose
// message was dropped by the rate limiter.
const SlowDownMessage = "You're sending messages too quickly. Please try again in %ds."

// Processor is implemented by Orchestrator.
type Processor interface {
	ProcessMessage(ctx context.Context, message, senderID string) domain.Envelope
}

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	Bus       domain.MessageBus
	Processor Processor
	Channels  []domain.Channel
	Limiter   *RateLimiter // optional
	Logger    *slog.Logger
}

// Worker drains the inbound bus one message at a time and hands each
// envelope back to the channel the message came from.
type Worker struct {
	bus       domain.MessageBus
	processor Processor
	channels  map[string]domain.Channel
	limiter   *RateLimiter
	logger    *slog.Logger

	// notified holds senders already told to slow down. Only Run touches it.
	notified map[string]bool
}

func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	channels := make(map[string]domain.Channel, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		channels[ch.Name()] = ch
	}
	return &Worker{
		bus:       cfg.Bus,
		processor: cfg.Processor,
		channels:  channels,
		limiter:   cfg.Limiter,
		logger:    cfg.Logger,
		notified:  make(map[string]bool),
	}
}

// Run blocks until ctx is done or the bus is closed.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("message worker started", "channels", len(w.channels))

	prune := time.NewTicker(pruneInterval)
	defer prune.Stop()

	inbound := w.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("message worker stopping")
			return
		case <-prune.C:
			if w.limiter != nil {
				w.limiter.Prune()
			}
			clear(w.notified)
		case msg, ok := <-inbound:
			if !ok {
				w.logger.Info("inbound channel closed, message worker stopping")
				return
			}
			metrics.QueueDepth.Set(int64(len(inbound)))
			w.handle(ctx, msg)
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg domain.InboundMessage) {
	ch, ok := w.channels[msg.Channel]
	if !ok {
		w.logger.Error("no channel for message", "channel", msg.Channel, "sender", msg.SenderID)
		return
	}

	if w.limiter != nil {
		ok, retry := w.limiter.Allow(msg.SenderID)
		if !ok {
			w.throttle(ctx, ch, msg, retry)
			return
		}
		delete(w.notified, msg.SenderID)
	}

	w.logger.Info("processing message",
		"channel", msg.Channel,
		"sender", msg.SenderID,
		"content_len", len(msg.Content),
	)
	start := time.Now()
	env := w.processor.ProcessMessage(ctx, msg.Content, msg.SenderID)

	if err := ch.Deliver(ctx, msg.ChatID, env); err != nil {
		w.logger.Error("reply delivery failed", "channel", msg.Channel, "chat", msg.ChatID, "err", err)
		return
	}
	w.logger.Debug("reply delivered", "chat", msg.ChatID, "duration", time.Since(start))
}

// throttle drops a message from a sender that is over its rate. The sender
// gets one slow-down reply per throttled streak; later drops are silent.
func (w *Worker) throttle(ctx context.Context, ch domain.Channel, msg domain.InboundMessage, retry time.Duration) {
	outcome("rate_limited")
	w.logger.Warn("sender over rate limit, message dropped",
		"sender", msg.SenderID,
		"retry_after", retry.Round(time.Second),
	)
	if w.notified[msg.SenderID] {
		return
	}
	w.notified[msg.SenderID] = true

	secs := int(math.Ceil(retry.Seconds()))
	env := domain.Envelope{Text: fmt.Sprintf(SlowDownMessage, secs)}
	if err := ch.Deliver(ctx, msg.ChatID, env); err != nil {
		w.logger.Error("reply delivery failed", "channel", msg.Channel, "chat", msg.ChatID, "err", err)
	}
}
