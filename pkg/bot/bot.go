// Package bot turns gateway messages into relay jobs and answers them.
//
// Messages from one user are answered strictly in arrival order, one at a
// time; different users are answered concurrently. The ordering comes from
// pkg/relay; this package supplies the admission policy (groups, duplicates,
// overload) and the per-message pipeline.
package bot

import (
	"context"
	"errors"
	"log/slog"

	"github.com/haivivi/chatrelay/pkg/dedup"
	"github.com/haivivi/chatrelay/pkg/gateway"
	"github.com/haivivi/chatrelay/pkg/relay"
)

// Admitter queues jobs per user. *relay.Dispatcher[string, Job] implements
// it.
type Admitter interface {
	Admit(key string, entries ...Job) error
}

// Config configures a Bot.
type Config struct {
	// Relay receives admitted jobs. Required.
	Relay Admitter
	// Dedup drops redelivered messages. Optional.
	Dedup dedup.Store
	// IgnoreGroups drops messages posted in group chats.
	IgnoreGroups bool
	// BusyText is sent when a user's queue is full. Default DefaultBusyText.
	BusyText string
	Logger   *slog.Logger
}

// Bot is the gateway handler.
type Bot struct {
	cfg    Config
	logger *slog.Logger
}

var _ gateway.Handler = (*Bot)(nil)

// New creates a Bot. It panics if cfg.Relay is nil.
func New(cfg Config) *Bot {
	if cfg.Relay == nil {
		panic("bot: Config.Relay is required")
	}
	if cfg.BusyText == "" {
		cfg.BusyText = DefaultBusyText
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{cfg: cfg, logger: logger}
}

// HandleInbound admits one message keyed by its sender. It returns without
// waiting for the reply.
func (b *Bot) HandleInbound(ctx context.Context, in *gateway.Inbound, r *gateway.Replier) {
	b.Handle(ctx, in, r)
}

// Handle is HandleInbound for any Replier, and reports what happened to the
// message.
func (b *Bot) Handle(ctx context.Context, in *gateway.Inbound, r Replier) Outcome {
	log := b.logger.With("user", in.From, "msg", in.ID)

	if b.cfg.IgnoreGroups && in.IsGroup() {
		log.Debug("bot: ignoring group message")
		return OutcomeIgnored
	}
	marked := false
	if b.cfg.Dedup != nil && in.ID != "" {
		seen, err := b.cfg.Dedup.MarkSeen(ctx, in.ID)
		switch {
		case err != nil:
			log.Warn("bot: dedup failed, admitting anyway", "error", err)
		case seen:
			log.Debug("bot: dropping duplicate")
			return OutcomeDuplicate
		default:
			marked = true
		}
	}

	err := b.cfg.Relay.Admit(in.From, Job{Inbound: in, Reply: r})
	switch {
	case err == nil:
		log.Debug("bot: admitted")
		return OutcomeAdmitted
	case errors.Is(err, relay.ErrQueueFull):
		log.Warn("bot: queue full", "error", err)
		if err := r.EmitText(ctx, b.cfg.BusyText); err != nil {
			log.Warn("bot: send busy text failed", "error", err)
		}
		return OutcomeBusy
	default:
		log.Error("bot: admit failed", "error", err)
		// Not processed: let a redelivery through.
		if marked {
			if err := b.cfg.Dedup.Forget(ctx, in.ID); err != nil {
				log.Warn("bot: dedup forget failed", "error", err)
			}
		}
		return OutcomeRejected
	}
}

// Outcome is the admission result of one message.
type Outcome int

const (
	OutcomeAdmitted Outcome = iota
	OutcomeIgnored
	OutcomeDuplicate
	OutcomeBusy
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAdmitted:
		return "admitted"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeBusy:
		return "busy"
	case OutcomeRejected:
		return "rejected"
	}
	return "unknown"
}
