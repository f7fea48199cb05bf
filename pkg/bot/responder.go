package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haivivi/chatrelay/pkg/gateway"
	"github.com/haivivi/chatrelay/pkg/llm"
	"github.com/haivivi/chatrelay/pkg/relay"
	"github.com/haivivi/chatrelay/pkg/speech"
	"github.com/haivivi/chatrelay/pkg/storage"
)

// Default user-facing texts.
const (
	DefaultFallbackText   = "Ocurrió un error procesando tu mensaje."
	DefaultEmptyReplyText = "No se pudo generar una respuesta."
	DefaultBusyText       = "Estoy procesando tus mensajes anteriores, por favor espera un momento."
)

// ErrNoTranscriber is returned for voice notes when no transcriber is
// configured.
var ErrNoTranscriber = errors.New("bot: voice note received without a transcriber")

// ErrEmptyTranscript is returned when a voice note transcribes to nothing.
var ErrEmptyTranscript = errors.New("bot: empty transcript")

// Replier sends replies for one inbound message. *gateway.Replier
// implements it.
type Replier interface {
	relay.Emitter
	EmitImage(ctx context.Context, caption string, img *gateway.Media) error
	Presence(ctx context.Context, state string) error
}

// Job is the relay entry for one inbound message.
type Job struct {
	Inbound *gateway.Inbound
	Reply   Replier
}

// ResponderConfig configures a Responder.
type ResponderConfig struct {
	// Generator writes the text reply. Required.
	Generator llm.Generator
	// Prompt renders the system prompt. Optional.
	Prompt *llm.Prompt

	// Synthesizer voices the reply. Nil sends text only.
	Synthesizer speech.Synthesizer
	// Transcriber reads voice notes. Nil rejects them with the fallback.
	Transcriber speech.Transcriber
	// Store keeps received and sent audio. Required with a Synthesizer;
	// without one, received voice notes are not kept.
	Store storage.Store
	// Fetcher downloads voice notes delivered by URL.
	Fetcher *Fetcher

	Welcome *Welcome

	FallbackText   string
	EmptyReplyText string

	Logger *slog.Logger
}

// Responder answers one message: it shows typing presence, transcribes
// voice notes, generates a reply, sends it as text, then as audio. Any
// failure is answered with the fallback text and returned to the relay.
type Responder struct {
	cfg    ResponderConfig
	logger *slog.Logger
}

var _ relay.Task[string, Job] = (*Responder)(nil)

// NewResponder validates cfg and applies defaults.
func NewResponder(cfg ResponderConfig) (*Responder, error) {
	if cfg.Generator == nil {
		return nil, errors.New("bot: responder needs a generator")
	}
	if cfg.Synthesizer != nil && cfg.Store == nil {
		return nil, errors.New("bot: responder with a synthesizer needs a store")
	}
	if cfg.FallbackText == "" {
		cfg.FallbackText = DefaultFallbackText
	}
	if cfg.EmptyReplyText == "" {
		cfg.EmptyReplyText = DefaultEmptyReplyText
	}
	if cfg.Welcome != nil && cfg.Welcome.Fetcher == nil {
		cfg.Welcome.Fetcher = cfg.Fetcher
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{cfg: cfg, logger: logger}, nil
}

// Process handles one job. Messages with neither text nor audio are skipped.
func (r *Responder) Process(ctx context.Context, key string, job Job) error {
	in := job.Inbound
	if in == nil || (in.Text == "" && in.Audio == nil) {
		return nil
	}
	log := r.logger.With("user", key, "msg", in.ID)

	if err := job.Reply.Presence(ctx, gateway.PresenceComposing); err != nil {
		log.Debug("bot: presence update failed", "error", err)
	}

	err := r.respond(ctx, log, job)
	if err == nil {
		return nil
	}
	if ferr := job.Reply.EmitText(ctx, r.cfg.FallbackText); ferr != nil {
		err = errors.Join(err, fmt.Errorf("bot: send fallback: %w", ferr))
	}
	return err
}

func (r *Responder) respond(ctx context.Context, log *slog.Logger, job Job) error {
	in := job.Inbound
	text := in.Text

	if in.Audio != nil {
		heard, err := r.transcribe(ctx, log, in.Audio)
		if err != nil {
			return fmt.Errorf("bot: transcribe: %w", err)
		}
		log.Debug("bot: transcribed voice note", "text", heard)
		text = strings.TrimSpace(heard)
	}
	if text == "" {
		return ErrEmptyTranscript
	}

	if r.cfg.Welcome.Matches(text) {
		return r.welcome(ctx, log, job.Reply)
	}

	reply, err := r.generate(ctx, in.From, text)
	if err != nil {
		return fmt.Errorf("bot: generate: %w", err)
	}
	if err := job.Reply.EmitText(ctx, reply); err != nil {
		return fmt.Errorf("bot: send text: %w", err)
	}

	if r.cfg.Synthesizer == nil {
		return nil
	}
	audio, err := r.cfg.Synthesizer.Synthesize(ctx, reply)
	if err != nil {
		return fmt.Errorf("bot: synthesize: %w", err)
	}
	loc, err := r.cfg.Store.Put(ctx, storage.SentPath(audio.Ext()), audio.MIMEType, audio.Data)
	if err != nil {
		return fmt.Errorf("bot: store audio: %w", err)
	}
	log.Debug("bot: synthesized reply", "locator", loc, "bytes", len(audio.Data))
	if err := job.Reply.EmitAudio(ctx, loc); err != nil {
		return fmt.Errorf("bot: send audio: %w", err)
	}
	return nil
}

func (r *Responder) transcribe(ctx context.Context, log *slog.Logger, m *gateway.Media) (string, error) {
	if r.cfg.Transcriber == nil {
		return "", ErrNoTranscriber
	}
	data, mimeType := m.Data, m.MIMEType
	if len(data) == 0 && m.URL != "" {
		fetched, err := r.cfg.Fetcher.Fetch(ctx, m.URL)
		if err != nil {
			return "", err
		}
		data = fetched.Data
		if mimeType == "" {
			mimeType = fetched.MIMEType
		}
	}
	audio := &speech.Audio{Data: data, MIMEType: mimeType}
	if r.cfg.Store != nil && len(data) > 0 {
		if loc, err := r.cfg.Store.Put(ctx, storage.ReceivedPath(audio.Ext()), mimeType, data); err != nil {
			log.Warn("bot: keep voice note failed", "error", err)
		} else {
			log.Debug("bot: kept voice note", "locator", loc)
		}
	}
	return r.cfg.Transcriber.Transcribe(ctx, audio)
}

func (r *Responder) generate(ctx context.Context, user, text string) (string, error) {
	req := llm.Request{Text: text, User: user}
	if r.cfg.Prompt != nil {
		sys, err := r.cfg.Prompt.Render()
		if err != nil {
			return "", err
		}
		req.System = sys
	}
	reply, err := r.cfg.Generator.Generate(ctx, req)
	if errors.Is(err, llm.ErrEmptyReply) {
		return r.cfg.EmptyReplyText, nil
	}
	return reply, err
}

func (r *Responder) welcome(ctx context.Context, log *slog.Logger, reply Replier) error {
	w := r.cfg.Welcome
	if err := reply.EmitText(ctx, w.Text); err != nil {
		return fmt.Errorf("bot: send welcome: %w", err)
	}
	if w.ImageURL == "" {
		return nil
	}
	img, err := w.loadImage(ctx)
	if err != nil {
		log.Warn("bot: welcome image unavailable", "error", err)
		return nil
	}
	if err := reply.EmitImage(ctx, "", img); err != nil {
		return fmt.Errorf("bot: send welcome image: %w", err)
	}
	return nil
}
