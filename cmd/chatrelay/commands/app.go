package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/haivivi/chatrelay/pkg/bot"
	"github.com/haivivi/chatrelay/pkg/config"
	"github.com/haivivi/chatrelay/pkg/dedup"
	"github.com/haivivi/chatrelay/pkg/llm"
	"github.com/haivivi/chatrelay/pkg/relay"
	"github.com/haivivi/chatrelay/pkg/speech"
	"github.com/haivivi/chatrelay/pkg/storage"
)

// app is the wired bot: storage, dedup filter, responder and dispatcher.
type app struct {
	store      storage.Store
	dedup      dedup.Store
	responder  *bot.Responder
	dispatcher *relay.Dispatcher[string, bot.Job]
	bot        *bot.Bot
}

// appOptions replace configured backends, for simulate and tests.
type appOptions struct {
	Generator   llm.Generator
	Synthesizer speech.Synthesizer
	Transcriber speech.Transcriber
	// NoSpeech disables the configured tts and asr backends.
	NoSpeech bool
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts appOptions) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if a.store, err = newStore(cfg.Storage); err != nil {
		return nil, err
	}
	if err = storage.Check(ctx, a.store); err != nil {
		return nil, err
	}
	if a.dedup, err = newDedup(cfg.Dedup, logger); err != nil {
		return nil, err
	}

	gen := opts.Generator
	if gen == nil {
		if gen, err = newGenerator(ctx, &cfg.Chat); err != nil {
			return nil, err
		}
	}
	tts, asr := opts.Synthesizer, opts.Transcriber
	if !opts.NoSpeech {
		if tts == nil {
			if tts, err = newSynthesizer(ctx, cfg.TTS); err != nil {
				return nil, err
			}
		}
		if asr == nil {
			if asr, err = newTranscriber(ctx, cfg.ASR); err != nil {
				return nil, err
			}
		}
	}

	instructions, err := llm.LoadInstructions(cfg.Persona.InstructionsFile)
	if err != nil {
		return nil, err
	}
	prompt, err := llm.NewPrompt(cfg.Persona.Template, llm.PromptData{
		Persona:      cfg.Persona.Prompt,
		Instructions: instructions,
	})
	if err != nil {
		return nil, err
	}

	fetcher := &bot.Fetcher{}
	var welcome *bot.Welcome
	if w := cfg.Welcome; w != nil {
		welcome = &bot.Welcome{Keywords: w.Keywords, Text: w.Text, ImageURL: w.ImageURL, Fetcher: fetcher}
	}

	a.responder, err = bot.NewResponder(bot.ResponderConfig{
		Generator:      gen,
		Prompt:         prompt,
		Synthesizer:    tts,
		Transcriber:    asr,
		Store:          a.store,
		Fetcher:        fetcher,
		Welcome:        welcome,
		FallbackText:   cfg.FallbackText,
		EmptyReplyText: cfg.EmptyReplyText,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	a.dispatcher = relay.New(relay.Config[string, bot.Job]{
		Task:        a.responder,
		Shards:      cfg.Relay.Shards,
		Capacity:    cfg.Relay.Capacity,
		ErrorSink:   relay.LogSink[string](logger),
		Logger:      logger,
		TaskTimeout: cfg.Relay.TaskTimeout.Std(),
	})
	a.bot = bot.New(bot.Config{
		Relay:        a.dispatcher,
		Dedup:        a.dedup,
		IgnoreGroups: cfg.Gateway.IgnoreGroups == nil || *cfg.Gateway.IgnoreGroups,
		BusyText:     cfg.BusyText,
		Logger:       logger,
	})
	return a, nil
}

// shutdown stops admission and waits for queued replies.
func (a *app) shutdown(ctx context.Context) error {
	err := a.dispatcher.Shutdown(ctx)
	return errors.Join(err, a.close())
}

func (a *app) close() error {
	if a.dedup != nil {
		return a.dedup.Close()
	}
	return nil
}

func newStore(sc config.Storage) (storage.Store, error) {
	switch sc.Kind {
	case config.StorageLocal:
		l, err := storage.NewLocal(sc.Dir)
		if err != nil {
			return nil, err
		}
		return l, nil
	case config.StorageS3:
		client := storage.NewS3Client(storage.S3ClientOptions{
			Region:          sc.S3.Region,
			Endpoint:        sc.S3.Endpoint,
			AccessKeyID:     sc.S3.AccessKeyID,
			SecretAccessKey: sc.S3.SecretAccessKey,
			PathStyle:       sc.S3.PathStyle,
		})
		return storage.NewS3(client, storage.S3Config{
			Bucket:    sc.S3.Bucket,
			Prefix:    sc.S3.Prefix,
			PublicURL: sc.S3.PublicURL,
		}), nil
	}
	return nil, fmt.Errorf("storage: unknown kind %q", sc.Kind)
}

// newDedup returns nil for kind "none".
func newDedup(dc config.Dedup, logger *slog.Logger) (dedup.Store, error) {
	switch dc.Kind {
	case config.DedupNone:
		return nil, nil
	case config.DedupMemory:
		return dedup.NewMemory(dc.TTL.Std()), nil
	case config.DedupBadger:
		b, err := dedup.NewBadger(dedup.BadgerOptions{Dir: dc.Dir, TTL: dc.TTL.Std(), Logger: logger})
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("dedup: unknown kind %q", dc.Kind)
}
