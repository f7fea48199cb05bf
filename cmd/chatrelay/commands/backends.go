package commands

import (
	"context"
	"fmt"

	"github.com/haivivi/chatrelay/pkg/config"
	"github.com/haivivi/chatrelay/pkg/llm"
	"github.com/haivivi/chatrelay/pkg/speech"
)

// Backend factories keyed by config schema.
var (
	chatBackends = map[string]func(context.Context, *config.Backend) (llm.Generator, error){
		config.SchemaOpenAIChat: func(_ context.Context, b *config.Backend) (llm.Generator, error) {
			return llm.NewOpenAI(llm.OpenAIConfig{
				APIKey:        b.APIKey,
				BaseURL:       b.BaseURL,
				Model:         b.Model,
				MaxTokens:     b.MaxTokens,
				Temperature:   b.Temperature,
				UseSystemRole: b.UseSystemRole,
			})
		},
		config.SchemaGeminiChat: func(ctx context.Context, b *config.Backend) (llm.Generator, error) {
			return llm.NewGemini(ctx, llm.GeminiConfig{
				APIKey:      b.APIKey,
				Model:       b.Model,
				MaxTokens:   b.MaxTokens,
				Temperature: b.Temperature,
				BaseURL:     b.BaseURL,
			})
		},
	}

	ttsBackends = map[string]func(context.Context, *config.Backend) (speech.Synthesizer, error){
		config.SchemaOpenAITTS: func(_ context.Context, b *config.Backend) (speech.Synthesizer, error) {
			return speech.NewOpenAITTS(speech.OpenAITTSConfig{
				OpenAIConfig: speech.OpenAIConfig{APIKey: b.APIKey, BaseURL: b.BaseURL},
				Model:        b.Model,
				Voice:        b.Voice,
				Format:       b.Format,
				Instructions: b.Instructions,
				Speed:        b.Speed,
			})
		},
		config.SchemaGeminiTTS: func(ctx context.Context, b *config.Backend) (speech.Synthesizer, error) {
			return speech.NewGeminiTTS(ctx, speech.GeminiTTSConfig{
				APIKey:       b.APIKey,
				Model:        b.Model,
				Voice:        b.Voice,
				LanguageCode: b.LanguageCode,
				BaseURL:      b.BaseURL,
			})
		},
	}

	asrBackends = map[string]func(context.Context, *config.Backend) (speech.Transcriber, error){
		config.SchemaOpenAIASR: func(_ context.Context, b *config.Backend) (speech.Transcriber, error) {
			return speech.NewWhisper(speech.WhisperConfig{
				OpenAIConfig: speech.OpenAIConfig{APIKey: b.APIKey, BaseURL: b.BaseURL},
				Model:        b.Model,
				Language:     b.Language,
				Prompt:       b.Prompt,
			})
		},
	}
)

func newGenerator(ctx context.Context, b *config.Backend) (llm.Generator, error) {
	f, ok := chatBackends[b.Schema]
	if !ok {
		return nil, fmt.Errorf("chat: unsupported schema %q", b.Schema)
	}
	return f(ctx, b)
}

// newSynthesizer returns nil for a nil backend.
func newSynthesizer(ctx context.Context, b *config.Backend) (speech.Synthesizer, error) {
	if b == nil {
		return nil, nil
	}
	f, ok := ttsBackends[b.Schema]
	if !ok {
		return nil, fmt.Errorf("tts: unsupported schema %q", b.Schema)
	}
	return f(ctx, b)
}

// newTranscriber returns nil for a nil backend.
func newTranscriber(ctx context.Context, b *config.Backend) (speech.Transcriber, error) {
	if b == nil {
		return nil, nil
	}
	f, ok := asrBackends[b.Schema]
	if !ok {
		return nil, fmt.Errorf("asr: unsupported schema %q", b.Schema)
	}
	return f(ctx, b)
}
