package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
)

// OpenAIConfig holds the connection settings shared by OpenAITTS and Whisper.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Options []option.RequestOption
}

func (c OpenAIConfig) client() (openai.Client, error) {
	if c.APIKey == "" {
		return openai.Client{}, fmt.Errorf("speech: openai api_key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(c.APIKey)}
	if c.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(c.BaseURL))
	}
	return openai.NewClient(append(opts, c.Options...)...), nil
}

// OpenAITTSConfig configures OpenAITTS.
type OpenAITTSConfig struct {
	OpenAIConfig

	// Model defaults to "gpt-4o-mini-tts".
	Model string
	// Voice defaults to "alloy".
	Voice string
	// Format is mp3, opus, aac, flac, wav or pcm. Default mp3.
	Format string
	// Instructions steer tone and accent on models that support it.
	Instructions string
	// Speed is sent only when positive.
	Speed float64
}

// OpenAITTS synthesizes speech with the OpenAI audio speech API.
type OpenAITTS struct {
	client openai.Client
	cfg    OpenAITTSConfig
}

var _ Synthesizer = (*OpenAITTS)(nil)

// NewOpenAITTS creates an OpenAI synthesizer.
func NewOpenAITTS(cfg OpenAITTSConfig) (*OpenAITTS, error) {
	client, err := cfg.client()
	if err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini-tts"
	}
	if cfg.Voice == "" {
		cfg.Voice = "alloy"
	}
	if cfg.Format == "" {
		cfg.Format = "mp3"
	}
	return &OpenAITTS{client: client, cfg: cfg}, nil
}

func (s *OpenAITTS) Synthesize(ctx context.Context, text string) (*Audio, error) {
	params := openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(s.cfg.Model),
		Voice:          openai.AudioSpeechNewParamsVoice(s.cfg.Voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormat(s.cfg.Format),
	}
	if s.cfg.Instructions != "" {
		params.Instructions = param.NewOpt(s.cfg.Instructions)
	}
	if s.cfg.Speed > 0 {
		params.Speed = param.NewOpt(s.cfg.Speed)
	}
	resp, err := s.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("speech: openai tts: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("speech: openai tts: read: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNoAudio
	}
	return &Audio{Data: data, MIMEType: MIMEForFormat(s.cfg.Format)}, nil
}

// WhisperConfig configures Whisper.
type WhisperConfig struct {
	OpenAIConfig

	// Model defaults to "whisper-1".
	Model string
	// Language is an ISO-639-1 hint. Default "es".
	Language string
	// Prompt biases the transcription vocabulary.
	Prompt string
}

// Whisper transcribes audio with the OpenAI transcriptions API. Groq serves
// the same API through BaseURL.
type Whisper struct {
	client openai.Client
	cfg    WhisperConfig
}

var _ Transcriber = (*Whisper)(nil)

// NewWhisper creates a Whisper transcriber.
func NewWhisper(cfg WhisperConfig) (*Whisper, error) {
	client, err := cfg.client()
	if err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.Language == "" {
		cfg.Language = "es"
	}
	return &Whisper{client: client, cfg: cfg}, nil
}

func (w *Whisper) Transcribe(ctx context.Context, audio *Audio) (string, error) {
	if audio == nil || len(audio.Data) == 0 {
		return "", ErrNoAudio
	}
	params := openai.AudioTranscriptionNewParams{
		File:     openai.File(bytes.NewReader(audio.Data), "audio."+audio.Ext(), audio.MIMEType),
		Model:    openai.AudioModel(w.cfg.Model),
		Language: param.NewOpt(w.cfg.Language),
	}
	if w.cfg.Prompt != "" {
		params.Prompt = param.NewOpt(w.cfg.Prompt)
	}
	tr, err := w.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("speech: whisper: %w", err)
	}
	return tr.Text, nil
}
