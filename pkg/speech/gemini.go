package speech

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strconv"
	"strings"

	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/genai"
)

// GeminiTTSConfig configures GeminiTTS.
type GeminiTTSConfig struct {
	APIKey string
	// Model defaults to "gemini-2.5-flash-preview-tts".
	Model string
	// Voice is a prebuilt voice name. Default "Kore".
	Voice string
	// LanguageCode such as "es-ES". Empty lets the model decide.
	LanguageCode string
	// BaseURL overrides the API endpoint, for proxies and tests.
	BaseURL string
}

// GeminiTTS synthesizes speech with a Gemini TTS model. The model returns
// raw 16-bit PCM, which is wrapped in a WAV container.
type GeminiTTS struct {
	client *genai.Client
	cfg    GeminiTTSConfig
}

var _ Synthesizer = (*GeminiTTS)(nil)

// NewGeminiTTS creates a Gemini synthesizer.
func NewGeminiTTS(ctx context.Context, cfg GeminiTTSConfig) (*GeminiTTS, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("speech: gemini api_key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash-preview-tts"
	}
	if cfg.Voice == "" {
		cfg.Voice = "Kore"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("speech: gemini client: %w", err)
	}
	return &GeminiTTS{client: client, cfg: cfg}, nil
}

func (s *GeminiTTS) Synthesize(ctx context.Context, text string) (*Audio, error) {
	cfg := &genai.GenerateContentConfig{
		SpeechConfig: &genai.SpeechConfig{
			LanguageCode: s.cfg.LanguageCode,
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: s.cfg.Voice},
			},
		},
	}
	cfg.ResponseModalities = append(cfg.ResponseModalities, "AUDIO")

	resp, err := s.client.Models.GenerateContent(ctx, s.cfg.Model, genai.Text(text), cfg)
	if err != nil {
		var ae *apierror.APIError
		if errors.As(err, &ae) && ae.Unwrap() != nil {
			err = ae.Unwrap()
		}
		return nil, fmt.Errorf("speech: gemini tts: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, ErrNoAudio
	}
	var (
		pcm  []byte
		rate = defaultGeminiRate
	)
	for _, p := range resp.Candidates[0].Content.Parts {
		if p.InlineData == nil || len(p.InlineData.Data) == 0 {
			continue
		}
		if r := pcmRate(p.InlineData.MIMEType); r > 0 {
			rate = r
		}
		pcm = append(pcm, p.InlineData.Data...)
	}
	if len(pcm) == 0 {
		return nil, ErrNoAudio
	}
	return &Audio{Data: WAV(pcm, rate, 1), MIMEType: "audio/wav"}, nil
}

const defaultGeminiRate = 24000

// pcmRate extracts the sample rate from a MIME type like
// "audio/L16;codec=pcm;rate=24000". It returns 0 when absent.
func pcmRate(mimeType string) int {
	_, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return 0
	}
	r, err := strconv.Atoi(strings.TrimSpace(params["rate"]))
	if err != nil || r <= 0 {
		return 0
	}
	return r
}
