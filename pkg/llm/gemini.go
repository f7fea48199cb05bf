package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/genai"
)

// GeminiConfig configures a Gemini backend.
type GeminiConfig struct {
	APIKey string
	// Model should not start with "models/".
	Model string

	MaxTokens   int
	Temperature float64

	// BaseURL overrides the API endpoint, for proxies and tests.
	BaseURL string
}

// Gemini generates replies with the Gemini API.
type Gemini struct {
	client *genai.Client
	cfg    GeminiConfig
}

var _ Generator = (*Gemini)(nil)

// NewGemini creates a Gemini generator.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: gemini api_key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm: gemini model is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("llm: gemini client: %w", err)
	}
	return &Gemini{client: client, cfg: cfg}, nil
}

func (g *Gemini) Generate(ctx context.Context, req Request) (string, error) {
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if g.cfg.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(g.cfg.MaxTokens)
	}
	if g.cfg.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(g.cfg.Temperature))
	}
	contents := []*genai.Content{genai.NewContentFromText(req.Text, genai.RoleUser)}

	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("llm: gemini %s: %w", g.cfg.Model, unwrapAPIError(err))
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrEmptyReply
	}
	c := resp.Candidates[0]
	switch c.FinishReason {
	case "", genai.FinishReasonUnspecified, genai.FinishReasonStop, genai.FinishReasonMaxTokens:
	default:
		return "", fmt.Errorf("llm: gemini %s: unexpected finish reason %s", g.cfg.Model, c.FinishReason)
	}
	var sb strings.Builder
	for _, p := range c.Content.Parts {
		if p.Text != "" && !p.Thought {
			sb.WriteString(p.Text)
		}
	}
	return trimReply(sb.String())
}

func unwrapAPIError(err error) error {
	var ae *apierror.APIError
	if errors.As(err, &ae) {
		if inner := ae.Unwrap(); inner != nil {
			return inner
		}
	}
	return err
}
