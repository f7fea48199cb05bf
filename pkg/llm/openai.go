package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
)

// OpenAIConfig configures an OpenAI-compatible chat completion backend.
// Groq, DeepSeek and other compatible providers work through BaseURL.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string

	// MaxTokens and Temperature are sent only when positive.
	MaxTokens   int
	Temperature float64

	// UseSystemRole sends the system prompt with the "system" role instead
	// of "developer". Most non-OpenAI providers need it.
	UseSystemRole bool

	// Options are appended to the client options, e.g. a custom HTTP client.
	Options []option.RequestOption
}

// OpenAI generates replies with the chat completions API.
type OpenAI struct {
	client openai.Client
	cfg    OpenAIConfig
}

var _ Generator = (*OpenAI)(nil)

// NewOpenAI creates an OpenAI generator.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: openai api_key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm: openai model is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	opts = append(opts, cfg.Options...)
	return &OpenAI{client: openai.NewClient(opts...), cfg: cfg}, nil
}

func (g *OpenAI) Generate(ctx context.Context, req Request) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    g.cfg.Model,
		Messages: g.messages(req),
	}
	if g.cfg.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(g.cfg.MaxTokens))
	}
	if g.cfg.Temperature > 0 {
		params.Temperature = param.NewOpt(g.cfg.Temperature)
	}
	if req.User != "" {
		params.User = param.NewOpt(req.User)
	}
	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("llm: openai %s: %w", g.cfg.Model, err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}
	return trimReply(resp.Choices[0].Message.Content)
}

func (g *OpenAI) messages(req Request) []openai.ChatCompletionMessageParamUnion {
	var msgs []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		if g.cfg.UseSystemRole {
			msgs = append(msgs, openai.SystemMessage(req.System))
		} else {
			msgs = append(msgs, openai.DeveloperMessage(req.System))
		}
	}
	return append(msgs, openai.UserMessage(req.Text))
}
