// Package llm generates text replies with chat-completion models.
//
// Generators are stateless per call: every Request carries the full system
// prompt and the user's message. Conversation history is not kept.
package llm

import (
	"context"
	"errors"
	"strings"
)

// ErrEmptyReply is returned when the model produced no text.
var ErrEmptyReply = errors.New("llm: empty reply")

// Request is a single-turn generation request.
type Request struct {
	// System is the system prompt.
	System string
	// Text is the user's message.
	Text string
	// User identifies the end user to the provider, when supported.
	User string
}

// Generator produces a reply for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Echo replies with the user's text, optionally prefixed. It is used by the
// simulate command and in tests.
type Echo struct {
	Prefix string
}

func (e Echo) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return "", ErrEmptyReply
	}
	return e.Prefix + text, nil
}

func trimReply(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrEmptyReply
	}
	return s, nil
}
