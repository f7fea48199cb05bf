package bot

import (
	"context"
	"strings"
	"sync"
	"unicode"

	"github.com/haivivi/chatrelay/pkg/gateway"
)

// Welcome answers greetings with a fixed text and image instead of a
// generated reply.
type Welcome struct {
	// Keywords trigger the welcome when the message contains one of them as
	// whole words, ignoring case and punctuation.
	Keywords []string
	Text     string
	// ImageURL is downloaded once and cached after the first success.
	ImageURL string
	Fetcher  *Fetcher

	mu    sync.Mutex
	image *gateway.Media
}

// Matches reports whether text triggers the welcome.
func (w *Welcome) Matches(text string) bool {
	if w == nil || w.Text == "" {
		return false
	}
	msg := " " + normalizeWords(text) + " "
	for _, kw := range w.Keywords {
		kw = normalizeWords(kw)
		if kw != "" && strings.Contains(msg, " "+kw+" ") {
			return true
		}
	}
	return false
}

func (w *Welcome) loadImage(ctx context.Context) (*gateway.Media, error) {
	w.mu.Lock()
	img := w.image
	w.mu.Unlock()
	if img != nil {
		return img, nil
	}

	// Fetched without the lock; concurrent misses may download twice.
	img, err := w.Fetcher.Fetch(ctx, w.ImageURL)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.image == nil {
		w.image = img
	}
	return w.image, nil
}

func normalizeWords(s string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}
