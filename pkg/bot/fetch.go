package bot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/haivivi/chatrelay/pkg/gateway"
)

// DefaultMaxFetchBytes caps downloads made by Fetcher.
const DefaultMaxFetchBytes = 16 << 20

// Fetcher downloads media referenced by URL.
type Fetcher struct {
	// Client defaults to http.DefaultClient.
	Client *http.Client
	// MaxBytes defaults to DefaultMaxFetchBytes.
	MaxBytes int64
}

// Fetch downloads url and returns its body with the response content type.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*gateway.Media, error) {
	client := http.DefaultClient
	limit := int64(DefaultMaxFetchBytes)
	if f != nil {
		if f.Client != nil {
			client = f.Client
		}
		if f.MaxBytes > 0 {
			limit = f.MaxBytes
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("bot: fetch %s: %w", url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bot: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bot: fetch %s: status %s", url, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("bot: fetch %s: %w", url, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("bot: fetch %s: body exceeds %d bytes", url, limit)
	}
	mt := resp.Header.Get("Content-Type")
	if mt == "" {
		mt = http.DetectContentType(data)
	}
	if i := strings.IndexByte(mt, ';'); i >= 0 && strings.HasPrefix(mt, "image/") {
		mt = strings.TrimSpace(mt[:i])
	}
	return &gateway.Media{MIMEType: mt, Data: data}, nil
}
