package gateway

import (
	"context"
	"mime"
	"path"
	"strings"
)

// Sender writes frames to the bridge. *Client implements it.
type Sender interface {
	Send(ctx context.Context, f *Frame) error
}

// Replier sends replies to one chat.
type Replier struct {
	client Sender
	to     string
}

// NewReplier returns a Replier sending through s.
func NewReplier(s Sender, to string) *Replier {
	return &Replier{client: s, to: to}
}

// To returns the chat the replier addresses.
func (r *Replier) To() string { return r.to }

func (r *Replier) EmitText(ctx context.Context, text string) error {
	return r.client.Send(ctx, &Frame{Type: TypeText, To: r.to, Text: text})
}

// EmitAudio sends the audio at locator as a voice message. The MIME type is
// derived from the locator's extension.
func (r *Replier) EmitAudio(ctx context.Context, locator string) error {
	return r.client.Send(ctx, &Frame{
		Type:  TypeAudio,
		To:    r.to,
		Audio: &Media{URL: locator, MIMEType: mimeForLocator(locator)},
	})
}

// EmitImage sends an image with an optional caption.
func (r *Replier) EmitImage(ctx context.Context, caption string, img *Media) error {
	return r.client.Send(ctx, &Frame{Type: TypeImage, To: r.to, Caption: caption, Image: img})
}

// Presence updates the chat presence, e.g. PresenceComposing.
func (r *Replier) Presence(ctx context.Context, state string) error {
	return r.client.Send(ctx, &Frame{Type: TypePresence, To: r.to, State: state})
}

func mimeForLocator(locator string) string {
	if i := strings.IndexAny(locator, "?#"); i >= 0 {
		locator = locator[:i]
	}
	ext := strings.ToLower(path.Ext(locator))
	switch ext {
	case ".mp3":
		return "audio/mpeg"
	case ".ogg", ".opus":
		return "audio/ogg"
	case ".wav":
		return "audio/wav"
	}
	return mime.TypeByExtension(ext)
}
