// Package speech converts between text and whole audio clips: voice notes
// received from users are transcribed, text replies are synthesized into a
// clip the gateway can deliver as a voice message.
package speech

import (
	"context"
	"errors"
	"mime"
	"strings"
)

// ErrNoAudio is returned when a synthesizer answers without audio, or when a
// transcriber is given an empty clip.
var ErrNoAudio = errors.New("speech: no audio")

// Audio is an encoded audio clip.
type Audio struct {
	Data     []byte
	MIMEType string
}

// Ext returns the file extension for the clip's MIME type, without the dot.
func (a *Audio) Ext() string {
	return ExtForMIME(a.MIMEType)
}

// Synthesizer turns text into speech.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*Audio, error)
}

// Transcriber turns speech into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio *Audio) (string, error)
}

// SynthesizeFunc adapts a function to the Synthesizer interface.
type SynthesizeFunc func(ctx context.Context, text string) (*Audio, error)

func (f SynthesizeFunc) Synthesize(ctx context.Context, text string) (*Audio, error) {
	return f(ctx, text)
}

// TranscribeFunc adapts a function to the Transcriber interface.
type TranscribeFunc func(ctx context.Context, audio *Audio) (string, error)

func (f TranscribeFunc) Transcribe(ctx context.Context, audio *Audio) (string, error) {
	return f(ctx, audio)
}

var mimeExt = map[string]string{
	"audio/mpeg":   "mp3",
	"audio/mp3":    "mp3",
	"audio/ogg":    "ogg",
	"audio/opus":   "opus",
	"audio/wav":    "wav",
	"audio/x-wav":  "wav",
	"audio/wave":   "wav",
	"audio/aac":    "aac",
	"audio/flac":   "flac",
	"audio/mp4":    "m4a",
	"audio/webm":   "webm",
	"audio/pcm":    "pcm",
	"audio/amr":    "amr",
	"audio/x-m4a":  "m4a",
	"audio/x-flac": "flac",
}

var extMIME = map[string]string{
	"mp3":  "audio/mpeg",
	"ogg":  "audio/ogg",
	"opus": "audio/opus",
	"wav":  "audio/wav",
	"aac":  "audio/aac",
	"flac": "audio/flac",
	"m4a":  "audio/mp4",
	"webm": "audio/webm",
	"pcm":  "audio/pcm",
}

// ExtForMIME maps a MIME type (parameters allowed, e.g.
// "audio/ogg; codecs=opus") to a file extension. Unknown types map to "bin".
func ExtForMIME(mimeType string) string {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(mimeType))
	}
	if ext, ok := mimeExt[mt]; ok {
		return ext
	}
	return "bin"
}

// MIMEForFormat maps an output format name such as "mp3" or "wav" to its
// MIME type. Unknown formats map to application/octet-stream.
func MIMEForFormat(format string) string {
	if mt, ok := extMIME[strings.ToLower(format)]; ok {
		return mt
	}
	return "application/octet-stream"
}
