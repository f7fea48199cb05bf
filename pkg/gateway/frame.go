package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Frame types.
const (
	// Inbound.
	TypeMessage = "message"
	TypeError   = "error"

	// Outbound.
	TypeText     = "text"
	TypeAudio    = "audio"
	TypeImage    = "image"
	TypePresence = "presence"
)

// Presence states.
const (
	PresenceComposing = "composing"
	PresenceRecording = "recording"
	PresencePaused    = "paused"
)

// Media is an attachment carried inline (Data) or by reference (URL).
type Media struct {
	MIMEType string `json:"mime,omitempty" msgpack:"mime,omitempty"`
	Data     []byte `json:"data,omitempty" msgpack:"data,omitempty"`
	URL      string `json:"url,omitempty" msgpack:"url,omitempty"`
}

// Frame is the unit exchanged with the chat gateway.
type Frame struct {
	Type    string `json:"type" msgpack:"type"`
	ID      string `json:"id,omitempty" msgpack:"id,omitempty"`
	From    string `json:"from,omitempty" msgpack:"from,omitempty"`
	To      string `json:"to,omitempty" msgpack:"to,omitempty"`
	Name    string `json:"name,omitempty" msgpack:"name,omitempty"`
	Text    string `json:"text,omitempty" msgpack:"text,omitempty"`
	Caption string `json:"caption,omitempty" msgpack:"caption,omitempty"`
	State   string `json:"state,omitempty" msgpack:"state,omitempty"`
	Audio   *Media `json:"audio,omitempty" msgpack:"audio,omitempty"`
	Image   *Media `json:"image,omitempty" msgpack:"image,omitempty"`
	// Timestamp is Unix seconds.
	Timestamp int64  `json:"ts,omitempty" msgpack:"ts,omitempty"`
	Error     string `json:"error,omitempty" msgpack:"error,omitempty"`
}

func newFrameID() string {
	return "out_" + uuid.NewString()
}

// Inbound is a user message delivered by the gateway.
type Inbound struct {
	ID   string
	From string
	Name string
	Text string
	// Audio is set for voice notes.
	Audio *Media
	Time  time.Time
}

// IsGroup reports whether the message was posted in a group chat.
func (in *Inbound) IsGroup() bool {
	return strings.HasSuffix(in.From, "@g.us")
}

func inboundFromFrame(f *Frame) *Inbound {
	in := &Inbound{
		ID:    f.ID,
		From:  f.From,
		Name:  f.Name,
		Text:  strings.TrimSpace(f.Text),
		Audio: f.Audio,
	}
	if f.Timestamp > 0 {
		in.Time = time.Unix(f.Timestamp, 0)
	} else {
		in.Time = time.Now()
	}
	return in
}

// Codec encodes frames for the wire. The JSON codec uses websocket text
// messages and the msgpack codec binary messages; inbound frames are decoded
// by message type, whichever codec is configured for sending.
type Codec interface {
	Name() string
	MessageType() int
	Marshal(f *Frame) ([]byte, error)
	Unmarshal(data []byte, f *Frame) error
}

// Codecs by name.
var (
	JSON    Codec = jsonCodec{}
	MsgPack Codec = msgpackCodec{}
)

// CodecByName returns the codec for "json" (also "") or "msgpack".
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return JSON, nil
	case "msgpack":
		return MsgPack, nil
	}
	return nil, fmt.Errorf("gateway: unknown codec %q", name)
}

type jsonCodec struct{}

func (jsonCodec) Name() string                          { return "json" }
func (jsonCodec) MessageType() int                      { return websocket.TextMessage }
func (jsonCodec) Marshal(f *Frame) ([]byte, error)      { return json.Marshal(f) }
func (jsonCodec) Unmarshal(data []byte, f *Frame) error { return json.Unmarshal(data, f) }

type msgpackCodec struct{}

func (msgpackCodec) Name() string                          { return "msgpack" }
func (msgpackCodec) MessageType() int                      { return websocket.BinaryMessage }
func (msgpackCodec) Marshal(f *Frame) ([]byte, error)      { return msgpack.Marshal(f) }
func (msgpackCodec) Unmarshal(data []byte, f *Frame) error { return msgpack.Unmarshal(data, f) }

func decodeFrame(messageType int, data []byte) (*Frame, error) {
	var c Codec
	switch messageType {
	case websocket.TextMessage:
		c = JSON
	case websocket.BinaryMessage:
		c = MsgPack
	default:
		return nil, fmt.Errorf("gateway: unexpected websocket message type %d", messageType)
	}
	var f Frame
	if err := c.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("gateway: decode %s frame: %w", c.Name(), err)
	}
	return &f, nil
}
