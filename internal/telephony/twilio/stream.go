package twilio

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tjfontaine/callscreen/internal/domain"
)

// MediaStream adapts one Twilio Media Streams WebSocket connection to
// domain.FrameTransport. Frames read from it are caller audio; frames written
// to it are model audio played back to the caller.
type MediaStream struct {
	conn *websocket.Conn

	callID    string
	streamSID string

	// gorilla permits one concurrent writer.
	writeMu sync.Mutex

	// fallback frame counter for payloads without a chunk number
	seq uint64

	closeOnce sync.Once
	closeErr  error
}

var _ domain.FrameTransport = (*MediaStream)(nil)

// streamMessage is the Media Streams wire envelope.
type streamMessage struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid,omitempty"`
	Start     *startPayload `json:"start,omitempty"`
	Media     *mediaPayload `json:"media,omitempty"`
}

type startPayload struct {
	StreamSID    string            `json:"streamSid"`
	AccountSID   string            `json:"accountSid"`
	CallSID      string            `json:"callSid"`
	Tracks       []string          `json:"tracks"`
	CustomParams map[string]string `json:"customParameters"`
}

type mediaPayload struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"` // base64 mu-law
}

// NewMediaStream wraps an upgraded WebSocket connection.
func NewMediaStream(conn *websocket.Conn) *MediaStream {
	return &MediaStream{conn: conn}
}

// WaitStart consumes messages until Twilio's start event arrives and returns
// the call SID the stream belongs to. It must be called before ReadFrame.
func (m *MediaStream) WaitStart(ctx context.Context) (string, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = m.conn.SetReadDeadline(deadline)
		defer func() { _ = m.conn.SetReadDeadline(time.Time{}) }()
	}

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		var msg streamMessage
		if err := m.readMessage(&msg); err != nil {
			return "", domain.ErrTransport("media stream closed before start", err)
		}

		switch msg.Event {
		case "connected":
			// handshake preamble
		case "start":
			if msg.Start == nil || msg.Start.CallSID == "" {
				return "", domain.ErrTransport("start event missing call sid", nil)
			}
			m.callID = msg.Start.CallSID
			m.streamSID = msg.Start.StreamSID
			return m.callID, nil
		case "stop":
			return "", domain.ErrTransport("media stream stopped before start", nil)
		}
	}
}

// CallID returns the call SID learned from the start event.
func (m *MediaStream) CallID() string { return m.callID }

// ReadFrame returns the next caller audio frame. It returns io.EOF when
// Twilio sends stop or closes the connection normally.
func (m *MediaStream) ReadFrame(ctx context.Context) (domain.AudioFrame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.AudioFrame{}, err
		}

		var msg streamMessage
		if err := m.readMessage(&msg); err != nil {
			return domain.AudioFrame{}, err
		}

		switch msg.Event {
		case "media":
			if msg.Media == nil || msg.Media.Payload == "" {
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil {
				return domain.AudioFrame{}, domain.ErrTransport("malformed media payload", err)
			}
			return domain.AudioFrame{
				Payload:   payload,
				Seq:       m.frameSeq(msg.Media.Chunk),
				Direction: domain.DirectionCallerToModel,
				Timestamp: time.Now(),
			}, nil
		case "stop":
			return domain.AudioFrame{}, io.EOF
		default:
			// connected, mark, dtmf: not audio
		}
	}
}

// WriteFrame sends a model audio frame back to the caller.
func (m *MediaStream) WriteFrame(ctx context.Context, frame domain.AudioFrame) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := map[string]any{
		"event":     "media",
		"streamSid": m.streamSID,
		"media": map[string]string{
			"payload": base64.StdEncoding.EncodeToString(frame.Payload),
		},
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = m.conn.SetWriteDeadline(deadline)
	}
	if err := m.conn.WriteJSON(msg); err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return io.EOF
		}
		return domain.ErrTransport("media stream write failed", err)
	}
	return nil
}

// Close tears the WebSocket down. Safe to call more than once.
func (m *MediaStream) Close() error {
	m.closeOnce.Do(func() {
		m.writeMu.Lock()
		_ = m.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		m.writeMu.Unlock()
		m.closeErr = m.conn.Close()
	})
	return m.closeErr
}

func (m *MediaStream) readMessage(msg *streamMessage) error {
	_, data, err := m.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return io.EOF
		}
		return err
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return domain.ErrTransport("malformed media stream message", err)
	}
	return nil
}

// frameSeq prefers Twilio's per-track chunk counter so wire gaps are visible
// to the relay's ordering check.
func (m *MediaStream) frameSeq(chunk string) uint64 {
	if chunk != "" {
		if n, err := strconv.ParseUint(chunk, 10, 64); err == nil {
			return n
		}
	}
	m.seq++
	return m.seq
}

// Upgrader is the WebSocket upgrader for the media-stream endpoint. Twilio
// does not send a browser Origin header.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}
