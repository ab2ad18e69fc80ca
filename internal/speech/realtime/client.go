// Package realtime is the speech-model collaborator: a WebSocket client for
// the OpenAI Realtime API that carries call audio both ways and demuxes the
// model's structured events for the interpreter.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tjfontaine/callscreen/internal/domain"
)

// Config configures the realtime connection.
type Config struct {
	URL         string
	APIKey      string
	Voice       string
	Temperature float64
}

// Conn is one realtime session. It implements domain.FrameTransport for the
// audio path and domain.EventStream for the semantic path.
type Conn struct {
	ws *websocket.Conn

	frames chan domain.AudioFrame
	events chan domain.ModelEvent

	// gorilla permits one concurrent writer.
	writeMu sync.Mutex

	// monotonic sequence for model audio deltas; the wire carries none.
	// Assigned at delivery, so frames shed under backpressure never leave
	// a gap for the relay's ordering check.
	seq uint64

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
	done      chan struct{}
}

var _ domain.FrameTransport = (*Conn)(nil)
var _ domain.EventStream = (*Conn)(nil)

// Dial connects, configures the session, and queues the opening greeting.
func Dial(ctx context.Context, cfg Config, instructions string) (*Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, domain.ErrTransport(fmt.Sprintf("realtime dial rejected with %d", resp.StatusCode), err)
		}
		return nil, domain.ErrTransportTransient("realtime dial failed", err)
	}

	c := &Conn{
		ws:     ws,
		frames: make(chan domain.AudioFrame, 256),
		events: make(chan domain.ModelEvent, 64),
		done:   make(chan struct{}),
	}

	if err := c.configureSession(cfg, instructions); err != nil {
		ws.Close()
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

func (c *Conn) configureSession(cfg Config, instructions string) error {
	update := map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"turn_detection":      map[string]string{"type": "server_vad"},
			"voice":               cfg.Voice,
			"input_audio_format":  "g711_ulaw",
			"output_audio_format": "g711_ulaw",
			"temperature":         cfg.Temperature,
			"modalities":          []string{"text", "audio"},
			"input_audio_transcription": map[string]string{
				"model": "whisper-1",
			},
			"instructions": instructions,
			"tools": []map[string]any{
				{
					"type":        "function",
					"name":        "hang_up",
					"description": "End the call immediately",
				},
				{
					"type":        "function",
					"name":        "schedule_call",
					"description": "Send a scheduling link to the caller",
				},
				{
					"type":        "function",
					"name":        "transfer_call",
					"description": "Transfer the call to the owner",
				},
				{
					"type":        "function",
					"name":        "report_intent",
					"description": "Report the caller's inferred intent with a confidence score",
					"parameters": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"category": map[string]any{
								"type": "string",
								"enum": []string{"spam", "schedule", "transfer", "unknown"},
							},
							"confidence": map[string]any{
								"type":    "number",
								"minimum": 0,
								"maximum": 1,
							},
						},
						"required": []string{"category", "confidence"},
					},
				},
			},
		},
	}
	if err := c.writeJSON(update); err != nil {
		return domain.ErrTransport("failed to configure realtime session", err)
	}

	greeting := map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]string{
				{
					"type": "input_text",
					"text": "Greet the caller, introduce yourself as the owner's assistant, and ask who is calling and why.",
				},
			},
		},
	}
	if err := c.writeJSON(greeting); err != nil {
		return domain.ErrTransport("failed to queue greeting", err)
	}
	if err := c.writeJSON(map[string]any{"type": "response.create"}); err != nil {
		return domain.ErrTransport("failed to request greeting response", err)
	}
	return nil
}

// ReadFrame returns the next model audio frame destined for the caller.
func (c *Conn) ReadFrame(ctx context.Context) (domain.AudioFrame, error) {
	select {
	case <-ctx.Done():
		return domain.AudioFrame{}, ctx.Err()
	case frame, ok := <-c.frames:
		if !ok {
			if err := c.Err(); err != nil {
				return domain.AudioFrame{}, err
			}
			return domain.AudioFrame{}, io.EOF
		}
		c.seq++
		frame.Seq = c.seq
		return frame, nil
	}
}

// WriteFrame appends caller audio to the model's input buffer.
func (c *Conn) WriteFrame(ctx context.Context, frame domain.AudioFrame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return io.EOF
	default:
	}

	msg := map[string]string{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(frame.Payload),
	}
	if err := c.writeJSON(msg); err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return io.EOF
		}
		return domain.ErrTransport("realtime write failed", err)
	}
	return nil
}

// Events returns the semantic event stream. The channel closes when the
// connection ends; Err reports why.
func (c *Conn) Events() <-chan domain.ModelEvent { return c.events }

// Err returns the terminal error, nil for a clean close.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close tears the connection down. Safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
	return nil
}

func (c *Conn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

func (c *Conn) setErr(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
}

func (c *Conn) readLoop() {
	defer close(c.frames)
	defer close(c.events)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				// closed by us
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.setErr(domain.ErrTransport("realtime read failed", err))
				}
			}
			return
		}

		audio, ev, err := decodeServerEvent(data)
		if err != nil {
			c.setErr(err)
			return
		}
		if audio != nil {
			c.pushFrame(domain.AudioFrame{
				Payload:   audio,
				Direction: domain.DirectionModelToCaller,
				Timestamp: time.Now(),
			})
		}
		if ev != nil {
			select {
			case c.events <- *ev:
			case <-c.done:
				return
			}
		}
	}
}

// pushFrame enqueues a model audio frame, dropping the oldest if the session
// has fallen behind. Audio is droppable; events are not.
func (c *Conn) pushFrame(frame domain.AudioFrame) {
	select {
	case c.frames <- frame:
	default:
		select {
		case <-c.frames:
		default:
		}
		select {
		case c.frames <- frame:
		default:
		}
	}
}

// serverEvent is the subset of the realtime wire format the screener consumes.
type serverEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
	Error      *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type intentArguments struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// decodeServerEvent demuxes one wire message into model audio, a semantic
// event, neither, or a fatal error.
func decodeServerEvent(data []byte) ([]byte, *domain.ModelEvent, error) {
	var ev serverEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, nil, domain.ErrTransport("malformed realtime message", err)
	}

	switch ev.Type {
	case "error":
		msg := "realtime session error"
		if ev.Error != nil {
			msg = fmt.Sprintf("realtime session error: %s", ev.Error.Message)
		}
		return nil, nil, domain.ErrTransport(msg, nil)

	case "response.audio.delta":
		if ev.Delta == "" {
			return nil, nil, nil
		}
		audio, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			return nil, nil, domain.ErrTransport("malformed audio delta", err)
		}
		return audio, nil, nil

	case "response.audio_transcript.done":
		return nil, &domain.ModelEvent{
			Type:       domain.EventTranscript,
			Transcript: ev.Transcript,
			Role:       "assistant",
			At:         time.Now(),
		}, nil

	case "conversation.item.input_audio_transcription.completed":
		return nil, &domain.ModelEvent{
			Type:       domain.EventTranscript,
			Transcript: ev.Transcript,
			Role:       "caller",
			At:         time.Now(),
		}, nil

	case "response.function_call_arguments.done":
		if ev.Name == "report_intent" {
			var args intentArguments
			if err := json.Unmarshal([]byte(ev.Arguments), &args); err != nil {
				return nil, nil, domain.ErrTransport("malformed report_intent arguments", err)
			}
			return nil, &domain.ModelEvent{
				Type:       domain.EventIntent,
				Intent:     intentCategory(args.Category),
				Confidence: args.Confidence,
				At:         time.Now(),
			}, nil
		}
		return nil, &domain.ModelEvent{
			Type: domain.EventToolCall,
			Tool: ev.Name,
			At:   time.Now(),
		}, nil

	case "input_audio_buffer.speech_started",
		"input_audio_buffer.speech_stopped",
		"input_audio_buffer.committed":
		return nil, &domain.ModelEvent{Type: domain.EventAcoustic, At: time.Now()}, nil
	}

	return nil, nil, nil
}

func intentCategory(s string) domain.IntentCategory {
	switch domain.IntentCategory(s) {
	case domain.IntentSpam, domain.IntentSchedule, domain.IntentTransfer:
		return domain.IntentCategory(s)
	default:
		return domain.IntentUnknown
	}
}
