// Package realtime implements the speech-to-speech client driving the
// assistant's side of a call.
//
// It establishes a bidirectional WebSocket connection to the OpenAI Realtime
// endpoint and exchanges JSON events according to the Realtime API protocol.
// Audio travels in both directions as base64-encoded G.711 μ-law, the format
// the telephone media stream already uses, so no transcoding happens on the
// hot path.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithModel sets the realtime model used for sessions.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// ── Client ─────────────────────────────────────────────────────────────────────

// Client dials Realtime API sessions. It is cheap and safe to share; each
// call gets its own [Session] via [Client.Connect].
type Client struct {
	apiKey  string
	model   string
	baseURL string
}

// NewClient creates a Client with the given API key and options.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SessionConfig carries the per-call session parameters.
type SessionConfig struct {
	// Voice is the synthesised voice identifier (e.g., "sage").
	Voice string

	// Instructions is the full system prompt, menu included.
	Instructions string
}

// Connect establishes a new realtime session. The session.update configuring
// server-side voice activity detection and μ-law audio in both directions is
// sent before Connect returns, so the session accepts audio immediately.
func (c *Client) Connect(ctx context.Context, cfg SessionConfig) (*Session, error) {
	wsURL := fmt.Sprintf("%s?model=%s", c.baseURL, c.model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + c.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("realtime: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &Session{
		conn:   conn,
		events: make(chan Event, 64),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.sendSessionUpdate(cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("realtime: session update: %w", err)
	}

	go sess.receiveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type sessionParams struct {
	TurnDetection     turnDetection `json:"turn_detection"`
	InputAudioFormat  string        `json:"input_audio_format"`
	OutputAudioFormat string        `json:"output_audio_format"`
	Voice             string        `json:"voice,omitempty"`
	Instructions      string        `json:"instructions,omitempty"`
	Modalities        []string      `json:"modalities"`
	Temperature       float64       `json:"temperature"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded μ-law
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string             `json:"type"`
	Role    string             `json:"role,omitempty"`
	Content []conversationPart `json:"content,omitempty"`
}

type conversationPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type truncateMessage struct {
	Type         string `json:"type"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMs   int64  `json:"audio_end_ms"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

// Well-known server event types the call loop reacts to. Other event types
// are delivered too and may be ignored.
const (
	EventAudioDelta    = "response.audio.delta"
	EventAudioDone     = "response.audio.done"
	EventSpeechStarted = "input_audio_buffer.speech_started"
	EventError         = "error"
)

// ErrorDetail is the nested error object in a Realtime error event.
type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Event is a server event as received from the Realtime API.
type Event struct {
	Type string `json:"type"`

	// Delta carries base64 μ-law audio for response.audio.delta events.
	Delta string `json:"delta,omitempty"`

	// ItemID identifies the assistant item an audio delta belongs to. Needed
	// to truncate the item on barge-in.
	ItemID string `json:"item_id,omitempty"`

	Error *ErrorDetail `json:"error,omitempty"`
}

// ── Session ────────────────────────────────────────────────────────────────────

// Session is one live realtime connection. Events arrive on [Session.Events];
// the channel is closed when the connection ends. All methods are safe for
// concurrent use.
type Session struct {
	conn   *websocket.Conn
	events chan Event

	mu     sync.Mutex
	errVal error
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (s *Session) sendSessionUpdate(cfg SessionConfig) error {
	return s.writeJSON(sessionUpdateMessage{
		Type: "session.update",
		Session: sessionParams{
			TurnDetection:     turnDetection{Type: "server_vad"},
			InputAudioFormat:  "g711_ulaw",
			OutputAudioFormat: "g711_ulaw",
			Voice:             cfg.Voice,
			Instructions:      cfg.Instructions,
			Modalities:        []string{"text", "audio"},
			Temperature:       1,
		},
	})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *Session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and forwards them.
// It owns the events channel and closes it when it exits.
func (s *Session) receiveLoop() {
	defer s.closeEvents()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(err)
			return
		}

		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}

		select {
		case s.events <- evt:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *Session) closeEvents() {
	s.closeOnce.Do(func() {
		close(s.events)
	})
}

// Events returns the channel on which server events arrive. Closed when the
// session ends.
func (s *Session) Events() <-chan Event { return s.events }

// Err returns the first non-nil error that caused the session to terminate.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// AppendAudio forwards a base64 μ-law chunk, as received from the telephone
// media stream, to the model's input audio buffer.
func (s *Session) AppendAudio(payload string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("realtime: session closed")
	}
	s.mu.Unlock()

	return s.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: payload,
	})
}

// InjectText inserts a text message into the conversation without triggering
// a response. Role must be "user", "assistant", or "system"; unknown roles
// are coerced to "user".
func (s *Session) InjectText(role, text string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("realtime: session closed")
	}
	s.mu.Unlock()

	switch role {
	case "assistant", "system":
	default:
		role = "user"
	}
	partType := "input_text"
	if role == "assistant" {
		partType = "text"
	}

	return s.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type: "message",
			Role: role,
			Content: []conversationPart{
				{Type: partType, Text: text},
			},
		},
	})
}

// CreateResponse asks the model to produce its next turn now.
func (s *Session) CreateResponse() error {
	return s.writeJSON(map[string]string{"type": "response.create"})
}

// Truncate cuts the assistant item identified by itemID at audioEndMs of
// played audio, discarding the unspoken remainder. Sent when the caller
// interrupts mid-utterance so the conversation state matches what was heard.
func (s *Session) Truncate(itemID string, audioEndMs int64) error {
	return s.writeJSON(truncateMessage{
		Type:         "conversation.item.truncate",
		ItemID:       itemID,
		ContentIndex: 0,
		AudioEndMs:   audioEndMs,
	})
}

// Close terminates the session and releases all resources. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
