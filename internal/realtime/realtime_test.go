package realtime_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/trattoria-labs/centralino/internal/realtime"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startServer launches a test WebSocket server. The handler receives the
// accepted conn. The server is automatically closed when the test finishes.
func startServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestConnect_SendsSessionUpdate(t *testing.T) {
	t.Parallel()

	type sessionUpdate struct {
		Type    string `json:"type"`
		Session struct {
			TurnDetection struct {
				Type string `json:"type"`
			} `json:"turn_detection"`
			InputAudioFormat  string   `json:"input_audio_format"`
			OutputAudioFormat string   `json:"output_audio_format"`
			Voice             string   `json:"voice"`
			Instructions      string   `json:"instructions"`
			Modalities        []string `json:"modalities"`
		} `json:"session"`
	}

	got := make(chan sessionUpdate, 1)
	auth := make(chan string, 1)
	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		var upd sessionUpdate
		readJSON(t, conn, &upd)
		got <- upd
		<-conn.CloseRead(context.Background()).Done()
	})

	c := realtime.NewClient("test-key", realtime.WithBaseURL(wsURL(srv)))
	sess, err := c.Connect(context.Background(), realtime.SessionConfig{
		Voice:        "sage",
		Instructions: "You answer the phone for a restaurant.",
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	select {
	case a := <-auth:
		if a != "Bearer test-key" {
			t.Errorf("Authorization = %q", a)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for handshake")
	}

	upd := <-got
	if upd.Type != "session.update" {
		t.Errorf("first message type = %q, want session.update", upd.Type)
	}
	if upd.Session.TurnDetection.Type != "server_vad" {
		t.Errorf("turn_detection = %q, want server_vad", upd.Session.TurnDetection.Type)
	}
	if upd.Session.InputAudioFormat != "g711_ulaw" || upd.Session.OutputAudioFormat != "g711_ulaw" {
		t.Errorf("audio formats = %q/%q, want g711_ulaw both ways",
			upd.Session.InputAudioFormat, upd.Session.OutputAudioFormat)
	}
	if upd.Session.Voice != "sage" {
		t.Errorf("voice = %q, want sage", upd.Session.Voice)
	}
	if len(upd.Session.Modalities) != 2 {
		t.Errorf("modalities = %v, want [text audio]", upd.Session.Modalities)
	}
}

func TestAppendAudio_PassesBase64Through(t *testing.T) {
	t.Parallel()

	type appendMsg struct {
		Type  string `json:"type"`
		Audio string `json:"audio"`
	}
	got := make(chan appendMsg, 1)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw) // session.update
		var msg appendMsg
		readJSON(t, conn, &msg)
		got <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	c := realtime.NewClient("key", realtime.WithBaseURL(wsURL(srv)))
	sess, err := c.Connect(context.Background(), realtime.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	if err := sess.AppendAudio("//8A/w=="); err != nil {
		t.Fatalf("AppendAudio: %v", err)
	}

	select {
	case msg := <-got:
		if msg.Type != "input_audio_buffer.append" {
			t.Errorf("type = %q", msg.Type)
		}
		if msg.Audio != "//8A/w==" {
			t.Errorf("audio = %q, payload must pass through unchanged", msg.Audio)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestEvents_DeliversAudioDelta(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw) // session.update
		writeJSON(t, conn, map[string]any{
			"type":    "response.audio.delta",
			"delta":   "AAECAw==",
			"item_id": "item_42",
		})
		writeJSON(t, conn, map[string]any{"type": "response.audio.done"})
		<-conn.CloseRead(context.Background()).Done()
	})

	c := realtime.NewClient("key", realtime.WithBaseURL(wsURL(srv)))
	sess, err := c.Connect(context.Background(), realtime.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	var events []realtime.Event
	timeout := time.After(3 * time.Second)
	for len(events) < 2 {
		select {
		case evt, ok := <-sess.Events():
			if !ok {
				t.Fatal("events channel closed early")
			}
			events = append(events, evt)
		case <-timeout:
			t.Fatalf("timeout, got %d events", len(events))
		}
	}

	if events[0].Type != realtime.EventAudioDelta {
		t.Errorf("first event = %q", events[0].Type)
	}
	if events[0].Delta != "AAECAw==" || events[0].ItemID != "item_42" {
		t.Errorf("delta event = %+v", events[0])
	}
	if events[1].Type != realtime.EventAudioDone {
		t.Errorf("second event = %q", events[1].Type)
	}
}

func TestTruncate_SendsItemTruncate(t *testing.T) {
	t.Parallel()

	type truncMsg struct {
		Type         string `json:"type"`
		ItemID       string `json:"item_id"`
		ContentIndex int    `json:"content_index"`
		AudioEndMs   int64  `json:"audio_end_ms"`
	}
	got := make(chan truncMsg, 1)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw) // session.update
		var msg truncMsg
		readJSON(t, conn, &msg)
		got <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	c := realtime.NewClient("key", realtime.WithBaseURL(wsURL(srv)))
	sess, err := c.Connect(context.Background(), realtime.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	if err := sess.Truncate("item_42", 1350); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	select {
	case msg := <-got:
		if msg.Type != "conversation.item.truncate" {
			t.Errorf("type = %q", msg.Type)
		}
		if msg.ItemID != "item_42" || msg.ContentIndex != 0 || msg.AudioEndMs != 1350 {
			t.Errorf("truncate = %+v", msg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestInjectText_CoercesUnknownRole(t *testing.T) {
	t.Parallel()

	type itemMsg struct {
		Type string `json:"type"`
		Item struct {
			Type    string `json:"type"`
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"item"`
	}
	got := make(chan itemMsg, 1)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw) // session.update
		var msg itemMsg
		readJSON(t, conn, &msg)
		got <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	c := realtime.NewClient("key", realtime.WithBaseURL(wsURL(srv)))
	sess, err := c.Connect(context.Background(), realtime.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	if err := sess.InjectText("robot", "hello"); err != nil {
		t.Fatalf("InjectText: %v", err)
	}

	select {
	case msg := <-got:
		if msg.Item.Role != "user" {
			t.Errorf("role = %q, unknown roles coerce to user", msg.Item.Role)
		}
		if len(msg.Item.Content) != 1 || msg.Item.Content[0].Type != "input_text" {
			t.Errorf("content = %+v", msg.Item.Content)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	c := realtime.NewClient("key", realtime.WithBaseURL(wsURL(srv)))
	sess, err := c.Connect(context.Background(), realtime.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := sess.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := sess.AppendAudio("AA=="); err == nil {
		t.Error("AppendAudio after Close should fail")
	}

	// The events channel must be closed once the receive loop exits.
	select {
	case _, ok := <-sess.Events():
		if ok {
			t.Error("expected closed events channel")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for events channel close")
	}
}
