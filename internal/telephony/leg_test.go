package telephony_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/trattoria-labs/centralino/internal/telephony"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// startLegServer runs an httptest server that accepts one media-stream
// connection via telephony.Accept and hands the Leg to handler.
func startLegServer(t *testing.T, handler func(l *telephony.Leg)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l, err := telephony.Accept(w, r, discardLogger())
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		handler(l)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// dialLeg connects a fake Twilio client to the test server.
func dialLeg(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func recvJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
}

const startFrame = `{"event":"start","start":{"streamSid":"MZ1","callSid":"CA1","customParameters":{"caller":"+16155550123"}}}`

func TestLeg_ForwardsEvents(t *testing.T) {
	t.Parallel()

	legCh := make(chan *telephony.Leg, 1)
	srv := startLegServer(t, func(l *telephony.Leg) { legCh <- l })
	conn := dialLeg(t, srv)

	send(t, conn, startFrame)
	send(t, conn, `{"event":"media","media":{"timestamp":"40","payload":"//8="}}`)

	l := <-legCh
	defer l.Close()

	evt := mustEvent(t, l)
	if evt.Event != telephony.EventStart {
		t.Fatalf("first event = %q, want start", evt.Event)
	}
	evt = mustEvent(t, l)
	if evt.Event != telephony.EventMedia || evt.Media.Payload != "//8=" {
		t.Fatalf("second event = %+v", evt)
	}
}

func TestLeg_WritesCarryStreamSID(t *testing.T) {
	t.Parallel()

	legCh := make(chan *telephony.Leg, 1)
	srv := startLegServer(t, func(l *telephony.Leg) { legCh <- l })
	conn := dialLeg(t, srv)

	l := <-legCh
	defer l.Close()

	// Before the start frame the stream SID is unknown.
	if err := l.SendMedia("AAAA"); err == nil {
		t.Error("SendMedia before start should fail")
	}

	send(t, conn, startFrame)
	mustEvent(t, l) // consume start

	if err := l.SendMedia("AAAA"); err != nil {
		t.Fatalf("SendMedia: %v", err)
	}
	if err := l.SendMark(); err != nil {
		t.Fatalf("SendMark: %v", err)
	}
	if err := l.SendClear(); err != nil {
		t.Fatalf("SendClear: %v", err)
	}

	var media struct {
		Event     string `json:"event"`
		StreamSID string `json:"streamSid"`
		Media     struct {
			Payload string `json:"payload"`
		} `json:"media"`
	}
	recvJSON(t, conn, &media)
	if media.Event != "media" || media.StreamSID != "MZ1" || media.Media.Payload != "AAAA" {
		t.Errorf("media frame = %+v", media)
	}

	var mark struct {
		Event string `json:"event"`
		Mark  struct {
			Name string `json:"name"`
		} `json:"mark"`
	}
	recvJSON(t, conn, &mark)
	if mark.Event != "mark" || mark.Mark.Name != telephony.MarkResponsePart {
		t.Errorf("mark frame = %+v", mark)
	}

	var clear struct {
		Event     string `json:"event"`
		StreamSID string `json:"streamSid"`
	}
	recvJSON(t, conn, &clear)
	if clear.Event != "clear" || clear.StreamSID != "MZ1" {
		t.Errorf("clear frame = %+v", clear)
	}
}

func TestLeg_MalformedFramesAreDropped(t *testing.T) {
	t.Parallel()

	legCh := make(chan *telephony.Leg, 1)
	srv := startLegServer(t, func(l *telephony.Leg) { legCh <- l })
	conn := dialLeg(t, srv)

	send(t, conn, `{garbage`)
	send(t, conn, startFrame)

	l := <-legCh
	defer l.Close()

	evt := mustEvent(t, l)
	if evt.Event != telephony.EventStart {
		t.Fatalf("event = %q, malformed frame should have been skipped", evt.Event)
	}
}

func TestLeg_CloseClosesEvents(t *testing.T) {
	t.Parallel()

	legCh := make(chan *telephony.Leg, 1)
	srv := startLegServer(t, func(l *telephony.Leg) { legCh <- l })
	dialLeg(t, srv)

	l := <-legCh
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	select {
	case _, ok := <-l.Events():
		if ok {
			t.Error("expected closed events channel")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for events channel close")
	}
}

func mustEvent(t *testing.T, l *telephony.Leg) *telephony.Event {
	t.Helper()
	select {
	case evt, ok := <-l.Events():
		if !ok {
			t.Fatal("events channel closed")
		}
		return evt
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
		return nil
	}
}
