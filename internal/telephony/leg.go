package telephony

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// Leg is the caller side of a live call: the accepted media-stream WebSocket.
//
// Inbound frames arrive on [Leg.Events]; the channel is closed when the
// stream ends. Outbound writes are only valid once the start event has been
// seen, which supplies the stream SID used on every outgoing frame.
//
// All methods are safe for concurrent use.
type Leg struct {
	conn   *websocket.Conn
	events chan *Event
	logger *slog.Logger

	mu        sync.Mutex
	streamSID string
	errVal    error
	closed    bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Accept upgrades an incoming media-stream request and starts reading frames.
func Accept(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*Leg, error) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("telephony: accept: %w", err)
	}
	legCtx, legCancel := context.WithCancel(context.Background())
	l := &Leg{
		conn:   conn,
		events: make(chan *Event, 64),
		logger: logger,
		ctx:    legCtx,
		cancel: legCancel,
	}
	go l.readLoop()
	return l, nil
}

// readLoop reads frames from the WebSocket and forwards them.
// It owns the events channel and closes it when it exits.
func (l *Leg) readLoop() {
	defer l.closeEvents()

	for {
		_, data, err := l.conn.Read(l.ctx)
		if err != nil {
			if l.ctx.Err() != nil {
				return
			}
			l.setErr(err)
			return
		}

		evt, err := ParseEvent(data)
		if err != nil {
			l.logger.Warn("dropping unparseable media-stream frame", "error", err)
			continue
		}
		if evt.Event == EventStart && evt.Start != nil {
			l.mu.Lock()
			l.streamSID = evt.Start.StreamSID
			l.mu.Unlock()
		}

		select {
		case l.events <- evt:
		case <-l.ctx.Done():
			return
		}
	}
}

// Events returns the channel on which inbound frames arrive. Closed when the
// stream ends.
func (l *Leg) Events() <-chan *Event { return l.events }

// Err returns the first non-nil error that ended the stream, if any.
func (l *Leg) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.errVal
}

func (l *Leg) setErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.errVal == nil {
		l.errVal = err
	}
}

func (l *Leg) closeEvents() {
	l.closeOnce.Do(func() {
		close(l.events)
	})
}

// sid returns the stream SID, or an error before the start event.
func (l *Leg) sid() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return "", fmt.Errorf("telephony: leg closed")
	}
	if l.streamSID == "" {
		return "", fmt.Errorf("telephony: stream not started")
	}
	return l.streamSID, nil
}

func (l *Leg) writeJSON(v any) error {
	data, err := marshalFrame(v)
	if err != nil {
		return err
	}
	return l.conn.Write(l.ctx, websocket.MessageText, data)
}

// SendMedia plays a base64 μ-law chunk to the caller.
func (l *Leg) SendMedia(payload string) error {
	sid, err := l.sid()
	if err != nil {
		return err
	}
	return l.writeJSON(outboundMedia{
		Event:     EventMedia,
		StreamSID: sid,
		Media:     mediaContent{Payload: payload},
	})
}

// SendMark queues a playback mark; Twilio echoes it back once the audio sent
// before it has been played out.
func (l *Leg) SendMark() error {
	sid, err := l.sid()
	if err != nil {
		return err
	}
	return l.writeJSON(outboundMark{
		Event:     EventMark,
		StreamSID: sid,
		Mark:      markContent{Name: MarkResponsePart},
	})
}

// SendClear discards all audio Twilio has buffered but not yet played.
// Used on barge-in so the caller stops hearing the interrupted utterance.
func (l *Leg) SendClear() error {
	sid, err := l.sid()
	if err != nil {
		return err
	}
	return l.writeJSON(outboundClear{
		Event:     EventClear,
		StreamSID: sid,
	})
}

// Close ends the stream and releases all resources. Idempotent.
func (l *Leg) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.cancel()
	l.conn.Close(websocket.StatusNormalClosure, "call ended")
	return nil
}
