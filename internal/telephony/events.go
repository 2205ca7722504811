// Package telephony handles the Twilio side of a call: the incoming-call
// webhook, the bidirectional media-stream WebSocket, and the REST API used
// for call redirects and SMS.
package telephony

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Media-stream event names, both directions.
const (
	EventStart = "start"
	EventMedia = "media"
	EventMark  = "mark"
	EventDTMF  = "dtmf"
	EventStop  = "stop"
	EventClear = "clear"
)

// MarkResponsePart is the mark label attached to every outbound audio chunk.
// Twilio echoes each mark back once the chunk has been played to the caller.
const MarkResponsePart = "responsePart"

// Milliseconds is a millisecond timestamp that tolerates both string and
// number JSON encodings; Twilio sends media timestamps as strings.
type Milliseconds int64

// UnmarshalJSON implements json.Unmarshaler.
func (m *Milliseconds) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*m = 0
		return nil
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("telephony: parse timestamp %q: %w", data, err)
	}
	*m = Milliseconds(v)
	return nil
}

// Event is one inbound media-stream message from Twilio.
type Event struct {
	Event string `json:"event"`

	Start *StartPayload `json:"start,omitempty"`
	Media *MediaPayload `json:"media,omitempty"`
	Mark  *MarkPayload  `json:"mark,omitempty"`
	DTMF  *DTMFPayload  `json:"dtmf,omitempty"`
}

// StartPayload opens the stream and identifies the call.
type StartPayload struct {
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	CustomParameters map[string]string `json:"customParameters"`
}

// Caller returns the caller number passed through the stream's custom
// parameters, or "" when absent.
func (s *StartPayload) Caller() string {
	return s.CustomParameters["caller"]
}

// MediaPayload carries one chunk of caller audio.
type MediaPayload struct {
	// Timestamp is the chunk's offset from stream start.
	Timestamp Milliseconds `json:"timestamp"`

	// Payload is base64-encoded G.711 μ-law audio.
	Payload string `json:"payload"`
}

// MarkPayload is Twilio's echo of a previously sent mark.
type MarkPayload struct {
	Name string `json:"name"`
}

// DTMFPayload reports a keypad press.
type DTMFPayload struct {
	Digit string `json:"digit"`
}

// ParseEvent decodes one media-stream frame.
func ParseEvent(data []byte) (*Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("telephony: parse event: %w", err)
	}
	return &evt, nil
}

// ── Outbound messages ─────────────────────────────────────────────────────────

type outboundMedia struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid"`
	Media     mediaContent `json:"media"`
}

type mediaContent struct {
	Payload string `json:"payload"`
}

type outboundMark struct {
	Event     string      `json:"event"`
	StreamSID string      `json:"streamSid"`
	Mark      markContent `json:"mark"`
}

type markContent struct {
	Name string `json:"name"`
}

type outboundClear struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}

func marshalFrame(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("telephony: marshal frame: %w", err)
	}
	return data, nil
}
