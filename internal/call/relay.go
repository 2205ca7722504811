package call

// Relay tracks the playback bookkeeping needed to cut the assistant off
// mid-sentence. Twilio buffers outbound audio ahead of playback, so the
// session cannot know from writes alone how much the caller has actually
// heard; marks echoed back by Twilio and the inbound media clock provide
// that.
//
// Relay is not safe for concurrent use. It is owned by the session loop.
type Relay struct {
	// pendingMarks counts outbound audio chunks Twilio has not yet played.
	pendingMarks int

	// lastItemID is the assistant item currently being spoken.
	lastItemID string

	// playbackStart is the inbound media clock reading when the current
	// response began playing. Valid only while playing is true.
	playbackStart int64
	playing       bool

	// latestInbound is the most recent inbound media timestamp in ms.
	latestInbound int64

	// utterance accumulates the μ-law audio of the response being spoken,
	// kept for transcription once the response completes.
	utterance []byte
}

// NewRelay returns an empty Relay.
func NewRelay() *Relay {
	return &Relay{}
}

// NoteInbound records the caller-side media clock from an inbound chunk.
func (r *Relay) NoteInbound(timestampMs int64) {
	r.latestInbound = timestampMs
}

// NoteOutbound records one outbound audio chunk. The first chunk of a
// response pins the playback start to the current inbound clock; itemID,
// when non-empty, identifies the assistant item being spoken.
func (r *Relay) NoteOutbound(itemID string) {
	if !r.playing {
		r.playbackStart = r.latestInbound
		r.playing = true
	}
	if itemID != "" {
		r.lastItemID = itemID
	}
	r.pendingMarks++
}

// MarkConsumed records one mark echoed back by Twilio. It reports whether a
// mark was actually outstanding.
func (r *Relay) MarkConsumed() bool {
	if r.pendingMarks == 0 {
		return false
	}
	r.pendingMarks--
	return true
}

// ResetPlayback clears all playback state. Called when a new stream starts.
func (r *Relay) ResetPlayback() {
	r.pendingMarks = 0
	r.lastItemID = ""
	r.playbackStart = 0
	r.playing = false
	r.latestInbound = 0
}

// BargeIn is called when the caller starts speaking. If assistant audio is
// being played it returns the item to truncate (possibly empty) and how many
// milliseconds of it the caller heard, and resets the playback state. When
// the assistant is idle it reports ok = false; a second call during the same
// interruption is also a no-op.
func (r *Relay) BargeIn() (itemID string, elapsedMs int64, ok bool) {
	if r.pendingMarks == 0 || !r.playing {
		return "", 0, false
	}
	itemID = r.lastItemID
	elapsedMs = r.latestInbound - r.playbackStart
	if elapsedMs < 0 {
		elapsedMs = 0
	}
	r.pendingMarks = 0
	r.lastItemID = ""
	r.playing = false
	return itemID, elapsedMs, true
}

// AppendUtterance buffers raw μ-law audio of the response being spoken.
func (r *Relay) AppendUtterance(mulaw []byte) {
	r.utterance = append(r.utterance, mulaw...)
}

// TakeUtterance returns the buffered utterance audio and resets the buffer.
func (r *Relay) TakeUtterance() []byte {
	u := r.utterance
	r.utterance = nil
	return u
}
