// Package transcribe turns finished assistant utterances into transcript text.
//
// The call session buffers the G.711 μ-law audio the assistant streamed to
// the caller; when an utterance completes, the buffer is handed to a
// Transcriber and the resulting text is appended to the call transcript that
// later drives order extraction.
package transcribe

import "context"

// Transcriber converts a complete G.711 μ-law utterance (8 kHz mono) to text.
//
// Implementations must be safe for concurrent use; a busy line can finish a
// new utterance while the previous one is still being transcribed.
type Transcriber interface {
	Transcribe(ctx context.Context, mulaw []byte) (string, error)
}
