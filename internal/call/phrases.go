package call

import "strings"

// Spoken phrases the session watches for in assistant utterances. Matching
// is a case-insensitive substring check; the system prompt instructs the
// assistant to use these exact formulations.
const (
	transferPhrase = "connect you with our manager"
	goodbyePhrase  = "goodbye"
)

// IsTransferRequest reports whether the assistant announced a hand-off to
// the manager.
func IsTransferRequest(text string) bool {
	return strings.Contains(strings.ToLower(text), transferPhrase)
}

// IsGoodbye reports whether the assistant said goodbye, signalling the call
// should wind down.
func IsGoodbye(text string) bool {
	return strings.Contains(strings.ToLower(text), goodbyePhrase)
}
