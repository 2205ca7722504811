package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/trattoria-labs/centralino/pkg/audio"
)

// Compile-time interface check.
var _ Transcriber = (*WhisperServer)(nil)

// WhisperServer transcribes utterances against a running whisper-server
// binary exposing POST /inference.
type WhisperServer struct {
	serverURL  string
	language   string
	httpClient *http.Client
}

// WhisperServerOption is a functional option for [NewWhisperServer].
type WhisperServerOption func(*WhisperServer)

// WithLanguage sets the language hint forwarded to the server. Defaults to "en".
func WithLanguage(lang string) WhisperServerOption {
	return func(w *WhisperServer) {
		w.language = lang
	}
}

// WithHTTPClient replaces the HTTP client used for inference requests.
func WithHTTPClient(c *http.Client) WhisperServerOption {
	return func(w *WhisperServer) {
		w.httpClient = c
	}
}

// NewWhisperServer constructs a [Transcriber] backed by the whisper-server
// at serverURL (e.g., "http://localhost:8080").
func NewWhisperServer(serverURL string, opts ...WhisperServerOption) (*WhisperServer, error) {
	if serverURL == "" {
		return nil, fmt.Errorf("transcribe: serverURL must not be empty")
	}
	w := &WhisperServer{
		serverURL:  serverURL,
		language:   "en",
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

// Transcribe implements [Transcriber].
func (w *WhisperServer) Transcribe(ctx context.Context, mulaw []byte) (string, error) {
	if len(mulaw) == 0 {
		return "", nil
	}
	wav := audio.EncodeWAV(audio.Upsample2x(audio.DecodeMuLaw(mulaw)), 16000, 1)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("transcribe: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("transcribe: write wav data: %w", err)
	}
	if w.language != "" {
		if err := mw.WriteField("language", w.language); err != nil {
			return "", fmt.Errorf("transcribe: write language field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("transcribe: close multipart writer: %w", err)
	}

	endpoint := w.serverURL + "/inference"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("transcribe: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcribe: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcribe: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("transcribe: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("transcribe: parse JSON response: %w", err)
	}
	return result.Text, nil
}
