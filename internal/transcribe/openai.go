package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/trattoria-labs/centralino/pkg/audio"
)

// Compile-time interface check.
var _ Transcriber = (*OpenAI)(nil)

// OpenAI transcribes utterances with the hosted whisper-1 model.
type OpenAI struct {
	client oai.Client
}

// openAIConfig holds optional configuration for [NewOpenAI].
type openAIConfig struct {
	baseURL string
	timeout time.Duration
}

// OpenAIOption is a functional option for [NewOpenAI].
type OpenAIOption func(*openAIConfig)

// WithOpenAIBaseURL overrides the default API base URL. Used in tests.
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(c *openAIConfig) {
		c.baseURL = url
	}
}

// WithOpenAITimeout sets a per-request HTTP timeout.
func WithOpenAITimeout(d time.Duration) OpenAIOption {
	return func(c *openAIConfig) {
		c.timeout = d
	}
}

// NewOpenAI constructs a whisper-1 backed [Transcriber].
func NewOpenAI(apiKey string, opts ...OpenAIOption) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("transcribe: apiKey must not be empty")
	}
	cfg := &openAIConfig{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &OpenAI{client: oai.NewClient(reqOpts...)}, nil
}

// Transcribe implements [Transcriber]. The μ-law buffer is decoded to 16-bit
// PCM, upsampled to 16 kHz, and uploaded as a WAV file.
func (t *OpenAI) Transcribe(ctx context.Context, mulaw []byte) (string, error) {
	if len(mulaw) == 0 {
		return "", nil
	}
	wav := audio.EncodeWAV(audio.Upsample2x(audio.DecodeMuLaw(mulaw)), 16000, 1)

	resp, err := t.client.Audio.Transcriptions.New(ctx, oai.AudioTranscriptionNewParams{
		Model: oai.AudioModelWhisper1,
		File:  oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
	})
	if err != nil {
		return "", fmt.Errorf("transcribe: whisper-1: %w", err)
	}
	return resp.Text, nil
}
