package transcribe_test

import (
	"context"
	"encoding/binary"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/trattoria-labs/centralino/internal/transcribe"
)

func TestWhisperServer_Transcribe(t *testing.T) {
	t.Parallel()

	var gotWAV []byte
	var gotLanguage string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" {
			t.Errorf("path = %s, want /inference", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		gotLanguage = r.FormValue("language")
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer f.Close()
		gotWAV, _ = io.ReadAll(f)
		w.Write([]byte(`{"text":" Your order will be ready at six thirty."}`))
	}))
	defer srv.Close()

	ts, err := transcribe.NewWhisperServer(srv.URL)
	if err != nil {
		t.Fatalf("NewWhisperServer: %v", err)
	}

	// 0xFF is μ-law silence; 40 samples of it make a tiny valid utterance.
	mulaw := make([]byte, 40)
	for i := range mulaw {
		mulaw[i] = 0xFF
	}
	text, err := ts.Transcribe(context.Background(), mulaw)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != " Your order will be ready at six thirty." {
		t.Errorf("text = %q", text)
	}
	if gotLanguage != "en" {
		t.Errorf("language = %q, want en", gotLanguage)
	}

	if len(gotWAV) < 44 || string(gotWAV[0:4]) != "RIFF" {
		t.Fatalf("uploaded file is not a WAV (%d bytes)", len(gotWAV))
	}
	if rate := binary.LittleEndian.Uint32(gotWAV[24:28]); rate != 16000 {
		t.Errorf("sample rate = %d, want 16000", rate)
	}
	// 40 μ-law samples decode to 40 PCM16 samples, upsampled to 80.
	if size := binary.LittleEndian.Uint32(gotWAV[40:44]); size != 160 {
		t.Errorf("data size = %d, want 160", size)
	}
}

func TestWhisperServer_EmptyBufferSkipsRequest(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("server should not be called for empty audio")
	}))
	defer srv.Close()

	ts, err := transcribe.NewWhisperServer(srv.URL)
	if err != nil {
		t.Fatalf("NewWhisperServer: %v", err)
	}
	text, err := ts.Transcribe(context.Background(), nil)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "" {
		t.Errorf("text = %q, want empty", text)
	}
}

func TestWhisperServer_ServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	ts, err := transcribe.NewWhisperServer(srv.URL)
	if err != nil {
		t.Fatalf("NewWhisperServer: %v", err)
	}
	if _, err := ts.Transcribe(context.Background(), []byte{0xFF, 0xFF}); err == nil {
		t.Fatal("expected error for HTTP 500")
	}
}
