package whisper_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/murmur/pkg/provider/stt/whisper"
)

// chunkFile writes a small dummy audio file; the mock server never decodes it.
func chunkFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chunk-000.wav")
	if err := os.WriteFile(path, []byte("RIFF....WAVE"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestTranscribe_VerboseJSON(t *testing.T) {
	var gotFields map[string]string
	var gotFile string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotFields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			gotFields[k] = v[0]
		}
		f, hdr, err := r.FormFile("file")
		if err == nil {
			b, _ := io.ReadAll(f)
			gotFile = hdr.Filename + ":" + string(b)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"text":     " hello there. general kenobi ",
			"language": "en",
			"segments": []map[string]any{
				{"start": 0.0, "end": 1.5, "text": " hello there."},
				{"start": 1.5, "end": 3.25, "text": " general kenobi"},
				{"start": 3.25, "end": 3.5, "text": "  "},
			},
		})
	}))
	defer srv.Close()

	p, err := whisper.New(srv.URL+"/", whisper.WithModel("base.en"), whisper.WithLanguage("de"))
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.Transcribe(context.Background(), chunkFile(t))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if gotFields["response_format"] != "verbose_json" || gotFields["language"] != "de" || gotFields["model"] != "base.en" {
		t.Errorf("form fields = %v", gotFields)
	}
	if !strings.HasPrefix(gotFile, "chunk-000.wav:RIFF") {
		t.Errorf("uploaded file = %q", gotFile)
	}
	if res.Text != "hello there. general kenobi" {
		t.Errorf("Text = %q", res.Text)
	}
	if len(res.Segments) != 2 {
		t.Fatalf("got %d segments, want 2 (blank dropped)", len(res.Segments))
	}
	if res.Segments[1].Start != 1500*time.Millisecond || res.Segments[1].End != 3250*time.Millisecond {
		t.Errorf("segment 1 = %+v", res.Segments[1])
	}
}

func TestTranscribe_PlainTextFallsBackToSingleSegment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "just text"})
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	res, err := p.Transcribe(context.Background(), chunkFile(t))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(res.Segments) != 1 || res.Segments[0].Text != "just text" {
		t.Fatalf("Segments = %+v", res.Segments)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	_, err := p.Transcribe(context.Background(), chunkFile(t))
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Fatalf("err = %v, want HTTP 500 error", err)
	}
}

func TestTranscribe_MissingFile(t *testing.T) {
	p, _ := whisper.New("http://127.0.0.1:1")
	if _, err := p.Transcribe(context.Background(), "/nonexistent/chunk.wav"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestTranscribe_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p, _ := whisper.New(srv.URL)
	if _, err := p.Transcribe(ctx, chunkFile(t)); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

// testModelPath returns the path to a whisper model for integration tests.
// It reads from the WHISPER_MODEL_PATH environment variable. If unset the
// test is skipped.
func testModelPath(t *testing.T) string {
	t.Helper()
	p := os.Getenv("WHISPER_MODEL_PATH")
	if p == "" {
		t.Skip("WHISPER_MODEL_PATH not set; skipping native whisper test")
	}
	return p
}

func TestNewNative_EmptyPath_ReturnsError(t *testing.T) {
	if _, err := whisper.NewNative(""); err == nil {
		t.Fatal("expected error for empty model path, got nil")
	}
}

func TestNewNative_InvalidPath_ReturnsError(t *testing.T) {
	if _, err := whisper.NewNative("/nonexistent/path/to/model.bin"); err == nil {
		t.Fatal("expected error for invalid model path, got nil")
	}
}

func TestNative_Close_Idempotent(t *testing.T) {
	p, err := whisper.NewNative(testModelPath(t), whisper.WithNativeConcurrency(2))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
