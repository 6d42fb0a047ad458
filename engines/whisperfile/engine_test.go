package whisperfile

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	transcribe "github.com/oberonlabs/transcribe-go"
)

// fakeBinary writes an executable shell script standing in for the
// whisperfile binary.
func fakeBinary(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "whisperfile")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}
	return path
}

func fakeModel(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ggml-base.bin")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write fake model: %v", err)
	}
	return path
}

// hostPort splits an httptest server URL into Host/Port model params so the
// engine's health check and inference requests land on the test server.
func hostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL %q: %v", rawURL, err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse port from %q: %v", rawURL, err)
	}
	return u.Hostname(), port
}

// closedPort returns a port nothing is listening on.
func closedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func TestLoadModelMissingModelFile(t *testing.T) {
	e := NewEngine(fakeBinary(t, "sleep 30"))
	err := e.LoadModel(filepath.Join(t.TempDir(), "absent.bin"))
	var missing *transcribe.ModelFilesMissingError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want *ModelFilesMissingError", err)
	}
	if e.Loaded() {
		t.Error("engine reports loaded after failed load")
	}
}

func TestLoadModelMissingBinary(t *testing.T) {
	e := NewEngine(filepath.Join(t.TempDir(), "no-such-binary"))
	params := DefaultModelParams()
	params.StartupTimeout = 500 * time.Millisecond
	err := e.LoadModelWithParams(fakeModel(t), params)
	if !errors.Is(err, transcribe.ErrServerStartTimeout) {
		t.Errorf("err = %v, want ErrServerStartTimeout", err)
	}
}

func TestLoadModelHealthCheckTimeout(t *testing.T) {
	e := NewEngine(fakeBinary(t, "sleep 30"))
	params := ModelParams{
		Host:           "127.0.0.1",
		Port:           closedPort(t),
		StartupTimeout: 400 * time.Millisecond,
	}
	start := time.Now()
	err := e.LoadModelWithParams(fakeModel(t), params)
	if !errors.Is(err, transcribe.ErrServerStartTimeout) {
		t.Fatalf("err = %v, want ErrServerStartTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 400*time.Millisecond {
		t.Errorf("gave up after %v, before the configured timeout", elapsed)
	}
	if e.Loaded() {
		t.Error("engine reports loaded after startup timeout")
	}
}

func TestTranscribeExchange(t *testing.T) {
	var gotLanguage, gotFormat string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.URL.Path != "/inference" {
			t.Errorf("POST path = %q, want /inference", r.URL.Path)
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("parse multipart form: %v", err)
		}
		gotLanguage = r.FormValue("language")
		gotFormat = r.FormValue("response_format")
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			data, _ := io.ReadAll(f)
			f.Close()
			if len(data) == 0 {
				t.Error("empty WAV upload")
			}
		}
		json.NewEncoder(w).Encode(map[string]any{
			"text": "  hello world  ",
			"segments": []map[string]any{
				{"text": " hello ", "start": 0.0, "end": 1.25},
				{"text": " world ", "start": 1.25, "end": 2.5},
			},
		})
	}))
	defer ts.Close()

	host, port := hostPort(t, ts.URL)
	e := NewEngine(fakeBinary(t, "sleep 30"))
	params := ModelParams{Host: host, Port: port, StartupTimeout: 5 * time.Second}
	if err := e.LoadModelWithParams(fakeModel(t), params); err != nil {
		t.Fatalf("LoadModelWithParams: %v", err)
	}
	defer e.UnloadModel()

	result, err := e.TranscribeWithParams(make([]float32, 16000), InferenceParams{Language: "en"})
	if err != nil {
		t.Fatalf("TranscribeWithParams: %v", err)
	}
	if result.Text != "hello world" {
		t.Errorf("Text = %q, want %q", result.Text, "hello world")
	}
	if len(result.Segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(result.Segments))
	}
	if result.Segments[0].Text != "hello" || result.Segments[1].Text != "world" {
		t.Errorf("segments = %+v", result.Segments)
	}
	if result.Segments[1].Start != 1250*time.Millisecond {
		t.Errorf("segment start = %v, want 1.25s", result.Segments[1].Start)
	}
	if gotLanguage != "en" {
		t.Errorf("language field = %q, want en", gotLanguage)
	}
	if gotFormat != "verbose_json" {
		t.Errorf("response_format field = %q, want verbose_json", gotFormat)
	}
}

func TestTranscribeServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Error(w, "model exploded", http.StatusInternalServerError)
	}))
	defer ts.Close()

	host, port := hostPort(t, ts.URL)
	e := NewEngine(fakeBinary(t, "sleep 30"))
	params := ModelParams{Host: host, Port: port, StartupTimeout: 5 * time.Second}
	if err := e.LoadModelWithParams(fakeModel(t), params); err != nil {
		t.Fatalf("LoadModelWithParams: %v", err)
	}
	defer e.UnloadModel()

	_, err := e.Transcribe(make([]float32, 16000))
	var inferr *transcribe.InferenceError
	if !errors.As(err, &inferr) {
		t.Errorf("err = %v, want *InferenceError", err)
	}
}

func TestTranscribeServerCrashed(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	host, port := hostPort(t, ts.URL)
	// The fake server process dies shortly after the health check passes.
	e := NewEngine(fakeBinary(t, "sleep 0.2"))
	params := ModelParams{Host: host, Port: port, StartupTimeout: 5 * time.Second}
	if err := e.LoadModelWithParams(fakeModel(t), params); err != nil {
		t.Fatalf("LoadModelWithParams: %v", err)
	}
	defer e.UnloadModel()

	<-e.srv.exited

	_, err := e.Transcribe(make([]float32, 16000))
	if !errors.Is(err, transcribe.ErrServerCrashed) {
		t.Errorf("err = %v, want ErrServerCrashed", err)
	}
}

func TestLoadedFalseAfterCrash(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	host, port := hostPort(t, ts.URL)
	e := NewEngine(fakeBinary(t, "sleep 0.2"))
	params := ModelParams{Host: host, Port: port, StartupTimeout: 5 * time.Second}
	if err := e.LoadModelWithParams(fakeModel(t), params); err != nil {
		t.Fatalf("LoadModelWithParams: %v", err)
	}
	defer e.UnloadModel()

	if !e.Loaded() {
		t.Fatal("engine reports not loaded right after a successful load")
	}

	<-e.srv.exited

	if e.Loaded() {
		t.Error("engine reports loaded after the server process exited")
	}
	// The crash still surfaces as ErrServerCrashed, not ErrNotLoaded.
	if _, err := e.Transcribe(make([]float32, 16000)); !errors.Is(err, transcribe.ErrServerCrashed) {
		t.Errorf("err = %v, want ErrServerCrashed", err)
	}
}

func TestTranscribeNotLoaded(t *testing.T) {
	e := NewEngine("/usr/local/bin/whisperfile")
	if _, err := e.Transcribe(make([]float32, 16000)); !errors.Is(err, transcribe.ErrNotLoaded) {
		t.Errorf("Transcribe err = %v, want ErrNotLoaded", err)
	}
	if _, err := e.TranscribeFile("audio.wav"); !errors.Is(err, transcribe.ErrNotLoaded) {
		t.Errorf("TranscribeFile err = %v, want ErrNotLoaded", err)
	}
}

func TestUnloadModelIdempotent(t *testing.T) {
	e := NewEngine("/usr/local/bin/whisperfile")
	e.UnloadModel()
	e.UnloadModel()
	if e.Loaded() {
		t.Error("fresh engine reports loaded")
	}
}

func TestServerStateString(t *testing.T) {
	tests := []struct {
		state serverState
		want  string
	}{
		{stateNotStarted, "not-started"},
		{stateStarting, "starting"},
		{stateReady, "ready"},
		{stateBusy, "busy"},
		{stateStopped, "stopped"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}
