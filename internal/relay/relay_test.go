package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"AIChatbot/internal/backend"
	"AIChatbot/internal/config"
	"AIChatbot/internal/telemetry"
)

func newTestHandler(t *testing.T, cfg Config, audit *AuditLog) *Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHandler(cfg, audit, tracenoop.NewTracerProvider().Tracer("test"), metricnoop.NewMeterProvider().Meter("test"), logger)
}

// fakeOpenAI serves chat completions and image generations
func fakeOpenAI(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		var req backend.OpenAIRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0]["role"] != "system" {
			t.Errorf("messages = %v, want system + user", req.Messages)
		}
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"reply to `+req.Messages[1]["content"]+`"}}],"usage":{"total_tokens":12}}`)
	})
	mux.HandleFunc("/v1/images/generations", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		var req backend.OpenAIImageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Model != "dall-e-3" || req.Size != "1024x1024" || req.N != 1 {
			t.Errorf("image request = %+v", req)
		}
		_, _ = io.WriteString(w, `{"data":[{"url":"https://img.example/cat.png"}]}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, h http.Handler, body string) (*httptest.ResponseRecorder, map[string]string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	out := map[string]string{}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestRelayTextMode(t *testing.T) {
	var calls int32
	upstream := fakeOpenAI(t, &calls)
	h := newTestHandler(t, Config{Backend: config.BackendOpenAI, OpenAIKey: "sk-test", OpenAIBaseURL: upstream.URL}, nil)

	rec, out := post(t, h, `{"message":"hello","mode":"text"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if out["type"] != "text" || out["content"] != "reply to hello" {
		t.Fatalf("response = %v", out)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestRelayImageMode(t *testing.T) {
	var calls int32
	upstream := fakeOpenAI(t, &calls)
	h := newTestHandler(t, Config{Backend: config.BackendOllama, OpenAIKey: "sk-test", OpenAIBaseURL: upstream.URL}, nil)

	rec, out := post(t, h, `{"message":"Draw a cat","mode":"image"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if out["type"] != "image" || out["content"] != "https://img.example/cat.png" {
		t.Fatalf("response = %v", out)
	}
}

func TestRelayVideoModeIsUnsupported(t *testing.T) {
	h := newTestHandler(t, Config{Backend: config.BackendOpenAI, OpenAIKey: "sk-test"}, nil)

	rec, out := post(t, h, `{"message":"a dancing cat","mode":"video"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if out["type"] != "text" || !strings.Contains(out["content"], "not supported") {
		t.Fatalf("response = %v", out)
	}
}

func TestRelayRejectsBadRequests(t *testing.T) {
	h := newTestHandler(t, Config{Backend: config.BackendOpenAI, OpenAIKey: "sk-test"}, nil)

	tests := []struct {
		name   string
		method string
		body   string
		status int
		errMsg string
	}{
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed, "Method not allowed"},
		{"invalid json", http.MethodPost, "{", http.StatusBadRequest, "invalid JSON body"},
		{"empty message", http.MethodPost, `{"message":"  ","mode":"text"}`, http.StatusBadRequest, "Message is required"},
		{"unknown mode", http.MethodPost, `{"message":"hi","mode":"audio"}`, http.StatusBadRequest, "unsupported mode: audio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/generate", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			var out backend.ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if out.Error != tt.errMsg {
				t.Fatalf("error = %q, want %q", out.Error, tt.errMsg)
			}
		})
	}
}

func TestRelayPreflight(t *testing.T) {
	h := newTestHandler(t, Config{Backend: config.BackendOpenAI}, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/generate", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "POST, OPTIONS" {
		t.Fatalf("Access-Control-Allow-Methods = %q", got)
	}
}

func TestRelayMissingAPIKey(t *testing.T) {
	h := newTestHandler(t, Config{Backend: config.BackendOpenAI}, nil)

	tests := []struct {
		name string
		body string
	}{
		{"text", `{"message":"hi","mode":"text"}`},
		{"image", `{"message":"a cat","mode":"image"}`},
		{"video", `{"message":"a clip","mode":"video"}`},
		{"empty message", `{"message":"","mode":"text"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, out := post(t, h, tt.body)
			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d", rec.Code)
			}
			if out["error"] != "OpenAI API key not configured" {
				t.Fatalf("error = %q", out["error"])
			}
		})
	}
}

func TestRelayVideoRequiresOpenAIKey(t *testing.T) {
	h := newTestHandler(t, Config{Backend: config.BackendOllama}, nil)

	rec, out := post(t, h, `{"message":"a clip","mode":"video"}`)
	if rec.Code != http.StatusInternalServerError || out["error"] != "OpenAI API key not configured" {
		t.Fatalf("status = %d, error = %q", rec.Code, out["error"])
	}
}

func TestRelayRejectsOversizedBody(t *testing.T) {
	h := newTestHandler(t, Config{Backend: config.BackendOpenAI, OpenAIKey: "sk-test"}, nil)

	body := `{"message":"` + strings.Repeat("a", maxBodyBytes) + `","mode":"text"}`
	rec, out := post(t, h, body)
	if rec.Code != http.StatusBadRequest || out["error"] != "invalid JSON body" {
		t.Fatalf("status = %d, error = %q", rec.Code, out["error"])
	}
}

func TestRelayPassesProviderStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"rate limited"}}`)
	}))
	defer upstream.Close()
	h := newTestHandler(t, Config{Backend: config.BackendGrok, GrokKey: "xai", GrokBaseURL: upstream.URL}, nil)

	rec, out := post(t, h, `{"message":"hi","mode":"text"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(out["error"], "rate limited") {
		t.Fatalf("error = %q", out["error"])
	}
}

func TestRelayAnthropicBackend(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" || r.Header.Get("x-api-key") != "ant" {
			t.Errorf("path = %s, key = %q", r.URL.Path, r.Header.Get("x-api-key"))
		}
		var req backend.AnthropicRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.System == "" {
			t.Errorf("system prompt missing")
		}
		_, _ = io.WriteString(w, `{"content":[{"type":"text","text":"bonjour"}],"stop_reason":"end_turn"}`)
	}))
	defer upstream.Close()
	h := newTestHandler(t, Config{Backend: config.BackendAnthropic, AnthropicKey: "ant", AnthropicBaseURL: upstream.URL}, nil)

	rec, out := post(t, h, `{"message":"hello","mode":"text"}`)
	if rec.Code != http.StatusOK || out["content"] != "bonjour" {
		t.Fatalf("status = %d, response = %v", rec.Code, out)
	}
}

func TestRelayOllamaBackendNeedsNoKey(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req backend.OllamaRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "llama3:latest" || req.Stream {
			t.Errorf("request = %+v", req)
		}
		_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":"local reply"},"done":true}`)
	}))
	defer upstream.Close()
	h := newTestHandler(t, Config{Backend: config.BackendOllama, OllamaModel: "llama3:latest", OllamaBaseURL: upstream.URL}, nil)

	rec, out := post(t, h, `{"message":"hello"}`)
	if rec.Code != http.StatusOK || out["content"] != "local reply" || out["type"] != "text" {
		t.Fatalf("status = %d, response = %v", rec.Code, out)
	}
}

func TestRelayCachesAndAudits(t *testing.T) {
	var calls int32
	upstream := fakeOpenAI(t, &calls)

	db, err := telemetry.InitDB(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("InitDB() error = %v", err)
	}
	defer db.Close()
	audit := NewAuditLog(db)

	h := newTestHandler(t, Config{
		Backend:       config.BackendOpenAI,
		OpenAIKey:     "sk-test",
		OpenAIBaseURL: upstream.URL,
		CacheTTL:      time.Minute,
	}, audit)

	for i := 0; i < 2; i++ {
		rec, out := post(t, h, `{"message":"same prompt","mode":"text"}`)
		if rec.Code != http.StatusOK || out["content"] != "reply to same prompt" {
			t.Fatalf("call %d: status = %d, response = %v", i, rec.Code, out)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("upstream calls = %d, want 1", got)
	}

	entries, err := audit.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if !entries[0].Cached || entries[1].Cached {
		t.Fatalf("cached flags = %v, %v; want newest cached", entries[0].Cached, entries[1].Cached)
	}
	if entries[0].Provider != config.BackendOpenAI || entries[0].Status != http.StatusOK {
		t.Fatalf("entry = %+v", entries[0])
	}
}

func TestRelayServesEndpointClient(t *testing.T) {
	var calls int32
	upstream := fakeOpenAI(t, &calls)
	h := newTestHandler(t, Config{Backend: config.BackendOpenAI, OpenAIKey: "sk-test", OpenAIBaseURL: upstream.URL}, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Post(srv.URL, "application/json", bytes.NewBufferString(`{"message":"Draw a cat","mode":"image"}`))
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	defer resp.Body.Close()
	var out backend.GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Type != "image" || out.Model != "dall-e-3" {
		t.Fatalf("response = %+v", out)
	}
}
