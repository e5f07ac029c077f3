// Package relay implements the generation endpoint the chat view talks to.
// It forwards text prompts to a chat completion provider and image prompts
// to the OpenAI images API.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"AIChatbot/internal/backend"
	"AIChatbot/internal/cache"
	"AIChatbot/internal/config"
	"AIChatbot/internal/session"
)

const (
	videoUnsupported = "Video generation is not supported yet: OpenAI does not offer a public API for Sora."
	maxBodyBytes     = 1 << 20
)

// Config holds relay settings. Base URLs default to the public provider
// endpoints.
type Config struct {
	Backend      string
	OllamaModel  string
	SystemPrompt string
	CacheTTL     time.Duration

	OpenAIKey    string
	AnthropicKey string
	GrokKey      string

	OpenAIBaseURL    string
	AnthropicBaseURL string
	GrokBaseURL      string
	OllamaBaseURL    string

	// Timeout bounds each provider call
	Timeout time.Duration
}

// FromAppConfig derives relay settings from the application config
func FromAppConfig(c config.Config) Config {
	return Config{
		Backend:      c.Backend,
		OllamaModel:  c.OllamaModel,
		SystemPrompt: c.SystemPrompt,
		CacheTTL:     c.CacheTTL,
		OpenAIKey:    c.OpenAIKey,
		AnthropicKey: c.AnthropicKey,
		GrokKey:      c.GrokKey,
	}
}

// Handler serves POST /api/generate
type Handler struct {
	cfg        Config
	httpClient *http.Client
	cache      *cache.Store
	audit      *AuditLog
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter
	duration   metric.Float64Histogram
	cacheHits  metric.Int64Counter
}

// NewHandler creates a relay handler. audit may be nil.
func NewHandler(cfg Config, audit *AuditLog, tracer trace.Tracer, meter metric.Meter, logger *slog.Logger) *Handler {
	if cfg.OpenAIBaseURL == "" {
		cfg.OpenAIBaseURL = "https://api.openai.com"
	}
	if cfg.AnthropicBaseURL == "" {
		cfg.AnthropicBaseURL = "https://api.anthropic.com"
	}
	if cfg.GrokBaseURL == "" {
		cfg.GrokBaseURL = "https://api.grok.x.ai"
	}
	if cfg.OllamaBaseURL == "" {
		cfg.OllamaBaseURL = "http://localhost:11434"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = config.DefaultPrompt
	}

	h := &Handler{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cache.New(cfg.CacheTTL),
		audit:      audit,
		logger:     logger,
		tracer:     tracer,
		meter:      meter,
	}

	var err error
	if h.duration, err = meter.Float64Histogram("relay.provider.duration", metric.WithDescription("Provider request duration in milliseconds")); err != nil {
		logger.Warn("failed to create histogram", "error", err)
	}
	if h.cacheHits, err = meter.Int64Counter("relay.cache.hits", metric.WithDescription("Generation results served from cache")); err != nil {
		logger.Warn("failed to create counter", "key", "relay.cache.hits", "error", err)
	}
	return h
}

// PurgeCache drops expired cache entries until ctx is done
func (h *Handler) PurgeCache(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := h.cache.Purge(); n > 0 {
				h.logger.Debug("purged cache entries", "count", n)
			}
		}
	}
}

// result is the outcome of one relay call
type result struct {
	status int
	resp   backend.GenerateResponse
	err    string
	cached bool
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		setCORS(w.Header())
		w.Header().Set("Access-Control-Max-Age", "86400")
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		writeJSON(w, http.StatusMethodNotAllowed, backend.ErrorResponse{Error: "Method not allowed"})
		return
	}

	var req backend.GenerateRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, backend.ErrorResponse{Error: "invalid JSON body"})
		return
	}
	if req.Mode == "" {
		req.Mode = string(session.TypeText)
	}

	start := time.Now()
	res := h.generate(r.Context(), req)

	if h.audit != nil {
		if err := h.audit.Record(r.Context(), Entry{
			Mode:     req.Mode,
			Provider: h.provider(req.Mode),
			Status:   res.status,
			Cached:   res.cached,
			Duration: time.Since(start),
			Error:    res.err,
		}); err != nil {
			h.logger.Warn("failed to record audit entry", "error", err)
		}
	}

	if res.err != "" {
		writeJSON(w, res.status, backend.ErrorResponse{Error: res.err})
		return
	}
	writeJSON(w, res.status, res.resp)
}

func (h *Handler) generate(ctx context.Context, req backend.GenerateRequest) result {
	ctx, span := h.tracer.Start(ctx, "relay_generate", trace.WithAttributes(
		attribute.String("chat.mode", req.Mode),
		attribute.String("relay.backend", h.cfg.Backend),
	))
	defer span.End()

	provider := h.provider(req.Mode)
	credential := provider
	if session.MessageType(req.Mode) == session.TypeVideo {
		credential = config.BackendOpenAI
	}
	if key, name := h.apiKey(credential); name != "" && key == "" {
		h.logger.Error("provider API key not configured", "provider", credential)
		return result{status: http.StatusInternalServerError, err: name + " API key not configured"}
	}

	mode, ok := session.ParseMessageType(req.Mode)
	if !ok {
		return result{status: http.StatusBadRequest, err: fmt.Sprintf("unsupported mode: %s", req.Mode)}
	}
	if strings.TrimSpace(req.Message) == "" {
		return result{status: http.StatusBadRequest, err: "Message is required"}
	}

	if mode == session.TypeVideo {
		return result{status: http.StatusOK, resp: backend.GenerateResponse{Type: string(session.TypeText), Content: videoUnsupported}}
	}

	cacheKey := cache.GenerateCacheKey(req.Mode, req.Message)
	if cached, ok := h.cache.Get(cacheKey); ok {
		if h.cacheHits != nil {
			h.cacheHits.Add(ctx, 1)
		}
		h.logger.Info("cache hit", "key", cacheKey[:16], "mode", req.Mode)
		return result{status: http.StatusOK, cached: true, resp: backend.GenerateResponse{Type: cached.Type, Content: cached.Content}}
	}

	var content string
	var err error
	model := ""
	switch mode {
	case session.TypeText:
		content, err = h.completeText(ctx, req.Message)
		model = h.textModel()
	case session.TypeImage:
		content, err = h.generateImage(ctx, req.Message)
		model = openAIImageModel
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.logger.Error("provider call failed", "provider", provider, "mode", req.Mode, "error", err)

		var perr *providerError
		if errors.As(err, &perr) {
			return result{status: perr.status, err: perr.Error()}
		}
		return result{status: http.StatusInternalServerError, err: fmt.Sprintf("Error: %v", err)}
	}

	h.cache.Put(cacheKey, string(mode), content)
	h.logger.Info("generation relayed", "provider", provider, "mode", req.Mode)
	return result{status: http.StatusOK, resp: backend.GenerateResponse{Type: string(mode), Content: content, Model: model}}
}

// provider names the upstream that serves mode
func (h *Handler) provider(mode string) string {
	switch session.MessageType(mode) {
	case session.TypeImage:
		return config.BackendOpenAI
	case session.TypeVideo:
		return "none"
	}
	return h.cfg.Backend
}

func (h *Handler) textModel() string {
	switch h.cfg.Backend {
	case config.BackendAnthropic:
		return anthropicModel
	case config.BackendGrok:
		return grokModel
	case config.BackendOllama:
		return h.cfg.OllamaModel
	}
	return openAITextModel
}

func setCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	setCORS(w.Header())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
