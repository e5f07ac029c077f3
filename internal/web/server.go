// Package web serves the landing page, the chat page and the live channel
// that binds each open chat page to its own chat.Session.
package web

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"AIChatbot/internal/chat"
	"AIChatbot/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Options configures a Server
type Options struct {
	Generator      chat.Generator
	Relay          http.Handler // Mounted at /api/generate when non-nil
	Greeting       string
	CredentialHint string
	Tracer         trace.Tracer
	Meter          metric.Meter
	Logger         *slog.Logger
}

// Server is the HTTP front end
type Server struct {
	opts     Options
	logger   *slog.Logger
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	active   metric.Int64UpDownCounter
	sessions sync.Map // session id -> *chat.Session
}

// NewServer wires the routes
func NewServer(opts Options) *Server {
	s := &Server{
		opts:   opts,
		logger: opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		mux: http.NewServeMux(),
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}
	if opts.Meter == nil {
		opts.Meter = metricnoop.NewMeterProvider().Meter("web")
		s.opts.Meter = opts.Meter
	}
	if opts.Tracer == nil {
		s.opts.Tracer = tracenoop.NewTracerProvider().Tracer("web")
	}

	var err error
	if s.active, err = opts.Meter.Int64UpDownCounter("chat.sessions.active", metric.WithDescription("Open chat sessions")); err != nil {
		s.logger.Warn("failed to create counter", "key", "chat.sessions.active", "error", err)
	}

	s.mux.HandleFunc("GET /{$}", s.handleLanding)
	s.mux.HandleFunc("GET /chat", s.handleChat)
	s.mux.HandleFunc("GET /chat/ws", s.handleLive)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if opts.Relay != nil {
		s.mux.Handle("/api/generate", opts.Relay)
	}
	return s
}

// Handler returns the root handler with middleware applied
func (s *Server) Handler() http.Handler {
	return chainMiddlewares(s.mux, s.withRecover, s.withLogging)
}

// ActiveSessions returns the number of open chat sessions
func (s *Server) ActiveSessions() int {
	n := 0
	s.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

type landingFeature struct {
	Title       string
	Description string
}

type pageData struct {
	Title    string
	Features []landingFeature
	Modes    []session.MessageType
}

func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	s.render(w, "landing.html", pageData{
		Title: "AI Chatbot",
		Features: []landingFeature{
			{"Smart answers", "GPT-powered text, code and problem solving"},
			{"Image generation", "Create unique images from a text description"},
			{"Video creation", "Generate video clips from your prompt"},
		},
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	s.render(w, "chat.html", pageData{Title: "AI Chatbot", Modes: session.Modes})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) render(w http.ResponseWriter, name string, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error("failed to render template", "template", name, "error", err)
	}
}
