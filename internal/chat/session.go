package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"AIChatbot/internal/backend"
	"AIChatbot/internal/config"
	"AIChatbot/internal/session"
)

var (
	// ErrBusy is returned by Submit while a previous request is in flight
	ErrBusy = errors.New("a generation request is already in flight")
	// ErrInvalidMode is returned for a mode outside text/image/video
	ErrInvalidMode = errors.New("invalid mode")
)

// Generator performs one generation request
type Generator interface {
	Generate(ctx context.Context, req backend.GenerateRequest) (backend.GenerateResponse, error)
}

// Options configures a Session. Zero values fall back to no-op telemetry
// and the default logger.
type Options struct {
	Greeting       string
	CredentialHint string
	Tracer         trace.Tracer
	Meter          metric.Meter
	Logger         *slog.Logger
	Now            func() time.Time
}

// Session is the controller of one chat: it owns the transcript, the input
// buffer, the selected mode and the loading flag.
type Session struct {
	gen    Generator
	hint   string
	tracer trace.Tracer
	logger *slog.Logger
	now    func() time.Time

	submissions metric.Int64Counter
	failures    metric.Int64Counter

	mu        sync.Mutex
	notifyMu  sync.Mutex
	state     session.State
	listeners map[int]func(session.State)
	nextID    int
}

// NewSession creates an idle session in text mode
func NewSession(gen Generator, opts Options) *Session {
	s := &Session{
		gen:       gen,
		hint:      opts.CredentialHint,
		tracer:    opts.Tracer,
		logger:    opts.Logger,
		now:       opts.Now,
		listeners: make(map[int]func(session.State)),
	}
	if s.hint == "" {
		s.hint = config.CredentialHint
	}
	if s.tracer == nil {
		s.tracer = noopTracer
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}

	meter := opts.Meter
	if meter == nil {
		meter = noopMeter
	}
	var err error
	if s.submissions, err = meter.Int64Counter("chat.submissions", metric.WithDescription("Chat messages submitted")); err != nil {
		s.logger.Warn("failed to create counter", "key", "chat.submissions", "error", err)
	}
	if s.failures, err = meter.Int64Counter("chat.failures", metric.WithDescription("Chat submissions that ended in an error message")); err != nil {
		s.logger.Warn("failed to create counter", "key", "chat.failures", "error", err)
	}

	s.state = session.State{
		ID:       uuid.NewString(),
		Messages: []session.Message{},
		Mode:     session.TypeText,
	}
	if opts.Greeting != "" {
		s.state.Messages = append(s.state.Messages, s.newMessage(session.TypeText, opts.Greeting, session.SenderAI))
	}
	return s
}

// ID returns the session identifier
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ID
}

// Snapshot returns a copy of the current state
func (s *Session) Snapshot() session.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() session.State {
	st := s.state
	st.Messages = make([]session.Message, len(s.state.Messages))
	copy(st.Messages, s.state.Messages)
	return st
}

// Subscribe registers fn to receive a snapshot after every state change.
// fn runs on the goroutine that made the change and must not call
// SetMode, SetInput or Submit. The returned func removes it.
func (s *Session) Subscribe(fn func(session.State)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// SetMode changes the selected mode for subsequent submissions
func (s *Session) SetMode(mode session.MessageType) error {
	if _, ok := session.ParseMessageType(string(mode)); !ok {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	s.update(func(st *session.State) { st.Mode = mode })
	return nil
}

// SetInput replaces the input buffer
func (s *Session) SetInput(text string) {
	s.update(func(st *session.State) { st.Input = text })
}

// Submit sends text in the given mode. Blank text is a no-op. Generation
// failures are not returned: they become an AI text message in the
// transcript. Submit blocks until the reply has been appended.
func (s *Session) Submit(ctx context.Context, text string, mode session.MessageType) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if _, ok := session.ParseMessageType(string(mode)); !ok {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	s.mu.Lock()
	if s.state.Loading {
		s.mu.Unlock()
		return ErrBusy
	}
	s.state.Messages = append(s.state.Messages, s.newMessage(mode, text, session.SenderUser))
	s.state.Input = ""
	s.state.Loading = true
	sessionID := s.state.ID
	s.notifyLocked()

	ctx, span := s.tracer.Start(ctx, "chat_submit", trace.WithAttributes(
		attribute.String("chat.session_id", sessionID),
		attribute.String("chat.mode", string(mode)),
	))
	defer span.End()

	if s.submissions != nil {
		s.submissions.Add(ctx, 1, metric.WithAttributes(attribute.String("chat.mode", string(mode))))
	}

	reply, err := s.generate(ctx, text, mode)
	if err != nil {
		span.RecordError(err)
		if s.failures != nil {
			s.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("chat.mode", string(mode))))
		}
		s.logger.Warn("chat submission failed", "session_id", sessionID, "mode", mode, "error", err)
		reply = s.newMessage(session.TypeText, s.errorText(err), session.SenderAI)
	} else {
		s.logger.Info("chat submission completed", "session_id", sessionID, "mode", mode, "type", reply.Type)
	}

	s.mu.Lock()
	s.state.Messages = append(s.state.Messages, reply)
	s.state.Loading = false
	s.notifyLocked()
	return nil
}

// generate runs the network call and validates the declared reply type
func (s *Session) generate(ctx context.Context, text string, mode session.MessageType) (session.Message, error) {
	resp, err := s.gen.Generate(ctx, backend.GenerateRequest{Message: text, Mode: string(mode)})
	if err != nil {
		return session.Message{}, err
	}

	typ, ok := session.ParseMessageType(resp.Type)
	if !ok {
		return session.Message{}, &backend.GenerationError{Message: fmt.Sprintf("unrecognised response type %q", resp.Type)}
	}
	if typ != session.TypeText && strings.TrimSpace(resp.Content) == "" {
		return session.Message{}, &backend.GenerationError{Message: fmt.Sprintf("empty %s URL in response", typ)}
	}
	return s.newMessage(typ, resp.Content, session.SenderAI), nil
}

func (s *Session) errorText(err error) string {
	desc := "failed to get a response"
	var genErr *backend.GenerationError
	if errors.As(err, &genErr) && genErr.Message != "" {
		desc = genErr.Message
	} else if err != nil {
		desc = err.Error()
	}
	return fmt.Sprintf("Error: %s. Check that %s has been added to the project secrets.", desc, s.hint)
}

func (s *Session) newMessage(typ session.MessageType, content string, sender session.Sender) session.Message {
	return session.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Type:      typ,
		Content:   content,
		Sender:    sender,
		Timestamp: s.now(),
	}
}

func (s *Session) update(fn func(*session.State)) {
	s.mu.Lock()
	fn(&s.state)
	s.notifyLocked()
}

// notifyLocked releases the lock and delivers the new state to listeners.
// notifyMu is taken before mu is released so listeners observe states in
// the order they were produced.
func (s *Session) notifyLocked() {
	st := s.snapshotLocked()
	listeners := make([]func(session.State), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	for _, fn := range listeners {
		fn(st)
	}
}
