package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ErrGenerationFailed is the single error kind of a generation request.
// Transport failures and explicit endpoint errors both match it.
var ErrGenerationFailed = errors.New("generation request failed")

// GenerateRequest is the body posted to the generation endpoint
type GenerateRequest struct {
	Message string `json:"message"`
	Mode    string `json:"mode"`
}

// GenerateResponse is the success body of the generation endpoint
type GenerateResponse struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
}

// ErrorResponse is the body of a non-ok generation endpoint response
type ErrorResponse struct {
	Error string `json:"error"`
}

// GenerationError describes a failed generation request. StatusCode is zero
// when no response was received.
type GenerationError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *GenerationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %s", ErrGenerationFailed, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", ErrGenerationFailed, e.Message)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func (e *GenerationError) Is(target error) bool { return target == ErrGenerationFailed }

// fallbackErrorMessage is shown when a non-ok response carries no error text
const fallbackErrorMessage = "the generation endpoint did not return a response"

// Client posts generation requests to a single fixed endpoint
type Client struct {
	endpoint   string
	httpClient *http.Client
	tracer     trace.Tracer
	duration   metric.Float64Histogram
	logger     *slog.Logger
}

// NewClient creates a client for endpoint. A zero timeout leaves requests
// unbounded.
func NewClient(endpoint string, timeout time.Duration, tracer trace.Tracer, meter metric.Meter, logger *slog.Logger) *Client {
	histogram, err := meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err != nil {
		logger.Warn("failed to create histogram", "error", err)
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		tracer:     tracer,
		duration:   histogram,
		logger:     logger,
	}
}

// Endpoint returns the URL requests are posted to
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Generate sends one request and returns the decoded success body. Every
// error it returns matches ErrGenerationFailed.
func (c *Client) Generate(ctx context.Context, genReq GenerateRequest) (GenerateResponse, error) {
	ctx, span := c.tracer.Start(ctx, "generation_request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("chat.mode", genReq.Mode)),
	)
	defer span.End()

	start := time.Now()
	resp, err := c.do(ctx, genReq)
	if c.duration != nil {
		c.duration.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("chat.mode", genReq.Mode)))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("generation request failed", "mode", genReq.Mode, "error", err)
		return GenerateResponse{}, err
	}

	span.SetAttributes(attribute.String("chat.response_type", resp.Type))
	c.logger.Info("generation request completed", "mode", genReq.Mode, "type", resp.Type, "duration_ms", time.Since(start).Milliseconds())
	return resp, nil
}

func (c *Client) do(ctx context.Context, genReq GenerateRequest) (GenerateResponse, error) {
	jsonData, err := json.Marshal(genReq)
	if err != nil {
		return GenerateResponse{}, &GenerationError{Message: "failed to marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return GenerateResponse{}, &GenerationError{Message: "failed to create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return GenerateResponse{}, &GenerationError{Message: "failed to reach the generation endpoint", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return GenerateResponse{}, &GenerationError{StatusCode: resp.StatusCode, Message: "failed to read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := fallbackErrorMessage
		var errResp ErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			msg = errResp.Error
		}
		return GenerateResponse{}, &GenerationError{StatusCode: resp.StatusCode, Message: msg}
	}

	var genResp GenerateResponse
	if err := json.Unmarshal(body, &genResp); err != nil {
		return GenerateResponse{}, &GenerationError{StatusCode: resp.StatusCode, Message: "failed to decode response", Err: err}
	}
	return genResp, nil
}
