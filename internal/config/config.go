package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BackendOllama    = "ollama"
	BackendAnthropic = "anthropic"
	BackendGrok      = "grok"
	BackendOpenAI    = "openai"
)

const (
	DefaultAddr     = ":8080"
	DefaultEndpoint = "http://localhost:8080/api/generate"
	DefaultGreeting = "Hi! I'm an AI assistant. I can generate text, images and video. How can I help?"
	DefaultPrompt   = "You are a helpful AI assistant. Answer briefly and to the point."

	// CredentialHint is the secret the generation endpoint needs; it is
	// named in every error shown to the user.
	CredentialHint = "OPENAI_API_KEY"
)

// Config holds application configuration
type Config struct {
	Addr           string
	Endpoint       string        // Generation endpoint the chat view posts to; see ResolveEndpoint
	RequestTimeout time.Duration // Zero means no timeout
	Debug          bool
	LogDir         string
	Greeting       string // First AI message of every session; empty disables it

	// Built-in generation relay
	RelayEnabled bool
	Backend      string
	OllamaModel  string // Model specification in format "model:version" (e.g., "llama3:latest")
	SystemPrompt string
	CacheTTL     time.Duration
	AuditDB      string // SQLite path for the relay audit log; empty disables it

	OpenAIKey    string
	AnthropicKey string
	GrokKey      string
}

// Load builds a Config from the environment. Call godotenv.Load first to
// pick up a .env file.
func Load() Config {
	return Config{
		Addr:           getenv("AICHAT_ADDR", DefaultAddr),
		Endpoint:       os.Getenv("AICHAT_ENDPOINT"),
		RequestTimeout: time.Duration(getenvInt("AICHAT_REQUEST_TIMEOUT_SECONDS", 0)) * time.Second,
		Debug:          getenvBool("AICHAT_DEBUG", false),
		LogDir:         getenv("AICHAT_LOG_DIR", "logs"),
		Greeting:       getenv("AICHAT_GREETING", DefaultGreeting),
		RelayEnabled:   getenvBool("AICHAT_RELAY", true),
		Backend:        getenv("AICHAT_BACKEND", BackendOpenAI),
		OllamaModel:    getenv("OLLAMA_MODEL", "llama3:latest"),
		SystemPrompt:   getenv("AICHAT_SYSTEM_PROMPT", DefaultPrompt),
		CacheTTL:       time.Duration(getenvInt("AICHAT_CACHE_TTL_SECONDS", 600)) * time.Second,
		AuditDB:        os.Getenv("AICHAT_AUDIT_DB"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		AnthropicKey:   os.Getenv("ANTHROPIC_API_KEY"),
		GrokKey:        os.Getenv("GROK_API_KEY"),
	}
}

// ResolveEndpoint fills in Endpoint when neither flag nor environment set
// it. With the relay on, the chat view posts back to this server's own
// listen address.
func (c *Config) ResolveEndpoint() {
	if c.Endpoint != "" {
		return
	}
	if !c.RelayEnabled {
		c.Endpoint = DefaultEndpoint
		return
	}
	c.Endpoint = LocalEndpoint(c.Addr)
}

// LocalEndpoint returns the relay URL served on listen address addr
func LocalEndpoint(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return DefaultEndpoint
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port) + "/api/generate"
}

// Validate checks the fields flags and environment can get wrong
func (c Config) Validate() error {
	if !ValidBackend(c.Backend) {
		return fmt.Errorf("unknown backend: %s", c.Backend)
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid endpoint %q: scheme must be http or https", c.Endpoint)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request timeout must not be negative")
	}
	return nil
}

// ValidBackend reports whether name is a supported relay backend
func ValidBackend(name string) bool {
	switch name {
	case BackendOllama, BackendAnthropic, BackendGrok, BackendOpenAI:
		return true
	}
	return false
}

func getenv(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func getenvInt(name string, fallback int) int {
	value := os.Getenv(name)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(name string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
