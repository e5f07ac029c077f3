package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AICHAT_ADDR", "")
	t.Setenv("AICHAT_BACKEND", "")
	t.Setenv("AICHAT_REQUEST_TIMEOUT_SECONDS", "")
	t.Setenv("AICHAT_RELAY", "")

	cfg := Load()
	if cfg.Addr != DefaultAddr {
		t.Fatalf("cfg.Addr = %q, want %q", cfg.Addr, DefaultAddr)
	}
	if cfg.Backend != BackendOpenAI {
		t.Fatalf("cfg.Backend = %q, want %q", cfg.Backend, BackendOpenAI)
	}
	if cfg.RequestTimeout != 0 {
		t.Fatalf("cfg.RequestTimeout = %v, want 0", cfg.RequestTimeout)
	}
	if !cfg.RelayEnabled {
		t.Fatalf("cfg.RelayEnabled = false, want true")
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("AICHAT_BACKEND", BackendOllama)
	t.Setenv("AICHAT_REQUEST_TIMEOUT_SECONDS", "15")
	t.Setenv("AICHAT_RELAY", "false")
	t.Setenv("AICHAT_CACHE_TTL_SECONDS", "not-a-number")

	cfg := Load()
	if cfg.Backend != BackendOllama {
		t.Fatalf("cfg.Backend = %q, want %q", cfg.Backend, BackendOllama)
	}
	if cfg.RequestTimeout != 15*time.Second {
		t.Fatalf("cfg.RequestTimeout = %v, want 15s", cfg.RequestTimeout)
	}
	if cfg.RelayEnabled {
		t.Fatalf("cfg.RelayEnabled = true, want false")
	}
	if cfg.CacheTTL != 600*time.Second {
		t.Fatalf("cfg.CacheTTL = %v, want fallback 600s", cfg.CacheTTL)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"ok", Config{Backend: BackendOpenAI, Endpoint: DefaultEndpoint}, false},
		{"unknown backend", Config{Backend: "gemini", Endpoint: DefaultEndpoint}, true},
		{"bad scheme", Config{Backend: BackendGrok, Endpoint: "ftp://example.com"}, true},
		{"negative timeout", Config{Backend: BackendGrok, Endpoint: DefaultEndpoint, RequestTimeout: -time.Second}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLocalEndpoint(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{":8080", DefaultEndpoint},
		{":9090", "http://localhost:9090/api/generate"},
		{"0.0.0.0:3000", "http://localhost:3000/api/generate"},
		{"127.0.0.1:4000", "http://127.0.0.1:4000/api/generate"},
		{"[::]:5000", "http://localhost:5000/api/generate"},
		{"no-port", DefaultEndpoint},
	}
	for _, tt := range tests {
		if got := LocalEndpoint(tt.addr); got != tt.want {
			t.Errorf("LocalEndpoint(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}

func TestResolveEndpoint(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"relay follows addr", Config{Addr: ":9090", RelayEnabled: true}, "http://localhost:9090/api/generate"},
		{"explicit endpoint kept", Config{Addr: ":9090", RelayEnabled: true, Endpoint: "https://ai.example/api"}, "https://ai.example/api"},
		{"relay off", Config{Addr: ":9090"}, DefaultEndpoint},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			cfg.ResolveEndpoint()
			if cfg.Endpoint != tt.want {
				t.Fatalf("Endpoint = %q, want %q", cfg.Endpoint, tt.want)
			}
		})
	}
}
