package main

import (
	"log/slog"
	"testing"

	"github.com/ashureev/ragstream/internal/config"
)

func TestOriginPatterns(t *testing.T) {
	tests := []struct {
		name        string
		frontendURL string
		want        []string
	}{
		{"development", "http://localhost:3000", []string{"*"}},
		{"frontend host", "https://app.example.org", []string{"app.example.org"}},
		{"frontend host with port", "https://app.example.org:8443/ui", []string{"app.example.org:8443"}},
		{"missing scheme", "app.example.org", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := originPatterns(&config.Config{FrontendURL: tt.frontendURL})

			if got == nil {
				t.Fatal("Expected a non-nil pattern list")
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Expected %v, got %v", tt.want, got)
				}
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	if got := parseLevel("debug"); got != slog.LevelDebug {
		t.Errorf("Expected debug, got %v", got)
	}
	if got := parseLevel(" WARN "); got != slog.LevelWarn {
		t.Errorf("Expected warn, got %v", got)
	}
	if got := parseLevel("chatty"); got != slog.LevelInfo {
		t.Errorf("Expected info fallback, got %v", got)
	}
}
