package db

import (
	"testing"
	"time"
)

func TestPoolConfig(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		max, min int32
		wantMax  int32
		wantMin  int32
		wantApp  string
	}{
		{"explicit sizes", "postgres://u:p@localhost:5432/medbill", 10, 2, 10, 2, "medbill"},
		{"min clamped to max", "postgres://u:p@localhost:5432/medbill", 4, 9, 4, 4, "medbill"},
		{"url application name kept", "postgres://u:p@localhost:5432/medbill?application_name=worker", 5, 1, 5, 1, "worker"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := poolConfig(tt.url, tt.max, tt.min)
			if err != nil {
				t.Fatalf("poolConfig() error: %v", err)
			}
			if cfg.MaxConns != tt.wantMax || cfg.MinConns != tt.wantMin {
				t.Errorf("conns = %d/%d, want %d/%d", cfg.MaxConns, cfg.MinConns, tt.wantMax, tt.wantMin)
			}
			if got := cfg.ConnConfig.RuntimeParams["application_name"]; got != tt.wantApp {
				t.Errorf("application_name = %q, want %q", got, tt.wantApp)
			}
			if cfg.MaxConnIdleTime != 5*time.Minute || cfg.MaxConnLifetime != time.Hour {
				t.Errorf("unexpected lifetimes: idle %s, max %s", cfg.MaxConnIdleTime, cfg.MaxConnLifetime)
			}
		})
	}
}

func TestPoolConfig_BadURL(t *testing.T) {
	if _, err := poolConfig("postgres://u:p@localhost:5432/db?sslmode=bogus", 5, 1); err == nil {
		t.Fatal("expected parse error")
	}
}
