package logging

import (
	"log/slog"
	"testing"
)

func TestLevelFromEnv(t *testing.T) {
	cases := []struct {
		raw  string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{" WARN ", slog.LevelWarn},
		{"error", slog.LevelError},
		{"shouting", slog.LevelInfo},
	}
	for _, tc := range cases {
		t.Setenv(levelEnvVar, tc.raw)
		if got := levelFromEnv(); got != tc.want {
			t.Fatalf("level for %q = %v, want %v", tc.raw, got, tc.want)
		}
	}
}
