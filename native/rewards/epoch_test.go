package rewards

import (
	"testing"
	"time"
)

var epochZero = time.Unix(1_700_000_000, 0)

func weekEpochs() EpochConfig {
	return EpochConfig{Zero: epochZero, Duration: 7 * 24 * time.Hour}
}

func TestEpochAt(t *testing.T) {
	cfg := weekEpochs()
	week := cfg.Duration

	cases := []struct {
		name string
		now  time.Time
		want uint64
	}{
		{"before origin", epochZero.Add(-time.Hour), 0},
		{"at origin", epochZero, 0},
		{"last second of epoch 0", epochZero.Add(week - time.Second), 0},
		{"first second of epoch 1", epochZero.Add(week), 1},
		{"mid epoch 3", epochZero.Add(3*week + 12*time.Hour), 3},
	}
	for _, tc := range cases {
		if got := cfg.EpochAt(tc.now); got != tc.want {
			t.Fatalf("%s: epoch = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestEpochClosed(t *testing.T) {
	cfg := weekEpochs()
	week := cfg.Duration

	if cfg.Closed(0, epochZero.Add(week-time.Second)) {
		t.Fatalf("running epoch reported closed")
	}
	if !cfg.Closed(0, epochZero.Add(week)) {
		t.Fatalf("elapsed epoch not reported closed")
	}
	if cfg.Closed(5, epochZero.Add(2*week)) {
		t.Fatalf("future epoch reported closed")
	}
}

func TestEpochEndOf(t *testing.T) {
	cfg := weekEpochs()
	if got := cfg.EndOf(0); !got.Equal(epochZero.Add(cfg.Duration)) {
		t.Fatalf("EndOf(0) = %s", got)
	}
	if got := cfg.EndOf(2); !got.Equal(epochZero.Add(3 * cfg.Duration)) {
		t.Fatalf("EndOf(2) = %s", got)
	}
}

func TestEpochConfigNormalized(t *testing.T) {
	cfg := EpochConfig{Zero: epochZero}.Normalized()
	if cfg.Duration != DefaultEpochDuration {
		t.Fatalf("duration = %s, want default week", cfg.Duration)
	}
	// A set duration passes through.
	cfg = EpochConfig{Zero: epochZero, Duration: time.Hour}.Normalized()
	if cfg.Duration != time.Hour {
		t.Fatalf("duration = %s, want 1h", cfg.Duration)
	}
}
