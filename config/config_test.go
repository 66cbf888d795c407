package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		os.Unsetenv(k)
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if len(cfg.AllowedModes) == 0 {
		t.Fatal("expected a default allow-list")
	}
	if !cfg.IsAllowed(22, 7) {
		t.Error("expected ranked all-pick (22,7) to be allowed by default")
	}
	if cfg.IsAllowed(1, 0) {
		t.Error("unlisted mode pair should not be allowed")
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	keys := []string{"POLL_INTERVAL_MINUTES", "MAX_REQUESTS_PER_MINUTE", "MIN_MATCH_DURATION", "ALLOWED_MODES"}
	clearEnv(t, keys...)
	defer clearEnv(t, keys...)

	os.Setenv("POLL_INTERVAL_MINUTES", "5")
	os.Setenv("MAX_REQUESTS_PER_MINUTE", "10")
	os.Setenv("MIN_MATCH_DURATION", "0")
	os.Setenv("ALLOWED_MODES", "22,7;1,0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PollIntervalMinutes != 5 {
		t.Errorf("PollIntervalMinutes = %d, want 5", cfg.PollIntervalMinutes)
	}
	if cfg.MaxRequestsPerMinute != 10 {
		t.Errorf("MaxRequestsPerMinute = %d, want 10", cfg.MaxRequestsPerMinute)
	}
	if !cfg.IsAllowed(1, 0) {
		t.Error("expected (1,0) to be allowed after ALLOWED_MODES override")
	}
}

func TestLoadRejectsZeroRateLimit(t *testing.T) {
	clearEnv(t, "MAX_REQUESTS_PER_MINUTE")
	defer clearEnv(t, "MAX_REQUESTS_PER_MINUTE")
	os.Setenv("MAX_REQUESTS_PER_MINUTE", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected an error for MAX_REQUESTS_PER_MINUTE=0")
	}
}

func TestLoadRejectsMalformedAllowedModes(t *testing.T) {
	clearEnv(t, "ALLOWED_MODES")
	defer clearEnv(t, "ALLOWED_MODES")
	os.Setenv("ALLOWED_MODES", "not-a-pair")

	if _, err := Load(); err == nil {
		t.Fatal("expected an error for malformed ALLOWED_MODES")
	}
}

func TestBootstrapModeOverridesThroughput(t *testing.T) {
	clearEnv(t, "BOOTSTRAP_MODE", "POLL_INTERVAL_MINUTES")
	defer clearEnv(t, "BOOTSTRAP_MODE", "POLL_INTERVAL_MINUTES")

	os.Setenv("BOOTSTRAP_MODE", "1")
	os.Setenv("POLL_INTERVAL_MINUTES", "15")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PollIntervalMinutes != 5 {
		t.Errorf("expected bootstrap mode to force PollIntervalMinutes=5, got %d", cfg.PollIntervalMinutes)
	}
}

func TestParseModePairs(t *testing.T) {
	pairs, err := parseModePairs(" 22,7 ; 23 , 0 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []ModePair{{22, 7}, {23, 0}}
	if len(pairs) != len(want) {
		t.Fatalf("got %d pairs, want %d", len(pairs), len(want))
	}
	for i, p := range pairs {
		if p != want[i] {
			t.Errorf("pair %d = %+v, want %+v", i, p, want[i])
		}
	}
}

func TestParseModePairsRejectsMalformedField(t *testing.T) {
	if _, err := parseModePairs("22"); err == nil {
		t.Fatal("expected error for a pair missing its lobby_type")
	}
	if _, err := parseModePairs("x,7"); err == nil {
		t.Fatal("expected error for a non-numeric game_mode")
	}
}
