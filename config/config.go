// Package config loads the worker's typed configuration from the process
// environment (and an optional .env file) once at start-up.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ModePair is an (game_mode, lobby_type) tuple admitted by the ingestion
// pipeline. Matches outside this set are rejected before any write.
type ModePair struct {
	GameMode  int
	LobbyType int
}

// Config is the single typed configuration object for the ingestion core.
// It is loaded once at start-up and passed by value/pointer to every
// component that needs it; nothing here is mutated after Load returns.
type Config struct {
	ApiKey string

	PollIntervalMinutes  int
	MaxRequestsPerMinute int
	MaxMatches           int
	DaysToKeep           int
	CleanupIntervalHours int
	MaxMatchesPerCycle   int

	FetchMatchDetails       bool
	UseExplorer             bool
	ExplorerIntervalSeconds int

	BootstrapMode bool

	AllowedModes []ModePair

	MinMatchDuration int
	CacheTTLHours    int

	// StatusAddr is the listen address for the ambient status HTTP surface
	// (/healthz, /readyz, /stats). Ambient operational surface.
	StatusAddr string

	// DBPath is the filesystem path to the SQLite datastore file.
	DBPath string

	// MigrationsDir holds the *.sql migration files applied at start-up.
	MigrationsDir string
}

// Default returns the configuration with every baseline default applied,
// before environment overrides or BootstrapMode.
func Default() Config {
	return Config{
		PollIntervalMinutes:     defaultPollIntervalMinutes(),
		MaxRequestsPerMinute:    30,
		MaxMatches:              300000,
		DaysToKeep:              90,
		CleanupIntervalHours:    24,
		MaxMatchesPerCycle:      50,
		FetchMatchDetails:       false,
		UseExplorer:             false,
		ExplorerIntervalSeconds: 300,
		BootstrapMode:           false,
		AllowedModes:            []ModePair{{GameMode: 22, LobbyType: 7}},
		MinMatchDuration:        900,
		CacheTTLHours:           defaultCacheTTLHours(),
		StatusAddr:              ":8081",
		DBPath:                  "data/matchstats.db",
		MigrationsDir:           "store/migrations",
	}
}

// Load reads environment variables over the defaults, then applies the
// BootstrapMode override if requested. It never returns a partially valid
// Config: unparsable numeric and boolean knobs fall back to their default
// rather than erroring. An error is returned for a malformed ALLOWED_MODES
// and for out-of-range values that would break an invariant (e.g. zero
// MaxRequestsPerMinute, negative MinMatchDuration, an empty allow-list).
func Load() (Config, error) {
	cfg := Default()

	cfg.ApiKey = os.Getenv("API_KEY")

	cfg.PollIntervalMinutes = envInt("POLL_INTERVAL_MINUTES", cfg.PollIntervalMinutes)
	cfg.MaxRequestsPerMinute = envInt("MAX_REQUESTS_PER_MINUTE", cfg.MaxRequestsPerMinute)
	cfg.MaxMatches = envInt("MAX_MATCHES", cfg.MaxMatches)
	cfg.DaysToKeep = envInt("DAYS_TO_KEEP", cfg.DaysToKeep)
	cfg.CleanupIntervalHours = envInt("CLEANUP_INTERVAL_HOURS", cfg.CleanupIntervalHours)
	cfg.MaxMatchesPerCycle = envInt("MAX_MATCHES_PER_CYCLE", cfg.MaxMatchesPerCycle)
	cfg.FetchMatchDetails = envBool("FETCH_MATCH_DETAILS", cfg.FetchMatchDetails)
	cfg.UseExplorer = envBool("USE_EXPLORER", cfg.UseExplorer)
	cfg.ExplorerIntervalSeconds = envInt("EXPLORER_INTERVAL_SECONDS", cfg.ExplorerIntervalSeconds)
	cfg.BootstrapMode = envBool("BOOTSTRAP_MODE", cfg.BootstrapMode)
	cfg.MinMatchDuration = envInt("MIN_MATCH_DURATION", cfg.MinMatchDuration)
	cfg.CacheTTLHours = envInt("CACHE_TTL_HOURS", cfg.CacheTTLHours)
	cfg.StatusAddr = envString("STATUS_ADDR", cfg.StatusAddr)
	cfg.DBPath = envString("DB_PATH", cfg.DBPath)
	cfg.MigrationsDir = envString("MIGRATIONS_DIR", cfg.MigrationsDir)

	if modes := os.Getenv("ALLOWED_MODES"); modes != "" {
		parsed, err := parseModePairs(modes)
		if err != nil {
			return Config{}, fmt.Errorf("config: ALLOWED_MODES invalid: %w", err)
		}
		cfg.AllowedModes = parsed
	}

	if cfg.BootstrapMode {
		cfg.PollIntervalMinutes = 5
		cfg.MaxMatchesPerCycle = 100
		cfg.MaxRequestsPerMinute = 200
	}

	if cfg.MaxRequestsPerMinute <= 0 {
		return Config{}, fmt.Errorf("config: MAX_REQUESTS_PER_MINUTE must be > 0")
	}
	if cfg.MinMatchDuration < 0 {
		return Config{}, fmt.Errorf("config: MIN_MATCH_DURATION must be >= 0")
	}
	if len(cfg.AllowedModes) == 0 {
		return Config{}, fmt.Errorf("config: AllowedModes must not be empty")
	}

	return cfg, nil
}

// IsAllowed reports whether (gameMode, lobbyType) is in the configured
// allow-list. Values are compared as given, so a zero field matches only
// when the allow-list holds a pair with that same zero field.
func (c Config) IsAllowed(gameMode, lobbyType int) bool {
	for _, m := range c.AllowedModes {
		if m.GameMode == gameMode && m.LobbyType == lobbyType {
			return true
		}
	}
	return false
}

func parseModePairs(s string) ([]ModePair, error) {
	var out []ModePair
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ",")
		if len(fields) != 2 {
			return nil, fmt.Errorf("expected GAME_MODE,LOBBY_TYPE pairs separated by ';', got %q", part)
		}
		gm, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			return nil, fmt.Errorf("bad game_mode in %q: %w", part, err)
		}
		lt, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil {
			return nil, fmt.Errorf("bad lobby_type in %q: %w", part, err)
		}
		out = append(out, ModePair{GameMode: gm, LobbyType: lt})
	}
	return out, nil
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	default:
		return def
	}
}
