package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

type AppConfig struct {
	HTTPAddr string `toml:"http_addr"`

	IrisBaseURL string `toml:"iris_base_url"`
	IrisWSURL   string `toml:"iris_ws_url"`
	IrisEgress  string `toml:"iris_egress"`
	BotPrefix   string `toml:"bot_prefix"`

	XUserID    string `toml:"x_user_id"`
	XUserEmail string `toml:"x_user_email"`
	XSessionID string `toml:"x_session_id"`

	RedisURL    string `toml:"redis_url"`
	DatabaseURL string `toml:"database_url"`

	AllowedRooms []string `toml:"allowed_rooms"`

	AnalysisAPIURL    string `toml:"analysis_api_url"`
	AnalysisAPIDepth  int    `toml:"analysis_api_depth"`
	AnalysisTimeoutMS int    `toml:"analysis_timeout_ms"`
	AnalysisRetry     int    `toml:"analysis_retry"`
	AnalysisFallback  bool   `toml:"analysis_fallback"`
	StockfishPath     string `toml:"stockfish_path"`
	StockfishDepth    int    `toml:"stockfish_depth"`
	StockfishThreads  int    `toml:"stockfish_threads"`
	StockfishHashMB   int    `toml:"stockfish_hash_mb"`
	StockfishPoolSize int    `toml:"stockfish_pool_size"`

	PuzzleCounterDelayMS   int    `toml:"puzzle_counter_delay_ms"`
	PuzzleAdvanceDelayMS   int    `toml:"puzzle_advance_delay_ms"`
	PuzzleMovesPerPosition int    `toml:"puzzle_moves_per_position"`
	PuzzleSessionTTLSec    int    `toml:"puzzle_session_ttl"`
	PuzzleHistoryLimit     int    `toml:"puzzle_history_limit"`
	PuzzleMessagesDir      string `toml:"puzzle_messages_dir"`
	PuzzleLocale           string `toml:"puzzle_locale"`
	PuzzleLessonsFile      string `toml:"puzzle_lessons_file"`
}

// ChatEnabled reports whether the KakaoTalk bridge is configured.
func (c *AppConfig) ChatEnabled() bool {
	return c.IrisBaseURL != "" && c.IrisWSURL != ""
}

func defaults() *AppConfig {
	return &AppConfig{
		HTTPAddr:             ":8080",
		IrisEgress:           "auto",
		BotPrefix:            "!",
		AnalysisTimeoutMS:    10000,
		AnalysisRetry:        2,
		AnalysisFallback:     true,
		StockfishDepth:       15,
		PuzzleCounterDelayMS: 1000,
		PuzzleAdvanceDelayMS: 2000,
		PuzzleSessionTTLSec:  3600,
		PuzzleHistoryLimit:   10,
		PuzzleLocale:         "en",
	}
}

// Load applies defaults, then the TOML file named by PUZZLE_CONFIG (if any),
// then environment variables, and validates the server requirements.
func Load() (*AppConfig, error) {
	cfg, err := Read()
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation, for tools that need only part of the config.
func Read() (*AppConfig, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("PUZZLE_CONFIG")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	setString(&cfg.HTTPAddr, "HTTP_ADDR")
	setString(&cfg.IrisBaseURL, "IRIS_BASE_URL")
	setString(&cfg.IrisWSURL, "IRIS_WS_URL")
	setString(&cfg.IrisEgress, "IRIS_EGRESS")
	setString(&cfg.BotPrefix, "BOT_PREFIX")

	setString(&cfg.XUserID, "X_USER_ID")
	setString(&cfg.XUserEmail, "X_USER_EMAIL")
	setString(&cfg.XSessionID, "X_SESSION_ID")

	setString(&cfg.RedisURL, "REDIS_URL")
	setString(&cfg.DatabaseURL, "DATABASE_URL")

	if v := strings.TrimSpace(os.Getenv("ALLOWED_ROOMS")); v != "" {
		cfg.AllowedRooms = nil
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				cfg.AllowedRooms = append(cfg.AllowedRooms, s)
			}
		}
	}

	setString(&cfg.AnalysisAPIURL, "ANALYSIS_API_URL")
	setInt(&cfg.AnalysisAPIDepth, "ANALYSIS_API_DEPTH", 1)
	setInt(&cfg.AnalysisTimeoutMS, "ANALYSIS_TIMEOUT_MS", 1)
	setInt(&cfg.AnalysisRetry, "ANALYSIS_RETRY", 0)
	if v := strings.TrimSpace(os.Getenv("ANALYSIS_FALLBACK")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AnalysisFallback = b
		}
	}
	setString(&cfg.StockfishPath, "STOCKFISH_PATH")
	setInt(&cfg.StockfishDepth, "STOCKFISH_DEPTH", 1)
	setInt(&cfg.StockfishThreads, "STOCKFISH_THREADS", 1)
	setInt(&cfg.StockfishHashMB, "STOCKFISH_HASH_MB", 1)
	setInt(&cfg.StockfishPoolSize, "STOCKFISH_POOL_SIZE", 1)

	setInt(&cfg.PuzzleCounterDelayMS, "PUZZLE_COUNTER_DELAY_MS", 0)
	setInt(&cfg.PuzzleAdvanceDelayMS, "PUZZLE_ADVANCE_DELAY_MS", 0)
	setInt(&cfg.PuzzleMovesPerPosition, "PUZZLE_MOVES_PER_POSITION", 0)
	setInt(&cfg.PuzzleSessionTTLSec, "PUZZLE_SESSION_TTL", 1)
	setInt(&cfg.PuzzleHistoryLimit, "PUZZLE_HISTORY_LIMIT", 1)
	setString(&cfg.PuzzleMessagesDir, "PUZZLE_MESSAGES_DIR")
	setString(&cfg.PuzzleLocale, "PUZZLE_LOCALE")
	setString(&cfg.PuzzleLessonsFile, "PUZZLE_LESSONS_FILE")
	return cfg, nil
}

func (c *AppConfig) validate() error {
	if c.RedisURL == "" {
		return errors.New("REDIS_URL is required")
	}
	if (c.IrisBaseURL == "") != (c.IrisWSURL == "") {
		return errors.New("IRIS_BASE_URL and IRIS_WS_URL must be set together")
	}
	if c.ChatEnabled() && c.BotPrefix == "" {
		return errors.New("BOT_PREFIX is required")
	}
	switch c.IrisEgress {
	case "auto", "http", "ws":
	default:
		return fmt.Errorf("IRIS_EGRESS must be auto, http or ws (got %q)", c.IrisEgress)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// setInt ignores values that do not parse or fall below min.
func setInt(dst *int, key string, min int) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil && n >= min {
		*dst = n
	}
}
