package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"exam-grader/api/internal/document"
	"exam-grader/api/internal/retry"
)

// DefaultFile is read when no -config path is given; it may be absent.
const DefaultFile = "secrets.yaml"

type Config struct {
	DatasetDir    string
	QuestionPaper string
	AnswerSheet   string
	Textbook      string

	GeminiAPIKey   string
	GeminiModel    string
	Mode           string
	RequestTimeout time.Duration
	Retry          RetryConfig
	PromptDir      string

	ResultsPath string
	XLSXPath    string

	DatabaseURL string
	CacheMaxAge time.Duration

	TelegramBotToken string
	TelegramChatID   int64

	LogLevel  string
	LogFormat string
}

type RetryConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Attempts     int
	Multiplier   float64
	Jitter       float64
	Codes        []int
}

// fileConfig mirrors Config in the YAML secrets file. Zero values are ignored.
type fileConfig struct {
	DatasetDir    string `yaml:"dataset_dir"`
	QuestionPaper string `yaml:"question_paper"`
	AnswerSheet   string `yaml:"answer_sheet"`
	Textbook      string `yaml:"textbook"`

	GoogleAPIKey   string `yaml:"google_api_key"`
	Model          string `yaml:"model"`
	Mode           string `yaml:"mode"`
	RequestTimeout string `yaml:"request_timeout"`
	PromptDir      string `yaml:"prompt_dir"`

	Retry struct {
		InitialDelay string  `yaml:"initial_delay"`
		MaxDelay     string  `yaml:"max_delay"`
		Attempts     int     `yaml:"attempts"`
		Multiplier   float64 `yaml:"exp_base"`
		Jitter       float64 `yaml:"jitter"`
		Codes        []int   `yaml:"http_status_codes"`
	} `yaml:"retry"`

	ResultsPath string `yaml:"results_path"`
	XLSXPath    string `yaml:"xlsx_path"`

	DatabaseURL string `yaml:"database_url"`
	CacheMaxAge string `yaml:"cache_max_age"`

	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   int64  `yaml:"chat_id"`
	} `yaml:"telegram"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func Defaults() *Config {
	return &Config{
		DatasetDir:     "./exam-data",
		QuestionPaper:  "question_paper.pdf",
		AnswerSheet:    "student_answer_sheet1.pdf",
		Textbook:       "textbook_notes.pdf",
		GeminiModel:    "gemini-2.0-flash-lite",
		Mode:           "single",
		RequestTimeout: 5 * time.Minute,
		Retry: RetryConfig{
			InitialDelay: 2 * time.Second,
			MaxDelay:     120 * time.Second,
			Attempts:     7,
			Multiplier:   2,
			Jitter:       0.2,
			Codes:        []int{429, 500, 503, 504},
		},
		ResultsPath: "grading_results.json",
		CacheMaxAge: 30 * 24 * time.Hour,
		LogLevel:    "info",
		LogFormat:   "text",
	}
}

// Load builds the config from defaults, the YAML file at path and the
// environment, in that order. An empty path means DefaultFile, which may be
// missing; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	optional := path == ""
	if optional {
		path = DefaultFile
	}
	if err := cfg.applyFile(path, optional); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string, optional bool) error {
	path, err := expandUserPath(path)
	if err != nil {
		return err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&c.DatasetDir, fc.DatasetDir)
	setString(&c.QuestionPaper, fc.QuestionPaper)
	setString(&c.AnswerSheet, fc.AnswerSheet)
	setString(&c.Textbook, fc.Textbook)
	setString(&c.GeminiAPIKey, fc.GoogleAPIKey)
	setString(&c.GeminiModel, fc.Model)
	setString(&c.Mode, fc.Mode)
	setString(&c.PromptDir, fc.PromptDir)
	setString(&c.ResultsPath, fc.ResultsPath)
	setString(&c.XLSXPath, fc.XLSXPath)
	setString(&c.DatabaseURL, fc.DatabaseURL)
	setString(&c.TelegramBotToken, fc.Telegram.BotToken)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.LogFormat, fc.LogFormat)
	if fc.Telegram.ChatID != 0 {
		c.TelegramChatID = fc.Telegram.ChatID
	}

	for _, d := range []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"request_timeout", fc.RequestTimeout, &c.RequestTimeout},
		{"retry.initial_delay", fc.Retry.InitialDelay, &c.Retry.InitialDelay},
		{"retry.max_delay", fc.Retry.MaxDelay, &c.Retry.MaxDelay},
		{"cache_max_age", fc.CacheMaxAge, &c.CacheMaxAge},
	} {
		if d.raw == "" {
			continue
		}
		v, err := parseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse %s in %s: %w", d.key, path, err)
		}
		*d.dst = v
	}
	if fc.Retry.Attempts != 0 {
		c.Retry.Attempts = fc.Retry.Attempts
	}
	if fc.Retry.Multiplier != 0 {
		c.Retry.Multiplier = fc.Retry.Multiplier
	}
	if fc.Retry.Jitter != 0 {
		c.Retry.Jitter = fc.Retry.Jitter
	}
	if len(fc.Retry.Codes) > 0 {
		c.Retry.Codes = fc.Retry.Codes
	}
	return nil
}

func (c *Config) applyEnv() error {
	// GOOGLE_API_KEY is what the Google SDKs read; GEMINI_API_KEY is accepted too.
	setString(&c.GeminiAPIKey, getEnv("GEMINI_API_KEY", ""))
	setString(&c.GeminiAPIKey, getEnv("GOOGLE_API_KEY", ""))
	setString(&c.GeminiModel, getEnv("GEMINI_MODEL", ""))
	setString(&c.DatasetDir, getEnv("EXAM_DATASET_DIR", ""))
	setString(&c.QuestionPaper, getEnv("EXAM_QUESTION_PAPER", ""))
	setString(&c.AnswerSheet, getEnv("EXAM_ANSWER_SHEET", ""))
	setString(&c.Textbook, getEnv("EXAM_TEXTBOOK", ""))
	setString(&c.Mode, getEnv("GRADER_MODE", ""))
	setString(&c.PromptDir, getEnv("PROMPT_DIR", ""))
	setString(&c.ResultsPath, getEnv("RESULTS_PATH", ""))
	setString(&c.XLSXPath, getEnv("XLSX_PATH", ""))
	setString(&c.DatabaseURL, getEnv("DATABASE_URL", ""))
	setString(&c.TelegramBotToken, getEnv("TELEGRAM_BOT_TOKEN", ""))
	setString(&c.LogLevel, getEnv("LOG_LEVEL", ""))
	setString(&c.LogFormat, getEnv("LOG_FORMAT", ""))

	var err error
	if c.RequestTimeout, err = envDuration("HTTP_CLIENT_TIMEOUT", c.RequestTimeout); err != nil {
		return err
	}
	if c.CacheMaxAge, err = envDuration("REPORT_CACHE_MAX_AGE", c.CacheMaxAge); err != nil {
		return err
	}
	if c.Retry.InitialDelay, err = envDuration("RETRY_INITIAL_DELAY", c.Retry.InitialDelay); err != nil {
		return err
	}
	if c.Retry.MaxDelay, err = envDuration("RETRY_MAX_DELAY", c.Retry.MaxDelay); err != nil {
		return err
	}
	if v := getEnv("RETRY_ATTEMPTS", ""); v != "" {
		if c.Retry.Attempts, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("parse RETRY_ATTEMPTS: %w", err)
		}
	}
	if v := getEnv("RETRY_EXP_BASE", ""); v != "" {
		if c.Retry.Multiplier, err = strconv.ParseFloat(v, 64); err != nil {
			return fmt.Errorf("parse RETRY_EXP_BASE: %w", err)
		}
	}
	if v := getEnv("RETRY_JITTER", ""); v != "" {
		if c.Retry.Jitter, err = strconv.ParseFloat(v, 64); err != nil {
			return fmt.Errorf("parse RETRY_JITTER: %w", err)
		}
	}
	if v := getEnv("RETRY_HTTP_STATUS_CODES", ""); v != "" {
		if c.Retry.Codes, err = parseCodes(v); err != nil {
			return fmt.Errorf("parse RETRY_HTTP_STATUS_CODES: %w", err)
		}
	}
	if v := getEnv("TELEGRAM_CHAT_ID", ""); v != "" {
		if c.TelegramChatID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return fmt.Errorf("parse TELEGRAM_CHAT_ID: %w", err)
		}
	}
	return nil
}

// Validate reports the first problem that would make a run pointless.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.GeminiAPIKey) == "" {
		return errors.New("GOOGLE_API_KEY not found: export GOOGLE_API_KEY='your-api-key' " +
			"or put google_api_key in " + DefaultFile + " (get a key at https://aistudio.google.com/apikey)")
	}
	if strings.TrimSpace(c.GeminiModel) == "" {
		return errors.New("model name is empty")
	}
	switch c.Mode {
	case "single", "pipeline":
	default:
		return fmt.Errorf("unknown mode %q: use single or pipeline", c.Mode)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request timeout must not be negative, got %s", c.RequestTimeout)
	}
	if (c.TelegramBotToken == "") != (c.TelegramChatID == 0) {
		return errors.New("telegram delivery needs both TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID")
	}
	return c.RetryPolicy().Validate()
}

// RetryPolicy converts the retry settings; sleeping and jitter source keep
// their defaults.
func (c *Config) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.InitialDelay = c.Retry.InitialDelay
	p.MaxDelay = c.Retry.MaxDelay
	p.MaxAttempts = c.Retry.Attempts
	p.Multiplier = c.Retry.Multiplier
	p.Jitter = c.Retry.Jitter
	p.Codes = append([]int(nil), c.Retry.Codes...)
	return p
}

// Sources returns the three input documents rooted at DatasetDir.
func (c *Config) Sources() []document.Source {
	return document.Sources(c.DatasetDir, c.QuestionPaper, c.AnswerSheet, c.Textbook)
}

func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != 0
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func getEnv(key, def string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return def
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(getEnv(key, ""))
	if v == "" {
		return def, nil
	}
	d, err := parseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

// parseDuration accepts Go durations and bare numbers of seconds.
func parseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("duration is empty")
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(value)
}

func parseCodes(value string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		code, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		if code < 100 || code > 599 {
			return nil, fmt.Errorf("invalid HTTP status %d", code)
		}
		out = append(out, code)
	}
	return out, nil
}

func expandUserPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}
