package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	Port   string
	AppEnv string

	// Text-model provider: "openai" or "gemini".
	Provider string

	OpenAIAPIKey      string
	OpenAIModel       string
	OpenAIVisionModel string

	GeminiAPIKey      string
	GeminiModel       string
	GeminiVisionModel string

	// Vision stage is the only time-bounded stage; the expert stage runs
	// unbounded unless ExpertTimeout is set explicitly.
	VisionTimeout time.Duration
	ExpertTimeout time.Duration

	ExpertTemperature float64
	MariTemperature   float64

	// Rough wall-clock estimate of one full analysis, used only for the
	// client-side progress approximation.
	ExpectedAnalysisTime time.Duration

	// Runtime output root; telemetry and CSV audit rows are namespaced
	// under <RuntimeDir>/<AppEnv>/.
	RuntimeDir string

	// Optional path to a survey question catalog overriding the embedded one.
	QuestionsPath string

	// Optional integrations.
	DatabaseURL    string
	TelegramToken  string
	TelegramChatID int64
}

func mustEnv(k string) string {
	v := os.Getenv(k)
	if v == "" {
		log.Fatalf("missing required env %s", k)
	}
	return v
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getEnvSeconds(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		log.Fatalf("bad value for env %s: %q", k, v)
	}
	return time.Duration(n) * time.Second
}

func getEnvFloat(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Fatalf("bad value for env %s: %q", k, v)
	}
	return f
}

func getEnvInt64(k string, def int64) int64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Fatalf("bad value for env %s: %q", k, v)
	}
	return n
}

func Load() *Config {
	cfg := &Config{
		Port:   getEnv("PORT", "8000"),
		AppEnv: getEnv("APP_ENV", "development"),

		Provider: getEnv("AI_MODEL_PROVIDER", "openai"),

		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:       getEnv("OPENAI_MODEL", "gpt-4o"),
		OpenAIVisionModel: getEnv("OPENAI_VISION_MODEL", "gpt-4o"),

		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiVisionModel: getEnv("GEMINI_VISION_MODEL", "gemini-2.5-flash"),

		VisionTimeout: getEnvSeconds("VISION_TIMEOUT_SECONDS", 20*time.Second),
		ExpertTimeout: getEnvSeconds("EXPERT_TIMEOUT_SECONDS", 0),

		ExpertTemperature: getEnvFloat("AI_TEXT_TEMPERATURE_EXPERT", 0.3),
		MariTemperature:   getEnvFloat("AI_TEXT_TEMPERATURE_MARI", 0.7),

		ExpectedAnalysisTime: getEnvSeconds("EXPECTED_ANALYSIS_SECONDS", 75*time.Second),

		RuntimeDir:    getEnv("RUNTIME_DIR", "runtime"),
		QuestionsPath: getEnv("SURVEY_QUESTIONS_PATH", ""),

		DatabaseURL:    getEnv("DATABASE_URL", ""),
		TelegramToken:  getEnv("TELEGRAM_TOKEN", ""),
		TelegramChatID: getEnvInt64("TELEGRAM_CHAT_ID", 0),
	}

	// Only the selected provider's key is required.
	switch cfg.Provider {
	case "openai":
		cfg.OpenAIAPIKey = mustEnv("OPENAI_API_KEY")
	case "gemini":
		cfg.GeminiAPIKey = mustEnv("GEMINI_API_KEY")
	default:
		log.Fatalf("unsupported AI_MODEL_PROVIDER: %q (use \"openai\" or \"gemini\")", cfg.Provider)
	}

	return cfg
}

// DataDir returns the per-environment data directory, creating it if needed.
func (c *Config) DataDir() string {
	d := filepath.Join(c.RuntimeDir, c.AppEnv, "data")
	_ = os.MkdirAll(d, 0o755)
	return d
}

// LogsDir returns the per-environment log directory, creating it if needed.
func (c *Config) LogsDir() string {
	d := filepath.Join(c.RuntimeDir, c.AppEnv, "logs")
	_ = os.MkdirAll(d, 0o755)
	return d
}

// PerfLogPath is the JSON Lines telemetry stream location.
func (c *Config) PerfLogPath() string {
	return filepath.Join(c.LogsDir(), "performance.jsonl")
}

// CSVPath is the survey audit file location.
func (c *Config) CSVPath() string {
	return filepath.Join(c.DataDir(), "survey_results.csv")
}
