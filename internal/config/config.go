package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the grading service.
type Config struct {
	AppName       string
	AppEnv        string
	AppPort       string
	LogLevel      string
	DatabaseURL   string
	RedisURL      string
	NATSURL       string
	EventsChannel string
	JWTSecret     string

	OpenAIAPIKey          string
	OpenAIBaseURL         string
	AIModel               string
	AITemperature         float32
	AIMaxTokens           int
	AIRequestsPerSecond   float64
	ModerationModel       string
	ModerationTimeout     time.Duration
	ModerationCacheTTL    time.Duration
	GradingTimeout        time.Duration
	GradingOutputAttempts int

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	ResponseLockTTL time.Duration
	GradeRateLimit  int
	GradeRateWindow time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Grading Engine")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("events.channel", "gema:grading")
	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.temperature", 0)
	v.SetDefault("ai.max_tokens", 1024)
	v.SetDefault("ai.requests_per_second", 5)
	v.SetDefault("moderation.model", "omni-moderation-latest")
	v.SetDefault("moderation.timeout", "30s")
	v.SetDefault("moderation.cache_ttl", "24h")
	v.SetDefault("grading.timeout", "60s")
	v.SetDefault("grading.output_attempts", 2)
	v.SetDefault("grading.retry_attempts", 3)
	v.SetDefault("grading.retry_base_delay", "500ms")
	v.SetDefault("grading.retry_max_delay", "5s")
	v.SetDefault("grading.lock_ttl", "3m")
	v.SetDefault("grading.rate_limit", 30)
	v.SetDefault("grading.rate_window", "1m")

	durations := map[string]time.Duration{}
	for _, key := range []string{
		"moderation.timeout", "moderation.cache_ttl", "grading.timeout",
		"grading.retry_base_delay", "grading.retry_max_delay", "grading.lock_ttl", "grading.rate_window",
	} {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		if parsed <= 0 {
			return Config{}, fmt.Errorf("invalid %s: must be positive", key)
		}
		durations[key] = parsed
	}

	cfg := Config{
		AppName:       v.GetString("app.name"),
		AppEnv:        v.GetString("app.env"),
		AppPort:       v.GetString("app.port"),
		LogLevel:      strings.ToLower(v.GetString("log.level")),
		DatabaseURL:   v.GetString("database.url"),
		RedisURL:      v.GetString("redis.url"),
		NATSURL:       v.GetString("nats.url"),
		EventsChannel: v.GetString("events.channel"),
		JWTSecret:     v.GetString("jwt.secret"),

		OpenAIAPIKey:          v.GetString("openai_api_key"),
		OpenAIBaseURL:         v.GetString("openai_base_url"),
		AIModel:               v.GetString("ai.model"),
		AITemperature:         float32(v.GetFloat64("ai.temperature")),
		AIMaxTokens:           v.GetInt("ai.max_tokens"),
		AIRequestsPerSecond:   v.GetFloat64("ai.requests_per_second"),
		ModerationModel:       v.GetString("moderation.model"),
		ModerationTimeout:     durations["moderation.timeout"],
		ModerationCacheTTL:    durations["moderation.cache_ttl"],
		GradingTimeout:        durations["grading.timeout"],
		GradingOutputAttempts: v.GetInt("grading.output_attempts"),

		RetryAttempts:  v.GetInt("grading.retry_attempts"),
		RetryBaseDelay: durations["grading.retry_base_delay"],
		RetryMaxDelay:  durations["grading.retry_max_delay"],

		ResponseLockTTL: durations["grading.lock_ttl"],
		GradeRateLimit:  v.GetInt("grading.rate_limit"),
		GradeRateWindow: durations["grading.rate_window"],
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.GradingOutputAttempts <= 0 {
		cfg.GradingOutputAttempts = 2
	}

	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}

	return cfg, nil
}
