package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rpattn/crmimport/internal/db"
	"github.com/spf13/viper"
)

// HTTPConfig configures the REST listener.
type HTTPConfig struct {
	Addr           string
	APIPrefix      string
	AllowedOrigins []string
	MaxUploadBytes int64
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

// ImportConfig tunes the import pipeline.
type ImportConfig struct {
	SampleSize          int
	SampleRows          int
	SmartMatchThreshold float64
	FuzzyCandidates     int
	SessionTTL          time.Duration
	ExecuteTimeout      time.Duration
	ProgressEvery       int
}

// RedisConfig configures the workspace store. An empty Addr selects the in-memory store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig configures status event publishing. No brokers disables it.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string
	Format string
}

// Config is the full service configuration.
type Config struct {
	Database db.Config
	HTTP     HTTPConfig
	Import   ImportConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Log      LogConfig
}

func setDefaults(v *viper.Viper) {
	dbDefaults := db.DefaultConfig()
	v.SetDefault("database.host", dbDefaults.Host)
	v.SetDefault("database.port", dbDefaults.Port)
	v.SetDefault("database.user", dbDefaults.User)
	v.SetDefault("database.password", dbDefaults.Password)
	v.SetDefault("database.dbname", dbDefaults.DBName)
	v.SetDefault("database.sslmode", dbDefaults.SSLMode)
	v.SetDefault("database.max_conns", dbDefaults.MaxConns)

	v.SetDefault("http.addr", ":8000")
	v.SetDefault("http.api_prefix", "/api/v1")
	v.SetDefault("http.allowed_origins", []string{"http://localhost:3000", "http://localhost:8000"})
	v.SetDefault("http.max_upload_bytes", 10<<20)
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.idle_timeout", "60s")

	v.SetDefault("import.sample_size", 10)
	v.SetDefault("import.sample_rows", 5)
	v.SetDefault("import.smart_match_threshold", 0.85)
	v.SetDefault("import.fuzzy_candidates", 5)
	v.SetDefault("import.session_ttl", "1h")
	v.SetDefault("import.execute_timeout", "30m")
	v.SetDefault("import.progress_every", 25)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "lead-import-events")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads config.yaml from configPath (optional), an optional .env file in
// the working directory, and CRM_* environment overrides.
func Load(configPath string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix("CRM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := Config{
		Database: db.Config{
			Host:     v.GetString("database.host"),
			Port:     v.GetInt("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			DBName:   v.GetString("database.dbname"),
			SSLMode:  v.GetString("database.sslmode"),
			MaxConns: v.GetInt32("database.max_conns"),
		},
		HTTP: HTTPConfig{
			Addr:           v.GetString("http.addr"),
			APIPrefix:      strings.TrimRight(v.GetString("http.api_prefix"), "/"),
			AllowedOrigins: splitList(v.GetStringSlice("http.allowed_origins")),
			MaxUploadBytes: v.GetInt64("http.max_upload_bytes"),
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
		},
		Import: ImportConfig{
			SampleSize:          v.GetInt("import.sample_size"),
			SampleRows:          v.GetInt("import.sample_rows"),
			SmartMatchThreshold: v.GetFloat64("import.smart_match_threshold"),
			FuzzyCandidates:     v.GetInt("import.fuzzy_candidates"),
			SessionTTL:          v.GetDuration("import.session_ttl"),
			ExecuteTimeout:      v.GetDuration("import.execute_timeout"),
			ProgressEvery:       v.GetInt("import.progress_every"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(v.GetStringSlice("kafka.brokers")),
			Topic:   v.GetString("kafka.topic"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDBConfig returns only the database section.
func LoadDBConfig(configPath string) (db.Config, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return db.Config{}, err
	}
	return cfg.Database, nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Import.SmartMatchThreshold <= 0 || c.Import.SmartMatchThreshold > 1:
		return fmt.Errorf("import.smart_match_threshold must be in (0,1], got %v", c.Import.SmartMatchThreshold)
	case c.Import.SampleSize < 0 || c.Import.SampleRows < 0:
		return fmt.Errorf("import sample sizes must not be negative")
	case c.Import.SessionTTL <= 0:
		return fmt.Errorf("import.session_ttl must be positive")
	case c.Import.ProgressEvery <= 0:
		return fmt.Errorf("import.progress_every must be positive")
	case c.HTTP.MaxUploadBytes <= 0:
		return fmt.Errorf("http.max_upload_bytes must be positive")
	}
	return nil
}

// splitList flattens comma separated entries, which is how list values arrive from env vars.
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
