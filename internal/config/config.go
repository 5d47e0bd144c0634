package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	RabbitMQ RabbitMQConfig
	Records  RecordsConfig
	Image    ImageConfig
	Session  SessionConfig
	Storage  StorageConfig
	Claude   ClaudeConfig
	LogLevel string
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RabbitMQConfig struct {
	URL   string
	Queue string
}

type RecordsConfig struct {
	DBPath string
	// Retention of finished sessions; zero keeps them forever.
	Retention time.Duration
}

type ImageConfig struct {
	MaxFileSize       int64
	MaxWidth          int
	MaxHeight         int
	MinWidth          int
	MinHeight         int
	OptimizeMaxWidth  int
	OptimizeMaxHeight int
	OptimizeQuality   int
}

type SessionConfig struct {
	BatchCap           int
	Timeout            time.Duration
	DoneWords          []string
	CancelWords        []string
	DefaultInstruction string
}

type StorageConfig struct {
	TempDir       string
	Retention     time.Duration
	SweepInterval time.Duration
}

// Attachment modes for CLAUDE_FILE_ATTACHMENT.
const (
	AttachmentAuto = "auto"
	AttachmentOn   = "on"
	AttachmentOff  = "off"
)

type ClaudeConfig struct {
	Path           string
	Timeout        time.Duration
	WorkDir        string
	FileAttachment string
	ProbeTTL       time.Duration
	ExtraArgs      []string
}

const DefaultInstruction = "Please analyze these images and describe what you see."

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  getDuration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDuration("WRITE_TIMEOUT", 10*time.Minute),
			CORSOrigins:  getEnvAsList("CORS_ORIGINS", []string{"*"}),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		RabbitMQ: RabbitMQConfig{
			URL:   getEnv("RABBITMQ_URL", ""),
			Queue: getEnv("RECORDS_QUEUE", "image_session_records"),
		},
		Records: RecordsConfig{
			DBPath:    getEnv("RECORDS_DB_PATH", ""),
			Retention: getDuration("RECORDS_RETENTION", 0),
		},
		Image: ImageConfig{
			MaxFileSize:       getEnvAsInt64("IMAGE_MAX_FILE_SIZE", 10*1024*1024), // 10MB
			MaxWidth:          getEnvAsInt("IMAGE_MAX_WIDTH", 8192),
			MaxHeight:         getEnvAsInt("IMAGE_MAX_HEIGHT", 8192),
			MinWidth:          getEnvAsInt("IMAGE_MIN_WIDTH", 32),
			MinHeight:         getEnvAsInt("IMAGE_MIN_HEIGHT", 32),
			OptimizeMaxWidth:  getEnvAsInt("IMAGE_OPTIMIZE_MAX_WIDTH", 2048),
			OptimizeMaxHeight: getEnvAsInt("IMAGE_OPTIMIZE_MAX_HEIGHT", 2048),
			OptimizeQuality:   getEnvAsInt("IMAGE_OPTIMIZE_QUALITY", 85),
		},
		Session: SessionConfig{
			BatchCap:           getEnvAsInt("SESSION_BATCH_CAP", 5),
			Timeout:            time.Duration(getEnvAsInt("SESSION_TIMEOUT_MINUTES", 5)) * time.Minute,
			DoneWords:          getEnvAsList("SESSION_DONE_WORDS", []string{"done", "finish", "go", "fertig", "listo", "terminé"}),
			CancelWords:        getEnvAsList("SESSION_CANCEL_WORDS", []string{"cancel", "stop", "abort", "abbrechen", "cancelar", "annuler"}),
			DefaultInstruction: getEnv("SESSION_DEFAULT_INSTRUCTION", DefaultInstruction),
		},
		Storage: StorageConfig{
			TempDir:       getEnv("TEMP_DIR", filepath.Join(os.TempDir(), "image-relay")),
			Retention:     getDuration("TEMP_RETENTION", 24*time.Hour),
			SweepInterval: getDuration("TEMP_SWEEP_INTERVAL", time.Hour),
		},
		Claude: ClaudeConfig{
			Path:           getEnv("CLAUDE_PATH", "claude"),
			Timeout:        time.Duration(getEnvAsInt("CLAUDE_TIMEOUT_SECONDS", 300)) * time.Second,
			WorkDir:        getEnv("CLAUDE_WORKDIR", ""),
			FileAttachment: strings.ToLower(getEnv("CLAUDE_FILE_ATTACHMENT", AttachmentAuto)),
			ProbeTTL:       getDuration("CLAUDE_PROBE_TTL", time.Hour),
			ExtraArgs:      strings.Fields(getEnv("CLAUDE_EXTRA_ARGS", "")),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects limits that cannot be satisfied together.
func (c *Config) Validate() error {
	var errs []error

	img := c.Image
	if img.MaxFileSize <= 0 {
		errs = append(errs, errors.New("IMAGE_MAX_FILE_SIZE must be positive"))
	}
	if img.MinWidth < 1 || img.MinHeight < 1 {
		errs = append(errs, errors.New("IMAGE_MIN_WIDTH and IMAGE_MIN_HEIGHT must be at least 1"))
	}
	if img.MaxWidth < img.MinWidth || img.MaxHeight < img.MinHeight {
		errs = append(errs, fmt.Errorf("image maxima %dx%d below minima %dx%d",
			img.MaxWidth, img.MaxHeight, img.MinWidth, img.MinHeight))
	}
	if img.OptimizeMaxWidth < 1 || img.OptimizeMaxHeight < 1 {
		errs = append(errs, errors.New("optimization maxima must be positive"))
	}
	if img.OptimizeQuality < 1 || img.OptimizeQuality > 100 {
		errs = append(errs, fmt.Errorf("IMAGE_OPTIMIZE_QUALITY %d out of range 1-100", img.OptimizeQuality))
	}
	if c.Session.BatchCap < 1 {
		errs = append(errs, errors.New("SESSION_BATCH_CAP must be at least 1"))
	}
	if c.Session.Timeout <= 0 {
		errs = append(errs, errors.New("SESSION_TIMEOUT_MINUTES must be positive"))
	}
	if c.Claude.Timeout <= 0 {
		errs = append(errs, errors.New("CLAUDE_TIMEOUT_SECONDS must be positive"))
	}
	switch c.Claude.FileAttachment {
	case AttachmentAuto, AttachmentOn, AttachmentOff:
	default:
		errs = append(errs, fmt.Errorf("CLAUDE_FILE_ATTACHMENT %q must be auto, on or off", c.Claude.FileAttachment))
	}
	if c.Storage.TempDir == "" {
		errs = append(errs, errors.New("TEMP_DIR is required"))
	}
	// Files held by a live session must outlive it.
	if c.Storage.Retention <= c.Session.Timeout {
		errs = append(errs, fmt.Errorf("TEMP_RETENTION %s must exceed the session timeout %s",
			c.Storage.Retention, c.Session.Timeout))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsList(key string, defaultVal []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
