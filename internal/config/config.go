package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const defaultJWTSecret = "multichat-dev-secret-change-in-production"

// Config holds every runtime setting of the backend
type Config struct {
	Port        string
	Environment string
	CORSOrigins []string

	Database DatabaseConfig
	Auth     AuthConfig
	WAPI     WAPIConfig
	Media    MediaConfig
	Chats    ChatsConfig
	Events   EventsConfig

	WebhookToken string

	LogLevel  string
	LogFormat string

	Bootstrap BootstrapConfig
}

type DatabaseConfig struct {
	Type     string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	Path     string
	LogLevel string
}

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

// WAPIConfig configures the vendor gateway client
type WAPIConfig struct {
	BaseURL        string
	Timeout        time.Duration
	MediaAttempts  int
	MediaRetryWait time.Duration
}

type MediaConfig struct {
	Root              string
	Workers           int
	QueueSize         int
	MaxAttempts       int
	ReconcileInterval time.Duration
}

// ChatsConfig drives chat id classification
type ChatsConfig struct {
	IgnoredIDs            []string
	AllowedGroupIDs       []string
	GroupHeuristicPrefix  string
	GroupHeuristicMinimum int
}

type EventsConfig struct {
	CacheTTL         time.Duration
	Retention        time.Duration
	RabbitMQURL      string
	RabbitMQExchange string
}

// BootstrapConfig seeds a first tenant on an empty database
type BootstrapConfig struct {
	ClienteName   string
	AdminEmail    string
	AdminPassword string
	InstanceID    string
	InstanceToken string
	InstancePhone string
}

// Enabled reports whether enough values are set to seed a tenant
func (b BootstrapConfig) Enabled() bool {
	return b.ClienteName != "" && b.AdminEmail != "" && b.AdminPassword != ""
}

// Load reads the environment (and optional env files) into a Config
func Load() *Config {
	// godotenv.Load never overrides variables that are already set
	for _, f := range []string{".env", "env.local", "env.production"} {
		if _, err := os.Stat(f); err == nil {
			if err := godotenv.Load(f); err != nil {
				log.Warn().Err(err).Str("file", f).Msg("failed to load env file")
			}
		}
	}

	cfg := &Config{
		Port:        getEnv("PORT", "9090"),
		Environment: getEnv("ENVIRONMENT", "development"),
		CORSOrigins: getSliceEnv("CORS_ALLOWED_ORIGINS", ",", []string{"*"}),

		Database: DatabaseConfig{
			Type:     getEnv("DB_TYPE", "sqlite"),
			Host:     getEnv("DB_HOST", "127.0.0.1"),
			Port:     getEnv("DB_PORT", ""),
			User:     getEnv("DB_USER", ""),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "multichat"),
			Path:     getEnv("DB_PATH", "multichat.db"),
			LogLevel: getEnv("DB_LOG_LEVEL", "warn"),
		},

		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", defaultJWTSecret),
			TokenTTL:  getDurationEnv("JWT_TTL", 24*time.Hour),
		},

		WAPI: WAPIConfig{
			BaseURL:        strings.TrimSuffix(getEnv("WAPI_BASE_URL", "https://api.w-api.app/v1"), "/"),
			Timeout:        getDurationEnv("WAPI_TIMEOUT", 30*time.Second),
			MediaAttempts:  getIntEnv("WAPI_MEDIA_ATTEMPTS", 3),
			MediaRetryWait: getDurationEnv("WAPI_MEDIA_RETRY_WAIT", 2*time.Second),
		},

		Media: MediaConfig{
			Root:              getEnv("MEDIA_ROOT", "./media_storage"),
			Workers:           getIntEnv("MEDIA_WORKERS", 4),
			QueueSize:         getIntEnv("MEDIA_QUEUE_SIZE", 256),
			MaxAttempts:       getIntEnv("MEDIA_MAX_ATTEMPTS", 5),
			ReconcileInterval: getDurationEnv("MEDIA_RECONCILE_INTERVAL", 10*time.Minute),
		},

		Chats: ChatsConfig{
			IgnoredIDs:            getSliceEnv("IGNORED_CHAT_IDS", ",", nil),
			AllowedGroupIDs:       getSliceEnv("ALLOWED_GROUP_IDS", ",", nil),
			GroupHeuristicPrefix:  getEnv("GROUP_HEURISTIC_PREFIX", "120363"),
			GroupHeuristicMinimum: getIntEnv("GROUP_HEURISTIC_MIN_LENGTH", 16),
		},

		Events: EventsConfig{
			CacheTTL:         getDurationEnv("EVENT_CACHE_TTL", 30*time.Second),
			Retention:        getDurationEnv("EVENT_RETENTION", 7*24*time.Hour),
			RabbitMQURL:      getEnv("RABBITMQ_URL", ""),
			RabbitMQExchange: getEnv("RABBITMQ_EXCHANGE", "multichat.events"),
		},

		WebhookToken: getEnv("WEBHOOK_TOKEN", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		Bootstrap: BootstrapConfig{
			ClienteName:   getEnv("BOOTSTRAP_CLIENTE", ""),
			AdminEmail:    getEnv("BOOTSTRAP_ADMIN_EMAIL", ""),
			AdminPassword: getEnv("BOOTSTRAP_ADMIN_PASSWORD", ""),
			InstanceID:    getEnv("BOOTSTRAP_INSTANCE_ID", ""),
			InstanceToken: getEnv("BOOTSTRAP_INSTANCE_TOKEN", ""),
			InstancePhone: getEnv("BOOTSTRAP_INSTANCE_PHONE", ""),
		},
	}

	cfg.Validate()
	return cfg
}

// Validate fixes up values that would break the server at runtime
func (c *Config) Validate() {
	if err := os.MkdirAll(c.Media.Root, 0755); err != nil {
		log.Error().Err(err).Str("dir", c.Media.Root).Msg("failed to create media root")
	}

	if c.Environment == "production" && c.Auth.JWTSecret == defaultJWTSecret {
		log.Warn().Msg("JWT_SECRET not set in production, using the development secret")
	}
	if c.Environment == "production" && c.WebhookToken == "" {
		log.Warn().Msg("WEBHOOK_TOKEN not set, webhook receiver accepts unauthenticated calls")
	}

	if c.WAPI.MediaAttempts < 1 {
		c.WAPI.MediaAttempts = 1
	}
	if c.Media.Workers < 1 {
		c.Media.Workers = 1
	}
	if c.Media.QueueSize < c.Media.Workers {
		c.Media.QueueSize = c.Media.Workers
	}
	if c.Media.MaxAttempts < 1 {
		c.Media.MaxAttempts = 1
	}
	if c.Chats.GroupHeuristicMinimum < 1 {
		c.Chats.GroupHeuristicMinimum = 16
	}
}

// Addr returns the listen address
func (c *Config) Addr() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

func getEnv(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	i, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("invalid integer, using default")
		return defaultValue
	}
	return i
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("invalid duration, using default")
		return defaultValue
	}
	return d
}

func getSliceEnv(key, sep string, defaultValue []string) []string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
