package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration.
type Config struct {
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	JWTSecret   string `mapstructure:"JWT_SECRET"`
	HTTPAddr    string `mapstructure:"HTTP_ADDR"`

	// With RedisURL set, hub events cross instances on RedisChannel.
	RedisURL     string `mapstructure:"REDIS_URL"`
	RedisChannel string `mapstructure:"REDIS_CHANNEL"`

	// AllowedOrigins is a comma separated list of WebSocket origins. Empty
	// allows same-origin requests only.
	AllowedOrigins  string        `mapstructure:"ALLOWED_ORIGINS"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	LocationThrottle      time.Duration `mapstructure:"LOCATION_THROTTLE"`
	LocationRetryAttempts int           `mapstructure:"LOCATION_RETRY_ATTEMPTS"`
	LocationRetryBase     time.Duration `mapstructure:"LOCATION_RETRY_BASE"`

	ReconcileInterval      time.Duration `mapstructure:"RECONCILE_INTERVAL"`
	WatchReconcileInterval time.Duration `mapstructure:"WATCH_RECONCILE_INTERVAL"`

	RateLimitPerMinute int `mapstructure:"RATE_LIMIT_PER_MINUTE"`
}

var AppConfig *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOCATION_THROTTLE", 5*time.Second)
	v.SetDefault("LOCATION_RETRY_ATTEMPTS", 3)
	v.SetDefault("LOCATION_RETRY_BASE", 200*time.Millisecond)
	v.SetDefault("RECONCILE_INTERVAL", 30*time.Second)
	v.SetDefault("WATCH_RECONCILE_INTERVAL", 10*time.Second)
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 120)
	v.SetDefault("REDIS_CHANNEL", "locshare:events")
	v.SetDefault("SHUTDOWN_TIMEOUT", 15*time.Second)

	// AutomaticEnv only consults keys viper already knows about.
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("ALLOWED_ORIGINS", "")
}

// Load reads configuration from a .env file in dir (if present) and the environment.
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(dir)
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Println("Warning: .env file not found, loading from environment variables")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Origins splits AllowedOrigins into trimmed, non-empty entries.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// LoadConfig loads the configuration from a .env file and environment variables.
func LoadConfig() {
	cfg, err := Load(".")
	if err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}
	AppConfig = cfg
}
