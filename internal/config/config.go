package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/voicehub/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode         string        `mapstructure:"mode"`
	Port         int           `mapstructure:"port"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
	PongWait     time.Duration `mapstructure:"pong_wait"`
	WriteWait    time.Duration `mapstructure:"write_wait"`
	SendBuffer   int           `mapstructure:"send_buffer"`
	Secret       string        `mapstructure:"secret"`

	Session    SessionConfig    `mapstructure:"session"`
	Membership MembershipConfig `mapstructure:"membership"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
}

type SessionConfig struct {
	// Backend is "cookie" or "redis".
	Backend       string `mapstructure:"backend"`
	CookieName    string `mapstructure:"cookie_name"`
	MaxAge        int    `mapstructure:"max_age"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
}

type MembershipConfig struct {
	// Backend is "static" or "postgres".
	Backend  string               `mapstructure:"backend"`
	DSN      string               `mapstructure:"dsn"`
	MinConns int                  `mapstructure:"min_conns"`
	MaxConns int                  `mapstructure:"max_conns"`
	Timeout  time.Duration        `mapstructure:"timeout"`
	Channels []domain.ChannelSpec `mapstructure:"channels"`
}

type RateLimitConfig struct {
	Messages int           `mapstructure:"messages"`
	Window   time.Duration `mapstructure:"window"`
}

// Load reads config/config.<CONFIG_ENV>.yaml, falling back to defaults.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFrom(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFrom reads the given file. HUB_* environment variables override it,
// e.g. HUB_SESSION_BACKEND.
func LoadFrom(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("HUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("session", cfg.Session.Backend).Str("membership", cfg.Membership.Backend).Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_interval", "30s")
	v.SetDefault("pong_wait", "10s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("secret", "")

	v.SetDefault("session.backend", "cookie")
	v.SetDefault("session.cookie_name", "VoiceSessions")
	v.SetDefault("session.max_age", 7*24*3600)
	v.SetDefault("session.redis_addr", "localhost:6379")
	v.SetDefault("session.redis_db", 0)
	v.SetDefault("session.redis_prefix", "session:")

	v.SetDefault("membership.backend", "static")
	v.SetDefault("membership.min_conns", 1)
	v.SetDefault("membership.max_conns", 10)
	v.SetDefault("membership.timeout", "3s")

	v.SetDefault("rate_limit.messages", 50)
	v.SetDefault("rate_limit.window", "1s")
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Session.Backend {
	case "cookie":
		if c.Secret == "" {
			return fmt.Errorf("secret is required for the cookie session backend")
		}
	case "redis":
	default:
		return fmt.Errorf("unknown session backend %q", c.Session.Backend)
	}
	switch c.Membership.Backend {
	case "static":
	case "postgres":
		if c.Membership.DSN == "" {
			return fmt.Errorf("membership.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown membership backend %q", c.Membership.Backend)
	}
	if c.PongWait >= c.PingInterval {
		return fmt.Errorf("pong_wait (%s) must be shorter than ping_interval (%s)", c.PongWait, c.PingInterval)
	}
	return nil
}
