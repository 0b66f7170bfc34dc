// Package config loads the service configuration from defaults, an optional
// YAML file, and environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

type Config struct {
	Addr           string        `yaml:"addr"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	JWTSecret      string        `yaml:"jwt_secret"`
	Log            LogConfig     `yaml:"log"`
	Store          StoreConfig   `yaml:"store"`
	Redis          RedisConfig   `yaml:"redis"`
	Socket         SocketConfig  `yaml:"socket"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StoreConfig struct {
	Driver       string        `yaml:"driver"`
	DSN          string        `yaml:"dsn"`
	MongoURI     string        `yaml:"mongo_uri"`
	MongoDB      string        `yaml:"mongo_db"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// RedisConfig is optional: an empty Addr disables the member cache and the
// event relay.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	EventChannel string        `yaml:"event_channel"`
	MemberTTL    time.Duration `yaml:"member_ttl"`
}

type SocketConfig struct {
	MaxMessageSize int64         `yaml:"max_message_size"`
	SendBuffer     int           `yaml:"send_buffer"`
	RateBurst      int           `yaml:"rate_burst"`
	RateInterval   time.Duration `yaml:"rate_interval"`
}

func Default() Config {
	return Config{
		Addr: ":8080",
		Log:  LogConfig{Level: "info", Format: "console"},
		Store: StoreConfig{
			Driver:       StorePostgres,
			MongoDB:      "ChatAPP",
			WriteTimeout: 5 * time.Second,
		},
		Redis: RedisConfig{
			EventChannel: "chat:events",
			MemberTTL:    5 * time.Minute,
		},
		Socket: SocketConfig{
			MaxMessageSize: 64 * 1024,
			SendBuffer:     256,
			RateBurst:      20,
			RateInterval:   time.Second,
		},
		ShutdownGrace: 10 * time.Second,
	}
}

// Load reads path (if non-empty) over the defaults, then applies environment
// overrides and fills anything left unset.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg, os.Getenv)
	sanitize(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	setString("SERVER_ADDR", &cfg.Addr)
	setString("JWT_SECRET", &cfg.JWTSecret)
	setString("LOG_LEVEL", &cfg.Log.Level)
	setString("LOG_FORMAT", &cfg.Log.Format)
	setString("STORE_DRIVER", &cfg.Store.Driver)
	setString("DB_DSN", &cfg.Store.DSN)
	setString("MONGO_URI", &cfg.Store.MongoURI)
	setString("MONGO_DB", &cfg.Store.MongoDB)
	setString("REDIS_ADDR", &cfg.Redis.Addr)
	setString("REDIS_PASSWORD", &cfg.Redis.Password)
	setString("REDIS_EVENT_CHANNEL", &cfg.Redis.EventChannel)

	if v := getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}
	if v := getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Redis.DB = n
		}
	}
	if v := getenv("MAX_MESSAGE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.Socket.MaxMessageSize = n
		}
	}
	if v := getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Socket.RateBurst = n
		}
	}
	if v := getenv("STORE_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Store.WriteTimeout = d
		}
	}
}

func sanitize(cfg *Config) {
	def := Default()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = def.Store.Driver
	}
	if cfg.Store.MongoDB == "" {
		cfg.Store.MongoDB = def.Store.MongoDB
	}
	if cfg.Store.WriteTimeout <= 0 {
		cfg.Store.WriteTimeout = def.Store.WriteTimeout
	}
	if cfg.Redis.EventChannel == "" {
		cfg.Redis.EventChannel = def.Redis.EventChannel
	}
	if cfg.Redis.MemberTTL <= 0 {
		cfg.Redis.MemberTTL = def.Redis.MemberTTL
	}
	if cfg.Socket.MaxMessageSize <= 0 {
		cfg.Socket.MaxMessageSize = def.Socket.MaxMessageSize
	}
	if cfg.Socket.SendBuffer <= 0 {
		cfg.Socket.SendBuffer = def.Socket.SendBuffer
	}
	if cfg.Socket.RateBurst <= 0 {
		cfg.Socket.RateBurst = def.Socket.RateBurst
	}
	if cfg.Socket.RateInterval <= 0 {
		cfg.Socket.RateInterval = def.Socket.RateInterval
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = def.ShutdownGrace
	}
}

// Validate reports settings the server cannot start without.
func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is not set")
	}
	switch c.Store.Driver {
	case StorePostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("DB_DSN is not set")
		}
	case StoreMongo:
		if c.Store.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is not set")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	return nil
}
