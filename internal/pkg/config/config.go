package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type HTTPServerConfig struct {
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type WebsocketConfig struct {
	PathPrefix     string        `mapstructure:"path_prefix"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
}

type PortConfig struct {
	Port string `mapstructure:"port"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RedisConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Addr        string `mapstructure:"addr"`
	Password    string `mapstructure:"password"`
	DB          int    `mapstructure:"db"`
	PresenceKey string `mapstructure:"presence_key"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type EventsConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

// Config is the full game relay service configuration.
type Config struct {
	HTTPServer  HTTPServerConfig `mapstructure:"http_server"`
	Websocket   WebsocketConfig  `mapstructure:"websocket"`
	GRPCServer  PortConfig       `mapstructure:"grpc_server"`
	Diagnostics PortConfig       `mapstructure:"diagnostics"`
	Log         LogConfig        `mapstructure:"log"`
	Redis       RedisConfig      `mapstructure:"redis"`
	Kafka       KafkaConfig      `mapstructure:"kafka"`
	Events      EventsConfig     `mapstructure:"events"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_server.port", "8080")
	v.SetDefault("http_server.shutdown_timeout", 5*time.Second)
	v.SetDefault("websocket.path_prefix", "/ws/game")
	v.SetDefault("websocket.allowed_origins", []string{"*"})
	v.SetDefault("websocket.read_limit", 4096)
	v.SetDefault("websocket.write_wait", 10*time.Second)
	v.SetDefault("websocket.pong_wait", 60*time.Second)
	v.SetDefault("grpc_server.port", "9090")
	v.SetDefault("diagnostics.port", "6060")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.presence_key", "game-relay:presence")
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "game_lifecycle")
	v.SetDefault("events.buffer_size", 1024)
}

// Load reads <name>.yaml from the first matching path. Every key can be
// overridden by an environment variable, e.g. HTTP_SERVER_PORT. A missing
// config file is not an error; defaults and the environment apply.
func Load(name string, paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config %q: %w", name, err)
		}
		slog.Warn("No configuration file found, using defaults and environment", "name", name)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	prefix := c.Websocket.PathPrefix
	if prefix == "" || prefix == "/" || !strings.HasPrefix(prefix, "/") {
		return fmt.Errorf("websocket.path_prefix must be an absolute path, got %q", prefix)
	}
	if c.Redis.Enabled && c.Redis.PresenceKey == "" {
		return errors.New("redis.presence_key is required when redis is enabled")
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return errors.New("kafka.brokers and kafka.topic are required when kafka is enabled")
	}
	return nil
}
