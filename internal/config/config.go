// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/omochice/cipherchat/internal/channel"
	"github.com/omochice/cipherchat/pkg/protocol"
)

const (
	TransportNhooyr = "nhooyr"
	TransportGobwas = "gobwas"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the terminal client configuration.
type Config struct {
	ServerURL     string        `env:"CHAT_SERVER_URL,default=ws://localhost:8080/ws"`
	APIURL        string        `env:"CHAT_API_URL,default=http://localhost:8080"`
	EncryptionKey string        `env:"CHAT_ENCRYPTION_KEY"`
	AuthSecret    string        `env:"CHAT_AUTH_SECRET"`
	AuthTokenTTL  time.Duration `env:"CHAT_AUTH_TOKEN_TTL,default=24h"`
	Codec         string        `env:"CHAT_CODEC,default=json"`
	Transport     string        `env:"CHAT_TRANSPORT,default=nhooyr"`

	TypingTimeout  time.Duration `env:"CHAT_TYPING_TIMEOUT,default=2s"`
	PresenceWindow time.Duration `env:"CHAT_PRESENCE_WINDOW,default=5s"`

	ReconnectInitial     time.Duration `env:"CHAT_RECONNECT_INITIAL,default=500ms"`
	ReconnectMax         time.Duration `env:"CHAT_RECONNECT_MAX,default=30s"`
	ReconnectMaxAttempts int           `env:"CHAT_RECONNECT_MAX_ATTEMPTS,default=0"`
	ReconnectDisabled    bool          `env:"CHAT_RECONNECT_DISABLED,default=false"`

	HistoryPath  string `env:"CHAT_HISTORY_PATH"`
	HistoryLimit int    `env:"CHAT_HISTORY_LIMIT,default=200"`

	UserID    string `env:"CHAT_USER_ID,required=true"`
	UserName  string `env:"CHAT_USER_NAME"`
	UserImage string `env:"CHAT_USER_IMAGE"`

	LogLevel string `env:"LOG_LEVEL,default=INFO"`
}

// Load reads an optional .env file, then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if _, err := protocol.NewCodec(c.Codec, protocol.Inbound); err != nil {
		return fmt.Errorf("%w: CHAT_CODEC: %v", ErrInvalidConfig, err)
	}
	switch c.Transport {
	case TransportNhooyr, TransportGobwas:
	default:
		return fmt.Errorf("%w: CHAT_TRANSPORT must be %q or %q, got %q", ErrInvalidConfig, TransportNhooyr, TransportGobwas, c.Transport)
	}
	if c.TypingTimeout <= 0 || c.PresenceWindow <= 0 {
		return fmt.Errorf("%w: typing timeout and presence window must be positive", ErrInvalidConfig)
	}
	if c.UserID == "" {
		return fmt.Errorf("%w: CHAT_USER_ID is required", ErrInvalidConfig)
	}
	return nil
}

// Identity returns the local identity described by the configuration.
func (c Config) Identity() protocol.Identity {
	name := c.UserName
	if name == "" {
		name = c.UserID
	}
	return protocol.Identity{ID: c.UserID, Name: name, Image: c.UserImage}
}

// Reconnect returns the reconnect strategy for the channel session.
func (c Config) Reconnect() channel.ReconnectStrategy {
	if c.ReconnectDisabled {
		return channel.NoReconnect{}
	}
	return channel.ExponentialBackoff{
		Initial:     c.ReconnectInitial,
		Max:         c.ReconnectMax,
		MaxAttempts: c.ReconnectMaxAttempts,
	}
}

// RelayConfig is the development relay configuration.
type RelayConfig struct {
	Addr       string `env:"RELAY_ADDR,default=:8080"`
	AuthSecret string `env:"CHAT_AUTH_SECRET"`
	LogLevel   string `env:"LOG_LEVEL,default=INFO"`
	SeedRooms  string `env:"RELAY_SEED_ROOMS,default=general"`
}

func LoadRelay() (RelayConfig, error) {
	_ = godotenv.Load()

	var cfg RelayConfig
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return RelayConfig{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}
