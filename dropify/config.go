package dropify

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultReconnectDelay is the constant wait before redialing a dropped channel.
const DefaultReconnectDelay = 2 * time.Second

// Config controls how the SDK reaches the backend.
type Config struct {
	BackendURL       string        `yaml:"backend_url"`
	ReconnectDelay   time.Duration `yaml:"reconnect_delay"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ReadTimeout      time.Duration `yaml:"read_timeout"` // 0 keeps idle channels open
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	HTTPTimeout      time.Duration `yaml:"http_timeout"`
	MaxMessageSize   int64         `yaml:"max_message_size"` // 0 keeps the library default
	CachePath        string        `yaml:"cache_path"`
	Dedup            bool          `yaml:"dedup"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BackendURL:       "http://localhost:8000",
		ReconnectDelay:   DefaultReconnectDelay,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		HTTPTimeout:      30 * time.Second,
		MaxMessageSize:   16 << 20,
		CachePath:        "dropify-cache.db",
	}
}

// LoadConfig builds a Config from defaults, a .env file in the working
// directory, an optional YAML file at path, and finally the environment.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, WrapError(ErrorInvalidConfig, "load .env", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, WrapError(ErrorInvalidConfig, "read config file", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, WrapError(ErrorInvalidConfig, "parse config file", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	// the web client's variable name is honoured as a fallback
	if v := getEnv("DROPIFY_BACKEND_URL", os.Getenv("NEXT_PUBLIC_BACKEND_URL")); v != "" {
		c.BackendURL = v
	}
	if v := os.Getenv("DROPIFY_CACHE_PATH"); v != "" {
		c.CachePath = v
	}
	if v := os.Getenv("DROPIFY_RECONNECT_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return WrapError(ErrorInvalidConfig, "DROPIFY_RECONNECT_DELAY", err)
		}
		c.ReconnectDelay = d
	}
	if v := os.Getenv("DROPIFY_DEDUP"); v != "" {
		c.Dedup = v == "1" || v == "true"
	}
	return nil
}

// Validate checks that the config can be used to open sessions.
func (c Config) Validate() error {
	if c.BackendURL == "" {
		return NewError(ErrorInvalidConfig, "empty backend URL")
	}
	u, err := url.Parse(c.BackendURL)
	if err != nil {
		return WrapError(ErrorInvalidConfig, "invalid backend URL", err)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return NewError(ErrorInvalidConfig, fmt.Sprintf("unsupported backend scheme %q", u.Scheme))
	}
	if c.ReconnectDelay <= 0 {
		return NewError(ErrorInvalidConfig, "reconnect delay must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
