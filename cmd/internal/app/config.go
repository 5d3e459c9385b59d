package app

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"arclink/cmd/internal/auth/credential"
	"arclink/cmd/internal/auth/session"

	"github.com/BurntSushi/toml"
)

// Store kinds accepted by Config.Store.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// ErrConfig marks an invalid runtime configuration.
var ErrConfig = errors.New("app: invalid config")

// Config contains the client runtime configuration.
// Sources, lowest precedence first: defaults, TOML file, ARCLINK_* env.
type Config struct {
	APIBaseURL     string
	RequestTimeout time.Duration
	RefreshTimeout time.Duration

	WSURL          string
	WSSubprotocols []string
	ReconnectBase  time.Duration
	ReconnectMax   int
	WSDialTimeout  time.Duration
	WSWriteTimeout time.Duration

	LogLevel  string
	LogFormat string

	Store     string
	StorePath string
	StoreKey  string

	RedisAddr   string
	RedisPrefix string
	RedisTTL    time.Duration

	DatabaseURL string
	Profile     string
	DBMaxConns  int32

	MetricsAddr string
}

// fileConfig is the TOML layout. Durations are Go duration strings.
type fileConfig struct {
	APIBaseURL     string   `toml:"api_base_url"`
	RequestTimeout string   `toml:"request_timeout"`
	RefreshTimeout string   `toml:"refresh_timeout"`
	WSURL          string   `toml:"ws_url"`
	WSSubprotocols []string `toml:"ws_subprotocols"`
	ReconnectBase  string   `toml:"reconnect_base"`
	ReconnectMax   int      `toml:"reconnect_max"`
	LogLevel       string   `toml:"log_level"`
	LogFormat      string   `toml:"log_format"`
	Store          string   `toml:"store"`
	StorePath      string   `toml:"store_path"`
	StoreKey       string   `toml:"store_key"`
	RedisAddr      string   `toml:"redis_addr"`
	RedisPrefix    string   `toml:"redis_prefix"`
	RedisTTL       string   `toml:"redis_ttl"`
	DatabaseURL    string   `toml:"database_url"`
	Profile        string   `toml:"profile"`
	MetricsAddr    string   `toml:"metrics_addr"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	sc := session.DefaultConfig()
	return Config{
		APIBaseURL:     sc.BaseURL,
		RequestTimeout: sc.Timeout,
		RefreshTimeout: sc.RefreshTimeout,

		WSURL:          "ws://localhost:8000/ws/chat/{chat_id}/",
		ReconnectBase:  time.Second,
		ReconnectMax:   5,
		WSDialTimeout:  10 * time.Second,
		WSWriteTimeout: 5 * time.Second,

		LogLevel:  "info",
		LogFormat: "json",

		Store:     StoreFile,
		StorePath: credential.DefaultFilePath(),

		RedisAddr:   "localhost:6379",
		RedisPrefix: "arclink",

		Profile:    "default",
		DBMaxConns: 4,
	}
}

// LoadConfig builds a Config from defaults, the optional TOML file at path
// and the environment.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	env := newEnvOverlay(os.LookupEnv)

	path = strings.TrimSpace(path)
	if path == "" {
		env.str("ARCLINK_CONFIG", &path)
	}
	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg, env); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func applyFile(cfg *Config, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("%w: unknown key %q in %s", ErrConfig, undecoded[0].String(), path)
	}

	if meta.IsDefined("api_base_url") {
		cfg.APIBaseURL = strings.TrimSpace(raw.APIBaseURL)
	}
	if meta.IsDefined("ws_url") {
		cfg.WSURL = strings.TrimSpace(raw.WSURL)
	}
	if meta.IsDefined("ws_subprotocols") {
		cfg.WSSubprotocols = trimAll(raw.WSSubprotocols)
	}
	if meta.IsDefined("reconnect_max") {
		cfg.ReconnectMax = raw.ReconnectMax
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("log_format") {
		cfg.LogFormat = strings.TrimSpace(raw.LogFormat)
	}
	if meta.IsDefined("store") {
		cfg.Store = strings.TrimSpace(raw.Store)
	}
	if meta.IsDefined("store_path") {
		cfg.StorePath = strings.TrimSpace(raw.StorePath)
	}
	if meta.IsDefined("store_key") {
		cfg.StoreKey = strings.TrimSpace(raw.StoreKey)
	}
	if meta.IsDefined("redis_addr") {
		cfg.RedisAddr = strings.TrimSpace(raw.RedisAddr)
	}
	if meta.IsDefined("redis_prefix") {
		cfg.RedisPrefix = strings.TrimSpace(raw.RedisPrefix)
	}
	if meta.IsDefined("database_url") {
		cfg.DatabaseURL = strings.TrimSpace(raw.DatabaseURL)
	}
	if meta.IsDefined("profile") {
		cfg.Profile = strings.TrimSpace(raw.Profile)
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"request_timeout", raw.RequestTimeout, &cfg.RequestTimeout},
		{"refresh_timeout", raw.RefreshTimeout, &cfg.RefreshTimeout},
		{"reconnect_base", raw.ReconnectBase, &cfg.ReconnectBase},
		{"redis_ttl", raw.RedisTTL, &cfg.RedisTTL},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrConfig, d.key, err)
		}
		*d.dst = v
	}
	return nil
}

func applyEnv(cfg *Config, env *envOverlay) error {
	env.str("ARCLINK_API_BASE_URL", &cfg.APIBaseURL)
	env.duration("ARCLINK_REQUEST_TIMEOUT", &cfg.RequestTimeout)
	env.duration("ARCLINK_REFRESH_TIMEOUT", &cfg.RefreshTimeout)

	env.str("ARCLINK_WS_URL", &cfg.WSURL)
	env.list("ARCLINK_WS_SUBPROTOCOLS", &cfg.WSSubprotocols)
	env.duration("ARCLINK_RECONNECT_BASE", &cfg.ReconnectBase)
	env.count("ARCLINK_RECONNECT_MAX", &cfg.ReconnectMax)

	env.str("ARCLINK_LOG_LEVEL", &cfg.LogLevel)
	env.str("ARCLINK_LOG_FORMAT", &cfg.LogFormat)

	env.str("ARCLINK_STORE", &cfg.Store)
	env.str("ARCLINK_STORE_PATH", &cfg.StorePath)
	env.str("ARCLINK_STORE_KEY", &cfg.StoreKey)

	env.str("ARCLINK_REDIS_ADDR", &cfg.RedisAddr)
	env.str("ARCLINK_REDIS_PREFIX", &cfg.RedisPrefix)
	env.duration("ARCLINK_REDIS_TTL", &cfg.RedisTTL)

	env.str("ARCLINK_DATABASE_URL", &cfg.DatabaseURL)
	env.str("ARCLINK_PROFILE", &cfg.Profile)
	env.count32("ARCLINK_DB_MAX_CONNS", &cfg.DBMaxConns)

	env.str("ARCLINK_METRICS_ADDR", &cfg.MetricsAddr)
	return env.err()
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreFile, StoreRedis, StorePostgres:
	default:
		return fmt.Errorf("%w: unknown store %q", ErrConfig, c.Store)
	}
	if c.Store == StorePostgres && c.DatabaseURL == "" {
		return fmt.Errorf("%w: store=postgres requires ARCLINK_DATABASE_URL", ErrConfig)
	}
	if c.Store == StoreFile && c.StorePath == "" {
		return fmt.Errorf("%w: store=file requires a path", ErrConfig)
	}
	if !strings.Contains(c.WSURL, "{chat_id}") {
		return fmt.Errorf("%w: ws url must contain {chat_id}", ErrConfig)
	}
	if c.ReconnectBase <= 0 || c.ReconnectMax <= 0 {
		return fmt.Errorf("%w: reconnect base and max must be positive", ErrConfig)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "pretty", "text":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrConfig, c.LogFormat)
	}
	if _, err := c.Session(); err != nil {
		return err
	}
	return nil
}

// Session derives the HTTP client configuration.
func (c Config) Session() (session.Config, error) {
	sc := session.DefaultConfig()
	sc.BaseURL = c.APIBaseURL
	sc.Timeout = c.RequestTimeout
	sc.RefreshTimeout = c.RefreshTimeout
	return sc.Validate()
}

// ChannelURL expands the channel URL template for one chat.
func (c Config) ChannelURL(chatID string) (string, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return "", fmt.Errorf("%w: empty chat id", ErrConfig)
	}
	return strings.ReplaceAll(c.WSURL, "{chat_id}", url.PathEscape(chatID)), nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
