package config

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const envPrefix = "SUPPORT_CHAT"

// ServerConfig holds the host's own HTTP surface (health, readiness, metrics, control).
// Note: Fields should be exported (start with uppercase) to be unmarshalled by Viper.
type ServerConfig struct {
	HTTPPort      int    `mapstructure:"http_port"`       // 0 disables the HTTP surface
	ControlAPIKey string `mapstructure:"control_api_key"` // empty disables the /v1 control routes
}

// APIConfig points the client at the support backend.
type APIConfig struct {
	BaseURL               string `mapstructure:"base_url"`   // e.g. https://shop.example.com/api/support
	SocketURL             string `mapstructure:"socket_url"` // e.g. wss://shop.example.com/ws/support
	APIKey                string `mapstructure:"api_key"`    // Should primarily come from ENV
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
}

// StorageConfig selects where the anonymous session identity is persisted.
type StorageConfig struct {
	Driver    string `mapstructure:"driver"`    // "sqlite" or "redis"
	Namespace string `mapstructure:"namespace"` // profile namespace for shared stores
}

// SQLiteConfig holds the local key-value database location.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig holds Redis-related configurations.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"` // Optional
	DB       int    `mapstructure:"db"`       // Optional
}

// NATSConfig configures the optional chat event fan-out.
type NATSConfig struct {
	URL           string `mapstructure:"url"` // empty disables publishing
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// LogConfig holds logging-related configurations.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// ChatConfig holds the defaults used when a conversation is created.
type ChatConfig struct {
	DefaultSubject    string `mapstructure:"default_subject"`
	DefaultDepartment string `mapstructure:"default_department"`
	DefaultPriority   string `mapstructure:"default_priority"`
	AnonymousName     string `mapstructure:"anonymous_name"`
	AnonymousEmail    string `mapstructure:"anonymous_email"`
	AnonymousPhone    string `mapstructure:"anonymous_phone"`
	WelcomeMessage    string `mapstructure:"welcome_message"`
}

// AppConfig holds application-specific configurations.
type AppConfig struct {
	ServiceName                       string `mapstructure:"service_name"`
	Version                           string `mapstructure:"version"`
	ReconnectBaseDelayMs              int    `mapstructure:"reconnect_base_delay_ms"`
	MaxReconnectAttempts              int    `mapstructure:"max_reconnect_attempts"`
	HeartbeatIntervalSeconds          int    `mapstructure:"heartbeat_interval_seconds"`
	SuspendedHeartbeatIntervalSeconds int    `mapstructure:"suspended_heartbeat_interval_seconds"`
	DialTimeoutSeconds                int    `mapstructure:"dial_timeout_seconds"`
	WriteTimeoutSeconds               int    `mapstructure:"write_timeout_seconds"`
	ReconcileDelayMs                  int    `mapstructure:"reconcile_delay_ms"`
	CountsRefreshDelayMs              int    `mapstructure:"counts_refresh_delay_ms"`
	TypingIdleTimeoutMs               int    `mapstructure:"typing_idle_timeout_ms"`
	MarkReadConcurrency               int    `mapstructure:"mark_read_concurrency"`
	ShutdownTimeoutSeconds            int    `mapstructure:"shutdown_timeout_seconds"`
}

// Config holds all configuration for the application.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	API     APIConfig     `mapstructure:"api"`
	Storage StorageConfig `mapstructure:"storage"`
	SQLite  SQLiteConfig  `mapstructure:"sqlite"`
	Redis   RedisConfig   `mapstructure:"redis"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Log     LogConfig     `mapstructure:"log"`
	Chat    ChatConfig    `mapstructure:"chat"`
	App     AppConfig     `mapstructure:"app"`
}

// ReconnectBaseDelay returns the backoff base, defaulting to one second.
func (c AppConfig) ReconnectBaseDelay() time.Duration {
	return msOrDefault(c.ReconnectBaseDelayMs, time.Second)
}

// ReconcileDelay is how long after a send the message list is re-fetched.
func (c AppConfig) ReconcileDelay() time.Duration {
	return msOrDefault(c.ReconcileDelayMs, 1500*time.Millisecond)
}

// CountsRefreshDelay is how long after a push event counts are re-fetched.
func (c AppConfig) CountsRefreshDelay() time.Duration {
	return msOrDefault(c.CountsRefreshDelayMs, 2*time.Second)
}

// TypingIdleTimeout is how long a typing=true indicator lives without renewal.
func (c AppConfig) TypingIdleTimeout() time.Duration {
	return msOrDefault(c.TypingIdleTimeoutMs, 3*time.Second)
}

func msOrDefault(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

// Provider defines an interface for accessing application configuration.
// This allows for easy mocking in tests and decouples the app from Viper.
type Provider interface {
	Get() *Config
}

// Source names the config file to load. Empty fields fall back to the
// VIPER_CONFIG_NAME / VIPER_CONFIG_PATH environment variables.
type Source struct {
	Name string
	Path string
}

// viperProvider implements the Provider interface using Viper.
type viperProvider struct {
	mu     sync.RWMutex
	config *Config
	logger *zap.Logger // Using zap.Logger directly for config internal logging, not domain.Logger to avoid circular deps
}

func setDefaults(v *viper.Viper) {
	// Empty defaults register the keys so AutomaticEnv can fill them during Unmarshal.
	for _, key := range []string{"api.base_url", "api.socket_url", "api.api_key", "storage.namespace", "redis.address", "redis.password", "nats.url", "chat.anonymous_phone", "server.control_api_key"} {
		v.SetDefault(key, "")
	}
	v.SetDefault("server.http_port", 0)
	v.SetDefault("redis.db", 0)
	v.SetDefault("api.request_timeout_seconds", 10)
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("sqlite.path", "support-chat.db")
	v.SetDefault("nats.subject_prefix", "support_chat")
	v.SetDefault("log.level", "info")
	v.SetDefault("chat.default_subject", "Support request")
	v.SetDefault("chat.default_department", "general")
	v.SetDefault("chat.default_priority", "medium")
	v.SetDefault("chat.anonymous_name", "Anonymous Visitor")
	v.SetDefault("chat.anonymous_email", "anonymous@visitor.local")
	v.SetDefault("chat.welcome_message", "Hi! How can we help you today?")
	v.SetDefault("app.service_name", "support-chat-client")
	v.SetDefault("app.reconnect_base_delay_ms", 1000)
	v.SetDefault("app.max_reconnect_attempts", 5)
	v.SetDefault("app.heartbeat_interval_seconds", 30)
	v.SetDefault("app.suspended_heartbeat_interval_seconds", 120)
	v.SetDefault("app.dial_timeout_seconds", 10)
	v.SetDefault("app.write_timeout_seconds", 10)
	v.SetDefault("app.reconcile_delay_ms", 1500)
	v.SetDefault("app.counts_refresh_delay_ms", 2000)
	v.SetDefault("app.typing_idle_timeout_ms", 3000)
	v.SetDefault("app.mark_read_concurrency", 8)
	v.SetDefault("app.shutdown_timeout_seconds", 10)
}

// NewViperProvider creates and initializes a new configuration provider using Viper.
// It loads configuration from file and environment variables, and sets up hot-reloading.
// appCtx is the application lifecycle context used for graceful shutdown of background tasks.
func NewViperProvider(appCtx context.Context, logger *zap.Logger, src Source) (Provider, error) {
	cfg := &Config{}
	v := viper.New()
	setDefaults(v)

	v.SetConfigName(firstNonEmpty(src.Name, getEnv("VIPER_CONFIG_NAME", "config")))
	v.SetConfigType("yaml")
	if path := firstNonEmpty(src.Path, os.Getenv("VIPER_CONFIG_PATH")); path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".") // Also look in current directory for local dev

	// Configure Viper to read from environment variables
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_")) // e.g., api.base_url becomes SUPPORT_CHAT_API_BASE_URL

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logger.Warn("Config file not found; relying on defaults and environment variables", zap.Error(err))
		} else {
			logger.Error("Failed to read config file", zap.Error(err))
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		logger.Error("Failed to unmarshal config", zap.Error(err))
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	p := &viperProvider{
		config: cfg,
		logger: logger,
	}

	// SIGHUP re-reads the file; useful when the host rotates the API key.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGHUP)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("Panic recovered in SIGHUP handler goroutine",
					zap.String("goroutine_name", "SIGHUPConfigReloader"),
					zap.Any("panic_info", r),
					zap.String("stacktrace", string(debug.Stack())),
				)
			}
		}()
		defer signal.Stop(sigChan)
		for {
			select {
			case sig := <-sigChan:
				p.logger.Info("SIGHUP received, attempting to reload configuration...", zap.String("signal", sig.String()))
				if err := v.ReadInConfig(); err != nil {
					p.logger.Error("Failed to re-read config file on SIGHUP", zap.Error(err))
					continue
				}
				p.reload(v, "sighup")
			case <-appCtx.Done():
				return
			}
		}
	}()

	if v.ConfigFileUsed() != "" {
		v.OnConfigChange(func(e fsnotify.Event) {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("Panic recovered in OnConfigChange callback",
						zap.String("event_name", e.Name),
						zap.String("event_op", e.Op.String()),
						zap.Any("panic_info", r),
						zap.String("stacktrace", string(debug.Stack())),
					)
				}
			}()
			p.logger.Info("Config file changed", zap.String("name", e.Name), zap.String("op", e.Op.String()))
			p.reload(v, "file_change")
		})
		v.WatchConfig()
	}

	p.logger.Info("Configuration loaded successfully", zap.String("config_file_used", v.ConfigFileUsed()))

	return p, nil
}

func (p *viperProvider) reload(v *viper.Viper, trigger string) {
	newCfg := &Config{}
	if err := v.Unmarshal(newCfg); err != nil {
		p.logger.Error("Failed to unmarshal reloaded config", zap.String("trigger", trigger), zap.Error(err))
		return
	}
	p.mu.Lock()
	p.config = newCfg
	p.mu.Unlock()
	p.logger.Info("Configuration reloaded successfully", zap.String("trigger", trigger))
}

// Get returns the current configuration.
func (p *viperProvider) Get() *Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.config
}

// staticProvider serves a fixed configuration. Used by tests and embedders.
type staticProvider struct {
	config *Config
}

// NewStaticProvider wraps cfg in a Provider.
func NewStaticProvider(cfg *Config) Provider {
	return &staticProvider{config: cfg}
}

func (p *staticProvider) Get() *Config {
	return p.config
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
