package bootstrap

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/support-chat-client/internal/adapters/config"
	"gitlab.com/timkado/api/support-chat-client/internal/adapters/events"
	apphttp "gitlab.com/timkado/api/support-chat-client/internal/adapters/http"
	"gitlab.com/timkado/api/support-chat-client/internal/adapters/identity"
	"gitlab.com/timkado/api/support-chat-client/internal/adapters/logger"
	appnats "gitlab.com/timkado/api/support-chat-client/internal/adapters/nats"
	appredis "gitlab.com/timkado/api/support-chat-client/internal/adapters/redis"
	"gitlab.com/timkado/api/support-chat-client/internal/adapters/rest"
	appsqlite "gitlab.com/timkado/api/support-chat-client/internal/adapters/sqlite"
	wsadapter "gitlab.com/timkado/api/support-chat-client/internal/adapters/websocket"
	"gitlab.com/timkado/api/support-chat-client/internal/application"
	"gitlab.com/timkado/api/support-chat-client/internal/domain"
)

// Flags are the command-line inputs of the host process.
type Flags struct {
	ConfigPath string
	ConfigName string
	UserID     string
	Token      string
	// Interactive runs the stdin terminal loop.
	Interactive bool
	In          io.Reader
	Out         io.Writer
}

// InitialZapLoggerProvider provides a basic *zap.Logger instance, primarily for config initialization.
func InitialZapLoggerProvider() (*zap.Logger, func(), error) {
	logger, err := zap.NewProduction()
	if err != nil {
		logger, err = zap.NewDevelopment()
		if err != nil {
			logger = zap.NewExample()
			fmt.Fprintf(os.Stderr, "Failed to create initial zap logger (production and development failed, falling back to example): %v\n", err)
		}
	}

	cleanup := func() {
		// Sync on stderr fails with EINVAL on some terminals; nothing to do about it.
		_ = logger.Sync()
	}
	return logger, cleanup, nil
}

// App struct is defined here for Wire to use.
type App struct {
	configProvider  config.Provider
	logger          domain.Logger
	httpServeMux    *http.ServeMux
	httpServer      *http.Server
	orchestrator    *application.Orchestrator
	kvStore         domain.KeyValueStore
	publisher       *appnats.EventPublisher
	controlHandlers *apphttp.ControlHandlers
	terminal        *Terminal
	flags           Flags
}

// NewApp is the constructor for App, also for Wire.
func NewApp(
	cfgProvider config.Provider,
	appLogger domain.Logger,
	mux *http.ServeMux,
	server *http.Server,
	orchestrator *application.Orchestrator,
	kvStore domain.KeyValueStore,
	publisher *appnats.EventPublisher,
	controlHandlers *apphttp.ControlHandlers,
	terminal *Terminal,
	flags Flags,
) (*App, func(), error) {
	app := &App{
		configProvider:  cfgProvider,
		logger:          appLogger,
		httpServeMux:    mux,
		httpServer:      server,
		orchestrator:    orchestrator,
		kvStore:         kvStore,
		publisher:       publisher,
		controlHandlers: controlHandlers,
		terminal:        terminal,
		flags:           flags,
	}

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := app.orchestrator.Teardown(ctx); err != nil {
			app.logger.Warn(ctx, "Chat teardown did not finish cleanly", "error", err.Error())
		}
	}
	return app, cleanup, nil
}

func ConfigProvider(appCtx context.Context, logger *zap.Logger, flags Flags) (config.Provider, error) {
	return config.NewViperProvider(appCtx, logger, config.Source{Name: flags.ConfigName, Path: flags.ConfigPath})
}

func LoggerProvider(cfgProvider config.Provider) (domain.Logger, error) {
	return logger.NewZapAdapter(cfgProvider, cfgProvider.Get().App.ServiceName)
}

func HTTPServeMuxProvider() *http.ServeMux {
	return http.NewServeMux()
}

func HTTPGracefulServerProvider(cfgProvider config.Provider, mux *http.ServeMux) *http.Server {
	appCfg := cfgProvider.Get()

	writeTimeout := 10 * time.Second
	if appCfg.App.WriteTimeoutSeconds > 0 {
		writeTimeout = time.Duration(appCfg.App.WriteTimeoutSeconds) * time.Second
	}

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", appCfg.Server.HTTPPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}
}

// HTTPClientProvider is the outbound client shared by the REST gateway and the socket dialer.
func HTTPClientProvider(cfgProvider config.Provider) *http.Client {
	timeout := 10 * time.Second
	if s := cfgProvider.Get().API.RequestTimeoutSeconds; s > 0 {
		timeout = time.Duration(s) * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func IdentityHolderProvider(flags Flags) *identity.Holder {
	if flags.UserID == "" {
		return identity.NewHolder(nil)
	}
	return identity.NewHolder(&domain.Identity{UserID: flags.UserID, Token: flags.Token})
}

// KeyValueStoreProvider opens the session identity store selected by storage.driver.
func KeyValueStoreProvider(cfgProvider config.Provider, appLogger domain.Logger) (domain.KeyValueStore, func(), error) {
	appCfg := cfgProvider.Get()

	switch appCfg.Storage.Driver {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     appCfg.Redis.Address,
			Password: appCfg.Redis.Password,
			DB:       appCfg.Redis.DB,
		})
		if _, err := client.Ping(context.Background()).Result(); err != nil {
			appLogger.Error(context.Background(), "Failed to connect to Redis", "error", err.Error(), "address", appCfg.Redis.Address)
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to connect to Redis at %s: %w", appCfg.Redis.Address, err)
		}
		cleanup := func() {
			client.Close()
			appLogger.Info(context.Background(), "Redis connection closed")
		}
		appLogger.Info(context.Background(), "Session store: Redis", "address", appCfg.Redis.Address, "namespace", appCfg.Storage.Namespace)
		return appredis.NewKeyValueStore(client, appCfg.Storage.Namespace, appLogger), cleanup, nil

	case "sqlite", "":
		store, err := appsqlite.Open(appCfg.SQLite.Path, appLogger)
		if err != nil {
			return nil, nil, err
		}
		cleanup := func() {
			if err := store.Close(); err != nil {
				appLogger.Warn(context.Background(), "Failed to close SQLite store", "error", err.Error())
			}
		}
		appLogger.Info(context.Background(), "Session store: SQLite", "path", appCfg.SQLite.Path)
		return store, cleanup, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", appCfg.Storage.Driver)
	}
}

func GatewayProvider(cfgProvider config.Provider, identity domain.IdentityProvider, logger domain.Logger, client *http.Client) *rest.Gateway {
	return rest.NewGateway(cfgProvider, identity, logger, client)
}

func DialerProvider(cfgProvider config.Provider, logger domain.Logger, client *http.Client) *wsadapter.Dialer {
	return wsadapter.NewDialer(cfgProvider, logger, client)
}

func TransportManagerProvider(dialer domain.SocketDialer, cfgProvider config.Provider, logger domain.Logger) *application.TransportManager {
	return application.NewTransportManager(dialer, cfgProvider, logger)
}

func SessionIdentityStoreProvider(kv domain.KeyValueStore, gateway domain.ChatGateway, logger domain.Logger) *application.SessionIdentityStore {
	return application.NewSessionIdentityStore(kv, gateway, logger)
}

func NotificationSynchronizerProvider(gateway domain.ChatGateway, cfgProvider config.Provider, sink domain.EventSink, logger domain.Logger) *application.NotificationSynchronizer {
	return application.NewNotificationSynchronizer(gateway, cfgProvider, sink, logger)
}

func EventPublisherProvider(ctx context.Context, cfgProvider config.Provider, identity domain.IdentityProvider, appLogger domain.Logger) (*appnats.EventPublisher, func(), error) {
	return appnats.NewEventPublisher(ctx, cfgProvider, identity, appLogger)
}

// EventSinkProvider fans chat events out to the terminal (when interactive) and NATS (when configured).
func EventSinkProvider(flags Flags, publisher *appnats.EventPublisher) domain.EventSink {
	var sinks []domain.EventSink
	if flags.Interactive && flags.Out != nil {
		sinks = append(sinks, events.NewConsoleSink(flags.Out))
	}
	if publisher != nil {
		sinks = append(sinks, publisher)
	}
	return events.NewMultiSink(sinks...)
}

func OrchestratorProvider(
	gateway domain.ChatGateway,
	transport application.Transport,
	sessions *application.SessionIdentityStore,
	notifications *application.NotificationSynchronizer,
	identity domain.IdentityProvider,
	sink domain.EventSink,
	cfgProvider config.Provider,
	logger domain.Logger,
) *application.Orchestrator {
	return application.NewOrchestrator(gateway, transport, sessions, notifications, identity, sink, cfgProvider, logger)
}

func ControlHandlersProvider(orchestrator *application.Orchestrator, holder *identity.Holder, logger domain.Logger) *apphttp.ControlHandlers {
	return apphttp.NewControlHandlers(orchestrator, holder, logger)
}

func TerminalProvider(orchestrator *application.Orchestrator, holder *identity.Holder, flags Flags, logger domain.Logger) *Terminal {
	return NewTerminal(orchestrator, holder, flags.Out, logger)
}

var ProviderSet = wire.NewSet(
	ConfigProvider,
	LoggerProvider,
	HTTPServeMuxProvider,
	HTTPGracefulServerProvider,
	InitialZapLoggerProvider,
	HTTPClientProvider,

	IdentityHolderProvider,
	wire.Bind(new(domain.IdentityProvider), new(*identity.Holder)),

	KeyValueStoreProvider,
	GatewayProvider,
	wire.Bind(new(domain.ChatGateway), new(*rest.Gateway)),
	DialerProvider,
	wire.Bind(new(domain.SocketDialer), new(*wsadapter.Dialer)),
	TransportManagerProvider,
	wire.Bind(new(application.Transport), new(*application.TransportManager)),

	SessionIdentityStoreProvider,
	NotificationSynchronizerProvider,
	EventPublisherProvider,
	EventSinkProvider,
	OrchestratorProvider,

	ControlHandlersProvider,
	TerminalProvider,
	NewApp,
)
