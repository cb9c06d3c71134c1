package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gitlab.com/timkado/api/support-chat-client/internal/adapters/middleware"
	"gitlab.com/timkado/api/support-chat-client/pkg/safego"
)

// NOTE: The App struct and NewApp function are defined in providers.go for Wire.

// Run opens the chat, serves the optional host HTTP surface and blocks until
// a shutdown signal, ctx cancellation, or the terminal loop ending.
func (a *App) Run(ctx context.Context) error {
	appCfg := a.configProvider.Get()
	version := "unknown"
	serviceName := "support-chat-client"
	if appCfg.App.Version != "" {
		version = appCfg.App.Version
	}
	if appCfg.App.ServiceName != "" {
		serviceName = appCfg.App.ServiceName
	}
	a.logger.Info(ctx, "Starting application", "service_name", serviceName, "version", version)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	serverErr := make(chan error, 1)
	if appCfg.Server.HTTPPort > 0 {
		a.registerRoutes(runCtx)
		safego.Execute(runCtx, a.logger, "HostHTTPServer", func() {
			a.logger.Info(runCtx, fmt.Sprintf("HTTP server listening on port %d", appCfg.Server.HTTPPort))
			if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error(runCtx, "HTTP server ListenAndServe error", "error", err.Error())
				serverErr <- fmt.Errorf("failed to start HTTP server: %w", err)
			}
		})
	} else {
		a.logger.Info(ctx, "HTTP surface disabled (server.http_port is 0)")
	}

	if err := a.orchestrator.Open(runCtx); err != nil {
		a.logger.Warn(runCtx, "Initial open failed; the first message will retry", "error", err.Error())
	}

	terminalDone := make(chan struct{})
	if a.flags.Interactive && a.flags.In != nil {
		safego.Execute(runCtx, a.logger, "TerminalLoop", func() {
			defer close(terminalDone)
			if err := a.terminal.Run(runCtx, a.flags.In); err != nil {
				a.logger.Warn(runCtx, "Terminal input failed", "error", err.Error())
			}
		})
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(signals)

	var runErr error
wait:
	for {
		select {
		case sig := <-signals:
			switch sig {
			case syscall.SIGUSR1:
				a.logger.Info(runCtx, "Host hidden, suspending background activity")
				a.orchestrator.Suspend()
				continue
			case syscall.SIGUSR2:
				a.logger.Info(runCtx, "Host visible, resuming background activity")
				a.orchestrator.Resume(runCtx)
				continue
			}
			a.logger.Info(context.Background(), "Shutdown signal received, initiating graceful shutdown...", "signal", sig.String())
			break wait
		case <-terminalDone:
			a.logger.Info(context.Background(), "Terminal closed, initiating graceful shutdown...")
			break wait
		case runErr = <-serverErr:
			break wait
		case <-ctx.Done():
			a.logger.Info(context.Background(), "Application context cancelled, initiating graceful shutdown...")
			break wait
		}
	}
	stop()

	shutdownTimeout := 10 * time.Second
	if appCfg.App.ShutdownTimeoutSeconds > 0 {
		shutdownTimeout = time.Duration(appCfg.App.ShutdownTimeoutSeconds) * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.orchestrator.Teardown(shutdownCtx); err != nil {
		a.logger.Error(shutdownCtx, "Chat teardown did not finish in time", "error", err.Error())
	}
	if appCfg.Server.HTTPPort > 0 {
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error(shutdownCtx, "HTTP server graceful shutdown failed", "error", err.Error())
		}
	}

	a.logger.Info(shutdownCtx, "Application shut down gracefully.")
	return runErr
}

func (a *App) registerRoutes(ctx context.Context) {
	withRequestContext := middleware.RequestContext(a.logger)

	a.httpServeMux.Handle("GET /health", withRequestContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status":"OK"}`)
	})))
	a.httpServeMux.Handle("GET /ready", withRequestContext(http.HandlerFunc(a.ready)))
	a.httpServeMux.Handle("GET /metrics", withRequestContext(promhttp.Handler()))
	a.logger.Info(ctx, "Prometheus metrics endpoint registered at /metrics")

	if a.configProvider.Get().Server.ControlAPIKey == "" {
		a.logger.Warn(ctx, "server.control_api_key not set; /v1 control routes are not available")
		return
	}
	apiKeyAuth := middleware.ControlAPIKeyMiddleware(a.configProvider, a.logger)
	a.controlHandlers.Register(a.httpServeMux, func(h http.Handler) http.Handler {
		return withRequestContext(apiKeyAuth(h))
	})
	a.logger.Info(ctx, "/v1 control routes registered")
}

func (a *App) ready(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ready := true
	dependenciesStatus := make(map[string]string)

	if err := a.kvStore.Ping(r.Context()); err == nil {
		dependenciesStatus["session_store"] = "ok"
	} else {
		dependenciesStatus["session_store"] = "unavailable"
		ready = false
		a.logger.Warn(r.Context(), "Readiness check failed: session store ping failed", "error", err.Error())
	}

	switch {
	case a.publisher == nil:
		dependenciesStatus["nats"] = "not_configured"
	case a.publisher.Healthy():
		dependenciesStatus["nats"] = "connected"
	default:
		dependenciesStatus["nats"] = "disconnected"
		ready = false
		a.logger.Warn(r.Context(), "Readiness check failed: NATS disconnected")
	}

	snap := a.orchestrator.Snapshot()
	dependenciesStatus["chat"] = snap.Status

	response := struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}{
		Dependencies: dependenciesStatus,
	}

	if ready {
		response.Status = "READY"
		w.WriteHeader(http.StatusOK)
	} else {
		response.Status = "NOT_READY"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		a.logger.Error(r.Context(), "Failed to encode readiness response", "error", err.Error())
	}
}
