package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/riverbase/authgate/pkg/api"
	"github.com/riverbase/authgate/pkg/config"
	"github.com/riverbase/authgate/pkg/menu"
	"github.com/riverbase/authgate/pkg/observability"
	"github.com/riverbase/authgate/pkg/remote"
	"github.com/riverbase/authgate/pkg/session"
	"github.com/riverbase/authgate/pkg/token"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "authgate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithField("level", cfg.Observability.LogLevel.String()).Info("starting authgate")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	if providers != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := providers.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Warn("tracing shutdown failed")
			}
		}()
	}

	store, err := session.NewStore(cfg.Cache)
	if err != nil {
		return fmt.Errorf("connecting session cache: %w", err)
	}
	defer store.Close()
	logger.Info("session cache connected")

	caller := remote.NewHTTPCaller(cfg.Services.AuthBaseURL, cfg.Services.RDBBaseURL)
	if metrics != nil {
		caller.Observe = metrics.ObserveUpstreamCall
	}

	codec := token.NewCodec(cfg.Auth.SigningSecret, cfg.Auth.TokenValiditySeconds)

	sheets, sheetNames, closeSheets, err := buildSheetSource(cfg, caller, logger)
	if err != nil {
		return err
	}
	if closeSheets != nil {
		defer closeSheets()
	}

	var publish func(int)
	if metrics != nil {
		publish = func(count int) { metrics.SessionsOnline.Set(float64(count)) }
	}
	janitor := session.NewJanitor(store, logger, "", publish)
	if err := janitor.Start(); err != nil {
		return fmt.Errorf("starting session janitor: %w", err)
	}
	defer janitor.Stop()

	server := api.NewServer(api.Deps{
		Codec:      codec,
		Store:      store,
		Caller:     caller,
		Sheets:     sheets,
		SheetNames: sheetNames,
		Logger:     logger,
		Metrics:    metrics,
		OIDC:       cfg.OIDC,
		RefreshTTL: cfg.Auth.RefreshTTL,
	})

	var handler http.Handler = server
	if providers != nil {
		handler = otelhttp.NewHandler(handler, "authgate")
	}

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: observability.NewHealthChecker(store).Handler(registry),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("api server listening")
		if err := apiServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("api server shutdown failed")
		}
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("health server shutdown failed")
		}
		return nil
	})

	return g.Wait()
}

// buildSheetSource serves permission sheets either from a watched local YAML
// file or from the RDB backend through an LRU cache.
func buildSheetSource(cfg *config.Config, caller remote.Caller, logger *observability.Logger) (menu.SheetSource, []string, func() error, error) {
	if cfg.Menu.SheetFile != "" {
		source, err := menu.NewFileSource(cfg.Menu.SheetFile, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("loading sheet file: %w", err)
		}
		names := cfg.Menu.Sheets
		if len(names) == 0 {
			names = source.SheetNames()
		}
		logger.WithField("file", cfg.Menu.SheetFile).Info("serving permission sheets from file")
		return source, names, source.Close, nil
	}

	source, err := menu.NewRemoteSource(caller, cfg.Menu.SheetCacheSize)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("building sheet cache: %w", err)
	}
	return source, cfg.Menu.Sheets, nil, nil
}
