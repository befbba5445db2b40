package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vabridge/internal/app"
	"github.com/MrWong99/vabridge/internal/config"
	"github.com/MrWong99/vabridge/internal/health"
	"github.com/MrWong99/vabridge/internal/observe"
)

const shutdownTimeout = 15 * time.Second

// serve runs one role until its tasks finish or a signal arrives.
func serve(parent context.Context, configPath string, role app.Role) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if role != app.RoleAll {
		if err := config.ValidateSplit(cfg, role == app.RoleProducer); err != nil {
			return err
		}
	}

	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := newLogger(level)
	slog.SetDefault(logger)
	logger.Info("vabridge starting",
		"version", version,
		"role", role.String(),
		"config", configPath,
		"mode", cfg.Assistant.Mode,
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			logger.Warn("telemetry shutdown error", "err", err)
		}
	}()

	application, err := app.New(ctx, cfg, role,
		app.WithLogger(logger),
		app.WithMetrics(observe.DefaultMetrics()),
	)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := application.Shutdown(sctx); err != nil {
			logger.Warn("shutdown error", "err", err)
		}
		logger.Info("goodbye")
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	// The process ends with the application tasks.
	g.Go(func() error {
		defer cancel()
		return application.Run(gctx)
	})

	if configPath != "" {
		w, err := config.NewWatcher(configPath, func(prev, next *config.Config) {
			d := config.Diff(prev, next)
			if d.LogLevelChanged {
				level.Set(slogLevel(d.NewLogLevel))
				logger.Info("log level changed", "level", d.NewLogLevel)
			}
			application.Reload(d)
		}, config.WithWatchLogger(logger))
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(gctx) })
	}

	if addr := cfg.Server.ListenAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", tel.MetricsHandler())
		health.New(application.Checkers()...).Register(mux)
		srv := &http.Server{Addr: addr, Handler: observe.Middleware(observe.DefaultMetrics())(mux)}
		g.Go(func() error { return listen(gctx, logger, "observability", srv) })
	}

	if h := application.MailboxHandler(); h != nil {
		mux := http.NewServeMux()
		mux.Handle(config.DefaultMailboxPath, h)
		srv := &http.Server{Addr: cfg.Mailbox.ListenAddr, Handler: mux}
		g.Go(func() error { return listen(gctx, logger, "mailbox", srv) })
	}

	return g.Wait()
}

// listen serves srv until ctx is done, then shuts it down gracefully.
func listen(ctx context.Context, logger *slog.Logger, name string, srv *http.Server) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("%s listener: %w", name, err)
	}
	srv.BaseContext = func(net.Listener) context.Context { return ctx }
	logger.Info("listening", "server", name, "addr", ln.Addr().String())

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s server: %w", name, err)
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("server shutdown error", "server", name, "err", err)
	}
	return nil
}
