package main

import (
	"context"
	"errors"
	"time"

	"github.com/therealutkarshpriyadarshi/montage/internal/cache"
	"github.com/therealutkarshpriyadarshi/montage/internal/config"
	"github.com/therealutkarshpriyadarshi/montage/internal/database"
	"github.com/therealutkarshpriyadarshi/montage/internal/effects"
	"github.com/therealutkarshpriyadarshi/montage/internal/logging"
	"github.com/therealutkarshpriyadarshi/montage/internal/media"
	"github.com/therealutkarshpriyadarshi/montage/internal/metrics"
	"github.com/therealutkarshpriyadarshi/montage/internal/probe"
	"github.com/therealutkarshpriyadarshi/montage/internal/session"
	"github.com/therealutkarshpriyadarshi/montage/internal/storage"
	"github.com/therealutkarshpriyadarshi/montage/internal/tracing"
)

// app holds the process-wide services a command runs with
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	session *session.Session

	closers []func(ctx context.Context) error
}

func newLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	output := cfg.Output
	if output == "file" {
		output = cfg.FilePath
	}
	return logging.NewLogger(logging.Config{
		Level:  cfg.Level,
		Format: cfg.Format,
		Output: output,
	})
}

// newApp initializes the engine and the optional backends. Any failure here
// is a fatal init error.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}

	_, tracerCloser, err := tracing.InitTracer(cfg.Tracing.ServiceName, cfg.Tracing.Endpoint, cfg.Tracing.SampleRate)
	if err != nil {
		return nil, err
	}
	a.onClose(func(context.Context) error { return tracerCloser.Close() })

	var srv *metrics.Server
	if cfg.Metrics.Port > 0 {
		srv = metrics.NewServer(cfg.Metrics.Port, logger)
		go func() {
			if err := srv.Start(); err != nil {
				logger.WithError(err).Warn("Metrics server stopped")
			}
		}()
		a.onClose(srv.Shutdown)
	}

	ff := media.NewFFmpeg(cfg.FFmpeg.FFmpegPath, cfg.FFmpeg.FFprobePath)
	env := media.NewEnvironment(ff, cfg.FFmpeg.TempDir, logger)
	prober := probe.NewCache(env, media.FastProbeOptions(cfg.Probe.Timeout, cfg.Probe.ProbeSize), logger)
	opener := media.NewOpener(env, prober, cfg.Playback.FrameCacheSize, logger)

	backends := session.Backends{
		Open:    opener.Open,
		Prober:  prober,
		Encoder: env,
		Effects: effects.NewRegistry(logger),
	}

	if cfg.Cache.Enabled {
		c, err := cache.NewCache(cfg.Cache.Host, cfg.Cache.Port, cfg.Cache.Password, cfg.Cache.DB)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		a.onClose(func(context.Context) error { return c.Close() })
		if srv != nil {
			srv.AddHealthCheck("cache", c.Ping)
		}
		prober.WithStore(c, cfg.Cache.TTL)
		backends.Store, backends.StoreTTL = c, cfg.Cache.TTL
		logger.Info("Analysis cache enabled")
	}

	if cfg.Storage.Enabled {
		store, err := storage.New(ctx, cfg.Storage, logger)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		backends.Publisher = store
	}

	if cfg.Database.Enabled {
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		a.onClose(func(context.Context) error { db.Close(); return nil })
		if srv != nil {
			srv.AddHealthCheck("database", db.Health)
		}
		repo := database.NewRepository(db, logger)
		if err := repo.EnsureSchema(ctx); err != nil {
			a.close(ctx)
			return nil, err
		}
		backends.History = repo
	}

	s, err := session.New(ctx, session.OptionsFromConfig(cfg), backends, logger)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.session = s
	return a, nil
}

func (a *app) onClose(fn func(ctx context.Context) error) {
	a.closers = append(a.closers, fn)
}

// close shuts the session down within the configured budgets and then
// releases the backends in reverse order
func (a *app) close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.shutdownBudget())
	defer cancel()

	var errs []error
	if a.session != nil {
		errs = append(errs, a.session.Shutdown(ctx))
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	return errors.Join(errs...)
}

func (a *app) shutdownBudget() time.Duration {
	sc := a.cfg.Shutdown
	return sc.Audio + sc.Worker + sc.Export + time.Second
}
