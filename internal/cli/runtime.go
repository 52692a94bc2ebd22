package cli

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"taxrollsync/internal/auth"
	"taxrollsync/internal/blob"
	"taxrollsync/internal/notify"
	"taxrollsync/internal/observability"
	"taxrollsync/internal/replication"
	"taxrollsync/internal/report"
	"taxrollsync/internal/session"
	"taxrollsync/pkg/domain"
)

// runtime is the assembled service graph for one command.
type runtime struct {
	catalog   *domain.Catalog
	svc       *session.Service
	targets   []replication.Target
	store     blob.Store
	publisher *report.Publisher
	server    *http.Server
	logger    *zap.Logger
}

// openTargets builds the configured write targets.
func (a *app) openTargets() ([]replication.Target, error) {
	targets, err := replication.OpenTargets(a.cfg.Targets)
	if err != nil {
		return nil, fmt.Errorf("open targets: %w", err)
	}
	return targets, nil
}

// openPublisher opens the artifact store and binds a publisher to it.
func (a *app) openPublisher(ctx context.Context) (blob.Store, *report.Publisher, error) {
	store, err := blob.Open(ctx, a.cfg.Blob)
	if err != nil {
		return nil, nil, fmt.Errorf("open report store: %w", err)
	}
	return store, report.NewPublisher(store, a.cfg.Report.Key, a.cfg.Report.ArchivePrefix), nil
}

// open assembles the full service. When requireMail is false an invalid SMTP
// section only fails at submit time.
func (a *app) open(ctx context.Context, requireMail bool) (*runtime, error) {
	catalog, err := a.cfg.Catalog()
	if err != nil {
		return nil, err
	}
	rt := &runtime{catalog: catalog, logger: a.logger}

	recorder, handler := a.recorder()
	if a.cfg.Metrics.Addr != "" && handler != nil {
		srv, err := serveMetrics(a.cfg.Metrics.Addr, handler, a.logger)
		if err != nil {
			return nil, err
		}
		rt.server = srv
	}

	targets, err := a.openTargets()
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.targets = targets
	coord, err := replication.NewCoordinator(targets,
		replication.WithLogger(a.logger),
		replication.WithObserver(recorder),
		replication.WithTimeout(a.cfg.Replication.WriteTimeout),
		replication.WithParallel(a.cfg.Replication.Parallel),
	)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.store, rt.publisher, err = a.openPublisher(ctx)
	if err != nil {
		rt.Close()
		return nil, err
	}

	var dispatcher notify.Dispatcher
	smtp, err := notify.NewSMTPDispatcher(a.cfg.SMTP, a.logger)
	switch {
	case err == nil:
		dispatcher = smtp
	case requireMail:
		rt.Close()
		return nil, fmt.Errorf("smtp: %w", err)
	default:
		mailErr := err
		dispatcher = notify.DispatcherFunc(func(context.Context, notify.Notification) error {
			return fmt.Errorf("smtp not configured: %w", mailErr)
		})
	}

	verifier, err := auth.NewBcryptVerifier(a.cfg.Auth.Users)
	if err != nil {
		rt.Close()
		return nil, err
	}
	cachePath := a.cfg.Auth.CachePath
	if cachePath == "" {
		if cachePath, err = auth.DefaultCachePath(); err != nil {
			rt.Close()
			return nil, fmt.Errorf("resolve login cache: %w", err)
		}
	}

	rt.svc, err = session.NewService(session.Deps{
		Catalog:    catalog,
		Writer:     coord,
		Policy:     a.cfg.Policy(),
		Exporter:   report.NewExporter(catalog),
		Publisher:  rt.publisher,
		Dispatcher: dispatcher,
		Verifier:   verifier,
		Cache:      auth.NewCache(cachePath, a.cfg.Auth.MaxAge),
		Logger:     a.logger,
		Metrics:    recorder,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// recorder returns the configured metrics recorder and the handler that
// exposes it, nil when nothing is served.
func (a *app) recorder() (observability.Recorder, http.Handler) {
	switch a.cfg.Metrics.Exporter {
	case "none":
		return observability.NopRecorder{}, nil
	case "expvar":
		return observability.NewExpvarRecorder(""), expvar.Handler()
	default:
		rec := observability.NewPrometheusRecorder()
		return rec, rec.Handler()
	}
}

func serveMetrics(addr string, handler http.Handler, logger *zap.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for metrics on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	return srv, nil
}

// Close stops the metrics server and releases the target pools.
func (rt *runtime) Close() {
	if rt.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.server.Shutdown(ctx); err != nil {
			rt.logger.Warn("metrics server shutdown", zap.Error(err))
		}
	}
	replication.CloseTargets(rt.targets)
}
