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

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/receipts-ingest/internal/album"
	"github.com/joseph-ayodele/receipts-ingest/internal/async"
	"github.com/joseph-ayodele/receipts-ingest/internal/common"
	"github.com/joseph-ayodele/receipts-ingest/internal/ingest"
	"github.com/joseph-ayodele/receipts-ingest/internal/metrics"
	"github.com/joseph-ayodele/receipts-ingest/internal/server"
	"github.com/joseph-ayodele/receipts-ingest/internal/sink"
	"github.com/joseph-ayodele/receipts-ingest/internal/taxonomy"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var drainTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, drainTimeout)
		},
	}
	cmd.Flags().DurationVar(&drainTimeout, "drain-timeout", 30*time.Second, "How long shutdown waits for queued submissions")
	return cmd
}

func runServe(parent context.Context, cfg *common.Config, drainTimeout time.Duration) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger(cfg)
	metrics.Register()

	idx, err := taxonomy.Load(cfg.Taxonomy.Path)
	if err != nil {
		return fmt.Errorf("load taxonomy: %w", err)
	}
	logger.Info("taxonomy.loaded", "path", cfg.Taxonomy.Path, "entries", idx.Len(), "categories", len(idx.Categories()))

	httpLis, grpcLis, err := openListeners(cfg.Server.HTTPAddr, cfg.Server.GRPCAddr)
	if err != nil {
		return err
	}
	serving := false
	defer func() {
		if !serving {
			closeListeners(httpLis, grpcLis)
		}
	}()

	fan, err := sink.Build(ctx, cfg.Sinks, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := fan.Close(); err != nil {
			logger.Error("sink.close_failed", "error", err)
		}
	}()

	reports := server.NewReportStore(0)
	proc, err := buildProcessor(cfg, idx, fan, reports, logger)
	if err != nil {
		return err
	}
	queue := async.New(proc, logger,
		async.WithWorkers(cfg.Worker.Workers),
		async.WithQueueSize(cfg.Worker.QueueSize),
		async.WithProcessTimeout(cfg.Worker.ProcessTimeout.Std()),
		async.WithReporter(reports),
	)
	buffer := album.New(album.Config{
		Quiescence: cfg.Album.Quiescence.Std(),
		MaxAge:     cfg.Album.MaxAge.Std(),
		MaxPhotos:  cfg.Album.MaxPhotos,
	}, queue.Dispatch, logger)

	// HTTP
	gin.SetMode(gin.ReleaseMode)
	api := server.New(buffer, reports, cfg.Photo.MaxBytes, logger)
	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// gRPC health
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	var watcher *ingest.Watcher
	if len(cfg.Watch.Roots) > 0 {
		watcher, err = ingest.NewWatcher(ingest.WatchConfig{
			Roots:       cfg.Watch.Roots,
			InitialScan: false,
			Debounce:    cfg.Watch.Debounce.Std(),
			MaxBytes:    cfg.Photo.MaxBytes,
		}, buffer, logger)
		if err != nil {
			buffer.Close()
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
			_ = queue.Shutdown(drainCtx)
			return err
		}
	}

	// Nothing below can fail before shutdown owns the listeners.
	serving = true
	errCh := make(chan error, 3)
	go func() {
		logger.Info("http.listening", "addr", httpLis.Addr().String(), "sinks", fan.Names())
		if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http serve: %w", err)
		}
	}()
	if grpcLis != nil {
		go func() {
			logger.Info("grpc.listening", "addr", grpcLis.Addr().String())
			if err := grpcServer.Serve(grpcLis); err != nil {
				errCh <- fmt.Errorf("grpc serve: %w", err)
			}
		}()
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if watcher != nil {
		w := watcher
		go func() {
			if err := w.Run(watchCtx); err != nil {
				errCh <- fmt.Errorf("watch: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown.signal")
	case runErr = <-errCh:
		logger.Error("shutdown.error", "error", runErr)
	}
	shutdown(logger, drainTimeout, healthServer, api, stopWatch, buffer, queue, httpSrv, grpcServer)
	return runErr
}

// shutdown stops intake first, then drains in-flight work, then the
// listeners. Sinks are closed by the caller afterwards.
func shutdown(
	logger *slog.Logger,
	drainTimeout time.Duration,
	hs *health.Server,
	api *server.Server,
	stopWatch context.CancelFunc,
	buffer *album.Buffer,
	queue *async.Queue,
	httpSrv *http.Server,
	grpcServer *grpc.Server,
) {
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	api.SetReady(false)
	stopWatch()

	dropped := buffer.Close()
	logger.Info("shutdown.album_closed", "abandoned", dropped)

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := queue.Shutdown(ctx); err != nil {
		logger.Warn("shutdown.drain_incomplete", "error", err, "pending", queue.Len())
	}

	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelHTTP()
	if err := httpSrv.Shutdown(httpCtx); err != nil {
		logger.Warn("shutdown.http", "error", err)
	}
	grpcServer.GracefulStop()
	logger.Info("shutdown.complete")
}

// openListeners binds both ports up front. The gRPC listener is nil when no
// address is configured; on error nothing stays bound.
func openListeners(httpAddr, grpcAddr string) (net.Listener, net.Listener, error) {
	httpLis, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen %s: %w", httpAddr, err)
	}
	if grpcAddr == "" {
		return httpLis, nil, nil
	}
	grpcLis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		_ = httpLis.Close()
		return nil, nil, fmt.Errorf("listen %s: %w", grpcAddr, err)
	}
	return httpLis, grpcLis, nil
}

func closeListeners(ls ...net.Listener) {
	for _, l := range ls {
		if l != nil {
			_ = l.Close()
		}
	}
}
