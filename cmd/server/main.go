package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"VitalsAI/go-backend/internal/config"
	"VitalsAI/go-backend/internal/database"
	"VitalsAI/go-backend/internal/handlers"
	"VitalsAI/go-backend/internal/logger"
	"VitalsAI/go-backend/internal/policy"
	"VitalsAI/go-backend/internal/services"
	"VitalsAI/go-backend/internal/session"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var httpPort, grpcPort, estimatorAddr, policyPath string

	root := &cobra.Command{
		Use:           "vitals-server",
		Short:         "Real-time health monitoring session server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("http-port") {
				cfg.HTTPPort = httpPort
			}
			if flags.Changed("grpc-port") {
				cfg.GRPCPort = grpcPort
			}
			if flags.Changed("estimator-addr") {
				cfg.EstimatorAddr = estimatorAddr
			}
			if flags.Changed("policy") {
				cfg.PolicyPath = policyPath
			}
			return run(cmd.Context(), cfg)
		},
	}
	root.Flags().StringVar(&httpPort, "http-port", "8081", "HTTP port")
	root.Flags().StringVar(&grpcPort, "grpc-port", "50051", "gRPC port")
	root.Flags().StringVar(&estimatorAddr, "estimator-addr", "localhost:50052", "estimator gRPC address")
	root.Flags().StringVar(&policyPath, "policy", "", "policy YAML overriding the built-in defaults")
	return root
}

func run(ctx context.Context, cfg *config.Config) error {
	log, err := logger.NewLogger(cfg.LogLevel, cfg.LogFormat, "vitals-server")
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	log.Info("starting",
		zap.String("http_port", cfg.HTTPPort),
		zap.String("grpc_port", cfg.GRPCPort),
		zap.String("estimator", cfg.EstimatorAddr),
		zap.String("environment", cfg.Environment),
	)

	pol := policy.Default()
	if cfg.PolicyPath != "" {
		if pol, err = policy.Load(cfg.PolicyPath); err != nil {
			return err
		}
		log.Info("policy loaded", zap.String("path", cfg.PolicyPath))
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := services.GetMetrics()

	estimator, err := services.NewEstimatorClient(cfg.EstimatorAddr, cfg.EstimatorTimeout, log)
	if err != nil {
		return err
	}
	defer estimator.Close()
	if !estimator.HealthCheck(ctx) {
		log.Warn("estimator not healthy yet, frames will fail until it is reachable")
	}

	renderer := services.NewRendererClient(cfg.RendererURL, cfg.RendererTimeout, cfg.RendererRetries, log)

	var (
		notifier session.Notifier
		saver    services.ReportSaver
		archive  handlers.ReportArchive
		db       *sql.DB
	)
	if cfg.RedisAddr != "" {
		rdb, err := services.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		notifier = services.NewAlertPublisher(rdb, cfg.AlertStream, log)
		log.Info("escalation alerts enabled", zap.String("stream", cfg.AlertStream))
	}
	if cfg.DBEnabled {
		log.Info("connecting to report archive", zap.String("dsn", cfg.DSNForLog()))
		if db, err = database.Open(ctx, cfg.DSN(), log); err != nil {
			return err
		}
		defer database.Close(db, log)
		store := database.NewReportStore(db, log)
		saver, archive = store, store
	}

	registry := session.NewRegistry(session.Config{
		Timing: session.Timing{
			SetupWindow:        cfg.SetupWindow,
			IntakeGrace:        cfg.IntakeGrace,
			BaselineWindow:     cfg.BaselineWindow,
			MonitoringDuration: cfg.MonitoringDuration,
		},
		SummaryPromptAfter: cfg.SummaryPromptAfter,
		EstimatorTimeout:   cfg.EstimatorTimeout,
		ReportTimeout:      cfg.ReportTimeout,
		InboxSize:          cfg.InboxSize,
	}, session.Deps{
		Policy:    pol,
		Estimator: estimator,
		Notifier:  notifier,
		Reports:   services.NewArchiver(renderer, saver, metrics, log),
		Metrics:   metrics,
		Logger:    log,
	}, cfg.MaxSessions, cfg.RetainReports)

	grpcServer, healthServer := handlers.NewGRPCServer(handlers.NewGRPCHandler(registry, log), int(cfg.MaxMessageBytes()))
	httpServer := newHTTPServer(cfg, registry, renderer, archive, estimator, pol, metrics, log)

	errCh := make(chan error, 2)
	go func() { errCh <- serveGRPC(grpcServer, cfg.GRPCPort, log) }()
	go func() { errCh <- serveHTTP(httpServer, log) }()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		log.Error("server failed", zap.Error(err))
		stop()
	}

	healthServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if err := registry.Shutdown(shutdownCtx); err != nil {
		log.Warn("sessions did not finish before deadline", zap.Error(err))
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		log.Warn("forced grpc shutdown")
		grpcServer.Stop()
	}

	log.Info("goodbye")
	return nil
}

func newHTTPServer(
	cfg *config.Config,
	registry *session.Registry,
	renderer *services.RendererClient,
	archive handlers.ReportArchive,
	estimator *services.EstimatorClient,
	pol *policy.Policy,
	metrics *services.Metrics,
	log *zap.Logger,
) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/ws", handlers.NewWebSocketHandler(registry, metrics, cfg.MaxMessageBytes(), log))

	api := &handlers.API{
		Sessions:  registry,
		Renderer:  renderer,
		Archive:   archive,
		Estimator: estimator,
		Policy:    pol,
		Metrics:   metrics,
		Origins:   cfg.CORSOrigins,
		Logger:    log,
	}
	api.Routes(mux)

	return &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func serveGRPC(s *grpc.Server, port string, log *zap.Logger) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("listen on grpc port %s: %w", port, err)
	}
	log.Info("grpc server listening", zap.String("port", port))
	return s.Serve(lis)
}

func serveHTTP(s *http.Server, log *zap.Logger) error {
	log.Info("http server listening",
		zap.String("addr", s.Addr),
		zap.String("websocket", "ws://localhost"+s.Addr+"/ws"),
	)
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}
