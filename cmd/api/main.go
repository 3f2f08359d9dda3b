package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"sif3.org/internal/auth"
	"sif3.org/internal/changes"
	"sif3.org/internal/environment"
	"sif3.org/internal/httpapi"
	"sif3.org/internal/jobs"
	"sif3.org/internal/obs"
	"sif3.org/internal/settings"
	"sif3.org/internal/store"
	"sif3.org/internal/store/memory"
	"sif3.org/internal/store/pg"
	"sif3.org/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := settings.Load()
	if err != nil {
		log.Fatalf("settings: %v", err)
	}

	obs.Init()
	build, err := obs.InitBuildInfo(version, commit)
	if err != nil {
		log.Fatalf("build info: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		st    store.Store
		db    *sql.DB
		probe httpapi.ReadyProbe
	)
	if cfg.PGDSN != "" {
		pgStore, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pgStore.Close()
		st, db = pgStore, pgStore.DB()
		probe.DB = db
	} else {
		st = memory.New()
	}

	envOpts := []environment.Option{environment.WithBaseURL(cfg.ServiceBaseURL)}
	if cfg.MaxClockSkew > 0 {
		envOpts = append(envOpts, environment.WithAuthenticators(auth.Basic{}, auth.NewHMAC(auth.WithMaxSkew(cfg.MaxClockSkew))))
	}
	envs := environment.NewService(st, envOpts...)
	if db == nil {
		if err := envs.Provision(ctx, demoApplication()); err != nil {
			log.Fatalf("provision demo application: %v", err)
		}
	}

	var cursor changes.Cursor
	switch {
	case cfg.RedisAddr != "":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		cursor = changes.NewRedisCursor(rdb, "")
		probe.Checks = append(probe.Checks, func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	case db != nil:
		cursor = changes.NewPGCursor(db)
	}

	registry, err := jobs.NewRegistry(rolloverStudents())
	if err != nil {
		log.Fatalf("job registry: %v", err)
	}
	manager := jobs.NewManager(st, registry)
	if cfg.JobTimeoutEnabled {
		go func() {
			if err := manager.RunSweeper(ctx, cfg.JobTimeoutFrequency); err != nil && !errors.Is(err, context.Canceled) {
				obs.Error(ctx, "job sweeper stopped", map[string]any{"error": err})
			}
		}()
	}

	var events *stream.Stream
	if cfg.EventsSupported {
		events = stream.New()
	}

	api := httpapi.New(probe, version, httpapi.Deps{
		Environments: envs,
		Jobs:         manager,
		Changes:      changes.NewManager(cursor),
		Events:       events,
	},
		httpapi.WithRateLimit(cfg.RatePerSecond, cfg.RateBurst),
		httpapi.WithPageSize(cfg.NavigationPageSize),
		httpapi.WithEventHeartbeat(cfg.EventProcessingWaitTime),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	health := httpapi.NewGRPCHealth(probe)
	grpcSrv := grpc.NewServer()
	health.Register(grpcSrv)
	go health.Run(ctx, 10*time.Second)

	obs.Info(ctx, "starting sif3-api", map[string]any{
		"version":   build.Version,
		"commit":    build.Commit,
		"http_addr": cfg.HTTPAddr,
		"grpc_addr": cfg.GRPCAddr,
		"store":     storeKind(db),
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()
	go func() {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Fatalf("grpc serve: %v", err)
		}
	}()

	<-ctx.Done()
	obs.Info(context.Background(), "shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	obs.Info(context.Background(), "stopped", nil)
}

func storeKind(db *sql.DB) string {
	if db != nil {
		return "postgres"
	}
	return "memory"
}
