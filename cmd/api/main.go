// Command api runs the orbit render orchestration service.
package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"orbit/internal/config"
	"orbit/internal/httpapi"
	"orbit/internal/httpkit"
	"orbit/internal/notify"
	"orbit/internal/pkg/logger"
	"orbit/internal/pkg/shutdown"
	"orbit/internal/render"
	"orbit/internal/storage"
	"orbit/internal/store"
)

func main() {
	_ = godotenv.Load()

	log := logger.NewDefault()
	cfg := config.Load()

	sd := shutdown.NewManager(log, 30*time.Second)
	ctx := context.Background()

	// Postgres is optional: without it, finished owned renders do not
	// survive a restart but everything else works.
	var pool *pgxpool.Pool
	var records render.RecordStore
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		p, err := pgxpool.New(ctx, dsn)
		if err != nil {
			log.LogFatal("connect to postgres", err)
		}
		if err := p.Ping(ctx); err != nil {
			log.LogFatal("ping postgres", err)
		}
		rs := store.NewRenderStore(p)
		if err := rs.InitSchema(ctx); err != nil {
			log.LogFatal("init schema", err)
		}
		pool = p
		records = rs
		sd.Register("postgres", func(ctx context.Context) error {
			p.Close()
			return nil
		})
		log.Info("postgres connected")
	} else {
		log.Warn("DATABASE_URL not set, render records disabled")
	}

	// Redis is optional: without it, no live progress events are published.
	var rdb *redis.Client
	var events render.EventSink
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.LogFatal("ping redis", err)
		}
		events = notify.NewPublisher(rdb, os.Getenv("REDIS_EVENTS_CHANNEL"), log)
		sd.Register("redis", func(ctx context.Context) error {
			return rdb.Close()
		})
		log.Info("redis connected", "addr", addr)
	} else {
		log.Warn("REDIS_ADDR not set, job events disabled")
	}

	sp, err := storage.NewProvider()
	if err != nil {
		log.LogFatal("init storage provider", err)
	}
	log.Info("storage provider ready", "provider", sp.Provider())

	orch := render.NewOrchestrator(render.Deps{
		Config: render.Config{
			Seconds:         cfg.Seconds,
			BaseFPS:         cfg.BaseFPS,
			PlaybackFPS:     cfg.PlaybackFPS,
			Defaults:        defaultOptions(cfg),
			MaxUploadBytes:  cfg.MaxUploadBytes,
			MaxJobsPerOwner: cfg.MaxJobsPerOwner,
			CancelGrace:     cfg.CancelGrace,
		},
		Launcher: render.NewLauncher(render.LauncherConfig{
			Binary: cfg.RendererBin,
			Script: cfg.RendererScript,
		}),
		Converter: render.NewPostProcessor(cfg.FFmpegBin),
		Estimator: render.NewEstimator(render.EstimatorConfig{
			Window:          cfg.ETAWindow,
			Warmup:          cfg.ETAWarmup,
			SafetyFactor:    cfg.ETASafetyFactor,
			SlowFrameFactor: cfg.ETASlowFactor,
			SlowFrameWeight: cfg.ETASlowWeight,
		}),
		Records: records,
		Store:   sp,
		Events:  events,
		Logger:  log,
	})
	sd.Register("orchestrator", orch.Shutdown)

	router := httpapi.NewRouter(httpapi.Deps{
		Service: orch,
		Logger:  log,
		Pool:    pool,
		Redis:   rdb,
		Store:   sp,
		RunningJobs: func() int {
			n := 0
			for _, j := range orch.Registry().Jobs() {
				if j.View().State == render.StateRunning {
					n++
				}
			}
			return n
		},
		CORS: httpkit.CORSOptions{
			AllowedOrigins:   []string{envOr("CORS_ORIGINS", "*")},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", httpapi.PrincipalHeader},
			AllowCredentials: false,
			MaxAgeSeconds:    300,
		},
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	sd.Register("http", srv.Shutdown)

	go func() {
		log.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogFatal("http server failed", err)
		}
	}()

	sd.Wait()
}

func defaultOptions(cfg config.Config) render.Options {
	return render.Options{
		Axis:    cfg.Axis,
		Quality: cfg.Quality,
		Format:  cfg.Format,
		Size:    cfg.Size,
		Kelvin:  6500,
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
