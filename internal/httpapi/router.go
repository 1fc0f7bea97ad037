package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"orbit/internal/httpkit"
	"orbit/internal/pkg/logger"
	"orbit/internal/pkg/middleware"
	"orbit/internal/ports"
)

// Deps wires the router.
type Deps struct {
	Service Service
	Logger  *logger.Logger

	// Optional backends surfaced by /health.
	Pool        *pgxpool.Pool
	Redis       *redis.Client
	Store       ports.StorageProvider
	RunningJobs func() int

	CORS httpkit.CORSOptions
}

// NewRouter assembles the HTTP API.
func NewRouter(d Deps) http.Handler {
	h := &handlers{orch: d.Service, log: d.Logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(d.Logger))
	r.Use(middleware.Recovery(d.Logger))
	r.Use(httpkit.CORS(d.CORS))

	r.Get("/health", healthDeps{
		pool:  d.Pool,
		rdb:   d.Redis,
		store: d.Store,
		jobs:  d.RunningJobs,
	}.handler)

	r.Post("/render", h.submit)
	r.Get("/status/{jobID}", h.status)
	r.Post("/cancel/{jobID}", h.cancel)
	r.Get("/download/{jobID}", h.download)

	return r
}
