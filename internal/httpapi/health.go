package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"orbit/internal/httpkit"
	"orbit/internal/ports"
)

// healthDeps are the optional backends probed by the health endpoint.
type healthDeps struct {
	pool  *pgxpool.Pool
	rdb   *redis.Client
	store ports.StorageProvider
	jobs  func() int
}

func (hd healthDeps) handler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := map[string]any{"status": "ok"}

	if hd.jobs != nil {
		body["running_jobs"] = hd.jobs()
	}

	if hd.pool != nil {
		if err := hd.pool.Ping(ctx); err != nil {
			body["postgres"] = "down"
			body["status"] = "degraded"
			status = http.StatusServiceUnavailable
		} else {
			body["postgres"] = "ok"
		}
	}

	if hd.rdb != nil {
		if err := hd.rdb.Ping(ctx).Err(); err != nil {
			body["redis"] = "down"
			body["status"] = "degraded"
			status = http.StatusServiceUnavailable
		} else {
			body["redis"] = "ok"
		}
	}

	if hd.store != nil {
		body["storage"] = hd.store.Provider()
	}

	httpkit.WriteJSON(w, status, body)
}
