package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/hugh/go-referral/pkg/queue"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// QueueInspector is the slice of *asynq.Inspector the health check reads.
type QueueInspector interface {
	Queues() ([]string, error)
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

type HealthHandler struct {
	db        *gorm.DB
	redis     *redis.Client
	inspector QueueInspector
}

func NewHealthHandler(db *gorm.DB, redis *redis.Client, inspector QueueInspector) *HealthHandler {
	return &HealthHandler{db: db, redis: redis, inspector: inspector}
}

type QueueStats struct {
	Pending  int `json:"pending"`
	Retry    int `json:"retry"`
	Archived int `json:"archived"`
}

type HealthResponse struct {
	Status   string                `json:"status"`
	Services map[string]string     `json:"services"`
	Queues   map[string]QueueStats `json:"queues,omitempty"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	services := make(map[string]string)
	status := "healthy"

	if h.pingDB(ctx) != nil {
		services["database"] = "unhealthy"
		status = "unhealthy"
	} else {
		services["database"] = "healthy"
	}

	// Redis only backs the cache and the notification queue, so losing it
	// degrades the service rather than taking it down.
	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			services["redis"] = "unhealthy"
			if status == "healthy" {
				status = "degraded"
			}
		} else {
			services["redis"] = "healthy"
		}
	}

	var queues map[string]QueueStats
	if h.inspector != nil {
		queues, services["queue"] = h.queueStats()
		if services["queue"] != "healthy" && status == "healthy" {
			status = "degraded"
		}
	}

	statusCode := http.StatusOK
	if status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, HealthResponse{
		Status:   status,
		Services: services,
		Queues:   queues,
	})
}

// Ready reports whether the process can serve traffic, which only needs the
// database.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.pingDB(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("database unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// queueStats reports depth for the queues this service uses. Queues that
// have never seen a task do not exist yet and count as empty.
func (h *HealthHandler) queueStats() (map[string]QueueStats, string) {
	existing, err := h.inspector.Queues()
	if err != nil {
		return nil, "unhealthy"
	}
	known := make(map[string]bool, len(existing))
	for _, name := range existing {
		known[name] = true
	}

	stats := make(map[string]QueueStats)
	for _, name := range []string{queue.QueueNotifications, queue.QueueDefault} {
		if !known[name] {
			stats[name] = QueueStats{}
			continue
		}
		info, err := h.inspector.GetQueueInfo(name)
		if err != nil {
			return stats, "unhealthy"
		}
		stats[name] = QueueStats{Pending: info.Pending, Retry: info.Retry, Archived: info.Archived}
	}
	return stats, "healthy"
}

func (h *HealthHandler) pingDB(ctx context.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
