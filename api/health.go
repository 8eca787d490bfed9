package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/tcdynamics/billsync/cache"
	"gorm.io/gorm"
)

type HealthHandler struct {
	db     *gorm.DB
	replay *cache.ReplayCache
}

func NewHealthHandler(db *gorm.DB, replay *cache.ReplayCache) *HealthHandler {
	return &HealthHandler{db: db, replay: replay}
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Database  string    `json:"database"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
}

type MetricsResponse struct {
	GoRoutines         int    `json:"goroutines"`
	ReplayCacheEntries int    `json:"replay_cache_entries"`
	Memory             Memory `json:"memory"`
	Uptime             string `json:"uptime"`
}

type Memory struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"total_alloc"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"num_gc"`
}

var startTime = time.Now()

// HandleHealth reports degraded rather than failing when the database is
// unreachable: the service keeps accepting webhooks on the in-memory guard.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	database := "up"

	sqlDB, err := h.db.DB()
	if err != nil || sqlDB.PingContext(r.Context()) != nil {
		status = "degraded"
		database = "down"
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Database:  database,
		Timestamp: time.Now(),
		Uptime:    time.Since(startTime).String(),
	})
}

func (h *HealthHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	writeJSON(w, http.StatusOK, MetricsResponse{
		GoRoutines:         runtime.NumGoroutine(),
		ReplayCacheEntries: h.replay.Len(),
		Memory: Memory{
			Alloc:      m.Alloc,
			TotalAlloc: m.TotalAlloc,
			Sys:        m.Sys,
			NumGC:      m.NumGC,
		},
		Uptime: time.Since(startTime).String(),
	})
}

func (h *HealthHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/healthz", h.HandleHealth).Methods("GET")
	router.HandleFunc("/metrics", h.HandleMetrics).Methods("GET")
}
