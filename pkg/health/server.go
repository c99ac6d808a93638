package health

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"
)

// WorkerStatus is the subset of lifecycle-manager state the health endpoint
// reports. Defined here (rather than importing pkg/lifecycle) to keep this
// package dependency-free; pkg/lifecycle.Manager satisfies it structurally.
type WorkerStatus interface {
	IsRunning() bool
}

// NamedCheck pairs a Checker with a label shown in the JSON response.
type NamedCheck struct {
	Name    string
	Checker Checker
}

// ServerDeps configures a Server.
type ServerDeps struct {
	Worker    WorkerStatus
	Checks    []NamedCheck
	Version   string
	StartedAt time.Time
}

// Server exposes a GET /health endpoint reporting worker liveness and
// dependency checks, plus /metrics via the caller-supplied handler.
type Server struct {
	deps        ServerDeps
	mux         *http.ServeMux
	metricsFunc http.Handler
}

// NewServer builds a health Server. metricsHandler may be nil to omit /metrics.
func NewServer(deps ServerDeps, metricsHandler http.Handler) *Server {
	if deps.StartedAt.IsZero() {
		deps.StartedAt = time.Now()
	}
	s := &Server{deps: deps, mux: http.NewServeMux(), metricsFunc: metricsHandler}
	s.mux.HandleFunc("/health", s.handleHealth)
	if metricsHandler != nil {
		s.mux.Handle("/metrics", metricsHandler)
	}
	return s
}

type healthResponse struct {
	Status string       `json:"status"`
	Uptime string       `json:"uptime"`
	Memory memoryStats  `json:"memory"`
	Worker workerStatus `json:"worker"`
}

type memoryStats struct {
	AllocBytes      uint64 `json:"allocBytes"`
	TotalAllocBytes uint64 `json:"totalAllocBytes"`
	NumGoroutine    int    `json:"numGoroutine"`
}

type workerStatus struct {
	IsRunning bool `json:"isRunning"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	running := s.deps.Worker != nil && s.deps.Worker.IsRunning()

	healthy := running
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	for _, c := range s.deps.Checks {
		if !c.Checker.Check(ctx).Healthy {
			healthy = false
		}
	}

	resp := healthResponse{
		Status: "healthy",
		Uptime: time.Since(s.deps.StartedAt).String(),
		Memory: memoryStats{
			AllocBytes:      memStats.Alloc,
			TotalAllocBytes: memStats.TotalAlloc,
			NumGoroutine:    runtime.NumGoroutine(),
		},
		Worker: workerStatus{IsRunning: running},
	}

	status := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// ListenAndServe starts the HTTP health/metrics server. Blocks until the
// listener fails or the process exits; callers typically run it in a
// goroutine.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return srv.ListenAndServe()
}
