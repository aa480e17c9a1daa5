package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pinger verifies that the store behind the monitor can serve requests.
type Pinger interface {
	CheckQuorum(ctx context.Context) error
}

type HealthChecker struct {
	pinger Pinger
	logger *zap.SugaredLogger
	mu     sync.RWMutex
	ready  bool
}

func NewHealthChecker(pinger Pinger, logger *zap.SugaredLogger) *HealthChecker {
	return &HealthChecker{
		pinger: pinger,
		logger: logger,
		ready:  false,
	}
}

// SetReady marks the monitor as ready once its first snapshot is loaded
func (h *HealthChecker) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// Liveness checks if the process is alive
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Readiness reports ready only while the store has a quorum
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	ready := h.ready
	h.mu.RUnlock()

	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("Not ready"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	if err := h.pinger.CheckQuorum(ctx); err != nil {
		h.logger.Warnw("Readiness check failed: store has no quorum", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("Store has no quorum"))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

const (
	timeout = 5 * time.Second
)
