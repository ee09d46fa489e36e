package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/stwalsh4118/verrify/internal/middleware"
)

// HealthCheckTimeout bounds each dependency check.
const HealthCheckTimeout = 2 * time.Second

// Pinger is a dependency that can report whether it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Dependency is a backing service checked by the readiness handler. Only
// required dependencies can fail readiness.
type Dependency struct {
	Name     string
	Pinger   Pinger
	Required bool
}

// HealthHandler serves liveness, readiness and build info.
type HealthHandler struct {
	version string
	env     string
	deps    []Dependency
	started time.Time
}

// NewHealthHandler creates a HealthHandler. Dependencies with a nil Pinger
// are skipped.
func NewHealthHandler(version, env string, deps ...Dependency) *HealthHandler {
	live := make([]Dependency, 0, len(deps))
	for _, d := range deps {
		if d.Pinger != nil {
			live = append(live, d)
		}
	}
	return &HealthHandler{version: version, env: env, deps: live, started: time.Now()}
}

type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse reports every checked dependency as "up" or "down".
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

type InfoResponse struct {
	Version     string `json:"version"`
	Environment string `json:"environment"`
	Uptime      string `json:"uptime"`
}

// Health handles GET /health. It never touches dependencies.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy"})
}

// Ready handles GET /health/ready, probing all dependencies concurrently.
func (h *HealthHandler) Ready(c *gin.Context) {
	errs := make([]error, len(h.deps))
	g, ctx := errgroup.WithContext(c.Request.Context())
	for i, d := range h.deps {
		i, d := i, d
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
			defer cancel()
			errs[i] = d.Pinger.Ping(pctx)
			return nil
		})
	}
	_ = g.Wait()

	resp := ReadyResponse{Status: "ready", Checks: make(map[string]string, len(h.deps))}
	for i, d := range h.deps {
		if errs[i] == nil {
			resp.Checks[d.Name] = "up"
			continue
		}
		resp.Checks[d.Name] = "down"
		if d.Required {
			resp.Status = "not_ready"
		}
		if log := middleware.GetLogger(c); log != nil {
			log.Warn("Dependency check failed", map[string]interface{}{
				"dependency": d.Name,
				"required":   d.Required,
				"error":      errs[i].Error(),
			})
		}
	}

	status := http.StatusOK
	if resp.Status != "ready" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

// Info handles GET /api/v1/info.
func (h *HealthHandler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, InfoResponse{
		Version:     h.version,
		Environment: h.env,
		Uptime:      time.Since(h.started).Round(time.Second).String(),
	})
}
