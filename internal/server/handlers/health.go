package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// Checker is one dependency probe run by the health endpoint.
type Checker interface {
	CheckHealth(ctx context.Context) error
}

// CheckerFunc adapts a plain function to Checker.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) CheckHealth(ctx context.Context) error { return f(ctx) }

// HealthManager aggregates named dependency checks into one endpoint.
type HealthManager struct {
	version  string
	checkers map[string]Checker
}

func NewHealthManager(version string) *HealthManager {
	return &HealthManager{version: version, checkers: make(map[string]Checker)}
}

func (m *HealthManager) RegisterChecker(name string, c Checker) {
	m.checkers[name] = c
}

// HealthResponse is the health endpoint's success body.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks"`
}

const healthCheckTimeout = 3 * time.Second

// HealthHandler runs every registered check. Any failing check turns the
// response into 503 so orchestrators stop routing here.
func (m *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := make(map[string]string, len(m.checkers))
	healthy := true

	names := make([]string, 0, len(m.checkers))
	for name := range m.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := m.checkers[name].CheckHealth(ctx); err != nil {
			checks[name] = "unhealthy"
			healthy = false
		} else {
			checks[name] = "healthy"
		}
	}

	status := http.StatusOK
	overall := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}
	writeJSON(w, status, HealthResponse{
		Status:  overall,
		Version: m.version,
		Checks:  checks,
	})
}
