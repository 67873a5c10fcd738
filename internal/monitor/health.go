package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck represents a health check function
type HealthCheck func(ctx context.Context) ComponentHealth

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Name        string                 `json:"name"`
	Status      HealthStatus           `json:"status"`
	Message     string                 `json:"message,omitempty"`
	LastChecked time.Time              `json:"last_checked"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// SystemHealth represents the overall system health
type SystemHealth struct {
	Status     HealthStatus      `json:"status"`
	Components []ComponentHealth `json:"components"`
	Version    string            `json:"version"`
	Uptime     string            `json:"uptime"`
	Timestamp  time.Time         `json:"timestamp"`
}

// HealthChecker runs registered checks in parallel and caches results briefly
type HealthChecker struct {
	mu sync.RWMutex

	checks      map[string]HealthCheck
	lastResults map[string]ComponentHealth
	cacheExpiry time.Duration

	startTime time.Time
	version   string
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(version string, cacheExpiry time.Duration) *HealthChecker {
	return &HealthChecker{
		checks:      make(map[string]HealthCheck),
		lastResults: make(map[string]ComponentHealth),
		cacheExpiry: cacheExpiry,
		startTime:   time.Now(),
		version:     version,
	}
}

// RegisterCheck registers a health check
func (hc *HealthChecker) RegisterCheck(name string, check HealthCheck) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.checks[name] = check
}

// CheckHealth runs all health checks
func (hc *HealthChecker) CheckHealth(ctx context.Context) SystemHealth {
	hc.mu.RLock()
	checks := make(map[string]HealthCheck, len(hc.checks))
	for name, check := range hc.checks {
		checks[name] = check
	}
	hc.mu.RUnlock()

	var wg sync.WaitGroup
	results := make(chan ComponentHealth, len(checks))

	for name, check := range checks {
		wg.Add(1)
		go func(n string, c HealthCheck) {
			defer wg.Done()

			if cached, ok := hc.getCachedResult(n); ok {
				results <- cached
				return
			}

			checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			result := c(checkCtx)
			result.Name = n
			result.LastChecked = time.Now()
			hc.setCachedResult(n, result)

			results <- result
		}(name, check)
	}

	wg.Wait()
	close(results)

	components := make([]ComponentHealth, 0, len(checks))
	overallStatus := HealthStatusHealthy
	for result := range results {
		components = append(components, result)

		if result.Status == HealthStatusUnhealthy {
			overallStatus = HealthStatusUnhealthy
		} else if result.Status == HealthStatusDegraded && overallStatus == HealthStatusHealthy {
			overallStatus = HealthStatusDegraded
		}
	}
	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	return SystemHealth{
		Status:     overallStatus,
		Components: components,
		Version:    hc.version,
		Uptime:     time.Since(hc.startTime).String(),
		Timestamp:  time.Now(),
	}
}

func (hc *HealthChecker) getCachedResult(name string) (ComponentHealth, bool) {
	if hc.cacheExpiry <= 0 {
		return ComponentHealth{}, false
	}
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	if result, ok := hc.lastResults[name]; ok {
		if time.Since(result.LastChecked) < hc.cacheExpiry {
			return result, true
		}
	}
	return ComponentHealth{}, false
}

func (hc *HealthChecker) setCachedResult(name string, result ComponentHealth) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.lastResults[name] = result
}

// HTTPHandler returns an HTTP handler for health checks
func (hc *HealthChecker) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := hc.CheckHealth(r.Context())

		// degraded still answers 200
		statusCode := http.StatusOK
		if health.Status == HealthStatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(health)
	}
}

// VenueHealthCheck is unhealthy with no online venue and degraded when some are down
func VenueHealthCheck(counts func() (total, online int)) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		total, online := counts()
		h := ComponentHealth{
			Status:  HealthStatusHealthy,
			Message: fmt.Sprintf("%d/%d venues online", online, total),
			Details: map[string]interface{}{"total": total, "online": online},
		}
		switch {
		case online == 0:
			h.Status = HealthStatusUnhealthy
		case online < total:
			h.Status = HealthStatusDegraded
		}
		return h
	}
}

// BreakerHealthCheck is unhealthy while the circuit breaker is open
func BreakerHealthCheck(state func() string) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		s := state()
		h := ComponentHealth{
			Status:  HealthStatusHealthy,
			Message: "circuit breaker " + s,
			Details: map[string]interface{}{"state": s},
		}
		if s != "closed" {
			h.Status = HealthStatusUnhealthy
		}
		return h
	}
}

// PingHealthCheck wraps a dependency ping; failures degrade rather than fail the service
func PingHealthCheck(ping func(ctx context.Context) error) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		if err := ping(ctx); err != nil {
			return ComponentHealth{Status: HealthStatusDegraded, Message: err.Error()}
		}
		return ComponentHealth{Status: HealthStatusHealthy, Message: "reachable"}
	}
}
