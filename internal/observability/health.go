// Package observability provides logging, metrics, and tracing capabilities
package observability

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthChecker provides application health monitoring
type HealthChecker struct {
	checks     map[string]HealthCheck
	mu         sync.RWMutex
	logger     *zap.Logger
	lastStatus *HealthStatus
	telemetry  *Telemetry
}

// HealthCheck defines a health check function
type HealthCheck struct {
	Name     string
	Check    func(ctx context.Context) error
	Timeout  time.Duration
	Critical bool // If true, failure makes the app unhealthy
}

// HealthStatus represents overall health status
type HealthStatus struct {
	Status     string                     `json:"status"` // healthy, degraded, unhealthy
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version"`
	Uptime     string                     `json:"uptime"`
	Components map[string]ComponentHealth `json:"components"`
	Pipeline   PipelineHealth             `json:"pipeline"`
}

// ComponentHealth represents health of a single component
type ComponentHealth struct {
	Status      string        `json:"status"` // healthy, unhealthy
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Latency     time.Duration `json:"latency_ms"`
}

// PipelineHealth represents the health of the telemetry pipeline.
type PipelineHealth struct {
	EventsPerSecond float64          `json:"events_per_second"`
	QueueDepth      map[string]int64 `json:"queue_depth"`
	BrokerStatus    map[string]string `json:"broker_status"`
	LastEventTime   time.Time        `json:"last_event_time"`
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(logger *zap.Logger, telemetry *Telemetry) *HealthChecker {
	return &HealthChecker{
		checks:    make(map[string]HealthCheck),
		logger:    logger,
		telemetry: telemetry,
	}
}

// RegisterCheck registers a health check
func (h *HealthChecker) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if check.Timeout == 0 {
		check.Timeout = 5 * time.Second
	}
	h.checks[check.Name] = check
}

// RegisterRPCPeerCheck registers a health check against a grpc dependency
// (Registry or Scorer) using a plain TCP dial, since neither exposes a
// health-check RPC of its own.
func (h *HealthChecker) RegisterRPCPeerCheck(name, address string) {
	h.RegisterCheck(HealthCheck{
		Name:     name,
		Critical: false,
		Timeout:  5 * time.Second,
		Check: func(ctx context.Context) error {
			var d net.Dialer
			conn, err := d.DialContext(ctx, "tcp", address)
			if err != nil {
				return err
			}
			return conn.Close()
		},
	})
}

// Check performs all health checks
func (h *HealthChecker) Check(ctx context.Context) *HealthStatus {
	h.mu.RLock()
	checks := make(map[string]HealthCheck, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	h.mu.RUnlock()

	status := &HealthStatus{
		Status:     "healthy",
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
		Pipeline: PipelineHealth{
			QueueDepth:   make(map[string]int64),
			BrokerStatus: make(map[string]string),
		},
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, check := range checks {
		wg.Add(1)
		go func(c HealthCheck) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, c.Timeout)
			defer cancel()

			start := time.Now()
			err := c.Check(checkCtx)
			latency := time.Since(start)

			health := ComponentHealth{
				Status:      "healthy",
				LastChecked: time.Now(),
				Latency:     latency,
			}

			if err != nil {
				health.Status = "unhealthy"
				health.Message = err.Error()

				h.logger.Warn("Health check failed",
					zap.String("component", c.Name),
					zap.Error(err),
					zap.Duration("latency", latency),
				)

				if h.telemetry != nil && h.telemetry.Metrics() != nil {
					h.telemetry.Metrics().HealthStatus.WithLabelValues(c.Name).Set(0)
				}
			} else {
				if h.telemetry != nil && h.telemetry.Metrics() != nil {
					h.telemetry.Metrics().HealthStatus.WithLabelValues(c.Name).Set(1)
				}
			}

			mu.Lock()
			status.Components[c.Name] = health

			if health.Status == "unhealthy" {
				if c.Critical {
					status.Status = "unhealthy"
				} else if status.Status == "healthy" {
					status.Status = "degraded"
				}
			}
			mu.Unlock()
		}(check)
	}

	wg.Wait()

	if h.telemetry != nil && h.telemetry.Metrics() != nil {
		h.telemetry.Metrics().LastHealthCheck.SetToCurrentTime()
	}

	h.mu.Lock()
	h.lastStatus = status
	h.mu.Unlock()

	return status
}

// LivenessHandler returns an HTTP handler for liveness probes
func (h *HealthChecker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
			"time":   time.Now().Format(time.RFC3339),
		})
	}
}

// ReadinessHandler returns an HTTP handler for readiness probes
func (h *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		status := h.Check(ctx)

		w.Header().Set("Content-Type", "application/json")

		if status.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		json.NewEncoder(w).Encode(status)
	}
}

// HealthHandler returns an HTTP handler for detailed health info
func (h *HealthChecker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		status := h.Check(ctx)

		w.Header().Set("Content-Type", "application/json")

		switch status.Status {
		case "healthy":
			w.WriteHeader(http.StatusOK)
		case "degraded":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		json.NewEncoder(w).Encode(status)
	}
}

// Troubleshooting provides common issue detection and remediation
type Troubleshooting struct {
	logger *zap.Logger
}

// CommonIssue represents a detected issue
type CommonIssue struct {
	Component   string   `json:"component"`
	Issue       string   `json:"issue"`
	Severity    string   `json:"severity"`
	Description string   `json:"description"`
	Remediation []string `json:"remediation_steps"`
}

// NewTroubleshooting creates a new troubleshooting helper
func NewTroubleshooting(logger *zap.Logger) *Troubleshooting {
	return &Troubleshooting{logger: logger}
}

// DiagnoseHealthStatus analyzes health status and provides remediation
func (t *Troubleshooting) DiagnoseHealthStatus(status *HealthStatus) []CommonIssue {
	var issues []CommonIssue

	for name, component := range status.Components {
		if component.Status != "healthy" {
			issue := t.diagnoseComponent(name, component)
			if issue != nil {
				issues = append(issues, *issue)
			}
		}
	}

	return issues
}

func (t *Troubleshooting) diagnoseComponent(name string, health ComponentHealth) *CommonIssue {
	switch name {
	case "broker":
		return t.diagnoseBrokerIssue(health)
	case "registry":
		return t.diagnoseRegistryIssue(health)
	case "scorer":
		return t.diagnoseScorerIssue(health)
	case "baseline_cache":
		return t.diagnoseCacheIssue(health)
	default:
		return &CommonIssue{
			Component:   name,
			Issue:       "Component unhealthy",
			Severity:    "high",
			Description: health.Message,
			Remediation: []string{
				"Check component logs for errors",
				"Verify network connectivity to the component",
				"Check component resource utilization (CPU, memory)",
				"Restart the component if other checks pass",
			},
		}
	}
}

func (t *Troubleshooting) diagnoseBrokerIssue(health ComponentHealth) *CommonIssue {
	return &CommonIssue{
		Component:   "broker",
		Issue:       "Broker connection failure",
		Severity:    "critical",
		Description: health.Message,
		Remediation: []string{
			"1. Verify the NATS server is reachable at the configured URL",
			"2. Check JetStream is enabled on the NATS server",
			"3. Verify the consumer group's durable consumer still exists",
			"4. Check broker.max_in_flight isn't starving redelivery",
			"5. Review NATS server logs for stream/consumer errors",
		},
	}
}

func (t *Troubleshooting) diagnoseRegistryIssue(health ComponentHealth) *CommonIssue {
	return &CommonIssue{
		Component:   "registry",
		Issue:       "Registry RPC unreachable",
		Severity:    "medium",
		Description: health.Message,
		Remediation: []string{
			"1. Verify cmd/registry is running and listening on the configured port",
			"2. Enrichment degrades events to orphan=true while this is down — check orphan rate",
			"3. Verify the seed file loaded without error at Registry startup",
		},
	}
}

func (t *Troubleshooting) diagnoseScorerIssue(health ComponentHealth) *CommonIssue {
	return &CommonIssue{
		Component:   "scorer",
		Issue:       "Anomaly Scorer RPC unreachable",
		Severity:    "medium",
		Description: health.Message,
		Remediation: []string{
			"1. Verify cmd/scorer is running and listening on the configured port",
			"2. Rules Engine degrades to anomaly_degraded=true while this is down — rule-based alerts still fire",
			"3. Check the baseline cache (Redis) is reachable from the scorer process",
		},
	}
}

func (t *Troubleshooting) diagnoseCacheIssue(health ComponentHealth) *CommonIssue {
	return &CommonIssue{
		Component:   "baseline_cache",
		Issue:       "Baseline cache (Redis) unreachable",
		Severity:    "low",
		Description: health.Message,
		Remediation: []string{
			"1. Verify the Redis instance at scorer.cache_address is reachable",
			"2. The scorer falls back to an in-process baseline map while the cache is down",
			"3. Baselines reset across scorer restarts until the cache recovers",
		},
	}
}

// GetCommonRemediations returns common remediation patterns
func (t *Troubleshooting) GetCommonRemediations() map[string][]string {
	return map[string][]string{
		"broker_redelivery_storm": {
			"Check handler logs for the error causing repeated Nak()",
			"Verify downstream RPC peers (registry, scorer) are healthy",
			"Consider raising broker.poison_retry_limit if failures are transient",
		},
		"queue_backlog": {
			"Check processing rate vs ingestion rate",
			"Scale the lagging stage horizontally",
			"Check for slow downstream RPC dependencies",
		},
		"validation_error_spike": {
			"Check a specific device firmware for malformed payloads",
			"Review gateway validation_errors_total by reason label",
		},
		"orphan_rate_spike": {
			"Check registry connectivity and seed data completeness",
			"Verify newly onboarded devices were added to the registry seed",
		},
	}
}
