package messaging

import (
	"context"
	"time"
)

// HealthChecker can check the health of a broker connection.
type HealthChecker interface {
	// CheckHealth returns nil if the connection is healthy, error otherwise.
	CheckHealth(ctx context.Context) error
}

// HealthStatus represents the health state of a dependency.
type HealthStatus struct {
	Name    string        `json:"name"`
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency_ms"`
	Error   string        `json:"error,omitempty"`
}

// CheckHealth runs checker with a bounded timeout and reports the result.
func CheckHealth(ctx context.Context, name string, checker HealthChecker, timeout time.Duration) HealthStatus {
	status := HealthStatus{Name: name}
	if checker == nil {
		status.Error = "checker is nil"
		return status
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := checker.CheckHealth(ctx)
	status.Latency = time.Since(start)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Healthy = true
	return status
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

// CheckHealth calls f.
func (f HealthCheckFunc) CheckHealth(ctx context.Context) error { return f(ctx) }
