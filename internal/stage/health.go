package stage

import "context"

// Health summarizes the readiness of a pipeline collaborator.
type Health struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}

// HealthChecker is implemented by collaborators that can report readiness.
type HealthChecker interface {
	HealthCheck(ctx context.Context) Health
}

// CheckAll runs every non-nil checker and keys the results by reported name.
func CheckAll(ctx context.Context, checkers ...HealthChecker) map[string]Health {
	out := make(map[string]Health, len(checkers))
	for _, checker := range checkers {
		if checker == nil {
			continue
		}
		health := checker.HealthCheck(ctx)
		out[health.Name] = health
	}
	return out
}
