package sparkle

import (
	"encoding/json"
	"net/http"
	"time"
)

// CheckResult represents the result of a health check.
type CheckResult struct {
	// Name is the name of the check.
	Name string `json:"name"`

	// Healthy indicates whether the check passed.
	Healthy bool `json:"healthy"`

	// Message provides additional context about the check result.
	Message string `json:"message,omitempty"`

	// Duration is how long the check took.
	Duration time.Duration `json:"duration_ns,omitempty"`
}

// HealthStatus represents the overall health status of the node.
type HealthStatus struct {
	// Healthy indicates whether all checks passed.
	Healthy bool `json:"healthy"`

	// Checks contains the results of individual checks.
	Checks []CheckResult `json:"checks"`

	// Timestamp is when the health check was performed.
	Timestamp time.Time `json:"timestamp"`
}

// IsHealthy returns true if the node is started. This is a quick check
// suitable for liveness probes; membership in a network is reported by
// ReadinessChecks.
func (n *Node) IsHealthy() bool {
	n.startMu.Lock()
	defer n.startMu.Unlock()
	return n.started
}

// ReadinessChecks performs detailed health checks and returns the
// results. Suitable for readiness probes and debugging.
//
// Checks performed:
//   - node_started: whether the node has been started
//   - joined: whether the node is a member of a network
//   - masters_known: whether at least one master is routed
//   - negotiations: in-flight handshakes (informational)
func (n *Node) ReadinessChecks() HealthStatus {
	status := HealthStatus{
		Healthy:   true,
		Checks:    make([]CheckResult, 0, 4),
		Timestamp: time.Now(),
	}

	start := time.Now()
	started := n.IsHealthy()
	status.Checks = append(status.Checks, CheckResult{
		Name:     "node_started",
		Healthy:  started,
		Message:  boolToMessage(started, "node is running", "node is not started"),
		Duration: time.Since(start),
	})
	if !started {
		status.Healthy = false
		return status
	}

	snap := n.link.StateSnapshot()

	start = time.Now()
	status.Checks = append(status.Checks, CheckResult{
		Name:     "joined",
		Healthy:  snap.Joined,
		Message:  boolToMessage(snap.Joined, "member of a network", "not joined (step "+snap.JoinStep.String()+")"),
		Duration: time.Since(start),
	})
	if !snap.Joined {
		status.Healthy = false
	}

	start = time.Now()
	mastersOK := snap.Masters > 0
	status.Checks = append(status.Checks, CheckResult{
		Name:     "masters_known",
		Healthy:  mastersOK,
		Message:  boolToMessage(mastersOK, "at least one master routed", "no masters known"),
		Duration: time.Since(start),
	})
	if !mastersOK {
		status.Healthy = false
	}

	// Informational only; pending handshakes are normal.
	start = time.Now()
	negMsg := "no handshakes in flight"
	if snap.AwaitingCount > 0 {
		negMsg = "handshakes in flight"
	}
	status.Checks = append(status.Checks, CheckResult{
		Name:     "negotiations",
		Healthy:  true,
		Message:  negMsg,
		Duration: time.Since(start),
	})

	return status
}

// boolToMessage returns trueMsg if b is true, otherwise falseMsg.
func boolToMessage(b bool, trueMsg, falseMsg string) string {
	if b {
		return trueMsg
	}
	return falseMsg
}

// HealthHandler returns an http.Handler that serves readiness check
// responses: 200 OK when healthy, 503 otherwise, with a JSON
// HealthStatus body.
//
// Example usage:
//
//	http.Handle("/health", sparkle.HealthHandler(node))
func HealthHandler(node *Node) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := node.ReadinessChecks()

		w.Header().Set("Content-Type", "application/json")
		if status.Healthy {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(status)
	})
}

// LivenessHandler returns an http.Handler serving the quick liveness
// check: 200 OK while the node is started.
//
// Example usage:
//
//	http.Handle("/live", sparkle.LivenessHandler(node))
func LivenessHandler(node *Node) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if node.IsHealthy() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"healthy":true}`))
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"healthy":false}`))
		}
	})
}
