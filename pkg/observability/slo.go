package observability

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// SLOTarget is the objective for one host call name.
type SLOTarget struct {
	Operation   string        `json:"operation"`
	LatencyP99  time.Duration `json:"latency_p99"`
	SuccessRate float64       `json:"success_rate"` // 0-1
	Window      time.Duration `json:"window"`
}

// SLOObservation is one finished call.
type SLOObservation struct {
	Operation string        `json:"operation"`
	Latency   time.Duration `json:"latency"`
	Success   bool          `json:"success"`
	Timestamp time.Time     `json:"timestamp"`
}

// SLOStatus reports compliance over the target window.
type SLOStatus struct {
	Operation        string  `json:"operation"`
	CurrentP99Ms     float64 `json:"current_p99_ms"`
	CurrentSuccess   float64 `json:"current_success_rate"`
	InCompliance     bool    `json:"in_compliance"`
	BurnRate         float64 `json:"burn_rate"` // >1 burns the error budget faster than allowed
	ErrorBudgetLeft  float64 `json:"error_budget_left"`
	ObservationCount int     `json:"observation_count"`
}

// DefaultSLOTargets covers the state-changing protocol calls. Aborted calls
// count against the success rate, so targets are loose: a rejected
// fulfillment is a failure of the call, not of the node.
func DefaultSLOTargets() []*SLOTarget {
	var out []*SLOTarget
	for _, op := range []string{"lock", "collect", "reclaim", "pay", "vote", "arbitrate", "mediate"} {
		out = append(out, &SLOTarget{Operation: op, LatencyP99: 250 * time.Millisecond, SuccessRate: 0.9, Window: time.Hour})
	}
	return out
}

// SLOTracker keeps observations per operation and evaluates them against
// targets. Observations older than the longest window are dropped on Record.
type SLOTracker struct {
	mu           sync.Mutex
	targets      map[string]*SLOTarget
	observations map[string][]SLOObservation
	clock        func() time.Time
}

func NewSLOTracker(targets ...*SLOTarget) *SLOTracker {
	t := &SLOTracker{
		targets:      make(map[string]*SLOTarget),
		observations: make(map[string][]SLOObservation),
		clock:        time.Now,
	}
	for _, target := range targets {
		t.targets[target.Operation] = target
	}
	return t
}

// WithClock overrides clock for testing.
func (t *SLOTracker) WithClock(clock func() time.Time) *SLOTracker {
	t.clock = clock
	return t
}

func (t *SLOTracker) SetTarget(target *SLOTarget) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.targets[target.Operation] = target
}

// Operations lists the operations that have a target, sorted.
func (t *SLOTracker) Operations() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ops := make([]string, 0, len(t.targets))
	for op := range t.targets {
		ops = append(ops, op)
	}
	slices.Sort(ops)
	return ops
}

// Record stores obs if its operation has a target.
func (t *SLOTracker) Record(obs SLOObservation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	target, ok := t.targets[obs.Operation]
	if !ok {
		return
	}
	if obs.Timestamp.IsZero() {
		obs.Timestamp = t.clock()
	}
	cutoff := t.clock().Add(-target.Window)
	kept := slices.DeleteFunc(t.observations[obs.Operation], func(o SLOObservation) bool {
		return !o.Timestamp.After(cutoff)
	})
	t.observations[obs.Operation] = append(kept, obs)
}

// Status computes the current status of operation.
func (t *SLOTracker) Status(operation string) (*SLOStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	target, ok := t.targets[operation]
	if !ok {
		return nil, fmt.Errorf("no SLO target for operation %q", operation)
	}

	windowStart := t.clock().Add(-target.Window)
	var latencies []float64
	successes := 0
	for _, obs := range t.observations[operation] {
		if !obs.Timestamp.After(windowStart) {
			continue
		}
		latencies = append(latencies, float64(obs.Latency)/float64(time.Millisecond))
		if obs.Success {
			successes++
		}
	}
	if len(latencies) == 0 {
		return &SLOStatus{Operation: operation, InCompliance: true, ErrorBudgetLeft: 100}, nil
	}

	successRate := float64(successes) / float64(len(latencies))
	slices.Sort(latencies)
	p99 := latencies[min(int(float64(len(latencies))*0.99), len(latencies)-1)]

	errorBudget := 1 - target.SuccessRate
	errorRate := 1 - successRate
	var burnRate, budgetLeft float64
	if errorBudget > 0 {
		burnRate = errorRate / errorBudget
		budgetLeft = max(0, 100*(1-burnRate))
	}

	return &SLOStatus{
		Operation:        operation,
		CurrentP99Ms:     p99,
		CurrentSuccess:   successRate,
		InCompliance:     p99 <= float64(target.LatencyP99)/float64(time.Millisecond) && successRate >= target.SuccessRate,
		BurnRate:         burnRate,
		ErrorBudgetLeft:  budgetLeft,
		ObservationCount: len(latencies),
	}, nil
}
