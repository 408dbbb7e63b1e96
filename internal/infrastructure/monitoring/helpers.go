package monitoring

import "time"

// GetSnapshot returns a copy of the running totals
func (m *Metrics) GetSnapshot() Snapshot {
	if m == nil {
		return Snapshot{ByState: map[string]int64{}}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.snapshot
	s.ByState = make(map[string]int64, len(m.snapshot.ByState))
	for k, v := range m.snapshot.ByState {
		s.ByState[k] = v
	}
	return s
}

// Summary returns the stats payload served as JSON
func (m *Metrics) Summary() map[string]interface{} {
	s := m.GetSnapshot()

	var avg float64
	if s.Executions > 0 {
		avg = float64(s.TotalMillis) / float64(s.Executions)
	}

	var uptime time.Duration
	if m != nil {
		uptime = time.Since(m.startTime)
	}

	return map[string]interface{}{
		"executions":          s.Executions,
		"by_state":            s.ByState,
		"avg_execution_ms":    avg,
		"security_violations": s.Violations,
		"ssrf_blocked":        s.SSRFBlocked,
		"bridge_requests":     s.BridgeRequests,
		"uptime_seconds":      uptime.Seconds(),
	}
}
