package metrics

import (
	"sync"
	"time"
)

// Metrics counts the route mutations performed during one run
type Metrics struct {
	RouteOperations int64
	Created         int64
	Deleted         int64
	FailedOps       int64
	TotalOpTime     time.Duration
	LastUpdate      time.Time
	mutex           sync.RWMutex
}

// Stats is a point-in-time copy of the counters
type Stats struct {
	Operations int64
	Created    int64
	Deleted    int64
	Failed     int64
	Average    time.Duration
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		LastUpdate: time.Now(),
	}
}

// RecordCreate records a route creation attempt
func (m *Metrics) RecordCreate(duration time.Duration, success bool) {
	m.record(duration, success, &m.Created)
}

// RecordDelete records a route deletion attempt
func (m *Metrics) RecordDelete(duration time.Duration, success bool) {
	m.record(duration, success, &m.Deleted)
}

func (m *Metrics) record(duration time.Duration, success bool, counter *int64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.RouteOperations++
	if success {
		*counter++
	} else {
		m.FailedOps++
	}

	m.TotalOpTime += duration
	m.LastUpdate = time.Now()
}

// GetStats returns the metrics statistics
func (m *Metrics) GetStats() Stats {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	s := Stats{
		Operations: m.RouteOperations,
		Created:    m.Created,
		Deleted:    m.Deleted,
		Failed:     m.FailedOps,
	}
	if m.RouteOperations > 0 {
		s.Average = m.TotalOpTime / time.Duration(m.RouteOperations)
	}
	return s
}
