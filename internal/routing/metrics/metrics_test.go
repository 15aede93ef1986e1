package metrics

import (
	"testing"
	"time"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	s := m.GetStats()
	if s.Operations != 0 || s.Created != 0 || s.Deleted != 0 || s.Failed != 0 || s.Average != 0 {
		t.Errorf("Initial metrics should be zero, got %+v", s)
	}

	m.RecordCreate(100*time.Millisecond, true)
	m.RecordDelete(300*time.Millisecond, true)
	m.RecordCreate(200*time.Millisecond, false)

	s = m.GetStats()
	if s.Operations != 3 {
		t.Errorf("Expected 3 operations, got %d", s.Operations)
	}
	if s.Created != 1 {
		t.Errorf("Expected 1 creation, got %d", s.Created)
	}
	if s.Deleted != 1 {
		t.Errorf("Expected 1 deletion, got %d", s.Deleted)
	}
	if s.Failed != 1 {
		t.Errorf("Expected 1 failure, got %d", s.Failed)
	}
	if s.Average != 200*time.Millisecond {
		t.Errorf("Expected 200ms avg time, got %v", s.Average)
	}
}
