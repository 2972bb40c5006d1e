// Package memory provides in-memory stores for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/safescope/monitor/internal/monitor"
)

// VisitStore keeps visit records and risk alerts in memory.
type VisitStore struct {
	mu     sync.RWMutex
	visits map[string]*monitor.VisitRecord
	alerts []monitor.RiskAlert
}

// NewVisitStore creates an empty in-memory VisitStore.
func NewVisitStore() *VisitStore {
	return &VisitStore{
		visits: make(map[string]*monitor.VisitRecord),
	}
}

// FindRecent returns the most recent visit for (childEmail, canonicalURL) at
// or after since, or nil when none exists.
func (s *VisitStore) FindRecent(_ context.Context, childEmail, canonicalURL string, since time.Time) (*monitor.VisitRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *monitor.VisitRecord
	for _, rec := range s.visits {
		if rec.ChildEmail != childEmail || rec.URL != canonicalURL {
			continue
		}
		if rec.Timestamp.Before(since) {
			continue
		}
		if latest == nil || rec.Timestamp.After(latest.Timestamp) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

// Create inserts a new visit record.
func (s *VisitStore) Create(_ context.Context, rec monitor.VisitRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.visits[rec.ID]; exists {
		return fmt.Errorf("visit %s already exists", rec.ID)
	}
	cp := rec
	s.visits[rec.ID] = &cp
	return nil
}

// Accumulate adds deltaSec to the visit's duration and refreshes its
// timestamp, returning the new cumulative duration.
func (s *VisitStore) Accumulate(_ context.Context, id string, deltaSec int, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.visits[id]
	if !ok {
		return 0, fmt.Errorf("visit %s not found", id)
	}
	rec.DurationSec += deltaSec
	rec.Timestamp = now
	return rec.DurationSec, nil
}

// UpdateAnalysis overwrites the analysis fields of an existing record.
func (s *VisitStore) UpdateAnalysis(_ context.Context, rec monitor.VisitRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.visits[rec.ID]
	if !ok {
		return fmt.Errorf("visit %s not found", rec.ID)
	}
	stored.Title = rec.Title
	stored.Query = rec.Query
	stored.NightTime = rec.NightTime
	stored.Label = rec.Label
	stored.Reason = rec.Reason
	stored.Summary = rec.Summary
	stored.Timestamp = rec.Timestamp
	return nil
}

// MarkAlertSent flips alert_sent from false to true, reporting whether this
// call performed the transition.
func (s *VisitStore) MarkAlertSent(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.visits[id]
	if !ok {
		return false, fmt.Errorf("visit %s not found", id)
	}
	if rec.AlertSent {
		return false, nil
	}
	rec.AlertSent = true
	return true, nil
}

// CreateAlert records a risk alert.
func (s *VisitStore) CreateAlert(_ context.Context, alert monitor.RiskAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return nil
}

// Get returns a copy of the stored record, for inspection in tests.
func (s *VisitStore) Get(id string) (monitor.VisitRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.visits[id]
	if !ok {
		return monitor.VisitRecord{}, false
	}
	return *rec, true
}

// Alerts returns the recorded risk alerts.
func (s *VisitStore) Alerts() []monitor.RiskAlert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]monitor.RiskAlert, len(s.alerts))
	copy(out, s.alerts)
	return out
}

// Len reports the number of stored visits.
func (s *VisitStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.visits)
}
