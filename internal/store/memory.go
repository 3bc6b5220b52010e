package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DefaultMemoryCapacity bounds each telemetry table of a MemoryStore.
const DefaultMemoryCapacity = 200_000

// MemoryStore is an ephemeral Store used in tests and as the fallback when the
// database cannot be reached. Telemetry tables drop their oldest rows once
// capacity is reached; alerts, snapshots and maintenance records are kept.
type MemoryStore struct {
	mu       sync.RWMutex
	capacity int
	nextID   uint

	phases      []PhaseCurrentSample
	controllers []ControllerSample
	transitions []TransitionEvent
	alerts      []Alert
	health      []HealthSnapshot
	maintenance []MaintenanceRecord
}

// NewMemoryStore creates an empty store with the default capacity.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithCapacity(DefaultMemoryCapacity)
}

// NewMemoryStoreWithCapacity creates an empty store keeping at most capacity
// rows per telemetry table.
func NewMemoryStoreWithCapacity(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStore{capacity: capacity}
}

func (s *MemoryStore) id() uint {
	s.nextID++
	return s.nextID
}

func bounded[T any](rows []T, capacity int) []T {
	if len(rows) > capacity {
		return rows[len(rows)-capacity:]
	}
	return rows
}

// AppendPhaseCurrent stores a phase current sample.
func (s *MemoryStore) AppendPhaseCurrent(_ context.Context, p *PhaseCurrentSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stamp(&p.Timestamp)
	p.ID = s.id()
	s.phases = bounded(append(s.phases, *p), s.capacity)
	return nil
}

// AppendControllerSample stores a controller sample.
func (s *MemoryStore) AppendControllerSample(_ context.Context, c *ControllerSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stamp(&c.Timestamp)
	c.ID = s.id()
	s.controllers = bounded(append(s.controllers, *c), s.capacity)
	return nil
}

// AppendTransition stores a completed transition.
func (s *MemoryStore) AppendTransition(_ context.Context, e *TransitionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stamp(&e.Timestamp)
	e.ID = s.id()
	s.transitions = bounded(append(s.transitions, *e), s.capacity)
	return nil
}

// AppendAlert stores a new, unacknowledged alert.
func (s *MemoryStore) AppendAlert(_ context.Context, a *Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stamp(&a.Timestamp)
	a.ID = s.id()
	a.Acknowledged = false
	a.AcknowledgedAt = nil
	s.alerts = append(s.alerts, *a)
	return nil
}

// AppendHealthSnapshot stores a health computation result.
func (s *MemoryStore) AppendHealthSnapshot(_ context.Context, h *HealthSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stamp(&h.Timestamp)
	h.ID = s.id()
	s.health = append(s.health, *h)
	return nil
}

// AppendMaintenanceRecord stores a maintenance record.
func (s *MemoryStore) AppendMaintenanceRecord(_ context.Context, r *MaintenanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stamp(&r.Timestamp)
	r.ID = s.id()
	s.maintenance = append(s.maintenance, *r)
	return nil
}

// filter copies the rows matching keep.
func filter[T any](rows []T, keep func(T) bool) []T {
	out := make([]T, 0)
	for _, r := range rows {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// newestFirst sorts by timestamp then id, descending, and truncates to limit.
func newestFirst[T any](rows []T, ts func(T) time.Time, id func(T) uint, limit int) []T {
	sort.SliceStable(rows, func(i, j int) bool {
		ti, tj := ts(rows[i]), ts(rows[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return id(rows[i]) > id(rows[j])
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

// oldestFirst sorts by timestamp then id, ascending.
func oldestFirst[T any](rows []T, ts func(T) time.Time, id func(T) uint) []T {
	sort.SliceStable(rows, func(i, j int) bool {
		ti, tj := ts(rows[i]), ts(rows[j])
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return id(rows[i]) < id(rows[j])
	})
	return rows
}

func phaseTS(p PhaseCurrentSample) time.Time { return p.Timestamp }
func phaseID(p PhaseCurrentSample) uint { return p.ID }
func ctrlTS(c ControllerSample) time.Time { return c.Timestamp }
func ctrlID(c ControllerSample) uint { return c.ID }
func transitionTS(e TransitionEvent) time.Time { return e.Timestamp }
func transitionID(e TransitionEvent) uint { return e.ID }

// RecentPhaseCurrents returns the latest samples, most recent first.
func (s *MemoryStore) RecentPhaseCurrents(_ context.Context, assetID string, limit int) ([]PhaseCurrentSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := filter(s.phases, func(p PhaseCurrentSample) bool { return p.AssetID == assetID })
	return newestFirst(rows, phaseTS, phaseID, limit), nil
}

// RecentControllerSamples returns the latest controller samples, most recent first.
func (s *MemoryStore) RecentControllerSamples(_ context.Context, assetID, controllerID string, limit int) ([]ControllerSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := filter(s.controllers, func(c ControllerSample) bool {
		return c.AssetID == assetID && (controllerID == "" || c.ControllerID == controllerID)
	})
	return newestFirst(rows, ctrlTS, ctrlID, limit), nil
}

// RecentTransitions returns the latest transitions, most recent first.
func (s *MemoryStore) RecentTransitions(_ context.Context, assetID, startPosition, endPosition string, limit int) ([]TransitionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := filter(s.transitions, func(e TransitionEvent) bool {
		return e.AssetID == assetID &&
			(startPosition == "" || e.StartPosition == startPosition) &&
			(endPosition == "" || e.EndPosition == endPosition)
	})
	return newestFirst(rows, transitionTS, transitionID, limit), nil
}

// PhaseCurrentsSince returns samples at or after since, oldest first.
func (s *MemoryStore) PhaseCurrentsSince(_ context.Context, assetID string, since time.Time) ([]PhaseCurrentSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := filter(s.phases, func(p PhaseCurrentSample) bool {
		return p.AssetID == assetID && !p.Timestamp.Before(since)
	})
	return oldestFirst(rows, phaseTS, phaseID), nil
}

// ControllerSamplesSince returns controller samples at or after since, oldest first.
func (s *MemoryStore) ControllerSamplesSince(_ context.Context, assetID, controllerID string, since time.Time) ([]ControllerSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := filter(s.controllers, func(c ControllerSample) bool {
		return c.AssetID == assetID && !c.Timestamp.Before(since) &&
			(controllerID == "" || c.ControllerID == controllerID)
	})
	return oldestFirst(rows, ctrlTS, ctrlID), nil
}

// TransitionsSince returns transitions at or after since, oldest first.
func (s *MemoryStore) TransitionsSince(_ context.Context, assetID string, since time.Time) ([]TransitionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := filter(s.transitions, func(e TransitionEvent) bool {
		return e.AssetID == assetID && !e.Timestamp.Before(since)
	})
	return oldestFirst(rows, transitionTS, transitionID), nil
}

// Alerts returns alerts matching the filter, most recent first.
func (s *MemoryStore) Alerts(_ context.Context, f AlertFilter) ([]Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := filter(s.alerts, func(a Alert) bool {
		switch {
		case f.AssetID != "" && a.AssetID != f.AssetID:
			return false
		case f.Severity != "" && a.Severity != f.Severity:
			return false
		case f.Acknowledged != nil && a.Acknowledged != *f.Acknowledged:
			return false
		case !f.Since.IsZero() && a.Timestamp.Before(f.Since):
			return false
		case !f.Until.IsZero() && a.Timestamp.After(f.Until):
			return false
		}
		return true
	})
	return newestFirst(rows,
		func(a Alert) time.Time { return a.Timestamp },
		func(a Alert) uint { return a.ID },
		f.Limit), nil
}

// AcknowledgeAlert marks an alert as acknowledged.
func (s *MemoryStore) AcknowledgeAlert(_ context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.alerts {
		if s.alerts[i].ID == id {
			now := time.Now().UTC()
			s.alerts[i].Acknowledged = true
			s.alerts[i].AcknowledgedAt = &now
			return nil
		}
	}
	return ErrNotFound
}

// HealthHistory returns snapshots at or after since, oldest first.
func (s *MemoryStore) HealthHistory(_ context.Context, assetID string, since time.Time) ([]HealthSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := filter(s.health, func(h HealthSnapshot) bool {
		return h.AssetID == assetID && !h.Timestamp.Before(since)
	})
	return oldestFirst(rows,
		func(h HealthSnapshot) time.Time { return h.Timestamp },
		func(h HealthSnapshot) uint { return h.ID }), nil
}

// MaintenanceHistory returns maintenance records, most recent first.
func (s *MemoryStore) MaintenanceHistory(_ context.Context, assetID string, limit int) ([]MaintenanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := filter(s.maintenance, func(r MaintenanceRecord) bool { return r.AssetID == assetID })
	return newestFirst(rows,
		func(r MaintenanceRecord) time.Time { return r.Timestamp },
		func(r MaintenanceRecord) uint { return r.ID },
		limit), nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
