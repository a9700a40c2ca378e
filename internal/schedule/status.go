package schedule

import "time"

// EntityStatus is a point-in-time view of one entity's schedule.
type EntityStatus struct {
	SlotCount       int
	CredentialCount int
	Active          bool
	CreatedAt       time.Time
	NextRun         time.Time
	LastRun         time.Time
}

// Status is a lightweight diagnostics snapshot for operators.
type Status struct {
	Running       bool
	TotalEntities int
	Entities      map[string]EntityStatus
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := Status{
		Running:       m.running,
		TotalEntities: len(m.entities),
		Entities:      make(map[string]EntityStatus, len(m.entities)),
	}
	for id, es := range m.entities {
		st := EntityStatus{
			SlotCount:       len(es.tasks),
			CredentialCount: es.credCount,
			Active:          es.active,
			CreatedAt:       es.createdAt,
		}
		for _, t := range es.tasks {
			next, prev := m.timers.Times(t.handle)
			if !next.IsZero() && (st.NextRun.IsZero() || next.Before(st.NextRun)) {
				st.NextRun = next
			}
			if prev.After(st.LastRun) {
				st.LastRun = prev
			}
		}
		out.Entities[id] = st
	}
	return out
}

// Slots returns a copy of the entity's current slot set, nil when the entity
// is not scheduled.
func (m *Manager) Slots(entityID string) []Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	es, ok := m.entities[entityID]
	if !ok {
		return nil
	}
	out := make([]Slot, len(es.slots))
	copy(out, es.slots)
	return out
}
