package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"foodsafe-workflow/internal/models"
	"foodsafe-workflow/internal/status"
)

// Memory is an in-process Store used by tests and local development. Row
// writes are serialized by a single mutex, mirroring the per-row atomicity
// the hosted database provides.
type Memory struct {
	mu         sync.RWMutex
	capas      map[string]models.CAPA
	ncs        map[string]models.NonConformance
	complaints map[string]models.Complaint
	documents  map[string]models.Document
	activities map[string][]models.Activity
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		capas:      make(map[string]models.CAPA),
		ncs:        make(map[string]models.NonConformance),
		complaints: make(map[string]models.Complaint),
		documents:  make(map[string]models.Document),
		activities: make(map[string][]models.Activity),
	}
}

func (m *Memory) InsertCAPA(_ context.Context, c models.CAPA) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.capas[c.ID]; ok {
		return fmt.Errorf("capa %s already exists", c.ID)
	}
	m.capas[c.ID] = c
	return nil
}

func (m *Memory) GetCAPA(_ context.Context, id string) (models.CAPA, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.capas[id]
	if !ok {
		return models.CAPA{}, fmt.Errorf("capa %s: %w", id, ErrNotFound)
	}
	return c, nil
}

func (m *Memory) UpdateCAPAStatus(_ context.Context, id string, st status.CAPAStatus, completion *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.capas[id]
	if !ok {
		return fmt.Errorf("capa %s: %w", id, ErrNotFound)
	}
	c.Status = st
	if completion != nil {
		c.CompletionDate = completion
	}
	c.UpdatedAt = time.Now().UTC()
	m.capas[id] = c
	return nil
}

func (m *Memory) SetCAPAEffectiveness(_ context.Context, id string, rating int, verifiedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.capas[id]
	if !ok {
		return fmt.Errorf("capa %s: %w", id, ErrNotFound)
	}
	c.EffectivenessRating = &rating
	c.EffectivenessVerified = true
	c.VerificationDate = &verifiedAt
	c.UpdatedAt = time.Now().UTC()
	m.capas[id] = c
	return nil
}

func (m *Memory) ListCAPAs(_ context.Context, f CAPAFilter) ([]models.CAPA, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.capas))
	for id := range m.capas {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []models.CAPA
	for _, id := range ids {
		if f.AfterID != "" && id <= f.AfterID {
			continue
		}
		c := m.capas[id]
		if !capaMatches(c, f) {
			continue
		}
		out = append(out, c)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func capaMatches(c models.CAPA, f CAPAFilter) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if c.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.DueBefore != nil && (c.DueDate == nil || !c.DueDate.Before(*f.DueBefore)) {
		return false
	}
	if f.DueAfter != nil && (c.DueDate == nil || c.DueDate.Before(*f.DueAfter)) {
		return false
	}
	if f.ClosedBefore != nil && (c.CompletionDate == nil || !c.CompletionDate.Before(*f.ClosedBefore)) {
		return false
	}
	if f.Unverified && c.EffectivenessVerified {
		return false
	}
	return true
}

func (m *Memory) FindCAPABySource(_ context.Context, source status.CAPASource, sourceID string) (models.CAPA, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.capas {
		if c.Source == source && c.SourceID != nil && *c.SourceID == sourceID {
			return c, nil
		}
	}
	return models.CAPA{}, fmt.Errorf("capa for %s %s: %w", source, sourceID, ErrNotFound)
}

func (m *Memory) MarkCAPAOverdue(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.capas[id]
	if !ok {
		return false, fmt.Errorf("capa %s: %w", id, ErrNotFound)
	}
	if c.Status != status.CAPAOpen && c.Status != status.CAPAInProgress {
		return false, nil
	}
	c.Status = status.CAPAOverdue
	c.UpdatedAt = time.Now().UTC()
	m.capas[id] = c
	return true, nil
}

func (m *Memory) InsertNC(_ context.Context, nc models.NonConformance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ncs[nc.ID]; ok {
		return fmt.Errorf("non-conformance %s already exists", nc.ID)
	}
	m.ncs[nc.ID] = nc
	return nil
}

func (m *Memory) GetNC(_ context.Context, id string) (models.NonConformance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	nc, ok := m.ncs[id]
	if !ok {
		return models.NonConformance{}, fmt.Errorf("non-conformance %s: %w", id, ErrNotFound)
	}
	return nc, nil
}

func (m *Memory) UpdateNCStatus(_ context.Context, id string, st status.NCStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	nc, ok := m.ncs[id]
	if !ok {
		return fmt.Errorf("non-conformance %s: %w", id, ErrNotFound)
	}
	nc.Status = st
	nc.UpdatedAt = time.Now().UTC()
	m.ncs[id] = nc
	return nil
}

func (m *Memory) SetNCCAPARef(_ context.Context, id, capaID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	nc, ok := m.ncs[id]
	if !ok {
		return fmt.Errorf("non-conformance %s: %w", id, ErrNotFound)
	}
	nc.CAPAID = &capaID
	nc.UpdatedAt = time.Now().UTC()
	m.ncs[id] = nc
	return nil
}

func (m *Memory) InsertComplaint(_ context.Context, c models.Complaint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.complaints[c.ID]; ok {
		return fmt.Errorf("complaint %s already exists", c.ID)
	}
	m.complaints[c.ID] = c
	return nil
}

func (m *Memory) GetComplaint(_ context.Context, id string) (models.Complaint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.complaints[id]
	if !ok {
		return models.Complaint{}, fmt.Errorf("complaint %s: %w", id, ErrNotFound)
	}
	return c, nil
}

func (m *Memory) UpdateComplaintStatus(_ context.Context, id string, st status.ComplaintStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.complaints[id]
	if !ok {
		return fmt.Errorf("complaint %s: %w", id, ErrNotFound)
	}
	c.Status = st
	c.UpdatedAt = time.Now().UTC()
	m.complaints[id] = c
	return nil
}

func (m *Memory) SetComplaintCAPARef(_ context.Context, id, capaID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.complaints[id]
	if !ok {
		return fmt.Errorf("complaint %s: %w", id, ErrNotFound)
	}
	c.CAPAID = &capaID
	c.UpdatedAt = time.Now().UTC()
	m.complaints[id] = c
	return nil
}

func (m *Memory) InsertDocument(_ context.Context, d models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[d.ID]; ok {
		return fmt.Errorf("document %s already exists", d.ID)
	}
	m.documents[d.ID] = d
	return nil
}

func (m *Memory) GetDocument(_ context.Context, id string) (models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.documents[id]
	if !ok {
		return models.Document{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return d, nil
}

func (m *Memory) UpdateDocumentStatus(_ context.Context, id string, st status.DocumentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	d.Status = st
	d.UpdatedAt = time.Now().UTC()
	m.documents[id] = d
	return nil
}

func (m *Memory) SetDocumentCheckout(_ context.Context, id string, st status.CheckoutStatus, by *string, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	d.CheckoutStatus = st
	d.CheckedOutBy = by
	d.Version = version
	d.UpdatedAt = time.Now().UTC()
	m.documents[id] = d
	return nil
}

func (m *Memory) AppendActivity(_ context.Context, a models.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activities[a.RecordID] = append(m.activities[a.RecordID], a)
	return nil
}

func (m *Memory) ListActivities(_ context.Context, recordID string, order Order) ([]models.Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.activities[recordID]
	out := make([]models.Activity, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool {
		if order == OrderDesc {
			return out[i].PerformedAt.After(out[j].PerformedAt)
		}
		return out[i].PerformedAt.Before(out[j].PerformedAt)
	})
	return out, nil
}
