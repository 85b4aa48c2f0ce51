// Package store provides Repository implementations.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/warp/grd-engine/generic"
	"github.com/warp/grd-engine/grd"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	episodes map[generic.EpisodeID]grd.Episode
	rules    map[string]grd.GrdRule
	prices   []grd.PriceEntry
	patients map[generic.PatientID]grd.Patient
}

var _ grd.Repository = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		episodes: make(map[generic.EpisodeID]grd.Episode),
		rules:    make(map[string]grd.GrdRule),
		patients: make(map[generic.PatientID]grd.Patient),
	}
}

func ruleKey(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// -----------------------------------------------------------------------------
// Episodes
// -----------------------------------------------------------------------------

func (m *Memory) GetEpisode(_ context.Context, id generic.EpisodeID) (*grd.Episode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ep, ok := m.episodes[id]
	if !ok {
		return nil, generic.ErrEpisodeNotFound
	}
	return &ep, nil
}

func (m *Memory) ListEpisodes(_ context.Context, filter grd.EpisodeFilter) ([]grd.Episode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []grd.Episode
	for _, ep := range m.episodes {
		if filter.Matches(ep) {
			out = append(out, ep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *Memory) CreateEpisode(_ context.Context, ep grd.Episode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.episodes[ep.ID]; exists {
		return generic.ErrDuplicateCode
	}
	ep.Version = 1
	m.episodes[ep.ID] = ep
	return nil
}

// UpdateEpisode is a compare-and-swap on the episode version.
func (m *Memory) UpdateEpisode(_ context.Context, ep grd.Episode, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.episodes[ep.ID]
	if !ok {
		return generic.ErrEpisodeNotFound
	}
	if current.Version != expectedVersion {
		return generic.ErrConcurrentModification
	}
	ep.Version = expectedVersion + 1
	ep.CreatedAt = current.CreatedAt
	m.episodes[ep.ID] = ep
	return nil
}

func (m *Memory) DeleteEpisode(_ context.Context, id generic.EpisodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.episodes[id]; !ok {
		return generic.ErrEpisodeNotFound
	}
	delete(m.episodes, id)
	return nil
}

// -----------------------------------------------------------------------------
// Catalog
// -----------------------------------------------------------------------------

func (m *Memory) GetGrdRule(_ context.Context, code string) (*grd.GrdRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[ruleKey(code)]
	if !ok {
		return nil, generic.ErrGrdRuleNotFound
	}
	return &r, nil
}

func (m *Memory) ListGrdRules(_ context.Context) ([]grd.GrdRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]grd.GrdRule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *Memory) UpsertGrdRule(_ context.Context, rule grd.GrdRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[ruleKey(rule.Code)] = rule
	return nil
}

func (m *Memory) ListPriceEntries(_ context.Context, agreement string) ([]grd.PriceEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	code := grd.NormalizeAgreement(agreement)
	var out []grd.PriceEntry
	for _, p := range m.prices {
		if code == "" || grd.NormalizeAgreement(p.AgreementCode) == code {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) AddPriceEntry(_ context.Context, entry grd.PriceEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices = append(m.prices, entry)
	return nil
}

// ImportCatalog holds the write lock for the whole batch, so readers never
// observe a partial import.
func (m *Memory) ImportCatalog(_ context.Context, rules []grd.GrdRule, prices []grd.PriceEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rules {
		m.rules[ruleKey(r.Code)] = r
	}
	m.prices = append(m.prices, prices...)
	return nil
}

// -----------------------------------------------------------------------------
// Patients
// -----------------------------------------------------------------------------

func (m *Memory) SavePatient(_ context.Context, p grd.Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patients[p.ID] = p
	return nil
}

func (m *Memory) GetPatient(_ context.Context, id generic.PatientID) (*grd.Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, generic.ErrPatientNotFound
	}
	return &p, nil
}
