package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/goliatone/go-report/schedule"
)

// Memory is a process-local Repository.
type Memory struct {
	mu    sync.RWMutex
	items map[string]schedule.ScheduledReport
}

func NewMemory() *Memory {
	return &Memory{items: make(map[string]schedule.ScheduledReport)}
}

func (m *Memory) Save(_ context.Context, sr schedule.ScheduledReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.items[sr.ID]; ok && cur.Version >= sr.Version {
		return conflict(sr.ID, cur.Version, sr.Version)
	}
	m.items[sr.ID] = sr
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (schedule.ScheduledReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sr, ok := m.items[id]
	if !ok {
		return schedule.ScheduledReport{}, notFound(id)
	}
	return sr, nil
}

func (m *Memory) List(_ context.Context) ([]schedule.ScheduledReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]schedule.ScheduledReport, 0, len(m.items))
	for _, sr := range m.items {
		out = append(out, sr)
	}
	sortByNext(out)
	return out, nil
}

func (m *Memory) ListDue(ctx context.Context, now time.Time) ([]schedule.ScheduledReport, error) {
	all, _ := m.List(ctx)
	due := all[:0]
	for _, sr := range all {
		if sr.IsDue(now) {
			due = append(due, sr)
		}
	}
	return due, nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return notFound(id)
	}
	delete(m.items, id)
	return nil
}

func sortByNext(items []schedule.ScheduledReport) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i].Schedule.NextExecution, items[j].Schedule.NextExecution
		if a.Equal(b) {
			return items[i].ID < items[j].ID
		}
		return a.Before(b)
	})
}
