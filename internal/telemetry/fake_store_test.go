package telemetry

import (
	"context"
	"sort"
	"sync"
	"time"

	"controlling_reservoir/internal/faults"
	"controlling_reservoir/internal/models"
	"controlling_reservoir/internal/repository"
)

// fakeStore is an in-memory TelemetryStore that counts calls and can be switched off.
type fakeStore struct {
	mu       sync.Mutex
	rows     map[string][]models.Reading
	latestN  int
	sinceN   int
	down     bool
	latestFn func() // runs inside Latest, used to hold concurrent callers
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string][]models.Reading)}
}

func (f *fakeStore) Latest(ctx context.Context, reservoirID string) (models.Reading, error) {
	f.mu.Lock()
	f.latestN++
	down := f.down
	hook := f.latestFn
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if down {
		return models.Reading{}, faults.Store("latest reading", context.DeadlineExceeded)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.rows[reservoirID]
	if len(rows) == 0 {
		return models.Reading{}, faults.New(faults.KindInsufficientData, "latest reading", repository.ErrNoReadings)
	}
	return rows[len(rows)-1], nil
}

func (f *fakeStore) Since(ctx context.Context, reservoirID string, since time.Time, limit int) ([]models.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinceN++
	if f.down {
		return nil, faults.Store("readings since", context.DeadlineExceeded)
	}
	var out []models.Reading
	for _, r := range f.rows[reservoirID] {
		if !r.Timestamp.Before(since) {
			out = append(out, r)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeStore) Append(ctx context.Context, r models.Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return faults.Store("append reading", context.DeadlineExceeded)
	}
	rows := append(f.rows[r.ReservoirID], r)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Timestamp.Before(rows[j].Timestamp) })
	f.rows[r.ReservoirID] = rows
	return nil
}

func (f *fakeStore) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *fakeStore) calls() (latest, since int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latestN, f.sinceN
}
