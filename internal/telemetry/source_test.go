package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"controlling_reservoir/internal/faults"
	"controlling_reservoir/internal/gateway"
	"controlling_reservoir/internal/models"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func seededStore(levels ...float64) *fakeStore {
	st := newFakeStore()
	for i, l := range levels {
		_ = st.Append(context.Background(), models.Reading{
			ReservoirID: "gagok",
			Timestamp:   t0.Add(time.Duration(i) * time.Minute),
			Level:       l,
			Actuators:   map[string]bool{"gagok_pump_a": false, "gagok_pump_b": false},
		})
	}
	return st
}

func TestSource_LatestIsCachedWithinTTL(t *testing.T) {
	t.Parallel()

	st := seededStore(60, 61, 62)
	src := NewSource(st, nil, Config{TTL: time.Minute}, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		r, err := src.Latest(ctx, "gagok")
		if err != nil {
			t.Fatalf("Latest: %v", err)
		}
		if r.Level != 62 {
			t.Fatalf("want 62, got %v", r.Level)
		}
	}
	if latest, _ := st.calls(); latest != 1 {
		t.Fatalf("store should be hit once inside the TTL, got %d", latest)
	}
}

func TestSource_ConcurrentMissesShareOneQuery(t *testing.T) {
	t.Parallel()

	st := seededStore(70)
	release := make(chan struct{})
	st.latestFn = func() { <-release }
	src := NewSource(st, nil, Config{TTL: time.Minute}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := src.Latest(context.Background(), "gagok"); err != nil {
				t.Errorf("Latest: %v", err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if latest, _ := st.calls(); latest > 2 {
		t.Fatalf("concurrent misses should collapse, store hit %d times", latest)
	}
}

func TestSource_InvalidateAfterActuatorChange(t *testing.T) {
	t.Parallel()

	st := seededStore(95)
	src := NewSource(st, nil, Config{TTL: time.Hour}, nil)
	src.now = func() time.Time { return t0.Add(10 * time.Minute) }
	ctx := context.Background()

	if _, err := src.Latest(ctx, "gagok"); err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if err := src.RecordActuator(ctx, "gagok", "gagok_pump_a", true); err != nil {
		t.Fatalf("RecordActuator: %v", err)
	}

	r, err := src.Latest(ctx, "gagok")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if !r.Actuators["gagok_pump_a"] {
		t.Fatalf("next read must reflect the actuator change, got %+v", r.Actuators)
	}
	if r.Level != 95 {
		t.Fatalf("level must be carried over, got %v", r.Level)
	}
	if n := len(st.rows["gagok"]); n != 2 {
		t.Fatalf("actuator change must append a row, have %d", n)
	}
}

func TestSource_LatestWithoutRows(t *testing.T) {
	t.Parallel()

	src := NewSource(newFakeStore(), nil, Config{}, nil)
	_, err := src.Latest(context.Background(), "sangsa")
	if !errors.Is(err, faults.ErrInsufficientData) {
		t.Fatalf("want insufficient data, got %v", err)
	}
}

func TestSource_FallsBackWhenStoreDown(t *testing.T) {
	t.Parallel()

	st := seededStore(60, 62, 64)
	src := NewSource(st, nil, Config{TTL: time.Millisecond}, nil)
	src.now = func() time.Time { return t0.Add(5 * time.Minute) }
	ctx := context.Background()

	if _, err := src.Latest(ctx, "gagok"); err != nil {
		t.Fatalf("Latest: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	st.setDown(true)

	r, err := src.Latest(ctx, "gagok")
	if err != nil {
		t.Fatalf("Latest should serve the remembered reading: %v", err)
	}
	if r.Level != 64 {
		t.Fatalf("want 64, got %v", r.Level)
	}

	hist, err := src.History(ctx, "gagok", time.Hour)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 1 || hist[0].Level != 64 {
		t.Fatalf("unexpected fallback history: %+v", hist)
	}
}

func TestSource_HistoryOldestFirst(t *testing.T) {
	t.Parallel()

	st := seededStore(60, 62, 64, 66)
	src := NewSource(st, nil, Config{HistorySize: 3}, nil)
	src.now = func() time.Time { return t0.Add(10 * time.Minute) }

	hist, err := src.History(context.Background(), "gagok", time.Hour)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	want := []float64{62, 64, 66}
	if len(hist) != len(want) {
		t.Fatalf("want %d points, got %d", len(want), len(hist))
	}
	for i, r := range hist {
		if r.Level != want[i] {
			t.Fatalf("point %d: want %v, got %v", i, want[i], r.Level)
		}
	}
}

func TestSource_RememberIsBounded(t *testing.T) {
	t.Parallel()

	src := NewSource(newFakeStore(), nil, Config{HistorySize: 2}, nil)
	for i := 0; i < 5; i++ {
		src.remember(models.Reading{ReservoirID: "gagok", Timestamp: t0.Add(time.Duration(i) * time.Second), Level: float64(i)})
	}
	got := src.rememberedSince("gagok", time.Time{})
	if len(got) != 2 || got[0].Level != 3 || got[1].Level != 4 {
		t.Fatalf("oldest readings should be evicted, got %+v", got)
	}
}

func TestRefresher_GatewayRoundTrip(t *testing.T) {
	t.Parallel()

	res := []models.Reservoir{{
		ID:        "gagok",
		Channel:   1,
		Actuators: []models.Actuator{{ID: "gagok_pump_a", Pump: 1}, {ID: "gagok_pump_b", Pump: 2}},
	}}
	dev := gateway.New(gateway.Config{Simulate: true, Seed: 3, Reservoirs: res}, nil)
	ctx := context.Background()
	if _, err := dev.Connect(ctx, ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, err := dev.SetActuator(ctx, "gagok_pump_b", true, 0); err != nil {
		t.Fatalf("SetActuator: %v", err)
	}

	st := newFakeStore()
	src := NewSource(st, nil, Config{TTL: time.Minute}, nil)
	rf := NewRefresher(dev, src, []string{"gagok"}, time.Minute, time.Second, nil)
	rf.RefreshOnce(ctx)

	rows := st.rows["gagok"]
	if len(rows) != 1 {
		t.Fatalf("refresher should append one row, have %d", len(rows))
	}
	written := rows[0]

	got, err := src.Latest(ctx, "gagok")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got.ReservoirID != written.ReservoirID || got.Level != written.Level {
		t.Fatalf("round trip mismatch: wrote %+v, read %+v", written, got)
	}
	if len(got.Actuators) != len(written.Actuators) {
		t.Fatalf("actuator maps differ: %v vs %v", written.Actuators, got.Actuators)
	}
	for id, on := range written.Actuators {
		if got.Actuators[id] != on {
			t.Fatalf("actuator %s: wrote %v, read %v", id, on, got.Actuators[id])
		}
	}
	if !got.Actuators["gagok_pump_b"] {
		t.Fatalf("pump b should read as on")
	}
}

func TestRefresher_ReportsErrors(t *testing.T) {
	t.Parallel()

	src := NewSource(newFakeStore(), nil, Config{}, nil)
	reader := readerFunc(func(ctx context.Context, id string) (models.Reading, error) {
		return models.Reading{}, faults.New(faults.KindTimeout, "read level", errors.New("silent device"))
	})
	rf := NewRefresher(reader, src, []string{"gagok", "sangsa"}, time.Minute, time.Second, nil)

	var failed []string
	rf.OnError = func(ctx context.Context, id string, err error) {
		if !errors.Is(err, faults.ErrTimeout) {
			t.Errorf("want timeout, got %v", err)
		}
		failed = append(failed, id)
	}
	rf.RefreshOnce(context.Background())
	if len(failed) != 2 {
		t.Fatalf("want both reservoirs reported, got %v", failed)
	}
}

func TestRefresher_ReportsStoreFailures(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	st.setDown(true)
	src := NewSource(st, nil, Config{TTL: time.Minute}, nil)
	reader := readerFunc(func(ctx context.Context, id string) (models.Reading, error) {
		return models.Reading{ReservoirID: id, Level: 72, Timestamp: time.Now().UTC()}, nil
	})
	rf := NewRefresher(reader, src, []string{"gagok"}, time.Minute, time.Second, nil)

	var got error
	rf.OnError = func(ctx context.Context, id string, err error) { got = err }
	rf.RefreshOnce(context.Background())

	if got == nil {
		t.Fatal("store outage must be reported")
	}
	if faults.KindOf(got) != faults.KindStoreUnavailable {
		t.Fatalf("want store_unavailable, got %q (%v)", faults.KindOf(got), got)
	}
}

type readerFunc func(ctx context.Context, id string) (models.Reading, error)

func (f readerFunc) ReadLevel(ctx context.Context, id string) (models.Reading, error) {
	return f(ctx, id)
}
