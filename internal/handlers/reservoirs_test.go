package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"controlling_reservoir/internal/models"
	"controlling_reservoir/internal/service"
)

func TestReservoirHandlers_Reading(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode int
	}{
		{name: "ok", wantCode: http.StatusOK},
		{name: "unknown", err: service.ErrUnknownReservoir, wantCode: http.StatusNotFound},
		{name: "telemetry down", err: errors.New("store down"), wantCode: http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mon := &mockMonitoring{
				reading:    models.Reading{ReservoirID: "gagok", Level: 88.5, Actuators: map[string]bool{"pump1": true}},
				readingErr: tc.err,
			}
			s := &service.Service{Authorization: &mockAuth{}, Monitoring: mon}
			w := doGet(t, s, "/api/v1/reservoirs/gagok/reading")
			if w.Code != tc.wantCode {
				t.Fatalf("status: got %d, want %d", w.Code, tc.wantCode)
			}
			if tc.wantCode != http.StatusOK {
				return
			}
			var r models.Reading
			_ = json.Unmarshal(w.Body.Bytes(), &r)
			if r.Level != 88.5 || !r.Actuators["pump1"] {
				t.Fatalf("unexpected reading: %+v", r)
			}
		})
	}
}

func TestReservoirHandlers_History(t *testing.T) {
	mon := &mockMonitoring{history: []models.Reading{{Level: 1}, {Level: 2}}}
	s := &service.Service{Authorization: &mockAuth{}, Monitoring: mon}

	if w := doGet(t, s, "/api/v1/reservoirs/gagok/history?window=48h"); w.Code != http.StatusBadRequest {
		t.Fatalf("oversized window should be 400, got %d", w.Code)
	}
	w := doGet(t, s, "/api/v1/reservoirs/gagok/history?window=30m")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if mon.lastWindow != 30*time.Minute {
		t.Fatalf("window: got %v", mon.lastWindow)
	}
	var out struct {
		Count int `json:"count"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	if out.Count != 2 {
		t.Fatalf("count: got %d", out.Count)
	}
}

func TestReservoirHandlers_ListAndLearning(t *testing.T) {
	mon := &mockMonitoring{
		reservoirs: []models.Reservoir{{ID: "gagok"}, {ID: "sangsa"}},
		report:     service.LearningReport{Summary: models.LearningSummary{ReservoirID: "gagok", Total: 3, Successful: 2}},
	}
	s := &service.Service{Authorization: &mockAuth{}, Monitoring: mon}

	w := doGet(t, s, "/api/v1/reservoirs")
	if w.Code != http.StatusOK {
		t.Fatalf("list status=%d", w.Code)
	}
	var list struct {
		Count int `json:"count"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if list.Count != 2 {
		t.Fatalf("count: got %d", list.Count)
	}

	w = doGet(t, s, "/api/v1/reservoirs/gagok/learning")
	if w.Code != http.StatusOK {
		t.Fatalf("learning status=%d", w.Code)
	}
	var report service.LearningReport
	_ = json.Unmarshal(w.Body.Bytes(), &report)
	if report.Summary.Total != 3 || report.Summary.Successful != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}

	mon.reportErr = service.ErrUnknownReservoir
	if w := doGet(t, s, "/api/v1/reservoirs/nope/learning"); w.Code != http.StatusNotFound {
		t.Fatalf("unknown reservoir should be 404, got %d", w.Code)
	}
}
