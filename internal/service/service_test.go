package service

import (
	"context"
	"errors"
	"testing"

	"controlling_reservoir/internal/eventlog"
	"controlling_reservoir/internal/faults"
	"controlling_reservoir/internal/gateway"
	"controlling_reservoir/internal/logger"
	"controlling_reservoir/internal/models"
)

func TestSampleFailureReporter(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		mode    gateway.Mode
		wantMsg string
		wantKnd faults.Kind
	}{
		{
			name:    "gateway timeout",
			err:     faults.New(faults.KindTimeout, "read level", errors.New("silent device")),
			mode:    gateway.ModeConnected,
			wantMsg: "gateway sample failed",
			wantKnd: faults.KindTimeout,
		},
		{
			name:    "store append",
			err:     faults.Store("ingest gagok", errors.New("disk full")),
			mode:    gateway.ModeSimulated,
			wantMsg: "telemetry store write failed",
			wantKnd: faults.KindStoreUnavailable,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			events := eventlog.New(eventlog.Config{BufferSize: 16}, logger.Nop())
			report := sampleFailureReporter(events, &fakeGateway{mode: tt.mode})
			report(context.Background(), "gagok", tt.err)

			got := events.Recent(10, models.SeverityDebug)
			if len(got) != 1 {
				t.Fatalf("want 1 event, got %d", len(got))
			}
			e := got[0]
			if e.Severity != models.SeverityError || e.Category != models.CategoryError {
				t.Fatalf("want ERROR/error event, got %v/%v", e.Severity, e.Category)
			}
			if e.Message != tt.wantMsg {
				t.Fatalf("message: want %q, got %q", tt.wantMsg, e.Message)
			}
			if e.Details["error_kind"] != string(tt.wantKnd) {
				t.Fatalf("error_kind: want %q, got %v", tt.wantKnd, e.Details["error_kind"])
			}
			if e.Details["gateway_connected"] != (tt.mode == gateway.ModeConnected) {
				t.Fatalf("gateway_connected: got %v", e.Details["gateway_connected"])
			}
		})
	}
}
