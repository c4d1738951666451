package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	testingclock "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/athena/internal/athena/core"
	"github.com/autopeer-io/athena/internal/athena/core/model"
	"github.com/autopeer-io/athena/pkg/geo"
	"github.com/autopeer-io/athena/pkg/log"
)

var t0 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func newTestRegistry() (*Registry, *testingclock.FakeClock) {
	clk := testingclock.NewFakeClock(t0)
	return New(DefaultConfig(), clk, log.NewNopLogger()), clk
}

func stolenSedan(plate string) *model.CriticalVehicle {
	return &model.CriticalVehicle{
		Plate:    plate,
		Make:     "Toyota",
		Model:    "Camry",
		CaseType: model.CaseStolen,
		Priority: model.PriorityHigh,
	}
}

func identification(plate string, confidence float64) *model.Identification {
	return &model.Identification{
		ID:         "evt-1",
		Plate:      plate,
		Make:       "Toyota",
		Model:      "Camry",
		Location:   geo.Point{Lat: 12.9716, Lon: 77.5946},
		CameraID:   "cam-1",
		Timestamp:  t0,
		Confidence: model.Confidence{Plate: confidence, Make: 0.9, Model: 0.9},
	}
}

func TestRegisterCritical(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	v, err := r.RegisterCritical(ctx, stolenSedan("ka-01 ab 1234"))
	if err != nil {
		t.Fatalf("RegisterCritical() error = %v", err)
	}
	if v.ID == "" {
		t.Error("expected a generated id")
	}
	if v.Plate != "KA01AB1234" {
		t.Errorf("Plate = %q, want normalized KA01AB1234", v.Plate)
	}
	if v.Status != model.VehicleActive {
		t.Errorf("Status = %s, want ACTIVE", v.Status)
	}
	if !v.RegisteredAt.Equal(t0) {
		t.Errorf("RegisteredAt = %v, want %v", v.RegisteredAt, t0)
	}

	_, err = r.RegisterCritical(ctx, stolenSedan("KA01AB1234"))
	if !errors.Is(err, core.ErrDuplicateRegistration) {
		t.Errorf("second registration error = %v, want ErrDuplicateRegistration", err)
	}

	dup := stolenSedan("MH12XY0001")
	dup.ID = v.ID
	if _, err := r.RegisterCritical(ctx, dup); !errors.Is(err, core.ErrDuplicateRegistration) {
		t.Errorf("registration with taken id error = %v, want ErrDuplicateRegistration", err)
	}
}

func TestRegisterCriticalRejectsInvalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(v *model.CriticalVehicle)
	}{
		{"empty plate", func(v *model.CriticalVehicle) { v.Plate = " - " }},
		{"unknown case type", func(v *model.CriticalVehicle) { v.CaseType = "ARSON" }},
		{"unknown priority", func(v *model.CriticalVehicle) { v.Priority = "LOW" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRegistry()
			v := stolenSedan("KA01AB1234")
			tt.mutate(v)
			if _, err := r.RegisterCritical(context.Background(), v); !errors.Is(err, core.ErrInvalidEvent) {
				t.Errorf("error = %v, want ErrInvalidEvent", err)
			}
		})
	}
}

func TestUpdateStatus(t *testing.T) {
	tests := []struct {
		name    string
		steps   []model.VehicleStatus
		wantErr error
		want    model.VehicleStatus
	}{
		{name: "resolve", steps: []model.VehicleStatus{model.VehicleResolved}, want: model.VehicleResolved},
		{name: "cancel", steps: []model.VehicleStatus{model.VehicleCancelled}, want: model.VehicleCancelled},
		{name: "back to active", steps: []model.VehicleStatus{model.VehicleActive}, wantErr: core.ErrInvalidStateTransition, want: model.VehicleActive},
		{name: "resolved is final", steps: []model.VehicleStatus{model.VehicleResolved, model.VehicleCancelled}, wantErr: core.ErrInvalidStateTransition, want: model.VehicleResolved},
		{name: "cancelled is final", steps: []model.VehicleStatus{model.VehicleCancelled, model.VehicleResolved}, wantErr: core.ErrInvalidStateTransition, want: model.VehicleCancelled},
		{name: "resolve twice", steps: []model.VehicleStatus{model.VehicleResolved, model.VehicleResolved}, wantErr: core.ErrInvalidStateTransition, want: model.VehicleResolved},
		{name: "unknown status", steps: []model.VehicleStatus{"ARCHIVED"}, wantErr: core.ErrInvalidStateTransition, want: model.VehicleActive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, clk := newTestRegistry()
			ctx := context.Background()
			v, err := r.RegisterCritical(ctx, stolenSedan("KA01AB1234"))
			if err != nil {
				t.Fatal(err)
			}

			var lastErr error
			for _, s := range tt.steps {
				clk.Step(time.Minute)
				_, lastErr = r.UpdateStatus(ctx, v.ID, s)
			}
			if !errors.Is(lastErr, tt.wantErr) {
				t.Fatalf("last error = %v, want %v", lastErr, tt.wantErr)
			}

			got, err := r.GetCritical(v.ID)
			if err != nil {
				t.Fatal(err)
			}
			if got.Status != tt.want {
				t.Errorf("Status = %s, want %s", got.Status, tt.want)
			}
			if got.Status.Terminal() != (got.ClosedAt != nil) {
				t.Errorf("ClosedAt = %v for status %s", got.ClosedAt, got.Status)
			}
		})
	}
}

func TestUpdateStatusUnknownVehicle(t *testing.T) {
	r, _ := newTestRegistry()
	_, err := r.UpdateStatus(context.Background(), "missing", model.VehicleResolved)
	if !errors.Is(err, core.ErrVehicleNotFound) {
		t.Errorf("error = %v, want ErrVehicleNotFound", err)
	}
}

func TestConcurrentStatusUpdatesCommitOnce(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	v, err := r.RegisterCritical(ctx, stolenSedan("KA01AB1234"))
	if err != nil {
		t.Fatal(err)
	}

	const workers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted []model.VehicleStatus
	)
	for i := 0; i < workers; i++ {
		target := model.VehicleResolved
		if i%2 == 1 {
			target = model.VehicleCancelled
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.UpdateStatus(ctx, v.ID, target); err == nil {
				mu.Lock()
				accepted = append(accepted, target)
				mu.Unlock()
			} else if !errors.Is(err, core.ErrInvalidStateTransition) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(accepted) != 1 {
		t.Fatalf("accepted transitions = %v, want exactly one", accepted)
	}
	got, _ := r.GetCritical(v.ID)
	if got.Status != accepted[0] {
		t.Errorf("Status = %s, want %s", got.Status, accepted[0])
	}
}

func TestWhileActive(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	active, err := r.RegisterCritical(ctx, stolenSedan("KA01AB1234"))
	if err != nil {
		t.Fatal(err)
	}
	closed, err := r.RegisterCritical(ctx, stolenSedan("KA02CD5678"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.UpdateStatus(ctx, closed.ID, model.VehicleResolved); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"active", active.ID, true},
		{"resolved", closed.ID, false},
		{"unknown", "missing", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ran := false
			got := r.WhileActive(tt.id, func() { ran = true })
			if got != tt.want || ran != tt.want {
				t.Errorf("WhileActive() = %v (ran %v), want %v", got, ran, tt.want)
			}
		})
	}
}

func TestReRegisterAfterResolve(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	first, err := r.RegisterCritical(ctx, stolenSedan("KA01AB1234"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.UpdateStatus(ctx, first.ID, model.VehicleResolved); err != nil {
		t.Fatal(err)
	}

	second, err := r.RegisterCritical(ctx, stolenSedan("KA01AB1234"))
	if err != nil {
		t.Fatalf("re-registration after resolve: %v", err)
	}
	if second.ID == first.ID {
		t.Error("expected a new id for the new case")
	}

	res := r.Match(identification("KA01AB1234", 0.95))
	if len(res.Matches) != 1 || res.Matches[0].VehicleID != second.ID {
		t.Errorf("Match() = %+v, want the new case only", res.Matches)
	}
	if got := r.ListCritical(""); len(got) != 2 {
		t.Errorf("ListCritical() returned %d records, want both cases kept", len(got))
	}
}

func TestMatchThresholds(t *testing.T) {
	tests := []struct {
		name           string
		confidence     float64
		wantMatches    []MatchKind
		wantBelowCount int
	}{
		{"both eligible", 0.95, []MatchKind{KindCritical, KindViolation}, 0},
		{"critical threshold inclusive", 0.90, []MatchKind{KindCritical, KindViolation}, 0},
		{"violation only", 0.89, []MatchKind{KindViolation}, 1},
		{"violation threshold inclusive", 0.80, []MatchKind{KindViolation}, 1},
		{"neither", 0.79, nil, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRegistry()
			if _, err := r.RegisterCritical(context.Background(), stolenSedan("KA01AB1234")); err != nil {
				t.Fatal(err)
			}
			if _, err := r.PutViolation(&model.ViolationVehicle{Plate: "KA01AB1234", ViolationType: model.ViolationUnpaidFine}); err != nil {
				t.Fatal(err)
			}

			res := r.Match(identification("ka01ab1234", tt.confidence))
			if len(res.Matches) != len(tt.wantMatches) {
				t.Fatalf("Matches = %+v, want kinds %v", res.Matches, tt.wantMatches)
			}
			for i, kind := range tt.wantMatches {
				if res.Matches[i].Kind != kind {
					t.Errorf("Matches[%d].Kind = %s, want %s", i, res.Matches[i].Kind, kind)
				}
			}
			if len(res.BelowThreshold) != tt.wantBelowCount {
				t.Errorf("BelowThreshold = %d, want %d", len(res.BelowThreshold), tt.wantBelowCount)
			}
		})
	}
}

func TestMatchExcludesClosedVehicles(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	v, _ := r.RegisterCritical(ctx, stolenSedan("KA01AB1234"))
	if _, err := r.UpdateStatus(ctx, v.ID, model.VehicleResolved); err != nil {
		t.Fatal(err)
	}

	if res := r.Match(identification("KA01AB1234", 0.99)); !res.Empty() {
		t.Errorf("Match() after resolve = %+v, want empty", res)
	}
}

func TestMatchSecondaryMismatch(t *testing.T) {
	tests := []struct {
		name        string
		make, model string
		want        bool
	}{
		{"same", "Toyota", "Camry", false},
		{"case and spacing", " toyota ", "CAMRY", false},
		{"unknown make", "", "Camry", false},
		{"different make", "Honda", "Camry", true},
		{"different model", "Toyota", "Corolla", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRegistry()
			if _, err := r.RegisterCritical(context.Background(), stolenSedan("KA01AB1234")); err != nil {
				t.Fatal(err)
			}
			ident := identification("KA01AB1234", 0.95)
			ident.Make, ident.Model = tt.make, tt.model

			res := r.Match(ident)
			if len(res.Matches) != 1 {
				t.Fatalf("a plate match must stand regardless of make/model, got %+v", res)
			}
			if got := res.Matches[0].LowConfidenceSecondary; got != tt.want {
				t.Errorf("LowConfidenceSecondary = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestViolations(t *testing.T) {
	r, clk := newTestRegistry()

	if _, err := r.PutViolation(&model.ViolationVehicle{Plate: "dl 3c 0001", ViolationType: model.ViolationExpiredPermit}); err != nil {
		t.Fatal(err)
	}
	list := r.ListViolations()
	if len(list) != 1 || list[0].Plate != "DL3C0001" || list[0].Severity != model.SeverityLow || !list[0].AddedAt.Equal(clk.Now()) {
		t.Fatalf("ListViolations() = %+v", list)
	}

	if _, err := r.PutViolation(&model.ViolationVehicle{Plate: "X1", ViolationType: "PARKING"}); !errors.Is(err, core.ErrInvalidEvent) {
		t.Errorf("invalid type error = %v, want ErrInvalidEvent", err)
	}

	if !r.RemoveViolation("DL3C0001") {
		t.Error("RemoveViolation() = false, want true")
	}
	if r.RemoveViolation("DL3C0001") {
		t.Error("second RemoveViolation() = true, want false")
	}
}

func TestReplaceViolations(t *testing.T) {
	r, _ := newTestRegistry()
	_, _ = r.PutViolation(&model.ViolationVehicle{Plate: "OLD1", ViolationType: model.ViolationUnpaidFine})

	n, err := r.ReplaceViolations([]*model.ViolationVehicle{
		{Plate: "NEW1", ViolationType: model.ViolationUnpaidFine, Severity: model.SeverityHigh},
		{Plate: "", ViolationType: model.ViolationUnpaidFine},
		{Plate: "NEW2", ViolationType: model.ViolationSuspendedRegistration},
	})
	if n != 2 {
		t.Errorf("loaded = %d, want 2", n)
	}
	if !errors.Is(err, core.ErrInvalidEvent) {
		t.Errorf("error = %v, want the skipped entry reported", err)
	}

	got := r.ListViolations()
	if len(got) != 2 || got[0].Plate != "NEW1" || got[1].Plate != "NEW2" {
		t.Errorf("ListViolations() = %+v, want NEW1 and NEW2 only", got)
	}
}
