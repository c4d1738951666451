package watchlist

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/athena/internal/athena/core/model"
	"github.com/autopeer-io/athena/pkg/log"
)

type recordingLoader struct {
	mu    sync.Mutex
	loads [][]*model.ViolationVehicle
	err   error
}

func (l *recordingLoader) LoadViolations(list []*model.ViolationVehicle) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loads = append(l.loads, list)
	return len(list), l.err
}

func (l *recordingLoader) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.loads)
}

func (l *recordingLoader) last() []*model.ViolationVehicle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads[len(l.loads)-1]
}

const twoEntries = `violations:
- plate: KA01AB1234
  violation_type: UNPAID_FINE
  severity: HIGH
- plate: KA05MN4321
  violation_type: EXPIRED_PERMIT
  make: Honda
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		want    int
		wantErr bool
	}{
		{name: "two entries", content: twoEntries, want: 2},
		{name: "empty list", content: "violations: []\n", want: 0},
		{name: "empty file", content: "\n", wantErr: true},
		{name: "unknown field", content: "violation:\n- plate: X\n", wantErr: true},
		{name: "not yaml", content: "violations: [\n", wantErr: true},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "list"+string(rune('a'+i))+".yaml")
			writeFile(t, path, tt.content)

			got, err := Load(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != tt.want {
				t.Errorf("entries = %d, want %d", len(got), tt.want)
			}
		})
	}

	list, _ := Load(filepath.Join(dir, "lista.yaml"))
	if list[0].Plate != "KA01AB1234" || list[0].ViolationType != model.ViolationUnpaidFine ||
		list[0].Severity != model.SeverityHigh || list[1].Make != "Honda" {
		t.Errorf("decoded = %+v %+v", list[0], list[1])
	}
}

func TestStartFailsWithoutFile(t *testing.T) {
	w := New(filepath.Join(t.TempDir(), "missing.yaml"), 10*time.Millisecond, &recordingLoader{}, clock.RealClock{}, log.NewNopLogger())
	if err := w.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded without a watchlist file")
	}
}

func TestRejectedEntriesDoNotFailReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "violations.yaml")
	writeFile(t, path, twoEntries)
	loader := &recordingLoader{err: errors.New("entry 1: invalid")}

	w := New(path, 10*time.Millisecond, loader, clock.RealClock{}, log.NewNopLogger())
	if err := w.Reload(); err != nil {
		t.Fatal(err)
	}
	if loader.count() != 1 {
		t.Errorf("loads = %d", loader.count())
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "violations.yaml")
	writeFile(t, path, twoEntries)
	loader := &recordingLoader{}

	w := New(path, 20*time.Millisecond, loader, clock.RealClock{}, log.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Start returned %v", err)
		}
	}()

	waitFor(t, func() bool { return loader.count() == 1 })
	// Give the watcher time to register before the first change.
	time.Sleep(100 * time.Millisecond)

	// A broken edit keeps the previous list.
	writeFile(t, path, "violations: [\n")
	time.Sleep(200 * time.Millisecond)
	if loader.count() != 1 {
		t.Fatalf("broken file was loaded")
	}

	writeFile(t, path, "violations:\n- plate: MH12XY9999\n  violation_type: SUSPENDED_REGISTRATION\n")
	waitFor(t, func() bool { return loader.count() >= 2 })

	if got := loader.last(); len(got) != 1 || got[0].Plate != "MH12XY9999" {
		t.Errorf("reloaded list = %+v", got)
	}
}
