package fleet

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetdeck/fleetdeck/internal/protocol"
)

func newTestRegistry() *Registry {
	return NewRegistry(zerolog.Nop())
}

func TestUpsertJoinIdempotent(t *testing.T) {
	r := newTestRegistry()

	t0 := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return t0 }

	first, err := r.UpsertJoin("web-01")
	if err != nil {
		t.Fatalf("first join: %v", err)
	}

	// Second join a little later with no telemetry in between.
	t1 := t0.Add(30 * time.Second)
	r.now = func() time.Time { return t1 }

	second, err := r.UpsertJoin("web-01")
	if err != nil {
		t.Fatalf("second join: %v", err)
	}

	if second.Static != first.Static {
		t.Errorf("static changed on rejoin: %+v vs %+v", second.Static, first.Static)
	}
	if second.Dynamic.CPUUsage != first.Dynamic.CPUUsage || second.Dynamic.IPAddress != first.Dynamic.IPAddress {
		t.Errorf("dynamic data changed on rejoin")
	}
	if !second.Dynamic.LastUpdate.After(first.Dynamic.LastUpdate) {
		t.Errorf("last_update did not advance: %v -> %v", first.Dynamic.LastUpdate, second.Dynamic.LastUpdate)
	}
}

func TestUpsertJoinValidation(t *testing.T) {
	r := newTestRegistry()

	if _, err := r.UpsertJoin(""); !errors.Is(err, ErrInvalidHostname) {
		t.Errorf("empty hostname: err = %v, want ErrInvalidHostname", err)
	}
	long := strings.Repeat("x", protocol.MaxHostnameLen+1)
	if _, err := r.UpsertJoin(long); !errors.Is(err, ErrInvalidHostname) {
		t.Errorf("overlong hostname: err = %v, want ErrInvalidHostname", err)
	}
}

func TestTelemetryBeforeJoinRejected(t *testing.T) {
	r := newTestRegistry()

	cpu := 25.0
	_, err := r.UpsertTelemetry("ghost-host", nil, protocol.DynamicReport{CPUUsage: &cpu})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if r.Exists("ghost-host") {
		t.Error("rejected telemetry must not create an entry")
	}
}

func TestUpsertTelemetryMergesAndReplacesStatic(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.UpsertJoin("web-01"); err != nil {
		t.Fatalf("join: %v", err)
	}

	cpu, mem := 10.0, 20.0
	if _, err := r.UpsertTelemetry("web-01", &protocol.StaticInfo{OS: "linux", CPUCount: 8}, protocol.DynamicReport{
		CPUUsage:    &cpu,
		MemoryUsage: &mem,
	}); err != nil {
		t.Fatalf("telemetry: %v", err)
	}

	// Partial report: cpu only; static resent wholesale without CPUCount.
	cpu2 := 15.0
	view, err := r.UpsertTelemetry("web-01", &protocol.StaticInfo{OS: "linux"}, protocol.DynamicReport{CPUUsage: &cpu2})
	if err != nil {
		t.Fatalf("telemetry: %v", err)
	}

	if view.Dynamic.CPUUsage != 15 {
		t.Errorf("cpu = %v, want 15", view.Dynamic.CPUUsage)
	}
	if view.Dynamic.MemoryUsage != 20 {
		t.Errorf("mem = %v, want 20 (omitted field persists)", view.Dynamic.MemoryUsage)
	}
	if view.Static.CPUCount != 0 {
		t.Errorf("static is whole-record replacement; CPUCount = %d, want 0", view.Static.CPUCount)
	}
	if view.Status != StatusOnline {
		t.Errorf("status = %q, want online right after a report", view.Status)
	}
}

func TestGetDerivesFreshStatus(t *testing.T) {
	r := newTestRegistry()

	t0 := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return t0 }
	if _, err := r.UpsertJoin("web-01"); err != nil {
		t.Fatalf("join: %v", err)
	}

	// No writes, but the clock moves: status must change on read.
	r.now = func() time.Time { return t0.Add(10 * time.Minute) }
	view, err := r.Get("web-01")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if view.Status != StatusIdle {
		t.Errorf("status = %q, want idle after 10 minutes of silence", view.Status)
	}

	r.now = func() time.Time { return t0.Add(2 * time.Hour) }
	view, _ = r.Get("web-01")
	if view.Status != StatusOffline {
		t.Errorf("status = %q, want offline after 2 hours", view.Status)
	}
}

func TestDelete(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.UpsertJoin("web-01"); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := r.Delete("web-01"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := r.Delete("web-01"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: err = %v, want ErrNotFound", err)
	}
	if _, err := r.Get("web-01"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete: err = %v, want ErrNotFound", err)
	}
}

func TestRename(t *testing.T) {
	r := newTestRegistry()

	cpu := 33.0
	if _, err := r.UpsertJoin("web-01"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := r.UpsertTelemetry("web-01", &protocol.StaticInfo{OS: "linux"}, protocol.DynamicReport{CPUUsage: &cpu}); err != nil {
		t.Fatalf("telemetry: %v", err)
	}

	fired := 0
	r.OnCommit(func(Snapshot) { fired++ })

	if err := r.Rename("web-01", "web-primary"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if fired != 1 {
		t.Errorf("rename fired the commit hook %d times, want 1", fired)
	}
	if r.Exists("web-01") {
		t.Error("old hostname still registered after rename")
	}

	view, err := r.Get("web-primary")
	if err != nil {
		t.Fatalf("get renamed: %v", err)
	}
	if view.Hostname != "web-primary" {
		t.Errorf("hostname = %q, want web-primary", view.Hostname)
	}
	if view.Static.OS != "linux" || view.Dynamic.CPUUsage != 33 {
		t.Errorf("record data changed by rename: %+v", view)
	}
}

func TestRenameValidation(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.UpsertJoin("web-01"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.UpsertJoin("db-01"); err != nil {
		t.Fatal(err)
	}

	fired := 0
	r.OnCommit(func(Snapshot) { fired++ })

	if err := r.Rename("ghost", "web-02"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown source: err = %v, want ErrNotFound", err)
	}
	if err := r.Rename("web-01", "db-01"); !errors.Is(err, ErrDuplicateHostname) {
		t.Errorf("taken target: err = %v, want ErrDuplicateHostname", err)
	}
	if err := r.Rename("web-01", ""); !errors.Is(err, ErrInvalidHostname) {
		t.Errorf("empty target: err = %v, want ErrInvalidHostname", err)
	}
	long := strings.Repeat("x", protocol.MaxHostnameLen+1)
	if err := r.Rename("web-01", long); !errors.Is(err, ErrInvalidHostname) {
		t.Errorf("overlong target: err = %v, want ErrInvalidHostname", err)
	}
	if err := r.Rename("web-01", "web-01"); err != nil {
		t.Errorf("self rename: err = %v, want nil no-op", err)
	}
	if fired != 0 {
		t.Errorf("failed renames fired the commit hook %d times", fired)
	}
	if !r.Exists("web-01") || !r.Exists("db-01") {
		t.Error("failed renames changed the registry")
	}
}

func TestCommitHookFiresInOrder(t *testing.T) {
	r := newTestRegistry()

	var got []int
	r.OnCommit(func(snap Snapshot) {
		got = append(got, len(snap))
	})

	if _, err := r.UpsertJoin("a"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.UpsertJoin("b"); err != nil {
		t.Fatal(err)
	}
	if err := r.Delete("a"); err != nil {
		t.Fatal(err)
	}

	want := []int{1, 2, 1}
	if len(got) != len(want) {
		t.Fatalf("hook fired %d times, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("commit %d saw %d agents, want %d", i, got[i], want[i])
		}
	}
}

func TestConcurrentHostnameIsolation(t *testing.T) {
	r := newTestRegistry()
	const hosts = 8
	const reports = 200

	for i := 0; i < hosts; i++ {
		if _, err := r.UpsertJoin(fmt.Sprintf("host-%d", i)); err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < hosts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hostname := fmt.Sprintf("host-%d", i)
			cpu := float64(i)
			ip := fmt.Sprintf("10.0.0.%d", i)
			for j := 0; j < reports; j++ {
				_, err := r.UpsertTelemetry(hostname, nil, protocol.DynamicReport{
					CPUUsage:  &cpu,
					IPAddress: &ip,
				})
				if err != nil {
					t.Errorf("telemetry %s: %v", hostname, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	// Every entry must carry its own host's values, never a neighbor's.
	snap := r.GetAll()
	for i := 0; i < hosts; i++ {
		hostname := fmt.Sprintf("host-%d", i)
		view, ok := snap[hostname]
		if !ok {
			t.Fatalf("missing %s", hostname)
		}
		if view.Dynamic.CPUUsage != float64(i) {
			t.Errorf("%s cpu = %v, want %d", hostname, view.Dynamic.CPUUsage, i)
		}
		if want := fmt.Sprintf("10.0.0.%d", i); view.Dynamic.IPAddress != want {
			t.Errorf("%s ip = %q, want %q", hostname, view.Dynamic.IPAddress, want)
		}
	}
}

func TestSeedDoesNotFireHook(t *testing.T) {
	r := newTestRegistry()
	fired := 0
	r.OnCommit(func(Snapshot) { fired++ })

	r.Seed(map[string]Record{
		"web-01": {Dynamic: DynamicState{CPUUsage: 12}},
	})

	if fired != 0 {
		t.Errorf("seed fired the commit hook %d times", fired)
	}
	view, err := r.Get("web-01")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if view.Hostname != "web-01" {
		t.Errorf("seed must fill in the hostname key, got %q", view.Hostname)
	}
	if view.Status != StatusOffline {
		t.Errorf("seeded agent with zero last_update should be offline, got %q", view.Status)
	}
}
