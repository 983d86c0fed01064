package db

import (
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestMigrate(t *testing.T) {
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()

	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	// Verify all tables exist
	tables := []string{"schema_version", "command_runs", "fix_attempts", "job_events"}
	for _, table := range tables {
		var name string
		err := d.conn.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}

	// Migrate again should be idempotent
	if err := d.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestLogAndGetCommandRuns(t *testing.T) {
	d := testDB(t)

	code := 1
	if err := d.LogCommandRun("job-1", "npm run build", "node", "failed", &code, 4200, "", "dependency"); err != nil {
		t.Fatalf("LogCommandRun: %v", err)
	}
	if err := d.LogCommandRun("job-1", "npm run dev", "node", "success", nil, 900, "http://localhost:5173", ""); err != nil {
		t.Fatalf("LogCommandRun: %v", err)
	}
	if err := d.LogCommandRun("job-2", "go build ./...", "go", "success", nil, 300, "", ""); err != nil {
		t.Fatalf("LogCommandRun: %v", err)
	}

	runs, err := d.GetCommandRuns("job-1", 10)
	if err != nil {
		t.Fatalf("GetCommandRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(runs))
	}
	// Newest first.
	if runs[0].Command != "npm run dev" || runs[0].ServerURL != "http://localhost:5173" {
		t.Errorf("runs[0] = %+v", runs[0])
	}
	if runs[1].ExitCode == nil || *runs[1].ExitCode != 1 {
		t.Errorf("runs[1].ExitCode = %v, want 1", runs[1].ExitCode)
	}
	if runs[1].Category != "dependency" {
		t.Errorf("runs[1].Category = %q", runs[1].Category)
	}
}

func TestLogAndGetFixAttempts(t *testing.T) {
	d := testDB(t)

	if err := d.LogFixAttempt("job-1", "fp-1", "dependency", "deterministic", 1, true, 150, "npm install lodash"); err != nil {
		t.Fatalf("LogFixAttempt: %v", err)
	}
	if err := d.LogFixAttempt("job-1", "fp-2", "syntax", "fast_model", 1, false, 3000, "agent failed"); err != nil {
		t.Fatalf("LogFixAttempt: %v", err)
	}

	attempts, err := d.GetFixAttempts("job-1", 10)
	if err != nil {
		t.Fatalf("GetFixAttempts: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("len(attempts) = %d, want 2", len(attempts))
	}
	if attempts[0].Fingerprint != "fp-2" || attempts[0].Success {
		t.Errorf("attempts[0] = %+v", attempts[0])
	}

	successes, total, err := d.FixSuccessRate("job-1")
	if err != nil {
		t.Fatalf("FixSuccessRate: %v", err)
	}
	if successes != 1 || total != 2 {
		t.Errorf("rate = %d/%d, want 1/2", successes, total)
	}
}

func TestJobEvents(t *testing.T) {
	d := testDB(t)

	events := []string{"created", "run_started", "fix_triggered", "run_retried", "completed"}
	for _, e := range events {
		if err := d.LogJobEvent("job-1", e, ""); err != nil {
			t.Fatalf("LogJobEvent(%s): %v", e, err)
		}
	}

	got, err := d.GetJobEvents("job-1", 0)
	if err != nil {
		t.Fatalf("GetJobEvents: %v", err)
	}
	if len(got) != len(events) {
		t.Fatalf("len = %d, want %d", len(got), len(events))
	}
	// Newest first.
	if got[0].Event != "completed" {
		t.Errorf("got[0].Event = %q, want completed", got[0].Event)
	}
}

func TestReset(t *testing.T) {
	d := testDB(t)

	if err := d.LogJobEvent("job-1", "created", ""); err != nil {
		t.Fatalf("LogJobEvent: %v", err)
	}
	if err := d.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	got, err := d.GetJobEvents("job-1", 0)
	if err != nil {
		t.Fatalf("GetJobEvents after reset: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("events survived reset: %v", got)
	}
}
