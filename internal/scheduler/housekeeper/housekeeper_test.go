package housekeeper

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/R3E-Network/kernel/pkg/clockutil"
	"github.com/R3E-Network/kernel/pkg/kernelerrors"
	"github.com/R3E-Network/kernel/pkg/metrics"
)

func newIsolatedRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", "file:"+t.TempDir()+"/framework.db?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	for _, table := range Schema.Tables {
		if _, err := db.Exec(table.CreateSQL); err != nil {
			t.Fatalf("create table %s: %v", table.Name, err)
		}
	}
	return db
}

func intPtr(v int) *int { return &v }

// TestScenarioS5CombinedRetentionPolicies mirrors the combined age +
// count + size policy scenario exactly: 10 files aged 1..10 days, 20MB
// each, with retention_days=7, max_files=4, max_size_mb=100. The age
// set is {8,9,10}, the count set is {5..10}, the size set (keeping the
// newest 100MB = 5 files) is {6..10}; their union is {5..10}, six files
// deleted, 120MB reclaimed.
func TestScenarioS5CombinedRetentionPolicies(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	const fileSize = 20 * 1024 * 1024

	for age := 1; age <= 10; age++ {
		path := filepath.Join(dir, fileNameForAge(age))
		if err := os.WriteFile(path, make([]byte, fileSize), 0o644); err != nil {
			t.Fatalf("write file: %v", err)
		}
		modTime := now.Add(-time.Duration(age) * 24 * time.Hour)
		if err := os.Chtimes(path, modTime, modTime); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	db := openTestDB(t)
	clock := clockutil.NewFake(now)
	hk := New(db, clock, metrics.NewRecorder(newIsolatedRegistry()))

	ctx := context.Background()
	reg, err := hk.Register(ctx, Registration{
		ModuleID:      "test.module",
		Directory:     dir,
		Pattern:       "*",
		RetentionDays: intPtr(7),
		MaxFiles:      intPtr(4),
		MaxSizeMB:     intPtr(100),
		Priority:      1,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	reports, err := hk.Sweep(ctx, false)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(reports))
	}
	report := reports[0]
	if report.RegistrationID != reg.ID {
		t.Fatalf("report for wrong registration: %s", report.RegistrationID)
	}
	if report.FilesScanned != 10 {
		t.Fatalf("files_scanned = %d, want 10", report.FilesScanned)
	}
	if report.FilesDeleted != 6 {
		t.Fatalf("files_deleted = %d, want 6", report.FilesDeleted)
	}
	wantBytes := int64(6 * fileSize)
	if report.BytesReclaimed != wantBytes {
		t.Fatalf("bytes_reclaimed = %d, want %d", report.BytesReclaimed, wantBytes)
	}

	remaining, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(remaining) != 4 {
		t.Fatalf("expected 4 files remaining, got %d", len(remaining))
	}

	// Property 7: a second non-dry-run sweep deletes nothing further.
	second, err := hk.Sweep(ctx, false)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if second[0].FilesDeleted != 0 {
		t.Fatalf("second sweep files_deleted = %d, want 0", second[0].FilesDeleted)
	}
}

func TestDryRunDeletesNothing(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for age := 1; age <= 3; age++ {
		path := filepath.Join(dir, fileNameForAge(age))
		if err := os.WriteFile(path, make([]byte, 1024), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		modTime := now.Add(-time.Duration(age) * 24 * time.Hour)
		os.Chtimes(path, modTime, modTime)
	}

	db := openTestDB(t)
	hk := New(db, clockutil.NewFake(now), metrics.NewRecorder(newIsolatedRegistry()))
	ctx := context.Background()
	if _, err := hk.Register(ctx, Registration{Directory: dir, Pattern: "*", RetentionDays: intPtr(1), Priority: 1}); err != nil {
		t.Fatalf("register: %v", err)
	}

	reports, err := hk.Sweep(ctx, true)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if reports[0].FilesDeleted == 0 {
		t.Fatalf("dry-run report should still compute candidate count")
	}

	remaining, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(remaining) != 3 {
		t.Fatalf("dry_run must not delete files, found %d remaining, want 3", len(remaining))
	}
}

func TestMissingDirectoryReportsDirectoryMissing(t *testing.T) {
	db := openTestDB(t)
	hk := New(db, clockutil.System, metrics.NewRecorder(newIsolatedRegistry()))
	ctx := context.Background()
	if _, err := hk.Register(ctx, Registration{Directory: "/nonexistent/path/xyz", Pattern: "*", Priority: 1}); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := hk.Sweep(ctx, true)
	if !kernelerrors.Is(err, kernelerrors.CodeDirectoryMissing) {
		t.Fatalf("expected DIRECTORY_MISSING for a missing directory, got %v", err)
	}
}

func fileNameForAge(age int) string {
	return "file-" + string(rune('a'+age)) + ".dat"
}
