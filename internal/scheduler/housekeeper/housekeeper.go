// Package housekeeper implements the scheduler's cleanup sub-component
// (C8): registered directories are swept on a cron-triggered event,
// deleting files past an age, count, or cumulative-size policy.
package housekeeper

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/R3E-Network/kernel/internal/kernel/descriptor"
	"github.com/R3E-Network/kernel/pkg/clockutil"
	"github.com/R3E-Network/kernel/pkg/kernelerrors"
	"github.com/R3E-Network/kernel/pkg/metrics"
)

// Schema is the DatabaseSchema the framework database must carry for
// the housekeeper's registrations to persist.
var Schema = descriptor.DatabaseSchema{
	DatabaseName: "framework",
	Tables: []descriptor.TableSpec{
		{
			Name: "cleanup_registrations",
			CreateSQL: `CREATE TABLE IF NOT EXISTS cleanup_registrations (
				id              TEXT PRIMARY KEY,
				module_id       TEXT NOT NULL,
				directory       TEXT NOT NULL,
				pattern         TEXT NOT NULL,
				retention_days  INTEGER,
				max_files       INTEGER,
				max_size_mb     INTEGER,
				priority        INTEGER NOT NULL
			)`,
		},
	},
}

// Registration is one directory+pattern cleanup policy. A zero pointer
// field means that policy dimension is not applied.
type Registration struct {
	ID            string
	ModuleID      string
	Directory     string
	Pattern       string
	RetentionDays *int
	MaxFiles      *int
	MaxSizeMB     *int
	Priority      int
}

// FileReport is the outcome of a single file's delete attempt.
type FileReport struct {
	Path string
	Size int64
	Err  error
}

// Report summarizes one registration's sweep.
type Report struct {
	RegistrationID string
	FilesScanned   int
	FilesDeleted   int
	BytesReclaimed int64
	Failures       []FileReport
	DryRun         bool
}

// Housekeeper owns the registration store and performs sweeps.
type Housekeeper struct {
	db       *sql.DB
	clock    clockutil.Clock
	recorder *metrics.Recorder
}

// New builds a Housekeeper over an already-open "framework" database
// handle.
func New(db *sql.DB, clock clockutil.Clock, recorder *metrics.Recorder) *Housekeeper {
	if clock == nil {
		clock = clockutil.System
	}
	if recorder == nil {
		recorder = metrics.Default
	}
	return &Housekeeper{db: db, clock: clock, recorder: recorder}
}

// Register persists a new cleanup Registration, generating its ID if
// empty.
func (h *Housekeeper) Register(ctx context.Context, reg Registration) (Registration, error) {
	if reg.ID == "" {
		reg.ID = fmt.Sprintf("ck-%d", h.clock.Now().UnixNano())
	}
	if reg.Pattern == "" {
		reg.Pattern = "*"
	}
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO cleanup_registrations (id, module_id, directory, pattern, retention_days, max_files, max_size_mb, priority)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		reg.ID, reg.ModuleID, reg.Directory, reg.Pattern, reg.RetentionDays, reg.MaxFiles, reg.MaxSizeMB, reg.Priority)
	if err != nil {
		return Registration{}, kernelerrors.Wrap(kernelerrors.CodeStorageError, "insert cleanup registration", err)
	}
	return reg, nil
}

// Registrations returns every persisted Registration ordered by
// ascending priority, the order a sweep applies them in.
func (h *Housekeeper) Registrations(ctx context.Context) ([]Registration, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, module_id, directory, pattern, retention_days, max_files, max_size_mb, priority
		FROM cleanup_registrations ORDER BY priority ASC`)
	if err != nil {
		return nil, kernelerrors.Wrap(kernelerrors.CodeStorageError, "list cleanup registrations", err)
	}
	defer rows.Close()

	var out []Registration
	for rows.Next() {
		var reg Registration
		if err := rows.Scan(&reg.ID, &reg.ModuleID, &reg.Directory, &reg.Pattern,
			&reg.RetentionDays, &reg.MaxFiles, &reg.MaxSizeMB, &reg.Priority); err != nil {
			return nil, kernelerrors.Wrap(kernelerrors.CodeStorageError, "scan cleanup registration", err)
		}
		out = append(out, reg)
	}
	return out, rows.Err()
}

type candidateFile struct {
	path    string
	size    int64
	modTime time.Time
}

// Sweep applies every Registration in ascending priority, returning one
// Report per registration in that same order.
func (h *Housekeeper) Sweep(ctx context.Context, dryRun bool) ([]Report, error) {
	return h.sweepMatching(ctx, dryRun, "")
}

// SweepOne applies a single Registration by ID, used by the
// `registration_id`-scoped cleanup-run endpoint.
func (h *Housekeeper) SweepOne(ctx context.Context, registrationID string, dryRun bool) (Report, error) {
	reports, err := h.sweepMatching(ctx, dryRun, registrationID)
	if err != nil {
		return Report{}, err
	}
	if len(reports) == 0 {
		return Report{}, kernelerrors.New(kernelerrors.CodeNotFound,
			fmt.Sprintf("no cleanup registration %q", registrationID))
	}
	return reports[0], nil
}

func (h *Housekeeper) sweepMatching(ctx context.Context, dryRun bool, onlyID string) ([]Report, error) {
	regs, err := h.Registrations(ctx)
	if err != nil {
		return nil, err
	}
	reports := make([]Report, 0, len(regs))
	for _, reg := range regs {
		if onlyID != "" && reg.ID != onlyID {
			continue
		}
		report, err := h.sweepOne(reg, dryRun)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
		if !dryRun {
			h.recorder.AddHousekeeperReclaim(reg.ID, report.BytesReclaimed, report.FilesDeleted)
		}
	}
	return reports, nil
}

func (h *Housekeeper) sweepOne(reg Registration, dryRun bool) (Report, error) {
	report := Report{RegistrationID: reg.ID, DryRun: dryRun}

	entries, err := os.ReadDir(reg.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return report, kernelerrors.Wrap(kernelerrors.CodeDirectoryMissing,
				fmt.Sprintf("cleanup directory %q does not exist", reg.Directory), err)
		}
		return report, kernelerrors.Wrap(kernelerrors.CodePermissionDenied,
			fmt.Sprintf("cannot read cleanup directory %q", reg.Directory), err)
	}

	var files []candidateFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matched, err := filepath.Match(reg.Pattern, entry.Name())
		if err != nil || !matched {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, candidateFile{
			path:    filepath.Join(reg.Directory, entry.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}
	report.FilesScanned = len(files)

	candidates := candidateSet(files, reg, h.clock.Now())
	report.BytesReclaimed, report.FilesDeleted, report.Failures = applyDeletes(candidates, dryRun)

	return report, nil
}

// candidateSet computes the union of the age, count, and size delete
// sets, each only applied when its corresponding policy field is set.
func candidateSet(files []candidateFile, reg Registration, now time.Time) map[string]candidateFile {
	union := make(map[string]candidateFile)

	if reg.RetentionDays != nil {
		cutoff := now.Add(-time.Duration(*reg.RetentionDays) * 24 * time.Hour)
		for _, f := range files {
			if f.modTime.Before(cutoff) {
				union[f.path] = f
			}
		}
	}

	if reg.MaxFiles != nil {
		byAge := append([]candidateFile(nil), files...)
		sort.Slice(byAge, func(i, j int) bool { return byAge[i].modTime.After(byAge[j].modTime) })
		if *reg.MaxFiles < len(byAge) {
			for _, f := range byAge[*reg.MaxFiles:] {
				union[f.path] = f
			}
		}
	}

	if reg.MaxSizeMB != nil {
		byAge := append([]candidateFile(nil), files...)
		sort.Slice(byAge, func(i, j int) bool { return byAge[i].modTime.After(byAge[j].modTime) })
		limit := int64(*reg.MaxSizeMB) * 1024 * 1024
		var running int64
		for _, f := range byAge {
			running += f.size
			if running > limit {
				union[f.path] = f
			}
		}
	}

	return union
}

func applyDeletes(candidates map[string]candidateFile, dryRun bool) (bytesReclaimed int64, filesDeleted int, failures []FileReport) {
	for path, f := range candidates {
		if dryRun {
			bytesReclaimed += f.size
			filesDeleted++
			continue
		}
		if err := os.Remove(path); err != nil {
			if !os.IsNotExist(err) {
				wrapped := kernelerrors.Wrap(kernelerrors.CodeFileDeleteFailed,
					fmt.Sprintf("failed to delete %q", path), err)
				failures = append(failures, FileReport{Path: path, Size: f.size, Err: wrapped})
			}
			continue
		}
		bytesReclaimed += f.size
		filesDeleted++
	}
	return bytesReclaimed, filesDeleted, failures
}
