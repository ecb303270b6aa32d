// Package bootstrap implements the bootstrap stage (C3): the ordered,
// infrastructure-only handlers that run before any module is
// instantiated. Handlers must not perform business logic or service
// lookups — nothing in the container exists yet.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/R3E-Network/kernel/internal/kernel/descriptor"
	"github.com/R3E-Network/kernel/pkg/kernelerrors"
	"github.com/R3E-Network/kernel/pkg/logging"
)

// Handler is one bootstrap step: self-contained, idempotent, and
// fail-fast. Lower Priority runs earlier.
type Handler struct {
	Name     string
	Priority int
	Run      func(ctx context.Context) error
}

// DefaultDirectories is the fixed directory set the directory handler
// creates, relative to dataDir.
var DefaultDirectories = []string{
	"logs", "cache", "temp", "database", "config",
	"error_logs", "logs/modules", "models", "exports", "imports",
}

// Stage runs registered handlers in ascending priority order, then
// exposes the opened per-database *sql.DB handles to C3's caller
// (cmd/kerneld passes them to the settings store, the scheduler and
// the housekeeper).
type Stage struct {
	dataDir  string
	handlers []Handler
	log      *logging.Logger

	databases map[string]*sql.DB
}

// New returns a Stage rooted at dataDir, with the directory handler
// (priority 5) pre-registered. Call RegisterDatabaseHandler to add the
// database handler (priority 10) once module database schemas are
// known.
func New(dataDir string, log *logging.Logger) *Stage {
	s := &Stage{
		dataDir:   dataDir,
		log:       log,
		databases: make(map[string]*sql.DB),
	}
	s.handlers = append(s.handlers, Handler{
		Name:     "directory-handler",
		Priority: 5,
		Run:      s.runDirectoryHandler,
	})
	return s
}

// RegisterDatabaseHandler adds the database handler (priority 10),
// which groups schemas discovered across module descriptors by
// DatabaseName, opens one SQLite file per name under dataDir/database,
// and creates any missing tables in a single transaction per database.
func (s *Stage) RegisterDatabaseHandler(schemas []descriptor.DatabaseSchema) {
	s.handlers = append(s.handlers, Handler{
		Name:     "database-handler",
		Priority: 10,
		Run: func(ctx context.Context) error {
			return s.runDatabaseHandler(schemas)
		},
	})
}

// Run executes every registered handler in ascending priority order.
// On the first failure it returns BOOTSTRAP_FAILED naming the handler;
// the process must abort without starting Phase 1.
func (s *Stage) Run(ctx context.Context) error {
	ordered := append([]Handler(nil), s.handlers...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	for _, h := range ordered {
		if s.log != nil {
			s.log.WithContext(ctx).Infof("bootstrap: running handler %s (priority %d)", h.Name, h.Priority)
		}
		if err := h.Run(ctx); err != nil {
			return kernelerrors.Wrap(kernelerrors.CodeBootstrapFailed,
				fmt.Sprintf("handler %q failed", h.Name), err)
		}
	}
	return nil
}

// Database returns the opened handle for a logical database name, or
// nil if the database handler never opened it.
func (s *Stage) Database(name string) *sql.DB {
	return s.databases[name]
}

// Close closes every database handle the bootstrap stage opened. C9
// calls this last, after every other shutdown handler has run.
func (s *Stage) Close() error {
	var firstErr error
	for _, db := range s.databases {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Stage) runDirectoryHandler(ctx context.Context) error {
	for _, rel := range DefaultDirectories {
		path := rel
		if !filepath.IsAbs(path) {
			path = filepath.Join(s.dataDir, rel)
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", path, err)
		}
	}
	return nil
}

func (s *Stage) runDatabaseHandler(schemas []descriptor.DatabaseSchema) error {
	grouped := make(map[string][]descriptor.TableSpec)
	var names []string
	for _, schema := range schemas {
		if _, seen := grouped[schema.DatabaseName]; !seen {
			names = append(names, schema.DatabaseName)
		}
		grouped[schema.DatabaseName] = append(grouped[schema.DatabaseName], schema.Tables...)
	}
	sort.Strings(names)

	dbDir := filepath.Join(s.dataDir, "database")
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return fmt.Errorf("create database directory: %w", err)
	}

	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("database handler: empty DATABASE_NAME declaration")
		}
		path := filepath.Join(dbDir, name+".db")
		db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
		if err != nil {
			return fmt.Errorf("open database %q: %w", name, err)
		}

		tx, err := db.Begin()
		if err != nil {
			db.Close()
			return fmt.Errorf("begin schema transaction for %q: %w", name, err)
		}
		for _, table := range grouped[name] {
			if _, err := tx.Exec(table.CreateSQL); err != nil {
				tx.Rollback()
				db.Close()
				return fmt.Errorf("create table %q in database %q: %w", table.Name, name, err)
			}
		}
		if err := tx.Commit(); err != nil {
			db.Close()
			return fmt.Errorf("commit schema for database %q: %w", name, err)
		}

		s.databases[name] = db
	}
	return nil
}
