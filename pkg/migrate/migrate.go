package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/pressly/goose/v3"
)

// DefaultDir is where the migrate CLI creates and validates migration files.
const DefaultDir = "pkg/migrate/migrations"

// The shipped ledger schema (users, upload jobs, records with their reconciliation
// results, and the append-only audit log) travels inside every binary.
//
//go:embed migrations/*.sql
var embedded embed.FS

// Source returns the migration files in dir, or the embedded set when dir is empty.
// The SQL uses plpgsql triggers, so goose always runs with the postgres dialect; SQLite
// deployments get their schema from db.ApplySQLiteSchema instead.
func Source(dir string) (fs.FS, error) {
	if dir == "" {
		return fs.Sub(embedded, "migrations")
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("migrations dir %q: %w", dir, err)
	}
	return os.DirFS(dir), nil
}

// Applied is one migration a command ran.
type Applied struct {
	Version   int64
	File      string
	Direction string
	Millis    int64
}

func newProvider(db *sql.DB, dir string) (*goose.Provider, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	fsys, err := Source(dir)
	if err != nil {
		return nil, err
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return provider, nil
}

// Run executes up, down or status against db and reports the migrations it touched.
// Status output goes to the returned slice with Direction set to the migration state.
func Run(ctx context.Context, db *sql.DB, dir string, command string) ([]Applied, error) {
	provider, err := newProvider(db, dir)
	if err != nil {
		return nil, err
	}

	switch command {
	case "up":
		results, err := provider.Up(ctx)
		return applied(results), wrapGoose("up", err)
	case "down":
		result, err := provider.Down(ctx)
		if result == nil {
			return nil, wrapGoose("down", err)
		}
		return applied([]*goose.MigrationResult{result}), wrapGoose("down", err)
	case "status":
		statuses, err := provider.Status(ctx)
		if err != nil {
			return nil, wrapGoose("status", err)
		}
		out := make([]Applied, 0, len(statuses))
		for _, st := range statuses {
			out = append(out, Applied{Version: st.Source.Version, File: st.Source.Path, Direction: string(st.State)})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported migrate command %q", command)
	}
}

// MigrateToVersion moves the schema up or down to targetVersion.
func MigrateToVersion(ctx context.Context, db *sql.DB, dir string, targetVersion string) ([]Applied, error) {
	if targetVersion == "" {
		return nil, fmt.Errorf("targetVersion is required")
	}
	target, err := strconv.ParseInt(targetVersion, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", targetVersion, err)
	}

	provider, err := newProvider(db, dir)
	if err != nil {
		return nil, err
	}
	current, err := provider.GetDBVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("get db version: %w", err)
	}

	switch {
	case current == target:
		return nil, nil
	case current < target:
		results, err := provider.UpTo(ctx, target)
		return applied(results), wrapGoose(fmt.Sprintf("up-to %d", target), err)
	default:
		results, err := provider.DownTo(ctx, target)
		return applied(results), wrapGoose(fmt.Sprintf("down-to %d", target), err)
	}
}

func applied(results []*goose.MigrationResult) []Applied {
	out := make([]Applied, 0, len(results))
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		out = append(out, Applied{
			Version:   r.Source.Version,
			File:      r.Source.Path,
			Direction: r.Direction,
			Millis:    r.Duration.Milliseconds(),
		})
	}
	return out
}

func wrapGoose(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("goose %s: %w", op, err)
}
