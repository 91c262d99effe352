package migrate

import (
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
)

var (
	sqlFileRe     = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)
	createTableRe = regexp.MustCompile(`(?i)CREATE TABLE (?:IF NOT EXISTS )?([a-z_][a-z0-9_]*)`)
)

// ValidateDir validates the migration files in dir.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("read dir %q: %w", dir, err)
	}
	return ValidateFS(os.DirFS(dir))
}

// ValidateFS checks filenames and versions, requires both goose sections, and requires
// every table an Up creates to be dropped by its Down so rollbacks leave no orphans.
func ValidateFS(fsys fs.FS) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	seen := map[string]string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		m := sqlFileRe.FindStringSubmatch(name)
		if m == nil {
			return fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
		}
		version := m[1]
		if prev, ok := seen[version]; ok {
			return fmt.Errorf("duplicate migration version %s in %q and %q", version, prev, name)
		}
		seen[version] = name

		b, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read file %q: %w", name, err)
		}
		if err := validateSections(name, string(b)); err != nil {
			return err
		}
	}
	return nil
}

func validateSections(name, txt string) error {
	upAt := strings.Index(txt, "-- +goose Up")
	downAt := strings.Index(txt, "-- +goose Down")
	switch {
	case upAt < 0:
		return fmt.Errorf("migration %q missing \"-- +goose Up\"", name)
	case downAt < 0:
		return fmt.Errorf("migration %q missing \"-- +goose Down\"", name)
	case downAt < upAt:
		return fmt.Errorf("migration %q has Down before Up", name)
	}

	up, down := txt[upAt:downAt], strings.ToLower(txt[downAt:])
	for _, m := range createTableRe.FindAllStringSubmatch(up, -1) {
		table := strings.ToLower(m[1])
		if !strings.Contains(down, "drop table if exists "+table) && !strings.Contains(down, "drop table "+table) {
			return fmt.Errorf("migration %q creates table %s but its Down does not drop it", name, table)
		}
	}
	return nil
}
