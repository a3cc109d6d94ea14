// Package migrations exposes the subsystem's embedded SQL schema so host
// applications can feed it through their own migration runner. The schema
// covers three tables, each in a postgres and a sqlite variant:
// integration_entries (the persisted entry collection), flow_throttle_state
// (adaptive flow throttling), and bootstrap_runs (component setup tracking).
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"strings"

	integrations "github.com/goliatone/go-integrations"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// coreTables are the migration basenames every dialect tree must provide.
// Filesystems refuses a tree that lost one, so a bad embed or a stripped
// vendor copy fails fast instead of migrating half a schema.
var coreTables = []string{
	"integration_entries",
	"flow_throttle_state",
	"bootstrap_runs",
}

// FilesystemSpec is one dialect's migration tree.
type FilesystemSpec struct {
	Dialect string
	Path    string
	FS      fs.FS
}

// RegisterFunc hands one dialect tree to the host's migration runner.
type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

// Registration reports what Register wired.
type Registration struct {
	SourceLabel       string
	ValidationTargets []string
	Filesystems       []FilesystemSpec
}

type Option func(*Registration)

// WithDialectSourceLabel overrides the label handed to the host's runner,
// for hosts that track migration provenance per module.
func WithDialectSourceLabel(label string) Option {
	return func(r *Registration) {
		if label = strings.TrimSpace(label); label != "" {
			r.SourceLabel = label
		}
	}
}

// WithValidationTargets restricts registration to the named dialects.
func WithValidationTargets(targets ...string) Option {
	return func(r *Registration) {
		if next := normalizeDialects(targets); len(next) > 0 {
			r.ValidationTargets = next
		}
	}
}

// WithFilesystems replaces the embedded trees, for hosts that overlay
// schema alternatives of their own.
func WithFilesystems(filesystems ...FilesystemSpec) Option {
	return func(r *Registration) {
		next := make([]FilesystemSpec, 0, len(filesystems))
		for _, spec := range filesystems {
			dialect := strings.ToLower(strings.TrimSpace(spec.Dialect))
			if dialect == "" || spec.FS == nil {
				continue
			}
			spec.Dialect = dialect
			next = append(next, spec)
		}
		if len(next) > 0 {
			r.Filesystems = next
		}
	}
}

// Filesystems returns the postgres and sqlite migration trees. With no
// argument the module's embedded schema is used; passing a filesystem lets
// tests and vendored copies substitute a tree of the same layout.
func Filesystems(sources ...fs.FS) ([]FilesystemSpec, error) {
	root := integrations.GetCoreMigrationsFS()
	if len(sources) > 0 && sources[0] != nil {
		root = sources[0]
	}

	base, basePath, err := resolveRoot(root)
	if err != nil {
		return nil, err
	}
	sqlite, err := fs.Sub(base, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite tree: %w", err)
	}

	specs := []FilesystemSpec{
		{Dialect: DialectPostgres, Path: basePath, FS: base},
		{Dialect: DialectSQLite, Path: path.Join(basePath, "sqlite"), FS: sqlite},
	}
	for _, spec := range specs {
		if err := verifyCoreTables(spec); err != nil {
			return nil, err
		}
	}
	return specs, nil
}

// Register validates the requested dialect trees and hands each one to the
// host's migration runner under the configured source label.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) (Registration, error) {
	reg := Registration{
		SourceLabel:       "go-integrations",
		ValidationTargets: []string{DialectPostgres, DialectSQLite},
	}

	filesystems, err := Filesystems()
	if err != nil {
		return reg, err
	}
	reg.Filesystems = filesystems

	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}
	if registerFn == nil {
		return reg, fmt.Errorf("migrations: register function is required")
	}

	wanted := make(map[string]struct{}, len(reg.ValidationTargets))
	for _, dialect := range reg.ValidationTargets {
		wanted[dialect] = struct{}{}
	}
	for _, spec := range reg.Filesystems {
		if _, ok := wanted[spec.Dialect]; !ok {
			continue
		}
		if err := registerFn(ctx, spec.Dialect, reg.SourceLabel, spec.FS); err != nil {
			return reg, fmt.Errorf("migrations: register %s (%s): %w", spec.Dialect, spec.Path, err)
		}
	}
	return reg, nil
}

func resolveRoot(root fs.FS) (fs.FS, string, error) {
	const embedded = "data/sql/migrations"
	if sub, err := fs.Sub(root, embedded); err == nil {
		if _, statErr := fs.Stat(sub, "."); statErr == nil {
			return sub, embedded, nil
		}
	}

	// A caller-provided tree may already be rooted at the migration files.
	if matches, err := fs.Glob(root, "*.up.sql"); err == nil && len(matches) > 0 {
		return root, ".", nil
	}
	return nil, "", fmt.Errorf("migrations: no migration tree at %s or the filesystem root", embedded)
}

func verifyCoreTables(spec FilesystemSpec) error {
	for _, table := range coreTables {
		matches, err := fs.Glob(spec.FS, "*_"+table+".up.sql")
		if err != nil {
			return fmt.Errorf("migrations: scan %s %s: %w", spec.Dialect, spec.Path, err)
		}
		if len(matches) == 0 {
			return fmt.Errorf("migrations: %s tree %q is missing the %s migration", spec.Dialect, spec.Path, table)
		}
	}
	return nil
}

func normalizeDialects(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		dialect := strings.ToLower(strings.TrimSpace(value))
		if dialect == "" {
			continue
		}
		if _, dup := seen[dialect]; dup {
			continue
		}
		seen[dialect] = struct{}{}
		out = append(out, dialect)
	}
	return out
}
