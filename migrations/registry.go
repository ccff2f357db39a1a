// Package migrations hands the embedded channel schema to host
// applications that drive their own migration runner.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	channels "github.com/goliatone/go-channels"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

const (
	defaultSourceLabel = "go-channels"
	embeddedRoot       = "data/sql/migrations"
)

// migrationSteps are the ordered schema revisions this module ships. Both
// dialect trees must carry every step as an up/down pair.
var migrationSteps = []string{
	"20250101000000_create_channels",
	"20250101000001_create_channel_mentions",
}

// FilesystemSpec pairs one dialect with its migration filesystem.
type FilesystemSpec struct {
	Dialect string
	Path    string
	FS      fs.FS
}

// Registration reports what Register handed to the host runner.
type Registration struct {
	SourceLabel       string
	ValidationTargets []string
	Filesystems       []FilesystemSpec
}

// RegisterFunc receives one dialect's migration filesystem.
type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type Option func(*Registration)

// WithDialectSourceLabel overrides the label host runners use to namespace
// these migrations. Blank labels keep the default.
func WithDialectSourceLabel(label string) Option {
	return func(r *Registration) {
		if trimmed := strings.TrimSpace(label); trimmed != "" {
			r.SourceLabel = trimmed
		}
	}
}

// WithValidationTargets narrows registration to the named dialects. Unknown
// or blank names are dropped; an all-blank list keeps the default pair.
func WithValidationTargets(targets ...string) Option {
	return func(r *Registration) {
		if normalized := normalizeDialects(targets); len(normalized) > 0 {
			r.ValidationTargets = normalized
		}
	}
}

// Filesystems resolves the embedded schema into one filesystem per dialect.
// The postgres tree sits at the embed root with the sqlite variants nested
// under sqlite/.
func Filesystems() ([]FilesystemSpec, error) {
	base, err := fs.Sub(channels.GetCoreMigrationsFS(), embeddedRoot)
	if err != nil {
		return nil, fmt.Errorf("migrations: embedded root %s: %w", embeddedRoot, err)
	}
	sqliteFS, err := fs.Sub(base, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite filesystem: %w", err)
	}

	specs := []FilesystemSpec{
		{Dialect: DialectPostgres, Path: embeddedRoot, FS: base},
		{Dialect: DialectSQLite, Path: embeddedRoot + "/sqlite", FS: sqliteFS},
	}
	for _, spec := range specs {
		if err := verifySteps(spec); err != nil {
			return nil, err
		}
	}
	return specs, nil
}

// verifySteps confirms every schema revision ships as a non-empty up/down
// pair, so a broken embed fails at startup instead of mid-migration.
func verifySteps(spec FilesystemSpec) error {
	for _, step := range migrationSteps {
		for _, suffix := range []string{".up.sql", ".down.sql"} {
			name := step + suffix
			info, err := fs.Stat(spec.FS, name)
			if err != nil {
				return fmt.Errorf("migrations: %s is missing %s: %w", spec.Dialect, name, err)
			}
			if info.Size() == 0 {
				return fmt.Errorf("migrations: %s %s is empty", spec.Dialect, name)
			}
		}
	}
	return nil
}

// Register validates the embedded schema and hands each requested dialect's
// filesystem to registerFn.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) (Registration, error) {
	reg := Registration{
		SourceLabel:       defaultSourceLabel,
		ValidationTargets: []string{DialectPostgres, DialectSQLite},
	}
	if registerFn == nil {
		return reg, fmt.Errorf("migrations: register function is required")
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}

	specs, err := Filesystems()
	if err != nil {
		return reg, err
	}
	reg.Filesystems = specs

	wanted := make(map[string]bool, len(reg.ValidationTargets))
	for _, target := range reg.ValidationTargets {
		wanted[target] = true
	}
	for _, spec := range reg.Filesystems {
		if !wanted[spec.Dialect] {
			continue
		}
		if err := registerFn(ctx, spec.Dialect, reg.SourceLabel, spec.FS); err != nil {
			return reg, fmt.Errorf("migrations: register %s (%s): %w", spec.Dialect, spec.Path, err)
		}
	}
	return reg, nil
}

func normalizeDialects(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.ToLower(strings.TrimSpace(value))
		if trimmed == "" || seen[trimmed] {
			continue
		}
		seen[trimmed] = true
		out = append(out, trimmed)
	}
	return out
}
