// Package migrate applies the SIF schema and the demo provisioning seeds.
//
// Schema changes are numbered pairs NNNN_name.up.sql and NNNN_name.down.sql.
// Each script runs in its own transaction together with its history row, and
// the row keeps a checksum of the script so an edited migration is reported
// instead of being skipped as already applied.
package migrate

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed sql/*.sql seeds/*.sql
var bundled embed.FS

// Migrations returns the schema migrations compiled into the binary.
func Migrations() fs.FS { return mustSub("sql") }

// Seeds returns the demo provisioning data compiled into the binary.
func Seeds() fs.FS { return mustSub("seeds") }

func mustSub(dir string) fs.FS {
	sub, err := fs.Sub(bundled, dir)
	if err != nil {
		panic(err)
	}
	return sub
}

const defaultHistoryTable = "sif_schema_history"

var (
	ErrChecksumMismatch  = errors.New("migrate: applied script has changed")
	ErrNothingToRollBack = errors.New("migrate: no migrations applied")
)

// Kind separates schema migrations from seed data in the history table.
type Kind string

const (
	KindMigration Kind = "migration"
	KindSeed      Kind = "seed"
)

// Applied is one row of the history table.
type Applied struct {
	Kind      Kind
	Name      string
	Checksum  string
	AppliedAt time.Time
}

// Manager applies scripts read from fs.FS sources to a database.
type Manager struct {
	db         *sql.DB
	migrations fs.FS
	seeds      fs.FS
	table      string
	now        func() time.Time
}

// Option configures Manager.
type Option func(*Manager)

// WithHistoryTable overrides the history table name.
func WithHistoryTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.table = name
		}
	}
}

// WithClock sets the clock used for applied_at.
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewManager constructs a Manager. A nil seeds FS disables Seed.
func NewManager(db *sql.DB, migrations, seeds fs.FS, opts ...Option) *Manager {
	m := &Manager{
		db:         db,
		migrations: migrations,
		seeds:      seeds,
		table:      defaultHistoryTable,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies pending migrations in version order and returns their names.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	scripts, err := loadMigrations(m.migrations)
	if err != nil {
		return nil, err
	}
	return m.applyAll(ctx, KindMigration, scripts)
}

// Seed applies pending seed files in name order and returns their names.
func (m *Manager) Seed(ctx context.Context) ([]string, error) {
	scripts, err := loadSeeds(m.seeds)
	if err != nil {
		return nil, err
	}
	return m.applyAll(ctx, KindSeed, scripts)
}

// Down rolls back the migration with the highest version and returns its name.
func (m *Manager) Down(ctx context.Context) (string, error) {
	scripts, err := loadMigrations(m.migrations)
	if err != nil {
		return "", err
	}
	if err := m.ensureTable(ctx); err != nil {
		return "", err
	}
	applied, err := m.applied(ctx, KindMigration)
	if err != nil {
		return "", err
	}
	var last *script
	for i := len(scripts) - 1; i >= 0; i-- {
		if _, ok := applied[scripts[i].name]; ok {
			last = &scripts[i]
			break
		}
	}
	if last == nil {
		if len(applied) > 0 {
			return "", errors.New("migrate: applied migrations have no source scripts")
		}
		return "", ErrNothingToRollBack
	}
	if last.down == "" {
		return "", fmt.Errorf("migrate: missing down migration for %s", last.name)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()
	if err := execScript(ctx, tx, last.down); err != nil {
		return "", fmt.Errorf("rollback migration %s: %w", last.name, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`delete from %s where kind = $1 and name = $2`, m.table), KindMigration, last.name); err != nil {
		return "", err
	}
	return last.name, tx.Commit()
}

// Status lists the history table, migrations first.
func (m *Manager) Status(ctx context.Context) ([]Applied, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select kind, name, checksum, applied_at from %s order by kind asc, name asc`, m.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Applied
	for rows.Next() {
		var a Applied
		if err := rows.Scan(&a.Kind, &a.Name, &a.Checksum, &a.AppliedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (m *Manager) applyAll(ctx context.Context, kind Kind, scripts []script) ([]string, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx, kind)
	if err != nil {
		return nil, err
	}
	var done []string
	for _, s := range scripts {
		if sum, ok := applied[s.name]; ok {
			if sum != s.checksum {
				return done, fmt.Errorf("%w: %s %s", ErrChecksumMismatch, kind, s.name)
			}
			continue
		}
		if err := m.apply(ctx, kind, s); err != nil {
			return done, fmt.Errorf("apply %s %s: %w", kind, s.name, err)
		}
		done = append(done, s.name)
	}
	return done, nil
}

// apply runs one script and records it in the same transaction.
func (m *Manager) apply(ctx context.Context, kind Kind, s script) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := execScript(ctx, tx, s.up); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`insert into %s(kind, name, checksum, applied_at) values ($1, $2, $3, $4)`, m.table),
		kind, s.name, s.checksum, m.now()); err != nil {
		return err
	}
	return tx.Commit()
}

func execScript(ctx context.Context, tx *sql.Tx, body string) error {
	for _, stmt := range splitStatements(body) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, fmt.Sprintf(`
		create table if not exists %s (
			kind text not null,
			name text not null,
			checksum text not null,
			applied_at timestamptz not null,
			primary key (kind, name)
		)`, m.table))
	return err
}

func (m *Manager) applied(ctx context.Context, kind Kind) (map[string]string, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name, checksum from %s where kind = $1`, m.table), kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make(map[string]string)
	for rows.Next() {
		var name, sum string
		if err := rows.Scan(&name, &sum); err != nil {
			return nil, err
		}
		res[name] = sum
	}
	return res, rows.Err()
}

// script is a loaded up script with its optional down counterpart.
type script struct {
	version  int
	name     string
	up       string
	down     string
	checksum string
}

var migrationName = regexp.MustCompile(`^(\d+)_([A-Za-z0-9_]+)\.(up|down)\.sql$`)

// loadMigrations reads a flat directory of numbered migration pairs. Every
// .sql file must follow the naming scheme and versions must be unique.
func loadMigrations(fsys fs.FS) ([]script, error) {
	if fsys == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}
	byVersion := make(map[int]*script)
	downs := make(map[int]string)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		match := migrationName.FindStringSubmatch(e.Name())
		if match == nil {
			return nil, fmt.Errorf("migrate: unrecognised migration file %s", e.Name())
		}
		version, err := strconv.Atoi(match[1])
		if err != nil {
			return nil, fmt.Errorf("migrate: bad version in %s: %w", e.Name(), err)
		}
		name := match[1] + "_" + match[2]
		body, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, err
		}
		if match[3] == "down" {
			downs[version] = string(body)
			continue
		}
		if prev, dup := byVersion[version]; dup {
			return nil, fmt.Errorf("migrate: version %d used by %s and %s", version, prev.name, name)
		}
		byVersion[version] = &script{version: version, name: name, up: string(body), checksum: checksum(body)}
	}
	for version, body := range downs {
		s, ok := byVersion[version]
		if !ok {
			return nil, fmt.Errorf("migrate: down migration %d has no up migration", version)
		}
		s.down = body
	}

	res := make([]script, 0, len(byVersion))
	for _, s := range byVersion {
		res = append(res, *s)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].version < res[j].version })
	return res, nil
}

// loadSeeds reads every .sql file of a flat directory in name order.
func loadSeeds(fsys fs.FS) ([]script, error) {
	if fsys == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}
	var res []script
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		body, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, err
		}
		res = append(res, script{name: strings.TrimSuffix(e.Name(), ".sql"), up: string(body), checksum: checksum(body)})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].name < res[j].name })
	return res, nil
}

func checksum(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// splitStatements cuts a script at top-level semicolons. Quoted strings,
// dollar-quoted bodies and -- comments are not split; comments are dropped.
func splitStatements(src string) []string {
	var (
		stmts []string
		cur   strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			stmts = append(stmts, s)
		}
		cur.Reset()
	}
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '-' && i+1 < len(src) && src[i+1] == '-':
			for i < len(src) && src[i] != '\n' {
				i++
			}
			cur.WriteByte('\n')
		case c == '\'':
			end := quoteEnd(src, i)
			cur.WriteString(src[i:end])
			i = end - 1
		case c == '$':
			tag, ok := dollarTag(src[i:])
			if !ok {
				cur.WriteByte(c)
				continue
			}
			end := len(src)
			if n := strings.Index(src[i+len(tag):], tag); n >= 0 {
				end = i + len(tag) + n + len(tag)
			}
			cur.WriteString(src[i:end])
			i = end - 1
		case c == ';':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return stmts
}

// quoteEnd returns the index just past the single-quoted literal starting
// at start. Doubled quotes are escapes.
func quoteEnd(src string, start int) int {
	for j := start + 1; j < len(src); j++ {
		if src[j] != '\'' {
			continue
		}
		if j+1 < len(src) && src[j+1] == '\'' {
			j++
			continue
		}
		return j + 1
	}
	return len(src)
}

// dollarTag reports the $tag$ opening s. Positional parameters such as $1
// are not tags.
func dollarTag(s string) (string, bool) {
	for j := 1; j < len(s); j++ {
		c := s[j]
		switch {
		case c == '$':
			return s[:j+1], true
		case c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z'):
		case '0' <= c && c <= '9' && j > 1:
		default:
			return "", false
		}
	}
	return "", false
}
