package migrate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestSplitStatements(t *testing.T) {
	src := `create table a (x text); -- trailing; comment
insert into a values ('x;y'), ('it''s;');
create function f() returns trigger as $body$
begin
  perform 1; return new;
end;
$body$ language plpgsql;
select $1::text`
	stmts := splitStatements(src)
	if len(stmts) != 4 {
		t.Fatalf("expected 4 statements, got %d: %q", len(stmts), stmts)
	}
	if !strings.Contains(stmts[1], "'x;y'") || !strings.Contains(stmts[1], "'it''s;'") {
		t.Fatalf("quoted semicolon split: %q", stmts[1])
	}
	if !strings.Contains(stmts[2], "perform 1; return new;") || !strings.HasSuffix(stmts[2], "language plpgsql") {
		t.Fatalf("dollar-quoted body split: %q", stmts[2])
	}
	if strings.Contains(strings.Join(stmts, "\n"), "comment") {
		t.Fatalf("comment kept: %q", stmts)
	}
	if stmts[3] != "select $1::text" {
		t.Fatalf("positional parameter mistaken for a tag: %q", stmts[3])
	}
}

func TestBundledScripts(t *testing.T) {
	migrations, err := loadMigrations(Migrations())
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("expected bundled migrations")
	}
	var sawCursors bool
	for i, s := range migrations {
		if s.down == "" {
			t.Fatalf("missing down migration for %s", s.name)
		}
		if i > 0 && s.version <= migrations[i-1].version {
			t.Fatalf("migrations out of order: %s after %s", s.name, migrations[i-1].name)
		}
		if strings.Contains(s.up, "changes_since_cursors") {
			sawCursors = true
		}
	}
	if !sawCursors {
		t.Fatal("changes_since_cursors table not created by any migration")
	}
	seeds, err := loadSeeds(Seeds())
	if err != nil || len(seeds) == 0 {
		t.Fatalf("expected bundled seeds, got %v %v", seeds, err)
	}
}

func TestLoadMigrationsOrdersByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"10_late.up.sql":   {Data: []byte("select 10;")},
		"9_early.up.sql":   {Data: []byte("select 9;")},
		"README.md":        {Data: []byte("not sql")},
		"9_early.down.sql": {Data: []byte("select -9;")},
	}
	scripts, err := loadMigrations(fsys)
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	if len(scripts) != 2 || scripts[0].name != "9_early" || scripts[1].name != "10_late" {
		t.Fatalf("unexpected order: %+v", scripts)
	}
	if scripts[0].down != "select -9;" || scripts[1].down != "" {
		t.Fatalf("down scripts not paired: %+v", scripts)
	}

	bad := []fstest.MapFS{
		{"0001_a.up.sql": {}, "01_b.up.sql": {}},
		{"0002_b.down.sql": {}},
		{"create_tables.sql": {}},
	}
	for _, fsys := range bad {
		if _, err := loadMigrations(fsys); err == nil {
			t.Fatalf("expected error for %v", fsys)
		}
	}
}

func TestUpSkipsAppliedAndRecordsInTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	first := []byte("create table a (id text);")
	migrations := fstest.MapFS{
		"0001_a.up.sql":   {Data: first},
		"0001_a.down.sql": {Data: []byte("drop table a;")},
		"0002_b.up.sql":   {Data: []byte("create table b (id text); create index b_idx on b (id);")},
	}
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	mgr := NewManager(db, migrations, nil, WithClock(func() time.Time { return at }))

	mock.ExpectExec("create table if not exists sif_schema_history").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name, checksum from sif_schema_history").
		WithArgs(KindMigration).
		WillReturnRows(sqlmock.NewRows([]string{"name", "checksum"}).AddRow("0001_a", checksum(first)))
	mock.ExpectBegin()
	mock.ExpectExec("create table b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create index b_idx").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into sif_schema_history").
		WithArgs(KindMigration, "0002_b", sqlmock.AnyArg(), at).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	applied, err := mgr.Up(context.Background())
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if len(applied) != 1 || applied[0] != "0002_b" {
		t.Fatalf("applied = %v", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpRejectsEditedMigration(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	migrations := fstest.MapFS{
		"0001_a.up.sql": {Data: []byte("create table a (id text, extra text);")},
	}
	mgr := NewManager(db, migrations, nil)

	mock.ExpectExec("create table if not exists sif_schema_history").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name, checksum from sif_schema_history").
		WithArgs(KindMigration).
		WillReturnRows(sqlmock.NewRows([]string{"name", "checksum"}).AddRow("0001_a", checksum([]byte("create table a (id text);"))))

	if _, err := mgr.Up(context.Background()); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFailedScriptIsNotRecorded(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	seeds := fstest.MapFS{"0001_demo.sql": {Data: []byte("insert into application_registers values ('x');")}}
	mgr := NewManager(db, nil, seeds)

	mock.ExpectExec("create table if not exists sif_schema_history").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name, checksum from sif_schema_history").
		WithArgs(KindSeed).
		WillReturnRows(sqlmock.NewRows([]string{"name", "checksum"}))
	mock.ExpectBegin()
	mock.ExpectExec("insert into application_registers").WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	if _, err := mgr.Seed(context.Background()); err == nil || !strings.Contains(err.Error(), "0001_demo") {
		t.Fatalf("expected seed failure naming the script, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownRollsBackHighestVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	migrations := fstest.MapFS{
		"0001_a.up.sql":   {Data: []byte("create table a (id text);")},
		"0001_a.down.sql": {Data: []byte("drop table a;")},
		"0002_b.up.sql":   {Data: []byte("create table b (id text);")},
		"0002_b.down.sql": {Data: []byte("drop table b;")},
	}
	mgr := NewManager(db, migrations, nil)

	mock.ExpectExec("create table if not exists sif_schema_history").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name, checksum from sif_schema_history").
		WillReturnRows(sqlmock.NewRows([]string{"name", "checksum"}).AddRow("0001_a", "x").AddRow("0002_b", "y"))
	mock.ExpectBegin()
	mock.ExpectExec("drop table b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("delete from sif_schema_history").
		WithArgs(KindMigration, "0002_b").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	name, err := mgr.Down(context.Background())
	if err != nil || name != "0002_b" {
		t.Fatalf("Down = %q, %v", name, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownRequiresPair(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	migrations := fstest.MapFS{
		"0002_b.up.sql": {Data: []byte("create table b (id text);")},
	}
	mgr := NewManager(db, migrations, nil)

	mock.ExpectExec("create table if not exists sif_schema_history").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name, checksum from sif_schema_history").
		WillReturnRows(sqlmock.NewRows([]string{"name", "checksum"}).AddRow("0002_b", "x"))

	_, err = mgr.Down(context.Background())
	if err == nil || !strings.Contains(err.Error(), "missing down migration") {
		t.Fatalf("expected missing down migration error, got %v", err)
	}
}

func TestDownWithNothingApplied(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mgr := NewManager(db, fstest.MapFS{"0001_a.up.sql": {Data: []byte("select 1;")}}, nil)
	mock.ExpectExec("create table if not exists sif_schema_history").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name, checksum from sif_schema_history").
		WillReturnRows(sqlmock.NewRows([]string{"name", "checksum"}))

	if _, err := mgr.Down(context.Background()); !errors.Is(err, ErrNothingToRollBack) {
		t.Fatalf("expected ErrNothingToRollBack, got %v", err)
	}
}
