// Package pg implements store.Store on PostgreSQL through the pgx stdlib
// driver. Nested SIF documents are kept as jsonb next to the columns that
// are queried or constrained.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"sif3.org/internal/ids"
	"sif3.org/internal/model"
	"sif3.org/internal/store"
)

const pgErrUniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Applications(context.Context) store.ApplicationStore { return appStore{s.db} }
func (s *Store) EnvironmentRegisters(context.Context) store.EnvironmentRegisterStore {
	return registerStore{s.db}
}
func (s *Store) Environments(context.Context) store.EnvironmentStore { return envStore{s.db} }
func (s *Store) Sessions(context.Context) store.SessionStore         { return sessionStore{s.db} }
func (s *Store) Jobs(context.Context) store.JobStore                 { return jobStore{s.db} }

// Provision inserts the application and its registers in one transaction.
func (s *Store) Provision(ctx context.Context, app *model.ApplicationRegister) (err error) {
	for i := range app.EnvironmentRegisters {
		if err := app.EnvironmentRegisters[i].Validate(); err != nil {
			return err
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if app.ID == "" {
		app.ID = ids.New()
	}
	if _, err = tx.ExecContext(ctx, insertApplication, app.ID, app.ApplicationKey, app.SharedSecret); err != nil {
		return mapErr(err)
	}
	for i := range app.EnvironmentRegisters {
		reg := &app.EnvironmentRegisters[i]
		if reg.ApplicationKey == "" {
			reg.ApplicationKey = app.ApplicationKey
		}
		if err = insertRegister(ctx, tx, reg); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const insertApplication = `
		insert into application_registers(id, application_key, shared_secret)
		values ($1, $2, $3)
	`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRegister(ctx context.Context, db execer, reg *model.EnvironmentRegister) error {
	if reg.ID == "" {
		reg.ID = ids.New()
	}
	doc, err := json.Marshal(reg)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		insert into environment_registers(id, application_key, instance_id, user_token, solution_id, document)
		values ($1, $2, $3, $4, $5, $6)
	`, reg.ID, reg.ApplicationKey, nullIfEmpty(reg.InstanceID), nullIfEmpty(reg.UserToken), nullIfEmpty(reg.SolutionID), doc)
	return mapErr(err)
}

// Applications --------------------------------------------------------------
type appStore struct{ db *sql.DB }

func (a appStore) Create(ctx context.Context, app *model.ApplicationRegister) error {
	if app.ID == "" {
		app.ID = ids.New()
	}
	_, err := a.db.ExecContext(ctx, insertApplication, app.ID, app.ApplicationKey, app.SharedSecret)
	return mapErr(err)
}

func (a appStore) RetrieveByApplicationKey(ctx context.Context, applicationKey string) (*model.ApplicationRegister, error) {
	app := &model.ApplicationRegister{}
	err := a.db.QueryRowContext(ctx, `
		select id, application_key, shared_secret
		from application_registers
		where application_key = $1
	`, applicationKey).Scan(&app.ID, &app.ApplicationKey, &app.SharedSecret)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := a.db.QueryContext(ctx, `
		select document from environment_registers
		where application_key = $1
		order by id asc
	`, applicationKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var reg model.EnvironmentRegister
		if err := scanDocument(rows, &reg); err != nil {
			return nil, err
		}
		app.EnvironmentRegisters = append(app.EnvironmentRegisters, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return app, nil
}

// Environment registers -----------------------------------------------------
type registerStore struct{ db *sql.DB }

// Create relies on the unique index over the coalesced key columns.
func (r registerStore) Create(ctx context.Context, reg *model.EnvironmentRegister) error {
	if err := reg.Validate(); err != nil {
		return err
	}
	return insertRegister(ctx, r.db, reg)
}

// RetrieveByUniqueIdentifiers reads at most two rows so that rows written
// before the unique index existed surface as ErrDuplicateFound.
func (r registerStore) RetrieveByUniqueIdentifiers(ctx context.Context, key model.RegisterKey) (*model.EnvironmentRegister, error) {
	rows, err := r.db.QueryContext(ctx, `
		select document from environment_registers
		where application_key = $1
		  and coalesce(instance_id, '') = $2
		  and coalesce(user_token, '') = $3
		  and coalesce(solution_id, '') = $4
		limit 2
	`, key.ApplicationKey, key.InstanceID, key.UserToken, key.SolutionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var found []*model.EnvironmentRegister
	for rows.Next() {
		reg := &model.EnvironmentRegister{}
		if err := scanDocument(rows, reg); err != nil {
			return nil, err
		}
		found = append(found, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch len(found) {
	case 0:
		return nil, store.ErrNotFound
	case 1:
		return found[0], nil
	default:
		return nil, store.ErrDuplicateFound
	}
}

// Environments --------------------------------------------------------------
type envStore struct{ db *sql.DB }

func (e envStore) Create(ctx context.Context, env *model.Environment) error {
	if env.ID == "" {
		env.ID = ids.NewGUID()
	}
	doc, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = e.db.ExecContext(ctx, `
		insert into environments(id, session_token, document, created_at, updated_at)
		values ($1, $2, $3, now(), now())
	`, env.ID, env.SessionToken, doc)
	return mapErr(err)
}

func (e envStore) Retrieve(ctx context.Context, id string) (*model.Environment, error) {
	return e.one(ctx, `select document from environments where id = $1`, id)
}

func (e envStore) RetrieveBySessionToken(ctx context.Context, sessionToken string) (*model.Environment, error) {
	return e.one(ctx, `select document from environments where session_token = $1`, sessionToken)
}

func (e envStore) one(ctx context.Context, query, arg string) (*model.Environment, error) {
	env := &model.Environment{}
	err := scanDocument(e.db.QueryRowContext(ctx, query, arg), env)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return env, nil
}

func (e envStore) Update(ctx context.Context, env *model.Environment) error {
	doc, err := json.Marshal(env)
	if err != nil {
		return err
	}
	res, err := e.db.ExecContext(ctx, `
		update environments set session_token = $2, document = $3, updated_at = now()
		where id = $1
	`, env.ID, env.SessionToken, doc)
	return affected(res, mapErr(err))
}

func (e envStore) Delete(ctx context.Context, id string) error {
	res, err := e.db.ExecContext(ctx, `delete from environments where id = $1`, id)
	return affected(res, err)
}

// Sessions ------------------------------------------------------------------
type sessionStore struct{ db *sql.DB }

const sessionColumns = `id, application_key, coalesce(environment_url, ''), coalesce(instance_id, ''),
	coalesce(queue_id, ''), session_token, coalesce(solution_id, ''), coalesce(subscription_id, ''),
	coalesce(user_token, '')`

func (s sessionStore) Create(ctx context.Context, sess *model.Session) error {
	if sess.ID == "" {
		sess.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into sessions(id, application_key, environment_url, instance_id, queue_id,
			session_token, solution_id, subscription_id, user_token)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, sess.ID, sess.ApplicationKey, nullIfEmpty(sess.EnvironmentURL), nullIfEmpty(sess.InstanceID),
		nullIfEmpty(sess.QueueID), sess.SessionToken, nullIfEmpty(sess.SolutionID),
		nullIfEmpty(sess.SubscriptionID), nullIfEmpty(sess.UserToken))
	return mapErr(err)
}

func (s sessionStore) RetrieveBySessionToken(ctx context.Context, sessionToken string) (*model.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx, `select `+sessionColumns+` from sessions where session_token = $1`, sessionToken))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return sess, err
}

func (s sessionStore) RetrieveByUniqueIdentifiers(ctx context.Context, key model.RegisterKey) (*model.Session, error) {
	rows, err := s.db.QueryContext(ctx, `select `+sessionColumns+` from sessions
		where application_key = $1
		  and coalesce(instance_id, '') = $2
		  and coalesce(user_token, '') = $3
		  and coalesce(solution_id, '') = $4
		limit 2`, key.ApplicationKey, key.InstanceID, key.UserToken, key.SolutionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var found []*model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		found = append(found, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch len(found) {
	case 0:
		return nil, store.ErrNotFound
	case 1:
		return found[0], nil
	default:
		return nil, store.ErrDuplicateFound
	}
}

func (s sessionStore) Update(ctx context.Context, sess *model.Session) error {
	res, err := s.db.ExecContext(ctx, `
		update sessions set environment_url = $2, queue_id = $3, subscription_id = $4
		where session_token = $1
	`, sess.SessionToken, nullIfEmpty(sess.EnvironmentURL), nullIfEmpty(sess.QueueID), nullIfEmpty(sess.SubscriptionID))
	return affected(res, err)
}

func (s sessionStore) Delete(ctx context.Context, sessionToken string) error {
	res, err := s.db.ExecContext(ctx, `delete from sessions where session_token = $1`, sessionToken)
	return affected(res, err)
}

// Jobs ----------------------------------------------------------------------
type jobStore struct{ db *sql.DB }

func (j jobStore) Create(ctx context.Context, job *model.Job) error {
	if job.ID == "" {
		job.ID = ids.New()
	}
	doc, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = j.db.ExecContext(ctx, `
		insert into jobs(id, name, owner_session_token, state, last_modified, document)
		values ($1, $2, $3, $4, $5, $6)
	`, job.ID, job.Name, nullIfEmpty(job.OwnerSessionToken), string(job.State), job.LastModified, doc)
	return mapErr(err)
}

func (j jobStore) Retrieve(ctx context.Context, id string) (*model.Job, error) {
	job := &model.Job{}
	err := scanDocument(j.db.QueryRowContext(ctx, `select document from jobs where id = $1`, id), job)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (j jobStore) List(ctx context.Context, filter store.JobFilter) ([]*model.Job, error) {
	rows, err := j.db.QueryContext(ctx, `
		select document from jobs
		where ($1 = '' or owner_session_token = $1)
		  and ($2 = '' or name = $2)
		order by id asc
	`, filter.OwnerSessionToken, filter.Name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Job
	for rows.Next() {
		job := &model.Job{}
		if err := scanDocument(rows, job); err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (j jobStore) Update(ctx context.Context, job *model.Job) error {
	doc, err := json.Marshal(job)
	if err != nil {
		return err
	}
	res, err := j.db.ExecContext(ctx, `
		update jobs set state = $2, last_modified = $3, document = $4
		where id = $1
	`, job.ID, string(job.State), job.LastModified, doc)
	return affected(res, err)
}

func (j jobStore) Delete(ctx context.Context, id string) error {
	res, err := j.db.ExecContext(ctx, `delete from jobs where id = $1`, id)
	return affected(res, err)
}

// --- helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner, dst any) error {
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		return err
	}
	return json.Unmarshal(doc, dst)
}

func scanSession(row scanner) (*model.Session, error) {
	sess := &model.Session{}
	err := row.Scan(&sess.ID, &sess.ApplicationKey, &sess.EnvironmentURL, &sess.InstanceID,
		&sess.QueueID, &sess.SessionToken, &sess.SolutionID, &sess.SubscriptionID, &sess.UserToken)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// affected turns a zero-row write into store.ErrNotFound.
func affected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func mapErr(err error) error {
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return store.ErrAlreadyExists
	}
	return err
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
