// Package sqlstore persists users and line items to a relational database.
// The same code serves Postgres (pgx) and embedded sqlite; only placeholders
// and DDL differ.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/receipts-ingest/internal/common"
	"github.com/joseph-ayodele/receipts-ingest/internal/entity"
)

type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

func (d Dialect) String() string {
	if d == SQLite {
		return "sqlite"
	}
	return "postgres"
}

// placeholder returns the n-th (1-based) bind parameter.
func (d Dialect) placeholder(n int) string {
	if d == SQLite {
		return "?"
	}
	return "$" + strconv.Itoa(n)
}

func (d Dialect) placeholders(from, count int) string {
	ps := make([]string, count)
	for i := range ps {
		ps[i] = d.placeholder(from + i)
	}
	return strings.Join(ps, ", ")
}

var productColumns = []string{
	"user_id",
	"submission_id",
	"seq",
	"source_row",
	"original_product_name",
	"translated_product_name",
	"category",
	"subcategory",
	"price",
	"currency",
	"quantity",
	"receipt_date",
}

type Store struct {
	db      *sql.DB
	dialect Dialect
	name    string
	logger  *slog.Logger
	onClose func()
}

// New wraps an open database. name is the sink name reported in results.
func New(db *sql.DB, dialect Dialect, name string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if name == "" {
		name = dialect.String()
	}
	return &Store{db: db, dialect: dialect, name: name, logger: logger}
}

// OnClose registers a hook run after the database is closed, e.g. to close
// the pgx pool behind it.
func (s *Store) OnClose(fn func()) { s.onClose = fn }

func (s *Store) Name() string { return s.name }

func (s *Store) DB() *sql.DB { return s.db }

// Migrate creates the users and products tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema(s.dialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return common.NewAppError("DB_ERROR", "migrate "+s.name, fmt.Errorf("%w: %v", common.ErrDatabase, err))
		}
	}
	s.logger.Info("sqlstore.migrated", "sink", s.name)
	return nil
}

// EnsureUser returns the account for identity, creating it on first use.
func (s *Store) EnsureUser(ctx context.Context, identity string) (entity.UserAccount, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return entity.UserAccount{}, common.NewAppError("DB_ERROR", "identity is required", common.ErrInvalidInput)
	}
	ins := fmt.Sprintf(`INSERT INTO users (identity, created_at) VALUES (%s, %s) ON CONFLICT (identity) DO NOTHING`,
		s.dialect.placeholder(1), s.dialect.placeholder(2))
	if _, err := s.db.ExecContext(ctx, ins, identity, time.Now().UTC()); err != nil {
		return entity.UserAccount{}, fmt.Errorf("%w: insert user: %v", common.ErrDatabase, err)
	}

	sel := fmt.Sprintf(`SELECT id, created_at FROM users WHERE identity = %s`, s.dialect.placeholder(1))
	var (
		id      int64
		created scanTime
	)
	if err := s.db.QueryRowContext(ctx, sel, identity).Scan(&id, &created); err != nil {
		return entity.UserAccount{}, fmt.Errorf("%w: select user: %v", common.ErrDatabase, err)
	}
	return entity.UserAccount{
		ID:        strconv.FormatInt(id, 10),
		Identity:  identity,
		CreatedAt: created.Time,
	}, nil
}

// AppendLineItems inserts every item in one transaction.
func (s *Store) AppendLineItems(ctx context.Context, user entity.UserAccount, items []entity.ExpandedLineItem) error {
	if len(items) == 0 {
		return nil
	}
	userID, err := strconv.ParseInt(user.ID, 10, 64)
	if err != nil {
		return common.NewAppError("DB_ERROR", "user id "+user.ID+" is not numeric", common.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", common.ErrDatabase, err)
	}
	defer func() {
		// no-op after commit
		_ = tx.Rollback()
	}()

	q := fmt.Sprintf(`INSERT INTO products (%s) VALUES (%s)`,
		strings.Join(productColumns, ", "), s.dialect.placeholders(1, len(productColumns)))
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("%w: prepare: %v", common.ErrDatabase, err)
	}
	defer stmt.Close()

	for _, it := range items {
		if _, err := stmt.ExecContext(ctx,
			userID,
			it.SubmissionID.String(),
			it.Seq,
			it.SourceRow,
			it.OriginalName,
			it.TranslatedName,
			it.Category,
			it.Subcategory,
			it.UnitPrice.StringFixed(2),
			it.Currency,
			it.Quantity,
			dateOrNil(it.ReceiptDate),
		); err != nil {
			return fmt.Errorf("%w: insert item %d: %v", common.ErrDatabase, it.Seq, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", common.ErrDatabase, err)
	}
	s.logger.Debug("sqlstore.appended", "sink", s.name, "user_id", userID, "items", len(items))
	return nil
}

func (s *Store) Close() error {
	err := s.db.Close()
	if s.onClose != nil {
		s.onClose()
	}
	return err
}

func dateOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format("2006-01-02")
}

// scanTime accepts the timestamp shapes different drivers hand back.
type scanTime struct{ time.Time }

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05",
}

func (t *scanTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
}

func (t *scanTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}
