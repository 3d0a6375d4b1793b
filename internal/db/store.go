package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	_ "github.com/marcboeker/go-duckdb"

	"github.com/brensch/docingest/internal/models"
)

// Dialect is the SQL flavour behind a Store.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectDuckDB   Dialect = "duckdb"
)

const (
	pingTimeout  = 5 * time.Second
	pageRowBatch = 1000
	pgUniqueCode = "23505"
)

var (
	// ErrDuplicate means a document with the same source file already exists.
	ErrDuplicate = errors.New("document already exists")
	// ErrUnknownDSN is returned when the connection string matches no dialect.
	ErrUnknownDSN = errors.New("unrecognised store connection string")
)

// ParseDSN picks the driver for a connection string. Postgres URLs and
// key/value strings go to lib/pq; duckdb:// URLs, *.duckdb / *.db paths and
// :memory: go to DuckDB.
func ParseDSN(dsn string) (Dialect, string, error) {
	d := strings.TrimSpace(dsn)
	lower := strings.ToLower(d)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return DialectPostgres, d, nil
	case strings.HasPrefix(lower, "duckdb://"):
		path := d[len("duckdb://"):]
		if path == ":memory:" {
			path = ""
		}
		return DialectDuckDB, path, nil
	case lower == ":memory:":
		return DialectDuckDB, "", nil
	case strings.HasSuffix(lower, ".duckdb"), strings.HasSuffix(lower, ".db"):
		return DialectDuckDB, d, nil
	case strings.Contains(lower, "host=") || strings.Contains(lower, "dbname="):
		return DialectPostgres, d, nil
	}
	return "", "", fmt.Errorf("%w: %q", ErrUnknownDSN, redact(d))
}

// Store is the document store. It is created once per command and closed
// once; callers share it explicitly.
type Store struct {
	db      *sql.DB
	dialect Dialect
	sb      sq.StatementBuilderType
	logger  *slog.Logger
}

// Open connects, verifies the connection and creates the schema. maxConns
// caps the pool; it should match the upload concurrency.
func Open(ctx context.Context, dsn string, maxConns int, logger *slog.Logger) (*Store, error) {
	dialect, source, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	if dialect == DialectDuckDB && source != "" {
		if err := os.MkdirAll(filepath.Dir(source), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	conn, err := sql.Open(string(dialect), source)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", dialect, err)
	}
	if maxConns > 0 {
		conn.SetMaxOpenConns(maxConns)
		conn.SetMaxIdleConns(maxConns)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping %s store: %w", dialect, err)
	}
	if err := InitializeSchema(ctx, conn, dialect); err != nil {
		conn.Close()
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Store connected.", slog.String("dialect", string(dialect)), slog.Int("max_conns", maxConns))
	return &Store{
		db:      conn,
		dialect: dialect,
		sb:      sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		logger:  logger,
	}, nil
}

// Close releases the connection pool. Safe on nil.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the pool for read-only tooling.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Dialect() Dialect { return s.dialect }

// InsertDocument stores a parsed document and its pages in one transaction.
// Pages are numbered from 1 in slice order. If the source file is already
// present, nothing is written and the existing id is returned with
// ErrDuplicate; a unique violation from a concurrent writer is reported the
// same way.
func (s *Store) InsertDocument(ctx context.Context, doc models.ParsedDocument) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	existsSQL, args, err := s.sb.Select("id").From("documents").Where(sq.Eq{"source_file": doc.SourceFile}).Limit(1).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build existence query: %w", err)
	}
	var existing int64
	switch err := tx.QueryRowContext(ctx, existsSQL, args...).Scan(&existing); {
	case err == nil:
		return existing, ErrDuplicate
	case !errors.Is(err, sql.ErrNoRows):
		return 0, fmt.Errorf("check existing document: %w", err)
	}

	insertSQL, args, err := s.sb.Insert("documents").
		Columns("source_file", "original_zip", "total_pages").
		Values(doc.SourceFile, doc.OriginalZip, len(doc.Pages)).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build document insert: %w", err)
	}
	var id int64
	if err := tx.QueryRowContext(ctx, insertSQL, args...).Scan(&id); err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicate
		}
		return 0, fmt.Errorf("insert document: %w", err)
	}

	for start := 0; start < len(doc.Pages); start += pageRowBatch {
		end := min(start+pageRowBatch, len(doc.Pages))
		ins := s.sb.Insert("pages").Columns("document_id", "page_number", "content_text")
		for i := start; i < end; i++ {
			ins = ins.Values(id, i+1, doc.Pages[i])
		}
		pagesSQL, args, err := ins.ToSql()
		if err != nil {
			return 0, fmt.Errorf("build page insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, pagesSQL, args...); err != nil {
			return 0, fmt.Errorf("insert pages %d-%d: %w", start+1, end, err)
		}
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicate
		}
		return 0, fmt.Errorf("commit document: %w", err)
	}
	return id, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueCode
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}

// DocumentBySource returns the stored document for a source file.
func (s *Store) DocumentBySource(ctx context.Context, sourceFile string) (models.Document, bool, error) {
	query, args, err := s.sb.Select("id", "source_file", "original_zip", "total_pages", "processed_at").
		From("documents").Where(sq.Eq{"source_file": sourceFile}).ToSql()
	if err != nil {
		return models.Document{}, false, err
	}
	var d models.Document
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&d.ID, &d.SourceFile, &d.OriginalZip, &d.TotalPages, &d.ProcessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Document{}, false, nil
	}
	if err != nil {
		return models.Document{}, false, fmt.Errorf("query document %q: %w", sourceFile, err)
	}
	return d, true, nil
}

// ListDocuments returns every document ordered by id.
func (s *Store) ListDocuments(ctx context.Context) ([]models.Document, error) {
	query, args, err := s.sb.Select("id", "source_file", "original_zip", "total_pages", "processed_at").
		From("documents").OrderBy("id").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.ID, &d.SourceFile, &d.OriginalZip, &d.TotalPages, &d.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

// ListPages returns pages ordered by document then page number. A zero
// documentID returns pages of every document.
func (s *Store) ListPages(ctx context.Context, documentID int64) ([]models.Page, error) {
	q := s.sb.Select("id", "document_id", "page_number", "content_text", "created_at").
		From("pages").OrderBy("document_id", "page_number")
	if documentID != 0 {
		q = q.Where(sq.Eq{"document_id": documentID})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pages: %w", err)
	}
	defer rows.Close()

	var out []models.Page
	for rows.Next() {
		var p models.Page
		if err := rows.Scan(&p.ID, &p.DocumentID, &p.PageNumber, &p.ContentText, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return out, nil
}

// Counts returns the number of stored documents and pages.
func (s *Store) Counts(ctx context.Context) (documents, pages int64, err error) {
	if err = s.db.QueryRowContext(ctx, "SELECT count(*) FROM documents").Scan(&documents); err != nil {
		return 0, 0, fmt.Errorf("count documents: %w", err)
	}
	if err = s.db.QueryRowContext(ctx, "SELECT count(*) FROM pages").Scan(&pages); err != nil {
		return 0, 0, fmt.Errorf("count pages: %w", err)
	}
	return documents, pages, nil
}

// redact hides a password in URL-style connection strings.
func redact(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if i := strings.Index(creds, ":"); i >= 0 {
		return dsn[:scheme+3] + creds[:i] + ":***" + dsn[at:]
	}
	return dsn
}
