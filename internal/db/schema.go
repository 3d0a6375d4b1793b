package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Event names recorded in ingest_event_log.
const (
	EventStageStart = "stage_start"
	EventStageEnd   = "stage_end"
	EventOCREnd     = "ocr_end"
	EventSkipOCR    = "skip_ocr"
	EventUploadEnd  = "upload_end"
	EventSkipUpload = "skip_upload"
	EventError      = "error"
)

// File types recorded in ingest_event_log.
const (
	FileTypeArchive  = "archive"
	FileTypeFile     = "file"
	FileTypeDocument = "document"
)

const postgresSchemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
    id           BIGSERIAL PRIMARY KEY,
    source_file  TEXT NOT NULL UNIQUE,
    original_zip TEXT NOT NULL,
    total_pages  INTEGER NOT NULL,
    processed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS pages (
    id           BIGSERIAL PRIMARY KEY,
    document_id  BIGINT NOT NULL REFERENCES documents(id),
    page_number  INTEGER NOT NULL,
    content_text TEXT NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (document_id, page_number)
);
CREATE TABLE IF NOT EXISTS ingest_event_log (
    log_id          BIGSERIAL PRIMARY KEY,
    run_id          TEXT NOT NULL,
    filename        TEXT NOT NULL,
    filetype        TEXT NOT NULL,
    event           TEXT NOT NULL,
    event_timestamp TIMESTAMPTZ NOT NULL,
    message         TEXT,
    duration_ms     BIGINT
);
CREATE INDEX IF NOT EXISTS idx_ingest_event_log_file ON ingest_event_log (filename, filetype);
CREATE INDEX IF NOT EXISTS idx_ingest_event_log_event_time ON ingest_event_log (event, event_timestamp);
`

// DuckDB has no serial types; ids come from sequences.
const duckdbSequenceSQL = `
CREATE SEQUENCE IF NOT EXISTS documents_id_seq;
CREATE SEQUENCE IF NOT EXISTS pages_id_seq;
CREATE SEQUENCE IF NOT EXISTS ingest_event_log_id_seq;
`

const duckdbSchemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
    id           BIGINT PRIMARY KEY DEFAULT nextval('documents_id_seq'),
    source_file  VARCHAR NOT NULL UNIQUE,
    original_zip VARCHAR NOT NULL,
    total_pages  INTEGER NOT NULL,
    processed_at TIMESTAMP NOT NULL DEFAULT current_timestamp
);
CREATE TABLE IF NOT EXISTS pages (
    id           BIGINT PRIMARY KEY DEFAULT nextval('pages_id_seq'),
    document_id  BIGINT NOT NULL REFERENCES documents(id),
    page_number  INTEGER NOT NULL,
    content_text VARCHAR NOT NULL,
    created_at   TIMESTAMP NOT NULL DEFAULT current_timestamp,
    UNIQUE (document_id, page_number)
);
CREATE TABLE IF NOT EXISTS ingest_event_log (
    log_id          BIGINT PRIMARY KEY DEFAULT nextval('ingest_event_log_id_seq'),
    run_id          VARCHAR NOT NULL,
    filename        VARCHAR NOT NULL,
    filetype        VARCHAR NOT NULL,
    event           VARCHAR NOT NULL,
    event_timestamp TIMESTAMP NOT NULL,
    message         VARCHAR,
    duration_ms     BIGINT
);
CREATE INDEX IF NOT EXISTS idx_ingest_event_log_file ON ingest_event_log (filename, filetype);
CREATE INDEX IF NOT EXISTS idx_ingest_event_log_event_time ON ingest_event_log (event, event_timestamp);
`

// InitializeSchema creates the tables for the given dialect. It is safe to
// run against an existing schema.
func InitializeSchema(ctx context.Context, conn *sql.DB, dialect Dialect) error {
	var steps []string
	switch dialect {
	case DialectDuckDB:
		steps = []string{duckdbSequenceSQL, duckdbSchemaSQL}
	case DialectPostgres:
		steps = []string{postgresSchemaSQL}
	default:
		return fmt.Errorf("initialize schema: unknown dialect %q", dialect)
	}
	for _, stmt := range steps {
		if _, err := conn.ExecContext(ctx, stmt); err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
			return fmt.Errorf("initialize %s schema: %w", dialect, err)
		}
	}
	return nil
}
