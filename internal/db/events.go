package db

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

const (
	eventBuffer       = 256
	eventWriteTimeout = 5 * time.Second
)

// FileEvent is one row of ingest_event_log.
type FileEvent struct {
	RunID     string
	Filename  string
	FileType  string
	Event     string
	Timestamp time.Time
	Message   string
	Duration  time.Duration // zero means not measured
}

// LogFileEvent inserts a single event record.
func (s *Store) LogFileEvent(ctx context.Context, ev FileEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	var durationMs sql.NullInt64
	if ev.Duration > 0 {
		durationMs = sql.NullInt64{Int64: ev.Duration.Milliseconds(), Valid: true}
	}
	query, args, err := s.sb.Insert("ingest_event_log").
		Columns("run_id", "filename", "filetype", "event", "event_timestamp", "message", "duration_ms").
		Values(ev.RunID, ev.Filename, ev.FileType, ev.Event, ev.Timestamp,
			sql.NullString{String: ev.Message, Valid: ev.Message != ""}, durationMs).
		ToSql()
	if err != nil {
		return fmt.Errorf("build event insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("log event '%s' for '%s': %w", ev.Event, ev.Filename, err)
	}
	return nil
}

// Recorder writes events from many goroutines through a single writer so
// that workers never wait on a store connection. A nil *Recorder discards
// everything, which lets dry runs and tests skip the store.
type Recorder struct {
	store  *Store
	runID  string
	logger *slog.Logger

	events chan FileEvent
	done   chan struct{}
	once   sync.Once
}

// NewRecorder starts the writer goroutine under a fresh run id.
func (s *Store) NewRecorder(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		store:  s,
		runID:  uuid.NewString(),
		logger: logger,
		events: make(chan FileEvent, eventBuffer),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer close(r.done)
	for ev := range r.events {
		ctx, cancel := context.WithTimeout(context.Background(), eventWriteTimeout)
		if err := r.store.LogFileEvent(ctx, ev); err != nil {
			r.logger.Warn("Failed to record event.", slog.String("event", ev.Event), slog.String("file", ev.Filename), "error", err)
		}
		cancel()
	}
}

// RunID identifies this run in the event log. Empty for a nil Recorder.
func (r *Recorder) RunID() string {
	if r == nil {
		return ""
	}
	return r.runID
}

// Record queues an event. It blocks only while the buffer is full.
func (r *Recorder) Record(filename, fileType, event, message string, d time.Duration) {
	if r == nil {
		return
	}
	r.events <- FileEvent{
		RunID:     r.runID,
		Filename:  filename,
		FileType:  fileType,
		Event:     event,
		Timestamp: time.Now().UTC(),
		Message:   message,
		Duration:  d,
	}
}

// Close flushes queued events and stops the writer. Record must not be
// called after Close.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		close(r.events)
		<-r.done
	})
}

// HistoryFilter narrows DisplayFileHistory.
type HistoryFilter struct {
	FileType string
	Event    string
	RunID    string
	Limit    int
}

// History returns event log rows, newest first.
func (s *Store) History(ctx context.Context, f HistoryFilter) ([]FileEvent, error) {
	q := s.sb.Select("run_id", "filename", "filetype", "event", "event_timestamp", "message", "duration_ms").
		From("ingest_event_log").
		OrderBy("event_timestamp DESC", "log_id DESC")
	if f.FileType != "" {
		q = q.Where(sq.Eq{"filetype": f.FileType})
	}
	if f.Event != "" {
		q = q.Where(sq.Eq{"event": f.Event})
	}
	if f.RunID != "" {
		q = q.Where(sq.Eq{"run_id": f.RunID})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build history query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query event log: %w", err)
	}
	defer rows.Close()

	var out []FileEvent
	for rows.Next() {
		var ev FileEvent
		var message sql.NullString
		var durationMs sql.NullInt64
		if err := rows.Scan(&ev.RunID, &ev.Filename, &ev.FileType, &ev.Event, &ev.Timestamp, &message, &durationMs); err != nil {
			return nil, fmt.Errorf("scan event log row: %w", err)
		}
		ev.Message = message.String
		if durationMs.Valid {
			ev.Duration = time.Duration(durationMs.Int64) * time.Millisecond
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event log rows: %w", err)
	}
	return out, nil
}

// DisplayFileHistory prints the event log as a table.
func (s *Store) DisplayFileHistory(ctx context.Context, w io.Writer, f HistoryFilter) error {
	events, err := s.History(ctx, f)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "--- Event Log History (Limit %d) ---\n", f.Limit)
	fmt.Fprintf(w, "%-50s | %-8s | %-12s | %-25s | %-10s | %s\n", "Filename", "Type", "Event", "Timestamp (UTC)", "DurationMS", "Message")
	fmt.Fprintln(w, strings.Repeat("-", 140))
	for _, ev := range events {
		durationStr := ""
		if ev.Duration > 0 {
			durationStr = fmt.Sprintf("%d", ev.Duration.Milliseconds())
		}
		fmt.Fprintf(w, "%-50s | %-8s | %-12s | %-25s | %-10s | %s\n",
			filepath.Base(ev.Filename), ev.FileType, ev.Event, ev.Timestamp.UTC().Format(time.RFC3339), durationStr, ev.Message)
	}
	fmt.Fprintf(w, "Displayed %d records.\n", len(events))
	return nil
}
