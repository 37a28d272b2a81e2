package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tazhate/memoalarm/internal/domain"
	"go.uber.org/zap"

	_ "github.com/mattn/go-sqlite3"
)

type Storage struct {
	db     *sql.DB
	logger *zap.SugaredLogger
	loc    *time.Location
	now    func() time.Time
}

func New(dbPath string, logger *zap.SugaredLogger) (*Storage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// one connection: statements run in call order
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Storage{
		db:     db,
		logger: logger,
		loc:    time.Local,
		now:    time.Now,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// SetLocation sets the zone used to interpret event dates.
func (s *Storage) SetLocation(loc *time.Location) {
	if loc != nil {
		s.loc = loc
	}
}

func (s *Storage) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			date TEXT NOT NULL,
			notification_time TEXT NOT NULL DEFAULT '08:00',
			is_notified INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_date ON events(date)`,
		`CREATE INDEX IF NOT EXISTS idx_events_is_notified ON events(is_notified)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

// === Events ===

const eventColumns = `id, title, date, notification_time, is_notified, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*domain.Event, error) {
	e := &domain.Event{}
	if err := row.Scan(&e.ID, &e.Title, &e.Date, &e.NotificationTime, &e.IsNotified, &e.CreatedAt); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Storage) queryEvents(ctx context.Context, query string, args ...any) ([]*domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetAll returns every stored event. Order is unspecified.
func (s *Storage) GetAll(ctx context.Context) ([]*domain.Event, error) {
	events, err := s.queryEvents(ctx, `SELECT `+eventColumns+` FROM events`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// GetByDatePrefix returns events whose date starts with prefix.
func (s *Storage) GetByDatePrefix(ctx context.Context, prefix string) ([]*domain.Event, error) {
	events, err := s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events WHERE date LIKE ? ESCAPE '\'`,
		escapeLike(prefix)+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("list events by date %q: %w", prefix, err)
	}
	return events, nil
}

func (s *Storage) Get(ctx context.Context, id string) (*domain.Event, error) {
	e, err := scanEvent(s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get event %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", id, err)
	}
	return e, nil
}

// Add fills defaults and stores e. A caller-supplied id is kept and an
// existing row with that id is overwritten, except that its notified flag
// and creation time stay.
func (s *Storage) Add(ctx context.Context, e domain.Event) (*domain.Event, error) {
	if e.ID == "" {
		e.ID = s.newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	e.Normalize()

	if err := s.put(ctx, &e); err != nil {
		return nil, fmt.Errorf("add event: %w", err)
	}
	return s.Get(ctx, e.ID)
}

// Update merges p onto the stored event. The id never changes.
func (s *Storage) Update(ctx context.Context, id string, p domain.EventPatch) (*domain.Event, error) {
	e, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	e.Apply(p)
	e.ID = id

	if err := s.put(ctx, e); err != nil {
		return nil, fmt.Errorf("update event %s: %w", id, err)
	}
	return e, nil
}

// Delete removes id. Removing a missing id is not an error.
func (s *Storage) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete event %s: %w", id, err)
	}
	return nil
}

func (s *Storage) MarkNotified(ctx context.Context, id string) (*domain.Event, error) {
	notified := true
	return s.Update(ctx, id, domain.EventPatch{IsNotified: &notified})
}

// ListPending returns events that are not yet notified and whose fire
// instant is strictly after now. Events with an unparseable date or time
// are skipped with a warning.
func (s *Storage) ListPending(ctx context.Context, now time.Time) ([]*domain.Event, error) {
	events, err := s.queryEvents(ctx, `SELECT `+eventColumns+` FROM events WHERE is_notified = 0`)
	if err != nil {
		return nil, fmt.Errorf("list pending events: %w", err)
	}

	pending := events[:0]
	for _, e := range events {
		at, err := e.FireAt(s.loc)
		if err != nil {
			s.logger.Warnw("skipping event with invalid timestamp", "id", e.ID, "date", e.Date, "time", e.NotificationTime, "err", err)
			continue
		}
		if at.After(now) {
			pending = append(pending, e)
		}
	}
	return pending, nil
}

// Clear removes every event.
func (s *Storage) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM events`); err != nil {
		return fmt.Errorf("clear events: %w", err)
	}
	return nil
}

func (s *Storage) put(ctx context.Context, e *domain.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, title, date, notification_time, is_notified, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			date = excluded.date,
			notification_time = excluded.notification_time,
			is_notified = MAX(events.is_notified, excluded.is_notified)`,
		e.ID, e.Title, e.Date, e.NotificationTime, e.IsNotified, e.CreatedAt,
	)
	return err
}

func (s *Storage) newID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("event-%d-%s", s.now().UnixMilli(), suffix)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// === Settings ===

// GetSetting returns the stored value for key and whether it exists.
func (s *Storage) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, true, nil
}

func (s *Storage) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}
