// Package sqlite provides an embedded SQLite habit store for local
// development and tests. Dates are stored as YYYY-MM-DD text so that string
// comparison matches calendar order.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"example.com/habits/internal/calendar"
	"example.com/habits/internal/domain"
)

//go:embed schema.sql
var schema string

// Store implements domain.Repository on SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps :memory: databases alive and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// dsn enables foreign keys on every connection the pool opens.
func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)"
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

const selectHabits = `SELECT h.id, h.title, h.owner_id, h.created_on, COALESCE(group_concat(w.week_day), '')
        FROM habits h LEFT JOIN habit_week_days w ON w.habit_id = h.id`

const scheduledOn = `h.created_on <= ? AND EXISTS (
        SELECT 1 FROM habit_week_days x WHERE x.habit_id = h.id AND x.week_day = ?)`

// CreateHabit stores the habit and its weekdays in one transaction.
func (s *Store) CreateHabit(ctx context.Context, habit domain.Habit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO habits (id, title, owner_id, created_on) VALUES (?,?,?,?)`,
		habit.ID, habit.Title, habit.OwnerID, calendar.Key(habit.CreatedOn)); err != nil {
		return mapError(err)
	}
	for _, weekDay := range habit.WeekDays {
		if _, err := tx.ExecContext(ctx, `INSERT INTO habit_week_days (habit_id, week_day) VALUES (?,?)`, habit.ID, weekDay); err != nil {
			return mapError(err)
		}
	}
	return tx.Commit()
}

// GetHabit returns nil when the habit does not exist.
func (s *Store) GetHabit(ctx context.Context, habitID string) (*domain.Habit, error) {
	habits, err := s.queryHabits(ctx, selectHabits+` WHERE h.id = ? GROUP BY h.id`, habitID)
	if err != nil {
		return nil, err
	}
	if len(habits) == 0 {
		return nil, nil
	}
	return &habits[0], nil
}

// ListHabits returns all habits ordered by creation.
func (s *Store) ListHabits(ctx context.Context) ([]domain.Habit, error) {
	return s.queryHabits(ctx, selectHabits+` GROUP BY h.id ORDER BY h.created_on, h.id`)
}

// PossibleHabits returns habits created on or before date and scheduled on weekday.
func (s *Store) PossibleHabits(ctx context.Context, date time.Time, weekday int) ([]domain.Habit, error) {
	return s.queryHabits(ctx, selectHabits+` WHERE `+scheduledOn+` GROUP BY h.id ORDER BY h.created_on, h.id`,
		calendar.Key(date), weekday)
}

// CountPossibleHabits counts the habits PossibleHabits would return.
func (s *Store) CountPossibleHabits(ctx context.Context, date time.Time, weekday int) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM habits h WHERE `+scheduledOn, calendar.Key(date), weekday).Scan(&count)
	return count, err
}

func (s *Store) queryHabits(ctx context.Context, query string, args ...interface{}) ([]domain.Habit, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	habits := make([]domain.Habit, 0)
	for rows.Next() {
		var (
			habit             domain.Habit
			createdOn, joined string
		)
		if err := rows.Scan(&habit.ID, &habit.Title, &habit.OwnerID, &createdOn, &joined); err != nil {
			return nil, err
		}
		if habit.CreatedOn, err = calendar.FromKey(createdOn); err != nil {
			return nil, err
		}
		if habit.WeekDays, err = splitWeekDays(joined); err != nil {
			return nil, err
		}
		habits = append(habits, habit)
	}
	return habits, rows.Err()
}

// FindDay returns nil when no row exists for date.
func (s *Store) FindDay(ctx context.Context, date time.Time) (*domain.Day, error) {
	var day domain.Day
	err := s.db.QueryRowContext(ctx, `SELECT id FROM days WHERE date = ?`, calendar.Key(date)).Scan(&day.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	day.Date = date
	return &day, nil
}

// CreateDay inserts a day; a duplicate date yields domain.ErrConflict.
func (s *Store) CreateDay(ctx context.Context, day domain.Day) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO days (id, date) VALUES (?,?)`, day.ID, calendar.Key(day.Date))
	return mapError(err)
}

// ListDays returns every day ordered by date.
func (s *Store) ListDays(ctx context.Context) ([]domain.Day, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, date FROM days ORDER BY date`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	days := make([]domain.Day, 0)
	for rows.Next() {
		var (
			day domain.Day
			key string
		)
		if err := rows.Scan(&day.ID, &key); err != nil {
			return nil, err
		}
		if day.Date, err = calendar.FromKey(key); err != nil {
			return nil, err
		}
		days = append(days, day)
	}
	return days, rows.Err()
}

// FindCompletion returns nil when the habit is not completed on the day.
func (s *Store) FindCompletion(ctx context.Context, dayID, habitID string) (*domain.Completion, error) {
	var (
		c   domain.Completion
		key string
	)
	err := s.db.QueryRowContext(ctx, `SELECT dh.id, dh.day_id, dh.habit_id, d.date
        FROM day_habits dh JOIN days d ON d.id = dh.day_id
        WHERE dh.day_id = ? AND dh.habit_id = ?`, dayID, habitID).Scan(&c.ID, &c.DayID, &c.HabitID, &key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if c.Date, err = calendar.FromKey(key); err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateCompletion inserts a completion; a duplicate pair yields domain.ErrConflict.
func (s *Store) CreateCompletion(ctx context.Context, completion domain.Completion) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO day_habits (id, day_id, habit_id) VALUES (?,?,?)`,
		completion.ID, completion.DayID, completion.HabitID)
	return mapError(err)
}

// DeleteCompletion removes a completion record.
func (s *Store) DeleteCompletion(ctx context.Context, completion domain.Completion) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM day_habits WHERE id = ?`, completion.ID)
	return err
}

// CompletedHabitIDs lists habit ids completed on a day.
func (s *Store) CompletedHabitIDs(ctx context.Context, dayID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT habit_id FROM day_habits WHERE day_id = ? ORDER BY habit_id`, dayID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountCompletions counts completion records on a day.
func (s *Store) CountCompletions(ctx context.Context, dayID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM day_habits WHERE day_id = ?`, dayID).Scan(&count)
	return count, err
}

// FindUserByProviderID returns nil when no user is bound to providerID.
func (s *Store) FindUserByProviderID(ctx context.Context, providerID string) (*domain.User, error) {
	var (
		u         domain.User
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, provider_id, name, email, avatar_url, created_at FROM users WHERE provider_id = ?`, providerID).
		Scan(&u.ID, &u.ProviderID, &u.Name, &u.Email, &u.AvatarURL, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if u.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("invalid created_at for user %s: %w", u.ID, err)
	}
	return &u, nil
}

// CreateUser inserts a user; a duplicate provider id yields domain.ErrConflict.
func (s *Store) CreateUser(ctx context.Context, user domain.User) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO users (id, provider_id, name, email, avatar_url, created_at) VALUES (?,?,?,?,?,?)`,
		user.ID, user.ProviderID, user.Name, user.Email, user.AvatarURL, user.CreatedAt.UTC().Format(time.RFC3339Nano))
	return mapError(err)
}

func splitWeekDays(joined string) ([]int, error) {
	out := make([]int, 0, 7)
	if joined == "" {
		return out, nil
	}
	for _, part := range strings.Split(joined, ",") {
		d, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid week day %q: %w", part, err)
		}
		out = append(out, d)
	}
	sort.Ints(out)
	return out, nil
}

func mapError(err error) error {
	var sqliteErr *moderncsqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %v", domain.ErrConflict, err)
		}
	}
	return err
}
