// Package postgres provides the PostgreSQL-backed habit store.
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/habits/internal/calendar"
	"example.com/habits/internal/domain"
	"example.com/habits/internal/events"
)

//go:embed migrations/*.sql
var migrations embed.FS

const uniqueViolation = "23505"

// Repository provides Postgres-backed persistence for habits, days, users and outbox events.
type Repository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, now: time.Now}
}

// Migrate applies the embedded schema. Statements are idempotent.
func (r *Repository) Migrate(ctx context.Context) error {
	files, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, name := range files {
		body, err := migrations.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := r.pool.Exec(ctx, string(body)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

const selectHabits = `SELECT h.id, h.title, h.owner_id, h.created_on,
        COALESCE(array_agg(w.week_day ORDER BY w.week_day) FILTER (WHERE w.week_day IS NOT NULL), '{}'::int[])
        FROM habits h LEFT JOIN habit_week_days w ON w.habit_id = h.id`

const scheduledOn = `h.created_on <= $1 AND EXISTS (
        SELECT 1 FROM habit_week_days x WHERE x.habit_id = h.id AND x.week_day = $2)`

// CreateHabit stores the habit, its weekdays and a habit.created event in one transaction.
func (r *Repository) CreateHabit(ctx context.Context, habit domain.Habit) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	_, err = tx.Exec(ctx, `INSERT INTO habits (id, title, owner_id, created_on) VALUES ($1,$2,$3,$4)`,
		habit.ID, habit.Title, habit.OwnerID, habit.CreatedOn)
	if err != nil {
		return mapError(err)
	}

	for _, weekDay := range habit.WeekDays {
		if _, err = tx.Exec(ctx, `INSERT INTO habit_week_days (habit_id, week_day) VALUES ($1,$2)`, habit.ID, weekDay); err != nil {
			return mapError(err)
		}
	}

	err = insertOutbox(ctx, tx, "habit", habit.ID, events.TypeHabitCreated, events.HabitCreated{
		HabitID:   habit.ID,
		OwnerID:   habit.OwnerID,
		Title:     habit.Title,
		WeekDays:  habit.WeekDays,
		CreatedOn: calendar.Key(habit.CreatedOn),
		CreatedAt: r.now().UTC(),
	})
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GetHabit returns nil when the habit does not exist.
func (r *Repository) GetHabit(ctx context.Context, habitID string) (*domain.Habit, error) {
	habits, err := r.queryHabits(ctx, selectHabits+` WHERE h.id = $1 GROUP BY h.id`, habitID)
	if err != nil {
		return nil, err
	}
	if len(habits) == 0 {
		return nil, nil
	}
	return &habits[0], nil
}

// ListHabits returns all habits ordered by creation.
func (r *Repository) ListHabits(ctx context.Context) ([]domain.Habit, error) {
	return r.queryHabits(ctx, selectHabits+` GROUP BY h.id ORDER BY h.created_on, h.id`)
}

// PossibleHabits returns habits created on or before date and scheduled on weekday.
func (r *Repository) PossibleHabits(ctx context.Context, date time.Time, weekday int) ([]domain.Habit, error) {
	return r.queryHabits(ctx, selectHabits+` WHERE `+scheduledOn+` GROUP BY h.id ORDER BY h.created_on, h.id`, date, weekday)
}

// CountPossibleHabits counts the habits PossibleHabits would return.
func (r *Repository) CountPossibleHabits(ctx context.Context, date time.Time, weekday int) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM habits h WHERE `+scheduledOn, date, weekday).Scan(&count)
	return count, err
}

func (r *Repository) queryHabits(ctx context.Context, query string, args ...interface{}) ([]domain.Habit, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	habits := make([]domain.Habit, 0)
	for rows.Next() {
		var (
			habit    domain.Habit
			weekDays []int32
		)
		if err := rows.Scan(&habit.ID, &habit.Title, &habit.OwnerID, &habit.CreatedOn, &weekDays); err != nil {
			return nil, err
		}
		habit.CreatedOn = habit.CreatedOn.UTC()
		habit.WeekDays = make([]int, 0, len(weekDays))
		for _, d := range weekDays {
			habit.WeekDays = append(habit.WeekDays, int(d))
		}
		habits = append(habits, habit)
	}
	return habits, rows.Err()
}

// FindDay returns nil when no row exists for date.
func (r *Repository) FindDay(ctx context.Context, date time.Time) (*domain.Day, error) {
	var day domain.Day
	err := r.pool.QueryRow(ctx, `SELECT id, date FROM days WHERE date = $1`, date).Scan(&day.ID, &day.Date)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	day.Date = day.Date.UTC()
	return &day, nil
}

// CreateDay inserts a day; a duplicate date yields domain.ErrConflict.
func (r *Repository) CreateDay(ctx context.Context, day domain.Day) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO days (id, date) VALUES ($1,$2)`, day.ID, day.Date)
	return mapError(err)
}

// ListDays returns every day ordered by date.
func (r *Repository) ListDays(ctx context.Context) ([]domain.Day, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, date FROM days ORDER BY date`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	days := make([]domain.Day, 0)
	for rows.Next() {
		var day domain.Day
		if err := rows.Scan(&day.ID, &day.Date); err != nil {
			return nil, err
		}
		day.Date = day.Date.UTC()
		days = append(days, day)
	}
	return days, rows.Err()
}

// FindCompletion returns nil when the habit is not completed on the day.
func (r *Repository) FindCompletion(ctx context.Context, dayID, habitID string) (*domain.Completion, error) {
	var c domain.Completion
	err := r.pool.QueryRow(ctx, `SELECT dh.id, dh.day_id, dh.habit_id, d.date
        FROM day_habits dh JOIN days d ON d.id = dh.day_id
        WHERE dh.day_id = $1 AND dh.habit_id = $2`, dayID, habitID).Scan(&c.ID, &c.DayID, &c.HabitID, &c.Date)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.Date = c.Date.UTC()
	return &c, nil
}

// CreateCompletion records a completion and its event in one transaction.
func (r *Repository) CreateCompletion(ctx context.Context, completion domain.Completion) error {
	return r.toggleTx(ctx, completion, true, func(tx pgx.Tx) (pgconn.CommandTag, error) {
		return tx.Exec(ctx, `INSERT INTO day_habits (id, day_id, habit_id) VALUES ($1,$2,$3)`,
			completion.ID, completion.DayID, completion.HabitID)
	})
}

// DeleteCompletion removes a completion and records the event in one
// transaction. Deleting an already removed completion records nothing.
func (r *Repository) DeleteCompletion(ctx context.Context, completion domain.Completion) error {
	return r.toggleTx(ctx, completion, false, func(tx pgx.Tx) (pgconn.CommandTag, error) {
		return tx.Exec(ctx, `DELETE FROM day_habits WHERE id = $1`, completion.ID)
	})
}

func (r *Repository) toggleTx(ctx context.Context, completion domain.Completion, completed bool, write func(pgx.Tx) (pgconn.CommandTag, error)) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	tag, err := write(tx)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return tx.Rollback(ctx)
	}

	err = insertOutbox(ctx, tx, "habit", completion.HabitID, events.TypeHabitCompletionToggled, events.HabitCompletionToggled{
		HabitID:    completion.HabitID,
		DayID:      completion.DayID,
		Date:       calendar.Key(completion.Date),
		Completed:  completed,
		OccurredAt: r.now().UTC(),
	})
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CompletedHabitIDs lists habit ids completed on a day.
func (r *Repository) CompletedHabitIDs(ctx context.Context, dayID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT habit_id FROM day_habits WHERE day_id = $1 ORDER BY habit_id`, dayID)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// CountCompletions counts completion records on a day.
func (r *Repository) CountCompletions(ctx context.Context, dayID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM day_habits WHERE day_id = $1`, dayID).Scan(&count)
	return count, err
}

// FindUserByProviderID returns nil when no user is bound to providerID.
func (r *Repository) FindUserByProviderID(ctx context.Context, providerID string) (*domain.User, error) {
	var u domain.User
	err := r.pool.QueryRow(ctx, `SELECT id, provider_id, name, email, avatar_url, created_at FROM users WHERE provider_id = $1`, providerID).
		Scan(&u.ID, &u.ProviderID, &u.Name, &u.Email, &u.AvatarURL, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a user; a duplicate provider id yields domain.ErrConflict.
func (r *Repository) CreateUser(ctx context.Context, user domain.User) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO users (id, provider_id, name, email, avatar_url, created_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		user.ID, user.ProviderID, user.Name, user.Email, user.AvatarURL, user.CreatedAt)
	return mapError(err)
}

func insertOutbox(ctx context.Context, tx pgx.Tx, aggregateType, aggregateID, eventType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, partition_key, payload)
        VALUES ($1,$2,$3,$4,$5,$6)`

	_, err = tx.Exec(ctx, stmt, aggregateType, aggregateID, eventType, meta.Topic, aggregateID, body)
	return err
}

func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", domain.ErrConflict, pgErr.ConstraintName)
	}
	return err
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic string
}

// HabitEventsTopic receives every habit event.
const HabitEventsTopic = "habit_events"

var eventCatalog = map[string]EventMetadata{
	events.TypeHabitCreated:           {Topic: HabitEventsTopic},
	events.TypeHabitCompletionToggled: {Topic: HabitEventsTopic},
}
