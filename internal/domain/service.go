// Package domain defines the business logic for the habit tracker.
package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/habits/internal/calendar"
	"example.com/habits/internal/observability"
)

// maxDayAttempts bounds the find-or-create loop for a Day row.
const maxDayAttempts = 3

// Service orchestrates habit workflows.
type Service struct {
	repo Repository
	cal  calendar.Calendar
	now  func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithCalendar sets the calendar used to normalise dates.
func WithCalendar(cal calendar.Calendar) Option {
	return func(s *Service) { s.cal = cal }
}

// WithClock overrides the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService constructs a Service.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, cal: calendar.UTC(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateHabitInput captures the payload from the API layer.
type CreateHabitInput struct {
	OwnerID  string
	Title    string
	WeekDays []int
}

// CreateHabit stores a habit created today.
func (s *Service) CreateHabit(ctx context.Context, input CreateHabitInput) (*Habit, error) {
	verr := &ValidationError{}
	if strings.TrimSpace(input.Title) == "" {
		verr.Add("title", "is required")
	}
	for _, d := range input.WeekDays {
		if d < 0 || d > 6 {
			verr.Add("weekDays", fmt.Sprintf("%d is not a weekday between 0 and 6", d))
			break
		}
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	habit := Habit{
		ID:        uuid.NewString(),
		Title:     strings.TrimSpace(input.Title),
		OwnerID:   input.OwnerID,
		CreatedOn: s.cal.Today(s.now),
		WeekDays:  uniqueWeekDays(input.WeekDays),
	}

	if err := s.repo.CreateHabit(ctx, habit); err != nil {
		return nil, fmt.Errorf("create habit: %w", err)
	}
	observability.RecordHabitCreated()
	return &habit, nil
}

// ListHabits returns every habit.
func (s *Service) ListHabits(ctx context.Context) ([]Habit, error) {
	return s.repo.ListHabits(ctx)
}

// ParseDate normalises a raw request date.
func (s *Service) ParseDate(raw string) (time.Time, error) {
	date, err := s.cal.Parse(raw)
	if err != nil {
		return time.Time{}, Invalid("date", err.Error())
	}
	return date, nil
}

// PossibleHabits lists habits created on or before date and scheduled on its weekday.
func (s *Service) PossibleHabits(ctx context.Context, date time.Time) ([]Habit, error) {
	date = s.cal.Normalize(date)
	return s.repo.PossibleHabits(ctx, date, calendar.Weekday(date))
}

// CompletedHabitIDs lists habits marked done on date. A date without a Day
// row has no completions.
func (s *Service) CompletedHabitIDs(ctx context.Context, date time.Time) ([]string, error) {
	day, err := s.repo.FindDay(ctx, s.cal.Normalize(date))
	if err != nil {
		return nil, err
	}
	if day == nil {
		return []string{}, nil
	}
	return s.repo.CompletedHabitIDs(ctx, day.ID)
}

// Day answers both eligibility questions for a raw date.
func (s *Service) Day(ctx context.Context, rawDate string) (*DayView, error) {
	date, err := s.ParseDate(rawDate)
	if err != nil {
		return nil, err
	}

	possible, err := s.PossibleHabits(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("possible habits: %w", err)
	}
	completed, err := s.CompletedHabitIDs(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("completed habits: %w", err)
	}

	return &DayView{Date: date, PossibleHabits: possible, CompletedHabits: completed}, nil
}

// ToggleInput identifies the habit and day to flip. An empty Date means
// today. When UserID is set the habit must belong to that user.
type ToggleInput struct {
	HabitID string
	UserID  string
	Date    string
}

// ToggleResult reports the state after a toggle.
type ToggleResult struct {
	DayID     string
	Date      time.Time
	Completed bool
}

// Toggle flips the completion state of a habit on a day.
func (s *Service) Toggle(ctx context.Context, input ToggleInput) (*ToggleResult, error) {
	if _, err := uuid.Parse(input.HabitID); err != nil {
		return nil, Invalid("id", "must be a valid uuid")
	}

	habit, err := s.repo.GetHabit(ctx, input.HabitID)
	if err != nil {
		return nil, fmt.Errorf("load habit: %w", err)
	}
	if habit == nil {
		return nil, ErrHabitNotFound
	}
	if input.UserID != "" && habit.OwnerID != input.UserID {
		return nil, ErrForbidden
	}

	date := s.cal.Today(s.now)
	if strings.TrimSpace(input.Date) != "" {
		if date, err = s.ParseDate(input.Date); err != nil {
			return nil, err
		}
	}

	day, err := s.findOrCreateDay(ctx, date)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindCompletion(ctx, day.ID, habit.ID)
	if err != nil {
		return nil, fmt.Errorf("load completion: %w", err)
	}

	if existing != nil {
		existing.Date = day.Date
		if err := s.repo.DeleteCompletion(ctx, *existing); err != nil {
			return nil, fmt.Errorf("delete completion: %w", err)
		}
		observability.RecordToggle(false)
		return &ToggleResult{DayID: day.ID, Date: day.Date, Completed: false}, nil
	}

	completion := Completion{ID: uuid.NewString(), DayID: day.ID, HabitID: habit.ID, Date: day.Date}
	if err := s.repo.CreateCompletion(ctx, completion); err != nil && !errors.Is(err, ErrConflict) {
		return nil, fmt.Errorf("create completion: %w", err)
	}
	observability.RecordToggle(true)
	return &ToggleResult{DayID: day.ID, Date: day.Date, Completed: true}, nil
}

func (s *Service) findOrCreateDay(ctx context.Context, date time.Time) (*Day, error) {
	for attempt := 0; attempt < maxDayAttempts; attempt++ {
		day, err := s.repo.FindDay(ctx, date)
		if err != nil {
			return nil, fmt.Errorf("load day: %w", err)
		}
		if day != nil {
			return day, nil
		}

		created := Day{ID: uuid.NewString(), Date: date}
		err = s.repo.CreateDay(ctx, created)
		if err == nil {
			return &created, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("create day: %w", err)
		}
		observability.RecordDayConflict()
	}
	return nil, fmt.Errorf("create day %s: %w", calendar.Key(date), ErrConflict)
}

// Summary computes completed and possible counts for every stored day.
func (s *Service) Summary(ctx context.Context) ([]DaySummary, error) {
	days, err := s.repo.ListDays(ctx)
	if err != nil {
		return nil, fmt.Errorf("list days: %w", err)
	}

	out := make([]DaySummary, 0, len(days))
	for _, day := range days {
		completed, err := s.repo.CountCompletions(ctx, day.ID)
		if err != nil {
			return nil, fmt.Errorf("count completions: %w", err)
		}
		amount, err := s.repo.CountPossibleHabits(ctx, day.Date, calendar.Weekday(day.Date))
		if err != nil {
			return nil, fmt.Errorf("count possible habits: %w", err)
		}
		out = append(out, DaySummary{DayID: day.ID, Date: day.Date, Completed: completed, Amount: amount})
	}
	return out, nil
}

func uniqueWeekDays(days []int) []int {
	seen := make(map[int]struct{}, len(days))
	out := make([]int, 0, len(days))
	for _, d := range days {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Ints(out)
	return out
}
