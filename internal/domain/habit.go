package domain

import (
	"context"
	"time"
)

// Habit is a recurring task scheduled on a fixed set of weekdays.
type Habit struct {
	ID        string
	Title     string
	OwnerID   string
	CreatedOn time.Time
	WeekDays  []int
}

// ScheduledOn reports whether the habit is eligible on the given weekday.
func (h Habit) ScheduledOn(weekday int) bool {
	for _, d := range h.WeekDays {
		if d == weekday {
			return true
		}
	}
	return false
}

// Day is a calendar date that has been touched by at least one toggle.
type Day struct {
	ID   string
	Date time.Time
}

// Completion marks a habit as done on a day.
type Completion struct {
	ID      string
	DayID   string
	HabitID string
	Date    time.Time
}

// User is a local account bound to an identity provider subject.
type User struct {
	ID         string
	ProviderID string
	Name       string
	Email      string
	AvatarURL  string
	CreatedAt  time.Time
}

// DaySummary is the completion ratio of one day.
type DaySummary struct {
	DayID     string
	Date      time.Time
	Completed int
	Amount    int
}

// DayView combines the eligible habits of a date with the ones already done.
type DayView struct {
	Date            time.Time
	PossibleHabits  []Habit
	CompletedHabits []string
}

// HabitRepository persists habits and answers eligibility queries.
type HabitRepository interface {
	CreateHabit(ctx context.Context, habit Habit) error
	GetHabit(ctx context.Context, habitID string) (*Habit, error)
	ListHabits(ctx context.Context) ([]Habit, error)
	PossibleHabits(ctx context.Context, date time.Time, weekday int) ([]Habit, error)
	CountPossibleHabits(ctx context.Context, date time.Time, weekday int) (int, error)
}

// DayRepository persists days and completion records. CreateDay and
// CreateCompletion return ErrConflict when the unique key already exists.
type DayRepository interface {
	FindDay(ctx context.Context, date time.Time) (*Day, error)
	CreateDay(ctx context.Context, day Day) error
	ListDays(ctx context.Context) ([]Day, error)
	FindCompletion(ctx context.Context, dayID, habitID string) (*Completion, error)
	CreateCompletion(ctx context.Context, completion Completion) error
	DeleteCompletion(ctx context.Context, completion Completion) error
	CompletedHabitIDs(ctx context.Context, dayID string) ([]string, error)
	CountCompletions(ctx context.Context, dayID string) (int, error)
}

// UserRepository persists users keyed by provider id.
type UserRepository interface {
	FindUserByProviderID(ctx context.Context, providerID string) (*User, error)
	CreateUser(ctx context.Context, user User) error
}

// Repository is the full storage contract implemented by each backend.
type Repository interface {
	HabitRepository
	DayRepository
	UserRepository
}
