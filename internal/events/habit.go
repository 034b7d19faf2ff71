// Package events defines the habit event payloads written to the outbox.
package events

import "time"

// Event types recorded in the outbox.
const (
	TypeHabitCreated           = "habit.created"
	TypeHabitCompletionToggled = "habit.completion_toggled"
)

// HabitCreated is emitted when a habit is stored.
type HabitCreated struct {
	HabitID   string    `json:"habit_id"`
	OwnerID   string    `json:"owner_id"`
	Title     string    `json:"title"`
	WeekDays  []int     `json:"week_days"`
	CreatedOn string    `json:"created_on"`
	CreatedAt time.Time `json:"created_at"`
}

// HabitCompletionToggled is emitted when a habit is completed or uncompleted for a day.
type HabitCompletionToggled struct {
	HabitID    string    `json:"habit_id"`
	DayID      string    `json:"day_id"`
	Date       string    `json:"date"`
	Completed  bool      `json:"completed"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Known reports whether eventType is one of the habit event types.
func Known(eventType string) bool {
	switch eventType {
	case TypeHabitCreated, TypeHabitCompletionToggled:
		return true
	}
	return false
}
