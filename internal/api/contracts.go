package api

import (
	"fmt"
	"strings"
	"time"

	"example.com/habits/internal/auth"
	"example.com/habits/internal/domain"
)

// CreateHabitRequest is the payload for POST /habits/create.
type CreateHabitRequest struct {
	Title    string `json:"title"`
	WeekDays []int  `json:"weekDays"`
}

// Validate ensures request correctness.
func (r CreateHabitRequest) Validate() error {
	verr := &domain.ValidationError{}
	if strings.TrimSpace(r.Title) == "" {
		verr.Add("title", "is required")
	}
	if r.WeekDays == nil {
		verr.Add("weekDays", "is required")
	}
	for _, d := range r.WeekDays {
		if d < 0 || d > 6 {
			verr.Add("weekDays", fmt.Sprintf("%d is not a weekday between 0 and 6", d))
			break
		}
	}
	return verr.OrNil()
}

// ExchangeRequest is the payload for POST /users/inup.
type ExchangeRequest struct {
	AccessToken string `json:"access_token"`
}

// Validate ensures request correctness.
func (r ExchangeRequest) Validate() error {
	if strings.TrimSpace(r.AccessToken) == "" {
		return domain.Invalid("access_token", "is required")
	}
	return nil
}

// HabitView is the JSON shape of a habit.
type HabitView struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"created_at"`
	WeekDays  []int     `json:"weekDays"`
}

// DayResponse answers GET /day.
type DayResponse struct {
	PossibleHabits  []HabitView `json:"possibleHabits"`
	CompletedHabits []string    `json:"completedHabits"`
}

// SummaryItem is one day of GET /summary.
type SummaryItem struct {
	ID        string    `json:"id"`
	Date      time.Time `json:"date"`
	Completed int       `json:"completed"`
	Amount    int       `json:"amount"`
}

// SessionView mirrors the verified session token payload.
type SessionView struct {
	Subject   string `json:"sub"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// MeResponse answers GET /me.
type MeResponse struct {
	User SessionView `json:"user"`
}

// TokenResponse answers POST /users/inup.
type TokenResponse struct {
	Token string `json:"token"`
}

func toHabitView(h domain.Habit) HabitView {
	weekDays := h.WeekDays
	if weekDays == nil {
		weekDays = []int{}
	}
	return HabitView{
		ID:        h.ID,
		Title:     h.Title,
		OwnerID:   h.OwnerID,
		CreatedAt: h.CreatedOn,
		WeekDays:  weekDays,
	}
}

func toHabitViews(habits []domain.Habit) []HabitView {
	out := make([]HabitView, 0, len(habits))
	for _, h := range habits {
		out = append(out, toHabitView(h))
	}
	return out
}

func toSessionView(c *auth.Claims) SessionView {
	return SessionView{
		Subject:   c.Subject,
		Name:      c.Name,
		AvatarURL: c.AvatarURL,
		IssuedAt:  c.IssuedAt.Unix(),
		ExpiresAt: c.ExpiresAt.Unix(),
	}
}
