// Package testsupport provides fixtures shared by package tests.
package testsupport

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"example.com/habits/internal/domain"
	"example.com/habits/internal/persistence/sqlite"
)

// NewSQLiteStore opens an in-memory store that is closed when the test ends.
func NewSQLiteStore(t *testing.T) *sqlite.Store {
	t.Helper()

	store, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// CreateUser stores a user bound to providerID and returns it.
func CreateUser(t *testing.T, repo domain.UserRepository, providerID string) domain.User {
	t.Helper()

	user := domain.User{
		ID:         uuid.NewString(),
		ProviderID: providerID,
		Name:       "User " + providerID,
		Email:      providerID + "@example.com",
		AvatarURL:  "https://example.com/" + providerID + ".png",
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, repo.CreateUser(context.Background(), user))
	return user
}

// Date builds a canonical day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// FixedClock returns a clock frozen at t.
func FixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
