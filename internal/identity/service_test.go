package identity_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"example.com/habits/internal/auth"
	"example.com/habits/internal/domain"
	"example.com/habits/internal/identity"
	"example.com/habits/internal/observability"
	"example.com/habits/internal/testsupport"
)

var tokens = auth.Config{Secret: "test-secret", Issuer: "habits.test", TTL: auth.DefaultTTL}

type stubProvider struct {
	profile identity.Profile
	err     error
	calls   int
}

func (s *stubProvider) FetchProfile(context.Context, string) (identity.Profile, error) {
	s.calls++
	return s.profile, s.err
}

func adaProfile() identity.Profile {
	return identity.Profile{
		ID:        "google-ada",
		Email:     "ada@example.com",
		Name:      "Ada Lovelace",
		AvatarURL: "https://example.com/ada.png",
	}
}

func TestExchangeCreatesUserOnFirstLogin(t *testing.T) {
	ctx := context.Background()
	store := testsupport.NewSQLiteStore(t)
	provider := &stubProvider{profile: adaProfile()}
	service := identity.NewService(provider, store, tokens)

	createdBefore := testutil.ToFloat64(observability.IdentityExchangeCounter(observability.OutcomeCreated))

	session, err := service.Exchange(ctx, "google-token")
	require.NoError(t, err)
	require.True(t, session.Created)
	require.Equal(t, "google-ada", session.User.ProviderID)

	claims, err := auth.Parse(session.Token, tokens)
	require.NoError(t, err)
	require.Equal(t, session.User.ID, claims.Subject)
	require.Equal(t, "Ada Lovelace", claims.Name)
	require.Equal(t, "https://example.com/ada.png", claims.AvatarURL)
	require.WithinDuration(t, time.Now().Add(auth.DefaultTTL), claims.ExpiresAt, time.Minute)

	stored, err := store.FindUserByProviderID(ctx, "google-ada")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, session.User.ID, stored.ID)

	require.InDelta(t, createdBefore+1, testutil.ToFloat64(observability.IdentityExchangeCounter(observability.OutcomeCreated)), 0.0001)
}

func TestExchangeReusesExistingUser(t *testing.T) {
	ctx := context.Background()
	store := testsupport.NewSQLiteStore(t)
	provider := &stubProvider{profile: adaProfile()}
	service := identity.NewService(provider, store, tokens)

	first, err := service.Exchange(ctx, "google-token")
	require.NoError(t, err)

	// A changed provider profile does not refresh the stored user.
	provider.profile.Name = "Countess of Lovelace"
	second, err := service.Exchange(ctx, "google-token")
	require.NoError(t, err)
	require.False(t, second.Created)
	require.Equal(t, first.User.ID, second.User.ID)
	require.Equal(t, "Ada Lovelace", second.User.Name)

	claims, err := auth.Parse(second.Token, tokens)
	require.NoError(t, err)
	require.Equal(t, first.User.ID, claims.Subject)
}

func TestExchangeRejectsBlankToken(t *testing.T) {
	provider := &stubProvider{profile: adaProfile()}
	service := identity.NewService(provider, testsupport.NewSQLiteStore(t), tokens)

	_, err := service.Exchange(context.Background(), "  ")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "access_token", verr.Fields[0].Field)
	require.Zero(t, provider.calls)
}

func TestExchangeProviderFailuresCreateNothing(t *testing.T) {
	cases := map[string]error{
		"rejected": &identity.UpstreamStatusError{Status: 401},
		"invalid":  errors.Join(identity.ErrInvalidUpstreamResponse, errors.New("email is invalid")),
	}

	for name, providerErr := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := testsupport.NewSQLiteStore(t)
			service := identity.NewService(&stubProvider{err: providerErr}, store, tokens)

			_, err := service.Exchange(ctx, "google-token")
			require.ErrorIs(t, err, providerErr)

			user, err := store.FindUserByProviderID(ctx, "google-ada")
			require.NoError(t, err)
			require.Nil(t, user)
		})
	}
}

// racingUsers hides the first lookup so the insert collides with a user
// created by a concurrent login.
type racingUsers struct {
	domain.UserRepository
	hidden bool
}

func (r *racingUsers) FindUserByProviderID(ctx context.Context, providerID string) (*domain.User, error) {
	if !r.hidden {
		r.hidden = true
		return nil, nil
	}
	return r.UserRepository.FindUserByProviderID(ctx, providerID)
}

func TestExchangeRecoversFromConcurrentFirstLogin(t *testing.T) {
	ctx := context.Background()
	store := testsupport.NewSQLiteStore(t)
	winner := testsupport.CreateUser(t, store, "google-ada")

	service := identity.NewService(&stubProvider{profile: adaProfile()}, &racingUsers{UserRepository: store}, tokens)

	session, err := service.Exchange(ctx, "google-token")
	require.NoError(t, err)
	require.False(t, session.Created)
	require.Equal(t, winner.ID, session.User.ID)
}
