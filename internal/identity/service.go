// Package identity bridges the external identity provider to local users
// and first-party session tokens.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/habits/internal/auth"
	"example.com/habits/internal/domain"
	"example.com/habits/internal/observability"
)

var (
	// ErrUpstreamAuth is returned when the provider rejects the token or cannot be reached.
	ErrUpstreamAuth = errors.New("identity provider rejected the access token")
	// ErrInvalidUpstreamResponse is returned when the provider profile has an unexpected shape.
	ErrInvalidUpstreamResponse = errors.New("identity provider returned an invalid profile")
)

// Session is the result of a successful exchange.
type Session struct {
	Token   string
	User    domain.User
	Created bool
}

// Service exchanges provider access tokens for session tokens.
type Service struct {
	provider Provider
	users    domain.UserRepository
	tokens   auth.Config
	now      func() time.Time
}

// NewService constructs a Service.
func NewService(provider Provider, users domain.UserRepository, tokens auth.Config) *Service {
	return &Service{provider: provider, users: users, tokens: tokens, now: time.Now}
}

// Exchange verifies accessToken with the provider, finds or creates the local
// user and issues a session token. Stored profile data is never refreshed.
func (s *Service) Exchange(ctx context.Context, accessToken string) (*Session, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, domain.Invalid("access_token", "is required")
	}

	profile, err := s.provider.FetchProfile(ctx, accessToken)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidUpstreamResponse):
			observability.RecordIdentityExchange(observability.OutcomeInvalid)
		default:
			observability.RecordIdentityExchange(observability.OutcomeRejected)
		}
		return nil, err
	}

	user, created, err := s.findOrCreate(ctx, profile)
	if err != nil {
		observability.RecordIdentityExchange(observability.OutcomeFailed)
		return nil, err
	}

	token, err := auth.Sign(s.tokens, user.ID, user.Name, user.AvatarURL, s.now())
	if err != nil {
		observability.RecordIdentityExchange(observability.OutcomeFailed)
		return nil, fmt.Errorf("sign session token: %w", err)
	}

	if created {
		observability.RecordIdentityExchange(observability.OutcomeCreated)
	} else {
		observability.RecordIdentityExchange(observability.OutcomeExisting)
	}
	return &Session{Token: token, User: *user, Created: created}, nil
}

func (s *Service) findOrCreate(ctx context.Context, profile Profile) (*domain.User, bool, error) {
	existing, err := s.users.FindUserByProviderID(ctx, profile.ID)
	if err != nil {
		return nil, false, fmt.Errorf("find user: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	user := domain.User{
		ID:         uuid.NewString(),
		ProviderID: profile.ID,
		Name:       profile.Name,
		Email:      profile.Email,
		AvatarURL:  profile.AvatarURL,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			return nil, false, fmt.Errorf("create user: %w", err)
		}
		// Lost a race with a concurrent first login.
		existing, err = s.users.FindUserByProviderID(ctx, profile.ID)
		if err != nil {
			return nil, false, fmt.Errorf("find user: %w", err)
		}
		if existing == nil {
			return nil, false, fmt.Errorf("create user: %w", domain.ErrConflict)
		}
		return existing, false, nil
	}
	return &user, true, nil
}
