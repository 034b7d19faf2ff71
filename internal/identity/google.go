package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"net/url"
	"strings"
	"time"
)

// DefaultUserInfoURL is Google's OAuth2 userinfo endpoint.
const DefaultUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// maxProfileBytes caps how much of the provider response is read.
const maxProfileBytes = 1 << 20

// Profile is the verified subset of the provider's user information.
type Profile struct {
	ID        string
	Email     string
	Name      string
	AvatarURL string
}

// Provider exchanges an access token for a verified profile.
type Provider interface {
	FetchProfile(ctx context.Context, accessToken string) (Profile, error)
}

// GoogleProvider calls the Google userinfo endpoint.
type GoogleProvider struct {
	client *http.Client
	url    string
}

// NewGoogleProvider constructs a GoogleProvider. An empty endpoint uses
// DefaultUserInfoURL.
func NewGoogleProvider(endpoint string, timeout time.Duration) *GoogleProvider {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultUserInfoURL
	}
	return &GoogleProvider{
		client: &http.Client{Timeout: timeout},
		url:    endpoint,
	}
}

type userInfo struct {
	ID      *string `json:"id"`
	Email   *string `json:"email"`
	Name    *string `json:"name"`
	Picture *string `json:"picture"`
}

// FetchProfile performs a single, timeout-bounded userinfo request.
func (g *GoogleProvider) FetchProfile(ctx context.Context, accessToken string) (Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.url, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrUpstreamAuth, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrUpstreamAuth, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return Profile{}, &UpstreamStatusError{Status: resp.StatusCode}
	}

	var info userInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProfileBytes)).Decode(&info); err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrInvalidUpstreamResponse, err)
	}
	return info.validate()
}

func (u userInfo) validate() (Profile, error) {
	var problems []string

	if u.ID == nil || strings.TrimSpace(*u.ID) == "" {
		problems = append(problems, "id is required")
	}
	if u.Email == nil {
		problems = append(problems, "email is required")
	} else if _, err := mail.ParseAddress(*u.Email); err != nil {
		problems = append(problems, "email is invalid")
	}
	if u.Name == nil {
		problems = append(problems, "name is required")
	}
	if u.Picture == nil {
		problems = append(problems, "picture is required")
	} else if !isAbsoluteURL(*u.Picture) {
		problems = append(problems, "picture must be an absolute url")
	}

	if len(problems) > 0 {
		return Profile{}, fmt.Errorf("%w: %s", ErrInvalidUpstreamResponse, strings.Join(problems, ", "))
	}
	return Profile{ID: *u.ID, Email: *u.Email, Name: *u.Name, AvatarURL: *u.Picture}, nil
}

func isAbsoluteURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}

// UpstreamStatusError represents a non-successful provider response.
type UpstreamStatusError struct {
	Status int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("identity provider responded with status %d", e.Status)
}

// Unwrap classifies every rejected exchange as ErrUpstreamAuth.
func (e *UpstreamStatusError) Unwrap() error {
	return ErrUpstreamAuth
}
