package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"example.com/habits/internal/auth"
	"example.com/habits/internal/domain"
	"example.com/habits/internal/identity"
	"example.com/habits/internal/logging"
	"example.com/habits/internal/persistence/sqlite"
	"example.com/habits/internal/testsupport"
)

var tokens = auth.Config{Secret: "test-secret", Issuer: "habits.test", TTL: auth.DefaultTTL}

// Monday, 8 January 2024.
var monday = testsupport.Date(2024, time.January, 8)

type stubProvider struct {
	profile identity.Profile
	err     error
}

func (s stubProvider) FetchProfile(context.Context, string) (identity.Profile, error) {
	return s.profile, s.err
}

type fixture struct {
	mux      *http.ServeMux
	store    *sqlite.Store
	owner    domain.User
	token    string
	provider *stubProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := testsupport.NewSQLiteStore(t)
	owner := testsupport.CreateUser(t, store, "google-owner")
	token, err := auth.Sign(tokens, owner.ID, owner.Name, owner.AvatarURL, time.Now())
	require.NoError(t, err)

	provider := &stubProvider{profile: identity.Profile{
		ID:        "google-ada",
		Email:     "ada@example.com",
		Name:      "Ada Lovelace",
		AvatarURL: "https://example.com/ada.png",
	}}

	habits := domain.NewService(store, domain.WithClock(testsupport.FixedClock(monday.Add(9*time.Hour))))
	identities := identity.NewService(provider, store, tokens)
	handler := NewHandler(habits, identities, auth.NewMiddleware(tokens), logging.Discard())

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	return &fixture{mux: mux, store: store, owner: owner, token: token, provider: provider}
}

func (f *fixture) do(t *testing.T, method, target, body, token string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)
	return rr
}

func (f *fixture) createHabit(t *testing.T, body string) HabitView {
	t.Helper()

	before := map[string]bool{}
	for _, h := range f.listHabits(t) {
		before[h.ID] = true
	}

	rr := f.do(t, http.MethodPost, "/habits/create", body, f.token)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	for _, h := range f.listHabits(t) {
		if !before[h.ID] {
			return h
		}
	}
	t.Fatal("created habit is not listed")
	return HabitView{}
}

func (f *fixture) listHabits(t *testing.T) []HabitView {
	t.Helper()

	rr := f.do(t, http.MethodGet, "/", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var habits []HabitView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &habits))
	return habits
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestCreateAndListHabits(t *testing.T) {
	f := newFixture(t)

	require.Empty(t, f.listHabits(t))

	habit := f.createHabit(t, `{"title":"Read","weekDays":[5,1,3]}`)
	require.Equal(t, "Read", habit.Title)
	require.Equal(t, f.owner.ID, habit.OwnerID)
	require.Equal(t, []int{1, 3, 5}, habit.WeekDays)
	require.True(t, habit.CreatedAt.Equal(monday))

	rr := f.do(t, http.MethodGet, "/", "", "")
	require.Contains(t, rr.Body.String(), `"created_at":"2024-01-08T00:00:00Z"`)
}

func TestCreateHabitRequiresToken(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/habits/create", `{"title":"Read","weekDays":[1]}`, "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Empty(t, f.listHabits(t))
}

func TestCreateHabitRejectsBadPayloads(t *testing.T) {
	f := newFixture(t)

	cases := map[string]struct {
		body   string
		status int
		kind   string
	}{
		"malformed json":   {body: `{"title":`, status: http.StatusBadRequest, kind: "invalid_request"},
		"missing title":    {body: `{"weekDays":[1]}`, status: http.StatusBadRequest, kind: "validation_failed"},
		"missing weekDays": {body: `{"title":"Read"}`, status: http.StatusBadRequest, kind: "validation_failed"},
		"weekday too big":  {body: `{"title":"Read","weekDays":[7]}`, status: http.StatusBadRequest, kind: "validation_failed"},
		"negative weekday": {body: `{"title":"Read","weekDays":[-1]}`, status: http.StatusBadRequest, kind: "validation_failed"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rr := f.do(t, http.MethodPost, "/habits/create", tc.body, f.token)
			require.Equal(t, tc.status, rr.Code)
			body := decode[errorBody](t, rr)
			require.Equal(t, tc.kind, body.Type)
			if tc.kind == "validation_failed" {
				require.NotEmpty(t, body.Errors)
			}
		})
	}
	require.Empty(t, f.listHabits(t))
}

func TestDayScenario(t *testing.T) {
	f := newFixture(t)
	habit := f.createHabit(t, `{"title":"Read","weekDays":[1,3,5]}`)

	rr := f.do(t, http.MethodGet, "/day?date=2024-01-08T00:00:00.000Z", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	day := decode[DayResponse](t, rr)
	require.Len(t, day.PossibleHabits, 1)
	require.Equal(t, habit.ID, day.PossibleHabits[0].ID)
	require.Equal(t, []string{}, day.CompletedHabits)
	require.Contains(t, rr.Body.String(), `"completedHabits":[]`)

	// Tuesday is not scheduled.
	rr = f.do(t, http.MethodGet, "/day?date=2024-01-09", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Empty(t, decode[DayResponse](t, rr).PossibleHabits)
}

func TestDayRequiresValidDate(t *testing.T) {
	f := newFixture(t)

	for _, target := range []string{"/day", "/day?date=yesterday", "/day?date=20240108"} {
		rr := f.do(t, http.MethodGet, target, "", "")
		require.Equal(t, http.StatusBadRequest, rr.Code, target)
		body := decode[errorBody](t, rr)
		require.Equal(t, "validation_failed", body.Type)
		require.Equal(t, "date", body.Errors[0].Field)
	}
}

func TestToggleAndSummary(t *testing.T) {
	f := newFixture(t)
	read := f.createHabit(t, `{"title":"Read","weekDays":[1,3,5]}`)
	f.createHabit(t, `{"title":"Walk","weekDays":[1]}`)

	rr := f.do(t, http.MethodPatch, "/habits/"+read.ID+"/toggle", "", f.token)
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())

	day := decode[DayResponse](t, f.do(t, http.MethodGet, "/day?date=2024-01-08", "", ""))
	require.Equal(t, []string{read.ID}, day.CompletedHabits)

	rr = f.do(t, http.MethodGet, "/summary", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	summary := decode[[]SummaryItem](t, rr)
	require.Len(t, summary, 1)
	require.True(t, summary[0].Date.Equal(monday))
	require.Equal(t, 1, summary[0].Completed)
	require.Equal(t, 2, summary[0].Amount)
	require.NotEmpty(t, summary[0].ID)

	rr = f.do(t, http.MethodPatch, "/habits/"+read.ID+"/toggle?date=2024-01-08", "", f.token)
	require.Equal(t, http.StatusNoContent, rr.Code)

	day = decode[DayResponse](t, f.do(t, http.MethodGet, "/day?date=2024-01-08", "", ""))
	require.Empty(t, day.CompletedHabits)

	summary = decode[[]SummaryItem](t, f.do(t, http.MethodGet, "/summary", "", ""))
	require.Len(t, summary, 1)
	require.Equal(t, 0, summary[0].Completed)
}

func TestToggleErrors(t *testing.T) {
	f := newFixture(t)
	read := f.createHabit(t, `{"title":"Read","weekDays":[1]}`)

	intruder := testsupport.CreateUser(t, f.store, "google-intruder")
	intruderToken, err := auth.Sign(tokens, intruder.ID, intruder.Name, "", time.Now())
	require.NoError(t, err)

	cases := map[string]struct {
		target string
		token  string
		status int
		kind   string
	}{
		"no token":     {target: "/habits/" + read.ID + "/toggle", status: http.StatusUnauthorized, kind: "unauthorized"},
		"not a uuid":   {target: "/habits/42/toggle", token: f.token, status: http.StatusBadRequest, kind: "validation_failed"},
		"unknown":      {target: "/habits/" + uuid.NewString() + "/toggle", token: f.token, status: http.StatusNotFound, kind: "not_found"},
		"someone else": {target: "/habits/" + read.ID + "/toggle", token: intruderToken, status: http.StatusForbidden, kind: "forbidden"},
		"bad date":     {target: "/habits/" + read.ID + "/toggle?date=nope", token: f.token, status: http.StatusBadRequest, kind: "validation_failed"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rr := f.do(t, http.MethodPatch, tc.target, "", tc.token)
			require.Equal(t, tc.status, rr.Code, rr.Body.String())
			require.Equal(t, tc.kind, decode[errorBody](t, rr).Type)
		})
	}

	require.Empty(t, decode[[]SummaryItem](t, f.do(t, http.MethodGet, "/summary", "", "")))
}

func TestMeReturnsTokenClaims(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/me", "", f.token)
	require.Equal(t, http.StatusOK, rr.Code)
	me := decode[MeResponse](t, rr)
	require.Equal(t, f.owner.ID, me.User.Subject)
	require.Equal(t, f.owner.Name, me.User.Name)
	require.Equal(t, f.owner.AvatarURL, me.User.AvatarURL)
	require.Equal(t, int64(auth.DefaultTTL/time.Second), me.User.ExpiresAt-me.User.IssuedAt)

	rr = f.do(t, http.MethodGet, "/me", "", "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestSignInIssuesUsableToken(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/users/inup", `{"access_token":"google-token"}`, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	first := decode[TokenResponse](t, rr)
	require.NotEmpty(t, first.Token)

	me := decode[MeResponse](t, f.do(t, http.MethodGet, "/me", "", first.Token))
	require.Equal(t, "Ada Lovelace", me.User.Name)

	// Signing in again resolves to the same user.
	second := decode[TokenResponse](t, f.do(t, http.MethodPost, "/users/inup", `{"access_token":"google-token"}`, ""))
	again := decode[MeResponse](t, f.do(t, http.MethodGet, "/me", "", second.Token))
	require.Equal(t, me.User.Subject, again.User.Subject)
}

func TestSignInErrors(t *testing.T) {
	cases := map[string]struct {
		body        string
		providerErr error
		status      int
		kind        string
	}{
		"missing token":   {body: `{}`, status: http.StatusBadRequest, kind: "validation_failed"},
		"malformed json":  {body: `not json`, status: http.StatusBadRequest, kind: "invalid_request"},
		"rejected":        {body: `{"access_token":"expired"}`, providerErr: &identity.UpstreamStatusError{Status: http.StatusUnauthorized}, status: http.StatusBadGateway, kind: "upstream_auth_failed"},
		"invalid profile": {body: `{"access_token":"weird"}`, providerErr: identity.ErrInvalidUpstreamResponse, status: http.StatusBadGateway, kind: "invalid_upstream_response"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.provider.err = tc.providerErr

			rr := f.do(t, http.MethodPost, "/users/inup", tc.body, "")
			require.Equal(t, tc.status, rr.Code, rr.Body.String())
			require.Equal(t, tc.kind, decode[errorBody](t, rr).Type)

			user, err := f.store.FindUserByProviderID(context.Background(), "google-ada")
			require.NoError(t, err)
			require.Nil(t, user)
		})
	}
}

func TestRoutesRejectWrongMethods(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/habits/create", "", f.token)
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = f.do(t, http.MethodGet, "/nowhere", "", "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(t, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}
