// Package api exposes HTTP handlers for the habit tracker.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"

	"example.com/habits/internal/auth"
	"example.com/habits/internal/domain"
	"example.com/habits/internal/identity"
	"example.com/habits/internal/observability"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 64 << 10

// Handler coordinates HTTP requests with the domain and identity services.
type Handler struct {
	habits   *domain.Service
	identity *identity.Service
	auth     auth.Middleware
	logger   *log.Logger
}

// NewHandler builds a Handler.
func NewHandler(habits *domain.Service, identities *identity.Service, authMiddleware auth.Middleware, logger *log.Logger) *Handler {
	return &Handler{habits: habits, identity: identities, auth: authMiddleware, logger: logger}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	h.handle(mux, "GET /{$}", "/", http.HandlerFunc(h.listHabits))
	h.handle(mux, "POST /habits/create", "/habits/create", h.auth.WrapFunc(h.createHabit))
	h.handle(mux, "PATCH /habits/{id}/toggle", "/habits/:id/toggle", h.auth.WrapFunc(h.toggleHabit))
	h.handle(mux, "GET /day", "/day", http.HandlerFunc(h.day))
	h.handle(mux, "GET /summary", "/summary", http.HandlerFunc(h.summary))
	h.handle(mux, "GET /me", "/me", h.auth.WrapFunc(h.me))
	h.handle(mux, "POST /users/inup", "/users/inup", http.HandlerFunc(h.signIn))
	mux.HandleFunc("GET /healthz", healthz)
}

func (h *Handler) handle(mux *http.ServeMux, pattern, route string, handler http.Handler) {
	mux.Handle(pattern, observability.InstrumentRoute(route, handler))
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) listHabits(w http.ResponseWriter, r *http.Request) {
	habits, err := h.habits.ListHabits(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toHabitViews(habits))
}

func (h *Handler) createHabit(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	var req CreateHabitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	habit, err := h.habits.CreateHabit(r.Context(), domain.CreateHabitInput{
		OwnerID:  claims.Subject,
		Title:    req.Title,
		WeekDays: req.WeekDays,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.logger.Info("habit created", "habit_id", habit.ID, "owner_id", habit.OwnerID)
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) toggleHabit(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	result, err := h.habits.Toggle(r.Context(), domain.ToggleInput{
		HabitID: r.PathValue("id"),
		UserID:  claims.Subject,
		Date:    r.URL.Query().Get("date"),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.logger.Debug("habit toggled", "habit_id", r.PathValue("id"), "day_id", result.DayID, "completed", result.Completed)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) day(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("date")
	if strings.TrimSpace(raw) == "" {
		h.writeServiceError(w, r, domain.Invalid("date", "is required"))
		return
	}

	view, err := h.habits.Day(r.Context(), raw)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	completed := view.CompletedHabits
	if completed == nil {
		completed = []string{}
	}
	writeJSON(w, http.StatusOK, DayResponse{
		PossibleHabits:  toHabitViews(view.PossibleHabits),
		CompletedHabits: completed,
	})
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	days, err := h.habits.Summary(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	items := make([]SummaryItem, 0, len(days))
	for _, d := range days {
		items = append(items, SummaryItem{ID: d.DayID, Date: d.Date, Completed: d.Completed, Amount: d.Amount})
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	writeJSON(w, http.StatusOK, MeResponse{User: toSessionView(claims)})
}

func (h *Handler) signIn(w http.ResponseWriter, r *http.Request) {
	var req ExchangeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	session, err := h.identity.Exchange(r.Context(), req.AccessToken)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if session.Created {
		h.logger.Info("user created", "user_id", session.User.ID)
	}
	writeJSON(w, http.StatusOK, TokenResponse{Token: session.Token})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return false
	}
	return true
}

// writeServiceError maps domain and identity errors onto HTTP responses.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Type: "validation_failed", Detail: verr.Error(), Errors: verr.Fields})
	case errors.Is(err, domain.ErrHabitNotFound):
		writeError(w, http.StatusNotFound, "not_found", "habit not found")
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", "habit belongs to another user")
	case errors.Is(err, identity.ErrInvalidUpstreamResponse):
		h.logger.Warn("identity provider returned an invalid profile", "err", err)
		writeError(w, http.StatusBadGateway, "invalid_upstream_response", identity.ErrInvalidUpstreamResponse.Error())
	case errors.Is(err, identity.ErrUpstreamAuth):
		h.logger.Warn("identity exchange rejected", "err", err)
		writeError(w, http.StatusBadGateway, "upstream_auth_failed", identity.ErrUpstreamAuth.Error())
	default:
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal server error")
	}
}

type errorBody struct {
	Type   string              `json:"type"`
	Detail string              `json:"detail"`
	Errors []domain.FieldError `json:"errors,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, errorBody{Type: code, Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
