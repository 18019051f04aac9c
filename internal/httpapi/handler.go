package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mystziel/OneQueue-PH/internal/auth"
	"github.com/mystziel/OneQueue-PH/internal/models"
	"github.com/mystziel/OneQueue-PH/internal/queue"
	"github.com/mystziel/OneQueue-PH/internal/session"
	"github.com/mystziel/OneQueue-PH/internal/store"
)

// QueueAPI is the slice of the queue service the public endpoints use.
type QueueAPI interface {
	IssueTicket(ctx context.Context, ownerName string) (models.Ticket, error)
	Waiting(ctx context.Context) ([]models.Ticket, error)
	ActiveCounters(ctx context.Context) ([]models.Counter, error)
	SetCounterActive(ctx context.Context, name string, active bool) error
}

// AuthAPI resolves accounts and tokens.
type AuthAPI interface {
	Register(ctx context.Context, email, password, role, counter string) (models.User, string, error)
	VerifyEmail(ctx context.Context, token string) (models.User, error)
	Login(ctx context.Context, email, password string) (models.Session, error)
	RequestPasswordReset(ctx context.Context, email string) (string, error)
	Logout(ctx context.Context, token string) error
	Authenticate(ctx context.Context, token string) (models.Session, error)
}

type Handler struct {
	queue    QueueAPI
	auth     AuthAPI
	sessions *session.Registry
	log      *zap.Logger
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(queueAPI QueueAPI, authAPI AuthAPI, sessions *session.Registry, log *zap.Logger) *Handler {
	return &Handler{queue: queueAPI, auth: authAPI, sessions: sessions, log: log}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/auth/register", h.handleRegister)
	mux.HandleFunc("/api/auth/verify", h.handleVerifyEmail)
	mux.HandleFunc("/api/auth/login", h.handleLogin)
	mux.HandleFunc("/api/auth/reset", h.handlePasswordReset)
	mux.HandleFunc("/api/auth/logout", h.handleLogout)
	mux.HandleFunc("/api/auth/me", h.handleMe)
	mux.HandleFunc("/api/tickets", h.handleTickets)
	mux.HandleFunc("/api/queue", h.handleQueue)
	mux.HandleFunc("/api/counters", h.handleCounters)
	mux.HandleFunc("/api/teller/call-next", h.tellerAction(h.handleCallNext))
	mux.HandleFunc("/api/teller/complete", h.tellerAction(h.handleComplete))
	mux.HandleFunc("/api/teller/cancel", h.tellerAction(h.handleCancel))
	mux.HandleFunc("/api/teller/transfer", h.tellerAction(h.handleTransfer))
	mux.HandleFunc("/api/teller/break", h.tellerAction(h.handleBreak))
	mux.HandleFunc("/api/teller/current", h.handleCurrent)
	mux.HandleFunc("/api/admin/counters", h.handleAdminCounters)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
	Counter  string `json:"counter"`
}

type registerResponse struct {
	User        models.User `json:"user"`
	VerifyToken string      `json:"verify_token"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req registerRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	// Open registration only creates citizens. Teller and admin accounts
	// are provisioned by an admin.
	role := strings.TrimSpace(req.Role)
	if role == models.RoleTeller || role == models.RoleAdmin {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "admin token required to assign a role")
			return
		}
		s, err := h.auth.Authenticate(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
			return
		}
		if s.Role != models.RoleAdmin {
			writeError(w, http.StatusForbidden, "forbidden", "admin role required to assign a role")
			return
		}
	}
	user, verifyToken, err := h.auth.Register(r.Context(), req.Email, req.Password, role, req.Counter)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	// The verify token normally travels by email; returning it keeps the
	// flow usable before a mailer is wired up.
	writeJSON(w, http.StatusCreated, registerResponse{User: user, VerifyToken: verifyToken})
}

func (h *Handler) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Token string `json:"token"`
	}
	if !decodeRequest(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "token is required")
		return
	}
	user, err := h.auth.VerifyEmail(r.Context(), strings.TrimSpace(req.Token))
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	Role      string `json:"role"`
	Counter   string `json:"counter,omitempty"`
	ExpiresAt string `json:"expires_at"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req loginRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	s, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     s.Token,
		Role:      s.Role,
		Counter:   s.Counter,
		ExpiresAt: s.ExpiresAt.Format(time.RFC3339),
	})
}

func (h *Handler) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Email string `json:"email"`
	}
	if !decodeRequest(w, r, &req) {
		return
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(req.Email)); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "a valid email is required")
		return
	}
	// Unknown accounts get the same answer as known ones.
	if _, err := h.auth.RequestPasswordReset(r.Context(), req.Email); err != nil && !errors.Is(err, store.ErrUserNotFound) {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	// Logout tears the teller session down too, releasing its
	// waiting-list subscription.
	h.sessions.Remove(token)
	if err := h.auth.Logout(r.Context(), token); err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type identityResponse struct {
	UserID  string `json:"user_id,omitempty"`
	Email   string `json:"email,omitempty"`
	Role    string `json:"role"`
	Counter string `json:"counter,omitempty"`
}

// handleMe reports who the caller is. An anonymous or expired token is
// not an error here; the caller is simply a citizen.
func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusOK, identityResponse{Role: models.RoleCitizen})
		return
	}
	s, err := h.auth.Authenticate(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusOK, identityResponse{Role: models.RoleCitizen})
		return
	}
	writeJSON(w, http.StatusOK, identityResponse{
		UserID:  s.UserID,
		Email:   s.Email,
		Role:    s.Role,
		Counter: s.Counter,
	})
}

type createTicketRequest struct {
	OwnerName string `json:"owner_name"`
}

func (h *Handler) handleTickets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req createTicketRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	ticket, err := h.queue.IssueTicket(r.Context(), strings.TrimSpace(req.OwnerName))
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	tickets, err := h.queue.Waiting(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, queue.Project(tickets))
}

func (h *Handler) handleCounters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	counters, err := h.queue.ActiveCounters(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, counters)
}

// tellerAction authenticates the bearer token, checks the teller role and
// resolves the caller's session controller before running the action.
func (h *Handler) tellerAction(action func(http.ResponseWriter, *http.Request, *session.Controller)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		controller, ok := h.resolveTeller(w, r)
		if !ok {
			return
		}
		action(w, r, controller)
	}
}

func (h *Handler) resolveTeller(w http.ResponseWriter, r *http.Request) (*session.Controller, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	s, err := h.auth.Authenticate(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
		return nil, false
	}
	if s.Role != models.RoleTeller && s.Role != models.RoleAdmin {
		writeError(w, http.StatusForbidden, "forbidden", "teller role required")
		return nil, false
	}
	if s.Counter == "" {
		writeError(w, http.StatusForbidden, "no_counter", "no counter assigned to this account")
		return nil, false
	}
	return h.sessions.GetOrCreate(token, s.Email, s.Counter), true
}

type servingResponse struct {
	Ticket  models.Ticket `json:"ticket"`
	Counter string        `json:"counter"`
	Elapsed string        `json:"elapsed"`
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request, controller *session.Controller) {
	ticket, found, err := controller.CallNext(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if !found {
		// An empty queue, including losing a claim race, is a normal
		// outcome rather than an error.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, servingResponse{Ticket: ticket, Counter: controller.Counter(), Elapsed: controller.Elapsed()})
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request, controller *session.Controller) {
	if err := controller.Complete(r.Context()); err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request, controller *session.Controller) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeRequest(w, r, &req) {
		return
	}
	if err := controller.Cancel(r.Context(), strings.TrimSpace(req.Reason)); err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request, controller *session.Controller) {
	var req struct {
		ToCounter string `json:"to_counter"`
	}
	if !decodeRequest(w, r, &req) {
		return
	}
	if err := controller.Transfer(r.Context(), strings.TrimSpace(req.ToCounter)); err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleBreak toggles the teller's own counter. An inactive counter stops
// receiving claims until the teller comes back.
func (h *Handler) handleBreak(w http.ResponseWriter, r *http.Request, controller *session.Controller) {
	var req struct {
		Active bool `json:"active"`
	}
	if !decodeRequest(w, r, &req) {
		return
	}
	if err := h.queue.SetCounterActive(r.Context(), controller.Counter(), req.Active); err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCurrent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	controller, ok := h.resolveTeller(w, r)
	if !ok {
		return
	}
	ticket, serving := controller.Current()
	if !serving {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, servingResponse{Ticket: ticket, Counter: controller.Counter(), Elapsed: controller.Elapsed()})
}

type counterUpdateRequest struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

func (h *Handler) handleAdminCounters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	s, err := h.auth.Authenticate(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
		return
	}
	if s.Role != models.RoleAdmin {
		writeError(w, http.StatusForbidden, "forbidden", "admin role required")
		return
	}
	var req counterUpdateRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}
	if err := h.queue.SetCounterActive(r.Context(), strings.TrimSpace(req.Name), req.Active); err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "ticket state does not allow this action"
	case errors.Is(err, store.ErrCounterMismatch):
		return http.StatusConflict, "counter_mismatch", "ticket assigned to a different counter"
	case errors.Is(err, store.ErrCounterNotFound):
		return http.StatusNotFound, "counter_not_found", "counter not found"
	case errors.Is(err, store.ErrCounterUnavailable):
		return http.StatusConflict, "counter_unavailable", "counter is not active"
	case errors.Is(err, store.ErrInvalidReason):
		return http.StatusBadRequest, "invalid_reason", "reason must be cancel or no_show"
	case errors.Is(err, store.ErrEmailTaken):
		return http.StatusConflict, "email_taken", "an account with this email already exists"
	case errors.Is(err, store.ErrEmailNotVerified):
		return http.StatusForbidden, "email_not_verified", "email address is not verified"
	case errors.Is(err, store.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials", "invalid email or password"
	case errors.Is(err, store.ErrTokenNotFound):
		return http.StatusNotFound, "token_not_found", "verification token not found"
	case errors.Is(err, store.ErrSessionNotFound), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "unauthorized", "invalid or expired token"
	case errors.Is(err, store.ErrUserNotFound):
		return http.StatusNotFound, "user_not_found", "user not found"
	case errors.Is(err, auth.ErrInvalidEmail):
		return http.StatusBadRequest, "invalid_request", "a valid email is required"
	case errors.Is(err, auth.ErrPasswordTooShort):
		return http.StatusBadRequest, "invalid_request", "password must be at least 8 characters"
	case errors.Is(err, session.ErrAlreadyServing):
		return http.StatusConflict, "already_serving", "finish the current ticket first"
	case errors.Is(err, session.ErrNotServing):
		return http.StatusConflict, "not_serving", "no ticket is being served"
	case errors.Is(err, session.ErrBusy):
		return http.StatusTooManyRequests, "busy", "previous request still in flight"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: responseError{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
