// Package auth resolves who a request belongs to. It owns registration,
// login, email verification, password resets and logout, and it publishes
// auth state changes to observers so other components can react without
// polling.
package auth

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mystziel/OneQueue-PH/internal/models"
	"github.com/mystziel/OneQueue-PH/internal/store"
)

var ErrInvalidEmail = errors.New("invalid email address")

const (
	EventLogin    = "login"
	EventLogout   = "logout"
	EventRegister = "register"
)

// Event describes an auth state change delivered to observers.
type Event struct {
	Type   string
	UserID string
	Email  string
	Role   string
}

type Resolver struct {
	users    store.UserStore
	sessions store.SessionStore
	tokens   *TokenManager
	ttl      time.Duration
	clock    func() time.Time
	log      *zap.Logger

	mu        sync.Mutex
	observers map[int]func(Event)
	nextID    int
}

type Option func(*Resolver)

func WithClock(clock func() time.Time) Option {
	return func(r *Resolver) { r.clock = clock }
}

func New(users store.UserStore, sessions store.SessionStore, tokens *TokenManager, ttl time.Duration, log *zap.Logger, options ...Option) *Resolver {
	r := &Resolver{
		users:     users,
		sessions:  sessions,
		tokens:    tokens,
		ttl:       ttl,
		clock:     func() time.Time { return time.Now().UTC() },
		log:       log,
		observers: make(map[int]func(Event)),
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// Observe registers fn for auth state changes. The returned cancel func
// removes the observer; callers must invoke it when they stop caring, or
// the callback outlives them.
func (r *Resolver) Observe(fn func(Event)) (cancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.observers[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.observers, id)
	}
}

func (r *Resolver) notify(event Event) {
	r.mu.Lock()
	observers := make([]func(Event), 0, len(r.observers))
	for _, fn := range r.observers {
		observers = append(observers, fn)
	}
	r.mu.Unlock()
	for _, fn := range observers {
		fn(event)
	}
}

// Register creates a user account, defaulting the role to citizen. The
// returned token verifies the email address; it reaches the user out of
// band.
func (r *Resolver) Register(ctx context.Context, email, password, role, counter string) (models.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return models.User{}, "", ErrInvalidEmail
	}
	hash, err := HashPassword(password)
	if err != nil {
		return models.User{}, "", err
	}
	switch role {
	case models.RoleTeller, models.RoleAdmin:
	default:
		role = models.RoleCitizen
	}

	verifyToken := uuid.NewString()
	user, err := r.users.CreateUser(ctx, store.CreateUserInput{
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Counter:      counter,
		VerifyToken:  verifyToken,
		CreatedAt:    r.clock(),
	})
	if err != nil {
		return models.User{}, "", err
	}
	r.log.Info("user registered", zap.String("email", email), zap.String("role", role))
	r.notify(Event{Type: EventRegister, UserID: user.UserID, Email: user.Email, Role: user.Role})
	return user, verifyToken, nil
}

func (r *Resolver) VerifyEmail(ctx context.Context, token string) (models.User, error) {
	user, err := r.users.MarkEmailVerified(ctx, token)
	if err != nil {
		return models.User{}, err
	}
	r.log.Info("email verified", zap.String("email", user.Email))
	return user, nil
}

// Login checks the credentials and issues a bearer token backed by a
// server-side session. Unknown emails and wrong passwords both come back
// as ErrInvalidCredentials so the response leaks nothing.
func (r *Resolver) Login(ctx context.Context, email, password string) (models.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, hash, err := r.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return models.Session{}, store.ErrInvalidCredentials
		}
		return models.Session{}, err
	}
	if !CheckPassword(hash, password) {
		return models.Session{}, store.ErrInvalidCredentials
	}
	if !user.EmailVerified {
		return models.Session{}, store.ErrEmailNotVerified
	}

	now := r.clock()
	expiresAt := now.Add(r.ttl)
	token, err := r.tokens.Issue(user.UserID, user.Email, user.Role, now, expiresAt)
	if err != nil {
		return models.Session{}, err
	}
	session := models.Session{
		Token:     token,
		UserID:    user.UserID,
		Email:     user.Email,
		Role:      user.Role,
		Counter:   user.Counter,
		ExpiresAt: expiresAt,
	}
	if err := r.sessions.SaveSession(ctx, session); err != nil {
		return models.Session{}, err
	}
	r.log.Info("login", zap.String("email", user.Email), zap.String("role", user.Role))
	r.notify(Event{Type: EventLogin, UserID: user.UserID, Email: user.Email, Role: user.Role})
	return session, nil
}

// RequestPasswordReset records a reset token for the account. The token
// reaches the user out of band; unknown emails return ErrUserNotFound to
// the caller but handlers reply with 204 either way.
func (r *Resolver) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	token := uuid.NewString()
	if err := r.users.SetResetToken(ctx, email, token); err != nil {
		return "", err
	}
	r.log.Info("password reset requested", zap.String("email", email))
	return token, nil
}

// Logout revokes the session. Revoking an already-dead token is not an
// error.
func (r *Resolver) Logout(ctx context.Context, token string) error {
	session, err := r.sessions.GetSession(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return nil
		}
		return err
	}
	if err := r.sessions.DeleteSession(ctx, token); err != nil {
		return err
	}
	r.log.Info("logout", zap.String("email", session.Email))
	r.notify(Event{Type: EventLogout, UserID: session.UserID, Email: session.Email, Role: session.Role})
	return nil
}

// Authenticate resolves a bearer token to its live session. Both the
// signature and the server-side session must check out, so logout and
// expiry each kill the token.
func (r *Resolver) Authenticate(ctx context.Context, token string) (models.Session, error) {
	if _, err := r.tokens.Parse(token); err != nil {
		return models.Session{}, ErrInvalidToken
	}
	session, err := r.sessions.GetSession(ctx, token)
	if err != nil {
		return models.Session{}, err
	}
	if r.clock().After(session.ExpiresAt) {
		return models.Session{}, store.ErrSessionNotFound
	}
	return session, nil
}

// Role resolves the role behind a token, defaulting to citizen whenever
// the token is missing, malformed or revoked. Display surfaces call this
// so an anonymous viewer is just a citizen, never an error.
func (r *Resolver) Role(ctx context.Context, token string) string {
	if token == "" {
		return models.RoleCitizen
	}
	session, err := r.Authenticate(ctx, token)
	if err != nil {
		return models.RoleCitizen
	}
	switch session.Role {
	case models.RoleTeller, models.RoleAdmin:
		return session.Role
	default:
		return models.RoleCitizen
	}
}
