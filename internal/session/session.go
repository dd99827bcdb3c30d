package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"loopline/internal/models"
	"loopline/internal/observability"
)

// Logout reasons recorded in metrics and passed to logout hooks.
const (
	ReasonUser              = "user"
	ReasonUnauthorized      = "unauthorized"
	ReasonCredentialRemoved = "credential_removed"
)

// Session is the single source of truth for whether requests are
// authenticated. Only the auth container writes it.
type Session struct {
	mu    sync.RWMutex
	store Store
	token string
	user  *models.User
	hooks []func(ctx context.Context, reason string)
}

// New creates an empty session backed by store.
func New(store Store) *Session {
	return &Session{store: store}
}

// Token returns the credential, or "" when logged out.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// User returns the current user once it has been loaded.
func (s *Session) User() (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return models.User{}, false
	}
	return *s.user, true
}

// UserID returns the current user's id, or 0.
func (s *Session) UserID() int64 {
	u, _ := s.User()
	return u.ID
}

func (s *Session) Authenticated() bool {
	return s.Token() != ""
}

// OnLogout registers fn to run after the session is cleared.
func (s *Session) OnLogout(fn func(ctx context.Context, reason string)) {
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

// Establish stores a freshly issued credential.
func (s *Session) Establish(ctx context.Context, token string) error {
	if token == "" {
		return models.ErrNoCredential
	}
	if err := s.store.Save(ctx, token); err != nil {
		return err
	}
	s.mu.Lock()
	s.token = token
	s.user = nil
	s.mu.Unlock()
	return nil
}

// SetUser records the profile of the authenticated user.
func (s *Session) SetUser(u models.User) {
	s.mu.Lock()
	s.user = &u
	s.mu.Unlock()
}

// Rehydrate loads a persisted credential at startup. It reports whether one
// was found.
func (s *Session) Rehydrate(ctx context.Context) (bool, error) {
	token, err := s.store.Load(ctx)
	if errors.Is(err, models.ErrNoCredential) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return true, nil
}

// Clear drops the credential and user, deletes the persisted copy and runs
// the logout hooks. Clearing an empty session does nothing.
func (s *Session) Clear(ctx context.Context, reason string) {
	s.mu.Lock()
	if s.token == "" && s.user == nil {
		s.mu.Unlock()
		return
	}
	s.token = ""
	s.user = nil
	hooks := append([]func(context.Context, string){}, s.hooks...)
	s.mu.Unlock()

	if err := s.store.Delete(ctx); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "failed to delete stored session",
			slog.String("error", err.Error()),
		)
	}
	observability.SessionLogouts.WithLabelValues(reason).Inc()
	for _, hook := range hooks {
		hook(ctx, reason)
	}
}

// ForceLogout clears the session after an authentication failure.
func (s *Session) ForceLogout(ctx context.Context) {
	s.Clear(context.WithoutCancel(ctx), ReasonUnauthorized)
}

// EnsureSession is the navigation guard: it fails with models.ErrNoCredential
// when logged out, and logs out when the persisted credential was removed by
// someone else.
func (s *Session) EnsureSession(ctx context.Context) error {
	if !s.Authenticated() {
		return models.ErrNoCredential
	}
	stored, err := s.store.Load(ctx)
	if errors.Is(err, models.ErrNoCredential) || (err == nil && stored != s.Token()) {
		s.Clear(ctx, ReasonCredentialRemoved)
		return models.ErrNoCredential
	}
	return err
}
