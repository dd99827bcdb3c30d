package store

import (
	"context"

	"loopline/internal/models"
	"loopline/internal/observability"
	"loopline/internal/session"
)

// Auth operations.
const (
	OpLogin    = "login"
	OpRegister = "register"
	OpLogout   = "logout"
	OpLoadUser = "load_user"
)

// AuthStore is the only writer of the session.
type AuthStore struct {
	Ops
	api     API
	session *session.Session
	log     *observability.StoreLogger
}

func NewAuthStore(api API, sess *session.Session) *AuthStore {
	return &AuthStore{api: api, session: sess, log: observability.NewStoreLogger("auth")}
}

// Login exchanges credentials for a token and loads the current user.
func (s *AuthStore) Login(ctx context.Context, creds models.Credentials) error {
	return s.run(ctx, s.log, OpLogin, func() error {
		var tok models.TokenResponse
		if err := s.api.Post(ctx, "/auth/login/", creds, &tok); err != nil {
			return err
		}
		return s.establish(ctx, tok.Key)
	})
}

// Register creates an account and logs it in.
func (s *AuthStore) Register(ctx context.Context, reg models.Registration) error {
	return s.run(ctx, s.log, OpRegister, func() error {
		if reg.Password1 != reg.Password2 {
			return models.NewValidationError("The two password fields didn't match.", map[string][]string{
				"password2": {"The two password fields didn't match."},
			})
		}
		var tok models.TokenResponse
		if err := s.api.Post(ctx, "/auth/registration/", reg, &tok); err != nil {
			return err
		}
		return s.establish(ctx, tok.Key)
	})
}

// UseToken adopts an externally issued token, as the test harness hands out.
func (s *AuthStore) UseToken(ctx context.Context, token string) error {
	return s.run(ctx, s.log, OpLogin, func() error {
		return s.establish(ctx, token)
	})
}

func (s *AuthStore) establish(ctx context.Context, token string) error {
	if token == "" {
		return models.NewMalformedError("Login response did not include a token.", nil)
	}
	if s.session.Authenticated() {
		s.session.Clear(ctx, session.ReasonUser)
	}
	if err := s.session.Establish(ctx, token); err != nil {
		return err
	}
	if err := s.fetchUser(ctx); err != nil {
		s.session.Clear(context.WithoutCancel(ctx), session.ReasonUser)
		return err
	}
	return nil
}

// LoadUser refreshes the current user.
func (s *AuthStore) LoadUser(ctx context.Context) error {
	return s.run(ctx, s.log, OpLoadUser, func() error {
		return s.fetchUser(ctx)
	})
}

func (s *AuthStore) fetchUser(ctx context.Context) error {
	var u models.User
	if err := s.api.Get(ctx, "/auth/user/", nil, &u); err != nil {
		return err
	}
	s.session.SetUser(u)
	return nil
}

// Rehydrate restores a persisted session at startup. It reports whether the
// process ends up authenticated.
func (s *AuthStore) Rehydrate(ctx context.Context) (bool, error) {
	found, err := s.session.Rehydrate(ctx)
	if err != nil || !found {
		return false, err
	}
	if err := s.LoadUser(ctx); err != nil {
		if models.IsAuth(err) {
			return false, nil
		}
		return true, err
	}
	return true, nil
}

// Logout tells the server best-effort and always clears local state.
func (s *AuthStore) Logout(ctx context.Context) error {
	return s.run(ctx, s.log, OpLogout, func() error {
		if s.session.Authenticated() {
			if err := s.api.Post(ctx, "/auth/logout/", nil, nil); err != nil {
				s.log.LogError(ctx, err, "server_logout")
			}
		}
		s.session.Clear(ctx, session.ReasonUser)
		return nil
	})
}

// ForceLogout is the gateway's response to a rejected credential.
func (s *AuthStore) ForceLogout(ctx context.Context) {
	s.session.ForceLogout(ctx)
}

// User returns the logged in user.
func (s *AuthStore) User() (models.User, bool) {
	return s.session.User()
}

func (s *AuthStore) Authenticated() bool {
	return s.session.Authenticated()
}
