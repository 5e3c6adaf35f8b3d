package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"storefront-service/internal/auth"
	"storefront-service/internal/upstream"
	"storefront-service/pkg/ctxmanage"
	"storefront-service/pkg/logkey"
)

// LoginResult carries either a new session or the upstream answer to relay to the caller.
type LoginResult struct {
	Session  *Session
	Token    string
	Upstream *upstream.Response
}

type Manager struct {
	store  Store
	keys   *auth.Keys
	social *upstream.Social
	ttl    time.Duration

	mu       sync.Mutex
	onLogout []func(ctx context.Context, sessionID string)
}

func NewManager(store Store, keys *auth.Keys, social *upstream.Social, ttl time.Duration) *Manager {
	return &Manager{store: store, keys: keys, social: social, ttl: ttl}
}

// OnLogout registers a hook run after a session is destroyed.
func (m *Manager) OnLogout(fn func(ctx context.Context, sessionID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLogout = append(m.onLogout, fn)
}

// Login verifies the OTP with the social API. A rejected OTP yields a result with only Upstream set.
func (m *Manager) Login(ctx context.Context, phone, otp string) (LoginResult, error) {
	resp, err := m.social.VerifyOtp(ctx, phone, otp)
	if err != nil {
		return LoginResult{}, err
	}
	tkn, err := upstream.SessionToken(resp)
	if err != nil {
		var se *upstream.StatusError
		if errors.As(err, &se) {
			return LoginResult{Upstream: resp}, nil
		}
		return LoginResult{}, err
	}

	now := time.Now()
	s := &Session{
		ID:            uuid.NewString(),
		UpstreamToken: tkn,
		LoginPhone:    upstream.NormalizePhone(phone),
		CreatedAt:     now,
		ExpiresAt:     now.Add(m.ttl),
	}

	user, err := m.social.UserDetails(ctx, tkn)
	if err != nil {
		slog.Warn("fetching user details after login failed", slog.String(logkey.TraceID, ctxmanage.GetTraceId(ctx)),
			slog.String(logkey.ERROR, err.Error()))
	}
	s.User = user

	if err := m.store.Save(ctx, s); err != nil {
		return LoginResult{}, err
	}
	jwtToken, err := m.keys.GenerateToken(s.ID, s.LoginPhone, m.ttl)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Session: s, Token: jwtToken, Upstream: resp}, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	return m.store.Get(ctx, id)
}

// RefreshUser reloads user details, e.g. after the user record was created.
func (m *Manager) RefreshUser(ctx context.Context, id string) (*Session, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	user, err := m.social.UserDetails(ctx, s.UpstreamToken)
	if err != nil {
		return nil, err
	}
	s.User = user
	if err := m.store.Save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (m *Manager) Logout(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	m.mu.Lock()
	hooks := append([]func(context.Context, string){}, m.onLogout...)
	m.mu.Unlock()
	for _, fn := range hooks {
		fn(ctx, id)
	}
	slog.Info("session logged out", slog.String(logkey.TraceID, ctxmanage.GetTraceId(ctx)), slog.String(logkey.SessionID, id))
	return nil
}
