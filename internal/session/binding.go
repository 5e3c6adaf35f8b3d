package session

import (
	"context"
	"errors"
	"sync"

	"storefront-service/internal/upstream"
)

// Binding ties one checkout to whichever auth session is currently logged in for it.
// It is the token provider for the checkout's upstream calls.
type Binding struct {
	manager *Manager

	mu sync.RWMutex
	id string
}

func NewBinding(manager *Manager, sessionID string) *Binding {
	return &Binding{manager: manager, id: sessionID}
}

func (b *Binding) Attach(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.id = sessionID
}

func (b *Binding) SessionID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.id
}

func (b *Binding) current(ctx context.Context) (*Session, error) {
	id := b.SessionID()
	if id == "" {
		return nil, ErrNotFound
	}
	return b.manager.Get(ctx, id)
}

// Active reports false only when the bound session is known to be gone; a store error keeps the
// binding.
func (b *Binding) Active(ctx context.Context) bool {
	_, err := b.current(ctx)
	return !errors.Is(err, ErrNotFound)
}

func (b *Binding) IsAuthenticated(ctx context.Context) bool {
	s, err := b.current(ctx)
	return err == nil && s.UpstreamToken != ""
}

func (b *Binding) Phone(ctx context.Context) string {
	s, err := b.current(ctx)
	if err != nil {
		return ""
	}
	if s.User != nil && s.User.PhoneNumber != "" {
		return s.User.PhoneNumber
	}
	return s.LoginPhone
}

func (b *Binding) UserName(ctx context.Context) string {
	s, err := b.current(ctx)
	if err != nil {
		return ""
	}
	return s.User.DisplayName()
}

func (b *Binding) Token(ctx context.Context) (string, error) {
	s, err := b.current(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", upstream.ErrUnauthorized
		}
		return "", err
	}
	return s.UpstreamToken, nil
}

// Logout destroys the bound session and detaches it.
func (b *Binding) Logout(ctx context.Context) error {
	b.mu.Lock()
	id := b.id
	b.id = ""
	b.mu.Unlock()
	if id == "" {
		return nil
	}
	return b.manager.Logout(ctx, id)
}
