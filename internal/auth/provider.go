// Package auth holds the signed-in identity and its bearer credential.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/chatterbox/internal/api"
	"github.com/npezzotti/chatterbox/internal/schedule"
	"github.com/npezzotti/chatterbox/internal/store"
	"github.com/npezzotti/chatterbox/internal/types"
)

var (
	ErrNotAuthenticated = errors.New("not logged in")
	ErrSessionExpired   = errors.New("session expired")
)

type Provider struct {
	log    *log.Logger
	client api.AuthService
	store  store.SessionStore
	clock  schedule.Clock

	mu        sync.RWMutex
	session   *types.Session
	pending   string
	listeners []func()
}

func NewProvider(logger *log.Logger, client api.AuthService, st store.SessionStore, clock schedule.Clock) *Provider {
	if clock == nil {
		clock = schedule.SystemClock{}
	}

	return &Provider{
		log:    logger,
		client: client,
		store:  st,
		clock:  clock,
	}
}

// Token returns the credential to attach to outgoing requests. While a
// stored credential is being revalidated it is returned even though the
// session is not live yet.
func (p *Provider) Token() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.session != nil {
		return p.session.Token
	}
	return p.pending
}

// Current returns a copy of the live session.
func (p *Provider) Current() (types.Session, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.session == nil {
		return types.Session{}, false
	}
	return *p.session, true
}

// OnLogout registers fn to run whenever a live session ends.
func (p *Provider) OnLogout(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

func (p *Provider) Login(ctx context.Context, form LoginForm) (types.Session, error) {
	if err := form.Validate(); err != nil {
		return types.Session{}, err
	}

	sess, err := p.client.Login(ctx, form.Email, form.Password)
	if err != nil {
		return types.Session{}, fmt.Errorf("login: %w", err)
	}

	p.establish(sess)
	return *sess, nil
}

func (p *Provider) Register(ctx context.Context, form RegisterForm) (types.Session, error) {
	if err := form.Validate(); err != nil {
		return types.Session{}, err
	}

	sess, err := p.client.Register(ctx, api.RegisterRequest{
		Username: form.Username,
		Email:    form.Email,
		Password: form.Password,
	})
	if err != nil {
		return types.Session{}, fmt.Errorf("register: %w", err)
	}

	p.establish(sess)
	return *sess, nil
}

// Logout ends the session locally even when the backend call fails; the
// backend error is still returned.
func (p *Provider) Logout(ctx context.Context) error {
	if _, ok := p.Current(); !ok {
		return ErrNotAuthenticated
	}

	err := p.client.Logout(ctx)
	p.Clear()
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Restore loads the stored credential and revalidates it against the
// backend. Nothing is trusted until the backend confirms it.
func (p *Provider) Restore(ctx context.Context) (types.Session, error) {
	stored, err := p.store.Load()
	if err != nil {
		return types.Session{}, err
	}

	if p.expired(stored.Token) {
		p.log.Println("stored session expired, discarding")
		if err := p.store.Clear(); err != nil {
			p.log.Printf("clear session: %v", err)
		}
		return types.Session{}, ErrSessionExpired
	}

	p.mu.Lock()
	p.pending = stored.Token
	p.mu.Unlock()

	user, err := p.client.Profile(ctx)

	p.mu.Lock()
	p.pending = ""
	p.mu.Unlock()

	if err != nil {
		if clearErr := p.store.Clear(); clearErr != nil {
			p.log.Printf("clear session: %v", clearErr)
		}
		return types.Session{}, fmt.Errorf("revalidate session: %w", err)
	}

	sess := &types.Session{User: *user, Token: stored.Token}
	p.establish(sess)
	return *sess, nil
}

// Clear destroys the live session and its persisted record and notifies
// logout listeners. Safe to call when no session is live.
func (p *Provider) Clear() {
	p.mu.Lock()
	wasLive := p.session != nil
	p.session = nil
	p.pending = ""
	listeners := make([]func(), len(p.listeners))
	copy(listeners, p.listeners)
	p.mu.Unlock()

	if err := p.store.Clear(); err != nil {
		p.log.Printf("clear session: %v", err)
	}

	if !wasLive {
		return
	}
	for _, fn := range listeners {
		fn()
	}
}

// establish makes sess the live session. A different live session is
// ended first so logout listeners drop anything bound to its credential.
func (p *Provider) establish(sess *types.Session) {
	p.mu.RLock()
	prev := p.session
	p.mu.RUnlock()
	if prev != nil && (prev.Token != sess.Token || prev.User.Id != sess.User.Id) {
		p.log.Printf("replacing session for user %s", prev.User.Id)
		p.Clear()
	}

	p.mu.Lock()
	s := *sess
	p.session = &s
	p.pending = ""
	p.mu.Unlock()

	if err := p.store.Save(sess); err != nil {
		p.log.Printf("persist session: %v", err)
	}
}

// expired reports whether token is a JWT whose exp claim has passed. Opaque
// tokens are left to the backend to judge.
func (p *Provider) expired(token string) bool {
	var parser jwt.Parser
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return false
	}

	if _, ok := claims["exp"]; !ok {
		return false
	}
	return !claims.VerifyExpiresAt(p.clock.Now().Unix(), true)
}
