// Package identity resolves who is acting now: a locally minted guest on
// first use, or an authenticated account adopted from a remote session.
// It watches session transitions and re-owns guest data on upgrade.
package identity

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tasksmint/tasksmint/internal/auth"
	"github.com/tasksmint/tasksmint/internal/cache"
	"github.com/tasksmint/tasksmint/internal/credential"
	"github.com/tasksmint/tasksmint/internal/model"
	"github.com/tasksmint/tasksmint/internal/remote"
)

// ErrReownership wraps failures to transfer guest-owned data to a newly
// authenticated account. The session proceeds anyway; the error is
// surfaced, never swallowed.
var ErrReownership = errors.New("identity: guest data reownership failed")

// Keyring access goes through these so tests can swap in a fake backend.
var (
	credentialGet    = credential.Get
	credentialSet    = credential.Set
	credentialDelete = credential.Delete
)

// ChangeFunc is invoked whenever the current identity changes.
type ChangeFunc func(model.Identity)

// ErrorFunc is invoked for surfaced non-fatal errors (reownership).
type ErrorFunc func(error)

// Manager owns the current identity and its transitions. Exactly one
// identity is current at a time.
type Manager struct {
	store    cache.Store
	gateway  remote.Gateway
	provider auth.Provider
	log      *logrus.Logger

	mu      gosync.Mutex
	current model.Identity
	token   string

	// reowned tracks guest ids whose transfer was already attempted, so
	// reownership runs at most once per guest-to-authenticated transition.
	reowned map[string]bool

	onChange ChangeFunc
	onError  ErrorFunc

	stopCh    chan struct{}
	stopped   gosync.Once
	watchOnce gosync.Once
}

// NewManager creates an identity manager. onChange and onError may be nil.
func NewManager(
	store cache.Store,
	gateway remote.Gateway,
	provider auth.Provider,
	log *logrus.Logger,
	onChange ChangeFunc,
	onError ErrorFunc,
) *Manager {
	if log == nil {
		log = logrus.New()
	}
	if onChange == nil {
		onChange = func(model.Identity) {}
	}
	if onError == nil {
		onError = func(error) {}
	}
	return &Manager{
		store:    store,
		gateway:  gateway,
		provider: provider,
		log:      log,
		reowned:  make(map[string]bool),
		onChange: onChange,
		onError:  onError,
		stopCh:   make(chan struct{}),
	}
}

// Current returns the identity acting now. Zero value before EnsureIdentity.
func (m *Manager) Current() model.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Token returns the current session access token, empty for guests.
// Shaped to plug directly into the gateway's TokenFunc.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// EnsureIdentity resolves the acting identity: a persisted guest is
// reused, an existing remote session is adopted as authenticated, and
// otherwise a fresh guest is minted and persisted. It also starts the
// session-event watch loop.
func (m *Manager) EnsureIdentity(ctx context.Context) (model.Identity, error) {
	guest, err := m.store.GuestIdentity(ctx)
	if err != nil {
		return model.Identity{}, fmt.Errorf("loading persisted guest: %w", err)
	}
	if guest == nil {
		guest = m.recoverGuest(ctx)
	}

	var resolved model.Identity
	switch {
	case guest != nil:
		resolved = *guest
	default:
		if session, err := m.provider.Session(ctx); err == nil && session != nil {
			resolved = identityFromSession(session)
			m.setCurrent(resolved, session.AccessToken)
			m.watchOnce.Do(func() { go m.watchEvents() })
			return resolved, nil
		}
		resolved, err = m.mintGuest(ctx)
		if err != nil {
			return model.Identity{}, err
		}
	}

	m.setCurrent(resolved, "")
	m.watchOnce.Do(func() { go m.watchEvents() })
	return resolved, nil
}

// SignInWithEmail requests a magic-link email. Fire-and-forget: the
// upgrade lands later as a session event.
func (m *Manager) SignInWithEmail(ctx context.Context, address string) error {
	if err := m.provider.SignInWithEmail(ctx, address); err != nil {
		return fmt.Errorf("requesting magic link for %s: %w", address, err)
	}
	return nil
}

// SignInWithOAuth starts an OAuth sign-in. Fire-and-forget like email.
func (m *Manager) SignInWithOAuth(ctx context.Context, provider string) error {
	if err := m.provider.SignInWithOAuth(ctx, provider); err != nil {
		return fmt.Errorf("starting %s sign-in: %w", provider, err)
	}
	return nil
}

// SignOut clears the remote session and mints a fresh guest identity.
// Data keyed to the old account stays on the remote store.
func (m *Manager) SignOut(ctx context.Context) error {
	if err := m.provider.SignOut(ctx); err != nil {
		return fmt.Errorf("signing out: %w", err)
	}
	return m.becomeFreshGuest(ctx)
}

// Close stops the session-event watch loop.
func (m *Manager) Close() {
	m.stopped.Do(func() { close(m.stopCh) })
}

// watchEvents consumes session transitions from the auth provider.
func (m *Manager) watchEvents() {
	events := m.provider.Events()
	for {
		select {
		case <-m.stopCh:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			m.handleEvent(ctx, ev)
			cancel()
		}
	}
}

// handleEvent applies one session transition.
func (m *Manager) handleEvent(ctx context.Context, ev auth.Event) {
	switch ev.Kind {
	case auth.EventSignedIn:
		if ev.Session == nil {
			return
		}
		m.adoptSession(ctx, ev.Session)
	case auth.EventSignedOut:
		if err := m.becomeFreshGuest(ctx); err != nil {
			m.log.WithError(err).Error("minting guest after sign-out")
		}
	}
}

// adoptSession upgrades to an authenticated identity, transferring any
// prior guest's data to the new account first.
func (m *Manager) adoptSession(ctx context.Context, session *auth.Session) {
	m.mu.Lock()
	priorGuest := ""
	if m.current.IsGuest() {
		priorGuest = m.current.ID
	}
	m.mu.Unlock()

	id := identityFromSession(session)

	if priorGuest != "" && priorGuest != session.UserID {
		m.reownGuestData(ctx, priorGuest, session.UserID, &id)
	}

	if err := credentialSet(credential.KeySessionToken, session.AccessToken); err != nil {
		m.log.WithError(err).Warn("storing session token in keyring")
	}

	m.setCurrent(id, session.AccessToken)
}

// reownGuestData reassigns all rows owned by guestID to userID, at most
// once per transition. Failure is surfaced but does not block the
// authenticated session.
func (m *Manager) reownGuestData(ctx context.Context, guestID, userID string, id *model.Identity) {
	m.mu.Lock()
	attempted := m.reowned[guestID]
	m.reowned[guestID] = true
	m.mu.Unlock()
	if attempted {
		return
	}

	logger := m.log.WithFields(logrus.Fields{
		"guest_id": guestID,
		"user_id":  userID,
	})

	if err := m.gateway.ReassignOwner(ctx, guestID, userID); err != nil {
		logger.WithError(err).Error("guest data reownership failed")
		m.onError(fmt.Errorf("%w: %v", ErrReownership, err))
		return
	}

	now := time.Now().UTC()
	id.UpgradedAt = &now
	logger.Info("guest data transferred to account")

	if err := m.store.ClearGuestIdentity(ctx); err != nil {
		logger.WithError(err).Warn("clearing local guest record")
	}
	if err := m.store.DeleteSnapshot(ctx, guestID); err != nil {
		logger.WithError(err).Warn("dropping guest snapshot")
	}
	if err := credentialDelete(credential.KeyGuestID); err != nil {
		logger.WithError(err).Debug("clearing guest id from keyring")
	}
}

// becomeFreshGuest mints a brand-new guest identity, distinct from any
// prior guest, and makes it current.
func (m *Manager) becomeFreshGuest(ctx context.Context) error {
	guest, err := m.mintGuest(ctx)
	if err != nil {
		return err
	}
	if err := credentialDelete(credential.KeySessionToken); err != nil {
		m.log.WithError(err).Debug("clearing session token from keyring")
	}
	m.setCurrent(guest, "")
	return nil
}

// recoverGuest rebuilds the guest identity from its keyring backup when
// the cache database lost it, so rows the guest owns remotely are not
// orphaned before reownership runs. Returns nil when no backup exists.
func (m *Manager) recoverGuest(ctx context.Context) *model.Identity {
	id, err := credentialGet(credential.KeyGuestID)
	if err != nil || id == "" {
		return nil
	}
	guest := model.Identity{
		ID:   id,
		Kind: model.IdentityGuest,
	}
	if err := m.store.SaveGuestIdentity(ctx, guest); err != nil {
		m.log.WithError(err).Warn("re-persisting recovered guest identity")
	}
	m.log.WithField("guest_id", id).Info("guest identity recovered from keyring backup")
	return &guest
}

// mintGuest creates and persists a new guest identity.
func (m *Manager) mintGuest(ctx context.Context) (model.Identity, error) {
	guest := model.Identity{
		ID:   uuid.New().String(),
		Kind: model.IdentityGuest,
	}
	if err := m.store.SaveGuestIdentity(ctx, guest); err != nil {
		return model.Identity{}, fmt.Errorf("persisting guest identity: %w", err)
	}
	if err := credentialSet(credential.KeyGuestID, guest.ID); err != nil {
		m.log.WithError(err).Debug("storing guest id in keyring")
	}
	return guest, nil
}

// setCurrent swaps the current identity and notifies the listener.
func (m *Manager) setCurrent(id model.Identity, token string) {
	m.mu.Lock()
	m.current = id
	m.token = token
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"identity_id": id.ID,
		"kind":        id.Kind,
	}).Info("current identity changed")
	m.onChange(id)
}

// identityFromSession maps a remote session to an authenticated identity.
func identityFromSession(s *auth.Session) model.Identity {
	return model.Identity{
		ID:          s.UserID,
		Kind:        model.IdentityAuthenticated,
		Email:       s.Email,
		DisplayName: s.DisplayName,
		AvatarRef:   s.AvatarRef,
	}
}
