package identity

import (
	"context"
	"errors"
	"io"
	gosync "sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tasksmint/tasksmint/internal/auth"
	"github.com/tasksmint/tasksmint/internal/credential"
	"github.com/tasksmint/tasksmint/internal/model"
	"github.com/tasksmint/tasksmint/internal/remote"
)

// fakeStore keeps the guest identity in memory and records snapshot drops.
type fakeStore struct {
	mu               gosync.Mutex
	guest            *model.Identity
	saves            int
	deletedSnapshots []string
}

func (s *fakeStore) ReadSnapshot(ctx context.Context, ownerID string) (model.Snapshot, time.Time, bool, error) {
	return model.Snapshot{}, time.Time{}, false, nil
}

func (s *fakeStore) WriteSnapshot(ctx context.Context, ownerID string, snap model.Snapshot) error {
	return nil
}

func (s *fakeStore) DeleteSnapshot(ctx context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletedSnapshots = append(s.deletedSnapshots, ownerID)
	return nil
}

func (s *fakeStore) droppedSnapshots() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deletedSnapshots...)
}

func (s *fakeStore) GuestIdentity(ctx context.Context) (*model.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.guest == nil {
		return nil, nil
	}
	g := *s.guest
	return &g, nil
}

func (s *fakeStore) SaveGuestIdentity(ctx context.Context, id model.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guest = &id
	s.saves++
	return nil
}

func (s *fakeStore) ClearGuestIdentity(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guest = nil
	return nil
}

func (s *fakeStore) Close() error { return nil }

// fakeGateway records reownership calls; everything else is a no-op.
type fakeGateway struct {
	mu          gosync.Mutex
	reassigns   [][2]string
	reassignErr error
}

func (g *fakeGateway) List(ctx context.Context, table remote.Table, ownerID, orderBy string, out any) error {
	return nil
}
func (g *fakeGateway) Get(ctx context.Context, table remote.Table, id string, out any) error {
	return remote.ErrNotFound
}
func (g *fakeGateway) Insert(ctx context.Context, table remote.Table, record any) error { return nil }
func (g *fakeGateway) Update(ctx context.Context, table remote.Table, id string, record any, expect int64) error {
	return nil
}
func (g *fakeGateway) Delete(ctx context.Context, table remote.Table, id string) error { return nil }
func (g *fakeGateway) DeleteWhere(ctx context.Context, table remote.Table, field, value string) error {
	return nil
}
func (g *fakeGateway) BulkUpsert(ctx context.Context, table remote.Table, records any) error {
	return nil
}

func (g *fakeGateway) ReassignOwner(ctx context.Context, fromID, toID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reassigns = append(g.reassigns, [2]string{fromID, toID})
	return g.reassignErr
}

func (g *fakeGateway) Subscribe(ctx context.Context, ownerID string) (remote.Subscription, error) {
	return nil, errors.New("not implemented")
}

func (g *fakeGateway) reassignCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.reassigns)
}

// fakeProvider scripts the session lookup and lets tests inject events.
type fakeProvider struct {
	session *auth.Session
	events  chan auth.Event
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{events: make(chan auth.Event, 4)}
}

func (p *fakeProvider) Session(ctx context.Context) (*auth.Session, error) { return p.session, nil }
func (p *fakeProvider) SignInWithEmail(ctx context.Context, address string) error {
	return nil
}
func (p *fakeProvider) SignInWithOAuth(ctx context.Context, provider string) error { return nil }
func (p *fakeProvider) SignOut(ctx context.Context) error                          { return nil }
func (p *fakeProvider) Events() <-chan auth.Event                                  { return p.events }
func (p *fakeProvider) Close() error                                               { return nil }

// fakeKeyring backs the credential indirection with a plain map.
type fakeKeyring struct {
	mu     gosync.Mutex
	values map[string]string
}

func (k *fakeKeyring) get(key string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.values[key]
	if !ok {
		return "", errors.New("keyring: key not found")
	}
	return v, nil
}

func (k *fakeKeyring) set(key, value string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.values[key] = value
	return nil
}

func (k *fakeKeyring) delete(key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.values, key)
	return nil
}

func (k *fakeKeyring) has(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.values[key]
	return ok
}

type harness struct {
	mgr      *Manager
	store    *fakeStore
	gateway  *fakeGateway
	provider *fakeProvider
	keyring  *fakeKeyring

	mu      gosync.Mutex
	changes []model.Identity
	errors  []error
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	h := &harness{
		store:    &fakeStore{},
		gateway:  &fakeGateway{},
		provider: newFakeProvider(),
		keyring:  &fakeKeyring{values: map[string]string{}},
	}

	origGet, origSet, origDelete := credentialGet, credentialSet, credentialDelete
	credentialGet = h.keyring.get
	credentialSet = h.keyring.set
	credentialDelete = h.keyring.delete
	t.Cleanup(func() {
		credentialGet, credentialSet, credentialDelete = origGet, origSet, origDelete
	})
	h.mgr = NewManager(h.store, h.gateway, h.provider, log,
		func(id model.Identity) {
			h.mu.Lock()
			h.changes = append(h.changes, id)
			h.mu.Unlock()
		},
		func(err error) {
			h.mu.Lock()
			h.errors = append(h.errors, err)
			h.mu.Unlock()
		},
	)
	t.Cleanup(h.mgr.Close)
	return h
}

func (h *harness) surfacedErrors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.errors...)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestEnsureIdentityMintsGuest(t *testing.T) {
	h := newHarness(t)

	id, err := h.mgr.EnsureIdentity(context.Background())
	if err != nil {
		t.Fatalf("EnsureIdentity: %v", err)
	}
	if !id.IsGuest() || id.ID == "" {
		t.Errorf("expected a minted guest, got %+v", id)
	}
	if h.store.guest == nil || h.store.guest.ID != id.ID {
		t.Error("guest not persisted")
	}
	if got := h.mgr.Current(); got.ID != id.ID {
		t.Errorf("Current() = %+v, want the minted guest", got)
	}
	if h.mgr.Token() != "" {
		t.Error("guests carry no access token")
	}
}

func TestEnsureIdentityReusesPersistedGuest(t *testing.T) {
	h := newHarness(t)
	h.store.guest = &model.Identity{ID: "guest-stable", Kind: model.IdentityGuest}

	id, err := h.mgr.EnsureIdentity(context.Background())
	if err != nil {
		t.Fatalf("EnsureIdentity: %v", err)
	}
	if id.ID != "guest-stable" {
		t.Errorf("expected the persisted guest back, got %q", id.ID)
	}
	if h.store.saves != 0 {
		t.Errorf("reuse must not mint, got %d saves", h.store.saves)
	}
}

func TestEnsureIdentityRecoversGuestFromKeyringBackup(t *testing.T) {
	h := newHarness(t)
	h.keyring.values[credential.KeyGuestID] = "guest-backup"

	id, err := h.mgr.EnsureIdentity(context.Background())
	if err != nil {
		t.Fatalf("EnsureIdentity: %v", err)
	}
	if !id.IsGuest() || id.ID != "guest-backup" {
		t.Errorf("expected the backed-up guest, got %+v", id)
	}
	if h.store.guest == nil || h.store.guest.ID != "guest-backup" {
		t.Error("recovered guest should be re-persisted to the cache")
	}
}

func TestEnsureIdentityAdoptsExistingSession(t *testing.T) {
	h := newHarness(t)
	h.provider.session = &auth.Session{
		UserID:      "user-1",
		Email:       "u@example.com",
		AccessToken: "tok-1",
	}

	id, err := h.mgr.EnsureIdentity(context.Background())
	if err != nil {
		t.Fatalf("EnsureIdentity: %v", err)
	}
	if id.IsGuest() || id.ID != "user-1" || id.Email != "u@example.com" {
		t.Errorf("expected the session identity, got %+v", id)
	}
	if h.mgr.Token() != "tok-1" {
		t.Errorf("Token() = %q, want session token", h.mgr.Token())
	}
}

func TestSignInUpgradeReownsGuestData(t *testing.T) {
	h := newHarness(t)

	guest, err := h.mgr.EnsureIdentity(context.Background())
	if err != nil {
		t.Fatalf("EnsureIdentity: %v", err)
	}

	h.provider.events <- auth.Event{
		Kind:    auth.EventSignedIn,
		Session: &auth.Session{UserID: "user-1", Email: "u@example.com", AccessToken: "tok-1"},
	}

	waitFor(t, func() bool {
		cur := h.mgr.Current()
		return !cur.IsGuest() && cur.ID == "user-1"
	}, "session adoption")

	if got := h.gateway.reassignCount(); got != 1 {
		t.Fatalf("expected exactly one reownership call, got %d", got)
	}
	h.gateway.mu.Lock()
	pair := h.gateway.reassigns[0]
	h.gateway.mu.Unlock()
	if pair[0] != guest.ID || pair[1] != "user-1" {
		t.Errorf("reowned %v, want [%s user-1]", pair, guest.ID)
	}

	if h.mgr.Current().UpgradedAt == nil {
		t.Error("UpgradedAt should be stamped after a successful transfer")
	}
	if h.store.guest != nil {
		t.Error("local guest record should be cleared after transfer")
	}
	if dropped := h.store.droppedSnapshots(); len(dropped) != 1 || dropped[0] != guest.ID {
		t.Errorf("guest snapshot should be dropped after transfer, got %v", dropped)
	}
	if h.keyring.has(credential.KeyGuestID) {
		t.Error("guest id backup should be cleared after transfer")
	}
}

func TestReownershipRunsAtMostOncePerGuest(t *testing.T) {
	h := newHarness(t)
	id := model.Identity{ID: "user-1", Kind: model.IdentityAuthenticated}

	h.mgr.reownGuestData(context.Background(), "guest-1", "user-1", &id)
	h.mgr.reownGuestData(context.Background(), "guest-1", "user-1", &id)

	if got := h.gateway.reassignCount(); got != 1 {
		t.Errorf("reownership ran %d times, want 1", got)
	}
}

func TestReownershipFailureSurfacedButSessionProceeds(t *testing.T) {
	h := newHarness(t)
	h.gateway.reassignErr = errors.New("service down")

	if _, err := h.mgr.EnsureIdentity(context.Background()); err != nil {
		t.Fatalf("EnsureIdentity: %v", err)
	}

	h.provider.events <- auth.Event{
		Kind:    auth.EventSignedIn,
		Session: &auth.Session{UserID: "user-1", AccessToken: "tok-1"},
	}

	waitFor(t, func() bool {
		return !h.mgr.Current().IsGuest()
	}, "session adoption despite reownership failure")

	waitFor(t, func() bool {
		return len(h.surfacedErrors()) == 1
	}, "reownership error to surface")

	if !errors.Is(h.surfacedErrors()[0], ErrReownership) {
		t.Errorf("surfaced error should wrap ErrReownership: %v", h.surfacedErrors()[0])
	}
	if h.mgr.Current().UpgradedAt != nil {
		t.Error("UpgradedAt must stay unset when the transfer failed")
	}
}

func TestSignOutMintsFreshGuest(t *testing.T) {
	h := newHarness(t)

	first, err := h.mgr.EnsureIdentity(context.Background())
	if err != nil {
		t.Fatalf("EnsureIdentity: %v", err)
	}

	if err := h.mgr.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut: %v", err)
	}

	cur := h.mgr.Current()
	if !cur.IsGuest() {
		t.Fatalf("expected a guest after sign-out, got %+v", cur)
	}
	if cur.ID == first.ID {
		t.Error("sign-out must mint a distinct guest, not reuse the old one")
	}
}

func TestSignedOutEventMintsFreshGuest(t *testing.T) {
	h := newHarness(t)
	h.provider.session = &auth.Session{UserID: "user-1", AccessToken: "tok-1"}

	if _, err := h.mgr.EnsureIdentity(context.Background()); err != nil {
		t.Fatalf("EnsureIdentity: %v", err)
	}

	h.provider.events <- auth.Event{Kind: auth.EventSignedOut}

	waitFor(t, func() bool {
		return h.mgr.Current().IsGuest()
	}, "fresh guest after remote sign-out")

	if h.mgr.Token() != "" {
		t.Error("token should be cleared after sign-out")
	}
}
