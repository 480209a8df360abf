package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	gosync "sync"
	"testing"
	"time"

	"github.com/tasksmint/tasksmint/internal/cache"
	"github.com/tasksmint/tasksmint/internal/model"
	"github.com/tasksmint/tasksmint/internal/remote"
	"github.com/tasksmint/tasksmint/tests/testutil"
)

// fakeGateway is an in-memory Gateway with scriptable failures. Rows are
// kept as raw JSON so one map serves all three tables.
type fakeGateway struct {
	mu   gosync.Mutex
	rows map[remote.Table]map[string]json.RawMessage

	failList   error
	failGet    error
	failInsert error
	failUpdate error
	failDelete error
	failBulk   error

	// bulkDelay stalls BulkUpsert before it touches rows, to let other
	// writes race it.
	bulkDelay time.Duration

	listCalls   int
	insertCalls int
	updateCalls int
	deleteCalls int
	bulkCalls   int

	reassigns [][2]string
	events    chan remote.Event
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		rows: map[remote.Table]map[string]json.RawMessage{
			remote.TableBoards: {},
			remote.TableLists:  {},
			remote.TableTasks:  {},
		},
		events: make(chan remote.Event, 16),
	}
}

func (g *fakeGateway) put(table remote.Table, rec any) {
	data, err := json.Marshal(rec)
	if err != nil {
		panic(err)
	}
	var fields struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		panic(err)
	}
	g.mu.Lock()
	g.rows[table][fields.ID] = data
	g.mu.Unlock()
}

func (g *fakeGateway) drop(table remote.Table, id string) {
	g.mu.Lock()
	delete(g.rows[table], id)
	g.mu.Unlock()
}

func (g *fakeGateway) version(table remote.Table, id string) (int64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	raw, ok := g.rows[table][id]
	if !ok {
		return 0, false
	}
	return rawVersion(raw), true
}

func (g *fakeGateway) count(table remote.Table) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rows[table])
}

func (g *fakeGateway) record(table remote.Table, id string, out any) bool {
	g.mu.Lock()
	raw, ok := g.rows[table][id]
	g.mu.Unlock()
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		panic(err)
	}
	return true
}

func rawVersion(raw json.RawMessage) int64 {
	var fields struct {
		Version int64 `json:"version"`
	}
	_ = json.Unmarshal(raw, &fields)
	return fields.Version
}

func (g *fakeGateway) List(ctx context.Context, table remote.Table, ownerID, orderBy string, out any) error {
	g.mu.Lock()
	g.listCalls++
	if err := g.failList; err != nil {
		g.mu.Unlock()
		return err
	}

	var rows []map[string]any
	for _, raw := range g.rows[table] {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			g.mu.Unlock()
			return err
		}
		if owner, _ := m["owner_id"].(string); owner == ownerID {
			rows = append(rows, m)
		}
	}
	g.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool {
		switch a := rows[i][orderBy].(type) {
		case float64:
			b, _ := rows[j][orderBy].(float64)
			return a < b
		case string:
			b, _ := rows[j][orderBy].(string)
			return a < b
		default:
			return false
		}
	})

	data, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (g *fakeGateway) Get(ctx context.Context, table remote.Table, id string, out any) error {
	g.mu.Lock()
	fail := g.failGet
	raw, ok := g.rows[table][id]
	g.mu.Unlock()
	if fail != nil {
		return fail
	}
	if !ok {
		return fmt.Errorf("%w: %s/%s", remote.ErrNotFound, table, id)
	}
	return json.Unmarshal(raw, out)
}

func (g *fakeGateway) Insert(ctx context.Context, table remote.Table, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	var fields struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.insertCalls++
	if err := g.failInsert; err != nil {
		return err
	}
	if _, exists := g.rows[table][fields.ID]; exists {
		return fmt.Errorf("%w: insert %s/%s", remote.ErrVersionConflict, table, fields.ID)
	}
	g.rows[table][fields.ID] = data
	return nil
}

func (g *fakeGateway) Update(ctx context.Context, table remote.Table, id string, record any, expect int64) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.updateCalls++
	if err := g.failUpdate; err != nil {
		return err
	}

	stored, ok := g.rows[table][id]
	if expect != remote.VersionAny {
		if !ok || rawVersion(stored) != expect {
			return fmt.Errorf("%w: update %s/%s", remote.ErrVersionConflict, table, id)
		}
	}
	g.rows[table][id] = data
	return nil
}

func (g *fakeGateway) Delete(ctx context.Context, table remote.Table, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleteCalls++
	if err := g.failDelete; err != nil {
		return err
	}
	delete(g.rows[table], id)
	return nil
}

func (g *fakeGateway) DeleteWhere(ctx context.Context, table remote.Table, field, value string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleteCalls++
	if err := g.failDelete; err != nil {
		return err
	}
	for id, raw := range g.rows[table] {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		if v, _ := m[field].(string); v == value {
			delete(g.rows[table], id)
		}
	}
	return nil
}

func (g *fakeGateway) BulkUpsert(ctx context.Context, table remote.Table, records any) error {
	g.mu.Lock()
	delay := g.bulkDelay
	g.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	data, err := json.Marshal(records)
	if err != nil {
		return err
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.bulkCalls++
	if err := g.failBulk; err != nil {
		return err
	}
	for _, raw := range raws {
		var fields struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return err
		}
		g.rows[table][fields.ID] = raw
	}
	return nil
}

func (g *fakeGateway) ReassignOwner(ctx context.Context, fromID, toID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reassigns = append(g.reassigns, [2]string{fromID, toID})
	for _, table := range g.rows {
		for id, raw := range table {
			var m map[string]any
			if err := json.Unmarshal(raw, &m); err != nil {
				return err
			}
			if owner, _ := m["owner_id"].(string); owner != fromID {
				continue
			}
			m["owner_id"] = toID
			data, err := json.Marshal(m)
			if err != nil {
				return err
			}
			table[id] = data
		}
	}
	return nil
}

func (g *fakeGateway) Subscribe(ctx context.Context, ownerID string) (remote.Subscription, error) {
	return &fakeSubscription{ch: g.events}, nil
}

type fakeSubscription struct {
	ch      chan remote.Event
	closeMu gosync.Mutex
	closed  bool
}

func (s *fakeSubscription) Events() <-chan remote.Event { return s.ch }

func (s *fakeSubscription) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

// errCollector gathers surfaced errors for assertions.
type errCollector struct {
	mu   gosync.Mutex
	errs []error
}

func (c *errCollector) add(err error) {
	c.mu.Lock()
	c.errs = append(c.errs, err)
	c.mu.Unlock()
}

func (c *errCollector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errs)
}

func newTestEngine(t *testing.T, gw *fakeGateway) (*Engine, *errCollector, cache.Store) {
	t.Helper()
	store := testutil.NewTestStore(t)
	errs := &errCollector{}
	e := NewEngine(store, gw, testutil.QuietLogger(), nil, errs.add)
	t.Cleanup(e.Close)
	return e, errs, store
}

func guestIdentity() model.Identity {
	return model.Identity{ID: "guest-1", Kind: model.IdentityGuest}
}

func authIdentity() model.Identity {
	return model.Identity{ID: "user-1", Kind: model.IdentityAuthenticated, Email: "u@example.com"}
}

// waitFor polls until cond holds or the deadline passes. Queued network
// writes run on background goroutines, so assertions about their effects
// have to wait for the queue to drain.
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
