package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/capa/internal/core/overdue"
	"github.com/example/capa/internal/ports/secondary"
)

var (
	_ secondary.WorkItemRepository = (*fakeWorkItems)(nil)
	_ secondary.SubItemRepository  = (*fakeSubItems)(nil)
	_ secondary.EventLog           = (*fakeEventLog)(nil)
	_ secondary.AuditEmitter       = (*fakeAudit)(nil)
)

var errDiskFull = errors.New("disk full")

// fakeStore is an in-memory store shared by the fake repositories.
// Records are copied on the way in and out so callers cannot alias them.
type fakeStore struct {
	mu       sync.Mutex
	actions  map[string]*secondary.WorkItemRecord
	subs     map[string]*secondary.SubItemRecord
	events   []storedEvent
	writes   int
	pageLoad int

	// failure injection
	failSaveSub    map[string]error
	failSaveAction map[string]error
	failChildren   map[string]error
	failPage       map[int]error // keyed by 1-based page number

	// hooks
	onPage        func(page int)
	onChildren    func(actionID string)
	afterChildren func(actionID string)
}

// storedEvent is a recorded transition event and its delivery state.
type storedEvent struct {
	event     secondary.TransitionEvent
	delivered bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		actions:        make(map[string]*secondary.WorkItemRecord),
		subs:           make(map[string]*secondary.SubItemRecord),
		failSaveSub:    make(map[string]error),
		failSaveAction: make(map[string]error),
		failChildren:   make(map[string]error),
		failPage:       make(map[int]error),
	}
}

func (s *fakeStore) putAction(r secondary.WorkItemRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Status == "" {
		r.Status = "not_started"
	}
	s.actions[r.ID] = &r
}

func (s *fakeStore) putSub(r secondary.SubItemRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Status == "" {
		r.Status = "not_started"
	}
	s.subs[r.ID] = &r
}

func (s *fakeStore) action(id string) secondary.WorkItemRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.actions[id]
}

func (s *fakeStore) sub(id string) secondary.SubItemRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.subs[id]
}

// record appends event as part of the write holding s.mu.
func (s *fakeStore) record(event *secondary.TransitionEvent) {
	if event != nil {
		s.events = append(s.events, storedEvent{event: *event})
	}
}

func (s *fakeStore) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if !e.delivered {
			n++
		}
	}
	return n
}

func (s *fakeStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// forceAbort simulates a concurrent abort landing outside the service.
func (s *fakeStore) forceAbort(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[id].Status = "aborted"
	s.actions[id].Overdue = false
}

type fakeWorkItems struct{ s *fakeStore }

func (f *fakeWorkItems) Create(ctx context.Context, item *secondary.WorkItemRecord) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, ok := f.s.actions[item.ID]; ok {
		return fmt.Errorf("duplicate id %s", item.ID)
	}
	r := *item
	f.s.actions[item.ID] = &r
	f.s.writes++
	return nil
}

func (f *fakeWorkItems) GetByID(ctx context.Context, id string) (*secondary.WorkItemRecord, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	r, ok := f.s.actions[id]
	if !ok {
		return nil, fmt.Errorf("corrective action %s: %w", id, secondary.ErrNotFound)
	}
	c := *r
	return &c, nil
}

func (f *fakeWorkItems) List(ctx context.Context, filters secondary.WorkItemFilters) ([]*secondary.WorkItemRecord, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*secondary.WorkItemRecord
	for _, id := range sortedKeys(f.s.actions) {
		r := f.s.actions[id]
		if filters.Status != "" && r.Status != filters.Status {
			continue
		}
		if filters.Overdue != nil && r.Overdue != *filters.Overdue {
			continue
		}
		if filters.OwnerID != "" && r.OwnerID != filters.OwnerID {
			continue
		}
		c := *r
		out = append(out, &c)
	}
	return out, nil
}

func (f *fakeWorkItems) LoadActiveWorkItems(ctx context.Context, pageToken string, limit int) ([]*secondary.WorkItemRecord, string, error) {
	f.s.mu.Lock()
	f.s.pageLoad++
	page := f.s.pageLoad
	hook := f.s.onPage
	err := f.s.failPage[page]
	f.s.mu.Unlock()

	if hook != nil {
		hook(page)
	}
	if err != nil {
		return nil, "", err
	}

	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*secondary.WorkItemRecord
	for _, id := range sortedKeys(f.s.actions) {
		r := f.s.actions[id]
		if r.Status == "aborted" || id <= pageToken {
			continue
		}
		c := *r
		out = append(out, &c)
	}
	if len(out) <= limit {
		return out, "", nil
	}
	out = out[:limit]
	return out, out[len(out)-1].ID, nil
}

func (f *fakeWorkItems) SaveStatus(ctx context.Context, update secondary.StatusUpdate) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if err := f.s.failSaveAction[update.ID]; err != nil {
		return err
	}
	r, ok := f.s.actions[update.ID]
	if update.ExpectedStatus != "" && (!ok || r.Status != update.ExpectedStatus) {
		return fmt.Errorf("corrective action %s: %w", update.ID, secondary.ErrStaleState)
	}
	if !ok || r.Status == "aborted" {
		return fmt.Errorf("active corrective action %s: %w", update.ID, secondary.ErrNotFound)
	}
	r.Status = update.Status
	r.Overdue = update.Overdue
	r.CompletedAt = copyTime(update.CompletedAt)
	r.UpdatedAt = update.UpdatedAt
	f.s.record(update.Event)
	f.s.writes++
	return nil
}

func (f *fakeWorkItems) SaveAbortMetadata(ctx context.Context, abort secondary.AbortRecord) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if err := f.s.failSaveAction[abort.ID]; err != nil {
		return err
	}
	r, ok := f.s.actions[abort.ID]
	if !ok || r.Status == "aborted" {
		return fmt.Errorf("active corrective action %s: %w", abort.ID, secondary.ErrNotFound)
	}
	at := abort.AbortedAt
	r.Status = "aborted"
	r.Overdue = false
	r.AbortedBy = abort.Actor
	r.AbortReason = abort.Reason
	r.AbortedAt = &at
	r.UpdatedAt = at
	f.s.record(abort.Event)
	f.s.writes++
	return nil
}

func (f *fakeWorkItems) GetNextID(ctx context.Context) (string, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	return fmt.Sprintf("CA-%04d", len(f.s.actions)+1), nil
}

type fakeSubItems struct{ s *fakeStore }

func (f *fakeSubItems) Create(ctx context.Context, item *secondary.SubItemRecord) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, ok := f.s.actions[item.ParentID]; !ok {
		return fmt.Errorf("foreign key constraint failed")
	}
	r := *item
	f.s.subs[item.ID] = &r
	f.s.writes++
	return nil
}

func (f *fakeSubItems) GetByID(ctx context.Context, id string) (*secondary.SubItemRecord, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	r, ok := f.s.subs[id]
	if !ok {
		return nil, fmt.Errorf("sub-action %s: %w", id, secondary.ErrNotFound)
	}
	c := *r
	return &c, nil
}

func (f *fakeSubItems) LoadChildren(ctx context.Context, parentID string) ([]*secondary.SubItemRecord, error) {
	f.s.mu.Lock()
	hook := f.s.onChildren
	err := f.s.failChildren[parentID]
	f.s.mu.Unlock()

	if hook != nil {
		hook(parentID)
	}
	if err != nil {
		return nil, err
	}

	f.s.mu.Lock()
	var out []*secondary.SubItemRecord
	for _, id := range sortedKeys(f.s.subs) {
		r := f.s.subs[id]
		if r.ParentID != parentID {
			continue
		}
		c := *r
		out = append(out, &c)
	}
	after := f.s.afterChildren
	f.s.mu.Unlock()

	if after != nil {
		after(parentID)
	}
	return out, nil
}

func (f *fakeSubItems) SaveStatus(ctx context.Context, update secondary.StatusUpdate) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if err := f.s.failSaveSub[update.ID]; err != nil {
		return err
	}
	r, ok := f.s.subs[update.ID]
	if !ok {
		return fmt.Errorf("sub-action %s: %w", update.ID, secondary.ErrNotFound)
	}
	if update.ExpectedStatus != "" && r.Status != update.ExpectedStatus {
		return fmt.Errorf("sub-action %s: %w", update.ID, secondary.ErrStaleState)
	}
	r.Status = update.Status
	r.Overdue = update.Overdue
	r.CompletedAt = copyTime(update.CompletedAt)
	r.UpdatedAt = update.UpdatedAt
	f.s.record(update.Event)
	f.s.writes++
	return nil
}

func (f *fakeSubItems) SaveOverdue(ctx context.Context, update secondary.OverdueUpdate) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if err := f.s.failSaveSub[update.ID]; err != nil {
		return err
	}
	r, ok := f.s.subs[update.ID]
	if !ok || r.Status != update.ExpectedStatus {
		return fmt.Errorf("sub-action %s: %w", update.ID, secondary.ErrStaleState)
	}
	r.Overdue = update.Overdue
	r.UpdatedAt = update.UpdatedAt
	f.s.record(update.Event)
	f.s.writes++
	return nil
}

func (f *fakeSubItems) GetNextID(ctx context.Context) (string, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	return fmt.Sprintf("SA-%04d", len(f.s.subs)+1), nil
}

// fakeEventLog reads the events recorded in the store.
type fakeEventLog struct {
	s          *fakeStore
	failMark   error
	markCalled int
}

func (l *fakeEventLog) ListByItem(ctx context.Context, itemID string) ([]*secondary.TransitionEvent, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	var out []*secondary.TransitionEvent
	for _, e := range l.s.events {
		if e.event.ItemID == itemID {
			c := e.event
			out = append(out, &c)
		}
	}
	return out, nil
}

func (l *fakeEventLog) ListPending(ctx context.Context, limit int) ([]*secondary.TransitionEvent, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	var out []*secondary.TransitionEvent
	for _, e := range l.s.events {
		if e.delivered {
			continue
		}
		if len(out) == limit {
			break
		}
		c := e.event
		out = append(out, &c)
	}
	return out, nil
}

func (l *fakeEventLog) MarkDelivered(ctx context.Context, ids ...string) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	l.markCalled++
	if l.failMark != nil {
		return l.failMark
	}
	for _, id := range ids {
		for i := range l.s.events {
			if l.s.events[i].event.ID == id {
				l.s.events[i].delivered = true
			}
		}
	}
	return nil
}

// fakeAudit is a sink that records delivered events in order.
type fakeAudit struct {
	mu     sync.Mutex
	events []secondary.TransitionEvent
	err    error
}

func (a *fakeAudit) Emit(ctx context.Context, event secondary.TransitionEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.events = append(a.events, event)
	return nil
}

func (a *fakeAudit) setErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

func (a *fakeAudit) all() []secondary.TransitionEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]secondary.TransitionEvent(nil), a.events...)
}

func (a *fakeAudit) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Shared fixtures.

var (
	t0      = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	dueSoon = t0.Add(24 * time.Hour)
	dueGone = t0.Add(-24 * time.Hour)
)

var defaultTestPolicy = overdue.DefaultPolicy

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func ptr[T any](v T) *T { return &v }

type harness struct {
	store   *fakeStore
	audit   *fakeAudit
	events  *fakeEventLog
	actions *ActionServiceImpl
	sweeper *ReconcileServiceImpl
}

func newHarness(batchSize int) *harness {
	store := newFakeStore()
	audit := &fakeAudit{}
	events := &fakeEventLog{s: store}
	workItems := &fakeWorkItems{s: store}
	subItems := &fakeSubItems{s: store}
	log := zerolog.Nop()

	actions := NewActionService(workItems, subItems, audit, events, defaultTestPolicy, log)
	actions.now = fixedClock(t0)
	sweeper := NewReconcileService(workItems, subItems, audit, events, defaultTestPolicy, batchSize, nil, log)
	sweeper.now = fixedClock(t0)

	return &harness{store: store, audit: audit, events: events, actions: actions, sweeper: sweeper}
}
