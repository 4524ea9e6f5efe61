package alert

import (
	"context"
	"errors"
	"sync"
	"time"
)

type shownAlert struct {
	Title string
	Opts  ShowOptions
}

type fakeHandle struct {
	mu         sync.Mutex
	closed     int
	onActivate func()
}

func (h *fakeHandle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed++
}

func (h *fakeHandle) OnActivate(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onActivate = fn
}

func (h *fakeHandle) closeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// fakeHost records everything the throttle asks of it.
type fakeHost struct {
	mu         sync.Mutex
	supported  bool
	permission Permission
	showErr    error
	prompted   int
	promptWith Permission
	focused    int
	released   bool
	shown      []shownAlert
	handles    map[string]*fakeHandle
}

func newFakeHost(supported bool, p Permission) *fakeHost {
	return &fakeHost{
		supported:  supported,
		permission: p,
		promptWith: PermissionGranted,
		handles:    make(map[string]*fakeHandle),
	}
}

func (f *fakeHost) Supported() bool { return f.supported }

func (f *fakeHost) Permission() Permission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.permission
}

func (f *fakeHost) RequestPermission(ctx context.Context) (Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompted++
	f.permission = f.promptWith
	return f.permission, nil
}

func (f *fakeHost) Show(title string, opts ShowOptions) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.showErr != nil {
		return nil, f.showErr
	}
	f.shown = append(f.shown, shownAlert{Title: title, Opts: opts})
	h := &fakeHandle{}
	f.handles[opts.Tag] = h
	return h, nil
}

func (f *fakeHost) Focus() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.focused++
}

func (f *fakeHost) Activate(tag string) bool {
	f.mu.Lock()
	h, ok := f.handles[tag]
	f.mu.Unlock()
	if !ok {
		return false
	}
	h.mu.Lock()
	fn := h.onActivate
	h.mu.Unlock()
	if fn != nil {
		fn()
	}
	return true
}

func (f *fakeHost) ReportPermission(ctx context.Context, p Permission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.permission = p
	return nil
}

func (f *fakeHost) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = true
}

func (f *fakeHost) shownCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.shown)
}

func (f *fakeHost) lastShown() shownAlert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shown[len(f.shown)-1]
}

func (f *fakeHost) promptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompted
}

// fakeLogStore is an in-memory LogStore.
type fakeLogStore struct {
	mu      sync.Mutex
	logs    map[string]*Log
	getErr  error
	updates []LogStatus
}

func newFakeLogStore(logs ...*Log) *fakeLogStore {
	s := &fakeLogStore{logs: make(map[string]*Log)}
	for _, l := range logs {
		s.logs[l.ID] = l
	}
	return s
}

func (s *fakeLogStore) Create(ctx context.Context, log *Log) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[log.ID] = log
	return nil
}

func (s *fakeLogStore) GetByID(ctx context.Context, id string) (*Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	l, ok := s.logs[id]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (s *fakeLogStore) UpdateStatus(ctx context.Context, id string, status LogStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, status)
	if l, ok := s.logs[id]; ok {
		l.Status = status
	}
	return nil
}

func (s *fakeLogStore) List(ctx context.Context, filter ListFilter) ([]*Log, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Log
	for _, l := range s.logs {
		if filter.Status != "" && string(l.Status) != filter.Status {
			continue
		}
		out = append(out, l)
	}
	return out, len(out), nil
}

func (s *fakeLogStore) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Log
	for _, l := range s.logs {
		if l.Status == StatusShown && l.UpdatedAt.Before(olderThan) && len(out) < limit {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *fakeLogStore) status(id string) LogStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logs[id].Status
}

// fakePublisher records published events per session.
type fakePublisher struct {
	mu     sync.Mutex
	err    error
	events map[string][]Event
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{events: make(map[string][]Event)}
}

func (p *fakePublisher) Publish(ctx context.Context, sessionID string, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events[sessionID] = append(p.events[sessionID], event)
	return nil
}

func (p *fakePublisher) sent(sessionID string) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events[sessionID]...)
}

// fakePermissionStore is an in-memory PermissionStore.
type fakePermissionStore struct {
	mu    sync.Mutex
	perms map[string]Permission
}

func (s *fakePermissionStore) GetPermission(ctx context.Context, viewerID string) (Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.perms[viewerID]; ok {
		return p, nil
	}
	return PermissionDefault, nil
}

func (s *fakePermissionStore) SavePermission(ctx context.Context, viewerID string, p Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.perms == nil {
		s.perms = make(map[string]Permission)
	}
	s.perms[viewerID] = p
	return nil
}

var errBoom = errors.New("boom")
