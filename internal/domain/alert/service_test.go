package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chatalert/internal/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hostRecorder struct {
	mu    sync.Mutex
	hosts map[string]*fakeHost
	err   error
}

func (r *hostRecorder) factory(ctx context.Context, sessionID string, viewer Viewer, supported bool, permission Permission) (Host, error) {
	if r.err != nil {
		return nil, r.err
	}
	h := newFakeHost(supported, permission)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hosts == nil {
		r.hosts = make(map[string]*fakeHost)
	}
	r.hosts[sessionID] = h
	return h, nil
}

func (r *hostRecorder) host(sessionID string) *fakeHost {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hosts[sessionID]
}

type serviceFixture struct {
	service *Service
	hosts   *hostRecorder
	logs    *fakeLogStore
	perms   *fakePermissionStore
	clock   time.Time
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	f := &serviceFixture{
		hosts: &hostRecorder{},
		logs:  newFakeLogStore(),
		perms: &fakePermissionStore{},
		clock: t0,
	}
	f.service = NewService(f.hosts.factory, nil, f.logs, f.perms, ServiceConfig{
		Policy:      DefaultPolicy(),
		MaxSessions: 10,
	})
	f.service.now = func() time.Time { return f.clock }
	t.Cleanup(f.service.Shutdown)
	return f
}

func (f *serviceFixture) start(t *testing.T, viewer Viewer, req StartSessionRequest) *SessionResponse {
	t.Helper()
	resp, err := f.service.StartSession(context.Background(), viewer, &req)
	require.NoError(t, err)
	return resp
}

func TestService_StartSession(t *testing.T) {
	f := newServiceFixture(t)

	resp := f.start(t, admin, StartSessionRequest{Supported: true, Permission: PermissionGranted})

	assert.NotEmpty(t, resp.ID)
	assert.True(t, resp.Eligible)
	assert.True(t, resp.Supported)
	assert.Equal(t, PermissionGranted, resp.Permission)
	assert.Equal(t, t0, resp.StartedAt)

	session, err := f.service.Session(resp.ID)
	require.NoError(t, err)
	assert.Equal(t, admin, session.Viewer)
}

func TestService_StartSession_Validation(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.StartSession(context.Background(), Viewer{Role: RoleAdmin}, &StartSessionRequest{})
	var validation *common.ValidationError
	assert.ErrorAs(t, err, &validation)

	_, err = f.service.StartSession(context.Background(), admin, &StartSessionRequest{Permission: "maybe"})
	assert.ErrorAs(t, err, &validation)
}

func TestService_StartSession_HostFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.hosts.err = errBoom

	_, err := f.service.StartSession(context.Background(), admin, &StartSessionRequest{Supported: true})

	var upstream *common.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, "host bridge", upstream.Service)
	assert.ErrorIs(t, err, errBoom)
}

func TestService_StartSession_UsesStoredPermission(t *testing.T) {
	f := newServiceFixture(t)
	require.NoError(t, f.perms.SavePermission(context.Background(), "admin-1", PermissionDenied))

	resp := f.start(t, admin, StartSessionRequest{Supported: true})

	assert.Equal(t, PermissionDenied, resp.Permission)
	assert.Equal(t, PermissionDenied, f.hosts.host(resp.ID).Permission())
}

func TestService_StartSession_PromptsEligibleViewerOnce(t *testing.T) {
	f := newServiceFixture(t)

	resp := f.start(t, admin, StartSessionRequest{Supported: true, Permission: PermissionDefault})
	host := f.hosts.host(resp.ID)

	assert.Eventually(t, func() bool { return host.promptCount() == 1 }, time.Second, 5*time.Millisecond)

	user := f.start(t, Viewer{ID: "u", Role: RoleUser}, StartSessionRequest{Supported: true, Permission: PermissionDefault})
	assert.Never(t, func() bool { return f.hosts.host(user.ID).promptCount() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestService_EndSession(t *testing.T) {
	f := newServiceFixture(t)
	resp := f.start(t, admin, StartSessionRequest{Supported: true, Permission: PermissionGranted})

	require.NoError(t, f.service.EndSession(resp.ID))
	assert.True(t, f.hosts.host(resp.ID).released)

	var notFound *common.NotFoundError
	assert.ErrorAs(t, f.service.EndSession(resp.ID), &notFound)
	_, err := f.service.Session(resp.ID)
	assert.ErrorAs(t, err, &notFound)
}

func TestService_SessionsAreIsolated(t *testing.T) {
	f := newServiceFixture(t)
	a := f.start(t, admin, StartSessionRequest{Supported: true, Permission: PermissionGranted})
	b := f.start(t, Viewer{ID: "admin-2", Role: RoleAdmin}, StartSessionRequest{Supported: true, Permission: PermissionGranted})

	req := &CheckRequest{
		ConversationID: "42",
		SenderLabel:    "Bob",
		Previous:       msgs("1", "B"),
		Current:        msgs("1", "B", "2", "B"),
	}

	ra, err := f.service.CheckForNewMessages(a.ID, req)
	require.NoError(t, err)
	rb, err := f.service.CheckForNewMessages(b.ID, req)
	require.NoError(t, err)

	assert.True(t, ra.Alerted)
	assert.True(t, rb.Alerted)
}

func TestService_RestartedSessionStartsArmed(t *testing.T) {
	f := newServiceFixture(t)
	req := &CheckRequest{ConversationID: "42", Previous: msgs("1", "B"), Current: msgs("1", "B", "2", "B")}

	first := f.start(t, admin, StartSessionRequest{Supported: true, Permission: PermissionGranted})
	resp, err := f.service.CheckForNewMessages(first.ID, req)
	require.NoError(t, err)
	require.True(t, resp.Alerted)
	require.NoError(t, f.service.EndSession(first.ID))

	second := f.start(t, admin, StartSessionRequest{Supported: true, Permission: PermissionGranted})
	resp, err = f.service.CheckForNewMessages(second.ID, req)
	require.NoError(t, err)
	assert.True(t, resp.Alerted)
}

func TestService_CanAlert(t *testing.T) {
	f := newServiceFixture(t)
	s := f.start(t, admin, StartSessionRequest{Supported: true, Permission: PermissionGranted})

	resp, err := f.service.CanAlert(s.ID, "42")
	require.NoError(t, err)
	assert.True(t, resp.CanAlert)
	assert.Nil(t, resp.LastAlertAt)

	_, err = f.service.CheckForNewMessages(s.ID, &CheckRequest{
		ConversationID: "42",
		Previous:       msgs("1", "B"),
		Current:        msgs("1", "B", "2", "B"),
	})
	require.NoError(t, err)

	f.clock = t0.Add(time.Minute)
	resp, err = f.service.CanAlert(s.ID, "42")
	require.NoError(t, err)
	assert.False(t, resp.CanAlert)
	require.NotNil(t, resp.LastAlertAt)
	assert.Equal(t, t0, *resp.LastAlertAt)

	f.clock = t0.Add(10 * time.Minute)
	resp, err = f.service.CanAlert(s.ID, "42")
	require.NoError(t, err)
	assert.True(t, resp.CanAlert)

	_, err = f.service.CanAlert(s.ID, "")
	var validation *common.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestService_ObserveSnapshot(t *testing.T) {
	f := newServiceFixture(t)
	s := f.start(t, Viewer{ID: "A", Role: RoleAdmin}, StartSessionRequest{Supported: true, Permission: PermissionGranted})

	observe := func(messages []Message) bool {
		resp, err := f.service.ObserveSnapshot(s.ID, "42", &SnapshotRequest{SenderLabel: "B", Messages: messages})
		require.NoError(t, err)
		return resp.Alerted
	}

	assert.False(t, observe(msgs("1", "A")), "first snapshot only sets the baseline")
	assert.True(t, observe(msgs("1", "A", "2", "B")))

	f.clock = t0.Add(time.Second)
	assert.False(t, observe(msgs("1", "A", "2", "B", "3", "B")), "cooldown active")

	f.clock = t0.Add(11 * time.Minute)
	assert.True(t, observe(msgs("1", "A", "2", "B", "3", "B", "4", "C")))

	_, err := f.service.ObserveSnapshot(s.ID, "42", &SnapshotRequest{})
	var validation *common.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestService_ReportPermission(t *testing.T) {
	f := newServiceFixture(t)
	s := f.start(t, admin, StartSessionRequest{Supported: true, Permission: PermissionDenied})

	require.NoError(t, f.service.ReportPermission(context.Background(), s.ID, PermissionGranted))

	capability, err := f.service.Capability(s.ID)
	require.NoError(t, err)
	assert.Equal(t, PermissionGranted, capability.Permission)
	assert.True(t, capability.Supported)
	assert.True(t, capability.Eligible)

	stored, err := f.perms.GetPermission(context.Background(), "admin-1")
	require.NoError(t, err)
	assert.Equal(t, PermissionGranted, stored)

	err = f.service.ReportPermission(context.Background(), s.ID, "sure")
	var validation *common.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestService_Activate(t *testing.T) {
	f := newServiceFixture(t)
	s := f.start(t, admin, StartSessionRequest{Supported: true, Permission: PermissionGranted})

	var notFound *common.NotFoundError
	assert.ErrorAs(t, f.service.Activate(s.ID, "chat-42"), &notFound)

	_, err := f.service.CheckForNewMessages(s.ID, &CheckRequest{
		ConversationID: "42",
		Previous:       msgs("1", "B"),
		Current:        msgs("1", "B", "2", "B"),
	})
	require.NoError(t, err)

	require.NoError(t, f.service.Activate(s.ID, "chat-42"))
	host := f.hosts.host(s.ID)
	assert.Equal(t, 1, host.focused)
	assert.Equal(t, 1, host.handles["chat-42"].closeCount())
}

func TestService_Alerts(t *testing.T) {
	f := newServiceFixture(t)
	require.NoError(t, f.logs.Create(context.Background(), &Log{ID: "a1", Status: StatusShown}))
	require.NoError(t, f.logs.Create(context.Background(), &Log{ID: "a2", Status: StatusDismissed}))

	got, err := f.service.GetAlert(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "a1", got.ID)

	_, err = f.service.GetAlert(context.Background(), "missing")
	var notFound *common.NotFoundError
	assert.ErrorAs(t, err, &notFound)

	list, err := f.service.ListAlerts(context.Background(), ListFilter{Status: "shown", PageSize: 500})
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total)
	assert.Equal(t, 1, list.Page)
	assert.Equal(t, 20, list.PageSize)

	f.logs.getErr = errors.New("connection refused")
	_, err = f.service.GetAlert(context.Background(), "a1")
	var upstream *common.UpstreamError
	assert.ErrorAs(t, err, &upstream)
}

func TestService_EvictionReleasesHost(t *testing.T) {
	hosts := &hostRecorder{}
	svc := NewService(hosts.factory, nil, newFakeLogStore(), nil, ServiceConfig{MaxSessions: 1})
	defer svc.Shutdown()

	first, err := svc.StartSession(context.Background(), Viewer{ID: "u1", Role: RoleUser}, &StartSessionRequest{})
	require.NoError(t, err)
	_, err = svc.StartSession(context.Background(), Viewer{ID: "u2", Role: RoleUser}, &StartSessionRequest{})
	require.NoError(t, err)

	assert.True(t, hosts.host(first.ID).released)
	_, err = svc.Session(first.ID)
	assert.Error(t, err)
}
