package rpc

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nottoday/nottoday/internal/buildinfo"
	"github.com/nottoday/nottoday/internal/domain"
)

// fakeBackend records calls and simulates enforcer state.
type fakeBackend struct {
	mu          sync.Mutex
	active      bool
	sites       []string
	enabled     bool
	updates     int
	uninstalled bool
	failWith    error
}

func (f *fakeBackend) Activate(ctx context.Context, sites []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.active = true
	f.sites = sites
	return nil
}

func (f *fakeBackend) Deactivate(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = false
	return nil
}

func (f *fakeBackend) IsActive() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active, nil
}

func (f *fakeBackend) CurrentSites() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sites, nil
}

func (f *fakeBackend) UpdateConfiguration(schedule domain.WeekSchedule, sites []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sites = sites
	f.updates++
	return nil
}

func (f *fakeBackend) SetScheduleEnabled(enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = enabled
	return nil
}

func (f *fakeBackend) Uninstall() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uninstalled = true
	return nil
}

func startServer(t *testing.T, backend Backend) (string, context.CancelFunc) {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "helper.sock")

	srv, err := NewServer(socketPath, backend, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx)
	return socketPath, cancel
}

func TestClient_ActivateDeactivateRoundTrip(t *testing.T) {
	backend := &fakeBackend{}
	socketPath, stop := startServer(t, backend)
	defer stop()

	client := NewClient(socketPath, zap.NewNop())
	defer client.Close()
	ctx := context.Background()

	require.NoError(t, client.ActivateBlocking(ctx, []string{"a.com", "b.com"}))

	active, err := client.IsBlockingActive(ctx)
	require.NoError(t, err)
	assert.True(t, active)

	sites, err := client.BlockedSites(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.com", "b.com"}, sites)

	require.NoError(t, client.DeactivateBlocking(ctx))
	active, err = client.IsBlockingActive(ctx)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestClient_BackendFailureCarriesReason(t *testing.T) {
	backend := &fakeBackend{failWith: errors.New("hosts file read-only")}
	socketPath, stop := startServer(t, backend)
	defer stop()

	client := NewClient(socketPath, zap.NewNop())
	defer client.Close()

	err := client.ActivateBlocking(context.Background(), []string{"a.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hosts file read-only")
}

func TestClient_UpdateScheduleSerializesWeek(t *testing.T) {
	backend := &fakeBackend{}
	socketPath, stop := startServer(t, backend)
	defer stop()

	client := NewClient(socketPath, zap.NewNop())
	defer client.Close()

	cfg := domain.DefaultConfiguration()
	cfg.BlockedSites = []string{"a.com"}
	helper := cfg.HelperProjection()
	require.NoError(t, client.UpdateSchedule(context.Background(), helper))
	require.NoError(t, client.SetScheduleEnabled(context.Background(), true))

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, 1, backend.updates)
	assert.Equal(t, []string{"a.com"}, backend.sites)
	assert.True(t, backend.enabled)
}

func TestClient_UnreachableSocket(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "absent.sock"), zap.NewNop())
	defer client.Close()

	err := client.Ping(context.Background())
	assert.ErrorIs(t, err, domain.ErrHelperUnreachable)
}

func TestClient_PingChecksVersion(t *testing.T) {
	backend := &fakeBackend{}
	socketPath, stop := startServer(t, backend)
	defer stop()

	client := NewClient(socketPath, zap.NewNop())
	defer client.Close()

	require.NoError(t, client.Ping(context.Background()))

	v, err := client.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, buildinfo.Version, v)
}

func TestClient_VersionMismatchIsDistinct(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "helper.sock")
	srv, err := NewServerWithVersion(socketPath, &fakeBackend{}, "1.0.0", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, srv.Listen())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	client := NewClientWithVersion(socketPath, "2.0.0", zap.NewNop())
	defer client.Close()

	err = client.Ping(context.Background())
	assert.ErrorIs(t, err, domain.ErrHelperVersionMismatch,
		"incompatible helper is reported distinctly from an unreachable one")

	// Same major remains compatible.
	ok := NewClientWithVersion(socketPath, "1.2.3", zap.NewNop())
	defer ok.Close()
	assert.NoError(t, ok.Ping(context.Background()))
}

func TestClient_ReconnectsAfterServerRestart(t *testing.T) {
	backend := &fakeBackend{}
	socketPath, stop := startServer(t, backend)

	client := NewClient(socketPath, zap.NewNop())
	defer client.Close()
	ctx := context.Background()

	require.NoError(t, client.Ping(ctx))

	// Kill the server; the next call fails as unreachable.
	stop()
	require.Eventually(t, func() bool {
		return errors.Is(client.Ping(ctx), domain.ErrHelperUnreachable)
	}, 2*time.Second, 20*time.Millisecond)

	// Restart on the same socket; the client redials lazily.
	srv, err := NewServer(socketPath, backend, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, srv.Listen())
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	go srv.Serve(ctx2)

	require.Eventually(t, func() bool {
		return client.Ping(ctx) == nil
	}, 2*time.Second, 20*time.Millisecond)
}
