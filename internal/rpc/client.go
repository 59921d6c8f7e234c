package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nottoday/nottoday/internal/buildinfo"
	"github.com/nottoday/nottoday/internal/domain"
)

const dialTimeout = 2 * time.Second

// Client is the application side of the privileged channel. The
// connection is dialed lazily and invalidated on any transport error, so
// a restarted helper is picked up on the next call.
type Client struct {
	socketPath  string
	wantVersion string
	logger      *zap.Logger

	mu   sync.Mutex
	conn *rpc.Client
}

// NewClient creates a client for the helper socket expecting the build's
// own version on the other end.
func NewClient(socketPath string, logger *zap.Logger) *Client {
	return NewClientWithVersion(socketPath, buildinfo.Version, logger)
}

// NewClientWithVersion expects a specific helper version (for testing).
func NewClientWithVersion(socketPath, wantVersion string, logger *zap.Logger) *Client {
	return &Client{socketPath: socketPath, wantVersion: wantVersion, logger: logger}
}

func (c *Client) client() (*rpc.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn, nil
	}

	netConn, err := net.DialTimeout("unix", c.socketPath, dialTimeout)
	if err != nil {
		return nil, domain.ErrHelperUnreachable
	}
	c.conn = jsonrpc.NewClient(netConn)
	return c.conn, nil
}

func (c *Client) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// call performs one RPC honoring context cancellation. Transport errors
// invalidate the cached connection and surface as unreachable.
func (c *Client) call(ctx context.Context, method string, args, reply any) error {
	client, err := c.client()
	if err != nil {
		return err
	}

	done := client.Go(ServiceName+"."+method, args, reply, make(chan *rpc.Call, 1)).Done
	select {
	case <-ctx.Done():
		c.invalidate()
		return ctx.Err()
	case call := <-done:
		if call.Error != nil {
			if errors.Is(call.Error, rpc.ErrShutdown) || isTransportError(call.Error) {
				c.invalidate()
				return domain.ErrHelperUnreachable
			}
			return call.Error
		}
		return nil
	}
}

func isTransportError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, net.ErrClosed)
}

// callOp performs a mutating RPC and maps an unsuccessful OpReply to an
// error carrying the helper's reason.
func (c *Client) callOp(ctx context.Context, method string, args any) error {
	var reply OpReply
	if err := c.call(ctx, method, args, &reply); err != nil {
		return err
	}
	if !reply.OK {
		return fmt.Errorf("helper %s failed: %s", method, reply.Error)
	}
	return nil
}

// Ping verifies the helper is reachable and version-compatible. A helper
// that answers with an incompatible version is functionally unusable but
// reported distinctly so the caller can suggest a reinstall.
func (c *Client) Ping(ctx context.Context) error {
	v, err := c.Version(ctx)
	if err != nil {
		return err
	}
	if !buildinfo.Compatible(c.wantVersion, v) {
		c.logger.Warn("helper version incompatible",
			zap.String("want", c.wantVersion),
			zap.String("got", v))
		return domain.ErrHelperVersionMismatch
	}
	return nil
}

func (c *Client) Version(ctx context.Context) (string, error) {
	var reply VersionReply
	if err := c.call(ctx, "GetVersion", Empty{}, &reply); err != nil {
		return "", err
	}
	return reply.Version, nil
}

func (c *Client) ActivateBlocking(ctx context.Context, sites []string) error {
	return c.callOp(ctx, "ActivateBlocking", ActivateArgs{Sites: sites})
}

func (c *Client) DeactivateBlocking(ctx context.Context) error {
	return c.callOp(ctx, "DeactivateBlocking", Empty{})
}

func (c *Client) IsBlockingActive(ctx context.Context) (bool, error) {
	var reply BoolReply
	if err := c.call(ctx, "IsBlockingActive", Empty{}, &reply); err != nil {
		return false, err
	}
	return reply.Value, nil
}

func (c *Client) BlockedSites(ctx context.Context) ([]string, error) {
	var reply SitesReply
	if err := c.call(ctx, "GetBlockedSites", Empty{}, &reply); err != nil {
		return nil, err
	}
	return reply.Sites, nil
}

func (c *Client) UpdateSchedule(ctx context.Context, cfg domain.HelperConfiguration) error {
	return c.callOp(ctx, "UpdateSchedule", UpdateScheduleArgs{
		Schedule: cfg.DaySchedules,
		Sites:    cfg.BlockedSites,
	})
}

func (c *Client) SetScheduleEnabled(ctx context.Context, enabled bool) error {
	return c.callOp(ctx, "SetScheduleEnabled", SetEnabledArgs{Enabled: enabled})
}

func (c *Client) UninstallHelper(ctx context.Context) error {
	return c.callOp(ctx, "UninstallHelper", Empty{})
}

// Close releases the cached connection.
func (c *Client) Close() error {
	c.invalidate()
	return nil
}

var _ domain.HelperClient = (*Client)(nil)
