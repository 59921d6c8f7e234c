package rpc

import (
	"context"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/nottoday/nottoday/internal/buildinfo"
	"github.com/nottoday/nottoday/internal/domain"
)

// Backend is what the enforcer daemon exposes to the channel. Every
// mutating call triggers an immediate reconciliation pass on the daemon
// side rather than waiting for the next tick.
type Backend interface {
	Activate(ctx context.Context, sites []string) error
	Deactivate(ctx context.Context) error
	IsActive() (bool, error)
	CurrentSites() ([]string, error)
	UpdateConfiguration(schedule domain.WeekSchedule, sites []string) error
	SetScheduleEnabled(enabled bool) error
	Uninstall() error
}

// Service is the RPC receiver bound to the unix socket.
type Service struct {
	backend Backend
	version string
	logger  *zap.Logger
}

func (s *Service) ActivateBlocking(args ActivateArgs, reply *OpReply) error {
	*reply = opOutcome(s.backend.Activate(context.Background(), args.Sites))
	return nil
}

func (s *Service) DeactivateBlocking(args Empty, reply *OpReply) error {
	*reply = opOutcome(s.backend.Deactivate(context.Background()))
	return nil
}

func (s *Service) IsBlockingActive(args Empty, reply *BoolReply) error {
	active, err := s.backend.IsActive()
	if err != nil {
		return err
	}
	reply.Value = active
	return nil
}

func (s *Service) GetBlockedSites(args Empty, reply *SitesReply) error {
	sites, err := s.backend.CurrentSites()
	if err != nil {
		return err
	}
	reply.Sites = sites
	return nil
}

func (s *Service) UpdateSchedule(args UpdateScheduleArgs, reply *OpReply) error {
	*reply = opOutcome(s.backend.UpdateConfiguration(args.Schedule, args.Sites))
	return nil
}

func (s *Service) SetScheduleEnabled(args SetEnabledArgs, reply *OpReply) error {
	*reply = opOutcome(s.backend.SetScheduleEnabled(args.Enabled))
	return nil
}

func (s *Service) GetVersion(args Empty, reply *VersionReply) error {
	reply.Version = s.version
	return nil
}

// UninstallHelper tears the helper down. The backend defers process exit
// briefly so this reply is delivered before the daemon terminates.
func (s *Service) UninstallHelper(args Empty, reply *OpReply) error {
	*reply = opOutcome(s.backend.Uninstall())
	return nil
}

func opOutcome(err error) OpReply {
	if err != nil {
		return OpReply{OK: false, Error: err.Error()}
	}
	return OpReply{OK: true}
}

// Server answers the privileged channel on a unix socket.
type Server struct {
	socketPath string
	logger     *zap.Logger
	rpcServer  *rpc.Server
	listener   net.Listener

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer registers the backend under the service name.
func NewServer(socketPath string, backend Backend, logger *zap.Logger) (*Server, error) {
	return NewServerWithVersion(socketPath, backend, buildinfo.Version, logger)
}

// NewServerWithVersion reports a specific version over getVersion (for testing).
func NewServerWithVersion(socketPath string, backend Backend, version string, logger *zap.Logger) (*Server, error) {
	rpcServer := rpc.NewServer()
	svc := &Service{backend: backend, version: version, logger: logger}
	if err := rpcServer.RegisterName(ServiceName, svc); err != nil {
		return nil, err
	}
	return &Server{socketPath: socketPath, logger: logger, rpcServer: rpcServer, conns: make(map[net.Conn]struct{})}, nil
}

// Listen binds the socket. A stale socket from a previous run is removed
// first; the fresh one is restricted to root.
func (s *Server) Listen() error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	l, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return err
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		l.Close()
		return err
	}
	s.listener = l
	return nil
}

// Serve accepts connections until the context is cancelled. Each
// connection is served with the JSON-RPC codec on its own goroutine.
// Cancellation closes the listener and every open connection, so a
// stopped server cannot keep answering callers that dialed earlier.
// The socket path stays in place: a successor removes it in Listen,
// and unlinking here could race a successor that already rebound it.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	go func() {
		<-ctx.Done()
		s.listener.Close()
		s.closeConns()
	}()

	s.logger.Info("rpc server listening", zap.String("socket", s.socketPath))

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			s.logger.Warn("rpc accept failed", zap.Error(err))
			continue
		}
		s.track(conn)
		go func() {
			s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
			s.untrack(conn)
		}()
	}
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
}
