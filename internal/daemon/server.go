package daemon

import (
	"context"
	"fmt"
	"net"
	"os"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"

	"github.com/matheus3301/vksync/internal/bus"
	"github.com/matheus3301/vksync/internal/session"
	"github.com/matheus3301/vksync/internal/status"
)

// Health service names reported by the daemon. The empty name is the
// overall status.
const (
	ServiceSession = "vksync.Session"
	ServiceRoster  = "vksync.Roster"
)

// StateHeader carries the connection state on every response.
const StateHeader = "x-vksync-state"

// Server manages the gRPC server lifecycle for a session daemon.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer creates a gRPC server bound to the session's Unix domain socket.
// It serves the standard health service; every response carries the current
// connection state in the StateHeader header.
func NewServer(p Params, machine *status.Machine, logger *zap.Logger) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = session.SocketPath(p.SessionName)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}

	// Set socket permissions to 0600.
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	srv := grpc.NewServer(grpc.UnaryInterceptor(stateInterceptor(machine)))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	s := &Server{
		grpcServer: srv,
		health:     hs,
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}
	s.setState(machine.Current())
	s.setRoster(false)
	return s, nil
}

func stateInterceptor(machine *status.Machine) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		_ = grpc.SetHeader(ctx, metadata.Pairs(StateHeader, string(machine.Current())))
		return handler(ctx, req)
	}
}

// Watch keeps the health statuses in step with bus events until the returned
// function is called.
func (s *Server) Watch(b *bus.Bus) func() {
	events, unsub := b.SubscribeKinds(16, bus.KindStatusChanged, bus.KindRosterSynced)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case evt := <-events:
				switch p := evt.Payload.(type) {
				case status.StatusChange:
					s.setState(p.To)
				case bus.RosterSynced:
					s.setRoster(p.Err == nil)
				}
			}
		}
	}()
	return func() {
		unsub()
		close(done)
	}
}

func (s *Server) setState(st status.State) {
	serving := healthpb.HealthCheckResponse_NOT_SERVING
	if st == status.Ready || st == status.Degraded {
		serving = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", serving)
	s.health.SetServingStatus(ServiceSession, serving)
}

func (s *Server) setRoster(ok bool) {
	serving := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		serving = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceRoster, serving)
}

// Start begins serving gRPC requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("gRPC server starting", zap.String("socket", s.socketPath))
	return s.grpcServer.Serve(s.listener)
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *Server) Stop(_ context.Context) {
	s.logger.Info("gRPC server stopping")
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	_ = os.Remove(s.socketPath)
}
