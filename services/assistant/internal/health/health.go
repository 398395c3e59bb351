package health

import (
	"context"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/sli-cka/vikunja-voice-assistant/shared/logging"
)

// VikunjaService is the health service name that follows task-service connectivity
const VikunjaService = "vikunja"

const probeTimeout = 10 * time.Second

// Prober reports whether the task service is reachable with the configured token
type Prober interface {
	TestConnection(ctx context.Context) bool
}

// Scheduler runs fn every interval until the returned stop func is called
type Scheduler interface {
	Every(interval time.Duration, fn func(ctx context.Context)) (stop func())
}

// Server exposes grpc.health.v1 and reflection
type Server struct {
	grpc   *grpc.Server
	health *grpchealth.Server
	prober Prober
	logger *logging.Logger

	mu      sync.Mutex
	serving bool
}

// New creates a health server. The vikunja service starts out NOT_SERVING
// until the first probe succeeds.
func New(prober Prober, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}

	grpcServer := grpc.NewServer()
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)

	// Enable reflection for debugging tools like grpcurl
	reflection.Register(grpcServer)

	hs.SetServingStatus(VikunjaService, healthpb.HealthCheckResponse_NOT_SERVING)

	return &Server{
		grpc:   grpcServer,
		health: hs,
		prober: prober,
		logger: logger,
	}
}

// Probe tests the task-service connection once and records the result
func (s *Server) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	ok := s.prober.TestConnection(ctx)

	s.mu.Lock()
	changed := ok != s.serving
	s.serving = ok
	s.mu.Unlock()

	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(VikunjaService, status)

	if changed {
		s.logger.Info("Vikunja health is now %s", status)
	}
	return ok
}

// Watch probes once now and then on every interval
func (s *Server) Watch(ctx context.Context, sched Scheduler, interval time.Duration) (stop func()) {
	s.Probe(ctx)
	return sched.Every(interval, func(ctx context.Context) {
		s.Probe(ctx)
	})
}

// Check answers a health request without going through the network
func (s *Server) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := s.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.Status, nil
}

// Listen serves on the given port until ctx is cancelled
func (s *Server) Listen(ctx context.Context, port string) error {
	listener, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}
	s.logger.Info("gRPC health server listening on port %s", port)
	return s.Serve(ctx, listener)
}

// Serve blocks on listener and stops gracefully when ctx is cancelled
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.grpc.GracefulStop()
	}()
	return s.grpc.Serve(listener)
}
