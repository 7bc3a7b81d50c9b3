package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server provides HTTP endpoints for health monitoring.
type Server struct {
	monitor *Monitor
	server  *http.Server
}

// NewServer creates a new health server.
func NewServer(monitor *Monitor, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		monitor: monitor,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Start starts the HTTP server.
func (s *Server) Start() error {
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := Aggregate(s.monitor.CheckHealth(r.Context()))

	response := map[string]string{"status": string(status)}
	w.Header().Set("Content-Type", "application/json")

	if status == StatusCritical {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(response)
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	chains := s.monitor.CheckHealth(r.Context())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(HealthReport{
		SystemStatus: Aggregate(chains),
		Chains:       chains,
	})
}

// GRPCServer serves grpc.health.v1 with one service name per chain. A chain is
// SERVING only while its listener is subscribed over a live connection.
type GRPCServer struct {
	monitor  *Monitor
	port     int
	interval time.Duration
	log      *slog.Logger

	server *grpc.Server
	health *grpchealth.Server
	known  map[string]struct{}
}

// NewGRPCServer creates the gRPC health server. Statuses refresh every interval.
func NewGRPCServer(monitor *Monitor, port int, interval time.Duration, log *slog.Logger) *GRPCServer {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	g := &GRPCServer{
		monitor:  monitor,
		port:     port,
		interval: interval,
		log:      log,
		server:   grpc.NewServer(),
		health:   grpchealth.NewServer(),
		known:    make(map[string]struct{}),
	}
	healthpb.RegisterHealthServer(g.server, g.health)
	return g
}

// Start listens on the port and serves until Stop. Statuses refresh until ctx is done.
func (g *GRPCServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", g.port))
	if err != nil {
		return fmt.Errorf("failed to listen on %d: %w", g.port, err)
	}

	go func() {
		ticker := time.NewTicker(g.interval)
		defer ticker.Stop()
		for {
			g.Update(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	g.log.Info("grpc health server listening", "port", g.port)
	return g.server.Serve(lis)
}

// Update pushes the current listener statuses into the health service.
func (g *GRPCServer) Update(ctx context.Context) {
	report := g.monitor.CheckHealth(ctx)

	seen := make(map[string]struct{}, len(report))
	for id, h := range report {
		seen[id] = struct{}{}
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if h.Connected {
			status = healthpb.HealthCheckResponse_SERVING
		}
		g.health.SetServingStatus(id, status)
	}
	for id := range g.known {
		if _, ok := seen[id]; !ok {
			g.health.SetServingStatus(id, healthpb.HealthCheckResponse_SERVICE_UNKNOWN)
		}
	}
	g.known = seen
	g.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
}

// Check answers a health request directly.
func (g *GRPCServer) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := g.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// Stop shuts the server down and marks everything NOT_SERVING.
func (g *GRPCServer) Stop() {
	g.health.Shutdown()
	g.server.GracefulStop()
}
