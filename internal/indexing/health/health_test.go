package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vietddude/chainevents/internal/core/cursor"
)

type stubTarget struct {
	id        string
	state     cursor.State
	connected bool
	watermark uint64
	head      uint64
	headErr   error
	headCalls int
}

func (s *stubTarget) ChainID() string     { return s.id }
func (s *stubTarget) State() cursor.State { return s.state }
func (s *stubTarget) Watermark() uint64   { return s.watermark }
func (s *stubTarget) Healthy() bool {
	return s.state == cursor.StateSubscribed && s.connected
}
func (s *stubTarget) LatestBlock(ctx context.Context) (uint64, error) {
	s.headCalls++
	return s.head, s.headErr
}

func monitorOf(targets ...*stubTarget) *Monitor {
	return NewMonitor(func() []Target {
		out := make([]Target, len(targets))
		for i, t := range targets {
			out[i] = t
		}
		return out
	}, 0)
}

func TestMonitor_Healthy(t *testing.T) {
	target := &stubTarget{id: "1", state: cursor.StateSubscribed, connected: true, watermark: 95, head: 100}
	report := monitorOf(target).CheckHealth(context.Background())

	h := report["1"]
	if h.Status != StatusHealthy {
		t.Errorf("expected healthy, got %s", h.Status)
	}
	if h.BlockLag != 5 {
		t.Errorf("expected lag 5, got %d", h.BlockLag)
	}
	if h.LatestBlock != 100 {
		t.Errorf("expected latest 100, got %d", h.LatestBlock)
	}
}

func TestMonitor_Degraded(t *testing.T) {
	disconnected := &stubTarget{id: "1", state: cursor.StateSubscribed, watermark: 10, head: 10}
	noHead := &stubTarget{id: "2", state: cursor.StateSubscribed, connected: true, headErr: errors.New("rpc down")}
	report := monitorOf(disconnected, noHead).CheckHealth(context.Background())

	if report["1"].Status != StatusDegraded {
		t.Errorf("disconnected: expected degraded, got %s", report["1"].Status)
	}
	if report["2"].Status != StatusDegraded {
		t.Errorf("no head: expected degraded, got %s", report["2"].Status)
	}
	if report["2"].Error != "rpc down" {
		t.Errorf("expected error to be reported, got %q", report["2"].Error)
	}
	if Aggregate(report) != StatusDegraded {
		t.Errorf("expected aggregate degraded, got %s", Aggregate(report))
	}
}

func TestMonitor_Critical(t *testing.T) {
	stopped := &stubTarget{id: "1", state: cursor.StateUnsubscribed, connected: true}
	ok := &stubTarget{id: "2", state: cursor.StateSubscribed, connected: true}
	report := monitorOf(stopped, ok).CheckHealth(context.Background())

	if report["1"].Status != StatusCritical {
		t.Errorf("expected critical, got %s", report["1"].Status)
	}
	if stopped.headCalls != 0 {
		t.Errorf("head should not be read for a stopped listener")
	}
	if Aggregate(report) != StatusCritical {
		t.Errorf("expected aggregate critical, got %s", Aggregate(report))
	}
}

func TestMonitor_LagIsNotJudged(t *testing.T) {
	quiet := &stubTarget{id: "1", state: cursor.StateSubscribed, connected: true, watermark: 10, head: 10_000}
	h := monitorOf(quiet).CheckHealth(context.Background())["1"]
	if h.Status != StatusHealthy {
		t.Errorf("expected healthy, got %s", h.Status)
	}
	if h.BlockLag != 9_990 {
		t.Errorf("expected lag 9990, got %d", h.BlockLag)
	}
}

func TestMonitor_CachesReport(t *testing.T) {
	target := &stubTarget{id: "1", state: cursor.StateSubscribed, connected: true}
	m := NewMonitor(func() []Target { return []Target{target} }, 10*time.Second)
	now := time.Unix(1000, 0)
	m.now = func() time.Time { return now }

	m.CheckHealth(context.Background())
	m.CheckHealth(context.Background())
	if target.headCalls != 1 {
		t.Fatalf("expected cached report, head read %d times", target.headCalls)
	}

	now = now.Add(11 * time.Second)
	m.CheckHealth(context.Background())
	if target.headCalls != 2 {
		t.Fatalf("expected refresh after ttl, head read %d times", target.headCalls)
	}
}

func TestServer_Health(t *testing.T) {
	target := &stubTarget{id: "1", state: cursor.StateSubscribed, connected: true}
	srv := NewServer(monitorOf(target), 0)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	target.state = cursor.StateUnsubscribed
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestServer_Detailed(t *testing.T) {
	target := &stubTarget{id: "hub", state: cursor.StateSubscribed, connected: true, watermark: 7, head: 9}
	srv := NewServer(monitorOf(target), 0)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/detailed", nil))

	var report HealthReport
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.SystemStatus != StatusHealthy {
		t.Errorf("expected healthy, got %s", report.SystemStatus)
	}
	if got := report.Chains["hub"]; got.State != "subscribed" || got.BlockLag != 2 {
		t.Errorf("unexpected chain report %+v", got)
	}
}

func TestGRPCServer_Update(t *testing.T) {
	live := &stubTarget{id: "1", state: cursor.StateSubscribed, connected: true}
	down := &stubTarget{id: "2", state: cursor.StateSubscribed}
	targets := []Target{live, down}
	g := NewGRPCServer(NewMonitor(func() []Target { return targets }, 0), 0, time.Second, nil)
	ctx := context.Background()

	g.Update(ctx)
	if s, err := g.Check(ctx, "1"); err != nil || s != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("chain 1: expected SERVING, got %v (%v)", s, err)
	}
	if s, err := g.Check(ctx, "2"); err != nil || s != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("chain 2: expected NOT_SERVING, got %v (%v)", s, err)
	}
	if s, err := g.Check(ctx, ""); err != nil || s != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("overall: expected SERVING, got %v (%v)", s, err)
	}

	targets = []Target{live}
	g.Update(ctx)
	if s, _ := g.Check(ctx, "2"); s != healthpb.HealthCheckResponse_SERVICE_UNKNOWN {
		t.Errorf("removed chain: expected SERVICE_UNKNOWN, got %v", s)
	}
}

type lifecycleTarget struct {
	*stubTarget
	lc *cursor.Lifecycle
}

func (l lifecycleTarget) Lifecycle() *cursor.Lifecycle { return l.lc }

func TestMonitor_ReportsThroughput(t *testing.T) {
	lc := cursor.NewLifecycle("1")
	lc.RecordBlock(10)
	target := lifecycleTarget{
		stubTarget: &stubTarget{id: "1", state: cursor.StateSubscribed, connected: true},
		lc:         lc,
	}
	m := NewMonitor(func() []Target { return []Target{target} }, 0)

	h := m.CheckHealth(context.Background())["1"]
	if h.LastBlockAt == nil {
		t.Fatal("expected last block time from the lifecycle")
	}
}
