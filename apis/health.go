package apis

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/syncbridge/common"
	"github.com/alwitt/syncbridge/core"
	"github.com/apex/log"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServiceName gRPC health service name reported by the bridge
const HealthServiceName = "syncbridge"

// HealthReporter periodically reports the connection status, and reflects the status of
// the local cluster connection in the gRPC health service
type HealthReporter struct {
	goutils.Component
	ctxt     context.Context
	registry core.ClientRegistry
	server   *health.Server
	timer    common.IntervalTimer
}

// GetHealthReporter define a new HealthReporter
func GetHealthReporter(
	ctxt context.Context, registry core.ClientRegistry, wg *sync.WaitGroup,
) (*HealthReporter, error) {
	timer, err := common.GetIntervalTimerInstance("status-report", ctxt, wg)
	if err != nil {
		return nil, err
	}
	server := health.NewServer()
	server.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	server.SetServingStatus(HealthServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthReporter{
		Component: goutils.Component{
			LogTags: log.Fields{"module": "apis", "component": "health-reporter"},
		},
		ctxt:     ctxt,
		registry: registry,
		server:   server,
		timer:    timer,
	}, nil
}

// Server the gRPC health service
func (h *HealthReporter) Server() *health.Server {
	return h.server
}

// Report log the status of every connection, and update the gRPC health status
func (h *HealthReporter) Report() error {
	for _, conn := range h.registry.Connections() {
		log.WithFields(h.LogTags).Infof(
			"%s: %s", strings.Join(conn.Endpoints(), ","), h.registry.Status(conn),
		)
	}
	servingStatus := healthpb.HealthCheckResponse_NOT_SERVING
	if h.registry.DefaultStatus(h.ctxt) == core.ClientConnected {
		servingStatus = healthpb.HealthCheckResponse_SERVING
	}
	h.server.SetServingStatus("", servingStatus)
	h.server.SetServingStatus(HealthServiceName, servingStatus)
	return nil
}

// Start report once, then every interval
func (h *HealthReporter) Start(interval time.Duration) error {
	if err := h.Report(); err != nil {
		return err
	}
	return h.timer.Start(interval, h.Report, false)
}

// Stop stop reporting, and mark the services as not serving
func (h *HealthReporter) Stop() error {
	if err := h.timer.Stop(); err != nil {
		log.WithError(err).WithFields(h.LogTags).Error("Failed to stop status report timer")
	}
	h.server.Shutdown()
	return nil
}
