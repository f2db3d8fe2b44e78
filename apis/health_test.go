package apis_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alwitt/syncbridge/apis"
	"github.com/alwitt/syncbridge/core"
	"github.com/alwitt/syncbridge/mocks"
	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestHealthReporter(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()
	wg := sync.WaitGroup{}
	defer wg.Wait()

	localServers := []string{"nats://10.0.0.1:4222"}
	mockSupervisor := &mocks.ConnectionSupervisor{}
	registry, err := core.GetClientRegistry(mockSupervisor, localServers)
	assert.Nil(err)

	defaultConn := &mocks.Connection{}
	defaultConn.On("Endpoints").Return(localServers)
	mockSupervisor.On("Open", mock.Anything, localServers).Return(defaultConn, nil).Once()

	uut, err := apis.GetHealthReporter(utCtxt, registry, &wg)
	assert.Nil(err)

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		resp, err := uut.Server().Check(
			utCtxt, &healthpb.HealthCheckRequest{Service: service},
		)
		assert.Nil(err)
		return resp.Status
	}

	// Case 0: not serving before the first report
	{
		assert.Equal(healthpb.HealthCheckResponse_NOT_SERVING, check(apis.HealthServiceName))
	}

	// Case 1: serving once the local cluster is connected
	{
		defaultConn.On("State").Return(core.StateConnected)
		assert.Nil(uut.Report())
		assert.Equal(healthpb.HealthCheckResponse_SERVING, check(apis.HealthServiceName))
		assert.Equal(healthpb.HealthCheckResponse_SERVING, check(""))
	}

	// Case 2: periodic report follows the connection status
	{
		defaultConn.ExpectedCalls = nil
		defaultConn.On("Endpoints").Return(localServers)
		defaultConn.On("State").Return(core.StateReconnecting)
		assert.Nil(uut.Start(time.Millisecond * 20))
		assert.Eventually(func() bool {
			return check(apis.HealthServiceName) == healthpb.HealthCheckResponse_NOT_SERVING
		}, time.Second, time.Millisecond*10)
	}

	assert.Nil(uut.Stop())
}
