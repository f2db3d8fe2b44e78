package apis_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alwitt/goutils"
	"github.com/alwitt/syncbridge/apis"
	"github.com/alwitt/syncbridge/bridge"
	"github.com/alwitt/syncbridge/common"
	"github.com/alwitt/syncbridge/core"
	"github.com/alwitt/syncbridge/mocks"
	"github.com/alwitt/syncbridge/pipeline"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type fakeStatusSource struct {
	registry      core.ClientRegistry
	subscriptions core.SubscriptionManager
	timing        bridge.TimingAggregator
	failures      uint64
}

func (s *fakeStatusSource) Registry() core.ClientRegistry           { return s.registry }
func (s *fakeStatusSource) Subscriptions() core.SubscriptionManager { return s.subscriptions }
func (s *fakeStatusSource) Timing() bridge.TimingAggregator         { return s.timing }
func (s *fakeStatusSource) ReplayFailures() uint64                  { return s.failures }

func TestStatusAPI(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	localServers := []string{"nats://10.0.0.1:4222"}
	remoteServers := []string{"nats://10.1.0.1:4222"}

	mockSupervisor := &mocks.ConnectionSupervisor{}
	registry, err := core.GetClientRegistry(mockSupervisor, localServers)
	assert.Nil(err)
	subscriptions, err := core.GetSubscriptionManager(registry)
	assert.Nil(err)
	source := &fakeStatusSource{
		registry:      registry,
		subscriptions: subscriptions,
		timing:        bridge.GetTimingAggregator(),
		failures:      2,
	}

	defaultConn := &mocks.Connection{}
	defaultConn.On("Endpoints").Return(localServers)
	remoteConn := &mocks.Connection{}
	remoteConn.On("Endpoints").Return(remoteServers)
	mockSupervisor.On("Open", mock.Anything, localServers).Return(defaultConn, nil).Once()

	mockIngest := &mocks.Processor{}
	apiConfig := &common.APIServerConfig{
		Logging: common.HTTPRequestLogging{RequestIDHeader: "Syncbridge-Request-ID"},
	}
	uut, err := apis.GetAPIRestStatusHandler(source, mockIngest, true, apiConfig)
	assert.Nil(err)

	router := uut.DefineRouter("/")
	router.Use(func(next http.Handler) http.Handler {
		return uut.LoggingMiddleware(next.ServeHTTP)
	})

	call := func(method, path string, body []byte) *httptest.ResponseRecorder {
		var req *http.Request
		if body != nil {
			req = httptest.NewRequest(method, path, bytes.NewReader(body))
		} else {
			req = httptest.NewRequest(method, path, nil)
		}
		respRecorder := httptest.NewRecorder()
		router.ServeHTTP(respRecorder, req)
		return respRecorder
	}

	// Case 0: alive
	{
		testReqID := uuid.NewString()
		req := httptest.NewRequest("GET", "/alive", nil)
		req.Header.Add("Syncbridge-Request-ID", testReqID)
		respRecorder := httptest.NewRecorder()
		router.ServeHTTP(respRecorder, req)
		assert.Equal(http.StatusOK, respRecorder.Code)
		assert.Equal(testReqID, respRecorder.Header().Get("Syncbridge-Request-ID"))
		var msg goutils.RestAPIBaseResponse
		assert.Nil(json.Unmarshal(respRecorder.Body.Bytes(), &msg))
		assert.True(msg.Success)
		assert.Equal(testReqID, msg.RequestID)
	}

	// Case 1: request ID is generated when the caller does not provide one
	{
		resp := call("GET", "/alive", nil)
		assert.Equal(http.StatusOK, resp.Code)
		generated := resp.Header().Get("Syncbridge-Request-ID")
		assert.NotEmpty(generated)
		var msg goutils.RestAPIBaseResponse
		assert.Nil(json.Unmarshal(resp.Body.Bytes(), &msg))
		assert.Equal(generated, msg.RequestID)
	}

	// Case 2: ready follows the default connection
	{
		defaultConn.On("State").Return(core.StateConnected).Once()
		assert.Equal(http.StatusOK, call("GET", "/ready", nil).Code)
		defaultConn.On("State").Return(core.StateReconnecting).Once()
		resp := call("GET", "/ready", nil)
		assert.Equal(http.StatusInternalServerError, resp.Code)
		var msg goutils.RestAPIBaseResponse
		assert.Nil(json.Unmarshal(resp.Body.Bytes(), &msg))
		assert.False(msg.Success)
	}

	// Case 3: status lists connections and subscriptions
	{
		remoteConn.On("Subscribe", "EVENTS.sync", mock.Anything).Return(nil).Once()
		assert.Nil(subscriptions.Subscribe(remoteConn, "EVENTS.sync", "sync-event", func(_ *nats.Msg) {}))
		defaultConn.On("State").Return(core.StateConnected).Twice()
		remoteConn.On("State").Return(core.StateDisconnected).Once()

		resp := call("GET", "/v1/status", nil)
		assert.Equal(http.StatusOK, resp.Code)
		var msg apis.APIRestRespStatus
		assert.Nil(json.Unmarshal(resp.Body.Bytes(), &msg))
		assert.True(msg.Success)
		assert.Equal(core.ClientConnected, msg.DefaultStatus)
		assert.Len(msg.Connections, 2)
		assert.Equal(localServers, msg.Connections[0].Endpoints)
		assert.Equal(core.ClientConnected, msg.Connections[0].Status)
		assert.Equal(remoteServers, msg.Connections[1].Endpoints)
		assert.Equal(core.ClientNotConnected, msg.Connections[1].Status)
		assert.Len(msg.Subscriptions, 1)
		assert.Equal("sync-event", msg.Subscriptions[0].Handler)
		assert.Equal(uint64(2), msg.ReplayFailures)
	}

	// Case 4: timing metrics
	{
		source.timing.Record("parseMessage", 0.1)
		source.timing.Record("parseMessage", 0.3)

		resp := call("GET", "/v1/timing", nil)
		assert.Equal(http.StatusOK, resp.Code)
		var all apis.APIRestRespAllTiming
		assert.Nil(json.Unmarshal(resp.Body.Bytes(), &all))
		assert.Len(all.Operations, 1)

		resp = call("GET", "/v1/timing/parseMessage", nil)
		assert.Equal(http.StatusOK, resp.Code)
		var one apis.APIRestRespOneTiming
		assert.Nil(json.Unmarshal(resp.Body.Bytes(), &one))
		assert.Equal(uint64(2), one.Metric.Count)
		assert.InDelta(0.2, one.Metric.Average, 1e-9)

		assert.Equal(http.StatusNotFound, call("GET", "/v1/timing/unknown", nil).Code)
	}

	// Case 5: ingest a local record
	{
		mockIngest.On("Process", mock.Anything, mock.AnythingOfType("pipeline.Request")).Run(
			func(args mock.Arguments) {
				req := args.Get(1).(pipeline.Request)
				assert.True(req.Republish)
				assert.True(req.CertificateVerify)
				assert.Equal("FHIR", req.DataFormat)
				assert.Equal("Patient", req.Payload["resourceType"])
				assert.Empty(req.OriginID)
				assert.Equal("http://example.com/v1/data/FHIR", req.OriginURL)
			},
		).Return(pipeline.Result{RecordLocation: "FHIR/1"}, nil).Once()

		resp := call("POST", "/v1/data/FHIR", []byte(`{"resourceType": "Patient"}`))
		assert.Equal(http.StatusOK, resp.Code)
		var msg apis.APIRestRespIngest
		assert.Nil(json.Unmarshal(resp.Body.Bytes(), &msg))
		assert.Equal("FHIR/1", msg.RecordLocation)
	}

	// Case 6: ingest failures
	{
		assert.Equal(http.StatusBadRequest, call("POST", "/v1/data/FHIR", []byte("not json")).Code)

		mockIngest.On("Process", mock.Anything, mock.Anything).Return(
			pipeline.Result{RecordLocation: "HL7/1"}, fmt.Errorf("dummy broadcast failure"),
		).Once()
		assert.Equal(
			http.StatusInternalServerError, call("POST", "/v1/data/HL7", []byte(`{}`)).Code,
		)
	}

	// Case 7: unknown path
	{
		assert.Equal(http.StatusNotFound, call("GET", "/v1/unknown", nil).Code)
	}

	mockIngest.AssertExpectations(t)
	defaultConn.AssertExpectations(t)
	remoteConn.AssertExpectations(t)
}
