package bridge_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alwitt/syncbridge/bridge"
	"github.com/alwitt/syncbridge/common"
	"github.com/alwitt/syncbridge/core"
	"github.com/alwitt/syncbridge/durable"
	"github.com/alwitt/syncbridge/mocks"
	"github.com/alwitt/syncbridge/pipeline"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestBridgeEndToEnd(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()
	wg := sync.WaitGroup{}
	defer wg.Wait()

	localSrv := natsserver.RunRandClientPortServer()
	defer localSrv.Shutdown()
	remoteSrv := natsserver.RunRandClientPortServer()
	defer remoteSrv.Shutdown()

	supervisor, err := core.GetNATSConnectionSupervisor(core.NATSConnectParams{
		ClientName:       "ut-bridge",
		ConnectTimeout:   time.Second,
		ReconnectEnabled: false,
	})
	assert.Nil(err)
	registry, err := core.GetClientRegistry(supervisor, []string{localSrv.ClientURL()})
	assert.Nil(err)
	subscriptions, err := core.GetSubscriptionManager(registry)
	assert.Nil(err)

	mockLog := &mocks.Log{}
	mockProcessor := &mocks.Processor{}
	handler, err := bridge.GetSyncEventHandler(
		bridge.SyncHandlerParams{NodeID: "node-A", Topic: "SYNC"}, mockLog, mockProcessor,
	)
	assert.Nil(err)
	timing := bridge.GetTimingAggregator()

	syncSubject := fmt.Sprintf("EVENTS.%s", uuid.NewString())
	timingSubject := fmt.Sprintf("TIMING.%s", uuid.NewString())

	// Case 0: invalid parameters
	{
		_, err := bridge.GetBridge(
			utCtxt, bridge.BridgeParams{}, supervisor, registry, subscriptions, handler, timing,
		)
		assert.NotNil(err)
	}

	uut, err := bridge.GetBridge(
		utCtxt,
		bridge.BridgeParams{
			SyncSubject:    syncSubject,
			TimingSubject:  timingSubject,
			RemoteClusters: [][]string{{remoteSrv.ClientURL()}},
			TaskBuffer:     4,
		},
		supervisor,
		registry,
		subscriptions,
		handler,
		timing,
	)
	assert.Nil(err)

	replayFailures := make(chan *bridge.ReplayError, 1)
	uut.OnReplayFailure(func(err *bridge.ReplayError) {
		replayFailures <- err
	})

	assert.Nil(uut.Start(&wg))

	// Case 1: startup subscriptions
	{
		records := uut.Subscriptions().Subscriptions()
		assert.Len(records, 3)
		assert.Equal(syncSubject, records[0].Subject)
		assert.Equal([]string{localSrv.ClientURL()}, records[0].Endpoints)
		assert.Equal(syncSubject, records[1].Subject)
		assert.Equal([]string{remoteSrv.ClientURL()}, records[1].Endpoints)
		assert.Equal(timingSubject, records[2].Subject)
		assert.Equal([]string{localSrv.ClientURL()}, records[2].Endpoints)
		assert.Len(uut.Registry().Connections(), 2)
		assert.Equal(core.ClientConnected, uut.Registry().DefaultStatus(utCtxt))
	}

	localPub, err := nats.Connect(localSrv.ClientURL())
	assert.Nil(err)
	defer localPub.Close()
	remotePub, err := nats.Connect(remoteSrv.ClientURL())
	assert.Nil(err)
	defer remotePub.Close()

	payload, err := common.EncodePayload(map[string]interface{}{"id": "001"})
	assert.Nil(err)

	// Case 2: sync event from a remote cluster is forwarded and replayed
	{
		body, err := json.Marshal(&common.SyncMessage{
			OriginID: "node-B", Payload: payload, OriginEndpointURL: "https://x/y", DataFormat: "FHIR",
		})
		assert.Nil(err)
		replayed := make(chan pipeline.Request, 1)
		mockLog.On("Forward", mock.Anything, "SYNC", body).Return(
			durable.Location{Topic: "SYNC", Partition: 0, Offset: 1}, nil,
		).Once()
		mockProcessor.On("Process", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			replayed <- args.Get(1).(pipeline.Request)
		}).Return(pipeline.Result{RecordLocation: "FHIR/1"}, nil).Once()

		assert.Nil(remotePub.Publish(syncSubject, body))
		assert.Nil(remotePub.Flush())

		select {
		case <-time.After(time.Second * 2):
			assert.Fail("sync event not replayed")
		case req := <-replayed:
			assert.Equal("node-B", req.OriginID)
			assert.Equal("https://x/y", req.OriginURL)
			assert.False(req.Republish)
		}
	}

	// Case 3: local echo is suppressed
	{
		body, err := json.Marshal(&common.SyncMessage{
			OriginID: "node-A", Payload: payload, DataFormat: "FHIR",
		})
		assert.Nil(err)
		assert.Nil(localPub.Publish(syncSubject, body))
		assert.Nil(localPub.Flush())
	}

	// Case 4: timing samples are aggregated from the local cluster only
	{
		for _, elapsed := range []float64{0.1, 0.2, 0.3} {
			body, err := json.Marshal(&common.TimingSample{
				OperationName: "parseMessage", ElapsedSeconds: elapsed,
			})
			assert.Nil(err)
			assert.Nil(localPub.Publish(timingSubject, body))
			assert.Nil(remotePub.Publish(timingSubject, body))
		}
		// Invalid samples are dropped
		assert.Nil(localPub.Publish(timingSubject, []byte(`{"operation_name": "x", "elapsed_seconds": -1}`)))
		assert.Nil(localPub.Flush())
		assert.Nil(remotePub.Flush())
		assert.Eventually(func() bool {
			metric, ok := uut.Timing().Get("parseMessage")
			return ok && metric.Count == 3
		}, time.Second*2, time.Millisecond*20)
		metric, _ := uut.Timing().Get("parseMessage")
		assert.InDelta(0.6, metric.Total, 1e-9)
		assert.InDelta(0.2, metric.Average, 1e-9)
		_, ok := uut.Timing().Get("x")
		assert.False(ok)
	}

	// Case 5: replay failure raises the alert
	{
		body, err := json.Marshal(&common.SyncMessage{
			OriginID: "node-C", Payload: payload, DataFormat: "FHIR",
		})
		assert.Nil(err)
		mockLog.On("Forward", mock.Anything, "SYNC", body).Return(
			durable.Location{Topic: "SYNC", Partition: 0, Offset: 2}, nil,
		).Once()
		mockProcessor.On("Process", mock.Anything, mock.Anything).Return(
			pipeline.Result{}, fmt.Errorf("dummy pipeline error"),
		).Once()

		assert.Nil(remotePub.Publish(syncSubject, body))
		assert.Nil(remotePub.Flush())

		select {
		case <-time.After(time.Second * 2):
			assert.Fail("replay failure not reported")
		case replayErr := <-replayFailures:
			assert.Equal("node-C", replayErr.OriginID)
		}
		assert.Equal(uint64(1), uut.ReplayFailures())
	}

	// Case 6: shutdown closes every connection
	{
		assert.Nil(uut.Stop(utCtxt))
		for _, conn := range uut.Registry().Connections() {
			assert.Equal(core.StateDisconnected, conn.State())
		}
	}

	mockLog.AssertExpectations(t)
	mockProcessor.AssertExpectations(t)
}

func TestBridgeRemoteClusterUnreachable(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()
	wg := sync.WaitGroup{}
	defer wg.Wait()

	localSrv := natsserver.RunRandClientPortServer()
	defer localSrv.Shutdown()

	supervisor, err := core.GetNATSConnectionSupervisor(core.NATSConnectParams{
		ClientName: "ut-bridge-unreachable", ConnectTimeout: time.Millisecond * 500,
	})
	assert.Nil(err)
	registry, err := core.GetClientRegistry(supervisor, []string{localSrv.ClientURL()})
	assert.Nil(err)
	subscriptions, err := core.GetSubscriptionManager(registry)
	assert.Nil(err)
	handler, err := bridge.GetSyncEventHandler(
		bridge.SyncHandlerParams{NodeID: "node-A", Topic: "SYNC"}, &mocks.Log{}, &mocks.Processor{},
	)
	assert.Nil(err)

	uut, err := bridge.GetBridge(
		utCtxt,
		bridge.BridgeParams{
			SyncSubject:    "EVENTS.sync",
			TimingSubject:  "TIMING",
			RemoteClusters: [][]string{{"nats://127.0.0.1:1"}},
		},
		supervisor,
		registry,
		subscriptions,
		handler,
		bridge.GetTimingAggregator(),
	)
	assert.Nil(err)

	err = uut.Start(&wg)
	var connErr *core.ConnectionError
	assert.ErrorAs(err, &connErr)
	// The local subscription was established before the failure
	assert.Len(uut.Subscriptions().Subscriptions(), 1)

	assert.Nil(uut.Stop(utCtxt))
}

func TestBridgeStopWaitsForReplay(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()
	wg := sync.WaitGroup{}
	defer wg.Wait()

	localSrv := natsserver.RunRandClientPortServer()
	defer localSrv.Shutdown()

	supervisor, err := core.GetNATSConnectionSupervisor(core.NATSConnectParams{
		ClientName: "ut-bridge-stop", ConnectTimeout: time.Second,
	})
	assert.Nil(err)
	registry, err := core.GetClientRegistry(supervisor, []string{localSrv.ClientURL()})
	assert.Nil(err)
	subscriptions, err := core.GetSubscriptionManager(registry)
	assert.Nil(err)

	mockLog := &mocks.Log{}
	mockProcessor := &mocks.Processor{}
	handler, err := bridge.GetSyncEventHandler(
		bridge.SyncHandlerParams{NodeID: "node-A", Topic: "SYNC"}, mockLog, mockProcessor,
	)
	assert.Nil(err)

	syncSubject := fmt.Sprintf("EVENTS.%s", uuid.NewString())
	uut, err := bridge.GetBridge(
		utCtxt,
		bridge.BridgeParams{SyncSubject: syncSubject, TimingSubject: "TIMING"},
		supervisor,
		registry,
		subscriptions,
		handler,
		bridge.GetTimingAggregator(),
	)
	assert.Nil(err)
	assert.Nil(uut.Start(&wg))

	payload, err := common.EncodePayload(map[string]interface{}{"id": "001"})
	assert.Nil(err)
	body, err := json.Marshal(&common.SyncMessage{
		OriginID: "node-B", Payload: payload, OriginEndpointURL: "https://x/y", DataFormat: "FHIR",
	})
	assert.Nil(err)

	replayStarted := make(chan bool, 1)
	replayDone := false
	lock := sync.Mutex{}
	mockLog.On("Forward", mock.Anything, "SYNC", body).Return(
		durable.Location{Topic: "SYNC", Partition: 0, Offset: 1}, nil,
	).Once()
	mockProcessor.On("Process", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		replayStarted <- true
		time.Sleep(time.Millisecond * 300)
		lock.Lock()
		replayDone = true
		lock.Unlock()
	}).Return(pipeline.Result{RecordLocation: "FHIR/1"}, nil).Once()

	pub, err := nats.Connect(localSrv.ClientURL())
	assert.Nil(err)
	defer pub.Close()
	assert.Nil(pub.Publish(syncSubject, body))
	assert.Nil(pub.Flush())

	select {
	case <-time.After(time.Second * 2):
		assert.Fail("sync event not replayed")
	case <-replayStarted:
	}

	// Stop while the replay is in progress, as a shutdown signal would
	utCtxtCancel()
	stopCtxt, stopCancel := context.WithTimeout(context.Background(), time.Second*5)
	defer stopCancel()
	assert.Nil(uut.Stop(stopCtxt))
	lock.Lock()
	assert.True(replayDone)
	lock.Unlock()

	mockLog.AssertExpectations(t)
	mockProcessor.AssertExpectations(t)
}
