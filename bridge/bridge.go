// Copyright 2022 The syncbridge Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bridge

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/alwitt/goutils"
	"github.com/alwitt/syncbridge/common"
	"github.com/alwitt/syncbridge/core"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go"
)

// Handler names recorded against each subscription
const (
	SyncHandlerName   = "sync-event"
	TimingHandlerName = "timing-event"
)

// ReplayFailureHandler alert callback invoked when a sync event could not be replayed
type ReplayFailureHandler func(err *ReplayError)

// Bridge runtime context of the sync bridge. It owns the connections, the subscriptions,
// and the event loop every inbound message is processed on.
type Bridge interface {
	// Start establish the subscriptions and start processing inbound messages
	Start(wg *sync.WaitGroup) error
	// Stop stop processing, and close every connection. Returns after the inbound message
	// being processed, if any, is complete.
	Stop(ctxt context.Context) error
	// OnReplayFailure install the replay failure alert callback
	OnReplayFailure(handler ReplayFailureHandler)
	// ReplayFailures number of sync events which failed replay so far
	ReplayFailures() uint64
	// Registry the client registry
	Registry() core.ClientRegistry
	// Subscriptions the subscription manager
	Subscriptions() core.SubscriptionManager
	// Timing the timing aggregator
	Timing() TimingAggregator
}

// BridgeParams parameters of the Bridge
type BridgeParams struct {
	// SyncSubject subject the sync events are published on
	SyncSubject string `validate:"required"`
	// TimingSubject subject the timing samples are published on
	TimingSubject string `validate:"required"`
	// RemoteClusters server lists of the remote clusters. One connection is opened to each.
	RemoteClusters [][]string
	// TaskBuffer size of the inbound message buffer ahead of the event loop
	TaskBuffer int `validate:"gte=0"`
}

// syncEventTask one sync event pending processing on the event loop
type syncEventTask struct {
	source  string
	subject string
	body    []byte
}

// timingEventTask one timing sample pending processing on the event loop
type timingEventTask struct {
	source  string
	subject string
	body    []byte
}

// bridgeImpl implements Bridge
type bridgeImpl struct {
	goutils.Component
	params        BridgeParams
	operationCtxt context.Context
	supervisor    core.ConnectionSupervisor
	registry      core.ClientRegistry
	subscriptions core.SubscriptionManager
	syncHandler   SyncEventHandler
	timing        TimingAggregator
	processor     common.TaskProcessor
	validate      *validator.Validate

	lock            sync.RWMutex
	onReplayFailure ReplayFailureHandler
	replayFailures  uint64
}

// GetBridge define a new Bridge
func GetBridge(
	ctxt context.Context,
	params BridgeParams,
	supervisor core.ConnectionSupervisor,
	registry core.ClientRegistry,
	subscriptions core.SubscriptionManager,
	syncHandler SyncEventHandler,
	timing TimingAggregator,
) (Bridge, error) {
	validate := validator.New()
	if err := validate.Struct(&params); err != nil {
		return nil, err
	}
	processor, err := common.GetNewTaskProcessorInstance("bridge", params.TaskBuffer, ctxt)
	if err != nil {
		return nil, err
	}
	logTags := log.Fields{
		"module": "bridge", "component": "bridge", "instance": params.SyncSubject,
	}
	instance := &bridgeImpl{
		Component:     goutils.Component{LogTags: logTags},
		params:        params,
		operationCtxt: ctxt,
		supervisor:    supervisor,
		registry:      registry,
		subscriptions: subscriptions,
		syncHandler:   syncHandler,
		timing:        timing,
		processor:     processor,
		validate:      validate,
	}
	if err := processor.SetTaskExecutionMap(map[reflect.Type]common.TaskHandler{
		reflect.TypeOf(syncEventTask{}):   instance.processSyncEvent,
		reflect.TypeOf(timingEventTask{}): instance.processTimingEvent,
	}); err != nil {
		return nil, err
	}
	processor.OnTaskFailure(instance.taskFailed)
	return instance, nil
}

// Registry the client registry
func (b *bridgeImpl) Registry() core.ClientRegistry {
	return b.registry
}

// Subscriptions the subscription manager
func (b *bridgeImpl) Subscriptions() core.SubscriptionManager {
	return b.subscriptions
}

// Timing the timing aggregator
func (b *bridgeImpl) Timing() TimingAggregator {
	return b.timing
}

// OnReplayFailure install the replay failure alert callback
func (b *bridgeImpl) OnReplayFailure(handler ReplayFailureHandler) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.onReplayFailure = handler
}

// ReplayFailures number of sync events which failed replay so far
func (b *bridgeImpl) ReplayFailures() uint64 {
	return atomic.LoadUint64(&b.replayFailures)
}

// Start establish the subscriptions and start processing inbound messages
//
// The sync subject is subscribed on the default connection, then on one new connection
// per remote cluster. The timing subject is only subscribed on the default connection.
func (b *bridgeImpl) Start(wg *sync.WaitGroup) error {
	if err := b.processor.StartEventLoop(wg); err != nil {
		log.WithError(err).WithFields(b.LogTags).Error("Failed to start event loop")
		return err
	}

	defaultConn, err := b.registry.GetOrCreateDefault(b.operationCtxt)
	if err != nil {
		log.WithError(err).WithFields(b.LogTags).Error("Unable to connect to local cluster")
		return err
	}
	if err := b.subscribeSync(defaultConn); err != nil {
		return err
	}

	for _, servers := range b.params.RemoteClusters {
		remoteConn, err := b.supervisor.Open(b.operationCtxt, servers)
		if err != nil {
			log.WithError(err).WithFields(b.LogTags).Errorf(
				"Unable to connect to remote cluster %s", strings.Join(servers, ","),
			)
			return err
		}
		// Track the connection even if the subscription fails, so shutdown closes it
		b.registry.Register(remoteConn)
		if err := b.subscribeSync(remoteConn); err != nil {
			return err
		}
	}

	if err := b.subscriptions.Subscribe(
		defaultConn, b.params.TimingSubject, TimingHandlerName, b.timingMsgHandler(defaultConn),
	); err != nil {
		return err
	}

	log.WithFields(b.LogTags).Infof(
		"Bridge started with %d subscriptions", len(b.subscriptions.Subscriptions()),
	)
	return nil
}

// Stop stop processing, wait for the event loop to exit, and close every connection
func (b *bridgeImpl) Stop(ctxt context.Context) error {
	if err := b.processor.StopEventLoop(); err != nil {
		log.WithError(err).WithFields(b.LogTags).Error("Failed to stop event loop")
	}
	b.registry.ShutdownAll(ctxt)
	return nil
}

func (b *bridgeImpl) subscribeSync(conn core.Connection) error {
	source := strings.Join(conn.Endpoints(), ",")
	return b.subscriptions.Subscribe(
		conn, b.params.SyncSubject, SyncHandlerName, func(msg *nats.Msg) {
			task := syncEventTask{source: source, subject: msg.Subject, body: msg.Data}
			if err := b.processor.Submit(b.operationCtxt, task); err != nil {
				log.WithError(err).WithFields(b.LogTags).Errorf(
					"Unable to queue sync event from %s", source,
				)
			}
		},
	)
}

func (b *bridgeImpl) timingMsgHandler(conn core.Connection) nats.MsgHandler {
	source := strings.Join(conn.Endpoints(), ",")
	return func(msg *nats.Msg) {
		task := timingEventTask{source: source, subject: msg.Subject, body: msg.Data}
		if err := b.processor.Submit(b.operationCtxt, task); err != nil {
			log.WithError(err).WithFields(b.LogTags).Errorf(
				"Unable to queue timing sample from %s", source,
			)
		}
	}
}

// processSyncEvent event loop handler for syncEventTask
func (b *bridgeImpl) processSyncEvent(param interface{}) error {
	task, ok := param.(syncEventTask)
	if !ok {
		return fmt.Errorf("processing unexpected task param type %s", reflect.TypeOf(param))
	}
	result, err := b.syncHandler.Handle(b.operationCtxt, task.subject, task.body)
	if err != nil {
		return err
	}
	log.WithFields(b.LogTags).Debugf(
		"Sync event from %s %s", task.source, result.Outcome,
	)
	return nil
}

// processTimingEvent event loop handler for timingEventTask
func (b *bridgeImpl) processTimingEvent(param interface{}) error {
	task, ok := param.(timingEventTask)
	if !ok {
		return fmt.Errorf("processing unexpected task param type %s", reflect.TypeOf(param))
	}
	sample, err := common.DecodeTimingSample(task.body, b.validate)
	if err != nil {
		decodeErr := &DecodeError{Subject: task.subject, Err: err}
		log.WithError(decodeErr).WithFields(b.LogTags).Errorf(
			"Dropping timing sample from %s", task.source,
		)
		return nil
	}
	b.timing.Record(sample.OperationName, sample.ElapsedSeconds)
	return nil
}

// taskFailed event loop failure callback
func (b *bridgeImpl) taskFailed(_ interface{}, err error) {
	var replayErr *ReplayError
	if !errors.As(err, &replayErr) {
		return
	}
	atomic.AddUint64(&b.replayFailures, 1)
	b.lock.RLock()
	alert := b.onReplayFailure
	b.lock.RUnlock()
	if alert != nil {
		alert(replayErr)
	}
}
