package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/syncbridge/common"
	"github.com/alwitt/syncbridge/core"
	"github.com/apex/log"
)

// SyncPublisher broadcasts locally produced events onto the local cluster
type SyncPublisher interface {
	// PublishSync broadcast a sync event. The event is stamped with the local node ID.
	PublishSync(ctxt context.Context, msg common.SyncMessage) error
	// PublishTiming broadcast a timing sample
	PublishTiming(ctxt context.Context, sample common.TimingSample) error
}

// natsSyncPublisher implements SyncPublisher over the default connection
type natsSyncPublisher struct {
	goutils.Component
	registry      core.ClientRegistry
	nodeID        string
	syncSubject   string
	timingSubject string
}

// GetSyncPublisher define a new SyncPublisher
func GetSyncPublisher(
	registry core.ClientRegistry, nodeID, syncSubject, timingSubject string,
) (SyncPublisher, error) {
	logTags := log.Fields{
		"module": "pipeline", "component": "sync-publisher", "instance": nodeID,
	}
	return &natsSyncPublisher{
		Component:     goutils.Component{LogTags: logTags},
		registry:      registry,
		nodeID:        nodeID,
		syncSubject:   syncSubject,
		timingSubject: timingSubject,
	}, nil
}

// publish send one JSON message on the default connection
func (p *natsSyncPublisher) publish(ctxt context.Context, subject string, msg interface{}) error {
	conn, err := p.registry.GetOrCreateDefault(ctxt)
	if err != nil {
		return err
	}
	serialized, err := json.Marshal(msg)
	if err != nil {
		log.WithError(err).WithFields(p.LogTags).Errorf("Unable to serialize message for %s", subject)
		return err
	}
	if err := conn.Publish(subject, serialized); err != nil {
		log.WithError(err).WithFields(p.LogTags).Errorf("Unable to publish on %s", subject)
		return err
	}
	return nil
}

// PublishSync broadcast a sync event
func (p *natsSyncPublisher) PublishSync(ctxt context.Context, msg common.SyncMessage) error {
	msg.OriginID = p.nodeID
	return p.publish(ctxt, p.syncSubject, msg)
}

// PublishTiming broadcast a timing sample
func (p *natsSyncPublisher) PublishTiming(ctxt context.Context, sample common.TimingSample) error {
	return p.publish(ctxt, p.timingSubject, sample)
}

// ==============================================================================

// timedProcessor wraps a Processor, and publishes the elapsed time of every call
type timedProcessor struct {
	goutils.Component
	operation string
	next      Processor
	publisher SyncPublisher
}

// GetTimedProcessor define a Processor which reports the elapsed time of every call
// to the wrapped processor as a timing sample named operation
func GetTimedProcessor(operation string, next Processor, publisher SyncPublisher) Processor {
	logTags := log.Fields{
		"module": "pipeline", "component": "timed-processor", "instance": operation,
	}
	return &timedProcessor{
		Component: goutils.Component{LogTags: logTags},
		operation: operation,
		next:      next,
		publisher: publisher,
	}
}

// Process run the record through the wrapped processor
func (p *timedProcessor) Process(ctxt context.Context, req Request) (Result, error) {
	start := time.Now()
	result, err := p.next.Process(ctxt, req)
	sample := common.TimingSample{
		OperationName: p.operation, ElapsedSeconds: time.Since(start).Seconds(),
	}
	if pubErr := p.publisher.PublishTiming(ctxt, sample); pubErr != nil {
		log.WithError(pubErr).WithFields(p.LogTags).Warn("Unable to report timing")
	}
	return result, err
}
