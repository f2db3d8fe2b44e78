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
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/syncbridge/common"
	"github.com/alwitt/syncbridge/durable"
	"github.com/alwitt/syncbridge/pipeline"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// SyncOutcome terminal state of one sync event
type SyncOutcome int

const (
	// OutcomeDropped the event could not be decoded
	OutcomeDropped SyncOutcome = iota
	// OutcomeSuppressed the event originated from this node
	OutcomeSuppressed
	// OutcomeReplayed the event was forwarded and replayed
	OutcomeReplayed
)

// String toString function
func (o SyncOutcome) String() string {
	switch o {
	case OutcomeSuppressed:
		return "suppressed"
	case OutcomeReplayed:
		return "replayed"
	default:
		return "dropped"
	}
}

// SyncResult what happened to one sync event
type SyncResult struct {
	Outcome SyncOutcome
	// DecodeErr set when the event was dropped
	DecodeErr error
	// ForwardLocation where the event was stored in the durable log, if it was
	ForwardLocation *durable.Location
	// ForwardErr set when the durable log delivery failed
	ForwardErr error
	// RecordLocation where the local pipeline stored the replayed record
	RecordLocation string
}

// SyncEventHandler processes inbound sync events
type SyncEventHandler interface {
	// Handle process one sync event message body.
	//
	// Malformed events and events from this node are handled locally. Durable log
	// failures are absorbed. Only replay failures are returned, as *ReplayError.
	Handle(ctxt context.Context, subject string, body []byte) (SyncResult, error)
}

// SyncHandlerParams parameters of the SyncEventHandler
type SyncHandlerParams struct {
	// NodeID identifier of this node
	NodeID string `validate:"required"`
	// Topic durable log topic the remote events are stored under
	Topic string `validate:"required"`
	// CertificateVerify default certificate verification preference for replay
	CertificateVerify bool
	// DeliveryTimeout max wait for the durable log delivery confirmation. Zero means
	// no timeout beyond the caller's context.
	DeliveryTimeout time.Duration
}

// syncEventHandlerImpl implements SyncEventHandler
type syncEventHandlerImpl struct {
	goutils.Component
	params    SyncHandlerParams
	sink      durable.Log
	processor pipeline.Processor
	validate  *validator.Validate
}

// GetSyncEventHandler define a new SyncEventHandler
func GetSyncEventHandler(
	params SyncHandlerParams, sink durable.Log, processor pipeline.Processor,
) (SyncEventHandler, error) {
	validate := validator.New()
	if err := validate.Struct(&params); err != nil {
		return nil, err
	}
	logTags := log.Fields{
		"module": "bridge", "component": "sync-event-handler", "instance": params.NodeID,
	}
	return &syncEventHandlerImpl{
		Component: goutils.Component{LogTags: logTags},
		params:    params,
		sink:      sink,
		processor: processor,
		validate:  validate,
	}, nil
}

// Handle process one sync event message body
func (h *syncEventHandlerImpl) Handle(
	ctxt context.Context, subject string, body []byte,
) (SyncResult, error) {
	localLogTags := log.Fields{}
	for k, v := range h.LogTags {
		localLogTags[k] = v
	}
	localLogTags["subject"] = subject
	localLogTags["event_id"] = uuid.NewString()
	log.WithFields(localLogTags).Debug("Received sync event")

	msg, err := common.DecodeSyncMessage(body, h.validate)
	if err != nil {
		decodeErr := &DecodeError{Subject: subject, Err: err}
		log.WithError(decodeErr).WithFields(localLogTags).Error("Dropping sync event")
		return SyncResult{Outcome: OutcomeDropped, DecodeErr: decodeErr}, nil
	}
	localLogTags["origin_id"] = msg.OriginID

	if msg.OriginID == h.params.NodeID {
		log.WithFields(localLogTags).Debug("Sync event originated locally, not storing")
		return SyncResult{Outcome: OutcomeSuppressed}, nil
	}

	result := SyncResult{Outcome: OutcomeReplayed}

	// Store the raw event in the durable log
	location, err := h.forward(ctxt, body)
	if err != nil {
		result.ForwardErr = &ForwardError{Topic: h.params.Topic, Err: err}
		log.WithError(result.ForwardErr).WithFields(localLogTags).Error(
			"Unable to store sync event for replay",
		)
	} else {
		result.ForwardLocation = &location
		log.WithFields(localLogTags).Debugf("Stored sync event at %s", location)
	}

	// Apply the event to the local store
	payload, err := msg.DecodePayload()
	if err != nil {
		replayErr := &ReplayError{OriginID: msg.OriginID, Err: err}
		log.WithError(replayErr).WithFields(localLogTags).Error("Unable to replay sync event")
		return result, replayErr
	}
	certificateVerify := h.params.CertificateVerify
	if msg.CertificateVerify != nil {
		certificateVerify = *msg.CertificateVerify
	}
	processed, err := h.processor.Process(ctxt, pipeline.Request{
		Payload:           payload,
		OriginURL:         msg.OriginEndpointURL,
		CertificateVerify: certificateVerify,
		OriginID:          msg.OriginID,
		DataFormat:        msg.DataFormat,
		Republish:         false,
	})
	if err != nil {
		replayErr := &ReplayError{OriginID: msg.OriginID, Err: err}
		log.WithError(replayErr).WithFields(localLogTags).Error("Unable to replay sync event")
		return result, replayErr
	}
	result.RecordLocation = processed.RecordLocation
	if processed.RecordLocation == "" {
		log.WithFields(localLogTags).Warn("Replayed sync event, no data record location")
	} else {
		log.WithFields(localLogTags).Debugf(
			"Replayed sync event, data record location = %s", processed.RecordLocation,
		)
	}
	return result, nil
}

// forward store the raw event in the durable log
func (h *syncEventHandlerImpl) forward(ctxt context.Context, body []byte) (durable.Location, error) {
	useCtxt := ctxt
	if h.params.DeliveryTimeout > 0 {
		var cancel context.CancelFunc
		useCtxt, cancel = context.WithTimeout(ctxt, h.params.DeliveryTimeout)
		defer cancel()
	}
	return h.sink.Forward(useCtxt, h.params.Topic, body)
}
