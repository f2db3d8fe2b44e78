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

package apis

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/alwitt/goutils"
	"github.com/alwitt/syncbridge/bridge"
	"github.com/alwitt/syncbridge/common"
	"github.com/alwitt/syncbridge/core"
	"github.com/alwitt/syncbridge/pipeline"
	"github.com/apex/log"
	"github.com/gorilla/mux"
)

// StatusSource read-only view of the running bridge
type StatusSource interface {
	Registry() core.ClientRegistry
	Subscriptions() core.SubscriptionManager
	Timing() bridge.TimingAggregator
	ReplayFailures() uint64
}

// APIRestStatusHandler REST handler for bridge status and local data ingest
type APIRestStatusHandler struct {
	goutils.RestAPIHandler
	source            StatusSource
	ingest            pipeline.Processor
	certificateVerify bool
}

// GetAPIRestStatusHandler define APIRestStatusHandler
func GetAPIRestStatusHandler(
	source StatusSource,
	ingest pipeline.Processor,
	certificateVerify bool,
	httpConfig *common.APIServerConfig,
) (APIRestStatusHandler, error) {
	logTags := log.Fields{
		"module":    "apis",
		"component": "status",
	}
	return APIRestStatusHandler{
		RestAPIHandler:    defineRestAPIHandler(logTags, httpConfig.Logging),
		source:            source,
		ingest:            ingest,
		certificateVerify: certificateVerify,
	}, nil
}

// =======================================================================
// Status

// APIRestRespConnection status of one broker connection
type APIRestRespConnection struct {
	// Endpoints the connection's server list
	Endpoints []string `json:"endpoints"`
	// Status the connection status
	Status core.ClientStatus `json:"status"`
}

// APIRestRespStatus response for the bridge status
type APIRestRespStatus struct {
	goutils.RestAPIBaseResponse
	// DefaultStatus status of the connection to the local cluster
	DefaultStatus core.ClientStatus `json:"default_status"`
	// Connections every connection in creation order
	Connections []APIRestRespConnection `json:"connections"`
	// Subscriptions every subscription established
	Subscriptions []core.SubscriptionRecord `json:"subscriptions"`
	// ReplayFailures number of sync events which failed replay
	ReplayFailures uint64 `json:"replay_failures"`
}

// Status godoc
// @Summary Query the bridge status
// @Description Query the status of every connection and subscription of the bridge
// @tags Status
// @Produce json
// @Param Syncbridge-Request-ID header string false "User provided request ID to match against logs"
// @Success 200 {object} APIRestRespStatus "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/status [get]
func (h APIRestStatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	registry := h.source.Registry()
	connections := []APIRestRespConnection{}
	for _, conn := range registry.Connections() {
		connections = append(connections, APIRestRespConnection{
			Endpoints: conn.Endpoints(), Status: registry.Status(conn),
		})
	}
	resp := APIRestRespStatus{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		},
		DefaultStatus:  registry.DefaultStatus(r.Context()),
		Connections:    connections,
		Subscriptions:  h.source.Subscriptions().Subscriptions(),
		ReplayFailures: h.source.ReplayFailures(),
	}
	if err := h.WriteRESTResponse(w, http.StatusOK, resp, nil); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// StatusHandler Wrapper around Status
func (h APIRestStatusHandler) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Status(w, r)
	}
}

// =======================================================================
// Timing

// APIRestRespAllTiming response for listing all timing metrics
type APIRestRespAllTiming struct {
	goutils.RestAPIBaseResponse
	// Operations the timing metrics mapped against operation name
	Operations map[string]bridge.TimingMetric `json:"operations"`
}

// AllTiming godoc
// @Summary Query all timing metrics
// @Description Query the running mean elapsed time of every reported operation
// @tags Status
// @Produce json
// @Param Syncbridge-Request-ID header string false "User provided request ID to match against logs"
// @Success 200 {object} APIRestRespAllTiming "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/timing [get]
func (h APIRestStatusHandler) AllTiming(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	resp := APIRestRespAllTiming{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		},
		Operations: h.source.Timing().Snapshot(),
	}
	if err := h.WriteRESTResponse(w, http.StatusOK, resp, nil); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// AllTimingHandler Wrapper around AllTiming
func (h APIRestStatusHandler) AllTimingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.AllTiming(w, r)
	}
}

// APIRestRespOneTiming response for one timing metric
type APIRestRespOneTiming struct {
	goutils.RestAPIBaseResponse
	// Metric the timing metric
	Metric bridge.TimingMetric `json:"metric"`
}

// OneTiming godoc
// @Summary Query one timing metric
// @Description Query the running mean elapsed time of one operation
// @tags Status
// @Produce json
// @Param Syncbridge-Request-ID header string false "User provided request ID to match against logs"
// @Param operation path string true "Operation name"
// @Success 200 {object} APIRestRespOneTiming "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/timing/{operation} [get]
func (h APIRestStatusHandler) OneTiming(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	vars := mux.Vars(r)
	operation, ok := vars["operation"]
	if !ok || operation == "" {
		msg := "No operation name provided"
		log.WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}

	metric, ok := h.source.Timing().Get(operation)
	if !ok {
		msg := fmt.Sprintf("No timing samples for %s", operation)
		log.WithFields(localLogTags).Debug(msg)
		respCode = http.StatusNotFound
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusNotFound, msg, msg)
		return
	}

	respCode = http.StatusOK
	respBody = APIRestRespOneTiming{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		},
		Metric: metric,
	}
}

// OneTimingHandler Wrapper around OneTiming
func (h APIRestStatusHandler) OneTimingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.OneTiming(w, r)
	}
}

// =======================================================================
// Ingest

// APIRestRespIngest response for ingesting one record
type APIRestRespIngest struct {
	goutils.RestAPIBaseResponse
	// RecordLocation where the record was stored
	RecordLocation string `json:"data_record_location"`
}

// Ingest godoc
// @Summary Ingest a local record
// @Description Process a record through the local pipeline, and broadcast it to the
// other nodes
// @tags Data
// @Accept json
// @Produce json
// @Param Syncbridge-Request-ID header string false "User provided request ID to match against logs"
// @Param format path string true "Business data format"
// @Param record body object true "Business data"
// @Success 200 {object} APIRestRespIngest "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/data/{format} [post]
func (h APIRestStatusHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	vars := mux.Vars(r)
	format, ok := vars["format"]
	if !ok || format == "" {
		msg := "No data format provided"
		log.WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}

	payload := map[string]interface{}{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	originURL := ""
	if r.Host != "" {
		originURL = fmt.Sprintf("http://%s%s", r.Host, r.URL.Path)
	}
	result, err := h.ingest.Process(r.Context(), pipeline.Request{
		Payload:           payload,
		OriginURL:         originURL,
		CertificateVerify: h.certificateVerify,
		DataFormat:        format,
		Republish:         true,
	})
	if err != nil {
		msg := "Failed to process record"
		if result.RecordLocation != "" {
			msg = fmt.Sprintf("Record stored at %s but not broadcast", result.RecordLocation)
		}
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = APIRestRespIngest{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		},
		RecordLocation: result.RecordLocation,
	}
}

// IngestHandler Wrapper around Ingest
func (h APIRestStatusHandler) IngestHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Ingest(w, r)
	}
}

// =======================================================================
// Health Checks

// Alive godoc
// @Summary For status REST API liveness check
// @Description Will return success to indicate the status REST API module is live
// @tags Status
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /alive [get]
func (h APIRestStatusHandler) Alive(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	if err := h.WriteRESTResponse(
		w, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()), nil,
	); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// AliveHandler Wrapper around Alive
func (h APIRestStatusHandler) AliveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Alive(w, r)
	}
}

// Ready godoc
// @Summary For status REST API readiness check
// @Description Will return success if the connection to the local cluster is established
// @tags Status
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /ready [get]
func (h APIRestStatusHandler) Ready(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	status := h.source.Registry().DefaultStatus(r.Context())
	if status == core.ClientConnected {
		respCode = http.StatusOK
		respBody = h.GetStdRESTSuccessMsg(r.Context())
	} else {
		msg := fmt.Sprintf("local cluster %s", status)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, msg)
	}
}

// ReadyHandler Wrapper around Ready
func (h APIRestStatusHandler) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Ready(w, r)
	}
}

// =======================================================================

// DefineRouter attach every status API route to a new router
func (h APIRestStatusHandler) DefineRouter(pathPrefix string) *mux.Router {
	router := mux.NewRouter()
	mainRouter := RegisterPathPrefix(router, pathPrefix, nil)

	_ = RegisterPathPrefix(mainRouter, "/v1/status", MethodHandlers{
		"get": h.StatusHandler(),
	})
	timingRouter := RegisterPathPrefix(mainRouter, "/v1/timing", MethodHandlers{
		"get": h.AllTimingHandler(),
	})
	_ = RegisterPathPrefix(timingRouter, "/{operation}", MethodHandlers{
		"get": h.OneTimingHandler(),
	})
	_ = RegisterPathPrefix(mainRouter, "/v1/data/{format}", MethodHandlers{
		"post": h.IngestHandler(),
	})

	// Health check
	_ = RegisterPathPrefix(mainRouter, "/alive", MethodHandlers{
		"get": h.AliveHandler(),
	})
	_ = RegisterPathPrefix(mainRouter, "/ready", MethodHandlers{
		"get": h.ReadyHandler(),
	})

	return router
}
