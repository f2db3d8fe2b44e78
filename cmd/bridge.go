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

package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alwitt/syncbridge/apis"
	"github.com/alwitt/syncbridge/bridge"
	"github.com/alwitt/syncbridge/common"
	"github.com/alwitt/syncbridge/core"
	"github.com/alwitt/syncbridge/durable"
	"github.com/alwitt/syncbridge/pipeline"
	"github.com/apex/log"
	"github.com/cockroachdb/pebble"
	"github.com/nats-io/nats.go"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// DefineConnectionSupervisor define the NATS connection supervisor from config
func DefineConnectionSupervisor(
	config common.NATSConfig, clientName string,
) (core.ConnectionSupervisor, error) {
	logTags := log.Fields{"module": "cmd", "component": "nats", "instance": clientName}
	return core.GetNATSConnectionSupervisor(core.NATSConnectParams{
		ClientName:          clientName,
		ConnectTimeout:      time.Second * time.Duration(config.ConnectTimeout),
		ReconnectEnabled:    config.Reconnect.Enabled,
		MaxReconnectAttempt: config.Reconnect.MaxAttempts,
		ReconnectWait:       time.Second * time.Duration(config.Reconnect.WaitInterval),
		RootCAFile:          config.TLS.RootCAFile,
		NKeySeedFile:        config.NKeySeedFile,
		OnDisconnectCallback: func(nc *nats.Conn, e error) {
			log.WithError(e).WithFields(logTags).Errorf(
				"NATS client disconnected from server %s", nc.ConnectedUrl(),
			)
		},
		OnReconnectCallback: func(nc *nats.Conn) {
			log.WithFields(logTags).Warnf(
				"NATS client reconnected with server %s", nc.ConnectedUrl(),
			)
		},
		OnCloseCallback: func(nc *nats.Conn) {
			log.WithFields(logTags).Warnf(
				"NATS client closed connection to %s", strings.Join(nc.Servers(), ","),
			)
		},
	})
}

// RunBridge run the sync bridge until the runtime context is cancelled
func RunBridge(
	runtimeContext context.Context, config *common.SystemConfig, wg *sync.WaitGroup,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "bridge",
		"instance":  config.NodeID,
	}

	// -------------------------------------------------------------------
	// NATS connections

	supervisor, err := DefineConnectionSupervisor(config.NATS, config.NodeID)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define NATS connection supervisor")
		return err
	}
	registry, err := core.GetClientRegistry(supervisor, config.NATS.Servers)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define client registry")
		return err
	}
	subscriptions, err := core.GetSubscriptionManager(registry)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define subscription manager")
		return err
	}

	// -------------------------------------------------------------------
	// Local pipeline

	publisher, err := pipeline.GetSyncPublisher(
		registry, config.NodeID, config.Sync.Subject, config.Sync.TimingSubject,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define sync publisher")
		return err
	}
	store, err := pipeline.OpenLocalStore(config.Store.DataDir, &pebble.Options{}, publisher)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf(
			"Unable to open local store at %s", config.Store.DataDir,
		)
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).WithFields(logTags).Error("Failed to close local store")
		}
	}()
	var processor pipeline.Processor = store
	if config.Store.TimingEnabled {
		processor = pipeline.GetTimedProcessor("LocalStore.Process", store, publisher)
	}

	// -------------------------------------------------------------------
	// Durable log

	sink, err := durable.DefineLog(config.DurableLog, config.NodeID, wg)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf(
			"Unable to define %s durable log client", config.DurableLog.Driver,
		)
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			log.WithError(err).WithFields(logTags).Error("Failed to close durable log client")
		}
	}()

	// -------------------------------------------------------------------
	// Bridge

	handler, err := bridge.GetSyncEventHandler(
		bridge.SyncHandlerParams{
			NodeID:            config.NodeID,
			Topic:             config.DurableLog.Topic,
			CertificateVerify: config.Sync.CertificateVerify,
			DeliveryTimeout:   config.DurableLog.DeliveryTimeoutDuration(),
		},
		sink,
		processor,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define sync event handler")
		return err
	}

	remoteClusters := [][]string{}
	for _, remote := range config.Sync.RemoteClusters {
		remoteClusters = append(remoteClusters, remote.Servers)
	}
	syncBridge, err := bridge.GetBridge(
		runtimeContext,
		bridge.BridgeParams{
			SyncSubject:    config.Sync.Subject,
			TimingSubject:  config.Sync.TimingSubject,
			RemoteClusters: remoteClusters,
			TaskBuffer:     config.Sync.TaskBuffer,
		},
		supervisor,
		registry,
		subscriptions,
		handler,
		bridge.GetTimingAggregator(),
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define bridge")
		return err
	}
	syncBridge.OnReplayFailure(func(replayErr *bridge.ReplayError) {
		log.WithError(replayErr).WithFields(logTags).Errorf(
			"ALERT: sync event from %s was not replayed", replayErr.OriginID,
		)
	})
	defer func() {
		ctxt, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := syncBridge.Stop(ctxt); err != nil {
			log.WithError(err).WithFields(logTags).Error("Failure during bridge shutdown")
		}
	}()
	if err := syncBridge.Start(wg); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start bridge")
		return err
	}

	// -------------------------------------------------------------------
	// Start the gRPC health service

	reporter, err := apis.GetHealthReporter(runtimeContext, registry, wg)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define health reporter")
		return err
	}
	if err := reporter.Start(
		time.Second * time.Duration(config.StatusReportInterval),
	); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start status report")
		return err
	}
	defer func() {
		if err := reporter.Stop(); err != nil {
			log.WithError(err).WithFields(logTags).Error("Failure during health reporter shutdown")
		}
	}()

	healthListener, err := net.Listen("tcp", config.Health.ListenOn)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf(
			"Unable to listen on %s", config.Health.ListenOn,
		)
		return err
	}
	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, reporter.Server())
	go func() {
		if err := grpcSrv.Serve(healthListener); err != nil && err != grpc.ErrServerStopped {
			log.WithError(err).WithFields(logTags).Error("gRPC Server Failure")
		}
	}()
	log.WithFields(logTags).Infof("Started gRPC health service on %s", config.Health.ListenOn)

	// -------------------------------------------------------------------
	// Start the HTTP server

	httpHandler, err := apis.GetAPIRestStatusHandler(
		syncBridge, processor, config.Sync.CertificateVerify, &config.API,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define HTTP handler")
		return err
	}
	router := httpHandler.DefineRouter(config.API.Endpoints.PathPrefix)
	router.Use(func(next http.Handler) http.Handler {
		return httpHandler.LoggingMiddleware(next.ServeHTTP)
	})

	serverListen := fmt.Sprintf(
		"%s:%d", config.API.Server.ListenOn, config.API.Server.Port,
	)
	httpSrv := &http.Server{
		Addr:         serverListen,
		WriteTimeout: time.Second * time.Duration(config.API.Server.WriteTimeout),
		ReadTimeout:  time.Second * time.Duration(config.API.Server.ReadTimeout),
		IdleTimeout:  time.Second * time.Duration(config.API.Server.IdleTimeout),
		Handler:      h2c.NewHandler(router, &http2.Server{}),
	}

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).WithFields(logTags).Error("HTTP Server Failure")
		}
	}()

	log.WithFields(logTags).Infof("Started HTTP server on http://%s", serverListen)

	// ============================================================================

	<-runtimeContext.Done()

	// Stop the HTTP server
	{
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.WithError(err).WithFields(logTags).Error("Failure during HTTP shutdown")
		}
	}

	// Stop the gRPC server
	grpcSrv.GracefulStop()

	return nil
}
