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

package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/nats-io/nats.go"
)

// ConnectionState transport level state of one broker connection
type ConnectionState int

const (
	// StateConnected the connection is established
	StateConnected ConnectionState = iota
	// StateReconnecting the transport lost its session and is re-establishing it
	StateReconnecting
	// StateDisconnected the connection is gone, and will not come back
	StateDisconnected
)

// String toString function
func (s ConnectionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Connection handle to one broker connection
type Connection interface {
	// Endpoints the ordered list of server addresses the connection targets
	Endpoints() []string
	// State the current connection state
	State() ConnectionState
	// Subscribe attach a callback to a subject. The callback is invoked for every
	// message delivered on the subject.
	Subscribe(subject string, handler nats.MsgHandler) error
	// Publish send a message on a subject
	Publish(subject string, msg []byte) error
	// Close flush and close the connection. Subscriptions are torn down with it.
	Close(ctxt context.Context) error
}

// natsConnection implements Connection with a NATS client
type natsConnection struct {
	goutils.Component
	endpoints []string
	nc        *nats.Conn
}

// Endpoints the ordered list of server addresses the connection targets
func (c *natsConnection) Endpoints() []string {
	return c.endpoints
}

// State the current connection state
func (c *natsConnection) State() ConnectionState {
	switch c.nc.Status() {
	case nats.CONNECTED:
		return StateConnected
	case nats.RECONNECTING, nats.CONNECTING:
		return StateReconnecting
	default:
		return StateDisconnected
	}
}

// Subscribe attach a callback to a subject
func (c *natsConnection) Subscribe(subject string, handler nats.MsgHandler) error {
	if _, err := c.nc.Subscribe(subject, handler); err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf("Failed to subscribe to %s", subject)
		return err
	}
	// Subscription is active on the server once the round trip completes
	if err := c.nc.Flush(); err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf("Failed to confirm subscription to %s", subject)
		return err
	}
	return nil
}

// Publish send a message on a subject
func (c *natsConnection) Publish(subject string, msg []byte) error {
	return c.nc.Publish(subject, msg)
}

// defaultFlushTimeout flush timeout applied on close when the caller gives no deadline
const defaultFlushTimeout = time.Second * 5

// Close flush and close the connection
func (c *natsConnection) Close(ctxt context.Context) error {
	if c.nc.IsClosed() {
		return fmt.Errorf("connection to %s already closed", strings.Join(c.endpoints, ","))
	}
	if _, ok := ctxt.Deadline(); !ok {
		var cancel context.CancelFunc
		ctxt, cancel = context.WithTimeout(ctxt, defaultFlushTimeout)
		defer cancel()
	}
	flushErr := c.nc.FlushWithContext(ctxt)
	if flushErr != nil {
		log.WithError(flushErr).WithFields(c.LogTags).Errorf("NATS flush failed")
	}
	c.nc.Close()
	log.WithFields(c.LogTags).Infof("Closed NATS client")
	return flushErr
}

// ==============================================================================

// NATSConnectParams NATS connection parameter
type NATSConnectParams struct {
	// ClientName name to report to the NATS servers
	ClientName string
	// ConnectTimeout max time to wait for connection
	ConnectTimeout time.Duration
	// ReconnectEnabled whether the transport reconnects after losing the connection
	ReconnectEnabled bool
	// MaxReconnectAttempt on connection failure, max number of reconnect
	// attempt. "-1" means infinite
	MaxReconnectAttempt int
	// ReconnectWait wait duration between reconnect attempts
	ReconnectWait time.Duration
	// RootCAFile PEM CA bundle for verifying the servers. Empty means no TLS.
	RootCAFile string
	// NKeySeedFile NKey seed identifying this node. Empty means no NKey auth.
	NKeySeedFile string
	// OnDisconnectCallback callback on disconnect
	OnDisconnectCallback func(*nats.Conn, error)
	// OnReconnectCallback callback on reconnect
	OnReconnectCallback func(*nats.Conn)
	// OnCloseCallback callback on close
	OnCloseCallback func(*nats.Conn)
}

// ConnectionSupervisor opens connections to a set of cluster endpoints.
//
// Reconnecting after the connection is established is delegated to the transport,
// which the supervisor only configures.
type ConnectionSupervisor interface {
	// Open connect to one of the endpoints, in order
	Open(ctxt context.Context, endpoints []string) (Connection, error)
}

// natsConnectionSupervisor implements ConnectionSupervisor
type natsConnectionSupervisor struct {
	goutils.Component
	params NATSConnectParams
}

// GetNATSConnectionSupervisor define a new NATS ConnectionSupervisor
func GetNATSConnectionSupervisor(params NATSConnectParams) (ConnectionSupervisor, error) {
	if params.ConnectTimeout <= 0 {
		return nil, fmt.Errorf("connect timeout must be positive")
	}
	logTags := log.Fields{
		"module":    "core",
		"component": "connection-supervisor",
		"instance":  params.ClientName,
	}
	return &natsConnectionSupervisor{
		Component: goutils.Component{LogTags: logTags}, params: params,
	}, nil
}

// options build the NATS client options from the parameters
func (s *natsConnectionSupervisor) options(logTags log.Fields) ([]nats.Option, error) {
	param := s.params
	opts := []nats.Option{
		nats.Name(param.ClientName),
		nats.Timeout(param.ConnectTimeout),
		// Endpoints are tried in the order given
		nats.DontRandomize(),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.WithError(err).WithFields(logTags).Warn("NATS client disconnected")
			if param.OnDisconnectCallback != nil {
				param.OnDisconnectCallback(nc, err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithFields(logTags).Warnf("NATS client reconnected with %s", nc.ConnectedUrl())
			if param.OnReconnectCallback != nil {
				param.OnReconnectCallback(nc)
			}
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.WithFields(logTags).Info("NATS client connection closed")
			if param.OnCloseCallback != nil {
				param.OnCloseCallback(nc)
			}
		}),
	}
	if param.ReconnectEnabled {
		opts = append(
			opts, nats.MaxReconnects(param.MaxReconnectAttempt), nats.ReconnectWait(param.ReconnectWait),
		)
	} else {
		opts = append(opts, nats.NoReconnect())
	}
	if param.RootCAFile != "" {
		opts = append(opts, nats.RootCAs(param.RootCAFile))
	}
	if param.NKeySeedFile != "" {
		nkeyOpt, err := nats.NkeyOptionFromSeed(param.NKeySeedFile)
		if err != nil {
			log.WithError(err).WithFields(logTags).Errorf(
				"Unable to load NKey seed %s", param.NKeySeedFile,
			)
			return nil, err
		}
		opts = append(opts, nkeyOpt)
	}
	return opts, nil
}

// Open connect to one of the endpoints, in order
func (s *natsConnectionSupervisor) Open(
	ctxt context.Context, endpoints []string,
) (Connection, error) {
	if len(endpoints) == 0 {
		return nil, &ConnectionError{Endpoints: endpoints, Err: fmt.Errorf("no endpoints given")}
	}
	if err := ctxt.Err(); err != nil {
		return nil, &ConnectionError{Endpoints: endpoints, Err: err}
	}
	servers := strings.Join(endpoints, ",")
	logTags := log.Fields{
		"module":    "core",
		"component": "nats-connection",
		"instance":  servers,
	}
	opts, err := s.options(logTags)
	if err != nil {
		return nil, &ConnectionError{Endpoints: endpoints, Err: err}
	}
	nc, err := nats.Connect(servers, opts...)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("NATS client connect failed")
		return nil, &ConnectionError{Endpoints: endpoints, Err: err}
	}
	log.WithFields(logTags).Infof("Created NATS client connected to %s", nc.ConnectedUrl())
	return &natsConnection{
		Component: goutils.Component{LogTags: logTags},
		endpoints: append([]string{}, endpoints...),
		nc:        nc,
	}, nil
}
