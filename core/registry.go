package core

import (
	"context"
	"strings"
	"sync"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
)

// ClientStatus externally reported status of a broker connection
type ClientStatus string

const (
	// ClientConnected connection is established
	ClientConnected ClientStatus = "CONNECTED"
	// ClientConnecting connection is being re-established
	ClientConnecting ClientStatus = "CONNECTING"
	// ClientNotConnected connection is not usable
	ClientNotConnected ClientStatus = "NOT_CONNECTED"
)

// StatusOfState map a connection state onto the reported client status
func StatusOfState(state ConnectionState) ClientStatus {
	switch state {
	case StateConnected:
		return ClientConnected
	case StateReconnecting:
		return ClientConnecting
	default:
		return ClientNotConnected
	}
}

// ClientRegistry tracks every connection created by the process
type ClientRegistry interface {
	// GetOrCreateDefault return the default connection to the local cluster, creating it
	// on first use. Later calls return the same connection.
	GetOrCreateDefault(ctxt context.Context) (Connection, error)
	// Register track a connection. Returns false if it was already tracked.
	Register(conn Connection) bool
	// IsTracked whether the connection is tracked
	IsTracked(conn Connection) bool
	// Connections every tracked connection, in creation order
	Connections() []Connection
	// Status report the status of a connection
	Status(conn Connection) ClientStatus
	// DefaultStatus report the status of the default connection
	DefaultStatus(ctxt context.Context) ClientStatus
	// ShutdownAll close every tracked connection in creation order. A close failure does
	// not stop the remaining connections from being closed.
	ShutdownAll(ctxt context.Context)
}

// clientRegistryImpl implements ClientRegistry
type clientRegistryImpl struct {
	goutils.Component
	supervisor       ConnectionSupervisor
	defaultEndpoints []string
	// createLock serializes creation of the default connection
	createLock        sync.Mutex
	lock              sync.RWMutex
	defaultConnection Connection
	allConnections    []Connection
}

// GetClientRegistry define a new ClientRegistry
func GetClientRegistry(
	supervisor ConnectionSupervisor, defaultEndpoints []string,
) (ClientRegistry, error) {
	logTags := log.Fields{
		"module":    "core",
		"component": "client-registry",
		"instance":  strings.Join(defaultEndpoints, ","),
	}
	return &clientRegistryImpl{
		Component:        goutils.Component{LogTags: logTags},
		supervisor:       supervisor,
		defaultEndpoints: append([]string{}, defaultEndpoints...),
		allConnections:   []Connection{},
	}, nil
}

// GetOrCreateDefault return the default connection, creating it on first use
func (r *clientRegistryImpl) GetOrCreateDefault(ctxt context.Context) (Connection, error) {
	r.createLock.Lock()
	defer r.createLock.Unlock()
	r.lock.RLock()
	existing := r.defaultConnection
	r.lock.RUnlock()
	if existing != nil {
		return existing, nil
	}
	conn, err := r.supervisor.Open(ctxt, r.defaultEndpoints)
	if err != nil {
		log.WithError(err).WithFields(r.LogTags).Error("Unable to create default connection")
		return nil, err
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	r.defaultConnection = conn
	r.allConnections = append(r.allConnections, conn)
	log.WithFields(r.LogTags).Info("Created default connection")
	return conn, nil
}

// isTracked unguarded tracking check
func (r *clientRegistryImpl) isTracked(conn Connection) bool {
	for _, tracked := range r.allConnections {
		if tracked == conn {
			return true
		}
	}
	return false
}

// Register track a connection
func (r *clientRegistryImpl) Register(conn Connection) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.isTracked(conn) {
		return false
	}
	r.allConnections = append(r.allConnections, conn)
	log.WithFields(r.LogTags).Debugf(
		"Registered connection to %s", strings.Join(conn.Endpoints(), ","),
	)
	return true
}

// IsTracked whether the connection is tracked
func (r *clientRegistryImpl) IsTracked(conn Connection) bool {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.isTracked(conn)
}

// Connections every tracked connection, in creation order
func (r *clientRegistryImpl) Connections() []Connection {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return append([]Connection{}, r.allConnections...)
}

// Status report the status of a connection
func (r *clientRegistryImpl) Status(conn Connection) ClientStatus {
	if conn == nil {
		return ClientNotConnected
	}
	return StatusOfState(conn.State())
}

// DefaultStatus report the status of the default connection
func (r *clientRegistryImpl) DefaultStatus(ctxt context.Context) ClientStatus {
	conn, err := r.GetOrCreateDefault(ctxt)
	if err != nil {
		return ClientNotConnected
	}
	return r.Status(conn)
}

// ShutdownAll close every tracked connection in creation order
func (r *clientRegistryImpl) ShutdownAll(ctxt context.Context) {
	for idx, conn := range r.Connections() {
		if err := conn.Close(ctxt); err != nil {
			log.WithError(err).WithFields(r.LogTags).Errorf(
				"Failed to close connection %d to %s", idx, strings.Join(conn.Endpoints(), ","),
			)
		}
	}
	log.WithFields(r.LogTags).Info("Closed all connections")
}
