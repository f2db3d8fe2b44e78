package core

import (
	"strings"
	"sync"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/nats-io/nats.go"
)

// SubscriptionRecord one subject subscription established on a connection
type SubscriptionRecord struct {
	Endpoints []string `json:"endpoints"`
	Subject   string   `json:"subject"`
	Handler   string   `json:"handler"`
}

// SubscriptionManager attaches message handlers to subjects on connections
type SubscriptionManager interface {
	// Subscribe attach the handler to the subject on the connection. Repeated calls
	// are not deduplicated: each call yields its own deliveries.
	Subscribe(conn Connection, subject, handlerName string, handler nats.MsgHandler) error
	// Subscriptions every subscription established so far
	Subscriptions() []SubscriptionRecord
}

// subscriptionManagerImpl implements SubscriptionManager
type subscriptionManagerImpl struct {
	goutils.Component
	registry      ClientRegistry
	lock          sync.Mutex
	subscriptions []SubscriptionRecord
}

// GetSubscriptionManager define a new SubscriptionManager
func GetSubscriptionManager(registry ClientRegistry) (SubscriptionManager, error) {
	logTags := log.Fields{
		"module": "core", "component": "subscription-manager",
	}
	return &subscriptionManagerImpl{
		Component:     goutils.Component{LogTags: logTags},
		registry:      registry,
		subscriptions: []SubscriptionRecord{},
	}, nil
}

// Subscribe attach the handler to the subject on the connection
func (m *subscriptionManagerImpl) Subscribe(
	conn Connection, subject, handlerName string, handler nats.MsgHandler,
) error {
	servers := strings.Join(conn.Endpoints(), ",")
	if err := conn.Subscribe(subject, handler); err != nil {
		log.WithError(err).WithFields(m.LogTags).Errorf(
			"Unable to subscribe %s to %s on %s", handlerName, subject, servers,
		)
		return err
	}
	m.registry.Register(conn)
	m.lock.Lock()
	defer m.lock.Unlock()
	m.subscriptions = append(m.subscriptions, SubscriptionRecord{
		Endpoints: conn.Endpoints(), Subject: subject, Handler: handlerName,
	})
	log.WithFields(m.LogTags).Debugf("Subscribed %s to NATS subject %s", servers, subject)
	return nil
}

// Subscriptions every subscription established so far
func (m *subscriptionManagerImpl) Subscriptions() []SubscriptionRecord {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]SubscriptionRecord{}, m.subscriptions...)
}
