package durable

import (
	"context"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
)

// saramaDelivery delivery result of one message, passed back through the
// ProducerMessage metadata
type saramaDelivery struct {
	location Location
	err      error
}

// saramaLog implements Log with a sarama async producer
type saramaLog struct {
	goutils.Component
	producer  sarama.AsyncProducer
	lock      sync.RWMutex
	closed    bool
	closing   chan struct{}
	closeOnce sync.Once
}

// NewSaramaProducerConfig the sarama config used by the durable log client
func NewSaramaProducerConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	return cfg
}

// DialSaramaLog connect to the Kafka brokers, and define a durable log client with sarama
func DialSaramaLog(brokers []string, clientID string, wg *sync.WaitGroup) (Log, error) {
	producer, err := sarama.NewAsyncProducer(brokers, NewSaramaProducerConfig(clientID))
	if err != nil {
		log.WithError(err).Errorf("Unable to define sarama producer for %v", brokers)
		return nil, err
	}
	return NewSaramaLog(producer, wg)
}

// NewSaramaLog define a durable log client around an existing sarama async producer.
//
// The producer must be configured to return both successes and errors.
func NewSaramaLog(producer sarama.AsyncProducer, wg *sync.WaitGroup) (Log, error) {
	logTags := log.Fields{
		"module": "durable", "component": "sarama-log",
	}
	instance := &saramaLog{
		Component: goutils.Component{LogTags: logTags},
		producer:  producer,
		closing:   make(chan struct{}),
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		instance.dispatchResults()
	}()
	return instance, nil
}

// dispatchResults route the producer results back to the waiting Forward calls
func (l *saramaLog) dispatchResults() {
	log.WithFields(l.LogTags).Info("Starting delivery result dispatch")
	defer log.WithFields(l.LogTags).Info("Delivery result dispatch exiting")
	successes := l.producer.Successes()
	failures := l.producer.Errors()
	for successes != nil || failures != nil {
		select {
		case msg, ok := <-successes:
			if !ok {
				successes = nil
				continue
			}
			l.deliver(msg, saramaDelivery{
				location: Location{Topic: msg.Topic, Partition: msg.Partition, Offset: msg.Offset},
			})
		case failure, ok := <-failures:
			if !ok {
				failures = nil
				continue
			}
			if failure.Msg == nil {
				log.WithError(failure.Err).WithFields(l.LogTags).Error("Producer failure")
				continue
			}
			l.deliver(failure.Msg, saramaDelivery{err: failure.Err})
		}
	}
}

// deliver hand the result to the waiting Forward call
func (l *saramaLog) deliver(msg *sarama.ProducerMessage, result saramaDelivery) {
	resultChan, ok := msg.Metadata.(chan saramaDelivery)
	if !ok {
		log.WithFields(l.LogTags).Errorf("Delivery result for %s has no receiver", msg.Topic)
		return
	}
	// Buffered with capacity of one, never blocks
	resultChan <- result
}

// Forward append a message to the topic, and wait for its delivery confirmation
func (l *saramaLog) Forward(ctxt context.Context, topic string, msg []byte) (Location, error) {
	resultChan := make(chan saramaDelivery, 1)
	produce := &sarama.ProducerMessage{
		Topic: topic, Value: sarama.ByteEncoder(msg), Metadata: resultChan,
	}

	// Hand the message to the producer
	if err := func() error {
		l.lock.RLock()
		defer l.lock.RUnlock()
		if l.closed {
			return fmt.Errorf("sarama producer already closed")
		}
		select {
		case l.producer.Input() <- produce:
			return nil
		case <-l.closing:
			return fmt.Errorf("sarama producer closing")
		case <-ctxt.Done():
			return ctxt.Err()
		}
	}(); err != nil {
		log.WithError(err).WithFields(l.LogTags).Errorf("Unable to send message to %s", topic)
		return Location{}, err
	}

	// Wait for success, failure, or timeout
	select {
	case result := <-resultChan:
		if result.err != nil {
			log.WithError(result.err).WithFields(l.LogTags).Errorf("Message send failure")
			return Location{}, result.err
		}
		log.WithFields(l.LogTags).Debugf("Stored message at %s", result.location)
		return result.location, nil
	case <-ctxt.Done():
		err := ctxt.Err()
		log.WithError(err).WithFields(l.LogTags).Errorf("Message send timed out")
		return Location{}, err
	}
}

// Close flush and release the producer. Forward calls blocked on a backpressured
// producer are released first.
func (l *saramaLog) Close() error {
	l.closeOnce.Do(func() { close(l.closing) })
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.producer.Close()
}
