package durable

import (
	"context"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/segmentio/kafka-go"
)

// kafkaGoLog implements Log with a kafka-go synchronous writer
type kafkaGoLog struct {
	goutils.Component
	writer *kafka.Writer
}

// DialKafkaGoLog define a durable log client with kafka-go
//
// The kafka-go writer does not report the offset a message was stored at, so the
// returned Location only names the topic.
func DialKafkaGoLog(brokers []string, clientID string) (Log, error) {
	logTags := log.Fields{
		"module": "durable", "component": "kafka-go-log", "instance": clientID,
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
		Transport:    &kafka.Transport{ClientID: clientID},
	}
	return &kafkaGoLog{Component: goutils.Component{LogTags: logTags}, writer: writer}, nil
}

// Forward append a message to the topic, and wait for its delivery confirmation
func (l *kafkaGoLog) Forward(ctxt context.Context, topic string, msg []byte) (Location, error) {
	if err := l.writer.WriteMessages(ctxt, kafka.Message{Topic: topic, Value: msg}); err != nil {
		log.WithError(err).WithFields(l.LogTags).Errorf("Message send failure")
		return Location{}, err
	}
	location := Location{Topic: topic, Partition: -1, Offset: -1}
	log.WithFields(l.LogTags).Debugf("Stored message at %s", location)
	return location, nil
}

// Close flush and release the writer
func (l *kafkaGoLog) Close() error {
	return l.writer.Close()
}
