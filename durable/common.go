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

package durable

import (
	"context"
	"fmt"
	"sync"

	"github.com/alwitt/syncbridge/common"
)

// Location where a message was stored in the durable log
type Location struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	// Offset of the message within the partition. Negative if the driver could not learn it.
	Offset int64 `json:"offset"`
}

// String toString function
func (l Location) String() string {
	if l.Partition < 0 || l.Offset < 0 {
		return l.Topic
	}
	return fmt.Sprintf("%s:%d:%d", l.Topic, l.Partition, l.Offset)
}

// Log an append-only durable log client
type Log interface {
	// Forward append a message to the topic, and wait for its delivery confirmation
	Forward(ctxt context.Context, topic string, msg []byte) (Location, error)
	// Close flush and release the client
	Close() error
}

// DefineLog define a durable log client based on the configured driver
func DefineLog(
	config common.DurableLogConfig, clientID string, wg *sync.WaitGroup,
) (Log, error) {
	switch config.Driver {
	case "sarama":
		return DialSaramaLog(config.Brokers, clientID, wg)
	case "kafka-go":
		return DialKafkaGoLog(config.Brokers, clientID)
	default:
		return nil, fmt.Errorf("unknown durable log driver %s", config.Driver)
	}
}
