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

package common

import (
	"time"

	"github.com/spf13/viper"
)

// ===============================================================================
// NATS Related Config

// NATSReconnectConfig defines reconnect parameters
type NATSReconnectConfig struct {
	// Enabled whether the client should attempt to reconnect after losing its connection
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	// MaxAttempts sets the max number of reconnect attempts (-1 is unlimited)
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts" validate:"gte=-1"`
	// WaitInterval is the duration between reconnect attempts in seconds
	WaitInterval int `mapstructure:"wait_interval_sec" json:"wait_interval_sec" validate:"gte=1"`
}

// NATSTLSConfig defines the TLS trust material for NATS connections
type NATSTLSConfig struct {
	// RootCAFile is the PEM encoded CA bundle used to verify the NATS servers.
	// Leave empty to connect without TLS.
	RootCAFile string `mapstructure:"root_ca_file" json:"root_ca_file,omitempty" validate:"omitempty,file"`
}

// NATSConfig defines parameters for connecting to NATS server
type NATSConfig struct {
	// Servers are the NATS servers URIs of the local cluster
	Servers []string `mapstructure:"servers" json:"servers" validate:"required,gte=1,dive,uri"`
	// ConnectTimeout is the max duration for connecting to NATS server in seconds
	ConnectTimeout int `mapstructure:"connect_timeout_sec" json:"connect_timeout_sec" validate:"gte=1"`
	// Reconnect defines reconnect parameters
	Reconnect NATSReconnectConfig `mapstructure:"reconnect" json:"reconnect" validate:"required"`
	// TLS defines the TLS trust material
	TLS NATSTLSConfig `mapstructure:"tls" json:"tls"`
	// NKeySeedFile is the NKey seed file identifying this node to the NATS servers
	NKeySeedFile string `mapstructure:"nkey_seed_file" json:"nkey_seed_file,omitempty" validate:"omitempty,file"`
}

// ===============================================================================
// Sync Related Config

// RemoteClusterConfig defines one additional NATS cluster to receive sync events from
type RemoteClusterConfig struct {
	// Servers are the NATS servers URIs of the remote cluster
	Servers []string `mapstructure:"servers" json:"servers" validate:"required,gte=1,dive,uri"`
}

// SyncConfig defines the sync bridge parameters
type SyncConfig struct {
	// Subject is the NATS subject sync events are broadcast on
	Subject string `mapstructure:"subject" json:"subject" validate:"required"`
	// TimingSubject is the NATS subject timing samples are broadcast on
	TimingSubject string `mapstructure:"timing_subject" json:"timing_subject" validate:"required"`
	// RemoteClusters are the additional clusters to also subscribe on
	RemoteClusters []RemoteClusterConfig `mapstructure:"remote_clusters" json:"remote_clusters,omitempty" validate:"omitempty,dive"`
	// CertificateVerify is the default certificate verification preference for replay
	// when a sync event does not carry one
	CertificateVerify bool `mapstructure:"certificate_verify" json:"certificate_verify"`
	// TaskBuffer is the inbound message buffer depth of the event loop
	TaskBuffer int `mapstructure:"task_buffer" json:"task_buffer" validate:"gte=1"`
}

// ===============================================================================
// Durable Log Related Config

// DurableLogConfig defines the durable log sink parameters
type DurableLogConfig struct {
	// Driver selects the Kafka client implementation
	Driver string `mapstructure:"driver" json:"driver" validate:"required,oneof=sarama kafka-go"`
	// Brokers are the Kafka bootstrap brokers
	Brokers []string `mapstructure:"brokers" json:"brokers" validate:"required,gte=1"`
	// Topic is the topic remotely originated sync events are stored under
	Topic string `mapstructure:"topic" json:"topic" validate:"required"`
	// DeliveryTimeout is the max duration to wait for a delivery confirmation in seconds
	DeliveryTimeout int `mapstructure:"delivery_timeout_sec" json:"delivery_timeout_sec" validate:"gte=1"`
}

// DeliveryTimeoutDuration helper function to convert the delivery timeout
func (c DurableLogConfig) DeliveryTimeoutDuration() time.Duration {
	return time.Second * time.Duration(c.DeliveryTimeout)
}

// ===============================================================================
// Local Store Related Config

// StoreConfig defines the local record store parameters
type StoreConfig struct {
	// DataDir is the directory holding the local record store
	DataDir string `mapstructure:"data_dir" json:"data_dir" validate:"required"`
	// TimingEnabled whether to publish processing timing samples
	TimingEnabled bool `mapstructure:"timing_enabled" json:"timing_enabled"`
}

// ===============================================================================
// HTTP Related Config

// HTTPServerConfig defines the HTTP server parameters
type HTTPServerConfig struct {
	// ListenOn is the interface the HTTP server will listen on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,ip"`
	// Port is the port the HTTP server will listen on
	Port uint16 `mapstructure:"listen_port" json:"listen_port" validate:"required,gt=0,lt=65536"`
	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body in seconds. A zero or negative
	// value means there will be no timeout.
	ReadTimeout int `mapstructure:"read_timeout_sec" json:"read_timeout_sec" validate:"gte=0"`
	// WriteTimeout is the maximum duration before timing out
	// writes of the response in seconds. A zero or negative value
	// means there will be no timeout.
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=0"`
	// IdleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled in seconds. If
	// IdleTimeout is zero, the value of ReadTimeout is used. If
	// both are zero, there is no timeout.
	IdleTimeout int `mapstructure:"idle_timeout_sec" json:"idle_timeout_sec" validate:"gte=0"`
}

// HTTPRequestLogging defines HTTP request logging parameters
type HTTPRequestLogging struct {
	// RequestIDHeader is the HTTP header containing the API request ID
	RequestIDHeader string `mapstructure:"request_id_header" json:"request_id_header"`
	// DoNotLogHeaders is the list of headers to not include in logging metadata
	DoNotLogHeaders []string `mapstructure:"do_not_log_headers" json:"do_not_log_headers"`
}

// APIEndpointConfig defines status API endpoint config
type APIEndpointConfig struct {
	// PathPrefix is the end-point path prefix for the status APIs
	PathPrefix string `mapstructure:"path_prefix" json:"path_prefix" validate:"required"`
}

// APIServerConfig defines the status API server parameters
type APIServerConfig struct {
	// Server defines HTTP server parameters
	Server HTTPServerConfig `mapstructure:"server_config" json:"server_config" validate:"required"`
	// Logging defines operation logging parameters
	Logging HTTPRequestLogging `mapstructure:"logging_config" json:"logging_config" validate:"required"`
	// Endpoints is the API endpoint config parameters
	Endpoints APIEndpointConfig `mapstructure:"endpoint_config" json:"endpoint_config" validate:"required"`
}

// HealthConfig defines the gRPC health service parameters
type HealthConfig struct {
	// ListenOn is the address the gRPC health service listens on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,hostname_port"`
}

// ===============================================================================
// Complete Config

// SystemConfig defines the complete bridge config
type SystemConfig struct {
	// NodeID is the identifier this node stamps onto the sync events it originates.
	// Must be unique within the deployment.
	NodeID string `mapstructure:"node_id" json:"node_id" validate:"required"`
	// NATS are the NATS related config parameters
	NATS NATSConfig `mapstructure:"nats" json:"nats" validate:"required"`
	// Sync are the sync bridge parameters
	Sync SyncConfig `mapstructure:"sync" json:"sync" validate:"required"`
	// DurableLog are the durable log sink parameters
	DurableLog DurableLogConfig `mapstructure:"durable_log" json:"durable_log" validate:"required"`
	// Store are the local record store parameters
	Store StoreConfig `mapstructure:"store" json:"store" validate:"required"`
	// StatusReportInterval is the interval between connection status reports in seconds
	StatusReportInterval int `mapstructure:"status_report_interval_sec" json:"status_report_interval_sec" validate:"gte=1"`
	// API are the status REST API parameters
	API APIServerConfig `mapstructure:"api" json:"api" validate:"required"`
	// Health are the gRPC health service parameters
	Health HealthConfig `mapstructure:"health" json:"health" validate:"required"`
}

// ===============================================================================

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues() {
	// Default NATS settings
	viper.SetDefault("nats.servers", []string{"nats://127.0.0.1:4222"})
	viper.SetDefault("nats.connect_timeout_sec", 30)
	viper.SetDefault("nats.reconnect.enabled", true)
	viper.SetDefault("nats.reconnect.max_attempts", 10)
	viper.SetDefault("nats.reconnect.wait_interval_sec", 2)

	// Default sync settings
	viper.SetDefault("sync.subject", "EVENTS.sync")
	viper.SetDefault("sync.timing_subject", "TIMING")
	viper.SetDefault("sync.certificate_verify", false)
	viper.SetDefault("sync.task_buffer", 256)

	// Default durable log settings
	viper.SetDefault("durable_log.driver", "sarama")
	viper.SetDefault("durable_log.brokers", []string{"127.0.0.1:9092"})
	viper.SetDefault("durable_log.topic", "SYNC")
	viper.SetDefault("durable_log.delivery_timeout_sec", 10)

	// Default local store settings
	viper.SetDefault("store.data_dir", "/tmp/syncbridge")
	viper.SetDefault("store.timing_enabled", false)

	viper.SetDefault("status_report_interval_sec", 30)

	// Default status API settings
	viper.SetDefault("api.endpoint_config.path_prefix", "/")
	viper.SetDefault("api.server_config.listen_on", "0.0.0.0")
	viper.SetDefault("api.server_config.listen_port", 3000)
	viper.SetDefault("api.server_config.read_timeout_sec", 60)
	viper.SetDefault("api.server_config.write_timeout_sec", 60)
	viper.SetDefault("api.server_config.idle_timeout_sec", 600)
	viper.SetDefault("api.logging_config.request_id_header", "Syncbridge-Request-ID")
	viper.SetDefault(
		"api.logging_config.do_not_log_headers", []string{
			"WWW-Authenticate", "Authorization", "Proxy-Authenticate", "Proxy-Authorization",
		},
	)

	viper.SetDefault("health.listen_on", "0.0.0.0:3001")
}
