package common

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// SyncMessage one cross-cluster sync event as broadcast on the sync subject
type SyncMessage struct {
	// OriginID identifies the node which produced the event
	OriginID string `json:"origin_id" validate:"required"`
	// Payload is the encoded business data
	Payload string `json:"payload"`
	// OriginEndpointURL is the endpoint the producing node originally received the data on
	OriginEndpointURL string `json:"origin_endpoint_url" validate:"omitempty,url"`
	// DataFormat is the business data format (i.e. FHIR, HL7, etc.)
	DataFormat string `json:"data_format"`
	// CertificateVerify optional certificate verification preference for replay
	CertificateVerify *bool `json:"certificate_verify,omitempty"`
}

// DecodeSyncMessage parse and validate a sync event message body
func DecodeSyncMessage(body []byte, validate *validator.Validate) (SyncMessage, error) {
	var msg SyncMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return SyncMessage{}, err
	}
	if err := validate.Struct(&msg); err != nil {
		return SyncMessage{}, err
	}
	return msg, nil
}

// DecodePayload decode the business data carried by the sync event.
//
// The payload is expected to be a base64 encoded JSON object. A payload which is not valid
// base64 is parsed as JSON text directly.
func (m SyncMessage) DecodePayload() (map[string]interface{}, error) {
	raw := []byte(m.Payload)
	if decoded, err := base64.StdEncoding.DecodeString(m.Payload); err == nil {
		raw = decoded
	}
	result := map[string]interface{}{}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("payload is not an encoded JSON object: %w", err)
	}
	return result, nil
}

// EncodePayload encode business data for transport in a SyncMessage
func EncodePayload(data map[string]interface{}) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// ===============================================================================

// TimingSample one elapsed time observation for a named operation
type TimingSample struct {
	OperationName  string  `json:"operation_name" validate:"required"`
	ElapsedSeconds float64 `json:"elapsed_seconds" validate:"gte=0"`
}

// DecodeTimingSample parse and validate a timing message body
func DecodeTimingSample(body []byte, validate *validator.Validate) (TimingSample, error) {
	var sample TimingSample
	if err := json.Unmarshal(body, &sample); err != nil {
		return TimingSample{}, err
	}
	if err := validate.Struct(&sample); err != nil {
		return TimingSample{}, err
	}
	return sample, nil
}
