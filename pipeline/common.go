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

package pipeline

import (
	"context"
)

// Request one record to process through the local pipeline
type Request struct {
	// Payload is the decoded business data
	Payload map[string]interface{} `json:"payload" validate:"required"`
	// OriginURL is the endpoint the data was first received on
	OriginURL string `json:"origin_url,omitempty" validate:"omitempty,url"`
	// CertificateVerify whether to verify certificates when contacting the origin
	CertificateVerify bool `json:"certificate_verify"`
	// OriginID is the node which first received the data. Empty for local data.
	OriginID string `json:"origin_id,omitempty"`
	// DataFormat is the business data format
	DataFormat string `json:"data_format" validate:"required"`
	// Republish whether the processed record is broadcast on the sync subject for the
	// other nodes. Must be false when replaying a sync event.
	Republish bool `json:"republish"`
}

// Result outcome of processing one record
type Result struct {
	// RecordLocation is where the processed record was stored
	RecordLocation string `json:"data_record_location"`
}

// Processor the local processing pipeline
type Processor interface {
	// Process run the record through the pipeline
	Process(ctxt context.Context, req Request) (Result, error)
}
