package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/syncbridge/common"
	"github.com/apex/log"
	"github.com/cockroachdb/pebble"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// StoredRecord one processed record as kept in the local store
type StoredRecord struct {
	Location          string                 `json:"location"`
	OriginID          string                 `json:"origin_id,omitempty"`
	OriginURL         string                 `json:"origin_url,omitempty"`
	DataFormat        string                 `json:"data_format"`
	CertificateVerify bool                   `json:"certificate_verify"`
	Payload           map[string]interface{} `json:"payload"`
	StoredAt          time.Time              `json:"stored_at"`
}

// RecordStore a Processor which persists processed records locally
type RecordStore interface {
	Processor
	// Get read back a stored record
	Get(location string) (StoredRecord, error)
	// Close release the store
	Close() error
}

// localStoreImpl implements RecordStore with pebble
type localStoreImpl struct {
	goutils.Component
	db        *pebble.DB
	publisher SyncPublisher
	validate  *validator.Validate
	closeOnce sync.Once
}

// OpenLocalStore open the local record store at dataDir.
//
// When publisher is not nil, records processed with Republish set are broadcast on the
// sync subject after being stored.
func OpenLocalStore(
	dataDir string, opts *pebble.Options, publisher SyncPublisher,
) (RecordStore, error) {
	logTags := log.Fields{
		"module": "pipeline", "component": "local-store", "instance": dataDir,
	}
	db, err := pebble.Open(dataDir, opts)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to open local store")
		return nil, err
	}
	return &localStoreImpl{
		Component: goutils.Component{LogTags: logTags},
		db:        db,
		publisher: publisher,
		validate:  validator.New(),
	}, nil
}

// Process store the record, and broadcast it if requested
func (s *localStoreImpl) Process(ctxt context.Context, req Request) (Result, error) {
	if err := s.validate.Struct(&req); err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Invalid record")
		return Result{}, err
	}
	location := fmt.Sprintf("%s/%s", req.DataFormat, uuid.NewString())
	record := StoredRecord{
		Location:          location,
		OriginID:          req.OriginID,
		OriginURL:         req.OriginURL,
		DataFormat:        req.DataFormat,
		CertificateVerify: req.CertificateVerify,
		Payload:           req.Payload,
		StoredAt:          time.Now().UTC(),
	}
	serialized, err := json.Marshal(&record)
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Unable to serialize record")
		return Result{}, err
	}
	if err := s.db.Set([]byte(location), serialized, pebble.Sync); err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf("Unable to store record %s", location)
		return Result{}, err
	}
	log.WithFields(s.LogTags).Debugf("Stored record %s", location)

	if req.Republish && s.publisher != nil {
		encoded, err := common.EncodePayload(req.Payload)
		if err != nil {
			return Result{}, err
		}
		msg := common.SyncMessage{
			Payload:           encoded,
			OriginEndpointURL: req.OriginURL,
			DataFormat:        req.DataFormat,
			CertificateVerify: &req.CertificateVerify,
		}
		if err := s.publisher.PublishSync(ctxt, msg); err != nil {
			log.WithError(err).WithFields(s.LogTags).Errorf("Unable to broadcast record %s", location)
			return Result{RecordLocation: location}, fmt.Errorf(
				"record %s stored but not broadcast: %w", location, err,
			)
		}
	}
	return Result{RecordLocation: location}, nil
}

// Get read back a stored record
func (s *localStoreImpl) Get(location string) (StoredRecord, error) {
	value, closer, err := s.db.Get([]byte(location))
	if err != nil {
		return StoredRecord{}, err
	}
	defer func() {
		if err := closer.Close(); err != nil {
			log.WithError(err).WithFields(s.LogTags).Error("Failed to release read")
		}
	}()
	var record StoredRecord
	if err := json.Unmarshal(value, &record); err != nil {
		return StoredRecord{}, err
	}
	return record, nil
}

// Close release the store
func (s *localStoreImpl) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.db.Close()
	})
	return err
}
