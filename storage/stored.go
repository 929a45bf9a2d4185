package storage

import (
	"encoding/json"
	"time"

	"github.com/c360/metaingest/errors"
	"github.com/c360/metaingest/ingest"
	"github.com/c360/metaingest/record"
)

// StoredRecord is the persisted form of a create or update request.
type StoredRecord struct {
	ID         string
	TraceID    string
	StoredAt   time.Time
	Properties map[string]any
	Record     *record.Record
}

type storedJSON struct {
	ID         string          `json:"id"`
	TraceID    string          `json:"trace_id,omitempty"`
	StoredAt   time.Time       `json:"stored_at"`
	Properties map[string]any  `json:"properties,omitempty"`
	Record     json.RawMessage `json:"record"`
}

// Encode serializes the record and metadata of req.
func Encode(req *ingest.Request, storedAt time.Time) ([]byte, error) {
	if req.Record() == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidRequest, "StoredRecord", "Encode",
			"encode request without record")
	}
	rec, err := json.Marshal(req.Record())
	if err != nil {
		return nil, errors.WrapInvalid(err, "StoredRecord", "Encode", "marshal record")
	}
	data, err := json.Marshal(storedJSON{
		ID:         req.ID(),
		TraceID:    req.TraceID(),
		StoredAt:   storedAt.UTC(),
		Properties: req.Properties(),
		Record:     rec,
	})
	if err != nil {
		return nil, errors.WrapInvalid(err, "StoredRecord", "Encode", "marshal envelope")
	}
	return data, nil
}

// Decode parses data written by Encode, binding the record to s. Property
// values come back in their JSON form; times are RFC 3339 strings.
func Decode(data []byte, s *record.Schema) (*StoredRecord, error) {
	var in storedJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, errors.WrapInvalid(err, "StoredRecord", "Decode", "unmarshal envelope")
	}
	rec, err := record.UnmarshalRecord(in.Record, s)
	if err != nil {
		return nil, errors.Wrap(err, "StoredRecord", "Decode", "unmarshal record")
	}
	return &StoredRecord{
		ID:         in.ID,
		TraceID:    in.TraceID,
		StoredAt:   in.StoredAt,
		Properties: in.Properties,
		Record:     rec,
	}, nil
}

// MarshalJSON writes the same envelope as Encode.
func (s *StoredRecord) MarshalJSON() ([]byte, error) {
	rec, err := json.Marshal(s.Record)
	if err != nil {
		return nil, err
	}
	return json.Marshal(storedJSON{
		ID:         s.ID,
		TraceID:    s.TraceID,
		StoredAt:   s.StoredAt,
		Properties: s.Properties,
		Record:     rec,
	})
}
