// Package model holds the data types shared by the ingestion endpoint
// and the storage backends.
package model

import (
	"encoding/json"
	"time"
)

// StreamID identifies one ingestion session within a single backend.
// How the value is generated is backend-specific: the database stores
// derive it from a server-side sequence or rowid, the flat-file store
// draws it from a wide random space. IDs are not comparable across
// backends.
type StreamID int64

// SerializedHeaders is the originating request's headers serialized as
// a JSON object. Backends store it opaquely.
type SerializedHeaders json.RawMessage

// MarshalJSON writes the raw header bytes through unchanged.
func (h SerializedHeaders) MarshalJSON() ([]byte, error) {
	return json.RawMessage(h).MarshalJSON()
}

// UnmarshalJSON keeps the raw header bytes verbatim.
func (h *SerializedHeaders) UnmarshalJSON(data []byte) error {
	return (*json.RawMessage)(h).UnmarshalJSON(data)
}

// Stream is one logical telemetry session. Created exactly once per
// session; never mutated.
type Stream struct {
	ID      StreamID          `json:"stream_id"`
	Headers SerializedHeaders `json:"headers"`
	StartAt time.Time         `json:"start_at"`
}

// Event is one telemetry record belonging to a Stream. Index is
// assigned by the caller and increases monotonically within a stream.
type Event struct {
	StreamID StreamID        `json:"stream_id"`
	Index    uint64          `json:"index"`
	Payload  json.RawMessage `json:"payload"`
	InsertAt time.Time       `json:"insert_at"`
}
