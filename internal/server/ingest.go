package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/alfredjeanlab/intake/internal/model"
	"github.com/alfredjeanlab/intake/internal/splitter"
)

// readChunkSize is the body read granularity. Record boundaries do not
// align with it; the splitter carries partial values across reads.
const readChunkSize = 32 * 1024

// handleIngest handles POST /v1/ingest (and POST /).
//
// The body is the direct concatenation of JSON values with no
// delimiter. One Stream is created lazily on the first complete value;
// each value is stored as one Event with an increasing index, reusing
// the already-validated byte span as the payload.
//
// Outcome mapping: success → 200 with empty body; malformed or
// truncated-at-end JSON → 400; transport or storage failure → 500. The
// first failing record aborts the request, but records already stored
// stay stored.
func (s *IngestServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		sp         splitter.Splitter
		streamID   model.StreamID
		haveStream bool
		index      uint64
	)

	buf := make([]byte, readChunkSize)
	for {
		n, readErr := r.Body.Read(buf)
		if n > 0 {
			sp.Feed(buf[:n])
			for {
				value, err := sp.Next()
				if err == io.EOF || errors.Is(err, splitter.ErrIncomplete) {
					break
				}
				if err != nil {
					s.logger.Warn("malformed payload", "error", err)
					w.WriteHeader(http.StatusBadRequest)
					return
				}

				if !haveStream {
					headers, err := json.Marshal(r.Header)
					if err != nil {
						s.logger.Error("serialize headers", "error", err)
						w.WriteHeader(http.StatusInternalServerError)
						return
					}
					streamID, err = s.newStream(ctx, model.SerializedHeaders(headers))
					if err != nil {
						s.logger.Error("create stream", "error", err)
						w.WriteHeader(http.StatusInternalServerError)
						return
					}
					haveStream = true
				}

				if err := s.insertEvent(ctx, streamID, index, value); err != nil {
					s.logger.Error("insert event", "stream_id", streamID, "index", index, "error", err)
					w.WriteHeader(http.StatusInternalServerError)
					return
				}
				index++
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			s.logger.Error("read request body", "error", readErr)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}

	if sp.Pending() {
		// The body ended mid-value: truncated request.
		s.logger.Warn("request body ended with a partial json value")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
}
