// Package transport carries request and response envelopes between a caller
// and a worker: in process over Go channels, or across processes over NATS.
// Both ends exchange encoded JSON only and never share memory.
package transport

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/morezero/engine-worker/pkg/commsutil"
	"github.com/morezero/engine-worker/pkg/dispatcher"
)

const codecLogPrefix = "transport:codec"

// decodeRequest decodes a request envelope. On failure the returned request
// still carries whatever id could be recovered from the payload.
func decodeRequest(data []byte) (*dispatcher.Request, error) {
	var req dispatcher.Request
	if err := commsutil.DecodePayload(data, &req); err != nil {
		return &dispatcher.Request{ID: salvageID(data)}, fmt.Errorf("%s - invalid request envelope: %w", codecLogPrefix, err)
	}
	if req.Method == "" {
		return &dispatcher.Request{ID: req.ID}, fmt.Errorf("%s - request envelope [id:%d] has no method", codecLogPrefix, req.ID)
	}
	return &req, nil
}

func decodeResponse(data []byte) (*dispatcher.Response, error) {
	var resp dispatcher.Response
	if err := commsutil.DecodePayload(data, &resp); err != nil {
		return nil, fmt.Errorf("%s - invalid response envelope: %w", codecLogPrefix, err)
	}
	return &resp, nil
}

// salvageID extracts an integral "id" member from the first JSON value of an
// otherwise unusable payload, or returns 0.
func salvageID(data []byte) int64 {
	var partial struct {
		ID json.Number `json:"id"`
	}
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&partial); err != nil {
		return 0
	}
	id, err := partial.ID.Int64()
	if err != nil {
		return 0
	}
	return id
}
