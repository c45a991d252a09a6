package journal

import (
	"encoding/json"
	"time"
)

// CallRecord is one row of call_journal.
type CallRecord struct {
	ID           int64           `json:"id"`
	WorkerID     string          `json:"workerId"`
	RequestID    int64           `json:"requestId"`
	Method       string          `json:"method"`
	Params       json.RawMessage `json:"params,omitempty"`
	OK           bool            `json:"ok"`
	ErrorCode    *string         `json:"errorCode,omitempty"`
	ErrorMessage *string         `json:"errorMessage,omitempty"`
	DurationUS   int64           `json:"durationUs"`
	Created      time.Time       `json:"created"`
}
