// Package dispatcher routes request envelopes to engine methods and builds
// the correlated response envelopes.
package dispatcher

import "encoding/json"

// Error codes carried in ErrorDetail.Code.
const (
	CodeNotReady        = "NOT_READY"
	CodeMethodNotFound  = "METHOD_NOT_FOUND"
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeOperationFailed = "OPERATION_FAILED"
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeRateLimited     = "RATE_LIMITED"
	CodeInternal        = "INTERNAL_ERROR"
)

// Request is the envelope a caller sends to invoke one method.
// ID must be unique among the caller's outstanding requests.
type Request struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is the envelope answering exactly one Request.
// Exactly one of Result or Error is meaningful: a nil Error means success,
// and a successful void call encodes "result": null.
type Response struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorDetail    `json:"error,omitempty"`
}

// ErrorDetail holds structured error information.
type ErrorDetail struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
	Code    string `json:"code,omitempty"`
}

// OK reports whether the response carries a result.
func (r *Response) OK() bool {
	return r.Error == nil
}

// MarshalJSON emits either {id, result} or {id, error}, never both.
func (r Response) MarshalJSON() ([]byte, error) {
	if r.Error != nil {
		return json.Marshal(struct {
			ID    int64        `json:"id"`
			Error *ErrorDetail `json:"error"`
		}{r.ID, r.Error})
	}
	result := r.Result
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return json.Marshal(struct {
		ID     int64           `json:"id"`
		Result json.RawMessage `json:"result"`
	}{r.ID, result})
}

// DecodeResult unmarshals the result into v.
func (r *Response) DecodeResult(v interface{}) error {
	if len(r.Result) == 0 {
		return json.Unmarshal([]byte("null"), v)
	}
	return json.Unmarshal(r.Result, v)
}

// NewRequest builds a Request with positional params.
func NewRequest(id int64, method string, params ...interface{}) (*Request, error) {
	req := &Request{ID: id, Method: method}
	if len(params) > 0 {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		req.Params = raw
	}
	return req, nil
}
