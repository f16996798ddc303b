package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedFrame is returned for frames that cannot be classified.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is a decoded frame of any type. Exactly one of the pointers is set.
type Frame struct {
	Request  *Request
	Response *Response
	Event    *Event
}

// rawFrame accepts the field aliases seen across gateway versions.
type rawFrame struct {
	Type    string          `json:"type"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	Args    json.RawMessage `json:"args"`
	OK      *bool           `json:"ok"`
	Result  json.RawMessage `json:"result"`
	Payload json.RawMessage `json:"payload"`
	Error   *rawError       `json:"error"`
	Event   string          `json:"event"`
}

type rawError struct {
	Code    string `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewRequest builds a request frame, marshaling params.
func NewRequest(id, method string, params any) (*Request, error) {
	req := &Request{Type: TypeRequest, ID: id, Method: method}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal %s params: %w", method, err)
		}
		req.Params = data
	}
	return req, nil
}

// EncodeRequest serializes a request frame.
func EncodeRequest(req *Request) ([]byte, error) {
	if req.Type == "" {
		req.Type = TypeRequest
	}
	return json.Marshal(req)
}

// EncodeResponse serializes a response frame.
func EncodeResponse(resp *Response) ([]byte, error) {
	if resp.Type == "" {
		resp.Type = TypeResponse
	}
	return json.Marshal(resp)
}

// EncodeEvent serializes an event frame carrying payload.
func EncodeEvent(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return json.Marshal(Event{Type: TypeEvent, Event: event, Payload: data})
}

// OKResponse builds a successful response carrying result.
func OKResponse(id string, result any) (*Response, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Response{Type: TypeResponse, ID: id, OK: true, Result: data}, nil
}

// ErrorResponse builds a failed response.
func ErrorResponse(id, code, message string) *Response {
	return &Response{Type: TypeResponse, ID: id, OK: false, Error: &Error{Code: code, Message: message}}
}

// DecodeFrame parses and classifies a frame.
func DecodeFrame(data []byte) (Frame, error) {
	var raw rawFrame
	if err := json.Unmarshal(data, &raw); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch raw.Type {
	case TypeResponse:
		return decodeResponse(raw)
	case TypeRequest:
		id, err := decodeID(raw.ID)
		if err != nil || id == "" || raw.Method == "" {
			return Frame{}, fmt.Errorf("%w: request needs id and method", ErrMalformedFrame)
		}
		params := raw.Params
		if len(params) == 0 {
			params = raw.Args
		}
		return Frame{Request: &Request{Type: TypeRequest, ID: id, Method: raw.Method, Params: params}}, nil
	case TypeEvent:
		return Frame{Event: &Event{Type: TypeEvent, Event: raw.Event, Payload: raw.Payload}}, nil
	case "":
		// Some gateways omit the type on responses.
		if raw.OK != nil {
			return decodeResponse(raw)
		}
		return Frame{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	default:
		return Frame{}, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, raw.Type)
	}
}

func decodeResponse(raw rawFrame) (Frame, error) {
	id, err := decodeID(raw.ID)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if raw.OK == nil {
		return Frame{}, fmt.Errorf("%w: response %q has no ok field", ErrMalformedFrame, id)
	}

	resp := &Response{Type: TypeResponse, ID: id, OK: *raw.OK, Result: raw.Result}
	if len(resp.Result) == 0 {
		resp.Result = raw.Payload
	}
	if raw.Error != nil {
		code := raw.Error.Code
		if code == "" {
			code = raw.Error.Type
		}
		resp.Error = &Error{Code: code, Message: raw.Error.Message}
	}
	if !resp.OK && resp.Error == nil {
		return Frame{}, fmt.Errorf("%w: failed response %q has no error", ErrMalformedFrame, id)
	}
	return Frame{Response: resp}, nil
}

// decodeID accepts string and numeric ids; numeric ids are kept in their textual form.
func decodeID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("invalid id %s", string(raw))
}

// Decode unmarshals the response result into v.
func (r *Response) Decode(v any) error {
	if len(r.Result) == 0 {
		return fmt.Errorf("response %q has no result", r.ID)
	}
	if err := json.Unmarshal(r.Result, v); err != nil {
		return fmt.Errorf("decode response %q: %w", r.ID, err)
	}
	return nil
}

// ErrorCode returns the error code of a failed response, or "".
func (r *Response) ErrorCode() string {
	if r == nil || r.Error == nil {
		return ""
	}
	return r.Error.Code
}

// DecodeParams unmarshals the request params into v.
func (r *Request) DecodeParams(v any) error {
	if len(r.Params) == 0 {
		return nil
	}
	return json.Unmarshal(r.Params, v)
}
