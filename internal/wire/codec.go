package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var emptyObject = json.RawMessage(`{}`)

// Decode classifies one frame.
//
// A frame with an id and a result or error is a Response. A frame with an id
// and neither is malformed. A frame without an id but with a method is an
// Event. Every failure is returned as a *DecodeError; Decode never panics and
// never consumes more than the one frame it is given.
func Decode(frame []byte) (Envelope, error) {
	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 {
		return nil, decodeErr(frame, "empty frame")
	}
	if !gjson.ValidBytes(frame) {
		return nil, decodeErr(frame, "invalid json")
	}

	root := gjson.ParseBytes(frame)
	if !root.IsObject() {
		return nil, decodeErr(frame, "frame is not a json object")
	}

	sessionID, ok := stringField(root, "sessionId")
	if !ok {
		return nil, decodeErr(frame, "sessionId must be a string")
	}

	if id := root.Get("id"); id.Exists() {
		return decodeResponse(frame, root, id, sessionID)
	}

	method := root.Get("method")
	if method.Type != gjson.String {
		return nil, decodeErr(frame, "frame has neither id nor method")
	}
	if _, _, ok := SplitMethod(method.Str); !ok {
		return nil, decodeErr(frame, fmt.Sprintf("invalid method %q", method.Str))
	}

	params, ok := objectField(root, "params")
	if !ok {
		return nil, decodeErr(frame, "params must be a json object")
	}

	return &Event{
		SessionID: sessionID,
		Method:    method.Str,
		Params:    params,
	}, nil
}

func decodeResponse(frame []byte, root, id gjson.Result, sessionID string) (Envelope, error) {
	if id.Type != gjson.Number || id.Num != math.Trunc(id.Num) {
		return nil, decodeErr(frame, "id must be an integer")
	}

	result := root.Get("result")
	rpcErr := root.Get("error")

	// A null error is treated as absent.
	switch {
	case result.Exists() && (!rpcErr.Exists() || rpcErr.Type == gjson.Null):
		return &Response{
			ID:        id.Int(),
			SessionID: sessionID,
			Result:    json.RawMessage(result.Raw),
		}, nil
	case rpcErr.Exists():
		return &Response{
			ID:        id.Int(),
			SessionID: sessionID,
			Error:     decodeRPCError(rpcErr),
		}, nil
	default:
		return nil, decodeErr(frame, "id present without result or error")
	}
}

// decodeRPCError never fails: a response that names an id must settle its
// request even when the error member is not shaped as expected.
func decodeRPCError(v gjson.Result) *RPCError {
	switch {
	case v.Type == gjson.String:
		return &RPCError{Code: CodeMalformedError, Message: v.Str}
	case v.Type == gjson.Null:
		return &RPCError{Code: CodeMalformedError, Message: MalformedErrorMessage}
	case !v.IsObject():
		return &RPCError{Code: CodeMalformedError, Message: MalformedErrorMessage, Data: v.Raw}
	}

	e := &RPCError{Code: int(v.Get("code").Int()), Message: MalformedErrorMessage}
	if msg := v.Get("message"); msg.Type == gjson.String {
		e.Message = msg.Str
	} else {
		e.Data = v.Raw
	}
	if data := v.Get("data"); data.Exists() && e.Data == "" {
		if data.Type == gjson.String {
			e.Data = data.Str
		} else {
			e.Data = data.Raw
		}
	}
	return e
}

// stringField returns the named string member. A missing or null member is "".
func stringField(root gjson.Result, name string) (string, bool) {
	v := root.Get(name)
	switch v.Type {
	case gjson.Null:
		return "", true
	case gjson.String:
		return v.Str, true
	default:
		return "", false
	}
}

// objectField returns the named object member. A missing or null member is {}.
func objectField(root gjson.Result, name string) (json.RawMessage, bool) {
	v := root.Get(name)
	if !v.Exists() || v.Type == gjson.Null {
		return emptyObject, true
	}
	if !v.IsObject() {
		return nil, false
	}
	return json.RawMessage(v.Raw), true
}

// EncodeRequest builds a request frame. params may be nil, a json.RawMessage,
// a []byte of JSON, or any value encoding/json can marshal to an object.
// An empty sessionID addresses the root session and omits the member.
func EncodeRequest(id int64, sessionID, method string, params any) ([]byte, error) {
	if _, _, ok := SplitMethod(method); !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMethod, method)
	}
	raw, err := encodeParams(params)
	if err != nil {
		return nil, err
	}

	frame, err := sjson.SetBytes([]byte(`{}`), "id", id)
	if err != nil {
		return nil, fmt.Errorf("encode id: %w", err)
	}
	if sessionID != "" {
		if frame, err = sjson.SetBytes(frame, "sessionId", sessionID); err != nil {
			return nil, fmt.Errorf("encode sessionId: %w", err)
		}
	}
	if frame, err = sjson.SetBytes(frame, "method", method); err != nil {
		return nil, fmt.Errorf("encode method: %w", err)
	}
	if frame, err = sjson.SetRawBytes(frame, "params", raw); err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	return frame, nil
}

// EncodeResponse builds a response frame. It is the remote side's half of the
// codec and is used by in-process peers and tests.
func EncodeResponse(r *Response) ([]byte, error) {
	if (r.Result == nil) == (r.Error == nil) {
		return nil, fmt.Errorf("%w: response needs exactly one of result or error", ErrMalformed)
	}
	frame, err := sjson.SetBytes([]byte(`{}`), "id", r.ID)
	if err != nil {
		return nil, err
	}
	if r.SessionID != "" {
		if frame, err = sjson.SetBytes(frame, "sessionId", r.SessionID); err != nil {
			return nil, err
		}
	}
	if r.Error != nil {
		errJSON, err := json.Marshal(r.Error)
		if err != nil {
			return nil, fmt.Errorf("encode error: %w", err)
		}
		return sjson.SetRawBytes(frame, "error", errJSON)
	}
	if !gjson.ValidBytes(r.Result) {
		return nil, fmt.Errorf("%w: result is not valid json", ErrMalformed)
	}
	return sjson.SetRawBytes(frame, "result", r.Result)
}

// EncodeEvent builds an event frame.
func EncodeEvent(e *Event) ([]byte, error) {
	if _, _, ok := SplitMethod(e.Method); !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMethod, e.Method)
	}
	raw, err := encodeParams(e.Params)
	if err != nil {
		return nil, err
	}
	frame := []byte(`{}`)
	if e.SessionID != "" {
		if frame, err = sjson.SetBytes(frame, "sessionId", e.SessionID); err != nil {
			return nil, err
		}
	}
	if frame, err = sjson.SetBytes(frame, "method", e.Method); err != nil {
		return nil, err
	}
	return sjson.SetRawBytes(frame, "params", raw)
}

func encodeParams(params any) ([]byte, error) {
	var raw []byte
	switch p := params.(type) {
	case nil:
		return emptyObject, nil
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		raw = b
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return emptyObject, nil
	}
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		return nil, ErrInvalidParams
	}
	return raw, nil
}
