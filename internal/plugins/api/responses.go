package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// envelope is the wrapper every platform response uses.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Error is a request the platform answered but did not fulfil.
type Error struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (status code = %d)", e.Op, e.Message, e.StatusCode)
}

// NotFound reports whether the platform answered 404.
func (e *Error) NotFound() bool { return e.StatusCode == http.StatusNotFound }

// unmarshalResponse unwraps the envelope into v.
//
// It returns *Error when the status code is not 2xx or success is false,
// and a plain error when the body cannot be read or decoded.
func unmarshalResponse(resp *http.Response, op string, v any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: cannot read response: %w", op, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(body, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := http.StatusText(resp.StatusCode)
		if decodeErr == nil {
			msg = firstNonEmpty(env.Error, env.Message, msg)
		}
		return &Error{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return fmt.Errorf("%s: unexpected response body: %w (status code = %d)", op, decodeErr, resp.StatusCode)
	}
	if !env.Success {
		return &Error{Op: op, StatusCode: resp.StatusCode, Message: firstNonEmpty(env.Error, env.Message, "request was not successful")}
	}
	if v == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%s: unexpected data: %w", op, err)
	}
	return nil
}

func firstNonEmpty(s ...string) string {
	for _, v := range s {
		if v != "" {
			return v
		}
	}
	return ""
}
