// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockcypher

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// APIError describes a failed upstream call. It covers transport failures,
// timeouts, non-2xx statuses and 2xx responses whose body reports an error.
type APIError struct {
	// Op names the upstream operation, e.g. "txs/new".
	Op string

	// StatusCode is the HTTP status, zero when no response was read.
	StatusCode int

	// Payload is the raw response body, if any.
	Payload json.RawMessage

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("blockcypher %s: status %d: %v", e.Op,
			e.StatusCode, e.Err)
	}
	return fmt.Sprintf("blockcypher %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *APIError) Unwrap() error {
	return e.Err
}

// bodyError returns the error reported inside a response body through an
// "error" or "errors" member, or nil when there is none.
func bodyError(body []byte) error {
	var probe struct {
		Error  json.RawMessage   `json:"error"`
		Errors []json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return fmt.Errorf("undecodable response: %w", err)
	}

	if e := bytes.TrimSpace(probe.Error); len(e) > 0 &&
		!bytes.Equal(e, []byte("null")) && !bytes.Equal(e, []byte(`""`)) {

		var msg string
		if json.Unmarshal(e, &msg) == nil {
			return fmt.Errorf("upstream error: %s", msg)
		}
		return fmt.Errorf("upstream error: %s", e)
	}

	if len(probe.Errors) > 0 {
		return fmt.Errorf("upstream reported %d error(s): %s",
			len(probe.Errors), probe.Errors[0])
	}

	return nil
}
