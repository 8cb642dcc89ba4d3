// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package remote provides viewer control over a JSON RPC 2 unix socket.
package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/kortschak/jsonrpc2"
)

// Control methods.
const (
	Open   = "open"   // call Message[OpenBody] → Message[string]
	Next   = "next"   // call Message[None] → Message[string]
	Prev   = "prev"   // call Message[None] → Message[string]
	Pause  = "pause"  // call Message[None] → Message[string]
	Resume = "resume" // call Message[None] → Message[string]
	Status = "status" // call Message[None] → Message[StatusBody]
	Quit   = "quit"   // notify Message[None] → nil
)

// JSON RPC error codes.
const (
	ErrCodeInvalidMessage = 1 // an RPC message is invalid
	// Invalid message sub-codes:
	ErrCodeMessageSyntax       = 11 // syntax
	ErrCodeMessageUnknownField = 12 // unknown field
	ErrCodeShortMessage        = 13 // truncation
	ErrCodeMessageType         = 14 // type mismatch

	ErrCodeInvalidData = 2 // data sent in a call was invalid
	// Invalid data sub-codes:
	ErrCodePath   = 21 // path error
	ErrCodeBounds = 22 // playlist bounds

	ErrCodeInternal = 3 // an internal error happened
)

// Message is the message passing container.
type Message[T any] struct {
	Time time.Time `json:"time"`
	UID  UID       `json:"uid,omitempty"`
	Body T         `json:"body,omitempty"`
}

// UID is a component's UID.
type UID struct {
	Module  string `json:"module,omitempty"`
	Service string `json:"service,omitempty"`
}

func (u UID) String() string {
	if u.Service == "" {
		return u.Module
	}
	return u.Module + "." + u.Service
}

func (u UID) IsZero() bool {
	return u == UID{}
}

// NewMessage is a convenience Message constructor. It populates the Time
// field and ensures that the sender's UID is included in the message.
func NewMessage[T any](uid UID, body T) *Message[T] {
	return &Message[T]{
		Time: time.Now(),
		UID:  uid,
		Body: body,
	}
}

// OpenBody is the request body for an open call.
type OpenBody struct {
	Path string `json:"path"`
}

// StatusBody is the response body for a status call.
type StatusBody struct {
	Path      string    `json:"path,omitempty"`
	Frame     int       `json:"frame"`
	Frames    int       `json:"frames"`
	Paused    bool      `json:"paused"`
	Remaining *Duration `json:"remaining,omitempty"`
	Recent    []string  `json:"recent,omitempty"`
}

// UnmarshalMessage is a strict equivalent of [json.Unmarshal].
func UnmarshalMessage[T any](data []byte, v *Message[T]) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	err := dec.Decode(v)
	if err != nil {
		return &jsonrpc2.WireError{
			Code:    ErrCodeInvalidMessage,
			Message: err.Error(),
			Data:    encodeErrData(err, data),
		}
	}
	if dec.More() {
		off := dec.InputOffset()
		return &jsonrpc2.WireError{
			Code:    ErrCodeInvalidMessage,
			Message: fmt.Sprintf("invalid character "+quoteChar(data[off])+" after top-level value at offset %d", off),
			Data:    encodeErrData(&json.SyntaxError{Offset: off}, data),
		}
	}
	return nil
}

// encodeErrData return the JSON encoding for an error's extra data.
func encodeErrData(err error, data []byte) json.RawMessage {
	type extra struct {
		Type    int    `json:"type,omitempty"`
		Offset  int64  `json:"offset,omitempty"`
		Message []byte `json:"msg"`
	}
	e := extra{
		Message: data,
	}
	switch err := err.(type) {
	case nil:
		return nil
	case *json.SyntaxError:
		e.Type = ErrCodeMessageSyntax
		e.Offset = err.Offset
	case *json.UnmarshalTypeError:
		e.Type = ErrCodeMessageType
		e.Offset = err.Offset
	default:
		switch {
		case err == io.EOF, err == io.ErrUnexpectedEOF:
			e.Type = ErrCodeShortMessage
		case strings.HasPrefix(err.Error(), "json: unknown field"):
			e.Type = ErrCodeMessageUnknownField
		}
	}
	var buf bytes.Buffer
	dec := json.NewEncoder(&buf)
	dec.SetEscapeHTML(false)
	dec.Encode(e)
	return bytes.TrimSpace(buf.Bytes())
}

// NewError returns an error that will be encoded correctly in the RPC protocol.
func NewError(code int64, message string, data any) error {
	e := &jsonrpc2.WireError{
		Code:    code,
		Message: message,
	}
	e.Data = wireErrorData(data)
	return e
}

func wireErrorData(data any) json.RawMessage {
	if data == nil {
		return nil
	}
	var buf bytes.Buffer
	dec := json.NewEncoder(&buf)
	dec.SetEscapeHTML(false)
	err := dec.Encode(data)
	if err != nil {
		b, _ := json.Marshal("!" + err.Error())
		return b
	}
	return bytes.TrimSpace(buf.Bytes())
}

// quoteChar formats c as a quoted character literal.
func quoteChar(c byte) string {
	// special cases - different from quoted strings
	if c == '\'' {
		return `'\''`
	}
	if c == '"' {
		return `'"'`
	}

	// use quoted string with different quotation marks
	s := strconv.Quote(string(c))
	return "'" + s[1:len(s)-1] + "'"
}

// None is an empty parameter or response slot.
type None struct{}

// Duration is a helper for duration fields.
type Duration struct {
	time.Duration
}

func (d *Duration) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var text string
	err := json.Unmarshal(data, &text)
	if err != nil {
		return err
	}
	d.Duration, err = time.ParseDuration(text)
	return err
}
