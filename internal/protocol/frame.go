// Package protocol defines the frames exchanged with the chat server and
// their two-layer JSON encoding.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType tags a Frame. The string values are part of the wire format.
type MessageType string

const (
	TypeUsers    MessageType = "users"
	TypeRegister MessageType = "register"
	TypeMessage  MessageType = "message"
)

func (t MessageType) valid() bool {
	switch t {
	case TypeUsers, TypeRegister, TypeMessage:
		return true
	}
	return false
}

// Frame is one unit on the wire. Register and Message use Data, Users uses
// DataArray; the other field stays nil.
type Frame struct {
	Type      MessageType
	Data      *string
	DataArray []string
}

// wireFrame mirrors the JSON object sent over the connection.
type wireFrame struct {
	MessageType MessageType `json:"messageType"`
	DataArray   *[]string   `json:"dataArray,omitempty"`
	Data        *string     `json:"data,omitempty"`
}

// NewRegister builds the frame a client sends once when its session starts.
func NewRegister(username string) Frame {
	return Frame{Type: TypeRegister, Data: &username}
}

// NewUsers builds a full roster snapshot.
func NewUsers(usernames []string) Frame {
	if usernames == nil {
		usernames = []string{}
	}
	return Frame{Type: TypeUsers, DataArray: usernames}
}

// NewMessage builds a message frame whose data carries the encoded payload.
func NewMessage(payload MessagePayload) (Frame, error) {
	data, err := EncodePayload(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: TypeMessage, Data: &data}, nil
}

// Payload decodes the inner record of a message frame.
func (f Frame) Payload() (MessagePayload, error) {
	if f.Type != TypeMessage || f.Data == nil {
		return MessagePayload{}, malformed("frame of type %q carries no message payload", f.Type)
	}
	return DecodePayload(*f.Data)
}

func (f Frame) validate() error {
	if !f.Type.valid() {
		return malformed("unknown messageType %q", f.Type)
	}
	switch f.Type {
	case TypeUsers:
		if f.DataArray == nil {
			return malformed("users frame without dataArray")
		}
		if f.Data != nil {
			return malformed("users frame with data")
		}
	default:
		if f.Data == nil {
			return malformed("%s frame without data", f.Type)
		}
		if f.DataArray != nil {
			return malformed("%s frame with dataArray", f.Type)
		}
	}
	return nil
}

// Encode serialises a frame. Frames that would not survive Decode are
// rejected with ErrMalformed.
func Encode(f Frame) (string, error) {
	if err := f.validate(); err != nil {
		return "", err
	}
	wire := wireFrame{MessageType: f.Type, Data: f.Data}
	if f.DataArray != nil {
		arr := f.DataArray
		wire.DataArray = &arr
	}
	buf, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("encode frame: %w", err)
	}
	return string(buf), nil
}

// Decode parses one inbound text frame.
func Decode(text string) (Frame, error) {
	var wire wireFrame
	if err := json.Unmarshal([]byte(text), &wire); err != nil {
		return Frame{}, &DecodeError{Kind: Malformed, Reason: "invalid frame json", Err: err}
	}
	f := Frame{Type: wire.MessageType, Data: wire.Data}
	// "dataArray": null leaves the pointer nil and reads as absent.
	if wire.DataArray != nil {
		f.DataArray = *wire.DataArray
	}
	if err := f.validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// IsDecodeError reports whether err came out of Decode or DecodePayload.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
