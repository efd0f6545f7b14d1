package protocol

import (
	"encoding/json"
	"fmt"
)

// MessagePayload is the record carried, encoded, in a message frame's data.
type MessagePayload struct {
	From    string `json:"from"`
	Message string `json:"message"`
}

// EncodePayload serialises the inner record of a message frame.
func EncodePayload(p MessagePayload) (string, error) {
	buf, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(buf), nil
}

// DecodePayload parses the inner record. Both keys must be present.
func DecodePayload(data string) (MessagePayload, error) {
	var raw struct {
		From    *string `json:"from"`
		Message *string `json:"message"`
	}
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return MessagePayload{}, &DecodeError{Kind: InvalidPayload, Reason: "invalid payload json", Err: err}
	}
	if raw.From == nil || raw.Message == nil {
		return MessagePayload{}, &DecodeError{Kind: InvalidPayload, Reason: "payload missing from or message"}
	}
	return MessagePayload{From: *raw.From, Message: *raw.Message}, nil
}
