package protocol

import (
	"errors"
	"reflect"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	msg, err := NewMessage(MessagePayload{From: "bob", Message: "hi"})
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	frames := []Frame{
		NewRegister("alice"),
		NewRegister(""),
		NewUsers([]string{"alice", "bob"}),
		NewUsers(nil),
		msg,
	}
	for _, f := range frames {
		text, err := Encode(f)
		if err != nil {
			t.Fatalf("Encode(%+v): %v", f, err)
		}
		got, err := Decode(text)
		if err != nil {
			t.Fatalf("Decode(%s): %v", text, err)
		}
		if !reflect.DeepEqual(got, f) {
			t.Fatalf("round trip mismatch: got %+v want %+v", got, f)
		}
	}
}

func TestEncodeWireShape(t *testing.T) {
	text, err := Encode(NewRegister("alice"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if want := `{"messageType":"register","data":"alice"}`; text != want {
		t.Fatalf("unexpected wire text %s, want %s", text, want)
	}
	text, err = Encode(NewUsers([]string{"a"}))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if want := `{"messageType":"users","dataArray":["a"]}`; text != want {
		t.Fatalf("unexpected wire text %s, want %s", text, want)
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":           `hello`,
		"unknown type":       `{"messageType":"kick","data":"x"}`,
		"uppercase type":     `{"messageType":"Users","dataArray":[]}`,
		"missing type":       `{"data":"x"}`,
		"message no data":    `{"messageType":"message"}`,
		"register no data":   `{"messageType":"register"}`,
		"users no array":     `{"messageType":"users"}`,
		"users null array":   `{"messageType":"users","dataArray":null}`,
		"users with data":    `{"messageType":"users","dataArray":["a"],"data":"x"}`,
		"register with list": `{"messageType":"register","data":"a","dataArray":["a"]}`,
		"data wrong type":    `{"messageType":"register","data":5}`,
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(text)
			if err == nil {
				t.Fatalf("expected error for %s", text)
			}
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
			if errors.Is(err, ErrInvalidPayload) {
				t.Fatalf("outer failure must not read as invalid payload: %v", err)
			}
		})
	}
}

func TestPayloadErrorsAreDistinct(t *testing.T) {
	data := "not a payload"
	f := Frame{Type: TypeMessage, Data: &data}
	text, err := Encode(f)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(text)
	if err != nil {
		t.Fatalf("outer decode should succeed: %v", err)
	}
	_, err = decoded.Payload()
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
	var de *DecodeError
	if !errors.As(err, &de) || de.Kind != InvalidPayload {
		t.Fatalf("expected DecodeError of kind InvalidPayload, got %v", err)
	}

	if _, err := DecodePayload(`{"from":"bob"}`); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("missing message key should fail, got %v", err)
	}
	p, err := DecodePayload(`{"from":"bob","message":""}`)
	if err != nil {
		t.Fatalf("empty message is valid: %v", err)
	}
	if p.From != "bob" || p.Message != "" {
		t.Fatalf("unexpected payload %+v", p)
	}
}

func TestPayloadOnNonMessageFrame(t *testing.T) {
	if _, err := NewRegister("alice").Payload(); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestEncodeRejectsInvalidFrame(t *testing.T) {
	if _, err := Encode(Frame{Type: TypeMessage}); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if _, err := Encode(Frame{Type: "kick"}); !IsDecodeError(err) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
}
