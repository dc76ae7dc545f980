package codec

import (
	"bytes"
	"testing"
)

func TestMarshal_Deterministic(t *testing.T) {
	a := map[string]int{"zeta": 1, "alpha": 2, "mid": 3}
	b := map[string]int{"mid": 3, "zeta": 1, "alpha": 2}

	ea, err := Marshal(a)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	eb, err := Marshal(b)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !bytes.Equal(ea, eb) {
		t.Errorf("encodings differ: %x vs %x", ea, eb)
	}
}

func TestUnmarshal_RejectsDuplicateKeys(t *testing.T) {
	// {"a": 1, "a": 2}
	data := []byte{0xa2, 0x61, 'a', 0x01, 0x61, 'a', 0x02}

	var v map[string]int
	if err := Unmarshal(data, &v); err == nil {
		t.Errorf("Unmarshal() accepted duplicate map keys, got %v", v)
	}
}

func TestRawMessage_DelaysDecoding(t *testing.T) {
	type envelope struct {
		Kind string     `cbor:"kind"`
		Body RawMessage `cbor:"body"`
	}
	type body struct {
		N int `cbor:"n"`
	}

	inner, err := Marshal(body{N: 7})
	if err != nil {
		t.Fatalf("Marshal(body) error = %v", err)
	}
	data, err := Marshal(envelope{Kind: "k", Body: inner})
	if err != nil {
		t.Fatalf("Marshal(envelope) error = %v", err)
	}

	var env envelope
	if err := Unmarshal(data, &env); err != nil {
		t.Fatalf("Unmarshal(envelope) error = %v", err)
	}
	if !bytes.Equal(env.Body, inner) {
		t.Errorf("Body = %x, want %x", env.Body, inner)
	}

	var got body
	if err := Unmarshal(env.Body, &got); err != nil {
		t.Fatalf("Unmarshal(body) error = %v", err)
	}
	if got.N != 7 {
		t.Errorf("N = %d, want 7", got.N)
	}
}

func TestDiagnose(t *testing.T) {
	data, err := Marshal(map[string]int{"n": 1})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	got, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose() error = %v", err)
	}
	if got != `{"n": 1}` {
		t.Errorf("Diagnose() = %q, want %q", got, `{"n": 1}`)
	}
}
