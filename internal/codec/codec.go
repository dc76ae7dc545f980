// Package codec is the single CBOR configuration shared by signed request
// envelopes, event payloads and the keystore.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2): sorted map
// keys, smallest integer encoding, no indefinite-length items. The same
// logical value always produces identical bytes, which is what makes a
// signature over an encoded request reproducible by any verifier.
package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Duplicate map keys in a signed payload would let two verifiers
		// disagree about what was signed.
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// RawMessage is a raw encoded CBOR value, used to delay decoding of a
// request body until its kind is known.
type RawMessage = cbor.RawMessage

// Marshal encodes v using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cbor marshal: %w", err)
	}
	return data, nil
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("cbor unmarshal: %w", err)
	}
	return nil
}

// Diagnose returns the CBOR diagnostic notation for data. Backs
// `msgledger events --format diag`.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
