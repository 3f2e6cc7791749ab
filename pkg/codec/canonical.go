// Package codec provides the fixed-shape payload encoding used for record
// data and demands.
//
// Encoding is RFC 8785 canonical JSON, so equal values always produce equal
// bytes and demands can be compared bytewise. Decoding validates the payload
// against the kind's JSON Schema before binding it to a Go type; a payload of
// unexpected shape is a typed Decode error, never undefined behavior.
package codec

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/gowebpki/jcs"

	"github.com/Mindburn-Labs/helm/settlement/pkg/protoerr"
)

// Encode returns the canonical JSON representation of v.
func Encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, protoerr.Wrap(protoerr.KindInvalidArgument, "codec.Encode", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, protoerr.Wrap(protoerr.KindInvalidArgument, "codec.Encode", err)
	}
	return out, nil
}

// MustEncode is Encode for values known to be encodable (tests, constants).
func MustEncode(v any) []byte {
	b, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return b
}

// Hash returns the SHA-256 hex digest of b.
func Hash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
