// Package json is the module-wide JSON codec, backed by sonic.
// Wire payloads, credential files, and config all go through this facade so
// the engine can be swapped in one place.
package json

import (
	stdjson "encoding/json"
	"io"

	"github.com/bytedance/sonic"
)

// RawMessage is re-exported so callers do not need encoding/json for the
// common delayed-decode case.
type RawMessage = stdjson.RawMessage

var api = sonic.ConfigDefault

// Marshal encodes v into JSON bytes.
func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

// MarshalString encodes v into a JSON string.
func MarshalString(v any) (string, error) {
	return api.MarshalToString(v)
}

// MarshalIndent encodes v with indentation, for files meant to be read by humans.
func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return api.MarshalIndent(v, prefix, indent)
}

// Unmarshal decodes JSON bytes into v.
func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// UnmarshalString decodes a JSON string into v.
func UnmarshalString(data string, v any) error {
	return api.UnmarshalFromString(data, v)
}

// Valid reports whether data is syntactically valid JSON.
func Valid(data []byte) bool {
	return api.Valid(data)
}

// NewEncoder returns a streaming encoder writing to w.
func NewEncoder(w io.Writer) sonic.Encoder {
	return api.NewEncoder(w)
}

// NewDecoder returns a streaming decoder reading from r.
func NewDecoder(r io.Reader) sonic.Decoder {
	return api.NewDecoder(r)
}
