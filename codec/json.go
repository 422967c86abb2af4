package codec

import (
	"bytes"
	"encoding/json"
)

// JSON is the standard-library JSON codec.
//
// Manifests are read by people as often as by programs, so output is
// indented. Decoding rejects unknown fields, so a manifest written by a newer
// format is reported instead of silently losing fields.
type JSON struct{}

// Marshal encodes v as indented JSON.
func (JSON) Marshal(v any) ([]byte, error) { return json.MarshalIndent(v, "", "  ") }

// Unmarshal decodes a single JSON value from data into v.
func (JSON) Unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// Name returns "json".
func (JSON) Name() string { return "json" }

// Default is the codec used for newly pushed snapshots.
var Default Codec = JSON{}
