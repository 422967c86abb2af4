// Package codec encodes snapshot manifests.
//
// A snapshot is read back with the codec it was pushed with, so the codec
// is chosen per call through snapshot.Options rather than globally.
package codec

import (
	"errors"
	"fmt"
)

// ErrDecode is returned when data cannot be decoded into the target value.
var ErrDecode = errors.New("codec: decode failed")

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// Decode unmarshals data with c, wrapping failures in ErrDecode. Empty
// input is an error rather than a zero value.
func Decode(c Codec, data []byte, v any) error {
	if c == nil {
		c = Default
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: %s: empty input", ErrDecode, c.Name())
	}
	if err := c.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDecode, c.Name(), err)
	}
	return nil
}
