package attrsession

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrDecode is returned when a stored payload cannot be decoded.
var ErrDecode = errors.New("session payload decode failed")

// Codec converts a session payload to and from the string stored in the val attribute.
type Codec interface {
	Encode(values map[string]any) (string, error)
	Decode(raw string) (map[string]any, error)
}

var _ Codec = JSONCodec{}

// JSONCodec stores payloads as JSON objects. Map keys are emitted in sorted
// order, so equal payloads encode to equal strings. Numbers decode as
// json.Number, which keeps integers beyond 2^53 exact and re-encodes verbatim.
type JSONCodec struct{}

// Encode serializes values. A nil payload encodes as an empty object.
func (JSONCodec) Encode(values map[string]any) (string, error) {
	if values == nil {
		values = map[string]any{}
	}

	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer PutBuffer(buf)

	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(values); err != nil {
		return "", fmt.Errorf("failed to encode session data: %w", err)
	}
	// Encoder terminates every value with a newline.
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// Decode parses raw. Anything but a JSON object (or null) fails with ErrDecode.
func (JSONCodec) Decode(raw string) (map[string]any, error) {
	reader := readerPool.Get().(*strings.Reader)
	reader.Reset(raw)
	defer readerPool.Put(reader)

	var values map[string]any
	dec := json.NewDecoder(reader)
	dec.UseNumber()
	if err := dec.Decode(&values); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrDecode)
	}
	if values == nil {
		values = make(map[string]any)
	}
	return values, nil
}
