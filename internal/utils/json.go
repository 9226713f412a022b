package utils

import (
	"bytes"
	"encoding/json"
)

// MarshalNoEscape marshals v without HTML escaping, so markup in logged
// fields stays literal. Output has no trailing newline.
func MarshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
