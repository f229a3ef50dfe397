package utils

import (
	"bytes"
	"encoding/json"

	"github.com/tidwall/gjson"
)

// MarshalNoEscape marshals JSON without HTML escaping.
// Client text (scripts, ledgers) routinely carries '<' and '&', which the
// default encoder would rewrite as unicode escapes.
func MarshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// Encoder adds a trailing newline; remove it for parity with json.Marshal.
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// IsJSONObject reports whether raw is a well-formed JSON object.
func IsJSONObject(raw []byte) bool {
	return gjson.ValidBytes(raw) && gjson.ParseBytes(raw).IsObject()
}
