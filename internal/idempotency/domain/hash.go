package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// CanonicalJSON renders v with sorted object keys, no insignificant whitespace
// and numbers kept as written.
func CanonicalJSON(v any) ([]byte, error) {
	var raw []byte
	switch body := v.(type) {
	case nil:
		raw = []byte("null")
	case json.RawMessage:
		raw = body
	case []byte:
		raw = body
	default:
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		raw = encoded
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// RequestHash is the hex SHA-256 of the endpoint and the canonical body.
// Reusing a key on a different endpoint therefore counts as a conflict.
func RequestHash(endpoint string, body any) (string, error) {
	canonical, err := CanonicalJSON(body)
	if err != nil {
		return "", err
	}
	sum := sha256.New()
	sum.Write([]byte(endpoint))
	sum.Write([]byte{'\n'})
	sum.Write(canonical)
	return hex.EncodeToString(sum.Sum(nil)), nil
}
