package signing

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Canonicalize re-serializes raw JSON into a stable form: object keys
// sorted, no insignificant whitespace. Signer and verifier must agree on
// the exact byte string they sign, and relying on the producer's original
// serialization breaks across processes and languages.
func Canonicalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	// encoding/json serializes map keys in sorted order and emits compact
	// output, which is exactly the canonical form we need.
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return out, nil
}
