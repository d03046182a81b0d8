package canonhash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// SumObject hashes the json.Marshal encoding of v with SHA256 hex.
// Every hash recorded against a match (replay hash, audit hash, scorecard,
// attestation payload hash) goes through this one function so signing and
// verification can never disagree on canonical bytes.
func SumObject(v any) (string, []byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), b, nil
}

func SumString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
