// Package fingerprint derives the content hashes used to recognise repeat uploads.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Bytes returns the lowercase hex SHA-256 of data.
func Bytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Reader hashes r to EOF and reports the number of bytes consumed.
func Reader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

type pair struct {
	Field  string `json:"field"`
	Column string `json:"column"`
}

// Mapping hashes a field→column mapping independent of key order or padding,
// so {"amount":"Amt","transactionId":"Id"} and its reordering hash the same.
func Mapping(mapping map[string]string) (string, error) {
	pairs := make([]pair, 0, len(mapping))
	for field, column := range mapping {
		pairs = append(pairs, pair{Field: strings.TrimSpace(field), Column: strings.TrimSpace(column)})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Field < pairs[j].Field })

	payload, err := json.Marshal(pairs)
	if err != nil {
		return "", fmt.Errorf("encode mapping: %w", err)
	}
	return Bytes(payload), nil
}
