// Package checksum computes content digests used for change detection.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/starford/linkgraph/internal/doc"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Tree returns the digest of the canonical JSON encoding of a document.
func Tree(root *doc.Node) (string, error) {
	data, err := doc.Marshal(root)
	if err != nil {
		return "", err
	}
	return Sum(data), nil
}
