package stream

import (
	"encoding/hex"
	"fmt"
	"io"

	"lukechampine.com/blake3"

	"github.com/systemshift/modelgraph/internal/model"
)

// Reserved digest map keys
const (
	DigestHeader = "header"
	DigestFile   = "file"
)

func newDigest() *blake3.Hasher {
	return blake3.New(32, nil)
}

func sum(h *blake3.Hasher) string {
	return hex.EncodeToString(h.Sum(nil))
}

// DigestMap hashes the encoded header and every root subtree separately,
// keyed by root node id. Used by incremental tooling to spot changed roots.
func DigestMap(m *model.Model) (map[string]string, error) {
	result := make(map[string]string, len(m.Roots)+1)

	h := newDigest()
	if err := WriteHeader(NewWriter(h), m.Header); err != nil {
		return nil, fmt.Errorf("digesting header: %w", err)
	}
	result[DigestHeader] = sum(h)

	for _, root := range m.Roots {
		h := newDigest()
		w := NewWriter(h)
		if err := writeChildren(w, m.Identity(), []*model.Node{root}); err != nil {
			return nil, fmt.Errorf("digesting root %s: %w", root.ID, err)
		}
		if root.ID.IsZero() {
			continue
		}
		result[root.ID.String()] = sum(h)
	}
	return result, nil
}

// HashBytes digests raw stream content
func HashBytes(r io.Reader) (string, error) {
	h := newDigest()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hashing content: %w", err)
	}
	return sum(h), nil
}
