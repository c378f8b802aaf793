package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// Fingerprint is the deterministic cache key of a node: a hash over the
// node's own content and the fingerprints of everything it depends on.
type Fingerprint string

// Artifact is one named output file of a node execution.
type Artifact struct {
	// Name is the artifact's path relative to the bundle root.
	Name string `json:"name"`
	// Digest is the hex sha256 of the artifact content.
	Digest string `json:"digest"`
	Size   int64  `json:"size"`
}

// OutputBundle is the set of artifacts one execution produced. Once a bundle
// is committed to the cache its Root directory is treated as read-only and
// may be mounted into downstream sandboxes.
type OutputBundle struct {
	// Root is the directory holding the artifact files.
	Root      string     `json:"-"`
	Artifacts []Artifact `json:"artifacts"`
}

// Digest returns a content digest of the whole bundle, independent of
// artifact ordering. Two bundles with equal digests carry identical content.
func (b *OutputBundle) Digest() string {
	lines := make([]string, len(b.Artifacts))
	for i, a := range b.Artifacts {
		lines[i] = fmt.Sprintf("%s:%s", a.Name, a.Digest)
	}
	sort.Strings(lines)

	h := sha256.New()
	for _, line := range lines {
		h.Write([]byte(line))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
