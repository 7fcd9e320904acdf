// Package overlay implements content-addressed hashing of the per-part
// overlay stack and the whiteout/opaque-directory translation applied
// when migrating files out of an overlay layer.
package overlay

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"partcraft/parts"
)

// Hash is a fixed-width digest identifying a prefix of the overlay stack.
type Hash [sha1.Size]byte

// ZeroHash is the seed used for the first part in the stack when the
// caller supplies no base-layer digest.
var ZeroHash Hash

// String renders the digest as lowercase hex, matching what's persisted
// to a part's layer_hash file.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// ParseHash decodes a hex string produced by Hash.String. An empty string
// decodes to ZeroHash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if s == "" {
		return h, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}

// Params is the subset of a part's spec that affects overlay contents:
// exactly the fields spec.md §4.3 names as OverlayParams.
type Params struct {
	OverlayPackages []string
	OverlayScript   string
	OverlayFiles    []string
}

// ParamsOf extracts a part's overlay parameters from its spec.
func ParamsOf(spec parts.PartSpec) Params {
	return Params{
		OverlayPackages: spec.OverlayPackages,
		OverlayScript:   spec.OverlayScript,
		OverlayFiles:    spec.OverlayFiles,
	}
}

// canonicalize renders p as a deterministic byte string suitable for
// hashing. Field order and list order are preserved as declared — only
// the encoding itself (not the data) is normalized, since permuting an
// overlay package list is itself a content change the hash must catch.
func (p Params) canonicalize() []byte {
	var b strings.Builder
	b.WriteString("overlay-packages:")
	for _, pkg := range p.OverlayPackages {
		b.WriteByte('\n')
		b.WriteString(pkg)
	}
	b.WriteString("\noverlay-script:\n")
	b.WriteString(p.OverlayScript)
	b.WriteString("\noverlay-files:")
	for _, f := range p.OverlayFiles {
		b.WriteByte('\n')
		b.WriteString(f)
	}
	return []byte(b.String())
}

// Compute returns H(previous || canonical(params)), the layer hash for a
// single part given its predecessor's layer hash (or ZeroHash / a
// caller-supplied base-layer digest for the first part in the stack).
func Compute(previous Hash, params Params) Hash {
	h := sha1.New()
	h.Write(previous[:])
	h.Write(params.canonicalize())
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// ComputeStack hashes every part in order (already topologically sorted
// by the caller, ties broken by name) and returns the per-part hashes
// alongside the stack hash (the hash of the last part, or baseHash if
// orderedParts is empty).
func ComputeStack(orderedParts []*parts.Part, baseHash Hash) (perPart map[string]Hash, stackHash Hash) {
	perPart = make(map[string]Hash, len(orderedParts))
	prev := baseHash
	for _, p := range orderedParts {
		h := Compute(prev, ParamsOf(p.Spec))
		perPart[p.Name] = h
		prev = h
	}
	return perPart, prev
}
