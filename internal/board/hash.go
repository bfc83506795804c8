package board

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
)

// Domain prefixes for content fingerprints. The version suffix allows the
// encoding to change without colliding with old digests.
const (
	DomainState = "boardsync/state/v1"
	DomainOp    = "boardsync/op/v1"
)

// hashWithDomain computes SHA256(domain || 0x00 || data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Digest fingerprints a set of live elements. Two replicas holding the
// same elements produce the same digest regardless of slice order.
func Digest(elems []Element) (string, error) {
	sorted := slices.Clone(elems)
	slices.SortFunc(sorted, func(a, b Element) int { return strings.Compare(a.ID, b.ID) })

	list := make([]any, len(sorted))
	for i, e := range sorted {
		list[i] = elementMap(e)
	}
	data, err := MarshalCanonical(list)
	if err != nil {
		return "", fmt.Errorf("digest: %w", err)
	}
	return hashWithDomain(DomainState, data), nil
}

// MustDigest is like Digest but panics on error.
// Use only in tests or when elements are known to be finite.
func MustDigest(elems []Element) string {
	d, err := Digest(elems)
	if err != nil {
		panic(err)
	}
	return d
}

// OpHash fingerprints an op's replicated content.
func OpHash(op Op) (string, error) {
	data, err := op.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("op hash: %w", err)
	}
	obj, err := UnmarshalValue(data)
	if err != nil {
		return "", fmt.Errorf("op hash: %w", err)
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("op hash: %w", err)
	}
	return hashWithDomain(DomainOp, canonical), nil
}

// CanonicalElements renders elements as canonical JSON in id order, for
// golden snapshots and diffs.
func CanonicalElements(elems []Element) ([]byte, error) {
	sorted := slices.Clone(elems)
	slices.SortFunc(sorted, func(a, b Element) int { return strings.Compare(a.ID, b.ID) })
	list := make([]any, len(sorted))
	for i, e := range sorted {
		list[i] = elementMap(e)
	}
	return MarshalCanonical(list)
}

func elementMap(e Element) map[string]any {
	m := map[string]any{
		"id":       e.ID,
		"type":     string(e.Type),
		"position": map[string]any{"x": e.Position.X, "y": e.Position.Y},
		"size":     map[string]any{"w": e.Size.W, "h": e.Size.H},
		"style":    toAnyMap(e.Style),
		"metadata": toAnyMap(e.Metadata),
		"version":  e.Version,
	}
	if e.ParentID != "" {
		m["parentId"] = e.ParentID
	}
	return m
}
