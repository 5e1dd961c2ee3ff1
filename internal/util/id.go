// Package util holds small helpers shared across services.
package util

import (
	"crypto/rand"
	"encoding/base32"
)

// Identifiers are base32 over a lowercase alphabet with no padding so they
// survive case-insensitive contexts (object keys, hostnames, URLs) unchanged.
var idEncoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

const idRandomBytes = 20 // encodes to 32 characters

// NewID returns a random identifier, optionally tagged with a type prefix,
// e.g. "rpt_k3vq...". An empty prefix yields the bare 32-character body.
func NewID(prefix string) string {
	raw := make([]byte, idRandomBytes)
	_, _ = rand.Read(raw)
	id := idEncoding.EncodeToString(raw)
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
