// Package idgen mints opaque 128-bit identifiers for episodes, nodes,
// edges, and embedding vectors (§3: "All identifiers are 128-bit opaque
// IDs assigned at creation").
package idgen

import "github.com/google/uuid"

// New returns a new opaque identifier as its canonical string form.
func New() string {
	return uuid.NewString()
}

// Valid reports whether s parses as a well-formed identifier.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
