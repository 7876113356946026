package domain

import (
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
)

// NewID returns a server-generated opaque identifier.
func NewID() string {
	return uuid.New().String()
}

const referenceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewReference returns a human-readable job reference in the TSK-XXXXXX
// format. Uniqueness is enforced by the store's unique constraint; callers
// retry on collision.
func NewReference() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(fmt.Sprintf("reference entropy: %v", err))
	}
	out := make([]byte, 6)
	for i, b := range buf {
		out[i] = referenceAlphabet[int(b)%len(referenceAlphabet)]
	}
	return "TSK-" + string(out)
}
