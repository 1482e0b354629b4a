// Package idgen mints collision-resistant short issue ids. Content and
// creation time are mixed with fresh entropy so independent agents can mint
// concurrently without coordination.
package idgen

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"strconv"
	"time"

	"github.com/joescharf/bd/internal/bderr"
)

// MinLength is the minimum id length; shorter base36 encodings are
// left-padded with '0'.
const MinLength = 8

// maxAttempts bounds collision redraws before giving up.
const maxAttempts = 8

// Minter produces issue ids. The zero value is not usable; call New.
type Minter struct {
	entropy io.Reader
}

// New creates a Minter drawing from crypto/rand.
func New() *Minter {
	return &Minter{entropy: rand.Reader}
}

// NewWithEntropy creates a Minter with an injected entropy source, for
// deterministic tests.
func NewWithEntropy(r io.Reader) *Minter {
	return &Minter{entropy: r}
}

// Mint generates an id for an issue with the given title and creation time.
// exists is consulted against the store; on collision fresh entropy is drawn,
// bounded to 8 attempts.
func (m *Minter) Mint(title string, createdAt time.Time, exists func(id string) (bool, error)) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		id, err := m.draw(title, createdAt)
		if err != nil {
			return "", err
		}
		taken, err := exists(id)
		if err != nil {
			return "", err
		}
		if !taken {
			return id, nil
		}
	}
	return "", bderr.New(bderr.CodeIdExhaustion, "could not mint a unique id after %d attempts", maxAttempts)
}

// draw computes one candidate id: sha256 over title, timestamp, and 128 bits
// of entropy, then the first 64 bits encoded base36.
func (m *Minter) draw(title string, createdAt time.Time) (string, error) {
	var nonce [16]byte
	if _, err := io.ReadFull(m.entropy, nonce[:]); err != nil {
		return "", bderr.Wrap(bderr.CodeIoError, err, "read entropy")
	}

	h := sha256.New()
	h.Write([]byte(title))
	h.Write([]byte{0})
	h.Write([]byte(createdAt.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte{0})
	h.Write(nonce[:])
	sum := h.Sum(nil)

	n := binary.BigEndian.Uint64(sum[:8])
	id := strconv.FormatUint(n, 36)
	for len(id) < MinLength {
		id = "0" + id
	}
	return id, nil
}
