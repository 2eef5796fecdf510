package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/zeebo/blake3"
)

// DigestSize is the size of every digest produced by this package.
const DigestSize = 32

// Hasher accumulates fields into a domain-separated BLAKE3 digest.
type Hasher struct {
	h *blake3.Hasher
}

// NewHasher starts a digest under the given domain tag.
func NewHasher(domain string) *Hasher {
	h := blake3.New()
	h.Write([]byte(domain))
	h.Write([]byte{0})

	return &Hasher{h: h}
}

// Bytes writes a length-prefixed byte string.
func (h *Hasher) Bytes(b []byte) *Hasher {
	h.Uint64(uint64(len(b)))
	h.h.Write(b)

	return h
}

// Fixed writes bytes without a length prefix; use only for fixed-size fields.
func (h *Hasher) Fixed(b []byte) *Hasher {
	h.h.Write(b)
	return h
}

// Uint64 writes a big-endian uint64.
func (h *Hasher) Uint64(v uint64) *Hasher {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	h.h.Write(buf[:])

	return h
}

// Sum returns the final digest.
func (h *Hasher) Sum() [DigestSize]byte {
	var out [DigestSize]byte
	h.h.Sum(out[:0])

	return out
}

// GenerateClientKey creates a new ed25519 key pair for a client address.
func GenerateClientKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate client key:\n%w", err)
	}

	return pub, priv, nil
}

// VerifyClient checks an ed25519 signature by a client over message.
func VerifyClient(publicKey, message, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}

	return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature)
}
