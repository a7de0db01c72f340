package credential

import (
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/argon2"
)

const (
	// DigestSize is the size of a PIN digest in bytes.
	DigestSize = 32

	// Argon2Time is the time parameter for Argon2id.
	Argon2Time = 3

	// Argon2Memory is the memory parameter for Argon2id in KiB.
	Argon2Memory = 64 * 1024

	// Argon2Threads is the parallelism parameter for Argon2id.
	Argon2Threads = 4
)

// pinSalt is fixed so that a stored digest stays verifiable across
// reinstalls of the same data directory.
var pinSalt = []byte("piggy.pin.argon2id.v1")

// Digest returns the hex-encoded Argon2id digest of pin.
func Digest(pin string) string {
	return hex.EncodeToString(derive(pin))
}

func derive(pin string) []byte {
	return argon2.IDKey([]byte(pin), pinSalt, Argon2Time, Argon2Memory, Argon2Threads, DigestSize)
}

// matchDigest compares pin against a stored hex digest in constant time.
func matchDigest(pin, stored string) bool {
	want, err := hex.DecodeString(stored)
	if err != nil || len(want) != DigestSize {
		return false
	}
	return subtle.ConstantTimeCompare(derive(pin), want) == 1
}

// matchPlain compares two plaintext PINs in constant time.
func matchPlain(pin, stored string) bool {
	return subtle.ConstantTimeCompare([]byte(pin), []byte(stored)) == 1
}
