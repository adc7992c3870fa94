package common

import "crypto/rand"

// GenerateRandByteArray returns n cryptographically random bytes.
// It panics if the system entropy source fails, which is unrecoverable
// for a credential vault anyway.
func GenerateRandByteArray(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

// WipeByteArray zeroes b in place. Callers wipe passwords and derived keys
// as soon as they are done with them.
func WipeByteArray(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
