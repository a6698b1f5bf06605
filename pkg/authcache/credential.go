package authcache

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
)

// DigestLen is the size of every hash in the native-password exchange.
const DigestLen = sha1.Size

// CheckScramble verifies a mysql_native_password client token against the
// stored credential. The account stores hex(SHA1(SHA1(password))); the
// client proves knowledge of the password with
//
//	token = SHA1(password) XOR SHA1(CONCAT(scramble, SHA1(SHA1(password))))
//
// where scramble is the per-connection challenge the server issued.
// Undoing the XOR yields SHA1(password); hashing that once more must
// reproduce the stored value. On success the recovered SHA1(password) is
// returned so the caller can re-authenticate downstream on the client's
// behalf without ever seeing the plaintext.
//
// An empty stored credential marks a passwordless account and skips the
// check. Any length mismatch is a verification failure, not an error.
func CheckScramble(storedHex string, token, scramble []byte) ([]byte, bool) {
	if storedHex == "" {
		return nil, true
	}
	stored, err := hex.DecodeString(storedHex)
	if err != nil || len(stored) != DigestLen || len(token) != DigestLen {
		return nil, false
	}

	h := sha1.New()
	h.Write(scramble)
	h.Write(stored)
	step1 := h.Sum(nil)

	step2 := make([]byte, DigestLen)
	for i := range step2 {
		step2[i] = token[i] ^ step1[i]
	}

	final := sha1.Sum(step2)
	if subtle.ConstantTimeCompare(final[:], stored) != 1 {
		return nil, false
	}
	return step2, true
}

// HashPassword derives the stored credential for a plaintext password.
// The upstream catalog already stores this form; the helper exists for
// tests and tooling.
func HashPassword(password string) string {
	inner := sha1.Sum([]byte(password))
	outer := sha1.Sum(inner[:])
	return hex.EncodeToString(outer[:])
}
