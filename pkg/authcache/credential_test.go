package authcache

import (
	"bytes"
	"crypto/sha1"
	"testing"

	"github.com/go-mysql-org/go-mysql/mysql"
)

func TestCheckScrambleRoundTrip(t *testing.T) {
	testCases := []struct {
		name     string
		password string
		scramble string
	}{
		{"simple", "secret", "abcd1234"},
		{"empty scramble", "secret", ""},
		{"long password", "correct horse battery staple", "12345678901234567890"},
		{"binary-ish scramble", "p4ss", "\x01\x02\x03\xff\xfe"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			stored := HashPassword(tc.password)
			// The client-side token construction is go-mysql's native
			// password calculation; our verifier must undo it.
			token := mysql.CalcPassword([]byte(tc.scramble), []byte(tc.password))

			passthrough, ok := CheckScramble(stored, token, []byte(tc.scramble))
			if !ok {
				t.Fatal("CheckScramble rejected a correctly built token")
			}
			want := sha1.Sum([]byte(tc.password))
			if !bytes.Equal(passthrough, want[:]) {
				t.Errorf("passthrough = %x, want SHA1(password) %x", passthrough, want)
			}
		})
	}
}

func TestCheckScrambleRejects(t *testing.T) {
	stored := HashPassword("secret")
	scramble := []byte("abcd1234")
	good := mysql.CalcPassword(scramble, []byte("secret"))

	testCases := []struct {
		name     string
		stored   string
		token    []byte
		scramble []byte
	}{
		{"wrong password", stored, mysql.CalcPassword(scramble, []byte("wrong")), scramble},
		{"wrong scramble", stored, good, []byte("zzzz9999")},
		{"short token", stored, good[:10], scramble},
		{"empty token", stored, nil, scramble},
		{"oversized token", stored, append(good, 0), scramble},
		{"stored not hex", "not-hex!", good, scramble},
		{"stored wrong length", "abcdef", good, scramble},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, ok := CheckScramble(tc.stored, tc.token, tc.scramble); ok {
				t.Error("CheckScramble accepted, want reject")
			}
		})
	}
}

func TestCheckScramblePasswordless(t *testing.T) {
	passthrough, ok := CheckScramble("", nil, []byte("abcd1234"))
	if !ok {
		t.Error("passwordless account rejected")
	}
	if passthrough != nil {
		t.Errorf("passwordless passthrough = %x, want nil", passthrough)
	}
}
