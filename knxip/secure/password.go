package secure

import (
	"crypto/sha256"

	"golang.org/x/crypto/pbkdf2"
)

// Fixed PBKDF2 salts for the two password roles a secure session
// authenticates: the end-user password used in SessionAuthenticate, and the
// device authentication code used to protect the SessionRequest's implicit
// trust in the server's identity.
const (
	userPasswordSalt       = "user-password.1.secure.ip.knx.org"
	deviceAuthenticationSalt = "device-authentication-code.1.secure.ip.knx.org"

	pbkdf2Iterations = 65536
	pbkdf2KeyLen     = 16
)

// sanitize copies password into a fresh byte slice, replacing any byte
// outside the printable ASCII range with '?'. The original string's bytes
// are never mutated (Go strings are immutable); callers that hold the
// plaintext in a []byte should zero it themselves after hashing.
func sanitize(password string) []byte {
	buf := make([]byte, len(password))
	for i := 0; i < len(password); i++ {
		c := password[i]
		if c < 0x20 || c > 0x7E {
			c = '?'
		}
		buf[i] = c
	}
	return buf
}

// zero overwrites a byte slice with zeroes in place.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func deriveKey(password, salt string) [16]byte {
	buf := sanitize(password)
	defer zero(buf)
	derived := pbkdf2.Key(buf, []byte(salt), pbkdf2Iterations, pbkdf2KeyLen, sha256.New)
	var key [16]byte
	copy(key[:], derived)
	return key
}

// HashUserPassword derives the 128-bit key used to authenticate a user
// during SessionAuthenticate.
func HashUserPassword(password string) [16]byte {
	return deriveKey(password, userPasswordSalt)
}

// HashDeviceAuthenticationPassword derives the 128-bit key used to
// authenticate the SessionRequest/SessionResponse exchange itself.
func HashDeviceAuthenticationPassword(password string) [16]byte {
	return deriveKey(password, deviceAuthenticationSalt)
}
