// Package secure implements KNX IP Secure: the unicast session handshake
// (spec.md §4.7), the secure-routing group-key wrapper and group-timer
// synchronisation (spec.md §4.8), and the PBKDF2 password-hashing utilities
// from spec.md §6.
package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"

	"github.com/pkg/errors"
	"golang.org/x/crypto/curve25519"
)

// sha256Sum hashes data with SHA-256, used to derive the session key from
// the X25519 shared secret.
func sha256Sum(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// block0 builds the 16-byte "security info" block shared by the CBC-MAC
// authentication step and every AES-CTR counter block: 48-bit sequence,
// 48-bit serial number, 16-bit tag, and a final 16-bit field that is either
// the cleartext payload length (for the MAC's leading block) or a
// monotonically increasing counter (for the CTR keystream blocks).
func block0(sequence uint64, serial [6]byte, tag uint16, x uint16) [16]byte {
	var b [16]byte
	b[0] = byte(sequence >> 40)
	b[1] = byte(sequence >> 32)
	b[2] = byte(sequence >> 24)
	b[3] = byte(sequence >> 16)
	b[4] = byte(sequence >> 8)
	b[5] = byte(sequence)
	copy(b[6:12], serial[:])
	b[12] = byte(tag >> 8)
	b[13] = byte(tag)
	b[14] = byte(x >> 8)
	b[15] = byte(x)
	return b
}

// cbcMAC computes a CBC-MAC over data with a zero IV, zero-padding data to a
// block boundary. AES-128 only; the caller truncates/uses the full 16-byte
// result as needed.
func cbcMAC(key [16]byte, data []byte) ([16]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return [16]byte{}, errors.Wrap(err, "secure: cbcMAC cipher")
	}
	padded := data
	if rem := len(data) % aes.BlockSize; rem != 0 {
		padded = make([]byte, len(data)+aes.BlockSize-rem)
		copy(padded, data)
	}
	iv := make([]byte, aes.BlockSize)
	mode := cipher.NewCBCEncrypter(block, iv)
	out := make([]byte, len(padded))
	mode.CryptBlocks(out, padded)
	var mac [16]byte
	copy(mac[:], out[len(out)-aes.BlockSize:])
	return mac, nil
}

// encryptBlock runs a single AES-128 block encryption, used to turn a
// counter block into a one-time pad for the MAC field.
func encryptBlock(key [16]byte, in [16]byte) ([16]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return [16]byte{}, errors.Wrap(err, "secure: encryptBlock cipher")
	}
	var out [16]byte
	block.Encrypt(out[:], in[:])
	return out, nil
}

// xor16 XORs two 16-byte blocks.
func xor16(a, b [16]byte) [16]byte {
	var out [16]byte
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// ctrStream encrypts/decrypts data with AES-128 in CTR mode, with the
// keystream counter blocks starting at block0(sequence, serial, tag, 1) and
// incrementing the trailing 16-bit field for each successive 16-byte block.
func ctrStream(key [16]byte, sequence uint64, serial [6]byte, tag uint16, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, errors.Wrap(err, "secure: ctrStream cipher")
	}
	iv := block0(sequence, serial, tag, 1)
	stream := cipher.NewCTR(block, iv[:])
	out := make([]byte, len(data))
	stream.XORKeyStream(out, data)
	return out, nil
}

// Wrap produces the ciphertext and authentication tag for a SecureWrapper
// frame (spec.md §4.7): CBC-MAC the cleartext under b0(length=len(payload)),
// encrypt the resulting tag with the one-time pad from counter block 0,
// then CTR-encrypt the payload starting at counter block 1.
func Wrap(key [16]byte, sequence uint64, serial [6]byte, tag uint16, header []byte, sessionID uint16, payload []byte) (ciphertext []byte, mac [16]byte, err error) {
	b0 := block0(sequence, serial, tag, uint16(len(payload)))
	macInput := make([]byte, 0, len(b0)+2+len(header)+2+len(payload))
	macInput = append(macInput, b0[:]...)
	macInput = append(macInput, byte(len(payload)>>8), byte(len(payload)))
	macInput = append(macInput, header...)
	macInput = append(macInput, byte(sessionID>>8), byte(sessionID))
	macInput = append(macInput, payload...)

	rawMAC, err := cbcMAC(key, macInput)
	if err != nil {
		return nil, [16]byte{}, err
	}
	ctr0 := block0(sequence, serial, tag, 0)
	pad, err := encryptBlock(key, ctr0)
	if err != nil {
		return nil, [16]byte{}, err
	}
	mac = xor16(rawMAC, pad)

	ciphertext, err = ctrStream(key, sequence, serial, tag, payload)
	if err != nil {
		return nil, [16]byte{}, err
	}
	return ciphertext, mac, nil
}

// Unwrap reverses Wrap and additionally verifies the MAC, returning
// ErrSecure-wrapped on mismatch (spec.md §4.7's rejection policy).
func Unwrap(key [16]byte, sequence uint64, serial [6]byte, tag uint16, header []byte, sessionID uint16, ciphertext []byte, mac [16]byte) (payload []byte, err error) {
	payload, err = ctrStream(key, sequence, serial, tag, ciphertext)
	if err != nil {
		return nil, err
	}

	b0 := block0(sequence, serial, tag, uint16(len(payload)))
	macInput := make([]byte, 0, len(b0)+2+len(header)+2+len(payload))
	macInput = append(macInput, b0[:]...)
	macInput = append(macInput, byte(len(payload)>>8), byte(len(payload)))
	macInput = append(macInput, header...)
	macInput = append(macInput, byte(sessionID>>8), byte(sessionID))
	macInput = append(macInput, payload...)

	rawMAC, err := cbcMAC(key, macInput)
	if err != nil {
		return nil, err
	}
	ctr0 := block0(sequence, serial, tag, 0)
	pad, err := encryptBlock(key, ctr0)
	if err != nil {
		return nil, err
	}
	expected := xor16(rawMAC, pad)
	if expected != mac {
		return nil, errors.WithStack(&Error{Reason: "MAC mismatch"})
	}
	return payload, nil
}

// X25519KeyPair generates an ephemeral Curve25519 key pair for the secure
// session handshake's step 1 (spec.md §4.7).
func X25519KeyPair() (priv, pub [32]byte, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return priv, pub, errors.Wrap(err, "secure: generating X25519 private key")
	}
	pubSlice, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return priv, pub, errors.Wrap(err, "secure: deriving X25519 public key")
	}
	copy(pub[:], pubSlice)
	return priv, pub, nil
}

// X25519Shared computes the shared secret from our private key and the
// peer's public key.
func X25519Shared(priv, peerPub [32]byte) ([32]byte, error) {
	var shared [32]byte
	s, err := curve25519.X25519(priv[:], peerPub[:])
	if err != nil {
		return shared, errors.Wrap(err, "secure: X25519 agreement")
	}
	copy(shared[:], s)
	return shared, nil
}

// xorBytes32 XORs two 32-byte public keys, used to authenticate the
// SessionResponse MAC (spec.md §4.7 step 2).
func xorBytes32(a, b [32]byte) [32]byte {
	var out [32]byte
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}
