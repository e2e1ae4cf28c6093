// Package envelope encodes protocol messages for the wire, optionally
// sealing them with a shared-secret symmetric cipher. The codec is
// stateless and symmetric: both sides hold the same fleet secret, and
// rotating it invalidates everything encoded under the old one.
package envelope

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/fleetdeck/fleetdeck/internal/protocol"
)

// ErrDecode is returned for any envelope that cannot be decoded:
// malformed JSON, a truncated sealed blob, or AEAD authentication
// failure (wrong secret or tampered ciphertext). Callers drop the
// message and log; a decode failure never terminates a connection.
var ErrDecode = errors.New("envelope: decode failed")

// sealedVersion is the version byte prepended to sealed envelopes.
// It is included as additional authenticated data, so tampering with
// it causes authentication failure.
const sealedVersion byte = 0x01

// sealedOverhead is the fixed byte overhead of a sealed envelope:
// 1 (version) + 24 (XChaCha20-Poly1305 nonce) + 16 (Poly1305 tag).
const sealedOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// hkdfInfo provides domain separation for the key derivation.
var hkdfInfo = []byte("fleetdeck.envelope.v1")

// KeySize is the size in bytes of the derived envelope key.
const KeySize = chacha20poly1305.KeySize

// Codec encodes and decodes wire envelopes. A Codec with no secret
// passes JSON through in the clear (trusted-network mode).
type Codec struct {
	key []byte // nil means plaintext
}

// NewPlaintext returns a codec that performs no encryption.
func NewPlaintext() *Codec {
	return &Codec{}
}

// New derives the envelope key from the fleet secret via HKDF-SHA256
// and returns a sealing codec. The secret may be any non-empty string;
// derivation gives both sides the same 32-byte key.
func New(secret string) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("envelope: secret must not be empty")
	}
	reader := hkdf.New(sha256.New, []byte(secret), nil, hkdfInfo)
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("envelope: key derivation failed: %w", err)
	}
	return &Codec{key: key}, nil
}

// Sealed reports whether the codec encrypts envelopes.
func (c *Codec) Sealed() bool {
	return c.key != nil
}

// Encode serializes a message and, if a secret is configured, seals it:
//
//	[version: 1 byte] [nonce: 24 bytes] [ciphertext+tag]
func (c *Codec) Encode(msg *protocol.Message) ([]byte, error) {
	plaintext, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	if c.key == nil {
		return plaintext, nil
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, err
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("envelope: generating nonce: %w", err)
	}

	out := make([]byte, 1+chacha20poly1305.NonceSizeX, len(plaintext)+sealedOverhead)
	out[0] = sealedVersion
	copy(out[1:], nonce[:])
	return aead.Seal(out, nonce[:], plaintext, []byte{sealedVersion}), nil
}

// Decode reverses Encode. Any failure (short blob, unknown version,
// authentication failure, malformed JSON) is reported as ErrDecode so
// callers can treat all undecodable input uniformly.
func (c *Codec) Decode(data []byte) (*protocol.Message, error) {
	plaintext := data
	if c.key != nil {
		if len(data) < sealedOverhead {
			return nil, fmt.Errorf("%w: sealed envelope is %d bytes, minimum is %d", ErrDecode, len(data), sealedOverhead)
		}
		if data[0] != sealedVersion {
			return nil, fmt.Errorf("%w: unsupported envelope version %d", ErrDecode, data[0])
		}

		aead, err := chacha20poly1305.NewX(c.key)
		if err != nil {
			return nil, err
		}

		nonce := data[1 : 1+chacha20poly1305.NonceSizeX]
		ciphertext := data[1+chacha20poly1305.NonceSizeX:]
		plaintext, err = aead.Open(nil, nonce, ciphertext, []byte{sealedVersion})
		if err != nil {
			return nil, fmt.Errorf("%w: authentication failed", ErrDecode)
		}
	}

	var msg protocol.Message
	if err := json.Unmarshal(plaintext, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("%w: missing message type", ErrDecode)
	}
	return &msg, nil
}
