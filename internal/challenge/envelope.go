package challenge

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"git.vmwall.dev/vmwall/internal/aead"
)

// hkdfInfo is the fixed HKDF info string the session key derivation uses.
const hkdfInfo = "challenge-id-key"

// DeriveSessionKey derives the 32-byte session key from a session id via
// HKDF-SHA256 with an empty salt, matching the RFC 5869 construction the
// session encryption envelope is built on.
func DeriveSessionKey(id string) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(id), nil, []byte(hkdfInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("challenge: deriving session key: %w", err)
	}
	return key, nil
}

// EncryptResponse implements the server→client response direction:
// base64(IV‖CT‖TAG) under the session key with a random 12-byte IV and
// empty AAD.
func EncryptResponse(sessionKey, plaintext []byte) (string, error) {
	packed, err := aead.Seal(sessionKey, plaintext)
	if err != nil {
		return "", fmt.Errorf("challenge: encrypting response: %w", err)
	}
	return base64.StdEncoding.EncodeToString(packed), nil
}

// DecryptRequest implements the client→server request direction: the
// packed buffer is IV‖ephemeralX25519PubKey‖CT‖TAG, encrypted under
// X25519_shared_secret(serverPriv, ephemeralClientPriv). serverPriv is the
// session's own X25519 private key.
func DecryptRequest(serverPriv []byte, encoded string) ([]byte, error) {
	packed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("challenge: decoding request envelope: %w", err)
	}
	if len(packed) < aead.IVSize+32+aead.TagSize {
		return nil, aead.ErrShortInput
	}

	iv := packed[:aead.IVSize]
	ephemeralPub := packed[aead.IVSize : aead.IVSize+32]
	ctTag := packed[aead.IVSize+32:]

	shared, err := curve25519.X25519(serverPriv, ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("challenge: deriving shared secret: %w", err)
	}

	repacked := make([]byte, 0, len(iv)+len(ctTag))
	repacked = append(repacked, iv...)
	repacked = append(repacked, ctTag...)
	return aead.Open(shared, repacked)
}
