// Package aead implements the ChaCha20-Poly1305 packed-ciphertext helpers
// used throughout vmwall: the challenge WASM blob, the session request
// envelope and VM action 18 all share the same IV‖CT‖TAG packing.
package aead

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize, IVSize and TagSize are the ChaCha20-Poly1305 parameter sizes
// used across the packed wire format (spec.md §6 "Packed ciphertext").
const (
	KeySize = chacha20poly1305.KeySize
	IVSize  = chacha20poly1305.NonceSize
	TagSize = 16
)

// ErrShortInput is returned by Open/Unpack when the packed buffer is
// smaller than IVSize+TagSize.
var ErrShortInput = errors.New("aead: input shorter than iv+tag")

// Seal encrypts plaintext under key with a fresh random IV and empty AAD,
// returning the packed IV‖CT‖TAG buffer (spec.md §6).
func Seal(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}
	out := make([]byte, 0, IVSize+len(plaintext)+TagSize)
	out = append(out, iv...)
	out = aead.Seal(out, iv, plaintext, nil)
	return out, nil
}

// Open decrypts a packed IV‖CT‖TAG buffer produced by Seal.
func Open(key, packed []byte) ([]byte, error) {
	if len(packed) < IVSize+TagSize {
		return nil, ErrShortInput
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	iv := packed[:IVSize]
	ct := packed[IVSize:]
	return aead.Open(nil, iv, ct, nil)
}

// OpenDetached decrypts ciphertext under key/iv against a tag carried
// separately from the ciphertext, matching VM action 18's key layout
// (key‖iv‖tag as three independent slices rather than one packed buffer).
func OpenDetached(key, iv, ciphertext, tag []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	combined := make([]byte, 0, len(ciphertext)+len(tag))
	combined = append(combined, ciphertext...)
	combined = append(combined, tag...)
	return aead.Open(nil, iv, combined, nil)
}

// SealDetached is the counterpart to OpenDetached, splitting the sealed
// output back into ciphertext and tag. It exists for tests and for
// internal/wasmgen's C reference: the WASM VM only ever calls the decrypt
// direction (action 18 is decrypt-only per spec.md §4.4).
func SealDetached(key, iv, plaintext []byte) (ciphertext, tag []byte, err error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, nil, err
	}
	sealed := aead.Seal(nil, iv, plaintext, nil)
	n := len(sealed) - TagSize
	return sealed[:n], sealed[n:], nil
}
