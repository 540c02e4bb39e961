package vmops

import (
	"bytes"
	"testing"
)

func TestEncodeRoundTrip(t *testing.T) {
	m := newShuffledManifest(map[byte]int{
		0x01: ActionVMApply,
		0x02: ActionXORBuf,
		0x03: ActionRotl32,
		0x04: ActionSwap32,
	})
	ops := []Operation{
		{Op: 0x01},
		{Op: 0x02, Params: []byte{0x5A, 0xA5}},
		{Op: 0x03, Params: []byte{11}},
		{Op: 0x04},
	}
	plaintext := []byte{10, 20, 30, 40, 50, 60, 70, 80}

	encoded, err := Run(plaintext, ops, m)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Encode(encoded, ops, m)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded, plaintext) {
		t.Fatalf("round trip failed: got %v, want %v", decoded, plaintext)
	}
}

func TestEncodeAppliesInverseInReverseOrder(t *testing.T) {
	// For forward ops [A;B], encode(run(x,[A;B]),[A;B]) must equal
	// inverse_A(inverse_B(run(x,[A;B]))) -- inverse of B first, then A.
	m := newShuffledManifest(map[byte]int{
		0xA1: ActionRotl32,
		0xB1: ActionSwap32,
	})
	opA := Operation{Op: 0xA1, Params: []byte{7}}
	opB := Operation{Op: 0xB1}
	input := []byte{1, 2, 3, 4}

	forward, err := Run(input, []Operation{opA, opB}, m)
	if err != nil {
		t.Fatal(err)
	}

	manual, err := dispatchInverse(append([]byte(nil), forward...), ActionSwap32, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	manual, err = dispatchInverse(manual, ActionRotl32, opA.Params, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	decoded, err := Encode(forward, []Operation{opA, opB}, m)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded, manual) {
		t.Fatalf("encode did not apply inverses in reverse order: got %v, want %v", decoded, manual)
	}
	if !bytes.Equal(decoded, input) {
		t.Fatalf("round trip mismatch: got %v, want %v", decoded, input)
	}
}

func TestSetBitIsNotSelfInverse(t *testing.T) {
	// Documents the non-invertibility of action 17: the inverse clears the
	// bit the forward pass set, so when that bit was already set in the
	// input, the round trip does not restore the original value.
	m := newIdentityManifest(map[byte]int{0x17: ActionSetBit})
	op := Operation{Op: 0x17, Params: []byte{0, 1}} // set bit 0 on
	input := []byte{0x01, 0x00, 0x00, 0x00}

	forward, err := Run(input, []Operation{op}, m)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Encode(forward, []Operation{op}, m)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(decoded, input) {
		t.Fatalf("expected set_bit inverse to diverge from original input, both are %v", decoded)
	}
}

func TestChaChaDecryptHasNoInverse(t *testing.T) {
	m := newIdentityManifest(map[byte]int{0x12: ActionChaChaDecrypt})
	op := Operation{Op: 0x12, Params: make([]byte, 60)}
	buf := make([]byte, 32)

	_, err := Encode(buf, []Operation{op}, m)
	if err == nil {
		t.Fatal("expected error decoding through chacha_decrypt's inverse")
	}
}
