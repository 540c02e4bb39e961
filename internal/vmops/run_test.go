package vmops

import (
	"bytes"
	"testing"
)

func TestIdentityPipeline(t *testing.T) {
	m := newShuffledManifest(map[byte]int{
		0xA0: ActionVMApply,
		0xB0: ActionVMApplyInv,
	})
	ops := []Operation{{Op: 0xA0}, {Op: 0xB0}}
	input := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	out, err := Run(input, ops, m)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, input) {
		t.Fatalf("got %v, want %v", out, input)
	}
	if got := U32LE(out[:4]); got != 0x04030201 {
		t.Fatalf("expected u32le 0x04030201, got %#x", got)
	}
}

func TestXORCycle(t *testing.T) {
	m := newIdentityManifest(map[byte]int{0xC0: ActionXORBuf})
	ops := []Operation{{Op: 0xC0, Params: []byte{0xFF}}}
	input := []byte{0x00, 0x00, 0x00, 0x00}

	out, err := Run(input, ops, m)
	if err != nil {
		t.Fatal(err)
	}
	if got := U32LE(out); got != 0xFFFFFFFF {
		t.Fatalf("expected 0xFFFFFFFF, got %#x", got)
	}
}

func TestRotationScenario(t *testing.T) {
	m := newIdentityManifest(map[byte]int{0xD0: ActionRotl32})
	ops := []Operation{{Op: 0xD0, Params: []byte{4}}}
	input := []byte{0x01, 0x00, 0x00, 0x00}

	out, err := Run(input, ops, m)
	if err != nil {
		t.Fatal(err)
	}
	if got := U32LE(out); got != 0x00000010 {
		t.Fatalf("expected 0x00000010, got %#x", got)
	}
}

func TestLayerOrdering(t *testing.T) {
	m := newShuffledManifest(map[byte]int{
		0x10: ActionRotl32,
		0x20: ActionXORBuf,
	})
	opA := Operation{Op: 0x10, Params: []byte{5}}
	opB := Operation{Op: 0x20, Params: []byte{0x42, 0x01}}

	forwardAB, err := Run([]byte{1, 2, 3, 4}, []Operation{opA, opB}, m)
	if err != nil {
		t.Fatal(err)
	}

	// forward_B(forward_A(input))
	stepA, err := Run([]byte{1, 2, 3, 4}, []Operation{opA}, m)
	if err != nil {
		t.Fatal(err)
	}
	stepAB, err := Run(stepA, []Operation{opB}, m)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(forwardAB, stepAB) {
		t.Fatalf("layer ordering mismatch: %v != %v", forwardAB, stepAB)
	}
}

func TestUnassignedOpcodeIsSkipped(t *testing.T) {
	m := newIdentityManifest(map[byte]int{})
	input := []byte{9, 9, 9, 9}
	out, err := Run(input, []Operation{{Op: 0xFF, Params: []byte{1, 2}}}, m)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, input) {
		t.Fatalf("unassigned opcode should be a no-op, got %v", out)
	}
}

func TestCRC32Action(t *testing.T) {
	m := newIdentityManifest(map[byte]int{0x01: ActionCRC32})
	input := []byte{'1', '2', '3', '4', '5', 0, 0, 0, 0}
	out, err := Run(input, []Operation{{Op: 0x01}}, m)
	if err != nil {
		t.Fatal(err)
	}
	if got := U32BE(out[len(out)-4:]); got != CRC32IEEE([]byte("12345")) {
		t.Fatalf("crc32 mismatch: %#x", got)
	}
}
