package wasmhost

import (
	"bytes"
	"testing"

	"git.vmwall.dev/vmwall/internal/vmops"
)

func TestEncodeOpsWireFormat(t *testing.T) {
	ops := []vmops.Operation{
		{Op: 0x10, Params: nil},
		{Op: 0x22, Params: []byte{1, 2, 3}},
	}
	got := encodeOps(ops)
	want := []byte{0x10, 0x00, 0x22, 0x03, 1, 2, 3}
	if !bytes.Equal(got, want) {
		t.Fatalf("encodeOps = %x, want %x", got, want)
	}
}

func TestEncodeOpsEmpty(t *testing.T) {
	if got := encodeOps(nil); len(got) != 0 {
		t.Fatalf("encodeOps(nil) = %x, want empty", got)
	}
}

func TestEncodeOpsPreservesOrder(t *testing.T) {
	ops := []vmops.Operation{
		{Op: 1, Params: []byte{0xAA}},
		{Op: 2, Params: []byte{0xBB}},
		{Op: 3, Params: []byte{0xCC}},
	}
	got := encodeOps(ops)
	want := []byte{1, 1, 0xAA, 2, 1, 0xBB, 3, 1, 0xCC}
	if !bytes.Equal(got, want) {
		t.Fatalf("encodeOps = %x, want %x", got, want)
	}
}
