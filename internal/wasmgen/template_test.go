package wasmgen

import (
	"strings"
	"testing"
)

func identityInput() TemplateInput {
	var in TemplateInput
	for i := range in.OpcodeAction {
		in.OpcodeAction[i] = 255
	}
	for i := 0; i < 19; i++ {
		in.OpcodeAction[i] = i
	}
	for i := 0; i < 256; i++ {
		in.VM[i] = byte(i)
		in.VMInv[i] = byte(i)
	}
	return in
}

func TestRenderProducesCompilableShape(t *testing.T) {
	src, err := Render(identityInput())
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"vm_run", "vm_apply", "chacha_poly_decrypt", "opcode_action[256]",
	} {
		if !strings.Contains(src, want) {
			t.Fatalf("rendered source missing %q", want)
		}
	}
	if strings.Contains(src, "{{") {
		t.Fatalf("rendered source still contains an unexpanded template directive")
	}
}

func TestRenderIsDeterministicForSameInput(t *testing.T) {
	in := identityInput()
	a, err := Render(in)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Render(in)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("rendering the same input twice produced different output")
	}
}

func TestExportsMatchesSpecList(t *testing.T) {
	want := []string{
		"to_hex", "from_hex", "vm_apply", "vm_apply_inv", "vm_get", "vm_get_inv",
		"xor_buf", "crc32", "adler32", "xor_checksum",
		"read_u32be", "write_u32be", "read_u32le", "write_u32le",
		"rotl32", "rotr32", "swap32", "vm_run", "chacha_decrypt",
	}
	if len(Exports) != len(want) {
		t.Fatalf("got %d exports, want %d", len(Exports), len(want))
	}
	for i, name := range want {
		if Exports[i] != name {
			t.Fatalf("export[%d] = %q, want %q", i, Exports[i], name)
		}
	}
}
