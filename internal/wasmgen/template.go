package wasmgen

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed vm.c.tmpl
var vmTemplateSource string

var vmTemplate = template.Must(template.New("vm.c.tmpl").Funcs(template.FuncMap{
	"carray": carray,
	"cint":   cint,
}).Parse(vmTemplateSource))

// TemplateInput carries the per-build values substituted into vm.c.tmpl.
type TemplateInput struct {
	OpcodeAction [256]int
	VM           [256]byte
	VMInv        [256]byte
}

// Render substitutes in's values into the C template, returning the
// complete C source ready for Compile.
func Render(in TemplateInput) (string, error) {
	var buf strings.Builder
	if err := vmTemplate.Execute(&buf, in); err != nil {
		return "", fmt.Errorf("wasmgen: rendering template: %w", err)
	}
	return buf.String(), nil
}

// carray renders a fixed-size byte array as a C brace-initializer literal.
func carray(vs [256]byte) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, v := range vs {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%d", v)
	}
	b.WriteByte('}')
	return b.String()
}

// cint renders a fixed-size int array (opcode_action, values -1..18
// represented with 255 -> -1 is NOT used; the table stores 0..18 or 255
// verbatim to match the manifest's own encoding) as a C brace-initializer.
func cint(vs [256]int) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, v := range vs {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%d", v)
	}
	b.WriteByte('}')
	return b.String()
}
