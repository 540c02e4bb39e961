package bytecode

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// manifestDocument is the on-disk shape of bytecodes.json.
type manifestDocument struct {
	Bytecodes    map[string]string `json:"bytecodes"`
	OpcodeAction [256]int          `json:"opcode_action"`
	VM           [256]byte         `json:"vm"`
	VMInv        [256]byte         `json:"vm_inv"`
}

// WriteFile emits bytecodes.json into dir.
func (m *Manifest) WriteFile(dir string) error {
	doc := manifestDocument{
		Bytecodes:    m.Bytecodes(),
		OpcodeAction: m.OpcodeAction,
		VM:           m.VM,
		VMInv:        m.VMInv,
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("bytecode: marshaling manifest: %w", err)
	}
	path := filepath.Join(dir, "bytecodes.json")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("bytecode: writing %s: %w", path, err)
	}
	return nil
}

// ReadFile loads a manifest previously written by WriteFile. The
// bytecodes field is not trusted; it's re-derived from opcode_action on
// load and validated to match.
func ReadFile(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "bytecodes.json")
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bytecode: reading %s: %w", path, err)
	}
	var doc manifestDocument
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("bytecode: parsing %s: %w", path, err)
	}
	m := &Manifest{
		OpcodeAction: doc.OpcodeAction,
		VM:           doc.VM,
		VMInv:        doc.VMInv,
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("bytecode: %s failed validation: %w", path, err)
	}
	derived := m.Bytecodes()
	if len(derived) != len(doc.Bytecodes) {
		return nil, fmt.Errorf("bytecode: %s bytecodes field has %d entries, want %d", path, len(doc.Bytecodes), len(derived))
	}
	for k, v := range derived {
		if doc.Bytecodes[k] != v {
			return nil, fmt.Errorf("bytecode: %s bytecodes[%s] = %q, derived %q", path, k, doc.Bytecodes[k], v)
		}
	}
	return m, nil
}
