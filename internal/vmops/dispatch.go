package vmops

import "git.vmwall.dev/vmwall/internal/aead"

// Action indices, in the canonical fixed order used both as the dispatch
// table index and as the order bytecode.Generate assigns action names to
// freshly chosen opcodes (spec.md §4.1, §4.5).
const (
	ActionVMApply       = 0
	ActionVMApplyInv    = 1
	ActionXORBuf        = 2
	ActionXORInplace    = 3
	ActionCRC32         = 4
	ActionAdler32       = 5
	ActionXORChecksum   = 6
	ActionToHex         = 7
	ActionFromHex       = 8
	ActionReadU32BE     = 9
	ActionWriteU32BE    = 10
	ActionReadU32LE     = 11
	ActionWriteU32LE    = 12
	ActionRotl32        = 13
	ActionRotr32        = 14
	ActionSwap32        = 15
	ActionGetBit        = 16
	ActionSetBit        = 17
	ActionChaChaDecrypt = 18

	// NumActions is the size of the canonical action set (spec.md §3
	// invariant: opcode_action entries are in 0..=18 or 255).
	NumActions = 19

	// Unassigned marks an opcode with no action (spec.md §3).
	Unassigned = 255
)

// ActionNames is the canonical fixed order of action names, indexed by
// action 0..18, as used by the bytecodes.json manifest's "bytecodes" map
// (spec.md §6) and by internal/bytecode.Generate.
var ActionNames = [NumActions]string{
	ActionVMApply:       "vm_apply",
	ActionVMApplyInv:    "vm_apply_inv",
	ActionXORBuf:        "xor_buf",
	ActionXORInplace:    "xor_inplace",
	ActionCRC32:         "crc32",
	ActionAdler32:       "adler32",
	ActionXORChecksum:   "xor_checksum",
	ActionToHex:         "to_hex",
	ActionFromHex:       "from_hex",
	ActionReadU32BE:     "read_u32be",
	ActionWriteU32BE:    "write_u32be",
	ActionReadU32LE:     "read_u32le",
	ActionWriteU32LE:    "write_u32le",
	ActionRotl32:        "rotl32",
	ActionRotr32:        "rotr32",
	ActionSwap32:        "swap32",
	ActionGetBit:        "get_bit",
	ActionSetBit:        "set_bit",
	ActionChaChaDecrypt: "chacha_decrypt",
}

// alignedWords calls fn on every complete 4-byte aligned word of buf,
// writing the (possibly transformed) word back in place. Trailing bytes
// that don't form a full word are left untouched, matching the "each
// aligned word" wording of spec.md §4.5.
func alignedWords(buf []byte, fn func(uint32) uint32) {
	for i := 0; i+4 <= len(buf); i += 4 {
		v := U32LE(buf[i : i+4])
		PutU32LE(buf[i:i+4], fn(v))
	}
}

// forwardVMApply implements action 0.
func forwardVMApply(buf []byte, vm *[256]byte) {
	ApplySBox(buf, vm)
}

// forwardXOR implements actions 2 and 3: buf[i] ^= key[i % len(key)].
func forwardXOR(buf, key []byte) {
	if len(key) == 0 {
		return
	}
	for i := range buf {
		buf[i] ^= key[i%len(key)]
	}
}

// forwardCRC32 implements action 4.
func forwardCRC32(buf []byte) {
	if len(buf) < 4 {
		return
	}
	sum := CRC32IEEE(buf[:len(buf)-4])
	PutU32BE(buf[len(buf)-4:], sum)
}

// forwardAdler32 implements action 5.
func forwardAdler32(buf []byte) {
	if len(buf) < 4 {
		return
	}
	sum := Adler32Sum(buf[:len(buf)-4])
	PutU32BE(buf[len(buf)-4:], sum)
}

// forwardXORChecksum implements action 6.
func forwardXORChecksum(buf []byte) {
	if len(buf) < 1 {
		return
	}
	buf[len(buf)-1] = XORChecksum(buf[:len(buf)-1])
}

// forwardReadU32BE implements action 9 (BE->LE per aligned word).
// Reading a word under one byte order and writing it under the other is,
// for a 4-byte word, exactly a byte reversal: both endian-flip helpers
// below reduce to swap32, matching §9's note that this alias space is
// intentionally narrow.
func forwardReadU32BE(buf []byte) {
	alignedWords(buf, swap32)
}

// forwardLEtoBE implements actions 10 and 11 (both LE->BE per aligned
// word, intentionally aliased forward transforms, spec.md §9).
func forwardLEtoBE(buf []byte) {
	alignedWords(buf, swap32)
}

// forwardWriteU32LE implements action 12 (BE->LE per aligned word).
func forwardWriteU32LE(buf []byte) {
	alignedWords(buf, swap32)
}

// forwardRotl32 implements action 13.
func forwardRotl32(buf, key []byte) {
	if len(key) < 1 {
		return
	}
	r := uint(key[0] & 31)
	alignedWords(buf, func(v uint32) uint32 { return rotl32(v, r) })
}

// forwardRotr32 implements action 14.
func forwardRotr32(buf, key []byte) {
	if len(key) < 1 {
		return
	}
	r := uint(key[0] & 31)
	alignedWords(buf, func(v uint32) uint32 { return rotr32(v, r) })
}

// forwardSwap32 implements action 15.
func forwardSwap32(buf []byte) {
	alignedWords(buf, swap32)
}

// forwardSetBit implements action 17.
func forwardSetBit(buf, key []byte) {
	if len(key) < 2 {
		return
	}
	bi := uint(key[0] & 31)
	on := key[1]&1 == 1
	alignedWords(buf, func(v uint32) uint32 { return setBit(v, bi, on) })
}

// forwardChaChaDecrypt implements action 18: the only fallible action.
// key layout: key[0:32] = chacha20-poly1305 key, key[32:44] = 12-byte IV,
// key[44:60] = 16-byte Poly1305 tag. Returns an error only when the
// preconditions hold but authentication fails; short keys/buffers are a
// silent no-op per spec.md §4.5.
func forwardChaChaDecrypt(buf, key []byte) error {
	if len(key) < 60 || len(buf) <= 16 {
		return nil
	}
	plain, err := aead.OpenDetached(key[0:32], key[32:44], buf, key[44:60])
	if err != nil {
		return err
	}
	copy(buf, plain)
	return nil
}
