package wasmgen

// Memory layout shared between the injected C template and internal/wasmhost.
// The compiled module is freestanding (-nostdlib), so there is no malloc/free
// export for the host to call; instead both sides agree on fixed linear
// memory offsets for the scratch regions a call operates on, the same way
// the bytecode manifest's tables are agreed on at build time rather than
// discovered at runtime.
const (
	// IOBufAddr is the offset of the main operand buffer. Every
	// length-preserving action operates on IOBufAddr[0:len]; to_hex may grow
	// the occupied region up to IOBufSize.
	IOBufAddr = 1 << 16
	IOBufSize = 4096

	// KeyBufAddr holds the `params`/key bytes for key-consuming actions
	// (xor_buf, rotl32, rotr32, set_bit, chacha_decrypt).
	KeyBufAddr = IOBufAddr + IOBufSize
	KeyBufSize = 64

	// OpsBufAddr holds the encoded operation stream consumed by vm_run:
	// a sequence of (op u8, paramLen u8, params[paramLen] u8) records.
	OpsBufAddr = KeyBufAddr + KeyBufSize
	OpsBufSize = 512
)

// Exports is the fixed list of WASM export names, injected verbatim into
// the `clang ... -Wl,--export=<fn>` flags. This list must not change
// without updating both the C template and internal/wasmhost's ABI calls.
var Exports = []string{
	"to_hex", "from_hex",
	"vm_apply", "vm_apply_inv", "vm_get", "vm_get_inv",
	"xor_buf", "crc32", "adler32", "xor_checksum",
	"read_u32be", "write_u32be", "read_u32le", "write_u32le",
	"rotl32", "rotr32", "swap32",
	"vm_run", "chacha_decrypt",
}
