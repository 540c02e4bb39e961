package vmops

// Run applies ops to a copy of input in order, dispatching each opcode
// through manifest's opcode_action table (spec.md §4.3). Unassigned
// opcodes (255) are skipped. The only action that can fail is 18
// (chacha_decrypt); its error, if any, is returned alongside the partially
// transformed buffer.
func Run(input []byte, ops []Operation, m Manifest) ([]byte, error) {
	buf := append([]byte(nil), input...)
	vm, vmInv := m.SBox()

	for _, op := range ops {
		idx, assigned := m.ActionFor(op.Op)
		if !assigned {
			continue
		}

		var err error
		buf, err = dispatchForward(buf, idx, op.Params, vm, vmInv)
		if err != nil {
			return buf, err
		}
	}
	return buf, nil
}

func dispatchForward(buf []byte, idx int, key []byte, vm, vmInv *[256]byte) ([]byte, error) {
	switch idx {
	case ActionVMApply:
		forwardVMApply(buf, vm)
	case ActionVMApplyInv:
		forwardVMApply(buf, vmInv)
	case ActionXORBuf, ActionXORInplace:
		forwardXOR(buf, key)
	case ActionCRC32:
		forwardCRC32(buf)
	case ActionAdler32:
		forwardAdler32(buf)
	case ActionXORChecksum:
		forwardXORChecksum(buf)
	case ActionToHex:
		buf = EncodeHex(buf)
	case ActionFromHex:
		decoded, err := DecodeHex(buf)
		if err != nil {
			// odd length: from_hex "stops on first non-hex" per spec;
			// an odd-length buffer has no valid halfway byte, so it
			// decodes zero bytes rather than failing the whole run.
			return buf[:0], nil
		}
		buf = decoded
	case ActionReadU32BE:
		forwardReadU32BE(buf)
	case ActionWriteU32BE, ActionReadU32LE:
		forwardLEtoBE(buf)
	case ActionWriteU32LE:
		forwardWriteU32LE(buf)
	case ActionRotl32:
		forwardRotl32(buf, key)
	case ActionRotr32:
		forwardRotr32(buf, key)
	case ActionSwap32:
		forwardSwap32(buf)
	case ActionGetBit:
		// no-op on the buffer by design (spec.md §4.5 idx 16).
	case ActionSetBit:
		forwardSetBit(buf, key)
	case ActionChaChaDecrypt:
		if err := forwardChaChaDecrypt(buf, key); err != nil {
			return buf, err
		}
	}
	return buf, nil
}
