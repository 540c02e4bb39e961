package vmops

// Encode applies the inverse of each op in reverse order, implementing
// encode(run(x, ops), ops) == x for every opcode whose action is
// invertible (spec.md §4.4, §3). For actions 4/5/6 (checksum overwrite)
// the inverse re-applies the forward transform (overwrite is idempotent);
// 7/8 (length-changing hex) invert by hex-decoding / hex-encoding; 18
// (decrypt-only) fails loudly. The challenge builder excludes 7, 8 and 18
// from puzzles.
func Encode(plaintext []byte, ops []Operation, m Manifest) ([]byte, error) {
	buf := append([]byte(nil), plaintext...)
	vm, vmInv := m.SBox()

	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		idx, assigned := m.ActionFor(op.Op)
		if !assigned {
			continue
		}

		var err error
		buf, err = dispatchInverse(buf, idx, op.Params, vm, vmInv)
		if err != nil {
			return buf, err
		}
	}
	return buf, nil
}

func dispatchInverse(buf []byte, idx int, key []byte, vm, vmInv *[256]byte) ([]byte, error) {
	switch idx {
	case ActionVMApply:
		forwardVMApply(buf, vmInv)
	case ActionVMApplyInv:
		forwardVMApply(buf, vm)
	case ActionXORBuf, ActionXORInplace:
		// self-inverse
		forwardXOR(buf, key)
	case ActionCRC32:
		forwardCRC32(buf)
	case ActionAdler32:
		forwardAdler32(buf)
	case ActionXORChecksum:
		forwardXORChecksum(buf)
	case ActionToHex:
		decoded, err := DecodeHex(buf)
		if err != nil {
			return buf[:0], nil
		}
		buf = decoded
	case ActionFromHex:
		buf = EncodeHex(buf)
	case ActionReadU32BE:
		// forward was BE->LE; inverse is LE->BE, same shape as actions
		// 10/11's forward transform.
		forwardLEtoBE(buf)
	case ActionWriteU32BE, ActionReadU32LE:
		// forward was LE->BE; inverse is BE->LE.
		forwardWriteU32LE(buf)
	case ActionWriteU32LE:
		// forward was BE->LE; inverse is LE->BE.
		forwardLEtoBE(buf)
	case ActionRotl32:
		forwardRotr32(buf, key)
	case ActionRotr32:
		forwardRotl32(buf, key)
	case ActionSwap32:
		forwardSwap32(buf)
	case ActionGetBit:
		// no-op, both directions.
	case ActionSetBit:
		// Not self-inverse: the original value of the targeted bit is
		// lost once set, so the "inverse" can only toggle the on-bit it
		// was told to set, not restore history. This is the documented
		// inconsistency of spec.md §9 ("Open / possibly-buggy
		// behaviors"): kept as-is rather than silently corrected. The
		// challenge builder does admit opcode 17 into puzzles but never
		// calls Encode, so this path is not exercised by the protocol
		// itself and exists only to match spec.md's encode() contract.
		if len(key) >= 2 {
			bi := uint(key[0] & 31)
			on := key[1]&1 == 1
			alignedWords(buf, func(v uint32) uint32 { return setBit(v, bi, !on) })
		}
	case ActionChaChaDecrypt:
		// "not implemented (fails)" per spec.md §4.4's inverse table.
		return buf, errDecryptHasNoInverse
	}
	return buf, nil
}

var errDecryptHasNoInverse = encodeError("vmops: action 18 (chacha_decrypt) has no inverse")

type encodeError string

func (e encodeError) Error() string { return string(e) }
