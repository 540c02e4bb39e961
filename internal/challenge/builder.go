package challenge

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"git.vmwall.dev/vmwall/internal/aead"
	"git.vmwall.dev/vmwall/internal/bytecode"
	"git.vmwall.dev/vmwall/internal/kv"
	"git.vmwall.dev/vmwall/internal/vmerr"
	"git.vmwall.dev/vmwall/internal/vmops"
)

const (
	challengeTTL  = 300 * time.Second
	minOps        = 8
	maxOps        = 15
	minLayers     = 2
	maxLayers     = 5
	maxParamBytes = 7
)

// OperationWire is the JSON shape of an operation in the challenge's
// operations field: params travel base64-encoded, matching the encrypted
// credential payload's JSON encoding.
type OperationWire struct {
	Op     byte   `json:"op"`
	Params []byte `json:"params"`
}

// Challenge is the builder's output: everything delivered to the client
// inside the encrypted credential, plus the raw expected value kept only
// on the server side (never serialized into the client-facing struct).
type Challenge struct {
	EncryptedWasm []byte          `json:"encryptedWasm"`
	WasmKey       []byte          `json:"key"`
	Operations    []OperationWire `json:"operations"`
	Input         []byte          `json:"input"`
	Token         string          `json:"token"`
	SigningKey    []byte          `json:"signingKey"`

	ID       string `json:"-"`
	expected uint32
}

// Builder constructs challenges against a fixed manifest and compiled WASM
// module; both are read-only for the process lifetime (spec's "per-build
// manifest and compiled WASM bytes are read-only").
type Builder struct {
	Manifest  *bytecode.Manifest
	WasmBytes []byte
	Store     kv.Store
	Secret    []byte
}

// claims is the JWT payload signed over a challenge id.
type claims struct {
	ChallengeID string           `json:"challengeId"`
	Expiry      *jwt.NumericDate `json:"exp,omitempty"`
}

// Build runs the full challenge-builder procedure: pick admissible
// operations across randomly partitioned layers, draw an input, compute
// the expected result with the reference VM, encrypt the WASM bytes under
// a fresh key, persist the expected value, and sign a token over the
// challenge id.
func (b *Builder) Build(ctx context.Context, session *Session) (*Challenge, error) {
	ops, err := b.generateOps()
	if err != nil {
		return nil, vmerr.Internal(fmt.Errorf("challenge: generating operations: %w", err))
	}

	input := make([]byte, 8)
	if _, err := rand.Read(input); err != nil {
		return nil, vmerr.Internal(fmt.Errorf("challenge: drawing input: %w", err))
	}

	result, err := vmops.Run(input, ops, b.Manifest)
	if err != nil {
		return nil, vmerr.Internal(fmt.Errorf("challenge: running reference vm: %w", err))
	}
	var expected uint32
	if len(result) >= 4 {
		expected = binary.LittleEndian.Uint32(result[:4])
	}

	wasmKey := make([]byte, aead.KeySize)
	if _, err := rand.Read(wasmKey); err != nil {
		return nil, vmerr.Internal(fmt.Errorf("challenge: generating wasm key: %w", err))
	}
	encryptedWasm, err := aead.Seal(wasmKey, b.WasmBytes)
	if err != nil {
		return nil, vmerr.Internal(fmt.Errorf("challenge: encrypting wasm: %w", err))
	}

	challengeID, err := randomHexID(16)
	if err != nil {
		return nil, vmerr.Internal(err)
	}

	if err := b.Store.Set(ctx, "challenge:"+challengeID, encodeExpected(expected), challengeTTL); err != nil {
		return nil, vmerr.Internal(fmt.Errorf("challenge: persisting expected value: %w", err))
	}

	token, err := b.signToken(challengeID)
	if err != nil {
		return nil, vmerr.Internal(fmt.Errorf("challenge: signing token: %w", err))
	}

	wire := make([]OperationWire, len(ops))
	for i, op := range ops {
		wire[i] = OperationWire{Op: op.Op, Params: op.Params}
	}

	return &Challenge{
		EncryptedWasm: encryptedWasm,
		WasmKey:       wasmKey,
		Operations:    wire,
		Input:         input,
		Token:         token,
		SigningKey:    session.SigningKey,
		ID:            challengeID,
		expected:      expected,
	}, nil
}

func (b *Builder) signToken(challengeID string) (string, error) {
	signer, err := jose.NewSigner(jose.SigningKey{
		Algorithm: jose.HS256,
		Key:       b.Secret,
	}, nil)
	if err != nil {
		return "", err
	}
	exp := jwt.NewNumericDate(time.Now().Add(challengeTTL))
	return jwt.Signed(signer).Claims(claims{ChallengeID: challengeID, Expiry: exp}).Serialize()
}

// generateOps implements step 1-2 of the procedure: filter admissible
// opcodes, draw numOps/numLayers, partition numOps across layers with each
// layer at least 1, fill each layer with random (opcode, params) pairs,
// shuffle the layer, and concatenate.
func (b *Builder) generateOps() ([]vmops.Operation, error) {
	admissible := b.admissibleOpcodes()
	if len(admissible) == 0 {
		return nil, fmt.Errorf("no admissible opcodes in manifest")
	}

	numOps, err := randIntRange(minOps, maxOps)
	if err != nil {
		return nil, err
	}
	numLayers, err := randIntRange(minLayers, maxLayers)
	if err != nil {
		return nil, err
	}
	if numLayers > numOps {
		numLayers = numOps
	}

	layerSizes, err := partition(numOps, numLayers)
	if err != nil {
		return nil, err
	}

	var ops []vmops.Operation
	for _, size := range layerSizes {
		layer := make([]vmops.Operation, size)
		for i := range layer {
			op, err := randomAdmissibleOp(admissible)
			if err != nil {
				return nil, err
			}
			layer[i] = op
		}
		if err := shuffleOperations(layer); err != nil {
			return nil, err
		}
		ops = append(ops, layer...)
	}
	return ops, nil
}

func (b *Builder) admissibleOpcodes() []byte {
	var out []byte
	for op := 0; op < 256; op++ {
		idx, ok := b.Manifest.ActionFor(byte(op))
		if !ok {
			continue
		}
		if idx == vmops.ActionToHex || idx == vmops.ActionFromHex || idx == vmops.ActionChaChaDecrypt {
			continue
		}
		out = append(out, byte(op))
	}
	return out
}

func randomAdmissibleOp(admissible []byte) (vmops.Operation, error) {
	i, err := randIntRange(0, len(admissible)-1)
	if err != nil {
		return vmops.Operation{}, err
	}
	paramLen, err := randIntRange(0, maxParamBytes)
	if err != nil {
		return vmops.Operation{}, err
	}
	params := make([]byte, paramLen)
	if paramLen > 0 {
		if _, err := rand.Read(params); err != nil {
			return vmops.Operation{}, err
		}
	}
	return vmops.Operation{Op: admissible[i], Params: params}, nil
}

func shuffleOperations(ops []vmops.Operation) error {
	for i := len(ops) - 1; i > 0; i-- {
		j, err := randIntRange(0, i)
		if err != nil {
			return err
		}
		ops[i], ops[j] = ops[j], ops[i]
	}
	return nil
}

// partition splits total into n parts, each >= 1, summing to total. Each
// part but the last is drawn uniformly (crypto/rand) from the range that
// leaves at least 1 for every later part; the last part takes the remainder.
func partition(total, n int) ([]int, error) {
	if n <= 0 || total < n {
		return nil, fmt.Errorf("challenge: cannot partition %d into %d non-empty parts", total, n)
	}
	sizes := make([]int, n)
	remaining := total
	for i := 0; i < n; i++ {
		layersLeft := n - i
		size := remaining
		if layersLeft > 1 {
			maxForThis := remaining - (layersLeft - 1)
			var err error
			size, err = randIntRange(1, maxForThis)
			if err != nil {
				return nil, err
			}
		}
		sizes[i] = size
		remaining -= size
	}
	return sizes, nil
}

// randIntRange draws a uniform integer in [lo, hi] using crypto/rand's own
// rejection-sampled Int, the stdlib's way of avoiding modulo bias.
func randIntRange(lo, hi int) (int, error) {
	if hi < lo {
		return lo, nil
	}
	span := big.NewInt(int64(hi - lo + 1))
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return 0, err
	}
	return lo + int(n.Int64()), nil
}

func randomHexID(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func encodeExpected(v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return buf[:]
}
