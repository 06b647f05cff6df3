package nova

import (
	"bytes"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/fxamacker/cbor/v2"
)

// Proof is the compressed artifact of an accumulation: the instance-side
// fold transcript plus the opening of the final accumulator. Replaying
// the transcript and checking the single relaxed opening verifies every
// folded instance at once; the cost never depends on how many reduction
// steps each instance proved.
type Proof struct {
	ShapeDigest []byte
	Steps       []FoldStep
	W, E        []fr.Element
}

// Compress finalizes the accumulator into a proof.
func (a *Accumulator) Compress() (*Proof, error) {
	if len(a.steps) == 0 {
		return nil, ErrEmptyAccumulator
	}
	return &Proof{
		ShapeDigest: append([]byte(nil), a.shape.Digest()...),
		Steps:       a.steps,
		W:           a.wit.W,
		E:           a.wit.E,
	}, nil
}

// Verify replays the fold transcript against the shape and checks that
// the carried witness opens the resulting relaxed instance. A tampered
// proof fails without diagnostics beyond the stage that rejected it.
func (p *Proof) Verify(shape *Shape, key *CommitmentKey) error {
	if !bytes.Equal(p.ShapeDigest, shape.Digest()) {
		return fmt.Errorf("%w: shape digest", ErrShapeMismatch)
	}
	inst, err := shape.FoldInstances(p.Steps)
	if err != nil {
		return err
	}
	return shape.CheckRelaxed(key, &inst, &Witness{W: p.W, E: p.E})
}

// wire forms carry field elements and curve points in canonical bytes
type proofStepWire struct {
	CommW []byte   `cbor:"1,keyasint"`
	CommT []byte   `cbor:"2,keyasint"`
	X     [][]byte `cbor:"3,keyasint"`
}

type proofWire struct {
	ShapeDigest []byte          `cbor:"1,keyasint"`
	Steps       []proofStepWire `cbor:"2,keyasint"`
	W           [][]byte        `cbor:"3,keyasint"`
	E           [][]byte        `cbor:"4,keyasint"`
}

// MarshalBinary encodes the proof as canonical CBOR.
func (p *Proof) MarshalBinary() ([]byte, error) {
	wire := proofWire{
		ShapeDigest: p.ShapeDigest,
		Steps:       make([]proofStepWire, len(p.Steps)),
		W:           elemsToBytes(p.W),
		E:           elemsToBytes(p.E),
	}
	for i := range p.Steps {
		wire.Steps[i] = proofStepWire{
			CommW: pointToBytes(&p.Steps[i].CommW),
			CommT: pointToBytes(&p.Steps[i].CommT),
			X:     elemsToBytes(p.Steps[i].X),
		}
	}
	return cbor.Marshal(wire)
}

// UnmarshalBinary decodes and validates curve points; a byte string that
// does not decode to a point on the curve is rejected here, before any
// verification work.
func (p *Proof) UnmarshalBinary(data []byte) error {
	var wire proofWire
	if err := cbor.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("nova: decode proof: %w", err)
	}
	p.ShapeDigest = wire.ShapeDigest
	p.Steps = make([]FoldStep, len(wire.Steps))
	for i := range wire.Steps {
		commW, err := pointFromBytes(wire.Steps[i].CommW)
		if err != nil {
			return fmt.Errorf("nova: step %d commW: %w", i, err)
		}
		commT, err := pointFromBytes(wire.Steps[i].CommT)
		if err != nil {
			return fmt.Errorf("nova: step %d commT: %w", i, err)
		}
		p.Steps[i] = FoldStep{
			CommW: commW,
			CommT: commT,
			X:     bytesToElems(wire.Steps[i].X),
		}
	}
	p.W = bytesToElems(wire.W)
	p.E = bytesToElems(wire.E)
	return nil
}

func elemsToBytes(v []fr.Element) [][]byte {
	out := make([][]byte, len(v))
	for i := range v {
		b := v[i].Bytes()
		out[i] = append([]byte(nil), b[:]...)
	}
	return out
}

func bytesToElems(v [][]byte) []fr.Element {
	out := make([]fr.Element, len(v))
	for i := range v {
		out[i].SetBytes(v[i])
	}
	return out
}

func pointToBytes(p *bn254.G1Affine) []byte {
	b := p.Bytes()
	return append([]byte(nil), b[:]...)
}

func pointFromBytes(b []byte) (bn254.G1Affine, error) {
	var p bn254.G1Affine
	if _, err := p.SetBytes(b); err != nil {
		return p, err
	}
	return p, nil
}
