package nova

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	fiatshamir "github.com/consensys/gnark-crypto/fiat-shamir"
	"golang.org/x/crypto/blake2b"
)

var (
	// ErrShapeMismatch is returned when an instance or witness does not
	// match the shape's dimensions or digest.
	ErrShapeMismatch = errors.New("nova: instance does not match the shape")

	// ErrUnsatisfied is returned when a relaxed instance fails its
	// satisfiability or commitment-opening check.
	ErrUnsatisfied = errors.New("nova: relaxed instance is not satisfied")

	// ErrEmptyAccumulator is returned when compressing before any fold.
	ErrEmptyAccumulator = errors.New("nova: nothing folded")
)

// Instance is a relaxed R1CS instance: Az o Bz = u*Cz + E over the wire
// vector z = (u, X, W), with W and E known only through their Pedersen
// commitments. A strictly satisfying assignment is the special case u = 1,
// E = 0.
type Instance struct {
	CommW bn254.G1Affine
	CommE bn254.G1Affine
	U     fr.Element
	X     []fr.Element
}

// Witness opens an instance.
type Witness struct {
	W []fr.Element
	E []fr.Element
}

// NewInstance wraps a strictly satisfying assignment as a relaxed
// instance. CommE stays the identity: the slack vector of a strict
// instance is zero.
func NewInstance(shape *Shape, key *CommitmentKey, x, w []fr.Element) (Instance, Witness, error) {
	if len(x) != shape.NumPublic-1 || len(w) != shape.NumWitness {
		return Instance{}, Witness{}, ErrShapeMismatch
	}
	commW, err := key.Commit(w)
	if err != nil {
		return Instance{}, Witness{}, err
	}
	var u fr.Element
	u.SetOne()
	inst := Instance{
		CommW: commW,
		U:     u,
		X:     append([]fr.Element(nil), x...),
	}
	wit := Witness{
		W: append([]fr.Element(nil), w...),
		E: make([]fr.Element, shape.NumConstraints),
	}
	return inst, wit, nil
}

// FoldStep is the instance-side record of one folding iteration: the
// incoming strict instance and the cross-term commitment that folded it
// in. The first step seeds the accumulator, so its CommT is unused.
type FoldStep struct {
	CommW bn254.G1Affine
	CommT bn254.G1Affine
	X     []fr.Element
}

// Accumulator folds a sequence of strict instances of one shape into a
// single relaxed instance. Instances must arrive in trace order; the
// caller is responsible for checking boundary chaining between them.
type Accumulator struct {
	shape *Shape
	key   *CommitmentKey

	inst  Instance
	wit   Witness
	steps []FoldStep
}

// NewAccumulator returns an empty accumulator over the shape.
func NewAccumulator(shape *Shape, key *CommitmentKey) *Accumulator {
	return &Accumulator{shape: shape, key: key}
}

// Count reports how many instances have been folded in.
func (a *Accumulator) Count() int { return len(a.steps) }

// Instance returns the current folded instance.
func (a *Accumulator) Instance() Instance { return a.inst }

// Fold absorbs one strict instance. The first call seeds the accumulator;
// subsequent calls commit the cross term, derive the Fiat-Shamir
// challenge, and take the linear combination on both the instance and the
// witness side.
func (a *Accumulator) Fold(inst Instance, wit Witness) error {
	if len(inst.X) != a.shape.NumPublic-1 ||
		len(wit.W) != a.shape.NumWitness ||
		len(wit.E) != a.shape.NumConstraints {
		return ErrShapeMismatch
	}
	step := FoldStep{CommW: inst.CommW, X: append([]fr.Element(nil), inst.X...)}
	if len(a.steps) == 0 {
		a.inst, a.wit = inst, wit
		a.steps = append(a.steps, step)
		return nil
	}

	T := a.shape.crossTerm(&a.inst, &a.wit, &inst, &wit)
	commT, err := a.key.Commit(T)
	if err != nil {
		return err
	}
	r, err := foldChallenge(a.shape.Digest(), &a.inst, &inst, &commT)
	if err != nil {
		return err
	}
	a.inst = foldInstance(&a.inst, &inst, &commT, &r)
	a.wit = foldWitness(&a.wit, &wit, T, &r)
	step.CommT = commT
	a.steps = append(a.steps, step)
	return nil
}

// crossTerm computes T = Az1 o Bz2 + Az2 o Bz1 - u1*Cz2 - u2*Cz1, the
// bilinear residue that folding absorbs into E.
func (s *Shape) crossTerm(i1 *Instance, w1 *Witness, i2 *Instance, w2 *Witness) []fr.Element {
	z1 := s.Z(i1.U, i1.X, w1.W)
	z2 := s.Z(i2.U, i2.X, w2.W)
	az1, bz1, cz1 := s.A.MulVec(z1), s.B.MulVec(z1), s.C.MulVec(z1)
	az2, bz2, cz2 := s.A.MulVec(z2), s.B.MulVec(z2), s.C.MulVec(z2)

	T := make([]fr.Element, s.NumConstraints)
	var t fr.Element
	for i := range T {
		t.Mul(&az1[i], &bz2[i])
		T[i].Add(&T[i], &t)
		t.Mul(&az2[i], &bz1[i])
		T[i].Add(&T[i], &t)
		t.Mul(&i1.U, &cz2[i])
		T[i].Sub(&T[i], &t)
		t.Mul(&i2.U, &cz1[i])
		T[i].Sub(&T[i], &t)
	}
	return T
}

// foldChallenge derives r binding the shape, both instances, and the
// cross-term commitment.
func foldChallenge(shapeDigest []byte, acc, next *Instance, commT *bn254.G1Affine) (fr.Element, error) {
	var r fr.Element
	h, err := blake2b.New256(nil)
	if err != nil {
		return r, err
	}
	fs := fiatshamir.NewTranscript(h, "rho")
	if err := fs.Bind("rho", shapeDigest); err != nil {
		return r, err
	}
	for _, in := range []*Instance{acc, next} {
		if err := bindInstance(fs, in); err != nil {
			return r, err
		}
	}
	buf := commT.RawBytes()
	if err := fs.Bind("rho", buf[:]); err != nil {
		return r, err
	}
	b, err := fs.ComputeChallenge("rho")
	if err != nil {
		return r, err
	}
	r.SetBytes(b)
	return r, nil
}

func bindInstance(fs *fiatshamir.Transcript, in *Instance) error {
	for _, p := range []*bn254.G1Affine{&in.CommW, &in.CommE} {
		buf := p.RawBytes()
		if err := fs.Bind("rho", buf[:]); err != nil {
			return err
		}
	}
	if err := fs.Bind("rho", in.U.Marshal()); err != nil {
		return err
	}
	for i := range in.X {
		if err := fs.Bind("rho", in.X[i].Marshal()); err != nil {
			return err
		}
	}
	return nil
}

func foldInstance(a, b *Instance, commT *bn254.G1Affine, r *fr.Element) Instance {
	var out Instance
	var rBig, r2Big big.Int
	r.BigInt(&rBig)
	var r2 fr.Element
	r2.Square(r)
	r2.BigInt(&r2Big)

	var t bn254.G1Affine
	t.ScalarMultiplication(&b.CommW, &rBig)
	out.CommW.Add(&a.CommW, &t)

	t.ScalarMultiplication(commT, &rBig)
	out.CommE.Add(&a.CommE, &t)
	t.ScalarMultiplication(&b.CommE, &r2Big)
	out.CommE.Add(&out.CommE, &t)

	var s fr.Element
	s.Mul(r, &b.U)
	out.U.Add(&a.U, &s)

	out.X = make([]fr.Element, len(a.X))
	for i := range out.X {
		s.Mul(r, &b.X[i])
		out.X[i].Add(&a.X[i], &s)
	}
	return out
}

func foldWitness(a, b *Witness, T []fr.Element, r *fr.Element) Witness {
	out := Witness{
		W: make([]fr.Element, len(a.W)),
		E: make([]fr.Element, len(a.E)),
	}
	var r2, t fr.Element
	r2.Square(r)
	for i := range out.W {
		t.Mul(r, &b.W[i])
		out.W[i].Add(&a.W[i], &t)
	}
	for i := range out.E {
		t.Mul(r, &T[i])
		out.E[i].Add(&a.E[i], &t)
		t.Mul(&r2, &b.E[i])
		out.E[i].Add(&out.E[i], &t)
	}
	return out
}

// FoldInstances replays the instance-side folding over a recorded
// transcript. This is the verifier's half of Fold: no witnesses, no cross
// terms, just commitments and linear combinations.
func (s *Shape) FoldInstances(steps []FoldStep) (Instance, error) {
	if len(steps) == 0 {
		return Instance{}, ErrEmptyAccumulator
	}
	strict := func(st *FoldStep) (Instance, error) {
		if len(st.X) != s.NumPublic-1 {
			return Instance{}, ErrShapeMismatch
		}
		var u fr.Element
		u.SetOne()
		return Instance{CommW: st.CommW, U: u, X: st.X}, nil
	}
	inst, err := strict(&steps[0])
	if err != nil {
		return Instance{}, err
	}
	for i := 1; i < len(steps); i++ {
		next, err := strict(&steps[i])
		if err != nil {
			return Instance{}, fmt.Errorf("step %d: %w", i, err)
		}
		r, err := foldChallenge(s.Digest(), &inst, &next, &steps[i].CommT)
		if err != nil {
			return Instance{}, err
		}
		inst = foldInstance(&inst, &next, &steps[i].CommT, &r)
	}
	return inst, nil
}

// CheckRelaxed verifies that the witness opens the instance and satisfies
// the relaxed system.
func (s *Shape) CheckRelaxed(key *CommitmentKey, inst *Instance, wit *Witness) error {
	if len(inst.X) != s.NumPublic-1 ||
		len(wit.W) != s.NumWitness ||
		len(wit.E) != s.NumConstraints {
		return ErrShapeMismatch
	}
	z := s.Z(inst.U, inst.X, wit.W)
	az, bz, cz := s.A.MulVec(z), s.B.MulVec(z), s.C.MulVec(z)
	var l, rhs fr.Element
	for i := 0; i < s.NumConstraints; i++ {
		l.Mul(&az[i], &bz[i])
		rhs.Mul(&inst.U, &cz[i])
		rhs.Add(&rhs, &wit.E[i])
		if !l.Equal(&rhs) {
			return fmt.Errorf("%w: constraint %d", ErrUnsatisfied, i)
		}
	}
	commW, err := key.Commit(wit.W)
	if err != nil {
		return err
	}
	if !commW.Equal(&inst.CommW) {
		return fmt.Errorf("%w: witness commitment", ErrUnsatisfied)
	}
	commE, err := key.Commit(wit.E)
	if err != nil {
		return err
	}
	if !commE.Equal(&inst.CommE) {
		return fmt.Errorf("%w: slack commitment", ErrUnsatisfied)
	}
	return nil
}
