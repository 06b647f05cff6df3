package nova

import (
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/constraint"
	cs "github.com/consensys/gnark/constraint/bn254"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/stretchr/testify/require"
)

// cubic is x^3 + x + 5 == y, a small shape with internal wires.
type cubic struct {
	X frontend.Variable `gnark:",public"`
	Y frontend.Variable `gnark:",public"`
}

func (c *cubic) Define(api frontend.API) error {
	x3 := api.Mul(c.X, c.X, c.X)
	api.AssertIsEqual(c.Y, api.Add(x3, c.X, 5))
	return nil
}

func compileShape(t *testing.T) (constraint.ConstraintSystem, *Shape, *CommitmentKey) {
	t.Helper()
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &cubic{})
	require.NoError(t, err)
	shape, err := FromR1CS(ccs)
	require.NoError(t, err)
	n := shape.NumWitness
	if shape.NumConstraints > n {
		n = shape.NumConstraints
	}
	key, err := NewCommitmentKey(n, shape.Digest())
	require.NoError(t, err)
	return ccs, shape, key
}

func solve(t *testing.T, ccs constraint.ConstraintSystem, x, y uint64) (pub, wit []fr.Element) {
	t.Helper()
	w, err := frontend.NewWitness(&cubic{X: x, Y: y}, ecc.BN254.ScalarField())
	require.NoError(t, err)
	sol, err := ccs.Solve(w)
	require.NoError(t, err)
	full := sol.(*cs.R1CSSolution).W
	nbPub := ccs.GetNbPublicVariables()
	pub = append([]fr.Element(nil), full[1:nbPub]...)
	wit = append([]fr.Element(nil), full[nbPub:]...)
	return pub, wit
}

func foldAll(t *testing.T, shape *Shape, key *CommitmentKey, ccs constraint.ConstraintSystem, points [][2]uint64) *Accumulator {
	t.Helper()
	acc := NewAccumulator(shape, key)
	for _, pt := range points {
		x, w := solve(t, ccs, pt[0], pt[1])
		inst, wit, err := NewInstance(shape, key, x, w)
		require.NoError(t, err)
		require.NoError(t, acc.Fold(inst, wit))
	}
	return acc
}

func TestFoldAndVerify(t *testing.T) {
	ccs, shape, key := compileShape(t)
	acc := foldAll(t, shape, key, ccs, [][2]uint64{{3, 35}, {2, 15}, {1, 7}})
	require.Equal(t, 3, acc.Count())

	proof, err := acc.Compress()
	require.NoError(t, err)
	require.NoError(t, proof.Verify(shape, key))
}

func TestSingleInstanceVerifies(t *testing.T) {
	ccs, shape, key := compileShape(t)
	acc := foldAll(t, shape, key, ccs, [][2]uint64{{3, 35}})

	proof, err := acc.Compress()
	require.NoError(t, err)
	require.NoError(t, proof.Verify(shape, key))
}

func TestEmptyAccumulatorCannotCompress(t *testing.T) {
	_, shape, key := compileShape(t)
	_, err := NewAccumulator(shape, key).Compress()
	require.ErrorIs(t, err, ErrEmptyAccumulator)
}

func TestShapeMismatchRejected(t *testing.T) {
	_, shape, key := compileShape(t)

	short := make([]fr.Element, shape.NumPublic-2)
	w := make([]fr.Element, shape.NumWitness)
	_, _, err := NewInstance(shape, key, short, w)
	require.ErrorIs(t, err, ErrShapeMismatch)

	acc := NewAccumulator(shape, key)
	err = acc.Fold(Instance{X: make([]fr.Element, shape.NumPublic-1)}, Witness{
		W: make([]fr.Element, shape.NumWitness),
		E: nil, // wrong slack length
	})
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestTamperedWitnessRejected(t *testing.T) {
	ccs, shape, key := compileShape(t)
	acc := foldAll(t, shape, key, ccs, [][2]uint64{{3, 35}, {2, 15}})

	proof, err := acc.Compress()
	require.NoError(t, err)

	var one fr.Element
	one.SetOne()
	proof.W[0].Add(&proof.W[0], &one)
	require.ErrorIs(t, proof.Verify(shape, key), ErrUnsatisfied)
}

func TestTamperedTranscriptRejected(t *testing.T) {
	ccs, shape, key := compileShape(t)
	acc := foldAll(t, shape, key, ccs, [][2]uint64{{3, 35}, {2, 15}})

	proof, err := acc.Compress()
	require.NoError(t, err)

	// claiming different public inputs changes the replayed challenges,
	// so the carried witness no longer opens the folded instance
	var one fr.Element
	one.SetOne()
	proof.Steps[1].X[0].Add(&proof.Steps[1].X[0], &one)
	require.Error(t, proof.Verify(shape, key))
}

func TestProofRoundTrip(t *testing.T) {
	ccs, shape, key := compileShape(t)
	acc := foldAll(t, shape, key, ccs, [][2]uint64{{3, 35}, {2, 15}})

	proof, err := acc.Compress()
	require.NoError(t, err)
	raw, err := proof.MarshalBinary()
	require.NoError(t, err)

	var back Proof
	require.NoError(t, back.UnmarshalBinary(raw))
	require.NoError(t, back.Verify(shape, key))
}

func TestCorruptedProofBytesRejected(t *testing.T) {
	ccs, shape, key := compileShape(t)
	acc := foldAll(t, shape, key, ccs, [][2]uint64{{3, 35}, {2, 15}})

	proof, err := acc.Compress()
	require.NoError(t, err)
	raw, err := proof.MarshalBinary()
	require.NoError(t, err)

	for _, i := range []int{len(raw) / 3, len(raw) / 2, len(raw) - 1} {
		corrupted := append([]byte(nil), raw...)
		corrupted[i] ^= 0x40

		var back Proof
		if err := back.UnmarshalBinary(corrupted); err == nil {
			require.Error(t, back.Verify(shape, key),
				"corruption at byte %d must not verify", i)
		}
	}
}

func TestShapeDigestDeterministic(t *testing.T) {
	_, s1, _ := compileShape(t)
	_, s2, _ := compileShape(t)
	require.Equal(t, s1.Digest(), s2.Digest(),
		"identical circuits compile to identical shape digests")
}
